package config

import (
	"testing"
	"time"

	"prime-transaction-pipeline-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"LEDGER_BACKEND", "DATABASE_PATH", "QUOTE_CACHE_TTL", "FEES_FILE", "REDIS_ADDR", "PRIME_ACCESS_KEY", "PRIME_PASSPHRASE", "PRIME_SIGNING_KEY", "DB_MAX_OPEN_CONNS", "LISTENER_POLLING_INTERVAL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, models.LedgerBackendSQLite, cfg.LedgerBackend)
	assert.Equal(t, "ledger.db", cfg.Database.Path)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 20*time.Second, cfg.Quotes.CacheTTL)
	assert.Equal(t, "fees.yaml", cfg.Quotes.FeesFile)
	assert.Empty(t, cfg.Quotes.RedisAddr)
	assert.False(t, cfg.Prime.Enabled())
	assert.Equal(t, 30*time.Second, cfg.Listener.PollingInterval)
	assert.Equal(t, 6*time.Hour, cfg.Listener.LookbackWindow)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "Formance")
	t.Setenv("QUOTE_CACHE_TTL", "45s")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")
	t.Setenv("PRIME_PORTFOLIO_ID", "portfolio-1")
	t.Setenv("PRIME_ACCESS_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, models.LedgerBackendFormance, cfg.LedgerBackend)
	assert.Equal(t, 45*time.Second, cfg.Quotes.CacheTTL)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns, "unparseable ints fall back to the default")
	assert.Equal(t, "portfolio-1", cfg.Formance.PortfolioID)
	assert.Equal(t, "portfolio-1", cfg.Prime.PortfolioID)
	assert.True(t, cfg.Prime.Enabled())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "postgres")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("QUOTE_CACHE_TTL", "soon")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("QUOTE_CACHE_TTL", "")
	t.Setenv("LISTENER_LOOKBACK_WINDOW", "a while")
	_, err = Load()
	assert.Error(t, err)
}
