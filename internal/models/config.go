package models

import "time"

// Ledger backends selectable through LEDGER_BACKEND
const (
	LedgerBackendSQLite   = "sqlite"
	LedgerBackendFormance = "formance"
)

// Config represents the application configuration
type Config struct {
	LedgerBackend string
	Database      DatabaseConfig
	Formance      FormanceConfig
	Prime         PrimeConfig
	Quotes        QuotesConfig
	Listener      ListenerConfig
	MetricsAddr   string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
	PortfolioID  string
}

// PrimeConfig holds Coinbase Prime API credentials. An empty access key
// disables custodial withdrawals.
type PrimeConfig struct {
	AccessKey   string
	Passphrase  string
	SigningKey  string
	PortfolioID string
}

// Enabled reports whether any Prime credential was supplied.
func (c PrimeConfig) Enabled() bool {
	return c.AccessKey != "" || c.Passphrase != "" || c.SigningKey != ""
}

// QuotesConfig holds fee schedule and quote cache settings
type QuotesConfig struct {
	FeesFile  string
	CacheTTL  time.Duration
	RedisAddr string
}

// ListenerConfig holds withdrawal settlement listener settings
type ListenerConfig struct {
	LookbackWindow  time.Duration
	PollingInterval time.Duration
	CleanupInterval time.Duration
}
