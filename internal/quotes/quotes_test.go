package quotes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/money"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchedule = `
fiat: USD
tier: silver
assets:
  - symbol: BTC
    network: bitcoin
    fees:
      regular: "0.0001"
      priority: "0.0003"
      processing: "0.00005"
    challenge_above: "0.5"
    limits:
      bronze:
        minimum: "0.0001"
        maximum: "0.1"
      silver:
        minimum: "0.0001"
        maximum: "1"
        daily: "2"
        annual: "50"
      gold:
        minimum: "0.0001"
        maximum: "10"
        daily: "20"
        annual: "500"
  - symbol: USDC
    network: ethereum
    fee_currency: ETH
    fees:
      regular: "0.002"
  - symbol: USD
    fees:
      processing: "5"
    limits:
      silver:
        minimum: "10"
        maximum: "5000"
`

func newTestService(t *testing.T) *StaticService {
	t.Helper()
	schedule, err := ParseSchedule([]byte(testSchedule))
	require.NoError(t, err)
	svc, err := NewStaticService(schedule)
	require.NoError(t, err)
	return svc
}

func TestLoadSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchedule), 0o600))

	schedule, err := LoadSchedule(path)
	require.NoError(t, err)
	assert.Len(t, schedule.Assets, 3)

	_, err = LoadSchedule(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseSchedule_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing symbol", "assets:\n  - network: bitcoin\n"},
		{"missing network", "assets:\n  - symbol: BTC\n"},
		{"bad tier", "tier: platinum\n"},
		{"negative fee", "assets:\n  - symbol: BTC\n    network: bitcoin\n    fees:\n      regular: \"-1\"\n"},
		{"minimum above maximum", "assets:\n  - symbol: BTC\n    network: bitcoin\n    limits:\n      gold:\n        minimum: \"2\"\n        maximum: \"1\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedule([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestStaticService_FeeSchedule(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	fees, err := svc.FeeSchedule(ctx, money.BTC, engine.ActionSend)
	require.NoError(t, err)
	assert.True(t, fees.Regular.Equal(money.MustParse("0.0001", money.BTC)))
	assert.True(t, fees.Priority.Equal(money.MustParse("0.0003", money.BTC)))
	assert.True(t, fees.Processing.Equal(money.MustParse("0.00005", money.BTC)))

	token, err := svc.FeeSchedule(ctx, money.USDC, engine.ActionSend)
	require.NoError(t, err)
	assert.Equal(t, money.ETH, token.Currency)
	assert.True(t, token.Priority.Equal(token.Regular), "priority defaults to regular")

	interest, err := svc.FeeSchedule(ctx, money.BTC, engine.ActionInterestTransfer)
	require.NoError(t, err)
	assert.True(t, interest.Regular.IsZero())
	assert.True(t, interest.Processing.IsZero())

	_, err = svc.FeeSchedule(ctx, money.SOL, engine.ActionSend)
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestStaticService_TransactionLimits(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	limits, err := svc.TransactionLimits(ctx, engine.LimitsRequest{Currency: money.BTC, Action: engine.ActionSend})
	require.NoError(t, err)
	assert.True(t, limits.Maximum.Equal(money.MustParse("1", money.BTC)))
	assert.Equal(t, money.TimeframeDaily, limits.EffectiveLimit.Timeframe)
	assert.True(t, limits.EffectiveLimit.Value.Equal(money.MustParse("2", money.BTC)))
	require.NotNil(t, limits.SuggestedUpgrade)
	assert.Equal(t, money.TierGold, limits.SuggestedUpgrade.RequiredTier)

	fiat, err := svc.TransactionLimits(ctx, engine.LimitsRequest{Currency: money.USD, Action: engine.ActionWithdraw})
	require.NoError(t, err)
	assert.Equal(t, money.TimeframeSingle, fiat.EffectiveLimit.Timeframe)
	assert.Nil(t, fiat.SuggestedUpgrade)

	_, err = svc.TransactionLimits(ctx, engine.LimitsRequest{Currency: money.USDC})
	assert.ErrorIs(t, err, ErrNoLimits)

	tier, err := svc.UserTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, money.TierSilver, tier)
}

func TestStaticService_RequiresChallenge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	below, err := svc.RequiresChallenge(ctx, money.MustParse("0.4", money.BTC))
	require.NoError(t, err)
	assert.False(t, below)

	at, err := svc.RequiresChallenge(ctx, money.MustParse("0.5", money.BTC))
	require.NoError(t, err)
	assert.True(t, at)

	none, err := svc.RequiresChallenge(ctx, money.MustParse("100", money.USDC))
	require.NoError(t, err)
	assert.False(t, none)
}

func TestStaticService_FiatAndNetwork(t *testing.T) {
	svc := newTestService(t)

	fiat, err := svc.FiatCurrency(context.Background())
	require.NoError(t, err)
	assert.Equal(t, money.USD, fiat)

	network, ok := svc.Network(money.BTC)
	assert.True(t, ok)
	assert.Equal(t, "bitcoin", network)

	assert.Equal(t, []money.Currency{money.BTC, money.USDC, money.USD}, svc.Assets())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisFeeSource_OverridesPublishedFields(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.HSet(FeeKey(money.BTC), "regular", "0.0002", "priority", "0.0009")

	src := NewRedisFeeSource(client, newTestService(t))
	fees, err := src.FeeSchedule(context.Background(), money.BTC, engine.ActionSend)
	require.NoError(t, err)

	assert.True(t, fees.Regular.Equal(money.MustParse("0.0002", money.BTC)))
	assert.True(t, fees.Priority.Equal(money.MustParse("0.0009", money.BTC)))
	assert.True(t, fees.Processing.Equal(money.MustParse("0.00005", money.BTC)), "unpublished field keeps schedule value")
}

func TestRedisFeeSource_FallsBackWhenNothingPublished(t *testing.T) {
	_, client := newTestRedis(t)

	src := NewRedisFeeSource(client, newTestService(t))
	fees, err := src.FeeSchedule(context.Background(), money.BTC, engine.ActionSend)
	require.NoError(t, err)
	assert.True(t, fees.Regular.Equal(money.MustParse("0.0001", money.BTC)))
}

func TestRedisFeeSource_PriorityNeverBelowRegular(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.HSet(FeeKey(money.BTC), "regular", "0.001")

	src := NewRedisFeeSource(client, newTestService(t))
	fees, err := src.FeeSchedule(context.Background(), money.BTC, engine.ActionSend)
	require.NoError(t, err)
	assert.True(t, fees.Priority.Equal(fees.Regular))
}

func TestRedisFeeSource_Errors(t *testing.T) {
	mr, client := newTestRedis(t)
	src := NewRedisFeeSource(client, newTestService(t))

	mr.HSet(FeeKey(money.BTC), "regular", "cheap")
	_, err := src.FeeSchedule(context.Background(), money.BTC, engine.ActionSend)
	assert.Error(t, err)

	mr.Close()
	_, err = src.FeeSchedule(context.Background(), money.BTC, engine.ActionSend)
	assert.Error(t, err)
}
