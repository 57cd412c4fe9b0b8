package transaction

import (
	"testing"

	"prime-transaction-pipeline-go/internal/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btc(v string) money.Money { return money.MustParse(v, money.BTC) }

func newBTCPending(t *testing.T, available, fee string) PendingTransaction {
	t.Helper()
	sel, err := NewFeeSelection([]FeeLevel{FeeLevelRegular, FeeLevelPriority, FeeLevelCustom}, FeeLevelRegular, nil)
	require.NoError(t, err)
	return New(btc(available), btc(fee), btc(fee), sel, money.USD)
}

func btcLimits(min, max string) money.TransactionLimits {
	return money.TransactionLimits{
		Currency:       money.BTC,
		Minimum:        btc(min),
		Maximum:        btc(max),
		MaximumDaily:   btc("10"),
		MaximumAnnual:  btc("100"),
		EffectiveLimit: money.EffectiveLimit{Timeframe: money.TimeframeDaily, Value: btc("10")},
	}
}

func TestNew_StartsAtZero(t *testing.T) {
	p := newBTCPending(t, "1.0", "0.0001")
	assert.True(t, p.Amount.IsZero())
	assert.Equal(t, money.BTC, p.Amount.Currency())
	assert.Equal(t, ValidationUninitialized, p.Validation.Status)
	assert.Empty(t, p.Confirmations())
}

func TestMaxSpendable_SubtractsFee(t *testing.T) {
	p := newBTCPending(t, "1.0", "0.0001").WithLimits(btcLimits("0.001", "2.0"))
	assert.True(t, p.MaxSpendable().Equal(btc("0.9999")), "got %s", p.MaxSpendable())
}

func TestMaxSpendable_LimitBelowAvailable(t *testing.T) {
	p := newBTCPending(t, "5.0", "0.0001").WithLimits(btcLimits("0.001", "2.0"))
	assert.True(t, p.MaxSpendable().Equal(btc("1.9999")), "got %s", p.MaxSpendable())
	assert.True(t, p.MaxSpendableDaily().Equal(btc("4.9999")), "got %s", p.MaxSpendableDaily())
	assert.True(t, p.MaxSpendableAnnually().Equal(btc("4.9999")), "got %s", p.MaxSpendableAnnually())
}

func TestMaxSpendable_Clamping(t *testing.T) {
	amounts := []struct {
		available string
		fee       string
	}{
		{"0", "0"},
		{"0.00005", "0.0001"},
		{"0.0001", "0.0001"},
		{"1", "0.5"},
		{"3", "0"},
	}
	for _, tt := range amounts {
		p := newBTCPending(t, tt.available, tt.fee).WithLimits(btcLimits("0", "2"))
		max := p.MaxSpendable()
		assert.False(t, max.IsNegative(), "available=%s fee=%s", tt.available, tt.fee)
		assert.False(t, max.GreaterThan(p.Available), "available=%s fee=%s", tt.available, tt.fee)
	}
}

func TestMaxSpendable_FeeInOtherCurrency(t *testing.T) {
	sel := SingleFeeLevel(FeeLevelRegular)
	usdc := money.MustParse("100", money.USDC)
	p := New(usdc, money.MustParse("0.001", money.ETH), money.MustParse("0.001", money.ETH), sel, money.USD)

	assert.True(t, p.MaxSpendable().Equal(usdc))
	assert.False(t, p.FeeInAmountCurrency())
	assert.True(t, p.AmountWithFee().IsZero())
}

func TestMinSpendable(t *testing.T) {
	p := newBTCPending(t, "1.0", "0.0001").WithLimits(btcLimits("0.001", "2.0"))
	assert.True(t, p.MinSpendable().Equal(btc("0.001")))

	noLimits := newBTCPending(t, "1.0", "0.0001")
	assert.True(t, noLimits.MinSpendable().IsZero())
}

func TestInsertConfirmation_ReplacesInPlace(t *testing.T) {
	p := newBTCPending(t, "1.0", "0.0001")
	p = p.InsertConfirmation(TextLine(ConfirmSource, "From", "Wallet"))
	p = p.InsertConfirmation(AmountLine(ConfirmNetworkFee, "Fee", btc("0.0001")))
	p = p.InsertConfirmation(TextLine(ConfirmDestination, "To", "bc1q..."))
	p = p.InsertConfirmation(AmountLine(ConfirmNetworkFee, "Fee", btc("0.0002")))

	list := p.Confirmations()
	require.Len(t, list, 3)
	assert.Equal(t, ConfirmNetworkFee, list[1].Kind)
	assert.True(t, list[1].Amount.Equal(btc("0.0002")))
}

func TestWithConfirmations_NoDuplicateKinds(t *testing.T) {
	p := newBTCPending(t, "1.0", "0.0001").WithConfirmations([]Confirmation{
		TextLine(ConfirmSource, "From", "a"),
		TextLine(ConfirmSource, "From", "b"),
		TextLine(ConfirmTotal, "Total", "c"),
	})

	seen := map[ConfirmationKind]bool{}
	for _, c := range p.Confirmations() {
		assert.False(t, seen[c.Kind], "duplicate %s", c.Kind)
		seen[c.Kind] = true
	}
	source, ok := p.Confirmation(ConfirmSource)
	require.True(t, ok)
	assert.Equal(t, "b", source.Value)
}

func TestWithConfirmations_Idempotent(t *testing.T) {
	list := []Confirmation{
		TextLine(ConfirmSource, "From", "Wallet"),
		AmountLine(ConfirmTotal, "Total", btc("0.5001")),
	}
	p := newBTCPending(t, "1.0", "0.0001")
	once := p.WithConfirmations(list)
	twice := once.WithConfirmations(list)
	assert.Equal(t, once, twice)
}

func TestCopyOnWrite_NoAliasing(t *testing.T) {
	base := newBTCPending(t, "1.0", "0.0001").InsertConfirmation(TextLine(ConfirmSource, "From", "a"))
	derived := base.InsertConfirmation(TextLine(ConfirmSource, "From", "b"))
	_ = base.InsertConfirmation(TextLine(ConfirmTotal, "Total", "x"))

	orig, _ := base.Confirmation(ConfirmSource)
	assert.Equal(t, "a", orig.Value)
	assert.Len(t, base.Confirmations(), 1)
	changed, _ := derived.Confirmation(ConfirmSource)
	assert.Equal(t, "b", changed.Value)

	list := derived.Confirmations()
	list[0].Value = "mutated"
	again, _ := derived.Confirmation(ConfirmSource)
	assert.Equal(t, "b", again.Value)

	updated := base.WithAmount(btc("0.3"))
	assert.True(t, base.Amount.IsZero())
	assert.True(t, updated.Amount.Amount().Equal(decimal.RequireFromString("0.3")))
}

func TestAcknowledgements(t *testing.T) {
	p := newBTCPending(t, "1.0", "0.0001").
		InsertConfirmation(AckLine(ConfirmTermsOfService, "Terms", "I agree")).
		InsertConfirmation(TextLine(ConfirmSource, "From", "a"))

	assert.Equal(t, []ConfirmationKind{ConfirmTermsOfService}, p.PendingAcknowledgements())
	p = p.AcknowledgeConfirmation(ConfirmTermsOfService)
	assert.Empty(t, p.PendingAcknowledgements())
}

func TestRemoveConfirmation(t *testing.T) {
	p := newBTCPending(t, "1.0", "0.0001").
		InsertConfirmation(TextLine(ConfirmSource, "From", "a")).
		InsertConfirmation(TextLine(ConfirmMemo, "Memo", "m"))
	p = p.RemoveConfirmation(ConfirmMemo)
	_, ok := p.Confirmation(ConfirmMemo)
	assert.False(t, ok)
	assert.Len(t, p.Confirmations(), 1)
}
