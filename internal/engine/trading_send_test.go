package engine

import (
	"context"
	"errors"
	"testing"

	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/store"
	"prime-transaction-pipeline-go/internal/transaction"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tradingFixture struct {
	ledger *memLedger
	venue  *fakeVenue
	engine Engine
}

type thresholdPolicy struct{ above money.Money }

func (p thresholdPolicy) RequiresChallenge(_ context.Context, amount money.Money) (bool, error) {
	return amount.GreaterThan(p.above), nil
}

func newTradingFixture(t *testing.T, balance string, challenges ChallengePolicy) *tradingFixture {
	t.Helper()
	f := &tradingFixture{ledger: newMemLedger(), venue: &fakeVenue{}}
	require.NoError(t, f.ledger.Credit(context.Background(), store.CreditParams{
		AccountId: "user-1", Asset: "BTC", Amount: decimal.RequireFromString(balance), Reference: "seed",
	}))

	account := &fakeAccount{id: "user-1", kind: AccountTrading, currency: money.BTC, balance: btc(balance), actions: []Action{ActionSend}}
	e, err := Resolve(Binding{
		Source: account,
		Action: ActionSend,
		Target: AddressTarget{Address: "bc1qdest", Asset: money.BTC, Network: "bitcoin-mainnet"},
	}, Deps{
		Fees:       &fakeFees{schedule: btcSchedule()},
		Limits:     &fakeLimits{limits: btcLimits("0.001", "2.0"), tier: money.TierGold},
		Venue:      f.venue,
		Ledger:     f.ledger,
		Challenges: challenges,
	})
	require.NoError(t, err)
	require.IsType(t, &TradingSendEngine{}, e)
	f.engine = e
	return f
}

func (f *tradingFixture) confirmed(t *testing.T, amount string) transaction.PendingTransaction {
	t.Helper()
	ctx := context.Background()
	ptx, err := f.engine.InitializeTransaction(ctx)
	require.NoError(t, err)
	ptx, err = f.engine.Update(ctx, btc(amount), ptx)
	require.NoError(t, err)
	ptx, err = f.engine.DoBuildConfirmations(ctx, ptx)
	require.NoError(t, err)
	ptx, err = f.engine.DoValidateAll(ctx, ptx)
	require.NoError(t, err)
	require.True(t, ptx.Validation.IsValid(), "got %s", ptx.Validation)
	return ptx
}

func TestTradingSend_SingleFeeLevel(t *testing.T) {
	f := newTradingFixture(t, "1.0", nil)
	ptx, err := f.engine.InitializeTransaction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []transaction.FeeLevel{transaction.FeeLevelRegular}, ptx.FeeSelection().Available())

	_, err = f.engine.DoUpdateFeeLevel(context.Background(), ptx, transaction.FeeLevelPriority, nil)
	assert.Error(t, err)
}

func TestTradingSend_ExecuteReservesAndSubmits(t *testing.T) {
	ctx := context.Background()
	f := newTradingFixture(t, "1.0", nil)
	ptx := f.confirmed(t, "0.5")

	result, err := f.engine.Execute(ctx, ptx, "")
	require.NoError(t, err)
	assert.Equal(t, ResultUnhashed, result.Kind)

	require.Len(t, f.venue.submitted, 1)
	req := f.venue.submitted[0]
	assert.True(t, req.Amount.Equal(btc("0.5")))
	assert.Equal(t, "bitcoin-mainnet", req.Network)
	assert.Equal(t, "activity-"+req.IdempotencyKey, result.Reference)

	bal, err := f.ledger.GetUserBalance(ctx, "user-1", "BTC")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("0.4999")), "got %s", bal)
}

func TestTradingSend_VenueFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newTradingFixture(t, "1.0", nil)
	f.venue.err = errors.New("prime: 503")
	ptx := f.confirmed(t, "0.5")

	_, err := f.engine.Execute(ctx, ptx, "")
	var se *SettlementError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, se.Failure)

	require.Len(t, f.ledger.reverted, 1)
	require.Len(t, f.ledger.reversed, 1)
	bal, err := f.ledger.GetUserBalance(ctx, "user-1", "BTC")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1.0")), "got %s", bal)
}

func TestTradingSend_SameSnapshotSettlesOnce(t *testing.T) {
	ctx := context.Background()
	f := newTradingFixture(t, "1.0", nil)
	ptx := f.confirmed(t, "0.1")

	_, err := f.engine.Execute(ctx, ptx, "")
	require.NoError(t, err)

	_, err = f.engine.Execute(ctx, ptx, "")
	var se *SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, transaction.FailureTransactionInFlight, se.Failure)
	assert.Len(t, f.venue.submitted, 1)
}

func TestTradingSend_SecurityChallenge(t *testing.T) {
	ctx := context.Background()
	f := newTradingFixture(t, "1.0", thresholdPolicy{above: btc("0.25")})

	ptx, err := f.engine.InitializeTransaction(ctx)
	require.NoError(t, err)
	ptx, err = f.engine.Update(ctx, btc("0.5"), ptx)
	require.NoError(t, err)

	_, err = f.engine.DoValidateAll(ctx, ptx)
	var step *ExternalStepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, StepSecurityChallenge, step.Step)

	completer, ok := f.engine.(StepCompleter)
	require.True(t, ok)
	ptx, err = completer.CompleteExternalStep(ctx, ptx, StepSecurityChallenge)
	require.NoError(t, err)

	ptx, err = f.engine.DoValidateAll(ctx, ptx)
	require.NoError(t, err)
	assert.True(t, ptx.Validation.IsValid())
}

func TestTradingSend_TokenFeeChargedInAsset(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	require.NoError(t, ledger.Credit(ctx, store.CreditParams{
		AccountId: "user-2", Asset: "USDC", Amount: decimal.RequireFromString("100"), Reference: "seed",
	}))
	usdc := func(v string) money.Money { return money.MustParse(v, money.USDC) }

	venue := &fakeVenue{}
	e, err := Resolve(Binding{
		Source: &fakeAccount{id: "user-2", kind: AccountTrading, currency: money.USDC, balance: usdc("100"), actions: []Action{ActionSend}},
		Action: ActionSend,
		Target: AddressTarget{Address: "0xdest", Asset: money.USDC, Network: "ethereum-mainnet"},
	}, Deps{
		Fees: &fakeFees{schedule: FeeSchedule{
			Currency:   money.ETH,
			Regular:    money.MustParse("0.002", money.ETH),
			Priority:   money.MustParse("0.004", money.ETH),
			Processing: usdc("1"),
		}},
		Venue:  venue,
		Ledger: ledger,
	})
	require.NoError(t, err)

	ptx, err := e.InitializeTransaction(ctx)
	require.NoError(t, err)
	ptx, err = e.Update(ctx, usdc("99.5"), ptx)
	require.NoError(t, err)
	assert.True(t, ptx.FeeAmount.Equal(usdc("1")), "got %s", ptx.FeeAmount)
	ptx, err = e.ValidateAmount(ctx, ptx)
	require.NoError(t, err)
	require.Equal(t, transaction.ValidationInvalid, ptx.Validation.Status)
	assert.Equal(t, transaction.FailureInsufficientFunds, ptx.Validation.Failure.Code)

	ptx, err = e.Update(ctx, usdc("50"), ptx)
	require.NoError(t, err)
	ptx, err = e.DoBuildConfirmations(ctx, ptx)
	require.NoError(t, err)
	ptx, err = e.DoValidateAll(ctx, ptx)
	require.NoError(t, err)
	require.True(t, ptx.Validation.IsValid(), "got %s", ptx.Validation)

	_, err = e.Execute(ctx, ptx, "")
	require.NoError(t, err)
	require.Len(t, venue.submitted, 1)
	assert.True(t, venue.submitted[0].Amount.Equal(usdc("50")))

	bal, err := ledger.GetUserBalance(ctx, "user-2", "USDC")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("49")), "got %s", bal)
}

func TestTradingSend_MemoRejectedBeforeReserve(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	require.NoError(t, ledger.Credit(ctx, store.CreditParams{
		AccountId: "user-1", Asset: "BTC", Amount: decimal.RequireFromString("1.0"), Reference: "seed",
	}))
	venue := &fakeVenue{}
	e, err := Resolve(Binding{
		Source: &fakeAccount{id: "user-1", kind: AccountTrading, currency: money.BTC, balance: btc("1.0"), actions: []Action{ActionSend}},
		Action: ActionSend,
		Target: AddressTarget{Address: "bc1qdest", Asset: money.BTC, Network: "bitcoin-mainnet", Memo: "1234"},
	}, Deps{Fees: &fakeFees{schedule: btcSchedule()}, Venue: venue, Ledger: ledger})
	require.NoError(t, err)

	ptx, err := e.InitializeTransaction(ctx)
	require.NoError(t, err)
	ptx, err = e.Update(ctx, btc("0.5"), ptx)
	require.NoError(t, err)
	ptx, err = e.DoValidateAll(ctx, ptx)
	require.NoError(t, err)
	require.Equal(t, transaction.ValidationInvalid, ptx.Validation.Status)
	assert.Equal(t, transaction.FailureInvalidAddress, ptx.Validation.Failure.Code)

	assert.Empty(t, venue.submitted)
	bal, err := ledger.GetUserBalance(ctx, "user-1", "BTC")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1.0")), "got %s", bal)
}
