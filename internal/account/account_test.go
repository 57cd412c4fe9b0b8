package account

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"prime-transaction-pipeline-go/internal/database"
	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *database.Service {
	t.Helper()
	svc, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 1,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func credit(t *testing.T, ledger store.LedgerStore, accountId, asset, amount, ref string) {
	t.Helper()
	require.NoError(t, ledger.Credit(context.Background(), store.CreditParams{
		AccountId: accountId,
		Asset:     asset,
		Amount:    decimal.RequireFromString(amount),
		Reference: ref,
	}))
}

func TestTradingAccount(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	credit(t, ledger, "alice", "BTC", "0.5", "seed-1")

	acct := NewTradingAccount(ledger, "alice", money.BTC)
	assert.Equal(t, "alice", acct.ID())
	assert.Equal(t, engine.AccountTrading, acct.Kind())
	assert.True(t, acct.Can(engine.ActionSend))
	assert.True(t, acct.Can(engine.ActionInterestTransfer))
	assert.False(t, acct.Can(engine.ActionWithdraw))

	balance, err := acct.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(money.MustParse("0.5", money.BTC)))

	actionable, err := acct.ActionableBalance(ctx)
	require.NoError(t, err)
	assert.True(t, actionable.Equal(balance))

	_, err = acct.ReceiveAddress(ctx)
	assert.ErrorIs(t, err, ErrNoReceiveAddress)

	addr, err := acct.WithReceiveAddress("bc1qalice").ReceiveAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bc1qalice", addr)
}

func TestTradingAccount_ReservationReducesBalance(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	credit(t, ledger, "alice", "BTC", "1", "seed-1")

	require.NoError(t, ledger.ReserveWithdrawal(ctx, store.ReserveParams{
		AccountId: "alice",
		Asset:     "BTC",
		Amount:    decimal.RequireFromString("0.25"),
		Reference: "withdrawal-1",
	}))

	actionable, err := NewTradingAccount(ledger, "alice", money.BTC).ActionableBalance(ctx)
	require.NoError(t, err)
	assert.True(t, actionable.Equal(money.MustParse("0.75", money.BTC)))
}

func TestInterestAccount_PendingCredits(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	credit(t, ledger, "alice", "BTC", "1", "seed-1")

	interest := NewInterestAccount(ledger, "alice", money.BTC)
	assert.Equal(t, store.InterestAccountId("alice"), interest.ID())
	assert.True(t, interest.Can(engine.ActionInterestWithdraw))
	assert.False(t, interest.Can(engine.ActionSend))

	require.NoError(t, ledger.Transfer(ctx, store.TransferParams{
		FromAccount: "alice",
		ToAccount:   interest.ID(),
		Asset:       "BTC",
		Amount:      decimal.RequireFromString("0.25"),
		Reference:   "deposit-1",
	}))
	require.NoError(t, interest.OnPendingCredit(ctx, money.MustParse("0.25", money.BTC), "deposit-1"))

	balance, err := interest.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(money.MustParse("0.25", money.BTC)))

	actionable, err := interest.ActionableBalance(ctx)
	require.NoError(t, err)
	assert.True(t, actionable.IsZero(), "pending credit is not yet withdrawable")

	interest.Settle("deposit-1")
	actionable, err = interest.ActionableBalance(ctx)
	require.NoError(t, err)
	assert.True(t, actionable.Equal(balance))

	err = interest.OnPendingCredit(ctx, money.MustParse("1", money.ETH), "wrong-asset")
	assert.Error(t, err)
}

func TestFiatAccount(t *testing.T) {
	ledger := newTestLedger(t)
	credit(t, ledger, "alice", "USD", "250", "seed-usd")

	acct, err := NewFiatAccount(ledger, "alice", money.USD)
	require.NoError(t, err)
	assert.Equal(t, engine.AccountFiat, acct.Kind())
	assert.True(t, acct.Can(engine.ActionWithdraw))

	balance, err := acct.Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Equal(money.MustParse("250", money.USD)))

	_, err = NewFiatAccount(ledger, "alice", money.BTC)
	assert.Error(t, err)
}

func TestInterestTransferEngineBinding(t *testing.T) {
	ledger := newTestLedger(t)
	trading := NewTradingAccount(ledger, "alice", money.BTC)
	interest := NewInterestAccount(ledger, "alice", money.BTC)

	e, err := engine.Resolve(engine.Binding{
		Source: trading,
		Action: engine.ActionInterestTransfer,
		Target: engine.AccountTarget{Account: interest},
	}, engine.Deps{Ledger: ledger})
	require.NoError(t, err)
	assert.NotNil(t, e)

	_, err = engine.Resolve(engine.Binding{
		Source: interest,
		Action: engine.ActionSend,
		Target: engine.AddressTarget{Address: "bc1q", Asset: money.BTC},
	}, engine.Deps{Ledger: ledger})
	assert.ErrorIs(t, err, engine.ErrUnsupportedBinding)
}

func TestInterestTransferEngine_ExecutesAgainstLedger(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	credit(t, ledger, "alice", "BTC", "1", "seed-1")

	trading := NewTradingAccount(ledger, "alice", money.BTC)
	interest := NewInterestAccount(ledger, "alice", money.BTC)

	e, err := engine.Resolve(engine.Binding{
		Source: trading,
		Action: engine.ActionInterestTransfer,
		Target: engine.AccountTarget{Account: interest},
	}, engine.Deps{Ledger: ledger})
	require.NoError(t, err)

	ptx, err := e.InitializeTransaction(ctx)
	require.NoError(t, err)
	assert.True(t, ptx.Available.Equal(money.MustParse("1", money.BTC)))

	ptx, err = e.Update(ctx, money.MustParse("0.25", money.BTC), ptx)
	require.NoError(t, err)
	ptx, err = e.DoBuildConfirmations(ctx, ptx)
	require.NoError(t, err)
	ptx, err = e.DoValidateAll(ctx, ptx)
	require.NoError(t, err)
	require.True(t, ptx.Validation.IsValid())

	_, err = e.Execute(ctx, ptx, "")
	assert.ErrorIs(t, err, engine.ErrNotConfirmed, "terms must be accepted first")

	for _, kind := range ptx.PendingAcknowledgements() {
		ptx = ptx.AcknowledgeConfirmation(kind)
	}
	result, err := e.Execute(ctx, ptx, "")
	require.NoError(t, err)
	require.NoError(t, e.DoPostExecute(ctx, result))

	tradingBalance, err := trading.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, tradingBalance.Equal(money.MustParse("0.75", money.BTC)))

	assert.True(t, interest.PendingCredits().Equal(money.MustParse("0.25", money.BTC)))

	_, err = e.Execute(ctx, ptx, "")
	var se *engine.SettlementError
	require.ErrorAs(t, err, &se, "replaying the same snapshot reuses its reference")
}
