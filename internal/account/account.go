// Package account binds custodial accounts held in a ledger store to the
// capability set transaction engines work with.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/store"

	"go.uber.org/zap"
)

var ErrNoReceiveAddress = errors.New("account has no receive address")

// ledgerAccount is the part every custodial account shares: its balance is
// the ledger balance of one account id in one asset.
type ledgerAccount struct {
	ledger   store.LedgerStore
	id       string
	label    string
	kind     engine.AccountKind
	currency money.Currency
	actions  []engine.Action
}

func (a *ledgerAccount) ID() string               { return a.id }
func (a *ledgerAccount) Label() string            { return a.label }
func (a *ledgerAccount) Kind() engine.AccountKind { return a.kind }
func (a *ledgerAccount) Currency() money.Currency { return a.currency }

func (a *ledgerAccount) ReceiveAddress(context.Context) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrNoReceiveAddress, a.id)
}

func (a *ledgerAccount) Balance(ctx context.Context) (money.Money, error) {
	balance, err := a.ledger.GetUserBalance(ctx, a.id, a.currency.Code)
	if err != nil {
		return money.Money{}, fmt.Errorf("failed to read balance of %s: %w", a.id, err)
	}
	return money.New(balance, a.currency), nil
}

// ActionableBalance is the full ledger balance: withdrawals are reserved by
// debiting the account, so nothing in flight is still counted.
func (a *ledgerAccount) ActionableBalance(ctx context.Context) (money.Money, error) {
	return a.Balance(ctx)
}

func (a *ledgerAccount) Can(action engine.Action) bool {
	for _, x := range a.actions {
		if x == action {
			return true
		}
	}
	return false
}

// TradingAccount is a user's custodial trading balance for one crypto asset.
type TradingAccount struct {
	ledgerAccount
	address string
}

var _ engine.Account = (*TradingAccount)(nil)

func NewTradingAccount(ledger store.LedgerStore, userId string, currency money.Currency) *TradingAccount {
	return &TradingAccount{ledgerAccount: ledgerAccount{
		ledger:   ledger,
		id:       userId,
		label:    currency.Code + " Trading Account",
		kind:     engine.AccountTrading,
		currency: currency,
		actions:  []engine.Action{engine.ActionSend, engine.ActionInterestTransfer},
	}}
}

// WithReceiveAddress sets the deposit address shown for the account.
func (a *TradingAccount) WithReceiveAddress(address string) *TradingAccount {
	a.address = address
	return a
}

func (a *TradingAccount) ReceiveAddress(ctx context.Context) (string, error) {
	if a.address == "" {
		return a.ledgerAccount.ReceiveAddress(ctx)
	}
	return a.address, nil
}

// InterestAccount is a user's interest-bearing balance for one asset. Credits
// are not withdrawable until they settle, so pending credits are held back
// from the actionable balance.
type InterestAccount struct {
	ledgerAccount

	mu      sync.Mutex
	pending map[string]money.Money
}

var (
	_ engine.Account        = (*InterestAccount)(nil)
	_ engine.CreditObserver = (*InterestAccount)(nil)
)

func NewInterestAccount(ledger store.LedgerStore, userId string, currency money.Currency) *InterestAccount {
	return &InterestAccount{
		ledgerAccount: ledgerAccount{
			ledger:   ledger,
			id:       store.InterestAccountId(userId),
			label:    currency.Code + " Rewards Account",
			kind:     engine.AccountInterest,
			currency: currency,
			actions:  []engine.Action{engine.ActionInterestWithdraw},
		},
		pending: make(map[string]money.Money),
	}
}

func (a *InterestAccount) OnPendingCredit(_ context.Context, amount money.Money, reference string) error {
	if amount.Currency().Code != a.currency.Code {
		return fmt.Errorf("pending credit in %s for %s account", amount.Currency().Code, a.currency.Code)
	}
	a.mu.Lock()
	a.pending[reference] = amount
	a.mu.Unlock()

	zap.L().Info("Interest credit pending",
		zap.String("account_id", a.id),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))
	return nil
}

// Settle releases a pending credit. Unknown references are ignored.
func (a *InterestAccount) Settle(reference string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, reference)
}

// PendingCredits is the sum of credits not yet settled.
func (a *InterestAccount) PendingCredits() money.Money {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := money.Zero(a.currency)
	for _, amt := range a.pending {
		total = total.Add(amt)
	}
	return total
}

func (a *InterestAccount) ActionableBalance(ctx context.Context) (money.Money, error) {
	balance, err := a.Balance(ctx)
	if err != nil {
		return money.Money{}, err
	}
	return balance.Sub(a.PendingCredits()).FloorZero(), nil
}

// FiatAccount is a user's custodial cash balance.
type FiatAccount struct {
	ledgerAccount
}

var _ engine.Account = (*FiatAccount)(nil)

func NewFiatAccount(ledger store.LedgerStore, userId string, currency money.Currency) (*FiatAccount, error) {
	if !currency.IsFiat() {
		return nil, fmt.Errorf("%s is not a fiat currency", currency.Code)
	}
	return &FiatAccount{ledgerAccount: ledgerAccount{
		ledger:   ledger,
		id:       userId,
		label:    currency.Code + " Cash",
		kind:     engine.AccountFiat,
		currency: currency,
		actions:  []engine.Action{engine.ActionWithdraw},
	}}, nil
}
