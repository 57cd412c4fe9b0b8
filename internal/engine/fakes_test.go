package engine

import (
	"context"
	"sync"

	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/store"

	"github.com/shopspring/decimal"
)

type fakeAccount struct {
	id       string
	kind     AccountKind
	currency money.Currency
	balance  money.Money
	actions  []Action
	err      error
}

func (a *fakeAccount) ID() string               { return a.id }
func (a *fakeAccount) Label() string            { return a.id + " " + a.currency.Code }
func (a *fakeAccount) Kind() AccountKind        { return a.kind }
func (a *fakeAccount) Currency() money.Currency { return a.currency }

func (a *fakeAccount) Balance(context.Context) (money.Money, error) { return a.balance, a.err }

func (a *fakeAccount) ActionableBalance(context.Context) (money.Money, error) {
	return a.balance, a.err
}

func (a *fakeAccount) ReceiveAddress(context.Context) (string, error) { return "addr-" + a.id, nil }

func (a *fakeAccount) Can(action Action) bool {
	for _, x := range a.actions {
		if x == action {
			return true
		}
	}
	return false
}

type fakeFees struct {
	mu       sync.Mutex
	schedule FeeSchedule
	err      error
	calls    int
}

func (f *fakeFees) FeeSchedule(context.Context, money.Currency, Action) (FeeSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.schedule, f.err
}

func (f *fakeFees) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeLimits struct {
	limits money.TransactionLimits
	tier   money.Tier
}

func (f *fakeLimits) TransactionLimits(context.Context, LimitsRequest) (money.TransactionLimits, error) {
	return f.limits, nil
}

func (f *fakeLimits) UserTier(context.Context) (money.Tier, error) { return f.tier, nil }

type fakeBroadcaster struct {
	mu    sync.Mutex
	check AddressCheck
	hash  string
	err   error
	sent  []BroadcastRequest
}

func (b *fakeBroadcaster) ValidateAddress(context.Context, string, money.Currency) (AddressCheck, error) {
	return b.check, nil
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, req BroadcastRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, req)
	return b.hash, b.err
}

type fakeVenue struct {
	mu        sync.Mutex
	err       error
	submitted []WithdrawalRequest
}

func (v *fakeVenue) SubmitWithdrawal(_ context.Context, req WithdrawalRequest) (WithdrawalReceipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submitted = append(v.submitted, req)
	if v.err != nil {
		return WithdrawalReceipt{}, v.err
	}
	return WithdrawalReceipt{ActivityId: "activity-" + req.IdempotencyKey, Status: "PENDING"}, nil
}

// memLedger is an in-memory LedgerStore keyed by account and asset.
type memLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	refs     map[string]bool
	reverted []string
	reversed []string
}

var _ store.LedgerStore = (*memLedger)(nil)

func newMemLedger() *memLedger {
	return &memLedger{balances: map[string]decimal.Decimal{}, refs: map[string]bool{}}
}

func key(account, asset string) string { return account + "/" + asset }

func (l *memLedger) GetUserBalance(_ context.Context, accountId, asset string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[key(accountId, asset)], nil
}

func (l *memLedger) GetAllUserBalances(context.Context, string) ([]models.AccountBalance, error) {
	return nil, nil
}

func (l *memLedger) Credit(_ context.Context, p store.CreditParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[key(p.AccountId, p.Asset)] = l.balances[key(p.AccountId, p.Asset)].Add(p.Amount)
	return nil
}

func (l *memLedger) ReserveWithdrawal(_ context.Context, p store.ReserveParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs[p.Reference] {
		return store.ErrDuplicateTransaction
	}
	k := key(p.AccountId, p.Asset)
	if l.balances[k].LessThan(p.Amount) {
		return store.ErrInsufficientBalance
	}
	l.refs[p.Reference] = true
	l.balances[k] = l.balances[k].Sub(p.Amount)
	return nil
}

func (l *memLedger) ReverseWithdrawal(_ context.Context, accountId, asset string, amount decimal.Decimal, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reversed = append(l.reversed, ref)
	l.balances[key(accountId, asset)] = l.balances[key(accountId, asset)].Add(amount)
	return nil
}

// RevertTransaction behaves like the SQLite backend and forces the
// compensating-credit path.
func (l *memLedger) RevertTransaction(_ context.Context, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reverted = append(l.reverted, ref)
	return store.ErrNotSupported
}

func (l *memLedger) Transfer(_ context.Context, p store.TransferParams) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs[p.Reference] {
		return store.ErrDuplicateTransaction
	}
	from := key(p.FromAccount, p.Asset)
	if l.balances[from].LessThan(p.Amount) {
		return store.ErrInsufficientBalance
	}
	l.refs[p.Reference] = true
	l.balances[from] = l.balances[from].Sub(p.Amount)
	l.balances[key(p.ToAccount, p.Asset)] = l.balances[key(p.ToAccount, p.Asset)].Add(p.Amount)
	return nil
}

func (l *memLedger) HasTransaction(_ context.Context, ref string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs[ref], nil
}

func (l *memLedger) GetTransaction(context.Context, string) (*models.Transaction, error) {
	return nil, nil
}

func (l *memLedger) GetTransactionHistory(context.Context, string, string, int, int) ([]models.Transaction, error) {
	return nil, nil
}

func (l *memLedger) ReconcileUserBalance(context.Context, string, string) error { return nil }

func (l *memLedger) Close() {}

type fakeBanks struct {
	bank      LinkedBank
	linked    bool
	submitErr error
	submitted int
}

func (b *fakeBanks) LinkedBank(context.Context, money.Currency) (LinkedBank, bool, error) {
	return b.bank, b.linked, nil
}

func (b *fakeBanks) SubmitBankWithdrawal(_ context.Context, _ LinkedBank, _ money.Money, ref string) (string, error) {
	b.submitted++
	if b.submitErr != nil {
		return "", b.submitErr
	}
	return "bank-" + ref, nil
}

type fakeCredits struct {
	fakeAccount
	pending []string
}

func (c *fakeCredits) OnPendingCredit(_ context.Context, _ money.Money, ref string) error {
	c.pending = append(c.pending, ref)
	return nil
}
