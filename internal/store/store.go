package store

import (
	"context"
	"errors"

	"prime-transaction-pipeline-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrNotSupported           = errors.New("operation not supported by backend")
)

// InterestAccountId returns the ledger account holding a user's interest balance.
func InterestAccountId(userId string) string {
	return userId + ":interest"
}

// CreditParams records an inbound credit (deposit, reward, seed balance).
type CreditParams struct {
	AccountId string
	Asset     string
	Amount    decimal.Decimal
	Reference string
	Source    string
}

// ReserveParams debits a user's balance ahead of submitting a withdrawal to an
// external venue. Reference doubles as the idempotency key: a second
// reservation with the same reference fails with ErrDuplicateTransaction.
type ReserveParams struct {
	AccountId   string
	Asset       string
	Amount      decimal.Decimal
	Reference   string
	Destination string
	Network     string
}

// TransferParams moves value between two ledger accounts of the same user.
type TransferParams struct {
	FromAccount string
	ToAccount   string
	Asset       string
	Amount      decimal.Decimal
	Reference   string
}

// LedgerStore defines the contract that every backend (SQLite, Formance, ...) must satisfy.
type LedgerStore interface {
	// --- Balances ---
	GetUserBalance(ctx context.Context, accountId, asset string) (decimal.Decimal, error)
	GetAllUserBalances(ctx context.Context, accountId string) ([]models.AccountBalance, error)

	// --- Transactions ---
	Credit(ctx context.Context, params CreditParams) error
	ReserveWithdrawal(ctx context.Context, params ReserveParams) error
	ReverseWithdrawal(ctx context.Context, accountId, asset string, amount decimal.Decimal, originalRef string) error
	RevertTransaction(ctx context.Context, reference string) error
	Transfer(ctx context.Context, params TransferParams) error
	HasTransaction(ctx context.Context, reference string) (bool, error)
	// GetTransaction returns the entry recorded under reference, or nil when
	// there is none.
	GetTransaction(ctx context.Context, reference string) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, accountId, asset string, limit, offset int) ([]models.Transaction, error)
	ReconcileUserBalance(ctx context.Context, accountId, asset string) error

	// --- Lifecycle ---
	Close()
}
