package engine

import (
	"context"
	"time"

	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/store"
	"prime-transaction-pipeline-go/internal/transaction"
)

// FeeSchedule is the fee quote for one asset and action. Network fees are
// denominated in Currency, which differs from the asset for tokens paying gas
// in the chain's native coin.
type FeeSchedule struct {
	Currency   money.Currency
	Regular    money.Money
	Priority   money.Money
	Processing money.Money
}

// ForLevel returns the network fee for a level. A custom level uses the
// supplied amount.
func (s FeeSchedule) ForLevel(level transaction.FeeLevel, custom *money.Money) money.Money {
	switch level {
	case transaction.FeeLevelPriority:
		return s.Priority
	case transaction.FeeLevelCustom:
		if custom != nil {
			return *custom
		}
		return s.Regular
	case transaction.FeeLevelNone:
		return money.Zero(s.Currency)
	default:
		return s.Regular
	}
}

type FeeService interface {
	FeeSchedule(ctx context.Context, asset money.Currency, action Action) (FeeSchedule, error)
}

// LimitsRequest scopes a limits lookup
type LimitsRequest struct {
	Currency money.Currency
	Action   Action
	Source   AccountKind
	Target   TargetKind
}

type LimitsService interface {
	TransactionLimits(ctx context.Context, req LimitsRequest) (money.TransactionLimits, error)
	UserTier(ctx context.Context) (money.Tier, error)
}

// SettingsService exposes the user's display preferences
type SettingsService interface {
	FiatCurrency(ctx context.Context) (money.Currency, error)
}

// AddressCheck is the result of looking up a destination address on chain
type AddressCheck struct {
	Valid      bool
	IsContract bool
}

// BroadcastRequest is a signed-and-sent on-chain transfer from a non-custodial account
type BroadcastRequest struct {
	From           Account
	To             AddressTarget
	Amount         money.Money
	Fee            money.Money
	SecondPassword string
}

// Broadcaster signs and pushes on-chain transactions for non-custodial accounts.
type Broadcaster interface {
	ValidateAddress(ctx context.Context, address string, asset money.Currency) (AddressCheck, error)
	Broadcast(ctx context.Context, req BroadcastRequest) (string, error)
}

// WithdrawalRequest is a custodial withdrawal submitted to the settlement venue
type WithdrawalRequest struct {
	IdempotencyKey string
	Asset          money.Currency
	Amount         money.Money
	Address        string
	Network        string
	Memo           string
}

// WithdrawalReceipt acknowledges an accepted custodial withdrawal
type WithdrawalReceipt struct {
	ActivityId string
	Status     string
}

// WithdrawalVenue submits custodial withdrawals on behalf of the platform.
type WithdrawalVenue interface {
	SubmitWithdrawal(ctx context.Context, req WithdrawalRequest) (WithdrawalReceipt, error)
}

// LinkedBank is a bank account linked for fiat withdrawals
type LinkedBank struct {
	Id                       string
	Name                     string
	Currency                 money.Currency
	RequiresWireInstructions bool
	Settlement               time.Duration
}

// BankLinks resolves linked bank accounts and submits bank transfers.
type BankLinks interface {
	LinkedBank(ctx context.Context, currency money.Currency) (LinkedBank, bool, error)
	SubmitBankWithdrawal(ctx context.Context, bank LinkedBank, amount money.Money, reference string) (string, error)
}

// ChallengePolicy decides when a custodial send needs a security challenge.
type ChallengePolicy interface {
	RequiresChallenge(ctx context.Context, amount money.Money) (bool, error)
}

// Deps holds the collaborators engines are built from. Fields an engine does
// not use may be nil.
type Deps struct {
	Fees        FeeService
	Limits      LimitsService
	Settings    SettingsService
	Broadcaster Broadcaster
	Venue       WithdrawalVenue
	Ledger      store.LedgerStore
	Banks       BankLinks
	Challenges  ChallengePolicy
	CacheTTL    time.Duration
	Clock       func() time.Time
}
