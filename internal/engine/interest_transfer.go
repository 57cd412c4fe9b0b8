package engine

import (
	"context"
	"errors"
	"fmt"

	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/store"
	"prime-transaction-pipeline-go/internal/transaction"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const interestTransferName = "interest_transfer"

// minimumInterestTier is the verification level required to hold an interest account
const minimumInterestTier = money.TierSilver

type interestState struct {
	reference string
}

func (interestState) EngineName() string { return interestTransferName }

// InterestTransferEngine moves funds between a trading account and the
// user's interest account through a ledger transfer. No fee applies.
type InterestTransferEngine struct {
	base
	counterparty Account
}

func NewInterestTransferEngine(b Binding, deps Deps) *InterestTransferEngine {
	e := &InterestTransferEngine{base: newBase(interestTransferName, b, deps)}
	if t, ok := b.Target.(AccountTarget); ok {
		e.counterparty = t.Account
	}
	return e
}

func (e *InterestTransferEngine) AssertInputsValid() error {
	if e.counterparty == nil {
		return fmt.Errorf("%w: target must be an account", ErrInvalidBinding)
	}
	switch e.binding.Action {
	case ActionInterestTransfer:
		if e.binding.Source.Kind() != AccountTrading || e.counterparty.Kind() != AccountInterest {
			return fmt.Errorf("%w: interest deposits go from trading to interest", ErrInvalidBinding)
		}
	case ActionInterestWithdraw:
		if e.binding.Source.Kind() != AccountInterest || e.counterparty.Kind() != AccountTrading {
			return fmt.Errorf("%w: interest withdrawals go from interest to trading", ErrInvalidBinding)
		}
	default:
		return fmt.Errorf("%w: unexpected action %s", ErrInvalidBinding, e.binding.Action)
	}
	if e.deps.Ledger == nil {
		return fmt.Errorf("%w: ledger is required", ErrInvalidBinding)
	}
	return assertCommon(e.binding)
}

func (e *InterestTransferEngine) InitializeTransaction(ctx context.Context) (transaction.PendingTransaction, error) {
	d, err := e.fetchInitial(ctx)
	if err != nil {
		return transaction.PendingTransaction{}, err
	}
	zero := money.Zero(d.available.Currency())
	ptx := transaction.New(d.available, zero, zero, transaction.SingleFeeLevel(transaction.FeeLevelNone), d.fiat)
	return applyLimits(ptx, d.limits).WithEngineState(interestState{}), nil
}

func (e *InterestTransferEngine) Update(_ context.Context, amount money.Money, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if !amount.SameCurrency(ptx.Available) {
		return ptx, fmt.Errorf("amount in %s, account holds %s", amount.Currency().Code, ptx.Available.Currency().Code)
	}
	return ptx.WithAmount(amount).WithValidation(transaction.Uninitialized()), nil
}

func (e *InterestTransferEngine) ValidateAmount(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if snap, err := e.currentLimits(ctx); err == nil {
		ptx = applyLimits(ptx, snap)
	}
	return ptx.WithValidation(checkAmount(ptx, nil)), nil
}

func (e *InterestTransferEngine) DoValidateAll(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	ptx, err := e.ValidateAmount(ctx, ptx)
	if err != nil || !ptx.Validation.IsValid() {
		return ptx, err
	}
	if e.binding.Action != ActionInterestTransfer {
		return ptx, nil
	}
	snap, err := e.currentLimits(ctx)
	if err != nil {
		return ptx, err
	}
	if snap.Tier < minimumInterestTier {
		return ptx, &ExternalStepError{
			Step:   StepKYC,
			Reason: fmt.Sprintf("interest accounts require %s verification, user is %s", minimumInterestTier, snap.Tier),
		}
	}
	return ptx, nil
}

func (e *InterestTransferEngine) DoBuildConfirmations(_ context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	st := interestState{reference: uuid.New().String()}
	lines := e.commonConfirmations(ptx, transaction.ConfirmNetworkFee, "Fee")
	if e.binding.Action == ActionInterestTransfer {
		lines = append(lines, transaction.AckLine(transaction.ConfirmTermsOfService, "Terms",
			"I agree to the interest account terms and understand rates may change"))
	} else {
		lines = append(lines, transaction.TextLine(transaction.ConfirmEstimatedCompletion, "Available", "After the current accrual period"))
	}
	return ptx.WithConfirmations(lines).WithEngineState(st), nil
}

// DoUpdateFeeLevel accepts only the none level.
func (e *InterestTransferEngine) DoUpdateFeeLevel(_ context.Context, ptx transaction.PendingTransaction, level transaction.FeeLevel, customAmount *money.Money) (transaction.PendingTransaction, error) {
	if _, err := ptx.FeeSelection().Select(level, customAmount); err != nil {
		return ptx, err
	}
	return ptx, nil
}

func (e *InterestTransferEngine) Execute(ctx context.Context, ptx transaction.PendingTransaction, _ string) (Result, error) {
	if err := requireAcknowledged(ptx); err != nil {
		return Result{}, err
	}
	ref := e.state(ptx).reference
	if ref == "" {
		ref = uuid.New().String()
	}

	err := e.deps.Ledger.Transfer(ctx, store.TransferParams{
		FromAccount: e.binding.Source.ID(),
		ToAccount:   e.counterparty.ID(),
		Asset:       ptx.Amount.Currency().Code,
		Amount:      ptx.Amount.Amount(),
		Reference:   ref,
	})
	if err != nil {
		se := &SettlementError{Engine: e.name, Reference: ref, Err: err}
		switch {
		case errors.Is(err, store.ErrDuplicateTransaction):
			se.Failure = transaction.FailureTransactionInFlight
		case errors.Is(err, store.ErrInsufficientBalance):
			se.Failure = transaction.FailureInsufficientFunds
		}
		return Result{}, se
	}

	zap.L().Info("Interest transfer recorded",
		zap.String("action", e.binding.Action.String()),
		zap.String("from", e.binding.Source.ID()),
		zap.String("to", e.counterparty.ID()),
		zap.String("amount", ptx.Amount.String()),
		zap.String("reference", ref))
	return Result{Kind: ResultUnhashed, Reference: ref, Amount: ptx.Amount}, nil
}

// DoPostExecute marks the destination as pending credit when it tracks that.
func (e *InterestTransferEngine) DoPostExecute(ctx context.Context, result Result) error {
	e.invalidate()
	if obs, ok := e.counterparty.(CreditObserver); ok {
		if err := obs.OnPendingCredit(ctx, result.Amount, result.Reference); err != nil {
			return fmt.Errorf("failed to mark pending credit: %w", err)
		}
	}
	return nil
}

func (e *InterestTransferEngine) state(ptx transaction.PendingTransaction) interestState {
	if st, ok := ptx.EngineState().(interestState); ok {
		return st
	}
	return interestState{}
}
