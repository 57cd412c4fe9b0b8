package engine

import (
	"context"
	"fmt"

	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/transaction"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tradingSendName = "trading_send"

type tradingState struct {
	fees             FeeSchedule
	idempotencyKey   string
	challengeCleared bool
}

func (tradingState) EngineName() string { return tradingSendName }

// TradingSendEngine withdraws from a custodial trading account to an external
// address. The user's ledger balance is reserved first, then the withdrawal is
// submitted to the custody venue; a rejected submission rolls the reservation
// back.
type TradingSendEngine struct {
	base
	target AddressTarget
}

func NewTradingSendEngine(b Binding, deps Deps) *TradingSendEngine {
	e := &TradingSendEngine{base: newBase(tradingSendName, b, deps)}
	if t, ok := b.Target.(AddressTarget); ok {
		e.target = t
	}
	return e
}

func (e *TradingSendEngine) AssertInputsValid() error {
	if e.binding.Source.Kind() != AccountTrading {
		return fmt.Errorf("%w: source must be a trading account, got %s", ErrInvalidBinding, e.binding.Source.Kind())
	}
	if _, ok := e.binding.Target.(AddressTarget); !ok {
		return fmt.Errorf("%w: target must be an address", ErrInvalidBinding)
	}
	if e.target.Address == "" {
		return fmt.Errorf("%w: empty destination address", ErrInvalidBinding)
	}
	if e.deps.Ledger == nil || e.deps.Venue == nil {
		return fmt.Errorf("%w: ledger and venue are required", ErrInvalidBinding)
	}
	return assertCommon(e.binding)
}

func (e *TradingSendEngine) InitializeTransaction(ctx context.Context) (transaction.PendingTransaction, error) {
	d, err := e.fetchInitial(ctx)
	if err != nil {
		return transaction.PendingTransaction{}, err
	}
	fee := custodialFee(d.fees, d.available.Currency())
	ptx := transaction.New(d.available, fee, fee, transaction.SingleFeeLevel(transaction.FeeLevelRegular), d.fiat)
	return applyLimits(ptx, d.limits).WithEngineState(tradingState{fees: d.fees}), nil
}

func (e *TradingSendEngine) Update(ctx context.Context, amount money.Money, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if !amount.SameCurrency(ptx.Available) {
		return ptx, fmt.Errorf("amount in %s, account holds %s", amount.Currency().Code, ptx.Available.Currency().Code)
	}
	fees, err := e.currentFees(ctx)
	if err != nil {
		return ptx, err
	}
	fee := custodialFee(fees, amount.Currency())
	st := e.state(ptx)
	st.fees = fees
	return ptx.WithAmount(amount).
		WithFees(fee, fee, ptx.FeeSelection()).
		WithValidation(transaction.Uninitialized()).
		WithEngineState(st), nil
}

func (e *TradingSendEngine) ValidateAmount(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if snap, err := e.currentLimits(ctx); err == nil {
		ptx = applyLimits(ptx, snap)
	}
	return ptx.WithValidation(checkAmount(ptx, nil)), nil
}

func (e *TradingSendEngine) DoValidateAll(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	ptx, err := e.ValidateAmount(ctx, ptx)
	if err != nil || !ptx.Validation.IsValid() {
		return ptx, err
	}

	// The venue takes no destination memo, so refuse before anything is reserved.
	if e.target.Memo != "" {
		return ptx.WithValidation(transaction.Invalid(transaction.ValidationFailure{
			Code:    transaction.FailureInvalidAddress,
			Desired: ptx.Amount,
		})), nil
	}

	if e.deps.Broadcaster != nil {
		check, err := e.deps.Broadcaster.ValidateAddress(ctx, e.target.Address, e.target.Asset)
		if err != nil {
			return ptx, fmt.Errorf("failed to validate address: %w", err)
		}
		if !check.Valid {
			return ptx.WithValidation(transaction.Invalid(transaction.ValidationFailure{
				Code:    transaction.FailureInvalidAddress,
				Desired: ptx.Amount,
			})), nil
		}
	}

	if e.deps.Challenges != nil && !e.state(ptx).challengeCleared {
		required, err := e.deps.Challenges.RequiresChallenge(ctx, ptx.Amount)
		if err != nil {
			return ptx, fmt.Errorf("failed to evaluate challenge policy: %w", err)
		}
		if required {
			return ptx, &ExternalStepError{Step: StepSecurityChallenge, Reason: "amount requires a security challenge"}
		}
	}
	return ptx, nil
}

// DoBuildConfirmations also mints the idempotency key the withdrawal will be
// submitted under, so each confirmed snapshot settles at most once.
func (e *TradingSendEngine) DoBuildConfirmations(_ context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	st := e.state(ptx)
	st.idempotencyKey = uuid.New().String()

	lines := e.commonConfirmations(ptx, transaction.ConfirmProcessingFee, "Withdrawal fee")
	lines = append(lines, transaction.TextLine(transaction.ConfirmEstimatedCompletion, "Arrives", "Within 30 minutes"))
	return ptx.WithConfirmations(lines).WithEngineState(st), nil
}

func (e *TradingSendEngine) DoUpdateFeeLevel(ctx context.Context, ptx transaction.PendingTransaction, level transaction.FeeLevel, customAmount *money.Money) (transaction.PendingTransaction, error) {
	sel, err := ptx.FeeSelection().Select(level, customAmount)
	if err != nil {
		return ptx, err
	}
	return e.ValidateAmount(ctx, ptx.WithFees(ptx.FeeAmount, ptx.FeeForFullAvailable, sel))
}

func (e *TradingSendEngine) CompleteExternalStep(_ context.Context, ptx transaction.PendingTransaction, step ExternalStep) (transaction.PendingTransaction, error) {
	if step != StepSecurityChallenge {
		return ptx, nil
	}
	st := e.state(ptx)
	st.challengeCleared = true
	return ptx.WithEngineState(st), nil
}

func (e *TradingSendEngine) Execute(ctx context.Context, ptx transaction.PendingTransaction, _ string) (Result, error) {
	if err := requireAcknowledged(ptx); err != nil {
		return Result{}, err
	}
	st := e.state(ptx)
	key := st.idempotencyKey
	if key == "" {
		key = uuid.New().String()
	}
	debit := ptx.AmountWithFee()

	zap.L().Info("Reserving funds for withdrawal",
		zap.String("account_id", e.binding.Source.ID()),
		zap.String("asset", debit.Currency().Code),
		zap.String("amount", debit.String()),
		zap.String("idempotency_key", key))

	if err := e.reserve(ctx, debit, key, e.target.Address, e.target.Network); err != nil {
		return Result{}, err
	}

	receipt, err := e.deps.Venue.SubmitWithdrawal(ctx, WithdrawalRequest{
		IdempotencyKey: key,
		Asset:          ptx.Amount.Currency(),
		Amount:         ptx.Amount,
		Address:        e.target.Address,
		Network:        e.target.Network,
		Memo:           e.target.Memo,
	})
	if err != nil {
		zap.L().Error("Withdrawal submission failed", zap.String("idempotency_key", key), zap.Error(err))
		e.rollback(ctx, debit, key)
		return Result{}, &SettlementError{Engine: e.name, Reference: key, Err: err}
	}

	zap.L().Info("Withdrawal submitted",
		zap.String("activity_id", receipt.ActivityId),
		zap.String("status", receipt.Status),
		zap.String("idempotency_key", key))
	return Result{Kind: ResultUnhashed, Reference: receipt.ActivityId, Amount: ptx.Amount}, nil
}

func (e *TradingSendEngine) DoPostExecute(_ context.Context, result Result) error {
	e.invalidate()
	zap.L().Debug("Trading send settled", zap.String("reference", result.Reference))
	return nil
}

func (e *TradingSendEngine) state(ptx transaction.PendingTransaction) tradingState {
	if st, ok := ptx.EngineState().(tradingState); ok {
		return st
	}
	return tradingState{}
}

// custodialFee is what the user pays out of the withdrawn asset: the venue's
// processing fee, plus the network fee when the network charges it in the same
// asset. A network fee in another currency is covered by the platform.
func custodialFee(s FeeSchedule, asset money.Currency) money.Money {
	fee := money.Zero(asset)
	if s.Processing.Currency().Code == asset.Code {
		fee = fee.Add(s.Processing)
	}
	if s.Regular.Currency().Code == asset.Code {
		fee = fee.Add(s.Regular)
	}
	return fee
}
