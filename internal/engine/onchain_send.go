package engine

import (
	"context"
	"errors"
	"fmt"

	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/transaction"

	"go.uber.org/zap"
)

const onChainSendName = "on_chain_send"

var onChainFeeLevels = []transaction.FeeLevel{
	transaction.FeeLevelRegular,
	transaction.FeeLevelPriority,
	transaction.FeeLevelCustom,
}

type onChainState struct {
	fees       FeeSchedule
	feeBalance *money.Money
}

func (onChainState) EngineName() string { return onChainSendName }

// OnChainSendEngine sends from a non-custodial account to an external address.
// The user picks a regular, priority or custom network fee.
type OnChainSendEngine struct {
	base
	target AddressTarget
}

func NewOnChainSendEngine(b Binding, deps Deps) *OnChainSendEngine {
	e := &OnChainSendEngine{base: newBase(onChainSendName, b, deps)}
	if t, ok := b.Target.(AddressTarget); ok {
		e.target = t
	}
	return e
}

func (e *OnChainSendEngine) AssertInputsValid() error {
	if e.binding.Source.Kind() != AccountNonCustodial {
		return fmt.Errorf("%w: source must be non-custodial, got %s", ErrInvalidBinding, e.binding.Source.Kind())
	}
	if _, ok := e.binding.Target.(AddressTarget); !ok {
		return fmt.Errorf("%w: target must be an address", ErrInvalidBinding)
	}
	if e.target.Address == "" {
		return fmt.Errorf("%w: empty destination address", ErrInvalidBinding)
	}
	if e.deps.Broadcaster == nil {
		return fmt.Errorf("%w: no broadcaster configured", ErrInvalidBinding)
	}
	return assertCommon(e.binding)
}

func (e *OnChainSendEngine) InitializeTransaction(ctx context.Context) (transaction.PendingTransaction, error) {
	d, err := e.fetchInitial(ctx)
	if err != nil {
		return transaction.PendingTransaction{}, err
	}

	st := onChainState{fees: d.fees}
	if fa, ok := e.binding.Source.(FeeAccount); ok {
		bal, err := fa.FeeBalance(ctx)
		if err != nil {
			return transaction.PendingTransaction{}, fmt.Errorf("initialize %s: failed to fetch fee balance: %w", e.name, err)
		}
		st.feeBalance = &bal
	}

	sel, err := transaction.NewFeeSelection(onChainFeeLevels, transaction.FeeLevelRegular, nil)
	if err != nil {
		return transaction.PendingTransaction{}, err
	}
	fee := d.fees.ForLevel(transaction.FeeLevelRegular, nil)

	ptx := transaction.New(d.available, fee, fee, sel, d.fiat)
	ptx = applyLimits(ptx, d.limits).WithEngineState(st)

	zap.L().Debug("Initialized on-chain send",
		zap.String("account_id", e.binding.Source.ID()),
		zap.String("available", d.available.String()),
		zap.String("fee", fee.String()))
	return ptx, nil
}

func (e *OnChainSendEngine) Update(ctx context.Context, amount money.Money, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if !amount.SameCurrency(ptx.Available) {
		return ptx, fmt.Errorf("amount in %s, account holds %s", amount.Currency().Code, ptx.Available.Currency().Code)
	}
	fees, err := e.currentFees(ctx)
	if err != nil {
		return ptx, err
	}
	sel := ptx.FeeSelection()
	custom, hasCustom := sel.CustomAmount()
	var customPtr *money.Money
	if hasCustom {
		customPtr = &custom
	}
	fee := fees.ForLevel(sel.Selected(), customPtr)

	st := e.state(ptx)
	st.fees = fees
	return ptx.WithAmount(amount).
		WithFees(fee, fee, sel).
		WithValidation(transaction.Uninitialized()).
		WithEngineState(st), nil
}

func (e *OnChainSendEngine) ValidateAmount(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if snap, err := e.currentLimits(ctx); err == nil {
		ptx = applyLimits(ptx, snap)
	}
	return ptx.WithValidation(checkAmount(ptx, e.state(ptx).feeBalance)), nil
}

func (e *OnChainSendEngine) DoValidateAll(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	ptx, err := e.ValidateAmount(ctx, ptx)
	if err != nil || !ptx.Validation.IsValid() {
		return ptx, err
	}

	check, err := e.deps.Broadcaster.ValidateAddress(ctx, e.target.Address, e.target.Asset)
	if err != nil {
		return ptx, fmt.Errorf("failed to validate address: %w", err)
	}
	switch {
	case !check.Valid:
		return ptx.WithValidation(transaction.Invalid(transaction.ValidationFailure{
			Code:    transaction.FailureInvalidAddress,
			Desired: ptx.Amount,
		})), nil
	case check.IsContract:
		return ptx.WithValidation(transaction.Invalid(transaction.ValidationFailure{
			Code:    transaction.FailureAddressIsContract,
			Desired: ptx.Amount,
		})), nil
	}
	return ptx, nil
}

func (e *OnChainSendEngine) DoBuildConfirmations(_ context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	lines := e.commonConfirmations(ptx, transaction.ConfirmNetworkFee, "Network fee")
	if e.target.Memo != "" {
		lines = append(lines, transaction.TextLine(transaction.ConfirmMemo, "Memo", e.target.Memo))
	}
	return ptx.WithConfirmations(lines), nil
}

func (e *OnChainSendEngine) DoUpdateFeeLevel(ctx context.Context, ptx transaction.PendingTransaction, level transaction.FeeLevel, customAmount *money.Money) (transaction.PendingTransaction, error) {
	fees, err := e.currentFees(ctx)
	if err != nil {
		return ptx, err
	}
	if customAmount != nil && customAmount.Currency().Code != fees.Currency.Code {
		return ptx, fmt.Errorf("custom fee in %s, network fees are paid in %s", customAmount.Currency().Code, fees.Currency.Code)
	}
	sel, err := ptx.FeeSelection().Select(level, customAmount)
	if err != nil {
		return ptx, err
	}

	fee := fees.ForLevel(level, customAmount)
	st := e.state(ptx)
	st.fees = fees
	next := ptx.WithFees(fee, fee, sel).WithEngineState(st)

	if len(ptx.Confirmations()) > 0 {
		next, err = e.DoBuildConfirmations(ctx, next)
		if err != nil {
			return ptx, err
		}
	}
	return e.ValidateAmount(ctx, next)
}

func (e *OnChainSendEngine) Execute(ctx context.Context, ptx transaction.PendingTransaction, secondPassword string) (Result, error) {
	if err := requireAcknowledged(ptx); err != nil {
		return Result{}, err
	}

	hash, err := e.deps.Broadcaster.Broadcast(ctx, BroadcastRequest{
		From:           e.binding.Source,
		To:             e.target,
		Amount:         ptx.Amount,
		Fee:            ptx.FeeAmount,
		SecondPassword: secondPassword,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			return Result{}, fmt.Errorf("broadcast rejected: %w", err)
		}
		return Result{}, &SettlementError{Engine: e.name, Err: err}
	}

	zap.L().Info("On-chain send broadcast",
		zap.String("account_id", e.binding.Source.ID()),
		zap.String("address", e.target.Address),
		zap.String("amount", ptx.Amount.String()),
		zap.String("tx_hash", hash))
	return Result{Kind: ResultHashed, Hash: hash, Reference: hash, Amount: ptx.Amount}, nil
}

func (e *OnChainSendEngine) DoPostExecute(_ context.Context, result Result) error {
	e.invalidate()
	zap.L().Debug("On-chain send settled", zap.String("tx_hash", result.Hash))
	return nil
}

func (e *OnChainSendEngine) state(ptx transaction.PendingTransaction) onChainState {
	if st, ok := ptx.EngineState().(onChainState); ok {
		return st
	}
	return onChainState{}
}
