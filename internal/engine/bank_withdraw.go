package engine

import (
	"context"
	"fmt"
	"time"

	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/transaction"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const bankWithdrawName = "bank_withdraw"

// minimumBankTier is the verification level required to withdraw to a bank
const minimumBankTier = money.TierBronze

type bankState struct {
	bank         LinkedBank
	reference    string
	wireReviewed bool
}

func (bankState) EngineName() string { return bankWithdrawName }

// BankWithdrawEngine withdraws fiat from a custodial fiat account to the
// user's linked bank. A processing fee applies in the fiat currency.
type BankWithdrawEngine struct {
	base
}

func NewBankWithdrawEngine(b Binding, deps Deps) *BankWithdrawEngine {
	return &BankWithdrawEngine{base: newBase(bankWithdrawName, b, deps)}
}

func (e *BankWithdrawEngine) AssertInputsValid() error {
	if e.binding.Source.Kind() != AccountFiat {
		return fmt.Errorf("%w: source must be a fiat account, got %s", ErrInvalidBinding, e.binding.Source.Kind())
	}
	if !e.binding.Source.Currency().IsFiat() {
		return fmt.Errorf("%w: %s is not a fiat currency", ErrInvalidBinding, e.binding.Source.Currency().Code)
	}
	if _, ok := e.binding.Target.(BankTarget); !ok {
		return fmt.Errorf("%w: target must be a bank", ErrInvalidBinding)
	}
	if e.deps.Ledger == nil || e.deps.Banks == nil {
		return fmt.Errorf("%w: ledger and bank links are required", ErrInvalidBinding)
	}
	return assertCommon(e.binding)
}

func (e *BankWithdrawEngine) InitializeTransaction(ctx context.Context) (transaction.PendingTransaction, error) {
	d, err := e.fetchInitial(ctx)
	if err != nil {
		return transaction.PendingTransaction{}, err
	}
	fee := processingFee(d.fees, d.available.Currency())
	ptx := transaction.New(d.available, fee, fee, transaction.SingleFeeLevel(transaction.FeeLevelRegular), d.fiat)
	return applyLimits(ptx, d.limits).WithEngineState(bankState{}), nil
}

func (e *BankWithdrawEngine) Update(ctx context.Context, amount money.Money, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if !amount.SameCurrency(ptx.Available) {
		return ptx, fmt.Errorf("amount in %s, account holds %s", amount.Currency().Code, ptx.Available.Currency().Code)
	}
	fees, err := e.currentFees(ctx)
	if err != nil {
		return ptx, err
	}
	fee := processingFee(fees, ptx.Available.Currency())
	return ptx.WithAmount(amount).
		WithFees(fee, fee, ptx.FeeSelection()).
		WithValidation(transaction.Uninitialized()), nil
}

func (e *BankWithdrawEngine) ValidateAmount(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if snap, err := e.currentLimits(ctx); err == nil {
		ptx = applyLimits(ptx, snap)
	}
	return ptx.WithValidation(checkAmount(ptx, nil)), nil
}

// DoValidateAll checks the amount, then the preconditions the user resolves
// outside the flow: verification tier, a linked bank, and wire instructions.
func (e *BankWithdrawEngine) DoValidateAll(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	ptx, err := e.ValidateAmount(ctx, ptx)
	if err != nil || !ptx.Validation.IsValid() {
		return ptx, err
	}

	snap, err := e.currentLimits(ctx)
	if err != nil {
		return ptx, err
	}
	if snap.Tier < minimumBankTier {
		return ptx, &ExternalStepError{Step: StepKYC, Reason: "bank withdrawals require identity verification"}
	}

	bank, ok, err := e.deps.Banks.LinkedBank(ctx, ptx.Amount.Currency())
	if err != nil {
		return ptx, fmt.Errorf("failed to fetch linked bank: %w", err)
	}
	if !ok {
		return ptx, &ExternalStepError{Step: StepBankLink, Reason: "no bank linked for " + ptx.Amount.Currency().Code}
	}

	st := e.state(ptx)
	st.bank = bank
	if bank.RequiresWireInstructions && !st.wireReviewed {
		return ptx.WithEngineState(st), &ExternalStepError{Step: StepBankWireInstructions, Reason: "wire instructions must be reviewed"}
	}
	return ptx.WithEngineState(st), nil
}

func (e *BankWithdrawEngine) DoBuildConfirmations(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	st := e.state(ptx)
	st.reference = uuid.New().String()
	if st.bank.Id == "" {
		// A missing link is reported by DoValidateAll.
		if bank, ok, err := e.deps.Banks.LinkedBank(ctx, ptx.Amount.Currency()); err == nil && ok {
			st.bank = bank
		}
	}

	lines := e.commonConfirmations(ptx, transaction.ConfirmProcessingFee, "Processing fee")
	if st.bank.Name != "" {
		lines[1] = transaction.TextLine(transaction.ConfirmDestination, "To", st.bank.Name)
	}
	settlement := st.bank.Settlement
	if settlement <= 0 {
		settlement = 3 * 24 * time.Hour
	}
	lines = append(lines,
		transaction.TextLine(transaction.ConfirmEstimatedCompletion, "Arrives", fmt.Sprintf("Within %d business days", int(settlement.Hours()/24))),
		transaction.AckLine(transaction.ConfirmTransferAgreement, "Agreement", "I authorize this transfer to my linked bank account"),
	)
	return ptx.WithConfirmations(lines).WithEngineState(st), nil
}

func (e *BankWithdrawEngine) DoUpdateFeeLevel(_ context.Context, ptx transaction.PendingTransaction, level transaction.FeeLevel, customAmount *money.Money) (transaction.PendingTransaction, error) {
	if _, err := ptx.FeeSelection().Select(level, customAmount); err != nil {
		return ptx, err
	}
	return ptx, nil
}

func (e *BankWithdrawEngine) CompleteExternalStep(_ context.Context, ptx transaction.PendingTransaction, step ExternalStep) (transaction.PendingTransaction, error) {
	if step != StepBankWireInstructions {
		return ptx, nil
	}
	st := e.state(ptx)
	st.wireReviewed = true
	return ptx.WithEngineState(st), nil
}

func (e *BankWithdrawEngine) Execute(ctx context.Context, ptx transaction.PendingTransaction, _ string) (Result, error) {
	if err := requireAcknowledged(ptx); err != nil {
		return Result{}, err
	}
	st := e.state(ptx)
	if st.bank.Id == "" {
		return Result{}, &ExternalStepError{Step: StepBankLink, Reason: "linked bank not resolved"}
	}
	ref := st.reference
	if ref == "" {
		ref = uuid.New().String()
	}
	debit := ptx.AmountWithFee()

	if err := e.reserve(ctx, debit, ref, st.bank.Id, "bank"); err != nil {
		return Result{}, err
	}

	transferId, err := e.deps.Banks.SubmitBankWithdrawal(ctx, st.bank, ptx.Amount, ref)
	if err != nil {
		zap.L().Error("Bank withdrawal submission failed", zap.String("reference", ref), zap.Error(err))
		e.rollback(ctx, debit, ref)
		return Result{}, &SettlementError{Engine: e.name, Reference: ref, Err: err}
	}

	zap.L().Info("Bank withdrawal submitted",
		zap.String("account_id", e.binding.Source.ID()),
		zap.String("bank_id", st.bank.Id),
		zap.String("amount", ptx.Amount.String()),
		zap.String("transfer_id", transferId))
	return Result{Kind: ResultUnhashed, Reference: transferId, Amount: ptx.Amount}, nil
}

func (e *BankWithdrawEngine) DoPostExecute(_ context.Context, result Result) error {
	e.invalidate()
	zap.L().Debug("Bank withdrawal settled", zap.String("reference", result.Reference))
	return nil
}

func (e *BankWithdrawEngine) state(ptx transaction.PendingTransaction) bankState {
	if st, ok := ptx.EngineState().(bankState); ok {
		return st
	}
	return bankState{}
}

func processingFee(s FeeSchedule, currency money.Currency) money.Money {
	if s.Processing.Currency().Code == currency.Code {
		return s.Processing
	}
	return money.Zero(currency)
}
