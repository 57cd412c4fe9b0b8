package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/errorstate"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/transaction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// scriptedEngine is a BTC engine with a 1 BTC balance whose calls can be
// held open per amount and whose later-stage errors are scripted.
type scriptedEngine struct {
	mu            sync.Mutex
	validateGates map[string]chan struct{}
	executeGate   chan struct{}
	initErr       error
	validateAll   []error
	executeErrs   []error
	needsAck      bool
	completed     []engine.ExternalStep

	builds          atomic.Int32
	executions      atomic.Int32
	executeReturned chan struct{}
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{
		validateGates:   map[string]chan struct{}{},
		executeReturned: make(chan struct{}, 8),
	}
}

func (e *scriptedEngine) gate(amount string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.validateGates[amount] = ch
	return ch
}

func (e *scriptedEngine) Name() string             { return "scripted" }
func (e *scriptedEngine) AssertInputsValid() error { return nil }

func (e *scriptedEngine) InitializeTransaction(context.Context) (transaction.PendingTransaction, error) {
	if e.initErr != nil {
		return transaction.PendingTransaction{}, e.initErr
	}
	sel, err := transaction.NewFeeSelection(
		[]transaction.FeeLevel{transaction.FeeLevelRegular, transaction.FeeLevelPriority}, transaction.FeeLevelRegular, nil)
	if err != nil {
		return transaction.PendingTransaction{}, err
	}
	fee := money.MustParse("0.0001", money.BTC)
	return transaction.New(money.MustParse("1", money.BTC), fee, fee, sel, money.USD), nil
}

func (e *scriptedEngine) Update(_ context.Context, amount money.Money, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	if !amount.SameCurrency(ptx.Available) {
		return ptx, errors.New("amount in " + amount.Currency().Code)
	}
	return ptx.WithAmount(amount), nil
}

func (e *scriptedEngine) ValidateAmount(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	e.mu.Lock()
	gate := e.validateGates[ptx.Amount.Amount().String()]
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ptx, ctx.Err()
		}
	}
	switch {
	case !ptx.Amount.IsPositive():
		return ptx.WithValidation(transaction.Uninitialized()), nil
	case ptx.AmountWithFee().GreaterThan(ptx.Available):
		return ptx.WithValidation(transaction.Invalid(transaction.ValidationFailure{
			Code:    transaction.FailureInsufficientFunds,
			Balance: ptx.Available,
			Desired: ptx.Amount,
		})), nil
	}
	return ptx.WithValidation(transaction.Valid()), nil
}

func (e *scriptedEngine) DoBuildConfirmations(_ context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	e.builds.Add(1)
	lines := []transaction.Confirmation{transaction.AmountLine(transaction.ConfirmAmount, "Amount", ptx.Amount)}
	if e.needsAck {
		lines = append(lines, transaction.AckLine(transaction.ConfirmTermsOfService, "Terms", "I agree"))
	}
	return ptx.WithConfirmations(lines), nil
}

func (e *scriptedEngine) DoValidateAll(ctx context.Context, ptx transaction.PendingTransaction) (transaction.PendingTransaction, error) {
	e.mu.Lock()
	var err error
	if len(e.validateAll) > 0 {
		err, e.validateAll = e.validateAll[0], e.validateAll[1:]
	}
	e.mu.Unlock()
	if err != nil {
		return ptx, err
	}
	return e.ValidateAmount(ctx, ptx)
}

func (e *scriptedEngine) DoUpdateFeeLevel(_ context.Context, ptx transaction.PendingTransaction, level transaction.FeeLevel, custom *money.Money) (transaction.PendingTransaction, error) {
	sel, err := ptx.FeeSelection().Select(level, custom)
	if err != nil {
		return ptx, err
	}
	fee := money.MustParse("0.0001", money.BTC)
	if level == transaction.FeeLevelPriority {
		fee = money.MustParse("0.0005", money.BTC)
	}
	return ptx.WithFees(fee, fee, sel), nil
}

func (e *scriptedEngine) Execute(_ context.Context, ptx transaction.PendingTransaction, _ string) (engine.Result, error) {
	e.executions.Add(1)
	defer func() { e.executeReturned <- struct{}{} }()
	if e.executeGate != nil {
		<-e.executeGate
	}
	e.mu.Lock()
	var err error
	if len(e.executeErrs) > 0 {
		err, e.executeErrs = e.executeErrs[0], e.executeErrs[1:]
	}
	e.mu.Unlock()
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Kind: engine.ResultHashed, Hash: "0xabc", Amount: ptx.Amount}, nil
}

func (e *scriptedEngine) DoPostExecute(context.Context, engine.Result) error { return nil }

func (e *scriptedEngine) CompleteExternalStep(_ context.Context, ptx transaction.PendingTransaction, step engine.ExternalStep) (transaction.PendingTransaction, error) {
	e.mu.Lock()
	e.completed = append(e.completed, step)
	e.mu.Unlock()
	return ptx, nil
}

type stubPresenter struct {
	outcome Outcome
	seen    chan engine.ExternalStep
}

func (p *stubPresenter) Present(_ context.Context, step engine.ExternalStep) (Outcome, error) {
	p.seen <- step
	return p.outcome, nil
}

func btc(v string) money.Money { return money.MustParse(v, money.BTC) }

func startModel(t *testing.T, e *scriptedEngine, opts ...Option) *Model {
	t.Helper()
	m := New(e, opts...)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	waitStep(t, m, StepEnteringAmount)
	return m
}

func waitStep(t *testing.T, m *Model, step Step) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State().Step == step }, waitFor, tick,
		"expected step %s, last state %s", step, m.State().Step)
}

func waitValid(t *testing.T, m *Model, amount money.Money) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := m.State()
		return !st.Loading && st.Pending != nil &&
			st.Pending.Amount.Equal(amount) && st.Pending.Validation.IsValid()
	}, waitFor, tick)
}

func toConfirming(t *testing.T, m *Model, amount money.Money) {
	t.Helper()
	m.SetAmount(amount)
	waitValid(t, m, amount)
	m.Confirm("")
	waitStep(t, m, StepConfirming)
}

func TestModel_HappyPath(t *testing.T) {
	e := newScriptedEngine()
	m := startModel(t, e)

	toConfirming(t, m, btc("0.5"))
	require.Len(t, m.State().Pending.Confirmations(), 1)

	m.Confirm("")
	waitStep(t, m, StepCompleted)

	st := m.State()
	require.NotNil(t, st.Result)
	assert.Equal(t, "0xabc", st.Result.Hash)
	assert.True(t, st.Error.IsZero())
	assert.EqualValues(t, 1, e.executions.Load())
}

func TestModel_StaleValidationIsDropped(t *testing.T) {
	e := newScriptedEngine()
	slow := e.gate("2")
	m := startModel(t, e)

	// 2 BTC would fail with insufficient funds, but it is superseded before
	// its validation returns.
	m.SetAmount(btc("2"))
	m.SetAmount(btc("0.2"))
	require.Eventually(t, func() bool { return m.State().Loading }, waitFor, tick)
	close(slow)

	waitValid(t, m, btc("0.2"))
	assert.True(t, m.State().Error.IsZero())
}

func TestModel_ConfirmIgnoredWhileInvalid(t *testing.T) {
	e := newScriptedEngine()
	m := startModel(t, e)

	m.SetAmount(btc("2"))
	require.Eventually(t, func() bool {
		return m.State().Error.Kind == errorstate.KindInsufficientFunds
	}, waitFor, tick)

	m.Confirm("")
	assert.Never(t, func() bool { return m.State().Step != StepEnteringAmount }, 50*time.Millisecond, tick)
	assert.EqualValues(t, 0, e.builds.Load())
}

func TestModel_DoubleConfirmExecutesOnce(t *testing.T) {
	e := newScriptedEngine()
	e.executeGate = make(chan struct{})
	m := startModel(t, e)
	toConfirming(t, m, btc("0.5"))

	m.Confirm("")
	m.Confirm("")
	waitStep(t, m, StepExecuting)
	m.Confirm("")
	close(e.executeGate)

	waitStep(t, m, StepCompleted)
	assert.EqualValues(t, 1, e.executions.Load())
}

func TestModel_CancelWhileExecutingIgnoresResult(t *testing.T) {
	e := newScriptedEngine()
	e.executeGate = make(chan struct{})
	m := startModel(t, e)
	toConfirming(t, m, btc("0.5"))

	m.Confirm("")
	waitStep(t, m, StepExecuting)
	m.Cancel()
	waitStep(t, m, StepCancelled)

	close(e.executeGate)
	<-e.executeReturned

	assert.Never(t, func() bool { return m.State().Step != StepCancelled }, 50*time.Millisecond, tick)
	assert.Nil(t, m.State().Result)
	assert.EqualValues(t, 1, e.executions.Load())
}

func TestModel_BackDiscardsConfirmations(t *testing.T) {
	e := newScriptedEngine()
	m := startModel(t, e)
	toConfirming(t, m, btc("0.5"))

	m.Back()
	waitStep(t, m, StepEnteringAmount)
	st := m.State()
	assert.Empty(t, st.Pending.Confirmations())
	assert.True(t, st.Pending.Amount.Equal(btc("0.5")))

	m.Back()
	waitStep(t, m, StepCancelled)
}

func TestModel_FeeLevelChangeWhileConfirming(t *testing.T) {
	e := newScriptedEngine()
	m := startModel(t, e)
	toConfirming(t, m, btc("0.5"))

	m.SetFeeLevel(transaction.FeeLevelPriority, nil)
	require.Eventually(t, func() bool {
		st := m.State()
		return st.Step == StepConfirming && st.Pending.FeeSelection().Selected() == transaction.FeeLevelPriority
	}, waitFor, tick)

	assert.EqualValues(t, 2, e.builds.Load())
	assert.True(t, m.State().Pending.FeeAmount.Equal(btc("0.0005")))
}

func TestModel_RejectedFeeLevelKeepsSelection(t *testing.T) {
	e := newScriptedEngine()
	m := startModel(t, e)
	m.SetAmount(btc("0.5"))
	waitValid(t, m, btc("0.5"))

	m.SetFeeLevel(transaction.FeeLevelCustom, nil)
	require.Eventually(t, func() bool {
		return m.State().Error.Kind == errorstate.KindOptionInvalid
	}, waitFor, tick)
	assert.Equal(t, transaction.FeeLevelRegular, m.State().Pending.FeeSelection().Selected())
}

func TestModel_RejectedFeeLevelRevalidatesEnteredAmount(t *testing.T) {
	e := newScriptedEngine()
	m := startModel(t, e)
	m.SetAmount(btc("0.5"))
	waitValid(t, m, btc("0.5"))

	// The fee level is rejected while 0.7 is still being validated, so the
	// 0.7 recompute never lands. The 0.5 snapshot must not be confirmable.
	slow := e.gate("0.7")
	m.SetAmount(btc("0.7"))
	m.SetFeeLevel(transaction.FeeLevelCustom, nil)
	require.Eventually(t, func() bool { return m.State().Loading }, waitFor, tick)
	close(slow)

	require.Eventually(t, func() bool {
		return m.State().Error.Kind == errorstate.KindOptionInvalid
	}, waitFor, tick)
	m.Confirm("")
	assert.Never(t, func() bool {
		st := m.State()
		return st.Step == StepConfirming && st.Pending.Amount.Equal(btc("0.5"))
	}, 100*time.Millisecond, tick)

	waitValid(t, m, btc("0.7"))
	assert.Equal(t, errorstate.KindOptionInvalid, m.State().Error.Kind)
	if m.State().Step == StepEnteringAmount {
		m.Confirm("")
	}
	waitStep(t, m, StepConfirming)
	assert.True(t, m.State().Pending.Amount.Equal(btc("0.7")))
}

func TestModel_FailedUpdateBlocksConfirm(t *testing.T) {
	e := newScriptedEngine()
	m := startModel(t, e)
	m.SetAmount(btc("0.5"))
	waitValid(t, m, btc("0.5"))

	m.SetAmount(money.MustParse("0.5", money.ETH))
	require.Eventually(t, func() bool {
		st := m.State()
		return !st.Loading && st.Pending != nil && !st.Pending.Validation.IsValid()
	}, waitFor, tick)

	m.Confirm("")
	assert.Never(t, func() bool { return m.State().Step != StepEnteringAmount }, 50*time.Millisecond, tick)
	assert.EqualValues(t, 0, e.builds.Load())
}

func TestModel_AcknowledgementRequired(t *testing.T) {
	e := newScriptedEngine()
	e.needsAck = true
	m := startModel(t, e)
	toConfirming(t, m, btc("0.5"))

	m.Confirm("")
	require.Eventually(t, func() bool {
		return m.State().Error.Kind == errorstate.KindOptionInvalid
	}, waitFor, tick)
	assert.Equal(t, StepConfirming, m.State().Step)

	m.Acknowledge(transaction.ConfirmTermsOfService)
	m.Confirm("")
	waitStep(t, m, StepCompleted)
}

func TestModel_ExternalStepWithPresenter(t *testing.T) {
	e := newScriptedEngine()
	e.validateAll = []error{&engine.ExternalStepError{Step: engine.StepSecurityChallenge}}
	p := &stubPresenter{outcome: OutcomeCompleted, seen: make(chan engine.ExternalStep, 1)}
	m := startModel(t, e, WithPresenter(p))
	toConfirming(t, m, btc("0.5"))

	m.Confirm("")
	waitStep(t, m, StepCompleted)

	assert.Equal(t, engine.StepSecurityChallenge, <-p.seen)
	assert.Equal(t, []engine.ExternalStep{engine.StepSecurityChallenge}, e.completed)
	assert.EqualValues(t, 1, e.executions.Load())
}

func TestModel_ExternalStepAbandoned(t *testing.T) {
	e := newScriptedEngine()
	e.validateAll = []error{&engine.ExternalStepError{Step: engine.StepKYC}}
	m := startModel(t, e)
	toConfirming(t, m, btc("0.5"))

	m.Confirm("")
	waitStep(t, m, StepAwaitingKYC)
	assert.Equal(t, engine.StepKYC, m.State().External)

	m.ResolveStep(OutcomeAbandoned)
	waitStep(t, m, StepEnteringAmount)
	assert.EqualValues(t, 0, e.executions.Load())
}

func TestModel_ExternalStepCancelled(t *testing.T) {
	e := newScriptedEngine()
	e.validateAll = []error{&engine.ExternalStepError{Step: engine.StepBankLink}}
	m := startModel(t, e)
	toConfirming(t, m, btc("0.5"))

	m.Confirm("")
	waitStep(t, m, StepAwaitingBankLink)
	m.ResolveStep(OutcomeCancelled)
	waitStep(t, m, StepCancelled)
}

func TestModel_ExecuteFailureThenRetry(t *testing.T) {
	e := newScriptedEngine()
	e.executeErrs = []error{&engine.SettlementError{Engine: "scripted", Err: errors.New("503 from venue")}}
	m := startModel(t, e)
	toConfirming(t, m, btc("0.5"))

	m.Confirm("")
	waitStep(t, m, StepFailed)
	assert.Equal(t, errorstate.KindServiceError, m.State().Error.Kind)

	m.Retry()
	waitStep(t, m, StepConfirming)
	assert.EqualValues(t, 2, e.builds.Load())
	assert.True(t, m.State().Error.IsZero())

	m.Confirm("")
	waitStep(t, m, StepCompleted)
	assert.EqualValues(t, 2, e.executions.Load())
}

func TestModel_InitializeFailureIsFatal(t *testing.T) {
	e := newScriptedEngine()
	e.initErr = errors.New("fees unavailable")
	m := New(e)
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	waitStep(t, m, StepFailed)
	st := m.State()
	assert.Equal(t, errorstate.KindFatalError, st.Error.Kind)
	assert.False(t, st.Error.Recoverable())
	assert.Nil(t, st.Pending)

	m.Retry()
	assert.Never(t, func() bool { return m.State().Step != StepFailed }, 50*time.Millisecond, tick)
}

func TestModel_AmountBeforeInitializeIsApplied(t *testing.T) {
	e := newScriptedEngine()
	m := New(e)
	m.SetAmount(btc("0.3"))
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	waitValid(t, m, btc("0.3"))
	assert.Equal(t, StepEnteringAmount, m.State().Step)
}

func TestModel_UpdatesCarryLatestState(t *testing.T) {
	e := newScriptedEngine()
	m := startModel(t, e)
	m.SetAmount(btc("0.5"))
	waitValid(t, m, btc("0.5"))

	select {
	case st := <-m.Updates():
		assert.Equal(t, StepEnteringAmount, st.Step)
	case <-time.After(waitFor):
		t.Fatal("no state update published")
	}
}
