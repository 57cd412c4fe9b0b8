/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package flow drives one pending transaction through its lifecycle. A single
// loop goroutine owns the transaction; engine calls run asynchronously and
// report back to the loop, which discards results that no longer apply.
package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/errorstate"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/observability"
	"prime-transaction-pipeline-go/internal/transaction"

	"go.uber.org/zap"
)

type intentKind int

const (
	intentAmount intentKind = iota
	intentFeeLevel
	intentAcknowledge
	intentConfirm
	intentBack
	intentCancel
	intentRetry
	intentResolve
)

type intent struct {
	kind     intentKind
	amount   money.Money
	level    transaction.FeeLevel
	custom   *money.Money
	ack      transaction.ConfirmationKind
	password string
	outcome  Outcome
}

type opKind int

const (
	opInitialize opKind = iota
	opRecompute
	opBuildConfirmations
	opValidate
	opExecute
	opPostExecute
	opPresent
)

type opResult struct {
	token   uint64
	kind    opKind
	ptx     transaction.PendingTransaction
	keep    bool
	result  engine.Result
	outcome Outcome
	err     error
}

// inputs are the user-entered values the pending transaction must reflect
type inputs struct {
	amount    *money.Money
	feeChosen bool
	level     transaction.FeeLevel
	custom    *money.Money
}

// optionError marks a rejected fee level choice
type optionError struct{ err error }

func (e *optionError) Error() string { return e.err.Error() }
func (e *optionError) Unwrap() error { return e.err }

type Option func(*Model)

// WithPresenter makes the model run external steps itself instead of waiting
// for ResolveStep.
func WithPresenter(p Presenter) Option {
	return func(m *Model) { m.presenter = p }
}

// Model is the transaction state machine. Intents may be sent from any
// goroutine; State and Updates expose the latest snapshot.
type Model struct {
	eng       engine.Engine
	presenter Presenter

	intents  chan intent
	results  chan opResult
	stopChan chan struct{}
	doneChan chan struct{}

	lifecycle sync.Mutex
	started   bool
	stopped   bool

	mu      sync.RWMutex
	current State
	updates chan State

	// Owned by the loop goroutine.
	ctx         context.Context
	stepCtx     context.Context
	stepCancel  context.CancelFunc
	step        Step
	token       uint64
	ptx         transaction.PendingTransaction
	hasPtx      bool
	busy        bool
	queued      bool
	want        inputs
	feeRejected bool
	password    string
	external    engine.ExternalStep
	errState    errorstate.ErrorState
	result      *engine.Result
}

func New(eng engine.Engine, opts ...Option) *Model {
	m := &Model{
		eng:      eng,
		intents:  make(chan intent, 16),
		results:  make(chan opResult, 4),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		updates:  make(chan State, 1),
		current:  State{Step: StepUninitialized, Loading: true},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start initializes the transaction and begins processing intents.
func (m *Model) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.ctx = ctx

	zap.L().Info("Starting transaction flow", zap.String("engine", m.eng.Name()))
	go m.run(ctx)
}

// Stop tears the model down. A dispatched execution keeps running, only its
// result is no longer reported.
func (m *Model) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if !m.started || m.stopped {
		return
	}
	m.stopped = true
	close(m.stopChan)
	<-m.doneChan
	zap.L().Info("Transaction flow stopped", zap.String("engine", m.eng.Name()))
}

func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Updates delivers state snapshots. Only the latest unread snapshot is kept.
func (m *Model) Updates() <-chan State { return m.updates }

func (m *Model) SetAmount(amount money.Money) { m.send(intent{kind: intentAmount, amount: amount}) }

func (m *Model) SetFeeLevel(level transaction.FeeLevel, custom *money.Money) {
	m.send(intent{kind: intentFeeLevel, level: level, custom: custom})
}

func (m *Model) Acknowledge(kind transaction.ConfirmationKind) {
	m.send(intent{kind: intentAcknowledge, ack: kind})
}

func (m *Model) Confirm(secondPassword string) {
	m.send(intent{kind: intentConfirm, password: secondPassword})
}

func (m *Model) Back()   { m.send(intent{kind: intentBack}) }
func (m *Model) Cancel() { m.send(intent{kind: intentCancel}) }
func (m *Model) Retry()  { m.send(intent{kind: intentRetry}) }

// ResolveStep reports how the user left an external step when no Presenter is set.
func (m *Model) ResolveStep(outcome Outcome) {
	m.send(intent{kind: intentResolve, outcome: outcome})
}

func (m *Model) send(in intent) {
	select {
	case m.intents <- in:
	case <-m.doneChan:
	}
}

func (m *Model) run(ctx context.Context) {
	defer close(m.doneChan)

	m.initialize()
	m.publish()

	for {
		select {
		case in := <-m.intents:
			m.handleIntent(in)
		case r := <-m.results:
			m.handleResult(r)
		case <-m.stopChan:
			m.cancelStep()
			return
		case <-ctx.Done():
			m.cancelStep()
			return
		}
		m.publish()
	}
}

// enter moves to a new step, cancelling whatever the previous step still
// had in flight.
func (m *Model) enter(step Step) {
	m.cancelStep()
	m.token++
	m.busy, m.queued = false, false

	if !step.Terminal() {
		m.stepCtx, m.stepCancel = context.WithCancel(m.ctx)
	}
	if !step.Awaiting() {
		m.external = 0
	}
	if step != m.step {
		observability.FlowTransitions.WithLabelValues(step.String()).Inc()
		zap.L().Debug("Flow transition",
			zap.String("engine", m.eng.Name()),
			zap.Stringer("from", m.step),
			zap.Stringer("to", step))
	}
	m.step = step
}

func (m *Model) cancelStep() {
	if m.stepCancel != nil {
		m.stepCancel()
		m.stepCancel = nil
	}
}

func (m *Model) launch(kind opKind, ctx context.Context, fn func(ctx context.Context) opResult) {
	token := m.token
	go func() {
		r := fn(ctx)
		r.kind, r.token = kind, token
		select {
		case m.results <- r:
		case <-m.doneChan:
		}
	}()
}

func (m *Model) initialize() {
	m.enter(StepUninitialized)
	m.launch(opInitialize, m.stepCtx, func(ctx context.Context) opResult {
		ptx, err := m.eng.InitializeTransaction(ctx)
		return opResult{ptx: ptx, err: err}
	})
}

func (m *Model) handleIntent(in intent) {
	switch in.kind {
	case intentAmount:
		m.amountChanged(in.amount)
	case intentFeeLevel:
		m.feeLevelChanged(in.level, in.custom)
	case intentAcknowledge:
		if m.step == StepConfirming {
			m.ptx = m.ptx.AcknowledgeConfirmation(in.ack)
		}
	case intentConfirm:
		m.confirm(in.password)
	case intentBack:
		m.back()
	case intentCancel:
		m.cancel()
	case intentRetry:
		m.retry()
	case intentResolve:
		if m.step.Awaiting() {
			m.applyOutcome(in.outcome)
		}
	}
}

func (m *Model) amountChanged(amount money.Money) {
	switch m.step {
	case StepUninitialized:
		m.want.amount = &amount
	case StepEnteringAmount:
		m.want.amount = &amount
		m.requestRecompute()
	default:
		zap.L().Debug("Amount change ignored", zap.Stringer("step", m.step))
	}
}

func (m *Model) feeLevelChanged(level transaction.FeeLevel, custom *money.Money) {
	m.feeRejected = false
	switch m.step {
	case StepUninitialized:
		m.want.feeChosen, m.want.level, m.want.custom = true, level, custom
	case StepEnteringAmount:
		m.want.feeChosen, m.want.level, m.want.custom = true, level, custom
		m.requestRecompute()
	case StepConfirming:
		m.want.feeChosen, m.want.level, m.want.custom = true, level, custom
		base := m.ptx
		m.enter(StepBuildingConfirmations)
		m.launch(opBuildConfirmations, m.stepCtx, func(ctx context.Context) opResult {
			ptx, err := m.eng.DoUpdateFeeLevel(ctx, base, level, custom)
			if err != nil {
				return opResult{err: &optionError{err: err}}
			}
			ptx, err = m.eng.DoBuildConfirmations(ctx, ptx)
			return opResult{ptx: ptx, err: err}
		})
	default:
		zap.L().Debug("Fee level change ignored", zap.Stringer("step", m.step))
	}
}

// requestRecompute brings the snapshot in line with the entered amount and
// fee level. One recompute runs at a time; a request arriving meanwhile
// supersedes it and the superseded result is dropped.
func (m *Model) requestRecompute() {
	if m.busy {
		m.queued = true
		return
	}
	m.busy = true
	base, want := m.ptx, m.want
	m.launch(opRecompute, m.stepCtx, func(ctx context.Context) opResult {
		ptx, err := recompute(ctx, m.eng, base, want)
		return opResult{ptx: ptx, err: err}
	})
}

func recompute(ctx context.Context, eng engine.Engine, ptx transaction.PendingTransaction, want inputs) (transaction.PendingTransaction, error) {
	var err error
	if want.feeChosen && (ptx.FeeSelection().Selected() != want.level || want.level == transaction.FeeLevelCustom) {
		ptx, err = eng.DoUpdateFeeLevel(ctx, ptx, want.level, want.custom)
		if err != nil {
			return ptx, &optionError{err: err}
		}
	}
	if want.amount != nil {
		ptx, err = eng.Update(ctx, *want.amount, ptx)
		if err != nil {
			return ptx, err
		}
	}
	return eng.ValidateAmount(ctx, ptx)
}

func (m *Model) confirm(password string) {
	switch m.step {
	case StepEnteringAmount:
		if m.busy || m.queued || !m.hasPtx || !m.ptx.Validation.IsValid() || !m.reflectsInputs() {
			zap.L().Debug("Confirm ignored until the amount validates",
				zap.Bool("busy", m.busy), zap.Stringer("validation", m.ptx.Validation))
			return
		}
		m.buildConfirmations()
	case StepConfirming:
		if pending := m.ptx.PendingAcknowledgements(); len(pending) > 0 {
			m.errState = errorstate.ErrorState{Kind: errorstate.KindOptionInvalid, Message: "acknowledgements pending"}
			return
		}
		m.password = password
		m.validate()
	default:
		zap.L().Debug("Confirm ignored", zap.Stringer("step", m.step))
	}
}

// reflectsInputs reports whether the snapshot carries the last entered amount.
func (m *Model) reflectsInputs() bool {
	return m.want.amount == nil || m.ptx.Amount.Equal(*m.want.amount)
}

func (m *Model) buildConfirmations() {
	base := m.ptx
	m.enter(StepBuildingConfirmations)
	m.launch(opBuildConfirmations, m.stepCtx, func(ctx context.Context) opResult {
		ptx, err := m.eng.DoBuildConfirmations(ctx, base)
		return opResult{ptx: ptx, err: err}
	})
}

func (m *Model) validate() {
	base := m.ptx
	m.enter(StepValidating)
	m.launch(opValidate, m.stepCtx, func(ctx context.Context) opResult {
		ptx, err := m.eng.DoValidateAll(ctx, base)
		return opResult{ptx: ptx, err: err}
	})
}

// execute dispatches the confirmed snapshot. The call runs on a context
// that cancellation does not reach.
func (m *Model) execute() {
	snapshot, password := m.ptx, m.password
	m.password = ""
	m.enter(StepExecuting)
	name := m.eng.Name()
	m.launch(opExecute, context.WithoutCancel(m.stepCtx), func(ctx context.Context) opResult {
		start := time.Now()
		res, err := m.eng.Execute(ctx, snapshot, password)
		observability.ExecuteLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		observability.Executions.WithLabelValues(name, outcome).Inc()
		return opResult{result: res, err: err}
	})
}

func (m *Model) back() {
	switch {
	case m.step == StepUninitialized || m.step == StepEnteringAmount:
		m.cancel()
	case m.step == StepBuildingConfirmations || m.step == StepConfirming || m.step == StepValidating:
		m.ptx = m.ptx.WithConfirmations(nil)
		m.errState = errorstate.ErrorState{}
		m.enter(StepEnteringAmount)
	case m.step.Awaiting():
		m.enter(StepEnteringAmount)
	case m.step == StepFailed:
		if !m.hasPtx {
			m.cancel()
			return
		}
		m.ptx = m.ptx.WithConfirmations(nil)
		m.errState = errorstate.ErrorState{}
		m.enter(StepEnteringAmount)
	default:
		zap.L().Debug("Back ignored", zap.Stringer("step", m.step))
	}
}

func (m *Model) cancel() {
	if m.step.Terminal() {
		return
	}
	if m.step == StepExecuting {
		zap.L().Warn("Flow cancelled while executing, settlement result will not be reported",
			zap.String("engine", m.eng.Name()))
	}
	m.enter(StepCancelled)
}

// retry re-enters confirmation from a failed attempt. Confirmations are
// rebuilt so the next attempt is a new confirmed snapshot.
func (m *Model) retry() {
	if m.step != StepFailed || !m.hasPtx {
		return
	}
	m.errState = errorstate.ErrorState{}
	m.buildConfirmations()
}

func (m *Model) awaitExternal(step engine.ExternalStep) {
	m.enter(awaitingStep(step))
	m.external = step
	if m.presenter == nil {
		return
	}
	m.launch(opPresent, m.stepCtx, func(ctx context.Context) opResult {
		outcome, err := m.presenter.Present(ctx, step)
		if err != nil {
			zap.L().Warn("External step presenter failed", zap.Stringer("step", step), zap.Error(err))
			return opResult{outcome: OutcomeAbandoned}
		}
		return opResult{outcome: outcome}
	})
}

func (m *Model) applyOutcome(outcome Outcome) {
	zap.L().Info("External step finished", zap.Stringer("step", m.external), zap.Stringer("outcome", outcome))
	switch outcome {
	case OutcomeCompleted:
		completer, ok := m.eng.(engine.StepCompleter)
		if !ok {
			m.validate()
			return
		}
		base, step := m.ptx, m.external
		m.enter(StepValidating)
		m.launch(opValidate, m.stepCtx, func(ctx context.Context) opResult {
			completed, err := completer.CompleteExternalStep(ctx, base, step)
			if err != nil {
				return opResult{err: err}
			}
			ptx, err := m.eng.DoValidateAll(ctx, completed)
			if err != nil {
				return opResult{ptx: completed, keep: true, err: err}
			}
			return opResult{ptx: ptx}
		})
	case OutcomeAbandoned:
		m.enter(StepEnteringAmount)
	case OutcomeCancelled:
		m.cancel()
	}
}

func (m *Model) fail(err error) {
	m.errState = errorstate.FromError(err)
	zap.L().Warn("Transaction attempt failed",
		zap.String("engine", m.eng.Name()),
		zap.Stringer("error_kind", m.errState.Kind),
		zap.Error(err))
	m.enter(StepFailed)
}

func (m *Model) handleResult(r opResult) {
	if r.token != m.token {
		zap.L().Debug("Dropping stale result", zap.Int("op", int(r.kind)))
		return
	}

	switch r.kind {
	case opInitialize:
		if r.err != nil {
			m.errState = errorstate.ErrorState{Kind: errorstate.KindFatalError, Message: r.err.Error()}
			zap.L().Error("Failed to initialize transaction", zap.String("engine", m.eng.Name()), zap.Error(r.err))
			m.enter(StepFailed)
			return
		}
		m.ptx, m.hasPtx = r.ptx, true
		m.enter(StepEnteringAmount)
		if m.want.amount != nil || m.want.feeChosen {
			m.requestRecompute()
		}

	case opRecompute:
		m.busy = false
		if m.queued {
			m.queued = false
			m.requestRecompute()
			return
		}
		if r.err != nil {
			// The snapshot no longer matches what the user entered, so it
			// must not authorize a confirmation.
			m.ptx = m.ptx.WithValidation(transaction.Uninitialized())
			var oe *optionError
			if errors.As(r.err, &oe) {
				m.errState = errorstate.ErrorState{Kind: errorstate.KindOptionInvalid, Message: oe.Error()}
				m.want.feeChosen = false
				m.feeRejected = true
				m.requestRecompute()
				return
			}
			m.errState = errorstate.FromError(r.err)
			return
		}
		m.ptx = r.ptx
		if m.feeRejected && r.ptx.Validation.IsValid() {
			// keep reporting the rejected fee level until another is chosen
			break
		}
		m.errState = errorstate.FromValidation(r.ptx.Validation)

	case opBuildConfirmations:
		if r.err != nil {
			var oe *optionError
			if errors.As(r.err, &oe) {
				m.errState = errorstate.ErrorState{Kind: errorstate.KindOptionInvalid, Message: oe.Error()}
				m.want.feeChosen = false
				m.enter(StepConfirming)
				return
			}
			m.fail(r.err)
			return
		}
		m.ptx = r.ptx
		if r.ptx.Validation.Status == transaction.ValidationInvalid {
			m.errState = errorstate.FromValidation(r.ptx.Validation)
			m.enter(StepEnteringAmount)
			return
		}
		m.errState = errorstate.ErrorState{}
		m.enter(StepConfirming)

	case opValidate:
		if r.err != nil {
			if r.keep {
				m.ptx = r.ptx
			}
			var step *engine.ExternalStepError
			if errors.As(r.err, &step) {
				m.awaitExternal(step.Step)
				return
			}
			m.fail(r.err)
			return
		}
		m.ptx = r.ptx
		if !r.ptx.Validation.IsValid() {
			m.errState = errorstate.FromValidation(r.ptx.Validation)
			m.enter(StepEnteringAmount)
			return
		}
		m.errState = errorstate.ErrorState{}
		m.execute()

	case opExecute:
		if r.err != nil {
			var step *engine.ExternalStepError
			if errors.As(r.err, &step) {
				m.awaitExternal(step.Step)
				return
			}
			m.fail(r.err)
			return
		}
		res := r.result
		m.result = &res
		zap.L().Info("Transaction executed",
			zap.String("engine", m.eng.Name()),
			zap.String("reference", res.Reference),
			zap.String("amount", res.Amount.String()))
		m.enter(StepInProgress)
		m.launch(opPostExecute, m.stepCtx, func(ctx context.Context) opResult {
			return opResult{err: m.eng.DoPostExecute(ctx, res)}
		})

	case opPostExecute:
		if r.err != nil {
			zap.L().Warn("Post-execute notification failed", zap.String("engine", m.eng.Name()), zap.Error(r.err))
		}
		m.enter(StepCompleted)

	case opPresent:
		m.applyOutcome(r.outcome)
	}
}

func (m *Model) loading() bool {
	switch m.step {
	case StepUninitialized, StepBuildingConfirmations, StepValidating, StepExecuting, StepInProgress:
		return true
	}
	return m.busy
}

// publish stores the snapshot and replaces any unread update with it.
func (m *Model) publish() {
	st := State{
		Step:     m.step,
		Loading:  m.loading(),
		Error:    m.errState,
		Result:   m.result,
		External: m.external,
	}
	if m.hasPtx {
		p := m.ptx
		st.Pending = &p
	}

	m.mu.Lock()
	m.current = st
	m.mu.Unlock()

	select {
	case <-m.updates:
	default:
	}
	select {
	case m.updates <- st:
	default:
	}
}
