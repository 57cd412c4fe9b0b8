package flow

import (
	"context"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/errorstate"
	"prime-transaction-pipeline-go/internal/transaction"
)

// Step is the coarse lifecycle position of a flow
type Step int

const (
	StepUninitialized Step = iota
	StepEnteringAmount
	StepBuildingConfirmations
	StepConfirming
	StepValidating
	StepExecuting
	StepAwaitingKYC
	StepAwaitingBankLink
	StepAwaitingCardLink
	StepAwaitingSecurityChallenge
	StepAwaitingBankWireInstructions
	StepInProgress
	StepCompleted
	StepFailed
	StepCancelled
)

var stepNames = map[Step]string{
	StepUninitialized:                "uninitialized",
	StepEnteringAmount:               "entering_amount",
	StepBuildingConfirmations:        "building_confirmations",
	StepConfirming:                   "confirming",
	StepValidating:                   "validating",
	StepExecuting:                    "executing",
	StepAwaitingKYC:                  "awaiting_kyc",
	StepAwaitingBankLink:             "awaiting_bank_link",
	StepAwaitingCardLink:             "awaiting_card_link",
	StepAwaitingSecurityChallenge:    "awaiting_security_challenge",
	StepAwaitingBankWireInstructions: "awaiting_bank_wire_instructions",
	StepInProgress:                   "in_progress",
	StepCompleted:                    "completed",
	StepFailed:                       "failed",
	StepCancelled:                    "cancelled",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no further transition can leave the step.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepCancelled
}

// Awaiting reports whether the step waits on an external precondition.
func (s Step) Awaiting() bool {
	switch s {
	case StepAwaitingKYC, StepAwaitingBankLink, StepAwaitingCardLink,
		StepAwaitingSecurityChallenge, StepAwaitingBankWireInstructions:
		return true
	}
	return false
}

func awaitingStep(step engine.ExternalStep) Step {
	switch step {
	case engine.StepKYC:
		return StepAwaitingKYC
	case engine.StepBankLink:
		return StepAwaitingBankLink
	case engine.StepCardLink:
		return StepAwaitingCardLink
	case engine.StepSecurityChallenge:
		return StepAwaitingSecurityChallenge
	case engine.StepBankWireInstructions:
		return StepAwaitingBankWireInstructions
	}
	return StepFailed
}

// State is the snapshot published to presentation after every transition.
type State struct {
	Step    Step
	Loading bool
	// Pending is nil until the transaction has been initialized.
	Pending  *transaction.PendingTransaction
	Error    errorstate.ErrorState
	Result   *engine.Result
	External engine.ExternalStep
}

// Outcome is how the user left an external step
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeAbandoned
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAbandoned:
		return "abandoned"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Presenter runs an external step (KYC, bank link, challenge) and reports
// how the user left it.
type Presenter interface {
	Present(ctx context.Context, step engine.ExternalStep) (Outcome, error)
}
