package engine

import (
	"errors"
	"fmt"

	"prime-transaction-pipeline-go/internal/transaction"
)

var (
	ErrInvalidBinding     = errors.New("invalid engine binding")
	ErrUnsupportedBinding = errors.New("no engine for binding")
	ErrInvalidPassword    = errors.New("invalid second password")
	ErrNotConfirmed       = errors.New("acknowledgements pending")
)

// ExternalStep is a precondition the user resolves outside the flow
type ExternalStep int

const (
	StepKYC ExternalStep = iota + 1
	StepBankLink
	StepCardLink
	StepSecurityChallenge
	StepBankWireInstructions
)

func (s ExternalStep) String() string {
	switch s {
	case StepKYC:
		return "kyc"
	case StepBankLink:
		return "bank_link"
	case StepCardLink:
		return "card_link"
	case StepSecurityChallenge:
		return "security_challenge"
	case StepBankWireInstructions:
		return "bank_wire_instructions"
	default:
		return "unknown"
	}
}

// ExternalStepError reports a recoverable precondition gap from DoValidateAll
// or Execute.
type ExternalStepError struct {
	Step   ExternalStep
	Reason string
}

func (e *ExternalStepError) Error() string {
	return fmt.Sprintf("external step %s required: %s", e.Step, e.Reason)
}

// SettlementError wraps a failure from the settlement channel. Failure is set
// when the channel rejected the transaction for a reason the user can act on.
type SettlementError struct {
	Engine    string
	Reference string
	Failure   transaction.FailureCode
	Err       error
}

func (e *SettlementError) Error() string {
	if e.Failure != 0 {
		return fmt.Sprintf("%s settlement %s rejected (%s): %v", e.Engine, e.Reference, e.Failure, e.Err)
	}
	return fmt.Sprintf("%s settlement %s failed: %v", e.Engine, e.Reference, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }
