// Package errorstate maps validation failures and execution errors to the
// user-facing error state a flow ends in.
package errorstate

import (
	"context"
	"errors"
	"fmt"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/transaction"
)

// Kind is the user-facing error category
type Kind int

const (
	KindNone Kind = iota
	KindInsufficientFunds
	KindBelowFees
	KindBelowMinimumLimit
	KindOverMaximumSourceLimit
	KindOverMaximumPersonalLimit
	KindAddressIsContract
	KindInvalidAddress
	KindInvalidPassword
	KindOptionInvalid
	KindPendingOrdersLimitReached
	KindTransactionInFlight
	// KindServiceError is a failure reported by a custodial backend service.
	KindServiceError
	KindUnknownError
	KindFatalError
)

var kindNames = map[Kind]string{
	KindNone:                      "none",
	KindInsufficientFunds:         "insufficient_funds",
	KindBelowFees:                 "below_fees",
	KindBelowMinimumLimit:         "below_minimum_limit",
	KindOverMaximumSourceLimit:    "over_maximum_source_limit",
	KindOverMaximumPersonalLimit:  "over_maximum_personal_limit",
	KindAddressIsContract:         "address_is_contract",
	KindInvalidAddress:            "invalid_address",
	KindInvalidPassword:           "invalid_password",
	KindOptionInvalid:             "option_invalid",
	KindPendingOrdersLimitReached: "pending_orders_limit_reached",
	KindTransactionInFlight:       "transaction_in_flight",
	KindServiceError:              "service_error",
	KindUnknownError:              "unknown_error",
	KindFatalError:                "fatal_error",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var failureKinds = map[transaction.FailureCode]Kind{
	transaction.FailureInsufficientFunds:         KindInsufficientFunds,
	transaction.FailureBelowFees:                 KindBelowFees,
	transaction.FailureBelowMinimumLimit:         KindBelowMinimumLimit,
	transaction.FailureOverMaximumSourceLimit:    KindOverMaximumSourceLimit,
	transaction.FailureOverMaximumPersonalLimit:  KindOverMaximumPersonalLimit,
	transaction.FailureAddressIsContract:         KindAddressIsContract,
	transaction.FailureInvalidAddress:            KindInvalidAddress,
	transaction.FailureInvalidPassword:           KindInvalidPassword,
	transaction.FailureOptionInvalid:             KindOptionInvalid,
	transaction.FailurePendingOrdersLimitReached: KindPendingOrdersLimitReached,
	transaction.FailureTransactionInFlight:       KindTransactionInFlight,
}

// ErrorState is the terminal or blocking error shown to the user. Amount
// fields are set only for the kinds that carry them.
type ErrorState struct {
	Kind          Kind
	Balance       *money.Money
	Desired       *money.Money
	Fee           *money.Money
	Limit         *money.Money
	Timeframe     money.Timeframe
	SuggestedTier *money.Tier
	Message       string
}

func (s ErrorState) IsZero() bool { return s.Kind == KindNone }

// Recoverable reports whether the user can fix the problem and retry
// without restarting the flow.
func (s ErrorState) Recoverable() bool {
	switch s.Kind {
	case KindFatalError, KindNone:
		return false
	default:
		return true
	}
}

func (s ErrorState) String() string {
	switch s.Kind {
	case KindInsufficientFunds:
		return fmt.Sprintf("insufficient funds: balance %s, desired %s", display(s.Balance), display(s.Desired))
	case KindBelowFees:
		return fmt.Sprintf("balance %s does not cover fee %s", display(s.Balance), display(s.Fee))
	case KindBelowMinimumLimit:
		return fmt.Sprintf("amount below minimum %s", display(s.Limit))
	case KindOverMaximumSourceLimit:
		return fmt.Sprintf("amount above maximum %s", display(s.Limit))
	case KindOverMaximumPersonalLimit:
		msg := fmt.Sprintf("amount above %s limit %s", s.Timeframe, display(s.Limit))
		if s.SuggestedTier != nil {
			msg += fmt.Sprintf(" (upgrade to %s to raise it)", *s.SuggestedTier)
		}
		return msg
	}
	if s.Message != "" {
		return s.Kind.String() + ": " + s.Message
	}
	return s.Kind.String()
}

func display(m *money.Money) string {
	if m == nil {
		return "-"
	}
	return m.Display()
}

// FromValidation builds the error state for a failed validation.
func FromValidation(v transaction.ValidationState) ErrorState {
	if v.Status != transaction.ValidationInvalid || v.Failure == nil {
		return ErrorState{}
	}
	return FromFailure(*v.Failure)
}

func FromFailure(f transaction.ValidationFailure) ErrorState {
	kind, ok := failureKinds[f.Code]
	if !ok {
		return ErrorState{Kind: KindUnknownError, Message: f.Code.String()}
	}
	s := ErrorState{Kind: kind, Timeframe: f.Timeframe, SuggestedTier: f.SuggestedTier}
	s.Balance = present(f.Balance)
	s.Desired = present(f.Desired)
	s.Fee = present(f.Fee)
	s.Limit = present(f.Limit)
	return s
}

func present(m money.Money) *money.Money {
	if m.Currency().Code == "" {
		return nil
	}
	return &m
}

// FromError classifies an error returned by an engine operation.
// Settlement failures with a specific reason keep it; other settlement
// failures are service errors. Binding and programming errors are fatal.
func FromError(err error) ErrorState {
	if err == nil {
		return ErrorState{}
	}

	var se *engine.SettlementError
	switch {
	case errors.As(err, &se):
		if kind, ok := failureKinds[se.Failure]; ok {
			return ErrorState{Kind: kind, Message: se.Error()}
		}
		return ErrorState{Kind: KindServiceError, Message: se.Error()}
	case errors.Is(err, engine.ErrInvalidPassword):
		return ErrorState{Kind: KindInvalidPassword, Message: err.Error()}
	case errors.Is(err, engine.ErrInvalidBinding), errors.Is(err, engine.ErrUnsupportedBinding):
		return ErrorState{Kind: KindFatalError, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorState{Kind: KindServiceError, Message: err.Error()}
	}
	return ErrorState{Kind: KindUnknownError, Message: err.Error()}
}
