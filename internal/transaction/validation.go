package transaction

import (
	"fmt"

	"prime-transaction-pipeline-go/internal/money"
)

// ValidationStatus is the coarse outcome of the last validation pass
type ValidationStatus int

const (
	ValidationUninitialized ValidationStatus = iota
	ValidationValid
	ValidationInvalid
	ValidationCanNotBuild
	ValidationPendingFetch
)

func (s ValidationStatus) String() string {
	switch s {
	case ValidationUninitialized:
		return "uninitialized"
	case ValidationValid:
		return "valid"
	case ValidationInvalid:
		return "invalid"
	case ValidationCanNotBuild:
		return "can_not_build"
	case ValidationPendingFetch:
		return "pending_fetch"
	default:
		return "unknown"
	}
}

// FailureCode names an expected, user-recoverable validation failure
type FailureCode int

const (
	FailureInsufficientFunds FailureCode = iota + 1
	FailureBelowFees
	FailureBelowMinimumLimit
	FailureOverMaximumSourceLimit
	FailureOverMaximumPersonalLimit
	FailureAddressIsContract
	FailureInvalidAddress
	FailureInvalidPassword
	FailureOptionInvalid
	FailurePendingOrdersLimitReached
	FailureTransactionInFlight
)

var failureNames = map[FailureCode]string{
	FailureInsufficientFunds:         "insufficient_funds",
	FailureBelowFees:                 "below_fees",
	FailureBelowMinimumLimit:         "below_minimum_limit",
	FailureOverMaximumSourceLimit:    "over_maximum_source_limit",
	FailureOverMaximumPersonalLimit:  "over_maximum_personal_limit",
	FailureAddressIsContract:         "address_is_contract",
	FailureInvalidAddress:            "invalid_address",
	FailureInvalidPassword:           "invalid_password",
	FailureOptionInvalid:             "option_invalid",
	FailurePendingOrdersLimitReached: "pending_orders_limit_reached",
	FailureTransactionInFlight:       "transaction_in_flight",
}

func (c FailureCode) String() string {
	if n, ok := failureNames[c]; ok {
		return n
	}
	return fmt.Sprintf("failure(%d)", int(c))
}

// ValidationFailure carries the numeric context needed to explain a failure.
// Fields that do not apply to a code are left zero.
type ValidationFailure struct {
	Code          FailureCode
	Balance       money.Money
	Desired       money.Money
	Limit         money.Money
	Fee           money.Money
	Timeframe     money.Timeframe
	SuggestedTier *money.Tier
}

// ValidationState is the validation outcome carried by a PendingTransaction
type ValidationState struct {
	Status  ValidationStatus
	Failure *ValidationFailure
}

func Valid() ValidationState { return ValidationState{Status: ValidationValid} }

func Uninitialized() ValidationState { return ValidationState{Status: ValidationUninitialized} }

func PendingFetch() ValidationState { return ValidationState{Status: ValidationPendingFetch} }

func CanNotBuild() ValidationState { return ValidationState{Status: ValidationCanNotBuild} }

func Invalid(f ValidationFailure) ValidationState {
	return ValidationState{Status: ValidationInvalid, Failure: &f}
}

func (v ValidationState) IsValid() bool { return v.Status == ValidationValid }

func (v ValidationState) String() string {
	if v.Status == ValidationInvalid && v.Failure != nil {
		return "invalid(" + v.Failure.Code.String() + ")"
	}
	return v.Status.String()
}
