package errorstate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/transaction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromValidation_InsufficientFunds(t *testing.T) {
	v := transaction.Invalid(transaction.ValidationFailure{
		Code:    transaction.FailureInsufficientFunds,
		Balance: money.MustParse("1.0", money.BTC),
		Desired: money.MustParse("1.2", money.BTC),
	})

	s := FromValidation(v)
	assert.Equal(t, KindInsufficientFunds, s.Kind)
	require.NotNil(t, s.Balance)
	require.NotNil(t, s.Desired)
	assert.Nil(t, s.Limit)
	assert.Equal(t, "insufficient funds: balance 1 BTC, desired 1.2 BTC", s.String())
	assert.True(t, s.Recoverable())
}

func TestFromValidation_PersonalLimitSuggestsTier(t *testing.T) {
	tier := money.TierGold
	s := FromValidation(transaction.Invalid(transaction.ValidationFailure{
		Code:          transaction.FailureOverMaximumPersonalLimit,
		Limit:         money.MustParse("1000", money.USD),
		Timeframe:     money.TimeframeDaily,
		SuggestedTier: &tier,
	}))
	assert.Equal(t, KindOverMaximumPersonalLimit, s.Kind)
	assert.Contains(t, s.String(), "upgrade to gold")
}

func TestFromValidation_ValidIsZero(t *testing.T) {
	assert.True(t, FromValidation(transaction.Valid()).IsZero())
	assert.True(t, FromValidation(transaction.Uninitialized()).IsZero())
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"settlement", &engine.SettlementError{Engine: "trading_send", Err: errors.New("503")}, KindServiceError},
		{"in flight", fmt.Errorf("execute: %w", &engine.SettlementError{Failure: transaction.FailureTransactionInFlight, Err: errors.New("dup")}), KindTransactionInFlight},
		{"password", fmt.Errorf("broadcast rejected: %w", engine.ErrInvalidPassword), KindInvalidPassword},
		{"binding", fmt.Errorf("%w: nope", engine.ErrInvalidBinding), KindFatalError},
		{"timeout", context.DeadlineExceeded, KindServiceError},
		{"other", errors.New("boom"), KindUnknownError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromError(tt.err).Kind)
		})
	}
}

func TestFatalIsNotRecoverable(t *testing.T) {
	assert.False(t, ErrorState{Kind: KindFatalError}.Recoverable())
}
