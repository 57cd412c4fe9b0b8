package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterestAccountId(t *testing.T) {
	assert.Equal(t, "user-1:interest", InterestAccountId("user-1"))
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	errs := []error{ErrDuplicateTransaction, ErrConcurrentModification, ErrInsufficientBalance, ErrNotSupported}
	for i := range errs {
		for j := range errs {
			if i != j {
				assert.NotErrorIs(t, errs[i], errs[j])
			}
		}
	}

	var _ LedgerStore
}
