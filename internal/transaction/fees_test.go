package transaction

import (
	"testing"

	"prime-transaction-pipeline-go/internal/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeeSelection_Invariants(t *testing.T) {
	levels := []FeeLevel{FeeLevelRegular, FeeLevelPriority, FeeLevelCustom}
	custom := money.MustParse("0.0003", money.BTC)

	tests := []struct {
		name     string
		selected FeeLevel
		custom   *money.Money
		wantErr  bool
	}{
		{"regular", FeeLevelRegular, nil, false},
		{"priority", FeeLevelPriority, nil, false},
		{"custom with amount", FeeLevelCustom, &custom, false},
		{"custom without amount", FeeLevelCustom, nil, true},
		{"regular with amount", FeeLevelRegular, &custom, true},
		{"level not offered", FeeLevelNone, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := NewFeeSelection(levels, tt.selected, tt.custom)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, sel.Offers(sel.Selected()))
			_, hasCustom := sel.CustomAmount()
			assert.Equal(t, sel.Selected() == FeeLevelCustom, hasCustom)
		})
	}
}

func TestFeeSelection_SelectKeepsAvailableLevels(t *testing.T) {
	sel, err := NewFeeSelection([]FeeLevel{FeeLevelRegular, FeeLevelPriority}, FeeLevelRegular, nil)
	require.NoError(t, err)

	next, err := sel.Select(FeeLevelPriority, nil)
	require.NoError(t, err)
	assert.Equal(t, FeeLevelPriority, next.Selected())
	assert.Equal(t, sel.Available(), next.Available())
	assert.Equal(t, FeeLevelRegular, sel.Selected())

	_, err = sel.Select(FeeLevelCustom, nil)
	assert.Error(t, err)
}

func TestParseFeeLevel(t *testing.T) {
	level, err := ParseFeeLevel("priority")
	require.NoError(t, err)
	assert.Equal(t, FeeLevelPriority, level)

	level, err = ParseFeeLevel("")
	require.NoError(t, err)
	assert.Equal(t, FeeLevelRegular, level)

	_, err = ParseFeeLevel("turbo")
	assert.Error(t, err)
}
