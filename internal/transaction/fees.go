package transaction

import (
	"fmt"

	"prime-transaction-pipeline-go/internal/money"
)

// FeeLevel is a named fee tier
type FeeLevel int

const (
	FeeLevelNone FeeLevel = iota
	FeeLevelRegular
	FeeLevelPriority
	FeeLevelCustom
)

func (l FeeLevel) String() string {
	switch l {
	case FeeLevelNone:
		return "none"
	case FeeLevelRegular:
		return "regular"
	case FeeLevelPriority:
		return "priority"
	case FeeLevelCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseFeeLevel maps a level name to its FeeLevel.
func ParseFeeLevel(name string) (FeeLevel, error) {
	switch name {
	case "none":
		return FeeLevelNone, nil
	case "", "regular":
		return FeeLevelRegular, nil
	case "priority":
		return FeeLevelPriority, nil
	case "custom":
		return FeeLevelCustom, nil
	}
	return FeeLevelNone, fmt.Errorf("unknown fee level %q", name)
}

// FeeSelection records the fee levels an engine offers and the one chosen.
// The zero value is not valid; build it with NewFeeSelection.
type FeeSelection struct {
	available []FeeLevel
	selected  FeeLevel
	custom    money.Money
	hasCustom bool
}

// NewFeeSelection enforces that selected is one of available and that a
// custom amount is present exactly when the selected level is Custom.
func NewFeeSelection(available []FeeLevel, selected FeeLevel, custom *money.Money) (FeeSelection, error) {
	if len(available) == 0 {
		return FeeSelection{}, fmt.Errorf("fee selection needs at least one level")
	}
	found := false
	for _, l := range available {
		if l == selected {
			found = true
			break
		}
	}
	if !found {
		return FeeSelection{}, fmt.Errorf("fee level %s is not offered", selected)
	}
	if selected == FeeLevelCustom && custom == nil {
		return FeeSelection{}, fmt.Errorf("custom fee level requires an amount")
	}
	if selected != FeeLevelCustom && custom != nil {
		return FeeSelection{}, fmt.Errorf("custom amount given for fee level %s", selected)
	}
	if custom != nil && custom.IsNegative() {
		return FeeSelection{}, fmt.Errorf("custom fee %s is negative", custom)
	}

	fs := FeeSelection{
		available: append([]FeeLevel(nil), available...),
		selected:  selected,
	}
	if custom != nil {
		fs.custom = *custom
		fs.hasCustom = true
	}
	return fs, nil
}

// SingleFeeLevel is the selection for engines that only offer one tier.
func SingleFeeLevel(level FeeLevel) FeeSelection {
	return FeeSelection{available: []FeeLevel{level}, selected: level}
}

func (f FeeSelection) Available() []FeeLevel {
	return append([]FeeLevel(nil), f.available...)
}

func (f FeeSelection) Selected() FeeLevel { return f.selected }

func (f FeeSelection) CustomAmount() (money.Money, bool) {
	return f.custom, f.hasCustom
}

func (f FeeSelection) Offers(level FeeLevel) bool {
	for _, l := range f.available {
		if l == level {
			return true
		}
	}
	return false
}

// Select returns a copy with a different level chosen.
func (f FeeSelection) Select(level FeeLevel, custom *money.Money) (FeeSelection, error) {
	return NewFeeSelection(f.available, level, custom)
}
