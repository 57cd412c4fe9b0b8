package money

import "fmt"

// Timeframe is the window an effective limit applies to
type Timeframe int

const (
	TimeframeSingle Timeframe = iota
	TimeframeDaily
	TimeframeMonthly
	TimeframeYearly
)

func (t Timeframe) String() string {
	switch t {
	case TimeframeSingle:
		return "single"
	case TimeframeDaily:
		return "daily"
	case TimeframeMonthly:
		return "monthly"
	case TimeframeYearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// Tier is the user's KYC verification level
type Tier int

const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	default:
		return "unknown"
	}
}

// ParseTier maps a tier name to its Tier value.
func ParseTier(name string) (Tier, error) {
	switch name {
	case "", "none":
		return TierNone, nil
	case "bronze":
		return TierBronze, nil
	case "silver":
		return TierSilver, nil
	case "gold":
		return TierGold, nil
	}
	return TierNone, fmt.Errorf("unknown tier %q", name)
}

// EffectiveLimit is the binding ceiling for its timeframe
type EffectiveLimit struct {
	Timeframe Timeframe
	Value     Money
}

// SuggestedUpgrade hints that a higher tier would raise the limit
type SuggestedUpgrade struct {
	RequiredTier Tier
}

// TransactionLimits is the layered spending limit structure for one currency.
type TransactionLimits struct {
	Currency         Currency
	Minimum          Money
	Maximum          Money
	MaximumDaily     Money
	MaximumAnnual    Money
	EffectiveLimit   EffectiveLimit
	SuggestedUpgrade *SuggestedUpgrade
}

// NoLimits returns limits that never bind: zero minimum and maximums equal to ceiling.
func NoLimits(currency Currency, ceiling Money) TransactionLimits {
	return TransactionLimits{
		Currency:       currency,
		Minimum:        Zero(currency),
		Maximum:        ceiling,
		MaximumDaily:   ceiling,
		MaximumAnnual:  ceiling,
		EffectiveLimit: EffectiveLimit{Timeframe: TimeframeSingle, Value: ceiling},
	}
}

// Validate checks minimum <= maximum <= maximumDaily <= maximumAnnual.
func (l TransactionLimits) Validate() error {
	for _, m := range []Money{l.Minimum, l.Maximum, l.MaximumDaily, l.MaximumAnnual, l.EffectiveLimit.Value} {
		if m.Currency().Code != l.Currency.Code {
			return fmt.Errorf("limit %s is not in %s", m, l.Currency.Code)
		}
		if m.IsNegative() {
			return fmt.Errorf("limit %s is negative", m)
		}
	}
	if l.Minimum.GreaterThan(l.Maximum) {
		return fmt.Errorf("minimum %s exceeds maximum %s", l.Minimum, l.Maximum)
	}
	if l.Maximum.GreaterThan(l.MaximumDaily) {
		return fmt.Errorf("maximum %s exceeds daily maximum %s", l.Maximum, l.MaximumDaily)
	}
	if l.MaximumDaily.GreaterThan(l.MaximumAnnual) {
		return fmt.Errorf("daily maximum %s exceeds annual maximum %s", l.MaximumDaily, l.MaximumAnnual)
	}
	return nil
}
