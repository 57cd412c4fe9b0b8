// Package quotes serves fee schedules, transaction limits and security
// challenge thresholds from a YAML schedule file, optionally overlaid with a
// live network fee feed.
package quotes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"prime-transaction-pipeline-go/internal/money"

	"gopkg.in/yaml.v2"
)

var (
	ErrUnknownAsset = errors.New("asset not in fee schedule")
	ErrNoLimits     = errors.New("no limits configured")
)

// FeeLevels are decimal strings in the fee currency
type FeeLevels struct {
	Regular    string `yaml:"regular"`
	Priority   string `yaml:"priority"`
	Processing string `yaml:"processing"`
}

// TierLimits are the spending limits granted to one verification tier.
type TierLimits struct {
	Minimum string `yaml:"minimum"`
	Maximum string `yaml:"maximum"`
	Daily   string `yaml:"daily"`
	Annual  string `yaml:"annual"`
}

type AssetSchedule struct {
	Symbol         string                `yaml:"symbol"`
	Network        string                `yaml:"network"`
	FeeCurrency    string                `yaml:"fee_currency"`
	Fees           FeeLevels             `yaml:"fees"`
	Limits         map[string]TierLimits `yaml:"limits"`
	ChallengeAbove string                `yaml:"challenge_above"`
}

// Schedule is the parsed schedule file.
type Schedule struct {
	Fiat   string          `yaml:"fiat"`
	Tier   string          `yaml:"tier"`
	Assets []AssetSchedule `yaml:"assets"`
}

func LoadSchedule(scheduleFile string) (*Schedule, error) {
	var schedulePath string
	if filepath.IsAbs(scheduleFile) {
		schedulePath = scheduleFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		schedulePath = filepath.Join(wd, scheduleFile)
	}

	data, err := os.ReadFile(schedulePath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", scheduleFile, err)
	}

	schedule, err := ParseSchedule(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", scheduleFile, err)
	}
	return schedule, nil
}

// ParseSchedule decodes and checks a schedule document.
func ParseSchedule(data []byte) (*Schedule, error) {
	var schedule Schedule
	if err := yaml.Unmarshal(data, &schedule); err != nil {
		return nil, err
	}

	if _, err := money.ParseTier(schedule.Tier); err != nil {
		return nil, err
	}

	for i, asset := range schedule.Assets {
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if asset.Network == "" && !asset.currency().IsFiat() {
			return nil, fmt.Errorf("asset at index %d missing network", i)
		}
		if _, err := asset.feeSchedule(); err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset.Symbol, err)
		}
		for tier := range asset.Limits {
			t, err := money.ParseTier(tier)
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", asset.Symbol, err)
			}
			if _, err := asset.limitsFor(t); err != nil {
				return nil, fmt.Errorf("asset %s tier %s: %w", asset.Symbol, tier, err)
			}
		}
	}

	return &schedule, nil
}

// Asset finds the schedule entry for a currency.
func (s *Schedule) Asset(currency money.Currency) (AssetSchedule, bool) {
	for _, a := range s.Assets {
		if money.LookupCurrency(a.Symbol).Code == currency.Code {
			return a, true
		}
	}
	return AssetSchedule{}, false
}

func (a AssetSchedule) currency() money.Currency { return money.LookupCurrency(a.Symbol) }

func (a AssetSchedule) feeCurrency() money.Currency {
	if a.FeeCurrency == "" {
		return a.currency()
	}
	return money.LookupCurrency(a.FeeCurrency)
}

type parsedFees struct {
	currency   money.Currency
	regular    money.Money
	priority   money.Money
	processing money.Money
}

func (a AssetSchedule) feeSchedule() (parsedFees, error) {
	feeCur := a.feeCurrency()
	regular, err := parseOrZero(a.Fees.Regular, feeCur)
	if err != nil {
		return parsedFees{}, err
	}
	priority, err := parseOrZero(a.Fees.Priority, feeCur)
	if err != nil {
		return parsedFees{}, err
	}
	if priority.IsZero() {
		priority = regular
	}
	// Processing fees are charged by the custodian in the asset itself.
	processing, err := parseOrZero(a.Fees.Processing, a.currency())
	if err != nil {
		return parsedFees{}, err
	}
	return parsedFees{currency: feeCur, regular: regular, priority: priority, processing: processing}, nil
}

func (a AssetSchedule) limitsFor(tier money.Tier) (money.TransactionLimits, error) {
	raw, ok := a.Limits[tier.String()]
	if !ok {
		return money.TransactionLimits{}, ErrNoLimits
	}
	cur := a.currency()

	minimum, err := parseOrZero(raw.Minimum, cur)
	if err != nil {
		return money.TransactionLimits{}, err
	}
	maximum, err := money.Parse(raw.Maximum, cur)
	if err != nil {
		return money.TransactionLimits{}, err
	}
	daily := maximum
	if raw.Daily != "" {
		if daily, err = money.Parse(raw.Daily, cur); err != nil {
			return money.TransactionLimits{}, err
		}
	}
	annual := daily
	if raw.Annual != "" {
		if annual, err = money.Parse(raw.Annual, cur); err != nil {
			return money.TransactionLimits{}, err
		}
	}

	limits := money.TransactionLimits{
		Currency:       cur,
		Minimum:        minimum,
		Maximum:        maximum,
		MaximumDaily:   daily,
		MaximumAnnual:  annual,
		EffectiveLimit: money.EffectiveLimit{Timeframe: money.TimeframeDaily, Value: daily},
	}
	if raw.Daily == "" {
		limits.EffectiveLimit.Timeframe = money.TimeframeSingle
	}
	if err := limits.Validate(); err != nil {
		return money.TransactionLimits{}, err
	}
	return limits, nil
}

// upgradeFor returns the lowest tier above the given one whose daily limit
// is higher.
func (a AssetSchedule) upgradeFor(tier money.Tier, current money.TransactionLimits) *money.SuggestedUpgrade {
	for next := tier + 1; next <= money.TierGold; next++ {
		limits, err := a.limitsFor(next)
		if err != nil {
			continue
		}
		if limits.MaximumDaily.GreaterThan(current.MaximumDaily) {
			return &money.SuggestedUpgrade{RequiredTier: next}
		}
	}
	return nil
}

func parseOrZero(value string, currency money.Currency) (money.Money, error) {
	if value == "" {
		return money.Zero(currency), nil
	}
	m, err := money.Parse(value, currency)
	if err != nil {
		return money.Money{}, err
	}
	if m.IsNegative() {
		return money.Money{}, fmt.Errorf("amount %s is negative", m)
	}
	return m, nil
}
