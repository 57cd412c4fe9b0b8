package quotes

import (
	"context"
	"fmt"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/money"

	"go.uber.org/zap"
)

// StaticService answers fee, limits, tier, fiat preference and challenge
// questions from a loaded Schedule.
type StaticService struct {
	schedule *Schedule
	tier     money.Tier
	fiat     money.Currency
}

func NewStaticService(schedule *Schedule) (*StaticService, error) {
	tier, err := money.ParseTier(schedule.Tier)
	if err != nil {
		return nil, err
	}
	fiat := money.USD
	if schedule.Fiat != "" {
		fiat = money.LookupCurrency(schedule.Fiat)
		if !fiat.IsFiat() {
			return nil, fmt.Errorf("fiat currency %s is not a fiat currency", schedule.Fiat)
		}
	}

	zap.L().Info("Loaded fee schedule",
		zap.Int("assets", len(schedule.Assets)),
		zap.Stringer("tier", tier),
		zap.String("fiat", fiat.Code))

	return &StaticService{schedule: schedule, tier: tier, fiat: fiat}, nil
}

func (s *StaticService) FeeSchedule(ctx context.Context, asset money.Currency, action engine.Action) (engine.FeeSchedule, error) {
	a, ok := s.schedule.Asset(asset)
	if !ok {
		return engine.FeeSchedule{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Code)
	}
	fees, err := a.feeSchedule()
	if err != nil {
		return engine.FeeSchedule{}, fmt.Errorf("fee schedule for %s: %w", asset.Code, err)
	}

	schedule := engine.FeeSchedule{
		Currency:   fees.currency,
		Regular:    fees.regular,
		Priority:   fees.priority,
		Processing: fees.processing,
	}
	// Moves between custodial accounts never touch the chain.
	if action == engine.ActionInterestTransfer || action == engine.ActionInterestWithdraw {
		zero := money.Zero(fees.currency)
		schedule.Regular, schedule.Priority = zero, zero
		schedule.Processing = money.Zero(asset)
	}
	return schedule, nil
}

func (s *StaticService) TransactionLimits(ctx context.Context, req engine.LimitsRequest) (money.TransactionLimits, error) {
	a, ok := s.schedule.Asset(req.Currency)
	if !ok {
		return money.TransactionLimits{}, fmt.Errorf("%w: %s", ErrUnknownAsset, req.Currency.Code)
	}
	limits, err := a.limitsFor(s.tier)
	if err != nil {
		return money.TransactionLimits{}, fmt.Errorf("limits for %s at tier %s: %w", req.Currency.Code, s.tier, err)
	}
	limits.SuggestedUpgrade = a.upgradeFor(s.tier, limits)
	return limits, nil
}

func (s *StaticService) UserTier(ctx context.Context) (money.Tier, error) {
	return s.tier, nil
}

func (s *StaticService) FiatCurrency(ctx context.Context) (money.Currency, error) {
	return s.fiat, nil
}

// RequiresChallenge is true when the amount reaches the asset's
// challenge_above threshold. Assets without a threshold never require one.
func (s *StaticService) RequiresChallenge(ctx context.Context, amount money.Money) (bool, error) {
	a, ok := s.schedule.Asset(amount.Currency())
	if !ok || a.ChallengeAbove == "" {
		return false, nil
	}
	threshold, err := money.Parse(a.ChallengeAbove, amount.Currency())
	if err != nil {
		return false, fmt.Errorf("challenge threshold for %s: %w", amount.Currency().Code, err)
	}
	return !amount.LessThan(threshold), nil
}

// Network returns the settlement network configured for an asset.
func (s *StaticService) Network(asset money.Currency) (string, bool) {
	a, ok := s.schedule.Asset(asset)
	if !ok {
		return "", false
	}
	return a.Network, true
}

// Assets lists the currencies the schedule covers, in file order.
func (s *StaticService) Assets() []money.Currency {
	assets := make([]money.Currency, 0, len(s.schedule.Assets))
	for _, a := range s.schedule.Assets {
		assets = append(assets, a.currency())
	}
	return assets
}
