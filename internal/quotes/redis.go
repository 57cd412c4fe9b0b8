package quotes

import (
	"context"
	"fmt"
	"strings"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/money"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const feeKeyPrefix = "fees:"

// RedisFeeSource overlays live network fee levels on a base FeeService. The
// feed publishes a hash per asset at fees:<SYMBOL> with optional regular,
// priority and processing fields. Fields that are absent keep the base value.
type RedisFeeSource struct {
	client redis.Cmdable
	base   engine.FeeService
}

func NewRedisFeeSource(client redis.Cmdable, base engine.FeeService) *RedisFeeSource {
	return &RedisFeeSource{client: client, base: base}
}

// FeeKey is the hash key holding live fees for an asset.
func FeeKey(asset money.Currency) string {
	return feeKeyPrefix + strings.ToUpper(asset.Code)
}

func (r *RedisFeeSource) FeeSchedule(ctx context.Context, asset money.Currency, action engine.Action) (engine.FeeSchedule, error) {
	schedule, err := r.base.FeeSchedule(ctx, asset, action)
	if err != nil {
		return engine.FeeSchedule{}, err
	}
	if action == engine.ActionInterestTransfer || action == engine.ActionInterestWithdraw {
		return schedule, nil
	}

	fields, err := r.client.HGetAll(ctx, FeeKey(asset)).Result()
	if err != nil {
		return engine.FeeSchedule{}, fmt.Errorf("failed to read live fees for %s: %w", asset.Code, err)
	}
	if len(fields) == 0 {
		zap.L().Debug("No live fees published, using schedule", zap.String("asset", asset.Code))
		return schedule, nil
	}

	if v, ok := fields["regular"]; ok {
		if schedule.Regular, err = parseOrZero(v, schedule.Currency); err != nil {
			return engine.FeeSchedule{}, fmt.Errorf("live regular fee for %s: %w", asset.Code, err)
		}
	}
	if v, ok := fields["priority"]; ok {
		if schedule.Priority, err = parseOrZero(v, schedule.Currency); err != nil {
			return engine.FeeSchedule{}, fmt.Errorf("live priority fee for %s: %w", asset.Code, err)
		}
	}
	if v, ok := fields["processing"]; ok {
		if schedule.Processing, err = parseOrZero(v, asset); err != nil {
			return engine.FeeSchedule{}, fmt.Errorf("live processing fee for %s: %w", asset.Code, err)
		}
	}
	if schedule.Priority.LessThan(schedule.Regular) {
		schedule.Priority = schedule.Regular
	}

	zap.L().Debug("Applied live fees",
		zap.String("asset", asset.Code),
		zap.String("regular", schedule.Regular.String()),
		zap.String("priority", schedule.Priority.String()))
	return schedule, nil
}
