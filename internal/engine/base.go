package engine

import (
	"context"
	"errors"
	"fmt"

	"prime-transaction-pipeline-go/internal/cache"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/store"
	"prime-transaction-pipeline-go/internal/transaction"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// limitsSnapshot is what the limits cache holds: the limit set plus the tier
// it was computed for.
type limitsSnapshot struct {
	Limits money.TransactionLimits
	Tier   money.Tier
}

// base carries the collaborators and caches every engine shares.
type base struct {
	name    string
	binding Binding
	deps    Deps

	fees   *cache.Cache[FeeSchedule]
	limits *cache.Cache[limitsSnapshot]
}

func newBase(name string, b Binding, deps Deps) base {
	feeOpts := []cache.Option[FeeSchedule]{}
	limitOpts := []cache.Option[limitsSnapshot]{}
	if deps.Clock != nil {
		feeOpts = append(feeOpts, cache.WithClock[FeeSchedule](deps.Clock))
		limitOpts = append(limitOpts, cache.WithClock[limitsSnapshot](deps.Clock))
	}

	asset := b.Source.Currency()
	fees := cache.New(name+".fees", deps.CacheTTL, func(ctx context.Context) (FeeSchedule, error) {
		if deps.Fees == nil {
			return FeeSchedule{Currency: asset, Regular: money.Zero(asset), Priority: money.Zero(asset), Processing: money.Zero(asset)}, nil
		}
		return deps.Fees.FeeSchedule(ctx, asset, b.Action)
	}, feeOpts...)

	req := LimitsRequest{Currency: asset, Action: b.Action, Source: b.Source.Kind(), Target: b.Target.Kind()}
	limits := cache.New(name+".limits", deps.CacheTTL, func(ctx context.Context) (limitsSnapshot, error) {
		if deps.Limits == nil {
			return limitsSnapshot{Tier: money.TierGold}, nil
		}
		l, err := deps.Limits.TransactionLimits(ctx, req)
		if err != nil {
			return limitsSnapshot{}, fmt.Errorf("failed to fetch limits: %w", err)
		}
		if err := l.Validate(); err != nil {
			return limitsSnapshot{}, fmt.Errorf("invalid limits for %s: %w", asset.Code, err)
		}
		tier, err := deps.Limits.UserTier(ctx)
		if err != nil {
			return limitsSnapshot{}, fmt.Errorf("failed to fetch user tier: %w", err)
		}
		return limitsSnapshot{Limits: l, Tier: tier}, nil
	}, limitOpts...)

	return base{name: name, binding: b, deps: deps, fees: fees, limits: limits}
}

func (b *base) Name() string { return b.name }

// initialData is everything InitializeTransaction fetches up front
type initialData struct {
	fiat      money.Currency
	fees      FeeSchedule
	available money.Money
	limits    limitsSnapshot
}

// fetchInitial loads wallet currency, fees, balance and limits concurrently.
// Fees and limits go through the caches' strict path.
func (b *base) fetchInitial(ctx context.Context) (initialData, error) {
	var d initialData
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if b.deps.Settings == nil {
			d.fiat = money.USD
			return nil
		}
		fiat, err := b.deps.Settings.FiatCurrency(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch fiat currency: %w", err)
		}
		d.fiat = fiat
		return nil
	})
	g.Go(func() error {
		fees, err := b.fees.Fetch(gctx)
		if err != nil {
			return err
		}
		d.fees = fees
		return nil
	})
	g.Go(func() error {
		available, err := b.binding.Source.ActionableBalance(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch balance: %w", err)
		}
		d.available = available
		return nil
	})
	g.Go(func() error {
		limits, err := b.limits.Fetch(gctx)
		if err != nil {
			return err
		}
		d.limits = limits
		return nil
	})

	if err := g.Wait(); err != nil {
		zap.L().Warn("Failed to initialize transaction", zap.String("engine", b.name), zap.Error(err))
		return initialData{}, fmt.Errorf("initialize %s: %w", b.name, err)
	}
	return d, nil
}

// currentFees and currentLimits serve the last good value when a refresh fails.
func (b *base) currentFees(ctx context.Context) (FeeSchedule, error) {
	return b.fees.FetchStale(ctx)
}

func (b *base) currentLimits(ctx context.Context) (limitsSnapshot, error) {
	return b.limits.FetchStale(ctx)
}

// invalidate drops cached limits after a successful execution since usage changed.
func (b *base) invalidate() {
	b.limits.Invalidate()
}

// applyLimits attaches limits to the snapshot unless the source has none.
func applyLimits(ptx transaction.PendingTransaction, snap limitsSnapshot) transaction.PendingTransaction {
	if snap.Limits.Currency.Code == "" {
		return ptx
	}
	return ptx.WithLimits(snap.Limits)
}

// checkAmount runs the amount checks in precedence order: balance, fees,
// minimum, source maximum, personal maximum. feeBalance is only consulted when
// the fee is paid from a different balance.
func checkAmount(ptx transaction.PendingTransaction, feeBalance *money.Money) transaction.ValidationState {
	if !ptx.Amount.IsPositive() {
		return transaction.Uninitialized()
	}

	if ptx.AmountWithFee().GreaterThan(ptx.Available) {
		return transaction.Invalid(transaction.ValidationFailure{
			Code:    transaction.FailureInsufficientFunds,
			Balance: ptx.Available,
			Desired: ptx.Amount,
			Fee:     ptx.FeeAmount,
		})
	}

	if !ptx.FeeInAmountCurrency() && feeBalance != nil && ptx.FeeAmount.IsPositive() &&
		ptx.FeeAmount.SameCurrency(*feeBalance) && ptx.FeeAmount.GreaterThan(*feeBalance) {
		return transaction.Invalid(transaction.ValidationFailure{
			Code:    transaction.FailureBelowFees,
			Balance: *feeBalance,
			Desired: ptx.Amount,
			Fee:     ptx.FeeAmount,
		})
	}

	limits := ptx.Limits
	if limits == nil || limits.Currency.Code != ptx.Amount.Currency().Code {
		return transaction.Valid()
	}

	if ptx.Amount.LessThan(limits.Minimum) {
		return transaction.Invalid(transaction.ValidationFailure{
			Code:    transaction.FailureBelowMinimumLimit,
			Desired: ptx.Amount,
			Limit:   limits.Minimum,
		})
	}
	if ptx.Amount.GreaterThan(limits.Maximum) {
		return transaction.Invalid(transaction.ValidationFailure{
			Code:    transaction.FailureOverMaximumSourceLimit,
			Desired: ptx.Amount,
			Limit:   limits.Maximum,
		})
	}

	personal := []money.EffectiveLimit{
		limits.EffectiveLimit,
		{Timeframe: money.TimeframeDaily, Value: limits.MaximumDaily},
		{Timeframe: money.TimeframeYearly, Value: limits.MaximumAnnual},
	}
	for _, l := range personal {
		if l.Value.Currency().Code != limits.Currency.Code {
			continue
		}
		if ptx.Amount.GreaterThan(l.Value) {
			f := transaction.ValidationFailure{
				Code:      transaction.FailureOverMaximumPersonalLimit,
				Desired:   ptx.Amount,
				Limit:     l.Value,
				Timeframe: l.Timeframe,
			}
			if limits.SuggestedUpgrade != nil {
				tier := limits.SuggestedUpgrade.RequiredTier
				f.SuggestedTier = &tier
			}
			return transaction.Invalid(f)
		}
	}

	return transaction.Valid()
}

// commonConfirmations builds the lines every engine shows: source,
// destination, amount, fee level and fee when applicable, and total.
func (b *base) commonConfirmations(ptx transaction.PendingTransaction, feeKind transaction.ConfirmationKind, feeLabel string) []transaction.Confirmation {
	lines := []transaction.Confirmation{
		transaction.TextLine(transaction.ConfirmSource, "From", b.binding.Source.Label()),
		transaction.TextLine(transaction.ConfirmDestination, "To", b.binding.Target.Label()),
		transaction.AmountLine(transaction.ConfirmAmount, "Amount", ptx.Amount),
	}

	sel := ptx.FeeSelection()
	if len(sel.Available()) > 1 {
		lines = append(lines, transaction.TextLine(transaction.ConfirmFeeSelection, "Fee level", sel.Selected().String()))
	}
	if sel.Selected() != transaction.FeeLevelNone {
		lines = append(lines, transaction.AmountLine(feeKind, feeLabel, ptx.FeeAmount))
	}

	if ptx.FeeInAmountCurrency() {
		lines = append(lines, transaction.AmountLine(transaction.ConfirmTotal, "Total", ptx.AmountWithFee()))
	} else {
		lines = append(lines, transaction.TextLine(transaction.ConfirmTotal, "Total",
			ptx.Amount.Display()+" + "+ptx.FeeAmount.Display()))
	}
	return lines
}

// reserve debits the source ledger account ahead of an external submission.
func (b *base) reserve(ctx context.Context, amount money.Money, reference, destination, network string) error {
	err := b.deps.Ledger.ReserveWithdrawal(ctx, store.ReserveParams{
		AccountId:   b.binding.Source.ID(),
		Asset:       amount.Currency().Code,
		Amount:      amount.Amount(),
		Reference:   reference,
		Destination: destination,
		Network:     network,
	})
	if err == nil {
		return nil
	}
	se := &SettlementError{Engine: b.name, Reference: reference, Err: err}
	switch {
	case errors.Is(err, store.ErrDuplicateTransaction):
		se.Failure = transaction.FailureTransactionInFlight
	case errors.Is(err, store.ErrInsufficientBalance):
		se.Failure = transaction.FailureInsufficientFunds
	}
	return se
}

// rollback undoes a reservation whose external submission failed. A native
// revert is tried first, then a compensating credit.
func (b *base) rollback(ctx context.Context, amount money.Money, reference string) {
	zap.L().Warn("Rolling back reservation",
		zap.String("engine", b.name),
		zap.String("reference", reference),
		zap.String("amount", amount.String()))

	err := b.deps.Ledger.RevertTransaction(ctx, reference)
	if err == nil {
		return
	}
	zap.L().Info("Native revert unavailable, reversing with compensating credit",
		zap.String("reference", reference), zap.Error(err))

	if err := b.deps.Ledger.ReverseWithdrawal(ctx, b.binding.Source.ID(), amount.Currency().Code, amount.Amount(), reference); err != nil {
		zap.L().Error("CRITICAL: failed to roll back reservation, manual intervention required",
			zap.String("engine", b.name),
			zap.String("account_id", b.binding.Source.ID()),
			zap.String("reference", reference),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
}

// requireAcknowledged rejects execution while acknowledgement lines are pending.
func requireAcknowledged(ptx transaction.PendingTransaction) error {
	if pending := ptx.PendingAcknowledgements(); len(pending) > 0 {
		return fmt.Errorf("%w: %v", ErrNotConfirmed, pending)
	}
	return nil
}
