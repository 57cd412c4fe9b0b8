package listener

import (
	"context"
	"errors"
	"fmt"

	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/observability"
	"prime-transaction-pipeline-go/internal/store"

	"go.uber.org/zap"
)

const statusDone = "TRANSACTION_DONE"

// Terminal failure statuses that hand the reservation back
var terminalFailures = map[string]bool{
	"TRANSACTION_CANCELLED": true,
	"TRANSACTION_REJECTED":  true,
	"TRANSACTION_FAILED":    true,
	"TRANSACTION_EXPIRED":   true,
}

// processWithdrawal settles one withdrawal reported by Prime. Withdrawals
// whose idempotency key has no ledger reservation were not submitted by this
// pipeline and are ignored.
func (l *SettlementListener) processWithdrawal(ctx context.Context, tx models.WalletTransaction) error {
	if !terminalFailures[tx.Status] && tx.Status != statusDone {
		zap.L().Debug("Withdrawal not final yet",
			zap.String("transaction_id", tx.Id),
			zap.String("status", tx.Status))
		return nil
	}

	if tx.IdempotencyKey == "" {
		l.markTransactionProcessed(tx.Id)
		return nil
	}

	reservation, err := l.ledger.GetTransaction(ctx, tx.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to look up reservation %s: %w", tx.IdempotencyKey, err)
	}
	if reservation == nil {
		zap.L().Debug("No reservation for withdrawal - external withdrawal",
			zap.String("transaction_id", tx.Id),
			zap.String("idempotency_key", tx.IdempotencyKey))
		l.markTransactionProcessed(tx.Id)
		return nil
	}

	// Prime reports network-specific symbols like "BASEUSDC"; the ledger
	// holds the canonical one.
	if symbol := normalizeSymbol(tx.Symbol); symbol != reservation.Asset {
		return fmt.Errorf("withdrawal %s is in %s but reservation %s is in %s",
			tx.Id, symbol, reservation.Reference, reservation.Asset)
	}

	if tx.Status == statusDone {
		zap.L().Info("Withdrawal settled",
			zap.String("transaction_id", tx.Id),
			zap.String("account_id", reservation.AccountId),
			zap.String("asset", reservation.Asset),
			zap.String("amount", tx.Amount),
			zap.String("network", tx.Network),
			zap.Time("completed_at", tx.CompletedAt))
		observability.Settlements.WithLabelValues("settled").Inc()
		l.markTransactionProcessed(tx.Id)
		return nil
	}

	zap.L().Warn("Withdrawal failed with terminal status - releasing reservation",
		zap.String("transaction_id", tx.Id),
		zap.String("status", tx.Status),
		zap.String("account_id", reservation.AccountId),
		zap.String("idempotency_key", tx.IdempotencyKey))

	if err := l.releaseReservation(ctx, reservation); err != nil {
		return err
	}
	observability.Settlements.WithLabelValues("reversed").Inc()
	l.markTransactionProcessed(tx.Id)
	return nil
}

// releaseReservation undoes a reservation at most once: a native revert
// first, then a compensating credit keyed on the original reference.
func (l *SettlementListener) releaseReservation(ctx context.Context, reservation *models.Transaction) error {
	if reservation.Status == "reverted" {
		zap.L().Info("Reservation already reverted", zap.String("reference", reservation.Reference))
		return nil
	}
	reversed, err := l.ledger.HasTransaction(ctx, reservation.Reference+"-reversal")
	if err != nil {
		return fmt.Errorf("failed to check reversal of %s: %w", reservation.Reference, err)
	}
	if reversed {
		zap.L().Info("Reservation already reversed", zap.String("reference", reservation.Reference))
		return nil
	}

	err = l.ledger.RevertTransaction(ctx, reservation.Reference)
	if err == nil {
		return nil
	}
	zap.L().Debug("Native revert unavailable, reversing with compensating credit",
		zap.String("reference", reservation.Reference), zap.Error(err))

	err = l.ledger.ReverseWithdrawal(ctx, reservation.AccountId, reservation.Asset, reservation.Amount.Abs(), reservation.Reference)
	if err != nil && !errors.Is(err, store.ErrDuplicateTransaction) {
		return fmt.Errorf("failed to reverse withdrawal %s: %w", reservation.Reference, err)
	}
	return nil
}

// symbolMapping maps Prime API's network-specific symbols to canonical symbols
var symbolMapping = map[string]string{
	"USDC":     "USDC",
	"SPLUSDC":  "USDC",
	"AVAUSDC":  "USDC",
	"ARBUSDC":  "USDC",
	"BASEUSDC": "USDC",

	"ETH":     "ETH",
	"BASEETH": "ETH",
}

func normalizeSymbol(symbol string) string {
	if canonical, ok := symbolMapping[symbol]; ok {
		return canonical
	}
	return symbol
}
