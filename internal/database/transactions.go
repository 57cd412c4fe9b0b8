package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"prime-transaction-pipeline-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProcessTransactionParams contains the parameters for processing a transaction
type ProcessTransactionParams struct {
	AccountId       string
	Asset           string
	TransactionType string
	Amount          decimal.Decimal
	// Reference is unique across the ledger and doubles as the idempotency key.
	Reference    string
	Counterparty string
	Network      string
	// RequireFunds rejects a debit that would take the balance below zero.
	RequireFunds bool
}

// ProcessTransaction atomically updates balance and records transaction
func (s *SubledgerService) ProcessTransaction(ctx context.Context, params ProcessTransactionParams) (*models.Transaction, error) {
	zap.L().Info("Processing transaction",
		zap.String("account_id", params.AccountId),
		zap.String("asset", params.Asset),
		zap.String("type", params.TransactionType),
		zap.String("amount", params.Amount.String()),
		zap.String("reference", params.Reference))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	transaction, err := s.applyEntry(ctx, tx, params)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Transaction processed successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("account_id", params.AccountId),
		zap.String("asset", params.Asset),
		zap.String("old_balance", transaction.BalanceBefore.String()),
		zap.String("new_balance", transaction.BalanceAfter.String()))

	return transaction, nil
}

// ProcessTransfer debits one account and credits another in a single
// database transaction. The credit leg is recorded under reference + ":in".
func (s *SubledgerService) ProcessTransfer(ctx context.Context, from, to string, asset string, amount decimal.Decimal, reference string) error {
	zap.L().Info("Processing transfer",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.applyEntry(ctx, tx, ProcessTransactionParams{
		AccountId:       from,
		Asset:           asset,
		TransactionType: models.TxTransferOut,
		Amount:          amount.Neg(),
		Reference:       reference,
		Counterparty:    to,
		RequireFunds:    true,
	}); err != nil {
		return err
	}
	if _, err := s.applyEntry(ctx, tx, ProcessTransactionParams{
		AccountId:       to,
		Asset:           asset,
		TransactionType: models.TxTransferIn,
		Amount:          amount,
		Reference:       reference + ":in",
		Counterparty:    from,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

func (s *SubledgerService) applyEntry(ctx context.Context, tx *sql.Tx, params ProcessTransactionParams) (*models.Transaction, error) {
	if params.Reference == "" {
		return nil, fmt.Errorf("transaction reference is required")
	}

	// Check for duplicate reference
	var existingTxId string
	err := tx.QueryRowContext(ctx, queryCheckDuplicateTransaction, params.Reference).Scan(&existingTxId)
	if err == nil {
		zap.L().Warn("Duplicate transaction reference detected",
			zap.String("reference", params.Reference),
			zap.String("existing_internal_tx_id", existingTxId))
		return nil, fmt.Errorf("%w: reference %s already exists", ErrDuplicateTransaction, params.Reference)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
	}

	var currentBalanceStr string
	var balanceId string
	var version int64

	err = tx.QueryRowContext(ctx, queryGetAccountBalance, params.AccountId, params.Asset).Scan(&balanceId, &currentBalanceStr, &version)

	var currentBalance decimal.Decimal
	if errors.Is(err, sql.ErrNoRows) {
		// Create new account balance record
		balanceId = uuid.New().String()
		currentBalance = decimal.Zero
		version = 1

		_, err = tx.ExecContext(ctx, queryInsertAccountBalance, balanceId, params.AccountId, params.Asset, "0", 1)
		if err != nil {
			return nil, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(currentBalanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse current balance '%s': %w", currentBalanceStr, err)
		}
	}

	newBalance := currentBalance.Add(params.Amount)
	if params.RequireFunds && params.Amount.IsNegative() && newBalance.IsNegative() {
		return nil, fmt.Errorf("%w: balance %s, debit %s", ErrInsufficientBalance, currentBalance, params.Amount.Neg())
	}

	transactionId := uuid.New().String()
	now := time.Now()
	transaction := &models.Transaction{}

	var amountStr, balanceBeforeStr, balanceAfterStr string
	var counterparty, network sql.NullString
	err = tx.QueryRowContext(ctx, queryInsertTransaction,
		transactionId, params.AccountId, params.Asset, params.TransactionType,
		params.Amount.String(), currentBalance.String(), newBalance.String(),
		params.Reference, params.Counterparty, params.Network, "confirmed", now, now).
		Scan(&transaction.Id, &transaction.AccountId, &transaction.Asset, &transaction.TransactionType,
			&amountStr, &balanceBeforeStr, &balanceAfterStr,
			&transaction.Reference, &counterparty, &network,
			&transaction.Status, &transaction.CreatedAt, &transaction.ProcessedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	transaction.Counterparty = counterparty.String
	transaction.Network = network.String

	if transaction.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse returned amount: %w", err)
	}
	if transaction.BalanceBefore, err = decimal.NewFromString(balanceBeforeStr); err != nil {
		return nil, fmt.Errorf("failed to parse returned balance_before: %w", err)
	}
	if transaction.BalanceAfter, err = decimal.NewFromString(balanceAfterStr); err != nil {
		return nil, fmt.Errorf("failed to parse returned balance_after: %w", err)
	}

	// Update account balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance.String(), transactionId, params.AccountId, params.Asset, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", ErrConcurrentModification)
	}

	if err := s.addJournalEntries(ctx, tx, transaction); err != nil {
		return nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	return transaction, nil
}

type journalEntry struct {
	accountType  string
	accountId    string
	debitAmount  decimal.Decimal
	creditAmount decimal.Decimal
}

// addJournalEntries creates double-entry bookkeeping entries. A credit to the
// account debits the user's asset and credits the platform liability; a debit
// reverses both sides.
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, transaction *models.Transaction) error {
	userAccount := fmt.Sprintf("%s_%s", transaction.AccountId, transaction.Asset)
	liability := fmt.Sprintf("user_deposits_%s", transaction.Asset)

	var entries []journalEntry
	if transaction.Amount.IsPositive() {
		entries = []journalEntry{
			{"user_asset", userAccount, transaction.Amount, decimal.Zero},
			{"system_liability", liability, decimal.Zero, transaction.Amount},
		}
	} else {
		amount := transaction.Amount.Neg()
		entries = []journalEntry{
			{"user_asset", userAccount, decimal.Zero, amount},
			{"system_liability", liability, amount, decimal.Zero},
		}
	}

	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), transaction.Id, entry.accountType, entry.accountId, entry.debitAmount.String(), entry.creditAmount.String())
		if err != nil {
			return err
		}
	}

	return nil
}

// GetTransactionHistory returns paginated transaction history for an account
func (s *SubledgerService) GetTransactionHistory(ctx context.Context, accountId, asset string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("account_id", accountId),
		zap.String("asset", asset),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, accountId, asset, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

// GetTransaction looks up the first entry recorded under a reference.
func (s *SubledgerService) GetTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, queryGetTransactionByReference, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", reference, err)
	}
	return tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var amountStr, balanceBeforeStr, balanceAfterStr string
	var counterparty, network sql.NullString
	err := row.Scan(&tx.Id, &tx.AccountId, &tx.Asset, &tx.TransactionType,
		&amountStr, &balanceBeforeStr, &balanceAfterStr,
		&tx.Reference, &counterparty, &network,
		&tx.Status, &tx.CreatedAt, &tx.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Counterparty = counterparty.String
	tx.Network = network.String

	if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	if tx.BalanceBefore, err = decimal.NewFromString(balanceBeforeStr); err != nil {
		return nil, fmt.Errorf("failed to parse balance before '%s': %w", balanceBeforeStr, err)
	}
	if tx.BalanceAfter, err = decimal.NewFromString(balanceAfterStr); err != nil {
		return nil, fmt.Errorf("failed to parse balance after '%s': %w", balanceAfterStr, err)
	}
	return &tx, nil
}
