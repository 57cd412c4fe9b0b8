/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newService(db)
	if err := service.subledger.InitSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newService(db *sql.DB) *Service {
	return &Service{db: db, subledger: NewSubledgerService(db)}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

// Subledger convenience methods

func (s *Service) GetUserBalance(ctx context.Context, accountId string, asset string) (decimal.Decimal, error) {
	return s.subledger.GetBalance(ctx, accountId, asset)
}

func (s *Service) GetAllUserBalances(ctx context.Context, accountId string) ([]models.AccountBalance, error) {
	return s.subledger.GetAllBalances(ctx, accountId)
}

// Credit records an inbound credit such as a deposit or a seed balance.
func (s *Service) Credit(ctx context.Context, params store.CreditParams) error {
	if !params.Amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive, got %s", params.Amount)
	}
	_, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		AccountId:       params.AccountId,
		Asset:           params.Asset,
		TransactionType: models.TxCredit,
		Amount:          params.Amount,
		Reference:       params.Reference,
		Counterparty:    params.Source,
	})
	if err != nil {
		return fmt.Errorf("error processing credit: %w", err)
	}
	return nil
}

// ReserveWithdrawal debits the balance before the withdrawal is submitted.
// SQLite has no pending accounts, so the reservation is the final debit and a
// rejected withdrawal is undone by ReverseWithdrawal.
func (s *Service) ReserveWithdrawal(ctx context.Context, params store.ReserveParams) error {
	if !params.Amount.IsPositive() {
		return fmt.Errorf("withdrawal amount must be positive, got %s", params.Amount)
	}
	_, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		AccountId:       params.AccountId,
		Asset:           params.Asset,
		TransactionType: models.TxWithdrawal,
		Amount:          params.Amount.Neg(),
		Reference:       params.Reference,
		Counterparty:    params.Destination,
		Network:         params.Network,
		RequireFunds:    true,
	})
	if err != nil {
		return fmt.Errorf("error reserving withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal reserved",
		zap.String("account_id", params.AccountId),
		zap.String("asset", params.Asset),
		zap.String("amount", params.Amount.String()),
		zap.String("reference", params.Reference))
	return nil
}

// Transfer moves value between two accounts atomically.
func (s *Service) Transfer(ctx context.Context, params store.TransferParams) error {
	if !params.Amount.IsPositive() {
		return fmt.Errorf("transfer amount must be positive, got %s", params.Amount)
	}
	if params.FromAccount == params.ToAccount {
		return fmt.Errorf("transfer source and destination are the same account %s", params.FromAccount)
	}
	if err := s.subledger.ProcessTransfer(ctx, params.FromAccount, params.ToAccount, params.Asset, params.Amount, params.Reference); err != nil {
		return fmt.Errorf("error processing transfer: %w", err)
	}
	return nil
}

func (s *Service) GetTransactionHistory(ctx context.Context, accountId, asset string, limit, offset int) ([]models.Transaction, error) {
	return s.subledger.GetTransactionHistory(ctx, accountId, asset, limit, offset)
}

func (s *Service) ReconcileUserBalance(ctx context.Context, accountId, asset string) error {
	return s.subledger.ReconcileBalance(ctx, accountId, asset)
}

// HasTransaction checks if a transaction with the given reference exists.
func (s *Service) HasTransaction(ctx context.Context, reference string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, queryCheckDuplicateTransaction, reference).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("failed to look up transaction %s: %w", reference, err)
}

func (s *Service) GetTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.subledger.GetTransaction(ctx, reference)
}

// RevertTransaction is not natively supported by SQLite.
// Returns ErrNotSupported so callers fall back to ReverseWithdrawal.
func (s *Service) RevertTransaction(_ context.Context, reference string) error {
	return fmt.Errorf("%w: native revert of %s", store.ErrNotSupported, reference)
}

// ReverseWithdrawal credits back a withdrawal that failed (rollback)
func (s *Service) ReverseWithdrawal(ctx context.Context, accountId, asset string, amount decimal.Decimal, originalRef string) error {
	reversalRef := originalRef + "-reversal"

	zap.L().Info("Reversing failed withdrawal",
		zap.String("account_id", accountId),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("original_ref", originalRef),
		zap.String("reversal_ref", reversalRef))

	_, err := s.subledger.ProcessTransaction(ctx, ProcessTransactionParams{
		AccountId:       accountId,
		Asset:           asset,
		TransactionType: models.TxWithdrawalReversal,
		Amount:          amount,
		Reference:       reversalRef,
		Counterparty:    originalRef,
	})
	if err != nil {
		return fmt.Errorf("error reversing withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal reversed successfully",
		zap.String("account_id", accountId),
		zap.String("asset", asset),
		zap.String("amount", amount.String()))

	return nil
}
