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

package api

import (
	"context"
	"fmt"

	"prime-transaction-pipeline-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetUserBalance returns the current balance for an account and specific asset
func (s *LedgerService) GetUserBalance(ctx context.Context, accountId, asset string) (decimal.Decimal, error) {
	if accountId == "" || asset == "" {
		return decimal.Zero, fmt.Errorf("account_id and asset are required")
	}

	balance, err := s.ledger.GetUserBalance(ctx, accountId, asset)
	if err != nil {
		zap.L().Error("Failed to get account balance",
			zap.String("account_id", accountId),
			zap.String("asset", asset),
			zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to retrieve balance")
	}

	return balance, nil
}

// GetUserBalances returns all non-zero balances for an account
func (s *LedgerService) GetUserBalances(ctx context.Context, accountId string) ([]models.UserBalance, error) {
	if accountId == "" {
		return nil, fmt.Errorf("account_id is required")
	}

	balances, err := s.ledger.GetAllUserBalances(ctx, accountId)
	if err != nil {
		zap.L().Error("Failed to get account balances", zap.String("account_id", accountId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balances")
	}

	result := make([]models.UserBalance, len(balances))
	for i, balance := range balances {
		result[i] = models.UserBalance{
			Asset:   balance.Asset,
			Balance: balance.Balance,
		}
	}

	return result, nil
}

// GetTransactionHistory returns paginated transaction history for an account and asset
func (s *LedgerService) GetTransactionHistory(ctx context.Context, accountId, asset string, limit, offset int) ([]models.TransactionRecord, error) {
	if accountId == "" || asset == "" {
		return nil, fmt.Errorf("account_id and asset are required")
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := s.ledger.GetTransactionHistory(ctx, accountId, asset, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("account_id", accountId),
			zap.String("asset", asset),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history")
	}

	result := make([]models.TransactionRecord, len(transactions))
	for i, tx := range transactions {
		result[i] = models.TransactionRecord{
			Id:           tx.Id,
			Type:         tx.TransactionType,
			Asset:        tx.Asset,
			Amount:       tx.Amount,
			Reference:    tx.Reference,
			Counterparty: tx.Counterparty,
			Status:       tx.Status,
			ProcessedAt:  tx.ProcessedAt,
		}
	}

	return result, nil
}
