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
	"errors"

	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreditAccount records an inbound credit (deposit, reward or seed funds)
// against an account. Replaying a reference is reported as a failed result,
// not an error, so callers can treat it as already applied.
func (s *LedgerService) CreditAccount(ctx context.Context, accountId, asset string, amount decimal.Decimal, reference, source string) (*models.DepositResult, error) {
	zap.L().Info("Crediting account",
		zap.String("account_id", accountId),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))

	// Validate input
	if accountId == "" || asset == "" || amount.LessThanOrEqual(decimal.Zero) || reference == "" {
		zap.L().Error("Invalid credit parameters",
			zap.String("account_id", accountId),
			zap.String("asset", asset),
			zap.String("amount", amount.String()),
			zap.String("reference", reference))
		return &models.DepositResult{
			Success: false,
			Error:   "invalid credit parameters",
		}, nil
	}

	err := s.ledger.Credit(ctx, store.CreditParams{
		AccountId: accountId,
		Asset:     asset,
		Amount:    amount,
		Reference: reference,
		Source:    source,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Duplicate credit reference",
				zap.String("account_id", accountId),
				zap.String("reference", reference))
		} else {
			zap.L().Error("Credit processing failed",
				zap.String("account_id", accountId),
				zap.String("asset", asset),
				zap.String("amount", amount.String()),
				zap.Error(err))
		}

		return &models.DepositResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	newBalance, err := s.ledger.GetUserBalance(ctx, accountId, asset)
	if err != nil {
		zap.L().Error("Failed to get updated balance", zap.Error(err))
		newBalance = decimal.Zero
	}

	zap.L().Info("Credit processed successfully",
		zap.String("account_id", accountId),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("new_balance", newBalance.String()))

	return &models.DepositResult{
		Success:    true,
		AccountId:  accountId,
		Asset:      asset,
		Amount:     amount,
		NewBalance: newBalance,
	}, nil
}
