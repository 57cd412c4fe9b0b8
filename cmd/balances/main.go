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

package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"prime-transaction-pipeline-go/internal/api"
	"prime-transaction-pipeline-go/internal/common"
	"prime-transaction-pipeline-go/internal/config"
	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/store"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts        int
	totalBalances        int
	accountsWithBalances int
}

func formatReference(ref string) string {
	if ref == "" {
		return "none"
	}
	if len(ref) > 12 {
		return ref[:12] + "..."
	}
	return ref
}

func printBalances(balances []models.UserBalance) {
	for i, balance := range balances {
		fmt.Printf("%s %-15s: %20s\n", common.BoxPrefix(i == len(balances)-1), balance.Asset, balance.Balance.String())
	}
}

func printHistory(records []models.TransactionRecord) {
	for i, r := range records {
		fmt.Printf("%s %-20s %-20s %12s  %s (%s)\n",
			common.BoxDetailPrefix(i == len(records)-1),
			r.ProcessedAt.Format("2006-01-02 15:04:05"),
			r.Type,
			r.Amount.String(),
			formatReference(r.Reference),
			r.Status)
	}
}

func printAccountHeader(accountId string, balanceCount int) {
	common.PrintSection("Account: "+accountId, fmt.Sprintf("Assets: %d", balanceCount))
}

func processAccount(ctx context.Context, accountId string, svc *api.LedgerService, history int) (int, error) {
	balances, err := svc.GetUserBalances(ctx, accountId)
	if err != nil {
		return 0, fmt.Errorf("failed to get balances: %w", err)
	}

	if len(balances) == 0 {
		return 0, nil
	}

	printAccountHeader(accountId, len(balances))
	printBalances(balances)

	if history > 0 {
		for _, b := range balances {
			records, err := svc.GetTransactionHistory(ctx, accountId, b.Asset, history, 0)
			if err != nil {
				return len(balances), fmt.Errorf("failed to get %s history: %w", b.Asset, err)
			}
			fmt.Printf("│\n│  %s history\n", b.Asset)
			printHistory(records)
		}
	}

	return len(balances), nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	accountsFlag := flag.String("accounts", "", "Comma-separated ledger account ids (required)")
	historyFlag := flag.Int("history", 0, "Show the last N transactions per asset")
	flag.Parse()

	if *accountsFlag == "" {
		logger.Fatal("--accounts is required")
	}

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no fee schedule or Prime API needed.
	ledger, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer ledger.Close()

	svc := api.NewLedgerService(ledger)

	var accounts []string
	for _, id := range strings.Split(*accountsFlag, ",") {
		if id = strings.TrimSpace(id); id != "" {
			// Each user's interest balance lives in its own ledger account.
			accounts = append(accounts, id, store.InterestAccountId(id))
		}
	}

	common.PrintHeader("ACCOUNT BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for _, accountId := range accounts {
		stats.totalAccounts++
		count, err := processAccount(ctx, accountId, svc, *historyFlag)
		if err != nil {
			logger.Error("Failed to process account", zap.String("account_id", accountId), zap.Error(err))
			continue
		}
		if count > 0 {
			stats.accountsWithBalances++
			stats.totalBalances += count
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d accounts with balances (%d total balances across %d accounts queried)",
		stats.accountsWithBalances, stats.totalBalances, stats.totalAccounts)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("accounts_queried", stats.totalAccounts),
		zap.Int("accounts_with_balances", stats.accountsWithBalances),
		zap.Int("total_balances", stats.totalBalances))
}
