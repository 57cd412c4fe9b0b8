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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fundRequest struct {
	accountId string
	asset     string
	amount    decimal.Decimal
	reference string
	source    string
}

func parseAndValidateFlags() (*fundRequest, error) {
	accountFlag := flag.String("account", "", "Ledger account id to credit (required)")
	assetFlag := flag.String("asset", "", "Asset symbol, e.g. BTC (required)")
	amountFlag := flag.String("amount", "", "Amount to credit (required)")
	referenceFlag := flag.String("reference", "", "Idempotency reference (default: generated)")
	sourceFlag := flag.String("source", "manual", "Where the funds came from, recorded on the entry")
	flag.Parse()

	if *accountFlag == "" || *assetFlag == "" || *amountFlag == "" {
		return nil, fmt.Errorf("all flags are required: --account, --asset, --amount")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	reference := *referenceFlag
	if reference == "" {
		reference = "fund-" + uuid.New().String()
	}

	return &fundRequest{
		accountId: *accountFlag,
		asset:     strings.ToUpper(*assetFlag),
		amount:    amount,
		reference: reference,
		source:    *sourceFlag,
	}, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		logger.Fatal("Invalid arguments", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ledger, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer ledger.Close()

	result, err := api.NewLedgerService(ledger).CreditAccount(ctx, req.accountId, req.asset, req.amount, req.reference, req.source)
	if err != nil {
		logger.Fatal("Failed to credit account", zap.Error(err))
	}
	if !result.Success {
		fmt.Printf("\nCredit not applied: %s\n", result.Error)
		return
	}

	fmt.Println("\nAccount credited")
	fmt.Printf("   Account:     %s\n", result.AccountId)
	fmt.Printf("   Amount:      %s %s\n", result.Amount.String(), result.Asset)
	fmt.Printf("   New balance: %s\n", result.NewBalance.String())
	fmt.Printf("   Reference:   %s\n\n", req.reference)
}
