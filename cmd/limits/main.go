package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"prime-transaction-pipeline-go/internal/common"
	"prime-transaction-pipeline-go/internal/config"
	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/money"

	"go.uber.org/zap"
)

var actions = map[string]engine.Action{
	"send":              engine.ActionSend,
	"withdraw":          engine.ActionWithdraw,
	"interest":          engine.ActionInterestTransfer,
	"interest-withdraw": engine.ActionInterestWithdraw,
}

func printAsset(ctx context.Context, services *common.Services, currency money.Currency, action engine.Action) error {
	fees, err := services.Fees.FeeSchedule(ctx, currency, action)
	if err != nil {
		return fmt.Errorf("failed to get fees: %w", err)
	}

	network, _ := services.Quotes.Network(currency)
	common.PrintSection(fmt.Sprintf("%s (%s)", currency.Code, network))
	common.PrintField(false, "Regular fee", fees.Regular.Display())
	common.PrintField(false, "Priority fee", fees.Priority.Display())
	common.PrintField(false, "Processing fee", fees.Processing.Display())

	limits, err := services.Quotes.TransactionLimits(ctx, engine.LimitsRequest{Currency: currency, Action: action})
	if err != nil {
		common.PrintField(true, "Limits", err)
		return nil
	}
	common.PrintField(false, "Minimum", limits.Minimum.Display())
	common.PrintField(false, "Maximum", limits.Maximum.Display())
	common.PrintField(false, "Daily", limits.MaximumDaily.Display())
	common.PrintField(limits.SuggestedUpgrade == nil, "Annual", limits.MaximumAnnual.Display())
	if limits.SuggestedUpgrade != nil {
		common.PrintField(true, "Upgrade to", limits.SuggestedUpgrade.RequiredTier)
	}
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	assetFlag := flag.String("asset", "", "Only show this asset (optional)")
	actionFlag := flag.String("action", "send", "Action to quote: send, withdraw, interest, interest-withdraw")
	flag.Parse()

	action, ok := actions[strings.ToLower(*actionFlag)]
	if !ok {
		logger.Fatal("Unknown action", zap.String("action", *actionFlag))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	tier, _ := services.Quotes.UserTier(ctx)
	fiat, _ := services.Quotes.FiatCurrency(ctx)

	common.PrintHeader(fmt.Sprintf("FEES AND LIMITS (%s, tier %s, fiat %s)", action, tier, fiat.Code), common.DefaultWidth)

	assets := services.Quotes.Assets()
	if *assetFlag != "" {
		assets = []money.Currency{money.LookupCurrency(*assetFlag)}
	}

	shown := 0
	for _, currency := range assets {
		if err := printAsset(ctx, services, currency, action); err != nil {
			logger.Error("Failed to quote asset", zap.String("asset", currency.Code), zap.Error(err))
			continue
		}
		shown++
	}

	common.PrintFooter(fmt.Sprintf("SUMMARY: %d of %d assets quoted", shown, len(assets)), common.DefaultWidth)
}
