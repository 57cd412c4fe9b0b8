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
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"prime-transaction-pipeline-go/internal/common"
	"prime-transaction-pipeline-go/internal/config"
	"prime-transaction-pipeline-go/internal/listener"

	"go.uber.org/zap"
)

func main() {
	assets := flag.String("assets", "", "Comma-separated asset symbols to monitor (default: all trading wallets)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting withdrawal settlement listener")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if services.Prime == nil {
		zap.L().Fatal("Prime API credentials are required to track withdrawals")
	}

	stopMetrics := common.ServeMetrics(cfg.MetricsAddr)
	defer stopMetrics()

	var symbols []string
	for _, s := range strings.Split(*assets, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}

	l := listener.NewSettlementListener(listener.SettlementListenerConfig{
		Prime:           services.Prime,
		Ledger:          services.Ledger,
		PortfolioId:     services.DefaultPortfolio.Id,
		Symbols:         symbols,
		LookbackWindow:  cfg.Listener.LookbackWindow,
		PollingInterval: cfg.Listener.PollingInterval,
		CleanupInterval: cfg.Listener.CleanupInterval,
	})
	if err := l.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start listener", zap.Error(err))
	}

	zap.L().Info("Listener running, press Ctrl+C to stop",
		zap.String("portfolio_id", services.DefaultPortfolio.Id))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping listener...")

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Listener stopped gracefully")
	case <-time.After(30 * time.Second):
		zap.L().Warn("Forced shutdown after timeout")
	}
}
