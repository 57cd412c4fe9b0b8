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

// Package listener tracks custodial withdrawals after they leave the
// transaction pipeline. Prime reports the final status of each withdrawal
// asynchronously; a terminal failure hands the reserved funds back to the
// user's ledger account.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/store"

	"go.uber.org/zap"
)

// PrimeAPI is the part of the Prime service the listener polls.
type PrimeAPI interface {
	ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]models.Wallet, error)
	ListWithdrawals(ctx context.Context, portfolioId, walletId string, since time.Time) ([]models.WalletTransaction, error)
}

// SettlementListenerConfig contains configuration for SettlementListener
type SettlementListenerConfig struct {
	Prime       PrimeAPI
	Ledger      store.LedgerStore
	PortfolioId string
	// Symbols restricts monitoring to these assets. Empty monitors every
	// trading wallet in the portfolio.
	Symbols         []string
	LookbackWindow  time.Duration
	PollingInterval time.Duration
	CleanupInterval time.Duration
}

// SettlementListener polls Prime for the status of withdrawals submitted by
// the trading send engine and settles their ledger reservations.
type SettlementListener struct {
	prime       PrimeAPI
	ledger      store.LedgerStore
	portfolioId string
	symbols     []string

	// Withdrawals that reached a terminal status
	processedTxIds  map[string]time.Time
	mutex           sync.RWMutex
	lookbackWindow  time.Duration
	pollingInterval time.Duration
	cleanupInterval time.Duration

	monitoredWallets []models.Wallet

	stopChan chan struct{}
	loops    sync.WaitGroup
}

func NewSettlementListener(cfg SettlementListenerConfig) *SettlementListener {
	return &SettlementListener{
		prime:           cfg.Prime,
		ledger:          cfg.Ledger,
		portfolioId:     cfg.PortfolioId,
		symbols:         cfg.Symbols,
		processedTxIds:  make(map[string]time.Time),
		lookbackWindow:  cfg.LookbackWindow,
		pollingInterval: cfg.PollingInterval,
		cleanupInterval: cfg.CleanupInterval,
		stopChan:        make(chan struct{}),
	}
}

// Start discovers the wallets to monitor and begins polling in the background.
func (l *SettlementListener) Start(ctx context.Context) error {
	zap.L().Info("Starting settlement listener")

	if err := l.loadWallets(ctx); err != nil {
		return fmt.Errorf("failed to load monitored wallets: %w", err)
	}
	if len(l.monitoredWallets) == 0 {
		return fmt.Errorf("no trading wallets to monitor in portfolio %s", l.portfolioId)
	}

	l.loops.Add(2)
	go l.pollLoop(ctx)
	go l.cleanupLoop(ctx)

	zap.L().Info("Settlement listener started",
		zap.Int("wallets", len(l.monitoredWallets)),
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Duration("lookback_window", l.lookbackWindow))
	return nil
}

// Stop gracefully stops the listener. It must follow a successful Start.
func (l *SettlementListener) Stop() {
	zap.L().Info("Stopping settlement listener")
	close(l.stopChan)
	l.loops.Wait()
	zap.L().Info("Settlement listener stopped")
}

func (l *SettlementListener) loadWallets(ctx context.Context) error {
	wallets, err := l.prime.ListWallets(ctx, l.portfolioId, "TRADING", l.symbols)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	l.monitoredWallets = l.monitoredWallets[:0]
	for _, w := range wallets {
		if seen[w.Id] {
			continue
		}
		seen[w.Id] = true
		l.monitoredWallets = append(l.monitoredWallets, w)
		zap.L().Debug("Monitoring wallet",
			zap.String("wallet_id", w.Id),
			zap.String("symbol", w.Symbol))
	}
	return nil
}

func (l *SettlementListener) pollLoop(ctx context.Context) {
	defer l.loops.Done()

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()

	l.pollWallets(ctx)

	for {
		select {
		case <-ticker.C:
			l.pollWallets(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// pollWallets polls all monitored wallets concurrently.
func (l *SettlementListener) pollWallets(ctx context.Context) {
	since := time.Now().UTC().Add(-l.lookbackWindow)

	var wg sync.WaitGroup
	for _, wallet := range l.monitoredWallets {
		wg.Add(1)
		go func(w models.Wallet) {
			defer wg.Done()
			if err := l.pollWallet(ctx, w, since); err != nil {
				zap.L().Error("Failed to poll wallet",
					zap.String("wallet_id", w.Id),
					zap.String("symbol", w.Symbol),
					zap.Error(err))
			}
		}(wallet)
	}
	wg.Wait()
}

func (l *SettlementListener) pollWallet(ctx context.Context, wallet models.Wallet, since time.Time) error {
	withdrawals, err := l.prime.ListWithdrawals(ctx, l.portfolioId, wallet.Id, since)
	if err != nil {
		return fmt.Errorf("failed to fetch withdrawals: %w", err)
	}

	for _, tx := range withdrawals {
		if l.isTransactionProcessed(tx.Id) {
			continue
		}
		if err := l.processWithdrawal(ctx, tx); err != nil {
			zap.L().Error("Failed to process withdrawal",
				zap.String("transaction_id", tx.Id),
				zap.String("wallet_id", wallet.Id),
				zap.Error(err))
		}
	}
	return nil
}

func (l *SettlementListener) isTransactionProcessed(txId string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	_, exists := l.processedTxIds[txId]
	return exists
}

func (l *SettlementListener) markTransactionProcessed(txId string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.processedTxIds[txId] = time.Now()
}

func (l *SettlementListener) cleanupLoop(ctx context.Context) {
	defer l.loops.Done()
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupProcessedTransactions()
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cleanupProcessedTransactions forgets withdrawals older than the lookback
// window; Prime no longer returns them.
func (l *SettlementListener) cleanupProcessedTransactions() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := time.Now().UTC().Add(-l.lookbackWindow)
	cleaned := 0
	for txId, processedTime := range l.processedTxIds {
		if processedTime.Before(cutoff) {
			delete(l.processedTxIds, txId)
			cleaned++
		}
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up old processed withdrawals",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(l.processedTxIds)))
	}
}
