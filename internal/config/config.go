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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"prime-transaction-pipeline-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	quoteCacheTTL, err := getEnvDuration("QUOTE_CACHE_TTL", 20*time.Second)
	if err != nil {
		return nil, err
	}

	lookbackWindow, err := getEnvDuration("LISTENER_LOOKBACK_WINDOW", 6*time.Hour)
	if err != nil {
		return nil, err
	}

	pollingInterval, err := getEnvDuration("LISTENER_POLLING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := getEnvDuration("LISTENER_CLEANUP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(getEnvString("LEDGER_BACKEND", models.LedgerBackendSQLite))
	if backend != models.LedgerBackendSQLite && backend != models.LedgerBackendFormance {
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q: expected %s or %s", backend, models.LedgerBackendSQLite, models.LedgerBackendFormance)
	}

	portfolioId := os.Getenv("PRIME_PORTFOLIO_ID")

	return &models.Config{
		LedgerBackend: backend,
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "ledger.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "prime-transaction-pipeline"),
			PortfolioID:  portfolioId,
		},
		Prime: models.PrimeConfig{
			AccessKey:   os.Getenv("PRIME_ACCESS_KEY"),
			Passphrase:  os.Getenv("PRIME_PASSPHRASE"),
			SigningKey:  os.Getenv("PRIME_SIGNING_KEY"),
			PortfolioID: portfolioId,
		},
		Quotes: models.QuotesConfig{
			FeesFile:  getEnvString("FEES_FILE", "fees.yaml"),
			CacheTTL:  quoteCacheTTL,
			RedisAddr: os.Getenv("REDIS_ADDR"),
		},
		Listener: models.ListenerConfig{
			LookbackWindow:  lookbackWindow,
			PollingInterval: pollingInterval,
			CleanupInterval: cleanupInterval,
		},
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
