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

	"prime-transaction-pipeline-go/internal/store"
)

// healthAccount is read on every health check; it never holds funds.
const healthAccount = "healthcheck"

// LedgerService provides minimal API
type LedgerService struct {
	ledger store.LedgerStore
}

func NewLedgerService(ledger store.LedgerStore) *LedgerService {
	return &LedgerService{
		ledger: ledger,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	_, err := s.ledger.GetAllUserBalances(ctx, healthAccount)
	if err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	return nil
}
