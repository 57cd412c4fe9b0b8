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

const (
	// Balance queries
	queryGetBalance = `
		SELECT balance
		FROM account_balances
		WHERE account_id = ? AND asset = ?`

	queryGetAllAccountBalances = `
		SELECT id, account_id, asset, balance, last_transaction_id, version, updated_at
		FROM account_balances
		WHERE account_id = ? AND balance != 0
		ORDER BY asset`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(amount), 0) as calculated_balance
		FROM transactions
		WHERE account_id = ? AND asset = ? AND status = 'confirmed'`

	// Transaction queries
	queryCheckDuplicateTransaction = `
		SELECT id FROM transactions WHERE reference = ? LIMIT 1`

	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE account_id = ? AND asset = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, account_id, asset, balance, version)
		VALUES (?, ?, ?, ?, ?)`

	queryInsertTransaction = `
		INSERT INTO transactions (
			id, account_id, asset, transaction_type, amount, balance_before, balance_after,
			reference, counterparty, network, status, created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, account_id, asset, transaction_type, amount, balance_before, balance_after,
		          reference, counterparty, network, status, created_at, processed_at`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_transaction_id = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND asset = ? AND version = ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_amount, credit_amount)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetTransactionByReference = `
		SELECT id, account_id, asset, transaction_type, amount, balance_before, balance_after,
		       reference, counterparty, network, status, created_at, processed_at
		FROM transactions
		WHERE reference = ?
		ORDER BY created_at
		LIMIT 1`

	queryGetTransactionHistory = `
		SELECT id, account_id, asset, transaction_type, amount, balance_before, balance_after,
		       reference, counterparty, network, status, created_at, processed_at
		FROM transactions
		WHERE account_id = ? AND asset = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
)
