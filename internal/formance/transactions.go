package formance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. All metadata is set inside the script via
// set_tx_meta() so every Formance transaction is self-describing.
// ---------------------------------------------------------------------------

const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $account_id
  string $credit_source
  string $asset_symbol
  string $amount_human
}

send [$asset $amount] (
  source = @world
  destination = @users:$account_id
)

set_tx_meta("event_type", "credit")
set_tx_meta("credit_source", $credit_source)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("amount_human", $amount_human)
`

// numscriptWithdrawalReserved has no overdraft on the user account, so an
// uncovered reservation fails with INSUFFICIENT_FUND.
const numscriptWithdrawalReserved = `vars {
  asset $asset
  number $amount
  account $account_id
  account $portfolio_id
  string $destination_address
  string $network
  string $withdrawal_ref
  string $asset_symbol
  string $amount_human
}

send [$asset $amount] (
  source = @users:$account_id
  destination = @prime:portfolio:$portfolio_id:withdrawals:pending
)

set_tx_meta("event_type", "withdrawal_reserved")
set_tx_meta("destination_address", $destination_address)
set_tx_meta("network", $network)
set_tx_meta("withdrawal_ref", $withdrawal_ref)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("amount_human", $amount_human)
`

const numscriptWithdrawalReversal = `vars {
  asset $asset
  number $amount
  account $account_id
  account $portfolio_id
  string $withdrawal_ref
  string $reversal_ref
  string $asset_symbol
}

send [$asset $amount] (
  source = @prime:portfolio:$portfolio_id:withdrawals:pending allowing unbounded overdraft
  destination = @users:$account_id
)

set_tx_meta("event_type", "withdrawal_reversal")
set_tx_meta("withdrawal_ref", $withdrawal_ref)
set_tx_meta("reversal_ref", $reversal_ref)
set_tx_meta("asset_symbol", $asset_symbol)
`

const numscriptTransfer = `vars {
  asset $asset
  number $amount
  account $from_account
  account $to_account
  string $transfer_ref
  string $asset_symbol
  string $amount_human
}

send [$asset $amount] (
  source = @users:$from_account
  destination = @users:$to_account
)

set_tx_meta("event_type", "transfer")
set_tx_meta("transfer_ref", $transfer_ref)
set_tx_meta("asset_symbol", $asset_symbol)
set_tx_meta("amount_human", $amount_human)
`

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Credit records an inbound credit from outside the ledger.
func (s *Service) Credit(ctx context.Context, params store.CreditParams) error {
	source := params.Source
	if source == "" {
		source = "external"
	}

	err := s.post(ctx, params.Reference, numscriptCredit, map[string]string{
		"asset":         formanceAsset(params.Asset),
		"amount":        smallestUnit(params.Amount, params.Asset),
		"account_id":    params.AccountId,
		"credit_source": source,
		"asset_symbol":  params.Asset,
		"amount_human":  params.Amount.String(),
	})
	if err != nil {
		return fmt.Errorf("error processing credit: %w", err)
	}

	zap.L().Info("Credit recorded in Formance",
		zap.String("account_id", params.AccountId),
		zap.String("asset", params.Asset),
		zap.String("amount", params.Amount.String()),
		zap.String("reference", params.Reference))
	return nil
}

// ReserveWithdrawal debits the user's account into the portfolio's pending
// withdrawal account. The reference becomes the Formance transaction
// reference, so a replay fails with ErrDuplicateTransaction.
func (s *Service) ReserveWithdrawal(ctx context.Context, params store.ReserveParams) error {
	err := s.post(ctx, params.Reference, numscriptWithdrawalReserved, map[string]string{
		"asset":               formanceAsset(params.Asset),
		"amount":              smallestUnit(params.Amount, params.Asset),
		"account_id":          params.AccountId,
		"portfolio_id":        s.portfolioID,
		"destination_address": params.Destination,
		"network":             params.Network,
		"withdrawal_ref":      params.Reference,
		"asset_symbol":        params.Asset,
		"amount_human":        params.Amount.String(),
	})
	if err != nil {
		return fmt.Errorf("error reserving withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal reserved in Formance",
		zap.String("account_id", params.AccountId),
		zap.String("asset", params.Asset),
		zap.String("amount", params.Amount.String()),
		zap.String("withdrawal_ref", params.Reference))
	return nil
}

// Transfer moves funds between two user accounts in one Formance transaction.
func (s *Service) Transfer(ctx context.Context, params store.TransferParams) error {
	if params.FromAccount == params.ToAccount {
		return fmt.Errorf("transfer source and destination are the same account %s", params.FromAccount)
	}

	err := s.post(ctx, params.Reference, numscriptTransfer, map[string]string{
		"asset":        formanceAsset(params.Asset),
		"amount":       smallestUnit(params.Amount, params.Asset),
		"from_account": params.FromAccount,
		"to_account":   params.ToAccount,
		"transfer_ref": params.Reference,
		"asset_symbol": params.Asset,
		"amount_human": params.Amount.String(),
	})
	if err != nil {
		return fmt.Errorf("error processing transfer: %w", err)
	}

	zap.L().Info("Transfer recorded in Formance",
		zap.String("from", params.FromAccount),
		zap.String("to", params.ToAccount),
		zap.String("asset", params.Asset),
		zap.String("amount", params.Amount.String()))
	return nil
}

// ReverseWithdrawal credits a failed withdrawal back from pending to the user.
func (s *Service) ReverseWithdrawal(ctx context.Context, accountId, asset string, amount decimal.Decimal, originalRef string) error {
	reversalRef := originalRef + "-reversal"

	err := s.post(ctx, reversalRef, numscriptWithdrawalReversal, map[string]string{
		"asset":          formanceAsset(asset),
		"amount":         smallestUnit(amount, asset),
		"account_id":     accountId,
		"portfolio_id":   s.portfolioID,
		"withdrawal_ref": originalRef,
		"reversal_ref":   reversalRef,
		"asset_symbol":   asset,
	})
	if err != nil {
		return fmt.Errorf("error reversing withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal reversed in Formance",
		zap.String("account_id", accountId),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("reversal_ref", reversalRef))
	return nil
}

// RevertTransaction uses Formance's native revert to atomically undo the
// transaction carrying the given reference. Reverting twice is not an error.
func (s *Service) RevertTransaction(ctx context.Context, reference string) error {
	zap.L().Info("Reverting transaction in Formance", zap.String("reference", reference))

	tx, found, err := s.findByReference(ctx, reference)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no transaction found with reference %s", reference)
	}
	if tx.Reverted {
		zap.L().Info("Transaction already reverted",
			zap.String("reference", reference),
			zap.String("tx_id", tx.ID.String()))
		return nil
	}

	_, err = s.client.Ledger.V2.RevertTransaction(ctx, operations.V2RevertTransactionRequest{
		Ledger:          s.ledger,
		ID:              tx.ID,
		AtEffectiveDate: ptrBool(true),
	})
	if err != nil {
		if isConflictError(err) || isAlreadyRevertedError(err) {
			zap.L().Info("Transaction already reverted (race)", zap.String("reference", reference))
			return nil
		}
		return fmt.Errorf("failed to revert transaction %s: %w", reference, err)
	}

	zap.L().Info("Transaction reverted in Formance",
		zap.String("reference", reference),
		zap.String("tx_id", tx.ID.String()))
	return nil
}

// post creates a Formance transaction from a numscript, translating
// duplicate references and uncovered debits into the store sentinels.
func (s *Service) post(ctx context.Context, reference, script string, vars map[string]string) error {
	if reference == "" {
		return fmt.Errorf("transaction reference is required")
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: script,
				Vars:  vars,
			},
		},
	})
	switch {
	case err == nil:
		return nil
	case isConflictError(err):
		return fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, reference)
	case isInsufficientFundError(err):
		return fmt.Errorf("%w: %v", store.ErrInsufficientBalance, err)
	default:
		return err
	}
}

// ---------------------------------------------------------------------------
// Query operations
// ---------------------------------------------------------------------------

// HasTransaction reports whether any transaction, reverted or not, carries
// the reference.
func (s *Service) HasTransaction(ctx context.Context, reference string) (bool, error) {
	tx, found, err := s.findByReference(ctx, reference)
	if err != nil {
		return false, err
	}
	if found {
		zap.L().Debug("Found existing transaction",
			zap.String("reference", reference),
			zap.String("event_type", tx.Metadata["event_type"]),
			zap.Bool("reverted", tx.Reverted))
	}
	return found, nil
}

func (s *Service) findByReference(ctx context.Context, reference string) (shared.V2Transaction, bool, error) {
	pageSize := int64(1)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$match": map[string]any{
				"reference": reference,
			},
		},
	})
	if err != nil {
		return shared.V2Transaction{}, false, fmt.Errorf("failed to find transaction by reference %s: %w", reference, err)
	}
	if len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return shared.V2Transaction{}, false, nil
	}
	return resp.V2TransactionsCursorResponse.Cursor.Data[0], true, nil
}

// GetTransaction returns the transaction carrying the reference, seen from
// the user account on either side of it.
func (s *Service) GetTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	tx, found, err := s.findByReference(ctx, reference)
	if err != nil || !found {
		return nil, err
	}

	asset := tx.Metadata["asset_symbol"]
	address := userAddress(tx.Postings)
	amt, counterparty := accountMovement(tx.Postings, address, asset)
	status := "confirmed"
	if tx.Reverted {
		status = "reverted"
	}
	return &models.Transaction{
		Id:              tx.ID.String(),
		AccountId:       strings.TrimPrefix(address, userPrefix),
		Asset:           asset,
		TransactionType: transactionType(tx.Metadata["event_type"], amt),
		Amount:          amt,
		Reference:       reference,
		Counterparty:    counterparty,
		Network:         tx.Metadata["network"],
		Status:          status,
		CreatedAt:       tx.Timestamp,
		ProcessedAt:     tx.Timestamp,
	}, nil
}

// GetTransactionHistory returns paginated transaction history for an account/asset.
func (s *Service) GetTransactionHistory(ctx context.Context, accountId, asset string, limit, offset int) ([]models.Transaction, error) {
	address := userAccount(accountId)
	pageSize := int64(limit + offset) // fetch enough to skip offset

	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$or": []any{
				map[string]any{"$match": map[string]any{"source": address}},
				map[string]any{"$match": map[string]any{"destination": address}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var result []models.Transaction
	skipped := 0
	for _, tx := range resp.V2TransactionsCursorResponse.Cursor.Data {
		txAsset := tx.Metadata["asset_symbol"]
		if txAsset != "" && txAsset != asset {
			continue
		}
		amt, counterparty := accountMovement(tx.Postings, address, asset)
		if amt.IsZero() {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}

		ref := ""
		if tx.Reference != nil {
			ref = *tx.Reference
		}
		status := "confirmed"
		if tx.Reverted {
			status = "reverted"
		}

		result = append(result, models.Transaction{
			Id:              fmt.Sprintf("%d", tx.ID),
			AccountId:       accountId,
			Asset:           asset,
			TransactionType: transactionType(tx.Metadata["event_type"], amt),
			Amount:          amt,
			Reference:       ref,
			Counterparty:    counterparty,
			Network:         tx.Metadata["network"],
			Status:          status,
			CreatedAt:       tx.Timestamp,
			ProcessedAt:     tx.Timestamp,
		})

		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// GetMostRecentTransactionTime returns the timestamp of the most recent transaction.
func (s *Service) GetMostRecentTransactionTime(ctx context.Context) (time.Time, error) {
	pageSize := int64(1)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get recent transaction: %w", err)
	}
	if len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return time.Time{}, nil
	}
	return resp.V2TransactionsCursorResponse.Cursor.Data[0].Timestamp, nil
}

// ReconcileUserBalance is a no-op in Formance; balances are consistent by construction.
func (s *Service) ReconcileUserBalance(ctx context.Context, accountId, asset string) error {
	zap.L().Info("Reconciliation is a no-op in Formance (consistent by construction)",
		zap.String("account_id", accountId), zap.String("asset", asset))
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// accountMovement sums the signed movement of one asset on an account and
// returns the other side of the last posting that touched it.
func accountMovement(postings []shared.V2Posting, address, asset string) (decimal.Decimal, string) {
	amt := decimal.Zero
	counterparty := ""
	for _, p := range postings {
		symbol := assetSymbol(p.Asset)
		if symbol != asset {
			continue
		}
		pAmt := bigIntToDecimal(p.Amount, symbol)
		switch address {
		case p.Source:
			amt = amt.Sub(pAmt)
			counterparty = p.Destination
		case p.Destination:
			amt = amt.Add(pAmt)
			counterparty = p.Source
		}
	}
	return amt, counterparty
}

// userAddress is the first user account a transaction touches, source first.
func userAddress(postings []shared.V2Posting) string {
	for _, p := range postings {
		if strings.HasPrefix(p.Source, userPrefix) {
			return p.Source
		}
		if strings.HasPrefix(p.Destination, userPrefix) {
			return p.Destination
		}
	}
	return ""
}

func transactionType(eventType string, amt decimal.Decimal) string {
	switch eventType {
	case "withdrawal_reserved":
		return models.TxWithdrawal
	case "withdrawal_reversal":
		return models.TxWithdrawalReversal
	case "transfer":
		if amt.IsNegative() {
			return models.TxTransferOut
		}
		return models.TxTransferIn
	default:
		return models.TxCredit
	}
}

// smallestUnit converts a human amount to the integer string Formance posts.
func smallestUnit(amount decimal.Decimal, symbol string) string {
	return amount.Shift(int32(precisionFor(symbol))).BigInt().String()
}

func strPtr(s string) *string { return &s }
func ptrBool(v bool) *bool    { return &v }
