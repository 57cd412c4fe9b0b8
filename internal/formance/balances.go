package formance

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"prime-transaction-pipeline-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// accountSnapshot is one account read: its volumes per asset and the time it
// last moved.
type accountSnapshot struct {
	volumes   map[string]shared.V2Volume
	updatedAt time.Time
}

// GetUserBalance returns the ledger balance of one account in one asset. An
// account the ledger has never seen holds zero.
func (s *Service) GetUserBalance(ctx context.Context, accountId, asset string) (decimal.Decimal, error) {
	zap.L().Debug("Getting account balance from Formance",
		zap.String("account_id", accountId), zap.String("asset", asset))

	snap, err := s.readAccount(ctx, userAccount(accountId))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance of %s: %w", accountId, err)
	}
	return bigIntToDecimal(volumeBalance(snap.volumes, formanceAsset(asset)), asset), nil
}

// GetAllUserBalances returns the non-zero balances of an account sorted by asset.
func (s *Service) GetAllUserBalances(ctx context.Context, accountId string) ([]models.AccountBalance, error) {
	addr := userAccount(accountId)
	snap, err := s.readAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to read balances of %s: %w", accountId, err)
	}
	lastRef := s.lastReference(ctx, addr)

	balances := make([]models.AccountBalance, 0, len(snap.volumes))
	for fAsset := range snap.volumes {
		bal := volumeBalance(snap.volumes, fAsset)
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		symbol := assetSymbol(fAsset)
		balances = append(balances, models.AccountBalance{
			Id:                addr + "/" + symbol,
			AccountId:         accountId,
			Asset:             symbol,
			Balance:           bigIntToDecimal(bal, symbol),
			LastTransactionId: lastRef,
			UpdatedAt:         snap.updatedAt,
		})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Asset < balances[j].Asset })
	return balances, nil
}

// readAccount fetches volumes and timestamps in one request.
func (s *Service) readAccount(ctx context.Context, address string) (accountSnapshot, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if code, ok := ledgerErrorCode(err); ok && code == shared.V2ErrorsEnumNotFound {
			return accountSnapshot{}, nil
		}
		return accountSnapshot{}, err
	}

	account := resp.V2AccountResponse.Data
	snap := accountSnapshot{volumes: account.Volumes, updatedAt: time.Now()}
	switch {
	case account.UpdatedAt != nil:
		snap.updatedAt = *account.UpdatedAt
	case account.FirstUsage != nil:
		snap.updatedAt = *account.FirstUsage
	}
	return snap, nil
}

// lastReference is the reference of the most recent transaction touching the
// address, or empty when none can be read.
func (s *Service) lastReference(ctx context.Context, address string) string {
	pageSize := int64(1)
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
		zap.L().Warn("Failed to read last transaction", zap.String("address", address), zap.Error(err))
		return ""
	}
	if len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return ""
	}
	if ref := resp.V2TransactionsCursorResponse.Cursor.Data[0].Reference; ref != nil {
		return *ref
	}
	return ""
}

// volumeBalance extracts the balance of one asset, falling back to
// input minus output when the ledger omits it.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts smallest units back to a decimal amount.
func bigIntToDecimal(raw *big.Int, symbol string) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precisionFor(symbol)))
}

// assetSymbol strips the precision from a Formance asset like "USDC/6".
func assetSymbol(fAsset string) string {
	symbol, _, _ := strings.Cut(fAsset, "/")
	return symbol
}
