package prime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNoWallet = errors.New("no trading wallet for asset")

const tradingWalletType = "TRADING"

// walletAPI is the subset of Service the venue needs.
type walletAPI interface {
	ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]models.Wallet, error)
	CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error)
}

// Venue submits custodial withdrawals from the portfolio's trading wallets.
// Wallet ids are resolved once per asset and reused.
type Venue struct {
	api         walletAPI
	portfolioId string

	mu      sync.Mutex
	wallets map[string]string
}

var _ engine.WithdrawalVenue = (*Venue)(nil)

func NewVenue(api walletAPI, portfolioId string) *Venue {
	return &Venue{api: api, portfolioId: portfolioId, wallets: make(map[string]string)}
}

func (v *Venue) SubmitWithdrawal(ctx context.Context, req engine.WithdrawalRequest) (engine.WithdrawalReceipt, error) {
	if req.Memo != "" {
		return engine.WithdrawalReceipt{}, fmt.Errorf("destination memo is not supported for %s withdrawals", req.Asset.Code)
	}

	walletId, err := v.walletFor(ctx, req.Asset.Code)
	if err != nil {
		return engine.WithdrawalReceipt{}, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
		zap.L().Warn("Withdrawal without idempotency key, generated one", zap.String("idempotency_key", key))
	}

	withdrawal, err := v.api.CreateWithdrawal(ctx, CreateWithdrawalParams{
		PortfolioId:        v.portfolioId,
		WalletId:           walletId,
		DestinationAddress: req.Address,
		Amount:             req.Amount.Amount().String(),
		Asset:              req.Asset.Code,
		Network:            req.Network,
		IdempotencyKey:     key,
	})
	if err != nil {
		return engine.WithdrawalReceipt{}, err
	}

	return engine.WithdrawalReceipt{ActivityId: withdrawal.ActivityId, Status: "submitted"}, nil
}

func (v *Venue) walletFor(ctx context.Context, symbol string) (string, error) {
	symbol = strings.ToUpper(symbol)

	v.mu.Lock()
	id, ok := v.wallets[symbol]
	v.mu.Unlock()
	if ok {
		return id, nil
	}

	wallets, err := v.api.ListWallets(ctx, v.portfolioId, tradingWalletType, []string{symbol})
	if err != nil {
		return "", err
	}
	for _, w := range wallets {
		if strings.EqualFold(w.Symbol, symbol) {
			v.mu.Lock()
			v.wallets[symbol] = w.Id
			v.mu.Unlock()

			zap.L().Debug("Resolved trading wallet",
				zap.String("asset", symbol),
				zap.String("wallet_id", w.Id))
			return w.Id, nil
		}
	}
	return "", fmt.Errorf("%w: %s in portfolio %s", ErrNoWallet, symbol, v.portfolioId)
}
