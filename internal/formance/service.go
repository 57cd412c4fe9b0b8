package formance

import (
	"context"
	"errors"
	"fmt"

	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/money"
	"prime-transaction-pipeline-go/internal/store"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

const userPrefix = "users:"

// Service implements store.LedgerStore backed by a Formance Stack ledger.
type Service struct {
	client      *v3.Formance
	ledger      string
	portfolioID string // Coinbase Prime portfolio ID used in pending withdrawal account paths
}

// NewService creates a Formance-backed LedgerStore.
// It connects to the stack, creates the ledger if it doesn't already exist, and returns ready to use.
func NewService(ctx context.Context, cfg models.FormanceConfig) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = "prime-transaction-pipeline"
	}
	if cfg.PortfolioID == "" {
		cfg.PortfolioID = "default"
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName, portfolioID: cfg.PortfolioID}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "prime-transaction-pipeline",
			},
		},
	})
	if err != nil {
		if code, ok := ledgerErrorCode(err); ok && code == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

// SetPortfolioID sets the Coinbase Prime portfolio ID used in account paths.
// Called by common.InitializeServices once the Prime portfolio is resolved.
func (s *Service) SetPortfolioID(id string) { s.portfolioID = id }

// WithPortfolioID returns a shallow copy scoped to a different portfolio.
// Shares the same HTTP client and ledger -- only the Numscript $portfolio_id changes.
func (s *Service) WithPortfolioID(id string) *Service {
	return &Service{client: s.client, ledger: s.ledger, portfolioID: id}
}

// Close is a no-op for the Formance backend (HTTP client needs no teardown).
func (s *Service) Close() {}

// userAccount is the ledger address holding an account's funds. Interest
// accounts nest under the owner, e.g. users:alice:interest.
func userAccount(accountId string) string { return userPrefix + accountId }

// formanceAsset returns the Formance UMN notation, e.g. "USDC/6".
func formanceAsset(symbol string) string {
	return fmt.Sprintf("%s/%d", symbol, precisionFor(symbol))
}

// precisionFor is the number of smallest units Formance stores per asset.
func precisionFor(symbol string) int {
	return int(money.LookupCurrency(symbol).Precision)
}

func ledgerErrorCode(err error) (shared.V2ErrorsEnum, bool) {
	var apiErr *sdkerrors.V2ErrorResponse
	if !errors.As(err, &apiErr) {
		return "", false
	}
	return apiErr.ErrorCode, true
}

// isConflictError reports a duplicate reference.
func isConflictError(err error) bool {
	code, ok := ledgerErrorCode(err)
	return ok && code == shared.V2ErrorsEnumConflict
}

func isInsufficientFundError(err error) bool {
	code, ok := ledgerErrorCode(err)
	return ok && code == shared.V2ErrorsEnumInsufficientFund
}

func isAlreadyRevertedError(err error) bool {
	code, ok := ledgerErrorCode(err)
	return ok && code == shared.V2ErrorsEnumAlreadyRevert
}
