package common

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"prime-transaction-pipeline-go/internal/database"
	"prime-transaction-pipeline-go/internal/engine"
	"prime-transaction-pipeline-go/internal/formance"
	"prime-transaction-pipeline-go/internal/models"
	"prime-transaction-pipeline-go/internal/prime"
	"prime-transaction-pipeline-go/internal/quotes"
	"prime-transaction-pipeline-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		// Only log if the file exists but couldn't be read
		// (godotenv returns an error if .env doesn't exist)
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Ledger           store.LedgerStore
	Quotes           *quotes.StaticService
	Fees             engine.FeeService
	Venue            engine.WithdrawalVenue
	Prime            *prime.Service
	DefaultPortfolio *models.Portfolio
	CacheTTL         time.Duration

	redis *redis.Client
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the ledger backend, the fee schedule (optionally
// overlaid with the Redis fee feed) and, when credentials are configured, the
// Prime withdrawal venue.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	ledger, err := InitializeLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	services := &Services{Ledger: ledger, CacheTTL: cfg.Quotes.CacheTTL}

	zap.L().Info("Loading fee schedule", zap.String("file", cfg.Quotes.FeesFile))
	schedule, err := quotes.LoadSchedule(cfg.Quotes.FeesFile)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.Quotes, err = quotes.NewStaticService(schedule)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.Fees = services.Quotes

	if cfg.Quotes.RedisAddr != "" {
		client, err := connectRedis(ctx, cfg.Quotes.RedisAddr)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("unable to connect to fee feed: %w", err)
		}
		services.redis = client
		services.Fees = quotes.NewRedisFeeSource(client, services.Quotes)
		zap.L().Info("Live fee feed enabled", zap.String("redis_addr", cfg.Quotes.RedisAddr))
	}

	if !cfg.Prime.Enabled() {
		zap.L().Warn("Prime API credentials not set, custodial sends are disabled")
		return services, nil
	}

	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials(cfg.Prime)
	if err != nil {
		services.Close()
		return nil, err
	}

	primeService, err := prime.NewService(creds)
	if err != nil {
		services.Close()
		return nil, err
	}

	portfolio := &models.Portfolio{Id: cfg.Prime.PortfolioID}
	if portfolio.Id == "" {
		zap.L().Info("Finding default portfolio")
		portfolio, err = primeService.FindDefaultPortfolio(ctx)
		if err != nil {
			services.Close()
			return nil, err
		}
	}
	zap.L().Info("Using portfolio",
		zap.String("name", portfolio.Name),
		zap.String("id", portfolio.Id))

	if f, ok := ledger.(*formance.Service); ok {
		f.SetPortfolioID(portfolio.Id)
	}
	services.Prime = primeService
	services.DefaultPortfolio = portfolio
	services.Venue = prime.NewVenue(primeService, portfolio.Id)

	return services, nil
}

// InitializeLedger opens the ledger backend selected by LEDGER_BACKEND.
// Useful on its own for read-only operations like querying balances.
func InitializeLedger(ctx context.Context, cfg *models.Config) (store.LedgerStore, error) {
	if cfg.LedgerBackend == models.LedgerBackendFormance {
		svc, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}

	svc, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// EngineDeps returns the collaborators engines are resolved with.
func (cs *Services) EngineDeps() engine.Deps {
	return engine.Deps{
		Fees:       cs.Fees,
		Limits:     cs.Quotes,
		Settings:   cs.Quotes,
		Venue:      cs.Venue,
		Ledger:     cs.Ledger,
		Challenges: cs.Quotes,
		CacheTTL:   cs.CacheTTL,
	}
}

func (cs *Services) Close() {
	if cs.redis != nil {
		if err := cs.redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if cs.Ledger != nil {
		cs.Ledger.Close()
	}
}

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func loadPrimeCredentials(cfg models.PrimeConfig) (*credentials.Credentials, error) {
	if cfg.AccessKey == "" || cfg.Passphrase == "" || cfg.SigningKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  cfg.AccessKey,
		Passphrase: cfg.Passphrase,
		SigningKey: cfg.SigningKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
