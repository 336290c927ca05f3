// Package cli holds the start-up steps shared by the accantona binaries.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accantona/internal/auth"
	"accantona/internal/backend"
	"accantona/internal/cache"
	"accantona/internal/config"
	"accantona/internal/fx"
	"accantona/internal/log"
	"accantona/internal/services"

	"github.com/joho/godotenv"
)

// fxCacheSize bounds the number of currency pairs kept by the rate cache.
const fxCacheSize = 256

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger installs a text logger at the given level as the default.
// Unknown levels fall back to info.
func SetupLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	logger := log.New(log.Config{
		Level:     lvl,
		Component: "app",
		Handler:   slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}),
	})
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Falling back to info logging", "error", err)
	}
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitBackend opens the configured store and event publisher.
// Exits the process on failure.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", bcfg.Type)
		os.Exit(1)
	}
	logger.Info("Backend ready", "backend", bcfg.Type, "audit_events", cfg.AMQPURL != "")
	return res
}

// NewRateSource builds the FX source named by the configuration. Remote
// sources are wrapped in a TTL cache registered with caches.
func NewRateSource(cfg *config.Config, caches *cache.Manager) (fx.RateSource, error) {
	switch cfg.FXProvider {
	case "static":
		rates, err := fx.ParseStaticRates(cfg.FXStaticRates)
		if err != nil {
			return nil, fmt.Errorf("parse static rates: %w", err)
		}
		return fx.NewStatic(cfg.ReportingCurrency, rates), nil
	case "ecb":
		cached := fx.NewCached(fx.NewECBClient(cfg.FXECBURL), cfg.FXCacheTTL, fxCacheSize)
		if caches != nil {
			caches.Register(cached.Cache())
		}
		return cached, nil
	}
	return nil, fmt.Errorf("unknown FX provider %q", cfg.FXProvider)
}

// App bundles the domain services over one store.
type App struct {
	Perms    *auth.PermissionChecker
	Ledger   *services.FundingLedger
	Catalog  *services.BudgetCatalog
	Funding  *services.FundingProcessor
	Reserves *services.ReservationAggregator
	Payments *services.PaymentConfirmation
}

// NewApp wires the services on top of an opened backend.
func NewApp(res *backend.BackendResult, rates fx.RateSource) *App {
	perms := auth.NewPermissionChecker(res.Store)
	ledger := services.NewFundingLedger(res.Store, perms, res.Events)
	catalog := services.NewBudgetCatalog(res.Store, perms, ledger, res.Events)
	return &App{
		Perms:    perms,
		Ledger:   ledger,
		Catalog:  catalog,
		Funding:  services.NewFundingProcessor(res.Store, ledger, perms, res.Events),
		Reserves: services.NewReservationAggregator(res.Store, catalog, rates),
		Payments: services.NewPaymentConfirmation(res.Store, ledger, perms, res.Events),
	}
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM.
// cleanup runs with a context bounded by timeout before done is closed.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
