package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"accantona/internal/auth"
	"accantona/internal/cache"
	"accantona/internal/cli"
	apphttp "accantona/internal/http"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel)

	// The API has no anonymous surface.
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required to serve the API")
		os.Exit(1)
	}
	authenticator, err := auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logger.Error("Failed to initialize authenticator", "error", err)
		os.Exit(1)
	}

	res := cli.InitBackend(context.Background(), logger, cfg)

	caches := cache.NewManager()
	rates, err := cli.NewRateSource(cfg, caches)
	if err != nil {
		logger.Error("Failed to initialize FX rates", "error", err, "provider", cfg.FXProvider)
		os.Exit(1)
	}
	caches.StartCleanup(5 * time.Minute)

	app := cli.NewApp(res, rates)
	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Catalog:  app.Catalog,
		Ledger:   app.Ledger,
		Funding:  app.Funding,
		Reserves: app.Reserves,
		Payments: app.Payments,
		Auth:     authenticator,
		Access:   app.Perms,
		Store:    res.Store,
	}, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
	})
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	logger.Info("Starting accantona server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"fx_provider", cfg.FXProvider,
		"reporting_currency", cfg.ReportingCurrency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
