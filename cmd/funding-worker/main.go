package main

import (
	"context"
	"flag"
	"os"
	"time"

	"accantona/internal/cli"
	"accantona/internal/log"
	"accantona/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "apply the current month and exit")
	runOnStart := flag.Bool("run-on-start", true, "apply the current month before waiting for the schedule")
	flag.Parse()

	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentWorker)

	logger.Info("Starting funding-worker", "schedule", cfg.FundingSchedule, "backend", cfg.DataBackend)

	res := cli.InitBackend(context.Background(), logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	}()

	// Funding never converts currencies, so no remote FX source is needed.
	app := cli.NewApp(res, nil)

	w, err := worker.NewFundingWorker(app.Funding, cfg.FundingSchedule)
	if err != nil {
		logger.Error("Invalid funding schedule", "error", err)
		os.Exit(1)
	}

	if *once {
		if _, err := w.RunOnce(context.Background()); err != nil {
			_ = res.Cleanup()
			os.Exit(1)
		}
		return
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := w.Stop(ctx); err != nil {
			logger.Error("Funding worker did not stop in time", "error", err)
		}
	})

	if *runOnStart {
		// Re-running inside the same month writes nothing.
		_, _ = w.RunOnce(ctx)
	}
	w.Start(ctx)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Funding worker stopped")
}
