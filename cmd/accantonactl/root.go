package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"accantona/internal/backend"
	"accantona/internal/cli"
	"accantona/internal/config"
	"accantona/internal/core"
	"accantona/internal/log"

	"github.com/spf13/cobra"
)

var (
	flagWorkspace string
	flagActor     string
	flagAt        string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "accantonactl",
	Short:         "Operate the accantona budget ledger",
	Long:          "Inspect budgets, run monthly funding and confirm payments against the configured store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "Workspace ID")
	rootCmd.PersistentFlags().StringVarP(&flagActor, "actor", "u", "", "User ID acting on the workspace")
	rootCmd.PersistentFlags().StringVar(&flagAt, "at", "", "Evaluate as of this day (YYYY-MM-DD), default today")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log at debug level")
}

// session is an opened backend plus the services on top of it.
type session struct {
	cfg     *config.Config
	backend *backend.BackendResult
	app     *cli.App
}

func (s *session) Close() {
	if err := s.backend.Cleanup(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: close backend:", err)
	}
}

// loadConfig reads and validates configuration with logging sent to stderr
// so command output stays clean.
func loadConfig() (*config.Config, *log.Logger, error) {
	cli.LoadEnvFile()

	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{
		Level:     level,
		Component: log.ComponentApp,
		Handler:   slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})
	log.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openSession(ctx context.Context) (*session, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, err
	}
	rates, err := cli.NewRateSource(cfg, nil)
	if err != nil {
		_ = res.Cleanup()
		return nil, err
	}
	return &session{cfg: cfg, backend: res, app: cli.NewApp(res, rates)}, nil
}

func requireWorkspace() error {
	if flagWorkspace == "" {
		return fmt.Errorf("--workspace is required")
	}
	return nil
}

func requireActor() error {
	if flagActor == "" {
		return fmt.Errorf("--actor is required")
	}
	return nil
}

// asOf resolves --at to a point in time, defaulting to now.
func asOf() (time.Time, error) {
	if flagAt == "" {
		return time.Now(), nil
	}
	d, err := core.ParseDate(flagAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", flagAt, err)
	}
	return d.Time, nil
}
