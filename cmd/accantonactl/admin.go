package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accantona/internal/amqp"
	"accantona/internal/auth"
	"accantona/internal/backend"
	"accantona/internal/storage"
	"accantona/internal/storage/postgres"
	"accantona/internal/store"

	"github.com/spf13/cobra"
)

var (
	flagSeedFile   string
	flagTokenUser  string
	flagTokenEmail string
	flagTokenTTL   time.Duration
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the configured database",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load workspaces, members, subcategories and accounts from a TOML file",
	RunE:  runSeed,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token for a user",
	RunE:  runToken,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read audit events",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print audit events from the broker until interrupted",
	RunE:  runAuditTail,
}

func init() {
	seedCmd.Flags().StringVarP(&flagSeedFile, "file", "f", "", "Seed file, default SEED_FILE")

	tokenCmd.Flags().StringVar(&flagTokenUser, "user", "", "User ID")
	tokenCmd.Flags().StringVar(&flagTokenEmail, "email", "", "User email")
	tokenCmd.Flags().DurationVar(&flagTokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	auditCmd.AddCommand(auditTailCmd)
	rootCmd.AddCommand(migrateCmd, seedCmd, tokenCmd, auditCmd)
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	switch backend.BackendType(cfg.DataBackend) {
	case backend.SQLiteBackend:
		if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
			return err
		}
		version, dirty, err := storage.MigrationVersion(cfg.SQLiteDBPath)
		if err != nil {
			return err
		}
		fmt.Printf("SQLite schema at version %d (dirty: %v)\n", version, dirty)
	case backend.PostgresBackend:
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		fmt.Println("Postgres schema up to date")
	default:
		fmt.Printf("Backend %q has no schema\n", cfg.DataBackend)
	}
	return nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	// Opening the session already applied SEED_FILE.
	path := flagSeedFile
	if path == "" {
		path = s.cfg.SeedFile
	}
	seed, err := store.LoadSeed(path)
	if err != nil {
		return err
	}
	if err := seed.Apply(cmd.Context(), s.backend.Store); err != nil {
		return err
	}

	workspaces, err := s.backend.Store.ListWorkspaces(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %s: %d workspaces in store\n", path, len(workspaces))
	return nil
}

func runToken(_ *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := a.Issue(auth.User{ID: flagTokenUser, Email: flagTokenEmail}, flagTokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runAuditTail(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is not configured")
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = client.ConsumeEvents(ctx, func(ev *amqp.AuditEvent) error {
		line := fmt.Sprintf("%s  %-24s ws=%s", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.WorkspaceID)
		if ev.BudgetID != "" {
			line += " budget=" + ev.BudgetID
		}
		if ev.Amount != "" {
			line += " amount=" + ev.Amount
		}
		if ev.Actor != "" {
			line += " actor=" + ev.Actor
		}
		for k, v := range ev.Attributes {
			line += " " + k + "=" + v
		}
		fmt.Println(line)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
