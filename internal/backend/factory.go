package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accantona/internal/amqp"
	"accantona/internal/services"
	"accantona/internal/storage"
	"accantona/internal/storage/postgres"
	"accantona/internal/store"
	"accantona/internal/store/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	st, err := f.openStore(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := f.applySeed(ctx, st, config.SeedFile); err != nil {
		st.Close()
		return nil, err
	}

	events, closeEvents := f.createPublisher(config)

	return &BackendResult{
		Store:  st,
		Events: events,
		Cleanup: func() error {
			return errors.Join(closeEvents(), st.Close())
		},
	}, nil
}

func (f *DefaultFactory) openStore(ctx context.Context, config Config) (store.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil
	case PostgresBackend:
		pg, err := postgres.Open(ctx, config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL store: %w", err)
		}
		f.logger.Info("Initialized PostgreSQL backend")
		return pg, nil
	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) applySeed(ctx context.Context, st store.Store, path string) error {
	if path == "" {
		return nil
	}
	seed, err := store.LoadSeed(path)
	if err != nil {
		return err
	}
	if len(seed.Workspaces) == 0 {
		return nil
	}
	if err := seed.Apply(ctx, st); err != nil {
		return fmt.Errorf("apply seed %s: %w", path, err)
	}
	f.logger.Info("Applied seed", "path", path, "workspaces", len(seed.Workspaces))
	return nil
}

// createPublisher connects to the broker when configured. A broker that is
// down at startup disables audit events instead of failing the process.
func (f *DefaultFactory) createPublisher(config Config) (services.EventPublisher, func() error) {
	noop := func() error { return nil }
	if config.AMQPURL == "" {
		return services.NopPublisher{}, noop
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPRoutingKey)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without audit events", "error", err)
		return services.NopPublisher{}, noop
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"routing_key", config.AMQPRoutingKey)
	return client, client.Close
}
