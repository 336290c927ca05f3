package backend

import (
	"errors"
	"fmt"
	"strings"

	"accantona/internal/config"
)

// BackendTypes lists the supported backends in documentation order.
func BackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, PostgresBackend}
}

// BackendTypeNames is BackendTypes as plain strings.
func BackendTypeNames() []string {
	types := BackendTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}

// FromAppConfig picks the storage and audit settings out of the
// application configuration.
func FromAppConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, errors.New("app config is nil")
	}
	t := BackendType(cfg.DataBackend)
	if !t.IsValid() {
		return Config{}, fmt.Errorf("unknown data backend %q, want one of %s", cfg.DataBackend, strings.Join(BackendTypeNames(), ", "))
	}
	return Config{
		Type:           t,
		SQLiteDBPath:   cfg.SQLiteDBPath,
		DatabaseURL:    cfg.DatabaseURL,
		SeedFile:       cfg.SeedFile,
		AMQPURL:        cfg.AMQPURL,
		AMQPExchange:   cfg.AMQPExchange,
		AMQPRoutingKey: cfg.AMQPRoutingKey,
	}, nil
}

// Validate checks that the selected backend has what it needs to open.
func (c Config) Validate() error {
	switch c.Type {
	case MemoryBackend:
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return errors.New("sqlite backend needs a database path")
		}
	case PostgresBackend:
		if c.DatabaseURL == "" {
			return errors.New("postgres backend needs a database URL")
		}
	default:
		return fmt.Errorf("unknown backend type %q", c.Type)
	}

	if c.AMQPURL != "" && (c.AMQPExchange == "" || c.AMQPRoutingKey == "") {
		return errors.New("audit events need both an AMQP exchange and a routing key")
	}
	return nil
}
