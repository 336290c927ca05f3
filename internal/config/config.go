package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"accantona/internal/core"
	"accantona/internal/fx"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Backend selection
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string
	SeedFile     string

	// AMQP audit events, disabled when AMQPURL is empty
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// FX
	FXProvider        string
	FXECBURL          string
	FXCacheTTL        time.Duration
	FXStaticRates     string
	ReportingCurrency string

	// Auth
	JWTSecret string
	JWTIssuer string

	// Worker
	FundingSchedule string

	LogLevel string
}

// fileConfig is the optional TOML overlay. Empty values leave the default
// in place; environment variables win over both.
type fileConfig struct {
	Server struct {
		Port               string `toml:"port"`
		RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	} `toml:"server"`
	Storage struct {
		Backend     string `toml:"backend"`
		SQLitePath  string `toml:"sqlite_path"`
		DatabaseURL string `toml:"database_url"`
		SeedFile    string `toml:"seed_file"`
	} `toml:"storage"`
	AMQP struct {
		URL        string `toml:"url"`
		Exchange   string `toml:"exchange"`
		RoutingKey string `toml:"routing_key"`
	} `toml:"amqp"`
	FX struct {
		Provider          string `toml:"provider"`
		ECBURL            string `toml:"ecb_url"`
		CacheTTL          string `toml:"cache_ttl"`
		StaticRates       string `toml:"static_rates"`
		ReportingCurrency string `toml:"reporting_currency"`
	} `toml:"fx"`
	Auth struct {
		JWTSecret string `toml:"jwt_secret"`
		JWTIssuer string `toml:"jwt_issuer"`
	} `toml:"auth"`
	Worker struct {
		FundingSchedule string `toml:"funding_schedule"`
	} `toml:"worker"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

func defaults() *Config {
	return &Config{
		Port:               "8081",
		RateLimitPerMinute: 60,
		DataBackend:        "memory",
		SQLiteDBPath:       "./data/accantona.db",
		SeedFile:           "./seed.toml",
		AMQPExchange:       "accantona",
		AMQPRoutingKey:     "audit_events",
		FXProvider:         "static",
		FXECBURL:           fx.DefaultECBURL,
		FXCacheTTL:         time.Hour,
		ReportingCurrency:  "EUR",
		JWTIssuer:          "accantona",
		FundingSchedule:    "5 0 1 * *",
		LogLevel:           "info",
	}
}

// Load builds the configuration from defaults, the TOML file named by
// ACCANTONA_CONFIG (if any) and the environment, in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("ACCANTONA_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)

	cfg.DataBackend = getEnv("DATA_BACKEND", cfg.DataBackend)
	cfg.SQLiteDBPath = getEnv("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SeedFile = getEnv("SEED_FILE", cfg.SeedFile)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPRoutingKey = getEnv("AMQP_ROUTING_KEY", cfg.AMQPRoutingKey)

	cfg.FXProvider = getEnv("FX_PROVIDER", cfg.FXProvider)
	cfg.FXECBURL = getEnv("FX_ECB_URL", cfg.FXECBURL)
	cfg.FXCacheTTL = getEnvDuration("FX_CACHE_TTL", cfg.FXCacheTTL)
	cfg.FXStaticRates = getEnv("FX_STATIC_RATES", cfg.FXStaticRates)
	cfg.ReportingCurrency = getEnv("REPORTING_CURRENCY", cfg.ReportingCurrency)

	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)

	cfg.FundingSchedule = getEnv("FUNDING_SCHEDULE", cfg.FundingSchedule)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set(&c.Port, f.Server.Port)
	if f.Server.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = f.Server.RateLimitPerMinute
	}
	set(&c.DataBackend, f.Storage.Backend)
	set(&c.SQLiteDBPath, f.Storage.SQLitePath)
	set(&c.DatabaseURL, f.Storage.DatabaseURL)
	set(&c.SeedFile, f.Storage.SeedFile)
	set(&c.AMQPURL, f.AMQP.URL)
	set(&c.AMQPExchange, f.AMQP.Exchange)
	set(&c.AMQPRoutingKey, f.AMQP.RoutingKey)
	set(&c.FXProvider, f.FX.Provider)
	set(&c.FXECBURL, f.FX.ECBURL)
	set(&c.FXStaticRates, f.FX.StaticRates)
	set(&c.ReportingCurrency, f.FX.ReportingCurrency)
	set(&c.JWTSecret, f.Auth.JWTSecret)
	set(&c.JWTIssuer, f.Auth.JWTIssuer)
	set(&c.FundingSchedule, f.Worker.FundingSchedule)
	set(&c.LogLevel, f.Log.Level)

	if f.FX.CacheTTL != "" {
		d, err := time.ParseDuration(f.FX.CacheTTL)
		if err != nil {
			return fmt.Errorf("config file %s: invalid fx.cache_ttl %q: %w", path, f.FX.CacheTTL, err)
		}
		c.FXCacheTTL = d
	}
	return nil
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 1 || c.RateLimitPerMinute > 10000 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be between 1 and 10000 requests per minute", c.RateLimitPerMinute))
	}

	// Validate data backend
	validBackends := []string{"memory", "sqlite", "postgres"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.DataBackend == "postgres" {
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, "invalid DATABASE_URL: must be a postgres:// or postgresql:// URL")
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errors = append(errors, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	switch c.FXProvider {
	case "static":
		if _, err := fx.ParseStaticRates(c.FXStaticRates); err != nil {
			errors = append(errors, fmt.Sprintf("invalid FX_STATIC_RATES: %v", err))
		}
	case "ecb":
		if u, err := url.Parse(c.FXECBURL); err != nil || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid FX_ECB_URL '%s'", c.FXECBURL))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid FX provider '%s': must be one of [static ecb]", c.FXProvider))
	}
	if c.FXCacheTTL < time.Minute || c.FXCacheTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid FX cache TTL %v: must be between 1 minute and 24 hours", c.FXCacheTTL))
	}
	if _, err := core.NormalizeCurrency(c.ReportingCurrency); err != nil {
		errors = append(errors, fmt.Sprintf("invalid reporting currency '%s': must be a 3-letter ISO code", c.ReportingCurrency))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errors = append(errors, "JWT secret must be at least 16 bytes")
	}

	if _, err := cron.ParseStandard(c.FundingSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid funding schedule '%s': %v", c.FundingSchedule, err))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
