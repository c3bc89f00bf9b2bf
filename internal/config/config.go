// Package config loads application configuration from environment
// variables.  An optional .env file in the working directory is read
// first; values already present in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable through APP_STORE.
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env      string // application environment (e.g. "dev", "prod")
	Port     string // HTTP port to listen on
	Store    string // ledger backend: memory or mysql
	SeedFile string // optional JSON fixture loaded into the ledger at startup

	DBUser string
	DBPass string // empty allowed
	DBHost string
	DBPort string
	DBName string

	JWTSecret string // secret used to verify access tokens

	Engine EngineConfig

	AMQPURL string // broker URL; empty disables publishing and the consumer

	OTelEnabled  bool
	OTelEndpoint string // host:port of the OTLP/gRPC collector
}

// EngineConfig tunes the reservation manager.
type EngineConfig struct {
	StorageTimeout time.Duration // per store call
	LockTTL        time.Duration // lease of the distributed schedule lock
	LockWait       time.Duration // how long an operation waits for the schedule lock
	MaxRetries     int           // version conflict retries before reporting contention
}

// Load reads the optional .env file and the environment and returns a
// Config.  Missing required variables are reported together.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var l loader
	cfg := Config{
		Env:       l.must("APP_ENV"),
		Port:      envStr("APP_PORT", "8080"),
		Store:     strings.ToLower(envStr("APP_STORE", StoreMySQL)),
		SeedFile:  os.Getenv("APP_SEED_FILE"),
		JWTSecret: l.must("JWT_SECRET"),
		Engine: EngineConfig{
			StorageTimeout: envDur("ENGINE_STORAGE_TIMEOUT", 3*time.Second),
			LockTTL:        envDur("ENGINE_LOCK_TTL", 10*time.Second),
			LockWait:       envDur("ENGINE_LOCK_WAIT", 5*time.Second),
			MaxRetries:     envInt("ENGINE_MAX_RETRIES", 5),
		},
		AMQPURL:      envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		OTelEnabled:  envBool("OTEL_ENABLED", false),
		OTelEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	switch cfg.Store {
	case StoreMySQL:
		cfg.DBUser = l.must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = l.must("DB_HOST")
		cfg.DBPort = l.must("DB_PORT")
		cfg.DBName = l.must("DB_NAME")
	case StoreMemory:
	default:
		l.fail(fmt.Errorf("invalid APP_STORE %q: want %s or %s", cfg.Store, StoreMemory, StoreMySQL))
	}

	if cfg.Engine.StorageTimeout <= 0 {
		l.fail(errors.New("ENGINE_STORAGE_TIMEOUT must be positive"))
	}
	if cfg.Engine.LockWait <= 0 {
		l.fail(errors.New("ENGINE_LOCK_WAIT must be positive"))
	}
	if cfg.Engine.LockTTL < cfg.Engine.StorageTimeout {
		cfg.Engine.LockTTL = 2 * cfg.Engine.StorageTimeout
	}
	if cfg.Engine.MaxRetries < 0 {
		cfg.Engine.MaxRetries = 0
	}
	return cfg, l.err()
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

// loader collects errors for required variables so a misconfigured
// deployment sees every missing key at once.
type loader struct {
	errs []error
}

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		l.fail(fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

func (l *loader) fail(err error) { l.errs = append(l.errs, err) }

func (l *loader) err() error { return errors.Join(l.errs...) }
