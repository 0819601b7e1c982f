package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"sangue/pkg/platform/strings"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Server      Server
	Log         Log
	Store       Store
	Collections Collections
	Redis       RedisConfig
	Kafka       Kafka
	ChangeFeed  ChangeFeed
	Email       Email
	Tracing     Tracing
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"SANGUE_ADDR" envDefault:":3000"`
	RequestTimeout  time.Duration `env:"SANGUE_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SANGUE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type Log struct {
	Level  string `env:"SANGUE_LOG_LEVEL" envDefault:"info"`
	Format string `env:"SANGUE_LOG_FORMAT" envDefault:"json"`
}

// Store selects and configures the document store.
type Store struct {
	Driver      string `env:"SANGUE_STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"SANGUE_DATABASE_URL"`
	SeedDir     string `env:"SANGUE_SEED_DIR"`
}

// Collections names the document collections.
type Collections struct {
	Campaigns     string `env:"SANGUE_COLLECTION_CAMPAIGNS" envDefault:"campanhas"`
	Donors        string `env:"SANGUE_COLLECTION_DONORS" envDefault:"doadores"`
	FamilyMembers string `env:"SANGUE_COLLECTION_FAMILY" envDefault:"familiares"`
	Notifications string `env:"SANGUE_COLLECTION_NOTIFICATIONS" envDefault:"notificacoes"`
}

// RedisConfig configures the optional Redis client holding change feed leases.
// An empty URL keeps leases in memory.
type RedisConfig struct {
	URL          string        `env:"SANGUE_REDIS_URL"`
	PoolSize     int           `env:"SANGUE_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"SANGUE_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"SANGUE_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"SANGUE_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"SANGUE_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Kafka configures the change feed transport. Without brokers, changes are
// dispatched in process.
type Kafka struct {
	Brokers     []string `env:"SANGUE_KAFKA_BROKERS" envSeparator:","`
	TopicPrefix string   `env:"SANGUE_KAFKA_TOPIC_PREFIX" envDefault:"sangue.changes"`
	Group       string   `env:"SANGUE_KAFKA_GROUP" envDefault:"sangue-notify"`
	Partitions  int32    `env:"SANGUE_KAFKA_PARTITIONS" envDefault:"1"`
}

// Enabled reports whether any broker is configured.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

type ChangeFeed struct {
	Interval time.Duration `env:"SANGUE_CHANGEFEED_INTERVAL" envDefault:"1s"`
	Batch    int           `env:"SANGUE_CHANGEFEED_BATCH" envDefault:"100"`
}

// Email configures campaign announcements. Without an API key mail is only logged.
type Email struct {
	ResendAPIKey string        `env:"SANGUE_RESEND_API_KEY"`
	From         string        `env:"SANGUE_EMAIL_FROM" envDefault:"Campanhas <campanhas@sangue.local>"`
	FetchTimeout time.Duration `env:"SANGUE_IMAGE_FETCH_TIMEOUT" envDefault:"10s"`
	// BlobBaseURL resolves campaign image references that are not absolute URLs.
	BlobBaseURL string `env:"SANGUE_BLOB_BASE_URL"`
}

// Tracing enables OTLP/HTTP span export when an endpoint is set.
type Tracing struct {
	Endpoint    string `env:"SANGUE_OTEL_ENDPOINT"`
	ServiceName string `env:"SANGUE_OTEL_SERVICE_NAME" envDefault:"sangue"`
}

// Load reads .env when present and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv parses and validates the configuration from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Kafka.Brokers = strings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("SANGUE_DATABASE_URL is required for the %s store", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Collections.Campaigns == "" || c.Collections.Donors == "" || c.Collections.FamilyMembers == "" {
		return errors.New("campaign, donor and family member collections must be named")
	}
	if c.ChangeFeed.Interval <= 0 {
		return errors.New("SANGUE_CHANGEFEED_INTERVAL must be positive")
	}
	if c.ChangeFeed.Batch <= 0 {
		return errors.New("SANGUE_CHANGEFEED_BATCH must be positive")
	}
	return nil
}
