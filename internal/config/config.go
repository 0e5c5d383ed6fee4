package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type Config struct {
	TelegramToken string
	AdminChatID   int64

	StoreDriver string
	DBPath      string
	MongoURI    string
	MongoDB     string

	RedisAddr    string
	AMQPURL      string
	AMQPExchange string
	OpsAddr      string
	SentryDSN    string

	SweepInterval time.Duration
	JoinVoteTTL   time.Duration
	TestVoteTTL   time.Duration
	ClaimLease    time.Duration
}

// Load reads the configuration from the environment, after loading an
// optional .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_API_KEY"),
		StoreDriver:   getenv("STORE_DRIVER", DriverSQLite),
		DBPath:        getenv("DB_PATH", "data/gatekeeper.db"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDB:       getenv("MONGO_DB", "gatekeeper"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		AMQPURL:       os.Getenv("AMQP_URL"),
		AMQPExchange:  getenv("AMQP_EXCHANGE", "gatekeeper"),
		OpsAddr:       getenv("OPS_ADDR", ":8080"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
	}

	var err error
	if cfg.AdminChatID, err = getInt("ADMIN_CHAT_ID", 0); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.JoinVoteTTL, err = getDuration("JOIN_VOTE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TestVoteTTL, err = getDuration("TEST_VOTE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ClaimLease, err = getDuration("CLAIM_LEASE", 5*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite store")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverMongo, c.StoreDriver)
	}
	if c.JoinVoteTTL <= 0 || c.TestVoteTTL <= 0 {
		return fmt.Errorf("vote TTLs must be positive")
	}
	if c.ClaimLease <= 0 {
		return fmt.Errorf("CLAIM_LEASE must be positive")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative")
	}
	return nil
}

// RequireToken is checked by commands that talk to Telegram.
func (c *Config) RequireToken() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_API_KEY is required")
	}
	return nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
