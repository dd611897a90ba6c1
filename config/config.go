package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	HTTP     ServerConfig
	MySQL    MySQLConfig
	Log      LogConfig
	Chain    ChainConfig
	Poller   PollerConfig
	Webhooks WebhooksConfig
	Jobs     JobsConfig
}

type AppConfig struct {
	ServiceName string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

type LogConfig struct {
	Level string
}

type ChainConfig struct {
	APIBaseURL  string
	HTTPTimeout time.Duration
	BatchLimit  int32
}

type PollerConfig struct {
	Interval         time.Duration
	TickTimeout      time.Duration
	MinConfirmations uint64
	ReorgWindow      uint64
	GenesisHeight    uint64
}

type WebhooksConfig struct {
	MaxAttempts      int32
	BackoffBase      time.Duration
	HTTPTimeout      time.Duration
	Workers          int
	DispatchInterval time.Duration
	BatchSize        int32
}

type JobsConfig struct {
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	chainAPIBaseURL := os.Getenv("CHAIN_API_BASE_URL")
	if chainAPIBaseURL == "" {
		return nil, errors.New("CHAIN_API_BASE_URL environment variable is required")
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "chainpay-service"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
			MigrationsPath:  getEnv("MYSQL_MIGRATIONS_PATH", "migrations"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Chain: ChainConfig{
			APIBaseURL:  chainAPIBaseURL,
			HTTPTimeout: getSecondsEnv("CHAIN_HTTP_TIMEOUT_SECONDS", 15*time.Second),
			BatchLimit:  int32(getIntEnv("CHAIN_BATCH_LIMIT", 500)),
		},
		Poller: PollerConfig{
			Interval:         getSecondsEnv("POLLER_INTERVAL_SECONDS", 30*time.Second),
			TickTimeout:      getSecondsEnv("POLLER_TICK_TIMEOUT_SECONDS", 20*time.Second),
			MinConfirmations: uint64(getIntEnv("POLLER_MIN_CONFIRMATIONS", 2)),
			ReorgWindow:      uint64(getIntEnv("POLLER_REORG_WINDOW_BLOCKS", 6)),
			GenesisHeight:    uint64(getIntEnv("POLLER_GENESIS_HEIGHT", 0)),
		},
		Webhooks: WebhooksConfig{
			MaxAttempts:      int32(getIntEnv("WEBHOOKS_MAX_ATTEMPTS", 4)),
			BackoffBase:      getSecondsEnv("WEBHOOKS_BACKOFF_BASE_SECONDS", 30*time.Second),
			HTTPTimeout:      getSecondsEnv("WEBHOOKS_HTTP_TIMEOUT_SECONDS", 10*time.Second),
			Workers:          getIntEnv("WEBHOOKS_WORKERS", 4),
			DispatchInterval: getSecondsEnv("WEBHOOKS_DISPATCH_INTERVAL_SECONDS", 15*time.Second),
			BatchSize:        int32(getIntEnv("WEBHOOKS_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			SweepInterval: getSecondsEnv("JOBS_SWEEP_INTERVAL_SECONDS", 60*time.Second),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
