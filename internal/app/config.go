package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	EthWSURL    string `env:"ETH_WS_URL,required,notEmpty"`
	PostgresURL string `env:"POSTGRES_URL,required,notEmpty"`

	MinPendingBlocks       uint64  `env:"MIN_PENDING_BLOCKS"`
	MinPendingSeconds      int64   `env:"MIN_PENDING_SECONDS"`
	FeePercentileThreshold float64 `env:"FEE_PERCENTILE_THRESHOLD"`

	RetentionDays   int           `env:"RETENTION_DAYS"`
	TrackerMaxAge   time.Duration `env:"TRACKER_MAX_AGE"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL"`

	TxFetchWorkers int     `env:"TX_FETCH_WORKERS"`
	TxFetchRPS     float64 `env:"TX_FETCH_RPS"`
	TasksBuffer    int     `env:"TASKS_BUFFER"`
	SeenHashCache  int     `env:"SEEN_HASH_CACHE"`
	NotifyBuffer   int     `env:"NOTIFY_BUFFER"`

	// пустой токен = бот выключен
	TelegramToken string `env:"TELEGRAM_TOKEN"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"`

	MetricsAddr string `env:"METRICS_ADDR"`
}

func defaultConfig() Config {
	return Config{
		MinPendingBlocks:       3,
		MinPendingSeconds:      60,
		FeePercentileThreshold: 0.25,

		RetentionDays:   7,
		TrackerMaxAge:   time.Hour,
		CleanupInterval: 10 * time.Minute,

		TxFetchWorkers: 8,
		TxFetchRPS:     100,
		TasksBuffer:    4096,
		SeenHashCache:  100_000,
		NotifyBuffer:   4096,

		KafkaTopic: "censorwatch.events",
	}
}

func LoadConfig() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Warning: .env file not found, relying on environment variables")
	}

	config := defaultConfig()

	if err := env.Parse(&config); err != nil {
		return Config{}, err
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.FeePercentileThreshold <= 0 || c.FeePercentileThreshold >= 1 {
		errs = append(errs, fmt.Errorf("FEE_PERCENTILE_THRESHOLD must be in (0,1), got %v", c.FeePercentileThreshold))
	}
	if c.MinPendingSeconds < 0 {
		errs = append(errs, fmt.Errorf("MIN_PENDING_SECONDS must be >= 0, got %d", c.MinPendingSeconds))
	}
	if c.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_DAYS must be > 0, got %d", c.RetentionDays))
	}
	if c.TrackerMaxAge <= 0 {
		errs = append(errs, fmt.Errorf("TRACKER_MAX_AGE must be > 0, got %s", c.TrackerMaxAge))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("CLEANUP_INTERVAL must be > 0, got %s", c.CleanupInterval))
	}
	if c.SeenHashCache <= 0 {
		errs = append(errs, fmt.Errorf("SEEN_HASH_CACHE must be > 0, got %d", c.SeenHashCache))
	}
	if c.TxFetchWorkers <= 0 {
		errs = append(errs, fmt.Errorf("TX_FETCH_WORKERS must be > 0, got %d", c.TxFetchWorkers))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC must be set when KAFKA_BROKERS is"))
	}

	return errors.Join(errs...)
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
