package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

type Config struct {
	RunAddress  string
	DatabaseURI string

	// Provider endpoints. The two MTN-class providers are interchangeable;
	// which one is active is a persisted setting, not config.
	DatahubBaseURL   string
	DatahubAPIKey    string
	QuicknetBaseURL  string
	QuicknetAPIKey   string
	TeleserveBaseURL string
	TeleserveAPIKey  string
	ProviderTimeout  time.Duration

	// Poll sweep pacing.
	PollInterval      time.Duration
	PollBatchSize     int
	CallDelay         time.Duration
	RateLimitCooldown time.Duration

	// CronSecretHash is a bcrypt hash of the shared secret the scheduler
	// presents as a bearer token. Empty disables the check (dev only).
	CronSecretHash string
	AdminKey       string
}

func NewConfig() *Config {
	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "HTTP server address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "DB connection string")
	flag.StringVar(&cfg.DatahubBaseURL, "datahub", "", "datahub API base URL")
	flag.StringVar(&cfg.QuicknetBaseURL, "quicknet", "", "quicknet API base URL")
	flag.StringVar(&cfg.TeleserveBaseURL, "teleserve", "", "teleserve API base URL")
	flag.Parse()

	cfg.ProviderTimeout = 30 * time.Second
	cfg.PollInterval = time.Minute
	cfg.PollBatchSize = 20
	cfg.CallDelay = 2 * time.Second
	cfg.RateLimitCooldown = time.Minute

	ReadServerEnvironment(cfg)

	return cfg
}

func ReadServerEnvironment(cfg *Config) {
	if v := os.Getenv("RUN_ADDRESS"); v != "" {
		cfg.RunAddress = v
	}
	if v := os.Getenv("DATABASE_URI"); v != "" {
		cfg.DatabaseURI = v
	}
	if v := os.Getenv("DATAHUB_BASE_URL"); v != "" {
		cfg.DatahubBaseURL = v
	}
	if v := os.Getenv("DATAHUB_API_KEY"); v != "" {
		cfg.DatahubAPIKey = v
	}
	if v := os.Getenv("QUICKNET_BASE_URL"); v != "" {
		cfg.QuicknetBaseURL = v
	}
	if v := os.Getenv("QUICKNET_API_KEY"); v != "" {
		cfg.QuicknetAPIKey = v
	}
	if v := os.Getenv("TELESERVE_BASE_URL"); v != "" {
		cfg.TeleserveBaseURL = v
	}
	if v := os.Getenv("TELESERVE_API_KEY"); v != "" {
		cfg.TeleserveAPIKey = v
	}
	if v := os.Getenv("CRON_SECRET_HASH"); v != "" {
		cfg.CronSecretHash = v
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("POLL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollBatchSize = n
		}
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("CALL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CallDelay = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimitCooldown = d
		}
	}
	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProviderTimeout = d
		}
	}
}
