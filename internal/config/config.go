package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database. An empty DB_HOST switches the service to the in-memory
	// store, intended for local development only.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis. An empty REDIS_HOST disables pacing and request dedup.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS providers
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string // AWS region for SNS (SMS)

	// Chat provider (WhatsApp-style graph API)
	ChatAPIURL      string
	ChatAccessToken string
	ChatTimeout     int // seconds

	// Dispatch behavior
	SchedulerInterval time.Duration
	SchedulerBatch    int
	DeliveryGrace     time.Duration
	AssumeOptedIn     bool // legacy consent policy for recipients with no opt-in record

	// DevMode swaps real providers for logging adapters.
	DevMode bool
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBPort:    5432,
		DBUser:    "herald",
		DBName:    "herald",
		DBSSLMode: "disable",

		RedisPort: 6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@herald.local",

		ChatAPIURL:  "https://graph.facebook.com/v19.0/me/messages",
		ChatTimeout: 30,

		SchedulerInterval: 30 * time.Second,
		SchedulerBatch:    50,
		DeliveryGrace:     5 * time.Minute,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// AWS config
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	// Chat provider config
	if url := os.Getenv("CHAT_API_URL"); url != "" {
		cfg.ChatAPIURL = url
	}

	if token := os.Getenv("CHAT_ACCESS_TOKEN"); token != "" {
		cfg.ChatAccessToken = token
	}

	if timeout := os.Getenv("CHAT_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid CHAT_TIMEOUT: %w", err)
		}
		cfg.ChatTimeout = t
	}

	// Dispatch config
	if interval := os.Getenv("SCHEDULER_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_INTERVAL: %w", err)
		}
		cfg.SchedulerInterval = d
	}

	if batch := os.Getenv("SCHEDULER_BATCH"); batch != "" {
		b, err := strconv.Atoi(batch)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_BATCH: %w", err)
		}
		cfg.SchedulerBatch = b
	}

	if grace := os.Getenv("DELIVERY_GRACE"); grace != "" {
		d, err := time.ParseDuration(grace)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_GRACE: %w", err)
		}
		cfg.DeliveryGrace = d
	}

	if v := os.Getenv("ASSUME_OPTED_IN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ASSUME_OPTED_IN: %w", err)
		}
		cfg.AssumeOptedIn = b
	}

	if v := os.Getenv("DEV_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEV_MODE: %w", err)
		}
		cfg.DevMode = b
	}

	return cfg, nil
}
