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

	// Database (delivery history; optional)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Push vendor config
	PushAPIURL string
	PushAppID  string
	PushAPIKey string

	// AWS Services
	AWSRegion    string
	SESFromEmail string
	SNSEnabled   bool // mobile push via platform endpoints

	// Scheduler config
	MaxQueueSize  int           // pending notifications held at once
	SweepInterval time.Duration // staleness sweep cadence
	StaleAfter    time.Duration // past-due age before a notification is dropped

	// Worker config
	WorkerAckTimeout time.Duration // gateway wait for a worker ack
	PollInterval     time.Duration // worker due-check cadence
	MaxRetries       int           // send attempts before giving up
	HeartbeatTTL     time.Duration // worker liveness key expiry

	// Rate limiting
	RateLimitPerMinute int // schedule requests per user per minute, 0 disables
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "memospark",
		DBPassword: "",
		DBName:     "memospark_notify",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		PushAPIURL: "https://onesignal.com/api/v1/notifications",

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@memospark.local",

		MaxQueueSize:  64,
		SweepInterval: 60 * time.Second,
		StaleAfter:    time.Hour,

		WorkerAckTimeout: 5 * time.Second,
		PollInterval:     5 * time.Second,
		MaxRetries:       3,
		HeartbeatTTL:     15 * time.Second,

		RateLimitPerMinute: 60,
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

	// Push vendor config
	if url := os.Getenv("PUSH_API_URL"); url != "" {
		cfg.PushAPIURL = url
	}

	if appID := os.Getenv("PUSH_APP_ID"); appID != "" {
		cfg.PushAppID = appID
	}

	if key := os.Getenv("PUSH_API_KEY"); key != "" {
		cfg.PushAPIKey = key
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if enabled := os.Getenv("SNS_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid SNS_ENABLED: %w", err)
		}
		cfg.SNSEnabled = b
	}

	// Scheduler config
	if size := os.Getenv("MAX_QUEUE_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_QUEUE_SIZE: %w", err)
		}
		cfg.MaxQueueSize = s
	}

	if interval := os.Getenv("SWEEP_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}

	if after := os.Getenv("STALE_AFTER"); after != "" {
		d, err := time.ParseDuration(after)
		if err != nil {
			return nil, fmt.Errorf("invalid STALE_AFTER: %w", err)
		}
		cfg.StaleAfter = d
	}

	// Worker config
	if timeout := os.Getenv("WORKER_ACK_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_ACK_TIMEOUT: %w", err)
		}
		cfg.WorkerAckTimeout = d
	}

	if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}

	if retries := os.Getenv("MAX_RETRIES"); retries != "" {
		r, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = r
	}

	if ttl := os.Getenv("HEARTBEAT_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid HEARTBEAT_TTL: %w", err)
		}
		cfg.HeartbeatTTL = d
	}

	if limit := os.Getenv("RATE_LIMIT_PER_MINUTE"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.RateLimitPerMinute = l
	}

	return cfg, nil
}
