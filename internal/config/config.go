package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string

	HTTPAddr    string
	DatabaseURL string

	// RabbitMQ
	RabbitURL      string
	RabbitExchange string

	// Redis: run records, build lock, history export
	RedisURL   string
	HistoryTTL time.Duration
	RunLockTTL time.Duration

	// S3-compatible object store; empty bucket disables the sink
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Bucket          string
	S3Prefix          string
	S3UsePathStyle    bool

	HistoryMaxActions int
	RunTimeout        time.Duration
	// queued runs poll the build lock every RunLockRetry for up to RunQueueTimeout
	RunQueueTimeout time.Duration
	RunLockRetry    time.Duration

	ScheduleEnabled bool
	ScheduleCron    string

	// Rate Limiting
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration

	LogLevel  string
	LogFormat string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8090")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")

	cfg.RabbitURL = getEnv("RABBIT_URL", "")
	cfg.RabbitExchange = getEnv("RABBIT_EXCHANGE", "ressys.events")

	cfg.RedisURL = getEnv("REDIS_URL", "redis://localhost:6379/0")
	cfg.HistoryTTL = getDuration("HISTORY_TTL", 48*time.Hour)
	cfg.RunLockTTL = getDuration("RUN_LOCK_TTL", 45*time.Minute)

	cfg.S3Endpoint = getEnv("S3_ENDPOINT", "")
	cfg.S3Region = getEnv("S3_REGION", "us-east-1")
	cfg.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", "")
	cfg.S3SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", "")
	cfg.S3Bucket = getEnv("S3_BUCKET", "")
	cfg.S3Prefix = getEnv("S3_PREFIX", "training")
	cfg.S3UsePathStyle = getEnv("S3_USE_PATH_STYLE", "true") == "true"

	cfg.HistoryMaxActions = getIntEnv("HISTORY_MAX_ACTIONS", 1000)
	cfg.RunTimeout = getDuration("RUN_TIMEOUT", 30*time.Minute)
	cfg.RunQueueTimeout = getDuration("RUN_QUEUE_TIMEOUT", 2*time.Hour)
	cfg.RunLockRetry = getDuration("RUN_LOCK_RETRY", 15*time.Second)

	// 00:30 UTC, after the previous day's events have landed
	cfg.ScheduleEnabled = getEnv("SCHEDULE_ENABLED", "false") == "true"
	cfg.ScheduleCron = getEnv("SCHEDULE_CRON", "30 0 * * *")

	cfg.RLEnabled = getEnv("RL_ENABLED", "true") == "true"
	cfg.RLLimit = getIntEnv("RL_LIMIT", 10)
	cfg.RLWindow = getDuration("RL_WINDOW", 1*time.Minute)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	cfg.HTTPReadTimeout = getDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTPWriteTimeout = getDuration("HTTP_WRITE_TIMEOUT", 20*time.Second)
	cfg.HTTPIdleTimeout = getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing DATABASE_URL")
	}
	if cfg.AppEnv != "dev" && cfg.RabbitURL == "" {
		return nil, fmt.Errorf("missing RABBIT_URL (required when APP_ENV != dev)")
	}
	if cfg.HistoryMaxActions <= 0 || cfg.HistoryMaxActions > 1000 {
		return nil, fmt.Errorf("HISTORY_MAX_ACTIONS must be in 1..1000, got %d", cfg.HistoryMaxActions)
	}
	// the lock is not refreshed, so it has to outlive the longest build
	if cfg.RunLockTTL <= cfg.RunTimeout {
		return nil, fmt.Errorf("RUN_LOCK_TTL (%s) must be greater than RUN_TIMEOUT (%s)", cfg.RunLockTTL, cfg.RunTimeout)
	}
	if cfg.S3Bucket != "" && (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		return nil, fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	return cfg, nil
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
