package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTP  HTTPConfig
	Queue QueueConfig
	Sync  SyncConfig
	Dedup DedupConfig

	DatabaseURL string
	NATSURL     string
	LogBucket   string
	Version     string
	Environment string
}

type HTTPConfig struct {
	Port int
}

type QueueConfig struct {
	Stream  string
	Subject string
}

type SyncConfig struct {
	MaxWait      time.Duration
	PollInterval time.Duration
}

type DedupConfig struct {
	Window time.Duration
	Size   int
}

func Load() (Config, error) {
	cfg := Config{}

	cfg.HTTP.Port = getEnvInt("TRUSTD_HTTP_PORT", 8080)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.NATSURL = getEnv("NATS_URL", "nats://127.0.0.1:4222")

	cfg.Queue.Stream = getEnv("TRUSTD_QUEUE_STREAM", "TRUSTD_JOBS")
	cfg.Queue.Subject = getEnv("TRUSTD_QUEUE_SUBJECT", "trustd.jobs.score")

	maxWait, err := getEnvDuration("TRUSTD_SYNC_MAX_WAIT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.Sync.MaxWait = maxWait
	poll, err := getEnvDuration("TRUSTD_SYNC_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg.Sync.PollInterval = poll

	window, err := getEnvDuration("TRUSTD_DEDUP_WINDOW", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.Dedup.Window = window
	cfg.Dedup.Size = getEnvInt("TRUSTD_DEDUP_SIZE", 1024)

	cfg.LogBucket = os.Getenv("TRUSTD_LOG_BUCKET")
	cfg.Version = getEnv("TRUSTD_VERSION", "dev")
	cfg.Environment = getEnv("TRUSTD_ENVIRONMENT", "development")

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("90s", "5m") and, for
// compatibility with older deployments, bare integers meaning seconds.
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("invalid %s: %q", key, v)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
