package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Queue   QueueConfig
	Grader  GraderConfig
	Sweeper SweeperConfig

	DatabaseURL string
	NATSURL     string

	PoolSize      int
	AttemptBudget time.Duration
	MaxAttempts   int

	WeightsFile string
	LogBucket   string
	MetricsPort int
}

type QueueConfig struct {
	Stream     string
	Subject    string
	Durable    string
	Visibility time.Duration
	Poll       time.Duration
}

type GraderConfig struct {
	Command          string
	Args             []string
	MemoryLimitBytes uint64
	CPUSeconds       uint64
	PassEnv          []string
	WorkDir          string
}

type SweeperConfig struct {
	Interval  time.Duration
	Grace     time.Duration
	Retention time.Duration
}

func Load() (Config, error) {
	cfg := Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.NATSURL = getEnv("NATS_URL", "nats://127.0.0.1:4222")

	cfg.Queue.Stream = getEnv("TRUSTD_QUEUE_STREAM", "TRUSTD_JOBS")
	cfg.Queue.Subject = getEnv("TRUSTD_QUEUE_SUBJECT", "trustd.jobs.score")
	cfg.Queue.Durable = getEnv("TRUSTD_QUEUE_DURABLE", "trustd-worker")

	var err error
	if cfg.Queue.Visibility, err = getEnvDuration("TRUSTD_QUEUE_VISIBILITY", 0); err != nil {
		return Config{}, err
	}
	if cfg.Queue.Poll, err = getEnvDuration("TRUSTD_QUEUE_POLL", 0); err != nil {
		return Config{}, err
	}

	cfg.PoolSize = getEnvInt("TRUSTD_POOL_SIZE", 4)
	if cfg.AttemptBudget, err = getEnvDuration("TRUSTD_ATTEMPT_BUDGET", 900*time.Second); err != nil {
		return Config{}, err
	}
	cfg.MaxAttempts = getEnvInt("TRUSTD_MAX_ATTEMPTS", 3)

	cfg.Grader.Command = os.Getenv("TRUSTD_GRADER_COMMAND")
	if cfg.Grader.Command == "" {
		return Config{}, fmt.Errorf("TRUSTD_GRADER_COMMAND is required")
	}
	cfg.Grader.Args = splitList(os.Getenv("TRUSTD_GRADER_ARGS"))
	cfg.Grader.MemoryLimitBytes = uint64(getEnvInt("TRUSTD_GRADER_MEMORY_MB", 2048)) << 20
	cfg.Grader.CPUSeconds = uint64(getEnvInt("TRUSTD_GRADER_CPU_SECONDS", 600))
	cfg.Grader.PassEnv = splitList(os.Getenv("TRUSTD_GRADER_PASS_ENV"))
	cfg.Grader.WorkDir = os.Getenv("TRUSTD_GRADER_WORKDIR")

	if cfg.Sweeper.Interval, err = getEnvDuration("TRUSTD_SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Sweeper.Grace, err = getEnvDuration("TRUSTD_SWEEP_GRACE", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Sweeper.Retention, err = getEnvDuration("TRUSTD_RETENTION", 30*24*time.Hour); err != nil {
		return Config{}, err
	}

	cfg.WeightsFile = os.Getenv("TRUSTD_WEIGHTS_FILE")
	cfg.LogBucket = os.Getenv("TRUSTD_LOG_BUCKET")
	cfg.MetricsPort = getEnvInt("TRUSTD_METRICS_PORT", 9090)

	return cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
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
