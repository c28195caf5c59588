package api

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"trustd/services/registry"
	"trustd/services/scheduler"
)

const (
	defaultMaxSyncWait  = 60 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	logURLTTL           = 15 * time.Minute
)

// ArtifactReader is the registry surface the facade needs.
type ArtifactReader interface {
	Get(ctx context.Context, id string) (registry.Artifact, error)
	Search(ctx context.Context, q registry.SearchQuery) ([]registry.Artifact, int, error)
}

// JobController is the scheduler surface the facade needs. Only the facade
// translates these records into external response shapes.
type JobController interface {
	Submit(ctx context.Context, locator string, parents []string) (scheduler.Job, error)
	Lookup(ctx context.Context, id uuid.UUID) (scheduler.Job, error)
	Requeue(ctx context.Context, id uuid.UUID) (scheduler.Job, error)
}

// Enqueuer publishes a created job onto the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// LogPresigner resolves archived grader output into a fetchable URL.
type LogPresigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Config controls runtime behaviour for the facade handlers.
type Config struct {
	// MaxSyncWait bounds how long a synchronous ingest blocks for a terminal
	// job state before answering with a pending indication.
	MaxSyncWait  time.Duration
	PollInterval time.Duration

	// DedupWindow, when positive, makes repeat ingests of the same locator
	// within the window reuse the original job instead of enqueueing again.
	DedupWindow time.Duration
	DedupSize   int

	LogBucket   string
	Version     string
	Environment string
}

// API wires the facade's dependencies and configuration.
type API struct {
	artifacts ArtifactReader
	jobs      JobController
	queue     Enqueuer
	presigner LogPresigner
	checks    map[string]HealthCheck
	logger    *log.Logger
	config    Config
	dedup     *expirable.LRU[string, string]
	started   time.Time
}

// New initialises the facade with defaults applied to the configuration.
// The presigner may be nil when no object storage is configured.
func New(artifacts ArtifactReader, jobs JobController, queue Enqueuer, presigner LogPresigner, checks map[string]HealthCheck, logger *log.Logger, cfg Config) (*API, error) {
	if artifacts == nil {
		return nil, errors.New("artifact reader is required")
	}
	if jobs == nil {
		return nil, errors.New("job controller is required")
	}
	if queue == nil {
		return nil, errors.New("enqueuer is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	if cfg.MaxSyncWait <= 0 {
		cfg.MaxSyncWait = defaultMaxSyncWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = 1024
	}

	a := &API{
		artifacts: artifacts,
		jobs:      jobs,
		queue:     queue,
		presigner: presigner,
		checks:    checks,
		logger:    logger,
		config:    cfg,
		started:   time.Now().UTC(),
	}
	if cfg.DedupWindow > 0 {
		a.dedup = expirable.NewLRU[string, string](cfg.DedupSize, nil, cfg.DedupWindow)
	}
	return a, nil
}
