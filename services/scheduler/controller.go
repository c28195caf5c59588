package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"trustd/pkg/scoring"
	"trustd/pkg/signer"
	"trustd/services/registry"
)

const (
	// DefaultAttemptBudget is the wall-clock ceiling for one grader attempt.
	DefaultAttemptBudget = 900 * time.Second

	// DefaultMaxAttempts is the retry ceiling for retryable failures.
	DefaultMaxAttempts = 3
)

// Outcome is an executor slot's report for one finished attempt.
type Outcome struct {
	Kind       OutcomeKind
	Metrics    scoring.ModelMetrics
	Descriptor Descriptor
	Diagnostic string
	LogKey     string
}

// Config controls the retry controller's budgets.
type Config struct {
	AttemptBudget time.Duration
	MaxAttempts   int

	// PublishBackoff is the base delay of the exponential backoff used when
	// the registry write fails. Zero means the default of 250ms.
	PublishBackoff time.Duration
}

// JobRecorder is the job store surface the controller drives. The lifecycle
// transitions are unexported methods, so only this package's stores and test
// doubles satisfy it; callers go through the controller.
type JobRecorder interface {
	Create(ctx context.Context, locator string, parents []string, maxAttempts int) (Job, error)
	Get(ctx context.Context, id uuid.UUID) (Job, error)
	Requeue(ctx context.Context, id uuid.UUID) (Job, error)
	SweepStuck(ctx context.Context, grace time.Duration) (retried, died int64, err error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	markRunning(ctx context.Context, id uuid.UUID, deadline time.Time) (Job, error)
	transition(ctx context.Context, id uuid.UUID, state JobState, lastError, logKey string, artifactID *string) error
}

// ArtifactPublisher is the registry surface the controller publishes
// successful results to.
type ArtifactPublisher interface {
	Put(ctx context.Context, a registry.Artifact) error
}

// Controller owns the job lifecycle. Executor slots call Begin when they take
// a delivery and Finish when the attempt is over; every transition is
// persisted before control returns.
type Controller struct {
	jobs     JobRecorder
	registry ArtifactPublisher
	weights  scoring.Weights
	signer   *signer.Signer
	logger   *log.Logger
	cfg      Config
}

// NewController wires the retry controller to its stores. The signer is
// optional; without it artifacts are published unsigned.
func NewController(jobs JobRecorder, reg ArtifactPublisher, weights scoring.Weights, sig *signer.Signer, logger *log.Logger, cfg Config) (*Controller, error) {
	if jobs == nil {
		return nil, errors.New("job store is required")
	}
	if reg == nil {
		return nil, errors.New("registry store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	if cfg.AttemptBudget <= 0 {
		cfg.AttemptBudget = DefaultAttemptBudget
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PublishBackoff <= 0 {
		cfg.PublishBackoff = 250 * time.Millisecond
	}

	return &Controller{
		jobs:     jobs,
		registry: reg,
		weights:  weights,
		signer:   sig,
		logger:   logger,
		cfg:      cfg,
	}, nil
}

// MaxAttempts exposes the configured attempt ceiling for job creation.
func (c *Controller) MaxAttempts() int { return c.cfg.MaxAttempts }

// Submit persists a new queued job for the locator.
func (c *Controller) Submit(ctx context.Context, locator string, parents []string) (Job, error) {
	if c == nil {
		return Job{}, errors.New("nil controller")
	}
	return c.jobs.Create(ctx, locator, parents, c.cfg.MaxAttempts)
}

// Lookup fetches a job by id.
func (c *Controller) Lookup(ctx context.Context, id uuid.UUID) (Job, error) {
	if c == nil {
		return Job{}, errors.New("nil controller")
	}
	return c.jobs.Get(ctx, id)
}

// Requeue resets a dead job for a fresh attempt cycle.
func (c *Controller) Requeue(ctx context.Context, id uuid.UUID) (Job, error) {
	if c == nil {
		return Job{}, errors.New("nil controller")
	}
	return c.jobs.Requeue(ctx, id)
}

// Begin transitions a dequeued job to running, consuming one attempt and
// stamping the attempt deadline. Mutual exclusion comes from the queue's
// visibility timeout: only the holder of the delivery reaches here.
func (c *Controller) Begin(ctx context.Context, jobID string) (Job, error) {
	if c == nil {
		return Job{}, errors.New("nil controller")
	}

	id, err := uuid.Parse(jobID)
	if err != nil {
		return Job{}, fmt.Errorf("malformed job id %q: %w", jobID, err)
	}

	deadline := time.Now().UTC().Add(c.cfg.AttemptBudget)
	job, err := c.jobs.markRunning(ctx, id, deadline)
	if err != nil {
		return Job{}, err
	}

	c.logger.Printf("INFO job %s attempt %d/%d started for %s", job.ID, job.Attempts, job.MaxAttempts, job.Locator)
	return job, nil
}

// decide maps a reported outcome onto the next job state and the queue
// disposition for the held delivery.
func decide(kind OutcomeKind, attempts, maxAttempts int) (JobState, Disposition) {
	switch kind {
	case OutcomeSuccess:
		return StateSucceeded, DisposeAck
	case OutcomeTerminal:
		return StateDead, DisposeBury
	default:
		if attempts < maxAttempts {
			return StateRetrying, DisposeRetry
		}
		return StateDead, DisposeBury
	}
}

// Finish records the outcome of an attempt. On success it publishes the
// artifact before the job is marked done; the returned disposition tells the
// slot how to settle its queue delivery.
func (c *Controller) Finish(ctx context.Context, job Job, out Outcome) (Disposition, error) {
	if c == nil {
		return DisposeRetry, errors.New("nil controller")
	}

	next, disposition := decide(out.Kind, job.Attempts, job.MaxAttempts)

	if next == StateSucceeded {
		artifactID, err := c.publish(ctx, job, out)
		if err != nil {
			// The job is not succeeded until the store write lands. Treat the
			// store outage as retryable so the attempt is not wasted.
			c.logger.Printf("ERROR job %s publish failed: %v", job.ID, err)
			next, disposition = decide(OutcomeRetryable, job.Attempts, job.MaxAttempts)
			return disposition, c.recordFailure(ctx, job, next, fmt.Sprintf("publish artifact: %v", err), out.LogKey)
		}
		if err := c.jobs.transition(ctx, job.ID, next, "", out.LogKey, &artifactID); err != nil {
			return disposition, err
		}
		c.logger.Printf("INFO job %s succeeded, artifact %s published", job.ID, artifactID)
		jobsCompleted.WithLabelValues(string(StateSucceeded)).Inc()
		return disposition, nil
	}

	return disposition, c.recordFailure(ctx, job, next, out.Diagnostic, out.LogKey)
}

// recordFailure persists the failed attempt and then the decided follow-up
// state, so job history always shows failed before retrying or dead.
func (c *Controller) recordFailure(ctx context.Context, job Job, next JobState, diagnostic, logKey string) error {
	if err := c.jobs.transition(ctx, job.ID, StateFailed, diagnostic, logKey, nil); err != nil {
		return err
	}
	if err := c.jobs.transition(ctx, job.ID, next, diagnostic, "", nil); err != nil {
		return err
	}

	switch next {
	case StateRetrying:
		c.logger.Printf("WARN job %s attempt %d/%d failed, retrying: %s", job.ID, job.Attempts, job.MaxAttempts, diagnostic)
	case StateDead:
		c.logger.Printf("ERROR job %s dead after %d attempts: %s", job.ID, job.Attempts, diagnostic)
	}
	jobsCompleted.WithLabelValues(string(next)).Inc()
	return nil
}

// publish writes the artifact for a successful job. The registry upsert is
// keyed by the job id, so redelivered successes collapse onto one row.
func (c *Controller) publish(ctx context.Context, job Job, out Outcome) (string, error) {
	artifact := registry.Artifact{
		ID:          job.ID.String(),
		Name:        out.Descriptor.Name,
		Description: out.Descriptor.Description,
		Score:       c.weights.Score(out.Metrics),
		Metrics:     out.Metrics,
		Version:     out.Descriptor.Version,
		License:     out.Descriptor.License,
		Author:      out.Descriptor.Author,
		Parents:     job.Parents,
		DownloadURL: job.Locator,
	}
	if artifact.Name == "" {
		artifact.Name = nameFromLocator(job.Locator)
	}

	if c.signer != nil {
		sig, err := c.signer.SignResult(artifact.ID, artifact.Score, artifact.Metrics)
		if err != nil {
			return "", fmt.Errorf("sign result: %w", err)
		}
		artifact.Signature = sig
	}

	backoff := retry.WithMaxRetries(4, retry.NewExponential(c.cfg.PublishBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.registry.Put(ctx, artifact); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return artifact.ID, nil
}

// RunSweeper periodically force-fails jobs stuck past their deadline and
// prunes terminal jobs past the retention window. Blocks until ctx ends.
func (c *Controller) RunSweeper(ctx context.Context, interval, grace, retention time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retried, died, err := c.jobs.SweepStuck(ctx, grace)
			if err != nil {
				c.logger.Printf("ERROR sweep stuck jobs: %v", err)
			} else if retried+died > 0 {
				c.logger.Printf("WARN sweep forced %d jobs to retrying, %d to dead", retried, died)
			}

			if retention > 0 {
				removed, err := c.jobs.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-retention))
				if err != nil {
					c.logger.Printf("ERROR prune terminal jobs: %v", err)
				} else if removed > 0 {
					c.logger.Printf("INFO pruned %d terminal jobs past retention", removed)
				}
			}
		}
	}
}

func nameFromLocator(locator string) string {
	parsed, err := url.Parse(locator)
	if err == nil && parsed.Path != "" {
		if base := path.Base(strings.TrimSuffix(parsed.Path, "/")); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return locator
}
