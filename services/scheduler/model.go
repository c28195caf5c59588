package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// JobState is one stage of the scheduler-owned job lifecycle.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateRetrying  JobState = "retrying"
	StateDead      JobState = "dead"
)

// Terminal reports whether a job in this state will never run again.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateDead
}

// Job is one scheduled execution of the grader against a package locator.
// All state transitions go through the Controller; executors never write
// job state themselves.
type Job struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	Locator     string     `json:"locator" db:"locator"`
	State       JobState   `json:"state" db:"state"`
	Attempts    int        `json:"attempts" db:"attempts"`
	MaxAttempts int        `json:"max_attempts" db:"max_attempts"`
	Deadline    *time.Time `json:"deadline,omitempty" db:"deadline"`
	LastError   string     `json:"last_error,omitempty" db:"last_error"`
	ArtifactID  *string    `json:"artifact_id,omitempty" db:"artifact_id"`
	LogKey      string     `json:"log_key,omitempty" db:"log_key"`
	Parents     []string   `json:"parents,omitempty" db:"-"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// OutcomeKind classifies a reported execution result.
type OutcomeKind string

const (
	// OutcomeSuccess carries a validated metrics record.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeRetryable covers grader crashes, timeouts, and transient fetch
	// failures. The job may run again if attempts remain.
	OutcomeRetryable OutcomeKind = "retryable"
	// OutcomeTerminal marks input the grader declared unscorable. Retrying
	// cannot help, so the job goes straight to dead.
	OutcomeTerminal OutcomeKind = "terminal"
)

// Descriptor carries the optional package metadata a grader may report
// alongside its metrics.
type Descriptor struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	License     string `json:"license,omitempty"`
	Author      string `json:"author,omitempty"`
}

// Disposition tells the executor slot what to do with the queue delivery it
// is holding for the job.
type Disposition int

const (
	// DisposeAck removes the job from the queue.
	DisposeAck Disposition = iota
	// DisposeRetry makes the job visible again for another attempt.
	DisposeRetry
	// DisposeBury removes the job from the queue without success.
	DisposeBury
)
