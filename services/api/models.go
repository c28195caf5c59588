package api

import (
	"time"

	"trustd/pkg/scoring"
	"trustd/services/registry"
	"trustd/services/scheduler"
)

// Ingest statuses exposed to callers. A job that is still queued or running
// is reported pending, never failed.
const (
	IngestStatusSuccess = "success"
	IngestStatusFailed  = "failed"
	IngestStatusPending = "pending"
)

// IngestRequest is the external ingest shape.
type IngestRequest struct {
	ModelURL string   `json:"modelUrl"`
	Parents  []string `json:"parents,omitempty"`
}

// IngestResponse is the external result shape for an ingest call.
type IngestResponse struct {
	ID      string                `json:"id"`
	Name    string                `json:"name,omitempty"`
	Score   *float64              `json:"score,omitempty"`
	Metrics *scoring.ModelMetrics `json:"metrics,omitempty"`
	Status  string                `json:"status"`
	Message string                `json:"message,omitempty"`
}

// SearchResponse is one page of matching artifacts with the total match
// count before pagination.
type SearchResponse struct {
	Artifacts []registry.Artifact `json:"artifacts"`
	Total     int                 `json:"total"`
	Page      int                 `json:"page"`
	Limit     int                 `json:"limit"`
}

// JobResponse exposes a job record for inspection.
type JobResponse struct {
	ID          string     `json:"id"`
	Locator     string     `json:"locator"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	ArtifactID  *string    `json:"artifact_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toJobResponse(job scheduler.Job) JobResponse {
	return JobResponse{
		ID:          job.ID.String(),
		Locator:     job.Locator,
		State:       string(job.State),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Deadline:    job.Deadline,
		LastError:   job.LastError,
		ArtifactID:  job.ArtifactID,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

// ComponentHealth is the per-dependency section of the health response.
type ComponentHealth struct {
	Status       string    `json:"status"`
	ResponseTime string    `json:"response_time,omitempty"`
	Message      string    `json:"message,omitempty"`
	LastChecked  time.Time `json:"last_checked"`
}

// HealthResponse is the external health shape polled by operators.
type HealthResponse struct {
	Status      string                     `json:"status"`
	Components  map[string]ComponentHealth `json:"components"`
	Uptime      string                     `json:"uptime"`
	Version     string                     `json:"version,omitempty"`
	Environment string                     `json:"environment,omitempty"`
	Timestamp   time.Time                  `json:"timestamp"`
}
