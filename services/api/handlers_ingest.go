package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"trustd/services/scheduler"
)

// validateLocator rejects syntactically unusable locators before anything is
// queued. Only absolute http(s) URLs with a host are accepted.
func validateLocator(raw string) (string, error) {
	locator := strings.TrimSpace(raw)
	if locator == "" {
		return "", errors.New("modelUrl is required")
	}

	parsed, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("modelUrl is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("modelUrl scheme %q is not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("modelUrl has no host")
	}
	return locator, nil
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	locator, err := validateLocator(req.ModelURL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	job, created, err := a.submitOrReuse(r.Context(), locator, req.Parents)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	if created {
		if err := a.queue.Enqueue(r.Context(), job.ID.String()); err != nil {
			a.logger.Printf("ERROR enqueue job %s: %v", job.ID, err)
			respondError(w, http.StatusServiceUnavailable, fmt.Errorf("queue unavailable: %w", err))
			return
		}
	}

	if r.URL.Query().Get("mode") == "async" {
		respondJSON(w, http.StatusAccepted, IngestResponse{
			ID:     job.ID.String(),
			Status: IngestStatusPending,
		})
		return
	}

	a.respondAfterWait(w, r.Context(), job.ID)
}

// submitOrReuse creates a new job, unless deduplication is enabled and a
// recent job for the same locator exists.
func (a *API) submitOrReuse(ctx context.Context, locator string, parents []string) (scheduler.Job, bool, error) {
	if a.dedup != nil {
		if cached, ok := a.dedup.Get(locator); ok {
			if id, err := uuid.Parse(cached); err == nil {
				if job, err := a.jobs.Lookup(ctx, id); err == nil {
					return job, false, nil
				}
			}
			a.dedup.Remove(locator)
		}
	}

	job, err := a.jobs.Submit(ctx, locator, parents)
	if err != nil {
		return scheduler.Job{}, false, fmt.Errorf("submit job: %w", err)
	}
	if a.dedup != nil {
		a.dedup.Add(locator, job.ID.String())
	}
	return job, true, nil
}

// respondAfterWait blocks for a terminal job state up to the configured
// bound, then renders the result. A job still in flight at the bound is
// reported pending, never failed.
func (a *API) respondAfterWait(w http.ResponseWriter, ctx context.Context, jobID uuid.UUID) {
	waitCtx, cancel := context.WithTimeout(ctx, a.config.MaxSyncWait)
	defer cancel()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		job, err := a.jobs.Lookup(waitCtx, jobID)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if err == nil && job.State.Terminal() {
			a.respondTerminal(w, ctx, job)
			return
		}

		select {
		case <-waitCtx.Done():
			respondJSON(w, http.StatusAccepted, IngestResponse{
				ID:     jobID.String(),
				Status: IngestStatusPending,
			})
			return
		case <-ticker.C:
		}
	}
}

func (a *API) respondTerminal(w http.ResponseWriter, ctx context.Context, job scheduler.Job) {
	if job.State == scheduler.StateDead {
		message := job.LastError
		if message == "" {
			message = "scoring failed"
		}
		respondJSON(w, http.StatusOK, IngestResponse{
			ID:      job.ID.String(),
			Status:  IngestStatusFailed,
			Message: message,
		})
		return
	}

	artifactID := job.ID.String()
	if job.ArtifactID != nil {
		artifactID = *job.ArtifactID
	}

	artifact, err := a.artifacts.Get(ctx, artifactID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("load artifact %s: %w", artifactID, err))
		return
	}

	score := artifact.Score
	metrics := artifact.Metrics
	respondJSON(w, http.StatusOK, IngestResponse{
		ID:      artifact.ID,
		Name:    artifact.Name,
		Score:   &score,
		Metrics: &metrics,
		Status:  IngestStatusSuccess,
	})
}
