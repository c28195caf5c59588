package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"trustd/services/scheduler"
)

func jobIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	job, err := a.jobs.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, toJobResponse(job))
}

func (a *API) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	job, err := a.jobs.Requeue(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			respondError(w, http.StatusNotFound, err)
		case errors.Is(err, scheduler.ErrNotRequeueable):
			respondError(w, http.StatusConflict, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	if err := a.queue.Enqueue(r.Context(), job.ID.String()); err != nil {
		respondError(w, http.StatusServiceUnavailable, fmt.Errorf("queue unavailable: %w", err))
		return
	}

	a.logger.Printf("INFO job %s requeued", job.ID)
	respondJSON(w, http.StatusOK, toJobResponse(job))
}

func (a *API) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	if a.presigner == nil || a.config.LogBucket == "" {
		respondError(w, http.StatusFailedDependency, errors.New("log storage not configured"))
		return
	}

	id, err := jobIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	job, err := a.jobs.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if job.LogKey == "" {
		respondError(w, http.StatusNotFound, errors.New("no grader logs recorded for this job"))
		return
	}

	url, err := a.presigner.PresignGet(r.Context(), a.config.LogBucket, job.LogKey, logURLTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("presign logs: %w", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"job_id": job.ID.String(),
		"url":    url,
	})
}
