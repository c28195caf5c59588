package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing all facade endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Post("/ingest", a.handleIngest)
	r.Get("/search", a.handleSearch)
	r.Get("/health", a.handleHealth)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/{id}", a.handleGetJob)
		r.Post("/{id}/requeue", a.handleRequeueJob)
		r.Get("/{id}/logs", a.handleJobLogs)
	})

	return r, nil
}
