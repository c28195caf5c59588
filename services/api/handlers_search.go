package api

import (
	"errors"
	"net/http"
	"strconv"

	"trustd/services/registry"
)

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	query := registry.SearchQuery{
		Type:  params.Get("type"),
		Query: params.Get("query"),
	}
	if query.Type == "" {
		query.Type = registry.SearchAll
	}
	if raw := params.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		query.Page = page
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		query.Limit = limit
	}

	if err := query.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	artifacts, total, err := a.artifacts.Search(r.Context(), query)
	if err != nil {
		// Postgres can still reject a pattern Validate accepted, its ~
		// operator speaks a different regex dialect.
		if errors.Is(err, registry.ErrInvalidPattern) {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if artifacts == nil {
		artifacts = []registry.Artifact{}
	}

	respondJSON(w, http.StatusOK, SearchResponse{
		Artifacts: artifacts,
		Total:     total,
		Page:      query.Page,
		Limit:     query.Limit,
	})
}
