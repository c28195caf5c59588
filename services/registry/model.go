package registry

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"trustd/pkg/scoring"
)

// Artifact is a scored, registered package record. Metrics are immutable once
// published: new information produces a new artifact, never an in-place edit.
type Artifact struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Score       float64              `json:"score"`
	Metrics     scoring.ModelMetrics `json:"metrics"`
	Version     string               `json:"version,omitempty"`
	License     string               `json:"license,omitempty"`
	Author      string               `json:"author,omitempty"`
	Parents     []string             `json:"parents,omitempty"`
	DownloadURL string               `json:"download_url"`
	Signature   string               `json:"signature,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Validate rejects artifacts that must never reach the store.
func (a Artifact) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("artifact id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("artifact name is required")
	}
	if a.Score < 0 || a.Score > 1 {
		return fmt.Errorf("artifact score %v outside [0, 1]", a.Score)
	}
	return a.Metrics.Validate()
}

// ErrInvalidPattern marks a search pattern the database cannot execute,
// whether caught up front or reported back by Postgres.
var ErrInvalidPattern = errors.New("invalid search pattern")

// Search types supported by the store.
const (
	SearchByID    = "id"
	SearchByRegex = "regex"
	SearchAll     = "all"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// SearchQuery selects artifacts by exact id, by regex over name and
// description, or unfiltered. Page is 1-indexed.
type SearchQuery struct {
	Type  string
	Query string
	Page  int
	Limit int
}

// Validate normalises pagination and rejects malformed queries before they
// reach the database.
func (q *SearchQuery) Validate() error {
	switch q.Type {
	case SearchByID:
		if strings.TrimSpace(q.Query) == "" {
			return errors.New("id search requires a query")
		}
	case SearchByRegex:
		if q.Query == "" {
			return errors.New("regex search requires a pattern")
		}
		if _, err := regexp.Compile(q.Query); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	case SearchAll:
	default:
		return fmt.Errorf("unknown search type %q", q.Type)
	}

	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	return nil
}
