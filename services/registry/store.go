package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustd/pkg/db"
)

// ErrNotFound is returned when an artifact id has no stored record.
var ErrNotFound = errors.New("artifact not found")

// Store is the durable registry of scored artifacts. All writes go through
// Put, which is idempotent per artifact id so a retried publication after a
// crash never duplicates rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the provided connection pool.
func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: pool}, nil
}

type artifactRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Score       float64   `db:"score"`
	Metrics     []byte    `db:"metrics"`
	Version     string    `db:"version"`
	License     string    `db:"license"`
	Author      string    `db:"author"`
	Parents     []byte    `db:"parents"`
	DownloadURL string    `db:"download_url"`
	Signature   string    `db:"signature"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

const artifactColumns = `id, name, description, score, metrics,
        coalesce(version, '') AS version, coalesce(license, '') AS license,
        coalesce(author, '') AS author, parents, download_url,
        coalesce(signature, '') AS signature, created_at, updated_at`

func (r artifactRow) toArtifact() (Artifact, error) {
	a := Artifact{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Score:       r.Score,
		Version:     r.Version,
		License:     r.License,
		Author:      r.Author,
		DownloadURL: r.DownloadURL,
		Signature:   r.Signature,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Metrics) > 0 {
		if err := json.Unmarshal(r.Metrics, &a.Metrics); err != nil {
			return Artifact{}, fmt.Errorf("decode metrics for %s: %w", r.ID, err)
		}
	}
	if len(r.Parents) > 0 {
		if err := json.Unmarshal(r.Parents, &a.Parents); err != nil {
			return Artifact{}, fmt.Errorf("decode parents for %s: %w", r.ID, err)
		}
	}
	return a, nil
}

// Put upserts an artifact by id. Calling it twice with the same artifact
// yields exactly one stored row.
func (s *Store) Put(ctx context.Context, a Artifact) error {
	if s == nil {
		return errors.New("nil store")
	}
	if err := a.Validate(); err != nil {
		return err
	}

	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	parents, err := json.Marshal(a.Parents)
	if err != nil {
		return fmt.Errorf("marshal parents: %w", err)
	}

	now := time.Now().UTC()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
        INSERT INTO artifacts (id, name, description, score, metrics, version, license, author, parents, download_url, signature, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            description = EXCLUDED.description,
            score = EXCLUDED.score,
            metrics = EXCLUDED.metrics,
            version = EXCLUDED.version,
            license = EXCLUDED.license,
            author = EXCLUDED.author,
            parents = EXCLUDED.parents,
            download_url = EXCLUDED.download_url,
            signature = EXCLUDED.signature,
            updated_at = EXCLUDED.updated_at;
    `

	_, err = db.Exec(ctx, s.pool, query,
		a.ID, a.Name, a.Description, a.Score, string(metrics),
		a.Version, a.License, a.Author, string(parents),
		a.DownloadURL, a.Signature, createdAt, now)
	return err
}

// Get fetches a single artifact by id.
func (s *Store) Get(ctx context.Context, id string) (Artifact, error) {
	if s == nil {
		return Artifact{}, errors.New("nil store")
	}

	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id = $1`

	var row artifactRow
	if err := db.Get(ctx, s.pool, &row, query, id); err != nil {
		if pgxscan.NotFound(err) {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, err
	}
	return row.toArtifact()
}

// Search returns one page of matching artifacts plus the total match count
// before pagination. Results are ordered newest first.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]Artifact, int, error) {
	if s == nil {
		return nil, 0, errors.New("nil store")
	}
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}

	var (
		where string
		args  []any
	)
	switch q.Type {
	case SearchByID:
		where = "WHERE id = $1"
		args = []any{q.Query}
	case SearchByRegex:
		where = "WHERE name ~ $1 OR description ~ $1"
		args = []any{q.Query}
	case SearchAll:
	}

	var total int
	countQuery := "SELECT count(*) FROM artifacts " + where
	if err := db.Get(ctx, s.pool, &total, countQuery, args...); err != nil {
		return nil, 0, classifyQueryError(err)
	}

	offset := (q.Page - 1) * q.Limit
	pageQuery := fmt.Sprintf(
		"SELECT %s FROM artifacts %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d",
		artifactColumns, where, q.Limit, offset)

	var rows []artifactRow
	if err := db.Select(ctx, s.pool, &rows, pageQuery, args...); err != nil {
		return nil, 0, classifyQueryError(err)
	}

	artifacts := make([]Artifact, 0, len(rows))
	for _, row := range rows {
		a, err := row.toArtifact()
		if err != nil {
			return nil, 0, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, total, nil
}

// Postgres SQLSTATE for invalid_regular_expression. The ~ operator uses the
// ARE dialect, which rejects some patterns Go's regexp accepts, so patterns
// that pass Validate can still fail at execution.
const invalidRegexpCode = "2201B"

func classifyQueryError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidRegexpCode {
		return fmt.Errorf("%w: %s", ErrInvalidPattern, pgErr.Message)
	}
	return err
}
