package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"trustd/pkg/db"
)

// ErrJobNotFound is returned when a job id has no stored record.
var ErrJobNotFound = errors.New("job not found")

// ErrNotRequeueable is returned when a requeue targets a job that is not dead.
var ErrNotRequeueable = errors.New("only dead jobs can be requeued")

// JobStore persists job records and their lifecycle transitions. Every
// transition is written through before the caller proceeds, so a restarted
// scheduler recovers entirely from queue and store state.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a JobStore backed by the provided connection pool.
func NewJobStore(pool *pgxpool.Pool) (*JobStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

type jobRow struct {
	ID          uuid.UUID  `db:"id"`
	Locator     string     `db:"locator"`
	State       string     `db:"state"`
	Attempts    int        `db:"attempts"`
	MaxAttempts int        `db:"max_attempts"`
	Deadline    *time.Time `db:"deadline"`
	LastError   string     `db:"last_error"`
	ArtifactID  *string    `db:"artifact_id"`
	LogKey      string     `db:"log_key"`
	Parents     []byte     `db:"parents"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

const jobColumns = `id, locator, state, attempts, max_attempts, deadline,
        coalesce(last_error, '') AS last_error, artifact_id,
        coalesce(log_key, '') AS log_key, parents, created_at, updated_at`

func (r jobRow) toJob() (Job, error) {
	j := Job{
		ID:          r.ID,
		Locator:     r.Locator,
		State:       JobState(r.State),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		Deadline:    r.Deadline,
		LastError:   r.LastError,
		ArtifactID:  r.ArtifactID,
		LogKey:      r.LogKey,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Parents) > 0 {
		if err := json.Unmarshal(r.Parents, &j.Parents); err != nil {
			return Job{}, fmt.Errorf("decode parents for %s: %w", r.ID, err)
		}
	}
	return j, nil
}

// Create persists a new queued job.
func (s *JobStore) Create(ctx context.Context, locator string, parents []string, maxAttempts int) (Job, error) {
	if s == nil {
		return Job{}, errors.New("nil job store")
	}
	if locator == "" {
		return Job{}, errors.New("locator is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return Job{}, fmt.Errorf("marshal parents: %w", err)
	}

	now := time.Now().UTC()
	job := Job{
		ID:          uuid.New(),
		Locator:     locator,
		State:       StateQueued,
		MaxAttempts: maxAttempts,
		Parents:     parents,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
        INSERT INTO jobs (id, locator, state, attempts, max_attempts, parents, created_at, updated_at)
        VALUES ($1, $2, $3, 0, $4, $5::jsonb, $6, $6);
    `
	if _, err := db.Exec(ctx, s.pool, query, job.ID, job.Locator, string(job.State), job.MaxAttempts, string(parentsJSON), now); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Get fetches a single job by id.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	if s == nil {
		return Job{}, errors.New("nil job store")
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var row jobRow
	if err := db.Get(ctx, s.pool, &row, query, id); err != nil {
		if pgxscan.NotFound(err) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, err
	}
	return row.toJob()
}

// markRunning transitions a job to running, bumps its attempt counter, and
// stamps the attempt deadline, returning the updated record. Terminal jobs
// are left alone so a late redelivery cannot resurrect them.
func (s *JobStore) markRunning(ctx context.Context, id uuid.UUID, deadline time.Time) (Job, error) {
	query := `
        UPDATE jobs
        SET state = $2, attempts = attempts + 1, deadline = $3, updated_at = $4
        WHERE id = $1 AND state NOT IN ($5, $6)
        RETURNING ` + jobColumns + `;
    `

	var row jobRow
	err := db.Get(ctx, s.pool, &row, query, id, string(StateRunning), deadline, time.Now().UTC(),
		string(StateSucceeded), string(StateDead))
	if err != nil {
		if pgxscan.NotFound(err) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, err
	}
	return row.toJob()
}

// transition records a lifecycle transition with its accompanying error and
// log pointer.
func (s *JobStore) transition(ctx context.Context, id uuid.UUID, state JobState, lastError, logKey string, artifactID *string) error {
	query := `
        UPDATE jobs
        SET state = $2,
            last_error = $3,
            log_key = CASE WHEN $4 = '' THEN log_key ELSE $4 END,
            artifact_id = coalesce($5, artifact_id),
            updated_at = $6
        WHERE id = $1;
    `
	tag, err := db.Exec(ctx, s.pool, query, id, string(state), lastError, logKey, artifactID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Requeue resets a dead job for a fresh attempt cycle. The caller is
// responsible for the matching queue publish.
func (s *JobStore) Requeue(ctx context.Context, id uuid.UUID) (Job, error) {
	if s == nil {
		return Job{}, errors.New("nil job store")
	}

	query := `
        UPDATE jobs
        SET state = $2, attempts = 0, deadline = NULL, last_error = '', updated_at = $3
        WHERE id = $1 AND state = $4
        RETURNING ` + jobColumns + `;
    `

	var row jobRow
	err := db.Get(ctx, s.pool, &row, query, id, string(StateQueued), time.Now().UTC(), string(StateDead))
	if err != nil {
		if pgxscan.NotFound(err) {
			if _, getErr := s.Get(ctx, id); getErr != nil {
				return Job{}, getErr
			}
			return Job{}, ErrNotRequeueable
		}
		return Job{}, err
	}
	return row.toJob()
}

// SweepStuck force-fails jobs still marked running past their deadline plus
// grace. This is the recovery path for workers that died mid-attempt: the
// queue's visibility timeout will redeliver the message, and the row must
// reflect that the previous attempt failed. Jobs out of attempts go dead.
func (s *JobStore) SweepStuck(ctx context.Context, grace time.Duration) (retried, died int64, err error) {
	if s == nil {
		return 0, 0, errors.New("nil job store")
	}

	cutoff := time.Now().UTC().Add(-grace)
	reason := "attempt deadline elapsed without a reported outcome"

	deadTag, err := db.Exec(ctx, s.pool, `
        UPDATE jobs
        SET state = $1, last_error = $2, updated_at = now()
        WHERE state = $3 AND deadline IS NOT NULL AND deadline < $4 AND attempts >= max_attempts;
    `, string(StateDead), reason, string(StateRunning), cutoff)
	if err != nil {
		return 0, 0, err
	}

	retryTag, err := db.Exec(ctx, s.pool, `
        UPDATE jobs
        SET state = $1, last_error = $2, updated_at = now()
        WHERE state = $3 AND deadline IS NOT NULL AND deadline < $4 AND attempts < max_attempts;
    `, string(StateRetrying), reason, string(StateRunning), cutoff)
	if err != nil {
		return 0, deadTag.RowsAffected(), err
	}

	return retryTag.RowsAffected(), deadTag.RowsAffected(), nil
}

// DeleteTerminalBefore removes succeeded and dead jobs older than the cutoff,
// mirroring the object-storage retention window for grader logs.
func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, errors.New("nil job store")
	}

	tag, err := db.Exec(ctx, s.pool, `
        DELETE FROM jobs
        WHERE state IN ($1, $2) AND updated_at < $3;
    `, string(StateSucceeded), string(StateDead), cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
