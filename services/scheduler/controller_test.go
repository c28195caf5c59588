package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"trustd/pkg/scoring"
	"trustd/services/registry"
)

type stateChange struct {
	state      JobState
	lastError  string
	logKey     string
	artifactID *string
}

// memJobStore mirrors the persistence rules of the real store: terminal jobs
// cannot restart, an empty log key keeps the previous one, and a nil artifact
// id keeps the previous one.
type memJobStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]Job
	changes map[uuid.UUID][]stateChange
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		jobs:    make(map[uuid.UUID]Job),
		changes: make(map[uuid.UUID][]stateChange),
	}
}

func (s *memJobStore) Create(_ context.Context, locator string, parents []string, maxAttempts int) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.jobs[job.ID] = job
	return job, nil
}

func (s *memJobStore) Get(_ context.Context, id uuid.UUID) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *memJobStore) Requeue(_ context.Context, id uuid.UUID) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if job.State != StateDead {
		return Job{}, ErrNotRequeueable
	}
	job.State = StateQueued
	job.Attempts = 0
	s.jobs[id] = job
	return job, nil
}

func (s *memJobStore) SweepStuck(context.Context, time.Duration) (int64, int64, error) {
	return 0, 0, nil
}

func (s *memJobStore) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *memJobStore) markRunning(_ context.Context, id uuid.UUID, deadline time.Time) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.State.Terminal() {
		return Job{}, ErrJobNotFound
	}
	job.State = StateRunning
	job.Attempts++
	job.Deadline = &deadline
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *memJobStore) transition(_ context.Context, id uuid.UUID, state JobState, lastError, logKey string, artifactID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.State = state
	job.LastError = lastError
	if logKey != "" {
		job.LogKey = logKey
	}
	if artifactID != nil {
		job.ArtifactID = artifactID
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	s.changes[id] = append(s.changes[id], stateChange{state: state, lastError: lastError, logKey: logKey, artifactID: artifactID})
	return nil
}

func (s *memJobStore) states(id uuid.UUID) []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]JobState, 0, len(s.changes[id]))
	for _, change := range s.changes[id] {
		states = append(states, change.state)
	}
	return states
}

// memPublisher fails Put a configured number of times before accepting,
// upserting by artifact id like the real registry.
type memPublisher struct {
	mu       sync.Mutex
	failures int
	puts     int
	rows     map[string]registry.Artifact
}

func newMemPublisher(failures int) *memPublisher {
	return &memPublisher{failures: failures, rows: make(map[string]registry.Artifact)}
}

func (p *memPublisher) Put(_ context.Context, a registry.Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.puts++
	if p.puts <= p.failures {
		return errors.New("registry unavailable")
	}
	p.rows[a.ID] = a
	return nil
}

func (p *memPublisher) row(id string) (registry.Artifact, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.rows[id]
	return a, ok
}

func (p *memPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rows)
}

func newTestController(t *testing.T, jobs *memJobStore, pub *memPublisher) *Controller {
	t.Helper()
	ctrl, err := NewController(jobs, pub, scoring.DefaultWeights(), nil, log.New(io.Discard, "", 0), Config{
		MaxAttempts:    3,
		PublishBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ctrl
}

func successOutcome() Outcome {
	return Outcome{
		Kind: OutcomeSuccess,
		Metrics: scoring.ModelMetrics{
			RampUp:               0.8,
			Correctness:          0.9,
			BusFactor:            0.5,
			ResponsiveMaintainer: 0.7,
			License:              1.0,
		},
		Descriptor: Descriptor{Name: "pkg-a", Description: "scored package"},
		LogKey:     "jobs/x/attempt-1.log.zst",
	}
}

func TestFinishSuccessPublishesArtifactKeyedByJob(t *testing.T) {
	jobs := newMemJobStore()
	pub := newMemPublisher(0)
	ctrl := newTestController(t, jobs, pub)
	ctx := context.Background()

	created, err := ctrl.Submit(ctx, "https://example.com/pkg-a", []string{"parent-1"})
	if err != nil {
		t.Fatal(err)
	}
	running, err := ctrl.Begin(ctx, created.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	disposition, err := ctrl.Finish(ctx, running, successOutcome())
	if err != nil {
		t.Fatal(err)
	}
	if disposition != DisposeAck {
		t.Fatalf("disposition = %v, want DisposeAck", disposition)
	}

	artifact, ok := pub.row(created.ID.String())
	if !ok {
		t.Fatalf("no artifact stored under job id %s", created.ID)
	}
	if artifact.DownloadURL != "https://example.com/pkg-a" {
		t.Errorf("DownloadURL = %q", artifact.DownloadURL)
	}
	if len(artifact.Parents) != 1 || artifact.Parents[0] != "parent-1" {
		t.Errorf("Parents = %v", artifact.Parents)
	}

	job, err := ctrl.Lookup(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != StateSucceeded {
		t.Errorf("state = %s, want succeeded", job.State)
	}
	if job.ArtifactID == nil || *job.ArtifactID != created.ID.String() {
		t.Errorf("artifact id = %v, want %s", job.ArtifactID, created.ID)
	}
	if job.LogKey != "jobs/x/attempt-1.log.zst" {
		t.Errorf("log key = %q", job.LogKey)
	}
}

func TestFinishRedeliveredSuccessKeepsOneRow(t *testing.T) {
	jobs := newMemJobStore()
	pub := newMemPublisher(0)
	ctrl := newTestController(t, jobs, pub)
	ctx := context.Background()

	created, err := ctrl.Submit(ctx, "https://example.com/pkg-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	running, err := ctrl.Begin(ctx, created.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := ctrl.Finish(ctx, running, successOutcome()); err != nil {
			t.Fatal(err)
		}
	}
	if got := pub.count(); got != 1 {
		t.Fatalf("stored rows = %d, want 1", got)
	}
}

func TestFinishPublishFailureRetries(t *testing.T) {
	jobs := newMemJobStore()
	pub := newMemPublisher(100)
	ctrl := newTestController(t, jobs, pub)
	ctx := context.Background()

	created, err := ctrl.Submit(ctx, "https://example.com/pkg-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	running, err := ctrl.Begin(ctx, created.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	disposition, err := ctrl.Finish(ctx, running, successOutcome())
	if err != nil {
		t.Fatal(err)
	}
	if disposition != DisposeRetry {
		t.Fatalf("disposition = %v, want DisposeRetry", disposition)
	}
	if got := pub.count(); got != 0 {
		t.Fatalf("stored rows = %d, want 0", got)
	}

	job, err := ctrl.Lookup(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != StateRetrying {
		t.Errorf("state = %s, want retrying", job.State)
	}
	if !strings.Contains(job.LastError, "publish artifact") {
		t.Errorf("last error = %q, want publish failure recorded", job.LastError)
	}
}

func TestFinishPublishFailureAtCeilingBuries(t *testing.T) {
	jobs := newMemJobStore()
	pub := newMemPublisher(100)
	ctrl := newTestController(t, jobs, pub)
	ctx := context.Background()

	created, err := ctrl.Submit(ctx, "https://example.com/pkg-a", nil)
	if err != nil {
		t.Fatal(err)
	}

	var running Job
	for i := 0; i < created.MaxAttempts; i++ {
		running, err = ctrl.Begin(ctx, created.ID.String())
		if err != nil {
			t.Fatal(err)
		}
	}

	disposition, err := ctrl.Finish(ctx, running, successOutcome())
	if err != nil {
		t.Fatal(err)
	}
	if disposition != DisposeBury {
		t.Fatalf("disposition = %v, want DisposeBury", disposition)
	}

	job, err := ctrl.Lookup(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != StateDead {
		t.Errorf("state = %s, want dead", job.State)
	}
}

func TestFinishPublishRecoversAfterTransientFailures(t *testing.T) {
	jobs := newMemJobStore()
	pub := newMemPublisher(2)
	ctrl := newTestController(t, jobs, pub)
	ctx := context.Background()

	created, err := ctrl.Submit(ctx, "https://example.com/pkg-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	running, err := ctrl.Begin(ctx, created.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	disposition, err := ctrl.Finish(ctx, running, successOutcome())
	if err != nil {
		t.Fatal(err)
	}
	if disposition != DisposeAck {
		t.Fatalf("disposition = %v, want DisposeAck", disposition)
	}
	if got := pub.count(); got != 1 {
		t.Fatalf("stored rows = %d, want 1", got)
	}
}

func TestFinishRecordsFailedBeforeRetrying(t *testing.T) {
	jobs := newMemJobStore()
	pub := newMemPublisher(0)
	ctrl := newTestController(t, jobs, pub)
	ctx := context.Background()

	created, err := ctrl.Submit(ctx, "https://example.com/pkg-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	running, err := ctrl.Begin(ctx, created.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ctrl.Finish(ctx, running, Outcome{Kind: OutcomeRetryable, Diagnostic: "grader crashed", LogKey: "jobs/x/attempt-1.log.zst"}); err != nil {
		t.Fatal(err)
	}

	want := []JobState{StateFailed, StateRetrying}
	got := jobs.states(created.ID)
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}

	job, err := ctrl.Lookup(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.LogKey != "jobs/x/attempt-1.log.zst" {
		t.Errorf("log key = %q, want kept across the follow-up transition", job.LogKey)
	}
}

func TestFinishRecordsFailedBeforeDead(t *testing.T) {
	jobs := newMemJobStore()
	pub := newMemPublisher(0)
	ctrl := newTestController(t, jobs, pub)
	ctx := context.Background()

	created, err := ctrl.Submit(ctx, "https://example.com/pkg-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	running, err := ctrl.Begin(ctx, created.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ctrl.Finish(ctx, running, Outcome{Kind: OutcomeTerminal, Diagnostic: "package is unscorable"}); err != nil {
		t.Fatal(err)
	}

	got := jobs.states(created.ID)
	want := []JobState{StateFailed, StateDead}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
}

func TestBeginRefusesTerminalJobs(t *testing.T) {
	jobs := newMemJobStore()
	pub := newMemPublisher(0)
	ctrl := newTestController(t, jobs, pub)
	ctx := context.Background()

	created, err := ctrl.Submit(ctx, "https://example.com/pkg-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	running, err := ctrl.Begin(ctx, created.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctrl.Finish(ctx, running, successOutcome()); err != nil {
		t.Fatal(err)
	}

	if _, err := ctrl.Begin(ctx, created.ID.String()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Begin() on succeeded job error = %v, want ErrJobNotFound", err)
	}
}
