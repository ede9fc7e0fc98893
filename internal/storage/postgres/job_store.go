package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// createAttempts bounds the insert/lookup loop when the in-flight job finishes
// between a conflicting insert and the follow-up select.
const createAttempts = 3

// JobStoreOptions tunes a JobStore.
type JobStoreOptions struct {
	Table    string
	CacheTTL time.Duration
	Clock    inspiration.Clock
}

// JobStore persists jobs in Postgres. The partial unique index created by
// Migrate guarantees at most one queued or running row per canonical URL.
type JobStore struct {
	pool     querier
	table    string
	cacheTTL time.Duration
	clock    inspiration.Clock
}

// NewJobStore wraps an open pool.
func NewJobStore(pool querier, opts JobStoreOptions) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(opts.Table, "analysis_jobs")
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{pool: pool, table: table, cacheTTL: opts.CacheTTL, clock: clock}, nil
}

// Migrate creates the jobs table and its indexes when missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	canonical_url TEXT NOT NULL,
	status        TEXT NOT NULL,
	payload       JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	result        JSONB,
	error         TEXT
)`, s.table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_in_flight_idx ON %s (canonical_url) WHERE status IN ('queued','running')`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_done_idx ON %s (canonical_url, finished_at DESC) WHERE status = 'done'`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

// GetCachedResult returns the newest completed result for the URL.
func (s *JobStore) GetCachedResult(ctx context.Context, canonicalURL string) (*inspiration.AnalysisResult, error) {
	query := fmt.Sprintf(`
SELECT COALESCE(result, 'null'::jsonb), finished_at
FROM %s
WHERE canonical_url = $1 AND status = 'done'
ORDER BY finished_at DESC
LIMIT 1`, s.table)

	var (
		raw        []byte
		finishedAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, query, canonicalURL).Scan(&raw, &finishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached result: %w", err)
	}
	if s.cacheTTL > 0 && finishedAt.Valid && s.clock.Now().Sub(finishedAt.Time) > s.cacheTTL {
		return nil, nil
	}
	var result *inspiration.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return result, nil
}

// GetInFlightJob returns the queued or running job for the URL, if any.
func (s *JobStore) GetInFlightJob(ctx context.Context, canonicalURL string) (*inspiration.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE canonical_url = $1 AND status IN ('queued','running') LIMIT 1`,
		jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, canonicalURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get in-flight job: %w", err)
	}
	return &job, nil
}

// CreateJob inserts a queued row. A conflict on the in-flight index means
// another submission won; the winning job is returned with ErrDuplicateInFlight.
func (s *JobStore) CreateJob(ctx context.Context, job inspiration.Job) (inspiration.Job, error) {
	if job.ID == "" || job.CanonicalURL == "" {
		return inspiration.Job{}, fmt.Errorf("job id and canonical url are required")
	}
	job.Status = inspiration.JobStatusQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now()
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return inspiration.Job{}, fmt.Errorf("marshal payload: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, canonical_url, status, payload, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (canonical_url) WHERE status IN ('queued','running') DO NOTHING`, s.table)

	for attempt := 0; attempt < createAttempts; attempt++ {
		tag, err := s.pool.Exec(ctx, query, job.ID, job.CanonicalURL, string(job.Status), payload, job.CreatedAt)
		if err != nil {
			return inspiration.Job{}, fmt.Errorf("insert job: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return job, nil
		}
		existing, err := s.GetInFlightJob(ctx, job.CanonicalURL)
		if err != nil {
			return inspiration.Job{}, err
		}
		if existing != nil {
			return *existing, inspiration.ErrDuplicateInFlight
		}
	}
	return inspiration.Job{}, fmt.Errorf("insert job: in-flight row for %s kept changing", job.CanonicalURL)
}

// StartJob moves a queued job to running. Starting a running job is a no-op.
func (s *JobStore) StartJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = 'running', started_at = $2 WHERE id = $1 AND status = 'queued'`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	status, err := s.status(ctx, jobID)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return inspiration.ErrAlreadyTerminal
	}
	return nil
}

// CompleteJob stores the result and marks the job done.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, result inspiration.AnalysisResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = 'done', finished_at = $2, result = $3
WHERE id = $1 AND status IN ('queued','running')`, s.table)
	return s.finish(ctx, jobID, query, raw)
}

// FailJob records the failure and frees the URL for resubmission.
func (s *JobStore) FailJob(ctx context.Context, jobID string, errText string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'failed', finished_at = $2, error = $3
WHERE id = $1 AND status IN ('queued','running')`, s.table)
	return s.finish(ctx, jobID, query, errText)
}

func (s *JobStore) finish(ctx context.Context, jobID, query string, value any) error {
	tag, err := s.pool.Exec(ctx, query, jobID, s.clock.Now(), value)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.status(ctx, jobID); err != nil {
		return err
	}
	return inspiration.ErrAlreadyTerminal
}

func (s *JobStore) status(ctx context.Context, jobID string) (inspiration.JobStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table), jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", inspiration.ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return inspiration.JobStatus(status), nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (inspiration.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return inspiration.Job{}, inspiration.ErrJobNotFound
	}
	if err != nil {
		return inspiration.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Close releases the underlying pool.
func (s *JobStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const jobColumns = `id, canonical_url, status, payload, created_at, started_at, finished_at,
COALESCE(result, 'null'::jsonb), COALESCE(error, '')`

func scanJob(row pgx.Row) (inspiration.Job, error) {
	var (
		job        inspiration.Job
		status     string
		payload    []byte
		result     []byte
		startedAt  pgtype.Timestamptz
		finishedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&job.ID,
		&job.CanonicalURL,
		&status,
		&payload,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
		&result,
		&job.Error,
	); err != nil {
		return inspiration.Job{}, err
	}
	job.Status = inspiration.JobStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return inspiration.Job{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return inspiration.Job{}, fmt.Errorf("decode result: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
