// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// JobStore keeps jobs in process memory. The canonical URL index is updated
// under the same lock as the job map, which makes CreateJob a compare-and-set.
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]inspiration.Job
	inFlight map[string]string // canonical URL -> non-terminal job ID
	latest   map[string]string // canonical URL -> most recently completed job ID
	clock    inspiration.Clock
	cacheTTL time.Duration
}

// JobStoreOption customizes a JobStore.
type JobStoreOption func(*JobStore)

// WithCacheTTL hides completed results older than ttl from GetCachedResult.
// Jobs are still retained.
func WithCacheTTL(ttl time.Duration) JobStoreOption {
	return func(s *JobStore) { s.cacheTTL = ttl }
}

// WithClock overrides the time source used for timestamps and TTL checks.
func WithClock(clock inspiration.Clock) JobStoreOption {
	return func(s *JobStore) { s.clock = clock }
}

// NewJobStore constructs a JobStore.
func NewJobStore(opts ...JobStoreOption) *JobStore {
	s := &JobStore{
		jobs:     make(map[string]inspiration.Job),
		inFlight: make(map[string]string),
		latest:   make(map[string]string),
		clock:    utcClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCachedResult returns the most recent completed result for the URL.
func (s *JobStore) GetCachedResult(_ context.Context, canonicalURL string) (*inspiration.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobID, ok := s.latest[canonicalURL]
	if !ok {
		return nil, nil
	}
	job := s.jobs[jobID]
	if job.Result == nil {
		return nil, nil
	}
	if s.cacheTTL > 0 && job.FinishedAt != nil && s.clock.Now().Sub(*job.FinishedAt) > s.cacheTTL {
		return nil, nil
	}
	result := cloneResult(*job.Result)
	return &result, nil
}

// GetInFlightJob returns the queued or running job for the URL, if any.
func (s *JobStore) GetInFlightJob(_ context.Context, canonicalURL string) (*inspiration.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobID, ok := s.inFlight[canonicalURL]
	if !ok {
		return nil, nil
	}
	job := cloneJob(s.jobs[jobID])
	return &job, nil
}

// CreateJob stores a queued job unless another non-terminal job owns the URL.
func (s *JobStore) CreateJob(_ context.Context, job inspiration.Job) (inspiration.Job, error) {
	if job.ID == "" || job.CanonicalURL == "" {
		return inspiration.Job{}, fmt.Errorf("job id and canonical url are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.inFlight[job.CanonicalURL]; ok {
		return cloneJob(s.jobs[existingID]), inspiration.ErrDuplicateInFlight
	}
	if _, exists := s.jobs[job.ID]; exists {
		return inspiration.Job{}, fmt.Errorf("job %s already exists", job.ID)
	}
	job.Status = inspiration.JobStatusQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now()
	}
	s.jobs[job.ID] = job
	s.inFlight[job.CanonicalURL] = job.ID
	return cloneJob(job), nil
}

// StartJob moves a queued job to running. Starting a running job is a no-op.
func (s *JobStore) StartJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return inspiration.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return inspiration.ErrAlreadyTerminal
	}
	if job.Status == inspiration.JobStatusRunning {
		return nil
	}
	job.Status = inspiration.JobStatusRunning
	job.StartedAt = pointerTime(s.clock.Now())
	s.jobs[jobID] = job
	return nil
}

// CompleteJob attaches the result and releases the URL for caching.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, result inspiration.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.finishLocked(jobID, inspiration.JobStatusDone)
	if err != nil {
		return err
	}
	stored := cloneResult(result)
	job.Result = &stored
	s.jobs[jobID] = job
	s.latest[job.CanonicalURL] = jobID
	return nil
}

// FailJob records the failure and releases the URL so it can be resubmitted.
func (s *JobStore) FailJob(_ context.Context, jobID string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.finishLocked(jobID, inspiration.JobStatusFailed)
	if err != nil {
		return err
	}
	job.Error = errText
	s.jobs[jobID] = job
	return nil
}

func (s *JobStore) finishLocked(jobID string, status inspiration.JobStatus) (inspiration.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return inspiration.Job{}, inspiration.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return inspiration.Job{}, inspiration.ErrAlreadyTerminal
	}
	job.Status = status
	job.FinishedAt = pointerTime(s.clock.Now())
	if s.inFlight[job.CanonicalURL] == jobID {
		delete(s.inFlight, job.CanonicalURL)
	}
	return job, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (inspiration.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return inspiration.Job{}, inspiration.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Close is a no-op.
func (s *JobStore) Close() error {
	return nil
}

func cloneJob(job inspiration.Job) inspiration.Job {
	if job.Result != nil {
		result := cloneResult(*job.Result)
		job.Result = &result
	}
	return job
}

func cloneResult(result inspiration.AnalysisResult) inspiration.AnalysisResult {
	result.Styles = append([]string(nil), result.Styles...)
	result.IndexedVector = append([]float32(nil), result.IndexedVector...)
	return result
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
