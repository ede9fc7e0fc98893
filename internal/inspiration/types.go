package inspiration

import (
	"strings"
	"time"
)

// DefaultK is the number of matches returned when the caller does not ask for a valid count.
const DefaultK = 12

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Mode selects the response shape for an analysis submission.
type Mode string

// Supported submission modes. ModeSync is a development escape hatch and never
// processes inline.
const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

// AnalysisRequest is constructed per inbound analyze call.
type AnalysisRequest struct {
	URL  string `json:"url"`
	Mode Mode   `json:"mode"`
}

// AnalysisResult is produced once per URL by the analysis worker.
type AnalysisResult struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Industry      string    `json:"industry"`
	Styles        []string  `json:"styles"`
	ScreenshotRef string    `json:"screenshot,omitempty"`
	IndexedVector []float32 `json:"indexed_vector,omitempty"`
}

// Job is the metadata persisted for each admitted canonical URL.
type Job struct {
	ID           string          `json:"id"`
	CanonicalURL string          `json:"canonical_url"`
	Status       JobStatus       `json:"status"`
	Payload      AnalysisRequest `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Result       *AnalysisResult `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Task is the unit of work handed to the analysis worker queue.
type Task struct {
	JobID        string    `json:"job_id"`
	CanonicalURL string    `json:"canonical_url"`
	Attempt      int       `json:"attempt"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Vector is a fixed-length embedding.
type Vector []float32

// InspirationRecord is a read-only corpus entry populated by the ingestion pipeline.
type InspirationRecord struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ScreenshotRef string   `json:"screenshot"`
	Industry      string   `json:"industry"`
	Styles        []string `json:"styles"`
	Embedding     Vector   `json:"embedding,omitempty"`
}

// Filters are the structured predicates shared by both search paths.
type Filters struct {
	Industry string
	Styles   []string
}

// Empty reports whether no predicate is set.
func (f Filters) Empty() bool {
	return strings.TrimSpace(f.Industry) == "" && len(f.Styles) == 0
}

// SearchQuery is the validated form of a search call.
type SearchQuery struct {
	CopyText string
	Industry string
	Styles   []string
	K        int
}

// Filters extracts the structured predicates from the query.
func (q SearchQuery) Filters() Filters {
	return Filters{Industry: q.Industry, Styles: q.Styles}
}

// RankedMatch pairs a corpus record with a similarity score in [0,1].
type RankedMatch struct {
	Record InspirationRecord
	Score  float64
}

// NormalizeK clamps k to a positive count, falling back to DefaultK.
func NormalizeK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	return k
}
