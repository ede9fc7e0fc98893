package inspiration

import (
	"context"
	"time"
)

// JobStore persists jobs and serves cache lookups keyed by canonical URL.
//
// CreateJob is the only serialization point for concurrent submissions of the
// same canonical URL: it must behave as a compare-and-set on the
// canonicalURL -> job index. When a non-terminal job already exists it returns
// that job together with ErrDuplicateInFlight.
type JobStore interface {
	GetCachedResult(ctx context.Context, canonicalURL string) (*AnalysisResult, error)
	GetInFlightJob(ctx context.Context, canonicalURL string) (*Job, error)
	CreateJob(ctx context.Context, job Job) (Job, error)
	StartJob(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, result AnalysisResult) error
	FailJob(ctx context.Context, jobID string, errText string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	Close() error
}

// Enqueuer hands admitted work to the analysis worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// Embedder is an embedding backend.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Model() string
}

// Corpus yields indexed inspiration records in insertion order.
type Corpus interface {
	Records(ctx context.Context) ([]InspirationRecord, error)
}

// Index ranks corpus records against an optional query vector.
type Index interface {
	Query(ctx context.Context, vector Vector, filters Filters, k int) ([]RankedMatch, error)
}

// Hasher computes digests for content-addressed caching.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
