// Package dispatcher admits analysis submissions, deduplicates them against
// the job store, and hands new jobs to the worker queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/insfound/internal/admission"
	"github.com/JakeFAU/insfound/internal/inspiration"
	"github.com/JakeFAU/insfound/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/insfound/internal/dispatcher")

// OutcomeKind distinguishes the two successful submission results.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeCacheHit OutcomeKind = "cache_hit"
	OutcomeAccepted OutcomeKind = "accepted"
)

// Outcome is the result of Submit.
type Outcome struct {
	Kind         OutcomeKind
	JobID        string
	CanonicalURL string
	Mode         inspiration.Mode
	Result       *inspiration.AnalysisResult
	// Existing is set when the returned job was created by an earlier submission.
	Existing bool
}

// Classifier is the admission check applied to every submission.
type Classifier interface {
	Classify(rawURL string) admission.Decision
}

// Config tunes the dispatcher.
type Config struct {
	// EnqueueTimeout bounds the hand-off to the worker queue. Zero means no bound.
	EnqueueTimeout time.Duration
}

// Dispatcher implements the analyze submission pipeline and the worker callbacks.
type Dispatcher struct {
	guard  Classifier
	store  inspiration.JobStore
	queue  inspiration.Enqueuer
	ids    inspiration.IDGenerator
	clock  inspiration.Clock
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(
	guard Classifier,
	store inspiration.JobStore,
	queue inspiration.Enqueuer,
	ids inspiration.IDGenerator,
	clock inspiration.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		guard:  guard,
		store:  store,
		queue:  queue,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("dispatcher"),
	}
}

// Submit runs admission, the cache lookup, and the dedup create for req.
// ModeSync follows the same path; only the caller's response differs.
func (d *Dispatcher) Submit(ctx context.Context, req inspiration.AnalysisRequest) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.Submit")
	defer span.End()

	decision := d.guard.Classify(req.URL)
	if !decision.Accepted {
		metrics.ObserveAdmissionRejection(string(decision.Reason))
		metrics.ObserveSubmission(metrics.SubmissionRejected)
		d.logger.Info("submission rejected",
			zap.String("reason", string(decision.Reason)),
			zap.String("host", decision.Host),
		)
		return Outcome{}, inspiration.BadRequest(decision.Message())
	}
	mode := req.Mode
	if mode == "" {
		mode = inspiration.ModeAsync
	}
	canonical := decision.CanonicalURL
	span.SetAttributes(attribute.String("insfound.canonical_url", canonical))
	logger := d.logger.With(zap.String("canonical_url", canonical))

	cached, err := d.store.GetCachedResult(ctx, canonical)
	if err != nil {
		metrics.ObserveSubmission(metrics.SubmissionStoreUnavailable)
		logger.Error("cache lookup failed", zap.Error(err))
		return Outcome{}, inspiration.Internal("job store unavailable", err)
	}
	if cached != nil {
		metrics.ObserveSubmission(metrics.SubmissionCacheHit)
		logger.Debug("cache hit")
		return Outcome{Kind: OutcomeCacheHit, CanonicalURL: canonical, Mode: mode, Result: cached}, nil
	}

	// Past the dedup check the job must be created even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	jobID, err := d.ids.NewID()
	if err != nil {
		metrics.ObserveSubmission(metrics.SubmissionStoreUnavailable)
		return Outcome{}, inspiration.Internal("generate job id", err)
	}
	job := inspiration.Job{
		ID:           jobID,
		CanonicalURL: canonical,
		Payload:      inspiration.AnalysisRequest{URL: req.URL, Mode: mode},
		CreatedAt:    d.clock.Now(),
	}
	created, err := d.store.CreateJob(ctx, job)
	switch {
	case errors.Is(err, inspiration.ErrDuplicateInFlight):
		metrics.ObserveSubmission(metrics.SubmissionDuplicate)
		logger.Debug("joined in-flight job", zap.String("job_id", created.ID))
		return Outcome{
			Kind:         OutcomeAccepted,
			JobID:        created.ID,
			CanonicalURL: canonical,
			Mode:         mode,
			Existing:     true,
		}, nil
	case err != nil:
		metrics.ObserveSubmission(metrics.SubmissionStoreUnavailable)
		logger.Error("create job failed", zap.Error(err))
		return Outcome{}, inspiration.Internal("job store unavailable", err)
	}

	span.SetAttributes(attribute.String("insfound.job_id", created.ID))
	if err := d.enqueue(ctx, created); err != nil {
		span.RecordError(err)
		metrics.ObserveSubmission(metrics.SubmissionEnqueueFailed)
		logger.Error("enqueue failed", zap.String("job_id", created.ID), zap.Error(err))
		// No task backs the job, so fail it to free the canonical URL.
		if ferr := d.store.FailJob(ctx, created.ID, "enqueue failed: "+err.Error()); ferr != nil {
			logger.Error("release job after enqueue failure", zap.String("job_id", created.ID), zap.Error(ferr))
		}
		return Outcome{}, inspiration.Internal("failed to enqueue analysis", err)
	}
	metrics.ObserveSubmission(metrics.SubmissionAccepted)
	logger.Info("job accepted", zap.String("job_id", created.ID), zap.String("mode", string(mode)))
	return Outcome{Kind: OutcomeAccepted, JobID: created.ID, CanonicalURL: canonical, Mode: mode}, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, job inspiration.Job) error {
	if d.cfg.EnqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
		defer cancel()
	}
	task := inspiration.Task{
		JobID:        job.ID,
		CanonicalURL: job.CanonicalURL,
		Attempt:      1,
		SubmittedAt:  job.CreatedAt,
	}
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Start marks a job as picked up by a worker.
func (d *Dispatcher) Start(ctx context.Context, jobID string) error {
	if err := d.store.StartJob(ctx, jobID); err != nil {
		return classify("start job", err)
	}
	return nil
}

// Complete stores the worker's result. A job can complete only once.
func (d *Dispatcher) Complete(ctx context.Context, jobID string, result inspiration.AnalysisResult) error {
	if err := d.store.CompleteJob(ctx, jobID, result); err != nil {
		return classify("complete job", err)
	}
	metrics.ObserveJobFinished(string(inspiration.JobStatusDone))
	d.logger.Info("job completed", zap.String("job_id", jobID))
	return nil
}

// Fail records a worker failure. The URL becomes eligible for resubmission.
func (d *Dispatcher) Fail(ctx context.Context, jobID string, reason string) error {
	if err := d.store.FailJob(ctx, jobID, reason); err != nil {
		return classify("fail job", err)
	}
	metrics.ObserveJobFinished(string(inspiration.JobStatusFailed))
	d.logger.Warn("job failed", zap.String("job_id", jobID), zap.String("reason", reason))
	return nil
}

// Status returns the stored job.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (inspiration.Job, error) {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return inspiration.Job{}, classify("get job", err)
	}
	return job, nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, inspiration.ErrJobNotFound):
		return &inspiration.Error{Kind: inspiration.KindNotFound, Message: "job not found", Err: err}
	case errors.Is(err, inspiration.ErrAlreadyTerminal):
		return &inspiration.Error{Kind: inspiration.KindAlreadyTerminal, Message: "job already finished", Err: err}
	default:
		return inspiration.Internal(op, err)
	}
}
