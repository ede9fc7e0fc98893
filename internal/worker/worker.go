// Package worker implements the bundled development analysis worker. It
// consumes tasks from the in-process queue, fetches each page, and reports the
// outcome through the dispatcher callbacks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/insfound/internal/fetcher/colly"
	"github.com/JakeFAU/insfound/internal/inspiration"
	"github.com/JakeFAU/insfound/internal/metrics"
	queuememory "github.com/JakeFAU/insfound/internal/queue/memory"
)

// Source yields queued tasks.
type Source interface {
	Dequeue(ctx context.Context) (inspiration.Task, error)
}

// Fetcher retrieves page metadata for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (collyfetcher.Page, error)
}

// Callbacks receive job state transitions.
type Callbacks interface {
	Start(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result inspiration.AnalysisResult) error
	Fail(ctx context.Context, jobID string, reason string) error
}

// Limiter paces fetches per target domain.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Worker behavior.
type Config struct {
	Concurrency      int
	MaxRetries       int
	RetryBackoffBase time.Duration
	// Limiter is optional; nil fetches without pacing.
	Limiter Limiter
}

// Worker consumes queue items and executes the fetch pipeline.
type Worker struct {
	source    Source
	fetcher   Fetcher
	callbacks Callbacks
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(source Source, fetcher Fetcher, callbacks Callbacks, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = 500 * time.Millisecond
	}
	return &Worker{
		source:    source,
		fetcher:   fetcher,
		callbacks: callbacks,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run starts Concurrency consumers and blocks until the context finishes or
// the source is closed.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, w.logger.With(zap.Int("consumer", id)))
		}(i)
	}
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context, logger *zap.Logger) {
	for {
		task, err := w.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queuememory.ErrClosed) {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		logger.Debug("dequeued task", zap.String("job_id", task.JobID))
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task inspiration.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	logger := w.logger.With(zap.String("job_id", task.JobID), zap.String("url", task.CanonicalURL))

	if err := w.callbacks.Start(ctx, task.JobID); err != nil {
		// Terminal or unknown jobs are skipped.
		logger.Warn("start job failed", zap.Error(err))
		return
	}

	page, err := w.fetchWithRetry(ctx, task.CanonicalURL)
	site := metrics.SanitizeSite(task.CanonicalURL)
	if err != nil {
		metrics.ObserveFetch(site, "error")
		logger.Error("fetch failed", zap.Error(err))
		if ferr := w.callbacks.Fail(context.WithoutCancel(ctx), task.JobID, err.Error()); ferr != nil {
			logger.Error("fail job failed", zap.Error(ferr))
		}
		return
	}
	metrics.ObserveFetch(site, "ok")

	result := inspiration.AnalysisResult{
		URL:           task.CanonicalURL,
		Title:         page.Title,
		Description:   page.Description,
		Industry:      page.Industry,
		Styles:        page.Keywords,
		ScreenshotRef: page.Screenshot,
	}
	if err := w.callbacks.Complete(context.WithoutCancel(ctx), task.JobID, result); err != nil {
		logger.Error("complete job failed", zap.Error(err))
		return
	}
	logger.Info("job processed", zap.Int("status", page.StatusCode), zap.Duration("duration", page.Duration))
}

func (w *Worker) fetchWithRetry(ctx context.Context, url string) (collyfetcher.Page, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.cfg.RetryBackoffBase * time.Duration(1<<(attempt-1))
			w.logger.Debug("retrying fetch", zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			if err := sleepWithContext(ctx, backoff); err != nil {
				return collyfetcher.Page{}, err
			}
		}
		if w.cfg.Limiter != nil {
			if err := w.cfg.Limiter.Wait(ctx, url); err != nil {
				return collyfetcher.Page{}, err
			}
		}
		page, err := w.fetcher.Fetch(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return collyfetcher.Page{}, fmt.Errorf("fetch %s: %w", url, lastErr)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
