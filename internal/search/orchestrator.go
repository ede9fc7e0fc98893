package search

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/insfound/internal/embedding"
	"github.com/JakeFAU/insfound/internal/inspiration"
	"github.com/JakeFAU/insfound/internal/metrics"
)

// Embedder is the embedding capability the orchestrator depends on.
type Embedder interface {
	Available() bool
	Embed(ctx context.Context, text string) (inspiration.Vector, error)
}

// Config tunes the orchestrator.
type Config struct {
	// QueryTimeout bounds each index query. Zero means no bound.
	QueryTimeout time.Duration
}

// Orchestrator chooses between vector and filter-only retrieval.
type Orchestrator struct {
	embedder Embedder
	index    inspiration.Index
	cfg      Config
	logger   *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(embedder Embedder, index inspiration.Index, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   logger.Named("search"),
	}
}

// Search embeds the query copy when possible and ranks the corpus. Embedding
// failures fall back to filter-only retrieval; index failures are internal errors.
func (o *Orchestrator) Search(ctx context.Context, q inspiration.SearchQuery) ([]inspiration.RankedMatch, error) {
	k := inspiration.NormalizeK(q.K)
	filters := q.Filters()
	path := metrics.SearchFilterOnly

	var vector inspiration.Vector
	if strings.TrimSpace(q.CopyText) != "" && o.embedder != nil && o.embedder.Available() {
		vec, err := o.embedder.Embed(ctx, embedding.ComposeText(q.CopyText, q.Industry, q.Styles))
		if err != nil {
			path = metrics.SearchFallback
			o.logger.Warn("embedding failed, using filter-only search", zap.Error(err))
		} else {
			vector = vec
			path = metrics.SearchVector
		}
	}

	queryCtx := ctx
	if o.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, o.cfg.QueryTimeout)
		defer cancel()
	}
	matches, err := o.index.Query(queryCtx, vector, filters, k)
	if err != nil {
		metrics.ObserveSearch(metrics.SearchFailed)
		o.logger.Error("index query failed", zap.String("path", path), zap.Error(err))
		return nil, inspiration.Internal("search failed", err)
	}
	metrics.ObserveSearch(path)
	return matches, nil
}
