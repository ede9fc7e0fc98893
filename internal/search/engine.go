// Package search ranks corpus records for GET /search.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/insfound/internal/embedding"
	"github.com/JakeFAU/insfound/internal/inspiration"
)

// FilterOnlyScore is the constant score reported when no vector is supplied.
const FilterOnlyScore = 1.0

// Engine is an in-process similarity index over a corpus. Each query reads
// the corpus afresh, so results never reflect a cursor or cached ranking.
type Engine struct {
	corpus inspiration.Corpus
}

// NewEngine creates an Engine over corpus.
func NewEngine(corpus inspiration.Corpus) *Engine {
	return &Engine{corpus: corpus}
}

// Query returns at most k matches. With a nil vector the matches keep corpus
// order and score FilterOnlyScore; otherwise they are ordered by descending
// cosine similarity with ties left in corpus order.
func (e *Engine) Query(
	ctx context.Context,
	vector inspiration.Vector,
	filters inspiration.Filters,
	k int,
) ([]inspiration.RankedMatch, error) {
	k = inspiration.NormalizeK(k)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	records, err := e.corpus.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	match := newPredicate(filters)
	matches := make([]inspiration.RankedMatch, 0, min(k, len(records)))
	if vector == nil {
		for _, rec := range records {
			if !match(rec) {
				continue
			}
			matches = append(matches, inspiration.RankedMatch{Record: rec, Score: FilterOnlyScore})
			if len(matches) == k {
				break
			}
		}
		return matches, nil
	}

	for _, rec := range records {
		if !match(rec) {
			continue
		}
		matches = append(matches, inspiration.RankedMatch{
			Record: rec,
			Score:  CosineSimilarity(vector, rec.Embedding),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rank corpus: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// newPredicate builds the filter shared by both query paths: the industry
// filter is a case-insensitive substring match, the style filter requires a
// case-insensitive intersection.
func newPredicate(filters inspiration.Filters) func(inspiration.InspirationRecord) bool {
	industry := strings.ToLower(strings.TrimSpace(filters.Industry))
	wanted := embedding.NormalizeStyles(filters.Styles)
	return func(rec inspiration.InspirationRecord) bool {
		if industry != "" && !strings.Contains(strings.ToLower(rec.Industry), industry) {
			return false
		}
		if len(wanted) == 0 {
			return true
		}
		for _, style := range rec.Styles {
			style = strings.ToLower(strings.TrimSpace(style))
			for _, w := range wanted {
				if style == w {
					return true
				}
			}
		}
		return false
	}
}
