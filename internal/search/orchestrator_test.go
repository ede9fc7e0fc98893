package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

type stubEmbedder struct {
	available bool
	vector    inspiration.Vector
	err       error
	texts     []string
}

func (s *stubEmbedder) Available() bool { return s.available }

func (s *stubEmbedder) Embed(_ context.Context, text string) (inspiration.Vector, error) {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

type recordingIndex struct {
	inspiration.Index
	vectors []inspiration.Vector
	err     error
	delay   time.Duration
}

func (r *recordingIndex) Query(
	ctx context.Context,
	vector inspiration.Vector,
	filters inspiration.Filters,
	k int,
) ([]inspiration.RankedMatch, error) {
	r.vectors = append(r.vectors, vector)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.Index.Query(ctx, vector, filters, k)
}

func TestOrchestratorUsesVectorPath(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{available: true, vector: inspiration.Vector{0, 1}}
	index := &recordingIndex{Index: NewEngine(sampleCorpus())}
	orch := NewOrchestrator(embedder, index, Config{}, zap.NewNop())

	matches, err := orch.Search(context.Background(), inspiration.SearchQuery{
		CopyText: "grow your business",
		Industry: "SaaS",
		Styles:   []string{"minimalist", "bold"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"USER_COPY: grow your business\nINDUSTRY: SaaS\nSTYLES: bold,minimalist"}, embedder.texts)
	require.NotNil(t, index.vectors[0])
	assert.Equal(t, []string{"3", "1", "5"}, ids(matches))
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestOrchestratorFallsBackWhenUnavailable(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{available: false}
	index := &recordingIndex{Index: NewEngine(sampleCorpus())}
	orch := NewOrchestrator(embedder, index, Config{}, nil)

	matches, err := orch.Search(context.Background(), inspiration.SearchQuery{CopyText: "grow your business", Industry: "SaaS"})
	require.NoError(t, err)
	assert.Empty(t, embedder.texts)
	assert.Nil(t, index.vectors[0])
	assert.Equal(t, []string{"1", "3", "5"}, ids(matches))
}

func TestOrchestratorFallsBackOnEmbedError(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{available: true, err: errors.New("timeout")}
	index := &recordingIndex{Index: NewEngine(sampleCorpus())}
	orch := NewOrchestrator(embedder, index, Config{}, zap.NewNop())

	matches, err := orch.Search(context.Background(), inspiration.SearchQuery{CopyText: "grow", Industry: "SaaS", K: 2})
	require.NoError(t, err)
	assert.Nil(t, index.vectors[0])
	assert.Equal(t, []string{"1", "3"}, ids(matches))
}

func TestOrchestratorSkipsEmbeddingWithoutCopy(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{available: true, vector: inspiration.Vector{1, 0}}
	index := &recordingIndex{Index: NewEngine(sampleCorpus())}
	orch := NewOrchestrator(embedder, index, Config{}, zap.NewNop())

	_, err := orch.Search(context.Background(), inspiration.SearchQuery{CopyText: "   ", Industry: "SaaS"})
	require.NoError(t, err)
	assert.Empty(t, embedder.texts)
}

func TestOrchestratorIndexFailureIsInternal(t *testing.T) {
	t.Parallel()

	index := &recordingIndex{Index: NewEngine(sampleCorpus()), err: errors.New("index down")}
	orch := NewOrchestrator(nil, index, Config{}, zap.NewNop())

	_, err := orch.Search(context.Background(), inspiration.SearchQuery{Industry: "SaaS"})
	require.Error(t, err)
	assert.Equal(t, inspiration.KindInternal, inspiration.KindOf(err))
}

func TestOrchestratorQueryTimeout(t *testing.T) {
	t.Parallel()

	index := &recordingIndex{Index: NewEngine(sampleCorpus()), delay: time.Second}
	orch := NewOrchestrator(nil, index, Config{QueryTimeout: 10 * time.Millisecond}, zap.NewNop())

	_, err := orch.Search(context.Background(), inspiration.SearchQuery{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, inspiration.KindInternal, inspiration.KindOf(err))
}
