// Package embedding turns search copy into vectors. The Client fronts an
// optional backend with a content-addressed cache and collapses concurrent
// identical requests into one backend call.
package embedding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/insfound/internal/hash/sha256"
	"github.com/JakeFAU/insfound/internal/inspiration"
	"github.com/JakeFAU/insfound/internal/metrics"
)

// DefaultCacheSize bounds the number of cached vectors.
const DefaultCacheSize = 4096

// ClientConfig tunes the Client.
type ClientConfig struct {
	// Timeout bounds each backend call. Zero means no bound beyond the caller's context.
	Timeout   time.Duration
	CacheSize int
	// Hasher derives cache keys. Nil uses SHA-256.
	Hasher inspiration.Hasher
}

// Client wraps an optional embedding backend.
type Client struct {
	backend inspiration.Embedder
	timeout time.Duration
	hasher  inspiration.Hasher
	cache   *lru.Cache[string, inspiration.Vector]
	group   singleflight.Group
	logger  *zap.Logger
}

// NewClient builds a Client. A nil backend yields a client that reports
// itself unavailable.
func NewClient(backend inspiration.Embedder, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, inspiration.Vector](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = sha256.New()
	}
	return &Client{
		backend: backend,
		timeout: cfg.Timeout,
		hasher:  hasher,
		cache:   cache,
		logger:  logger.Named("embedding"),
	}, nil
}

// Available reports whether a backend is configured.
func (c *Client) Available() bool {
	return c != nil && c.backend != nil
}

// Model returns the backend model, or "" when unavailable.
func (c *Client) Model() string {
	if !c.Available() {
		return ""
	}
	return c.backend.Model()
}

// Embed returns the vector for text, or inspiration.ErrUnavailable when no
// backend is configured.
func (c *Client) Embed(ctx context.Context, text string) (inspiration.Vector, error) {
	if !c.Available() {
		return nil, inspiration.ErrUnavailable
	}
	key, err := c.hasher.Hash([]byte(c.backend.Model() + "\x00" + text))
	if err != nil {
		return nil, fmt.Errorf("embed cache key: %w", err)
	}
	if vec, ok := c.cache.Get(key); ok {
		metrics.ObserveEmbedding("hit")
		return cloneVector(vec), nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// The shared call must not inherit one waiter's cancellation.
		callCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, c.timeout)
			defer cancel()
		}
		start := time.Now()
		vec, err := c.backend.Embed(callCtx, text)
		metrics.ObserveEmbeddingLatency(time.Since(start))
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("embed: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			metrics.ObserveEmbedding("error")
			c.logger.Warn("embedding failed", zap.Error(res.Err))
			return nil, fmt.Errorf("embed: %w", res.Err)
		}
		if res.Shared {
			metrics.ObserveEmbedding("shared")
		} else {
			metrics.ObserveEmbedding("miss")
		}
		vec, _ := res.Val.(inspiration.Vector)
		return cloneVector(vec), nil
	}
}

// ComposeText builds the embedding input for a search: copy, industry, and
// styles on fixed labeled lines. Styles are normalized so that equivalent
// queries produce identical text.
func ComposeText(copyText, industry string, styles []string) string {
	return fmt.Sprintf("USER_COPY: %s\nINDUSTRY: %s\nSTYLES: %s",
		strings.TrimSpace(copyText),
		strings.TrimSpace(industry),
		strings.Join(NormalizeStyles(styles), ","),
	)
}

// NormalizeStyles trims, lowercases, de-duplicates, and sorts styles.
func NormalizeStyles(styles []string) []string {
	seen := make(map[string]struct{}, len(styles))
	out := make([]string, 0, len(styles))
	for _, s := range styles {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func cloneVector(v inspiration.Vector) inspiration.Vector {
	if v == nil {
		return nil
	}
	return append(inspiration.Vector(nil), v...)
}
