package llm

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/xxh3"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/observability"
)

// defaultCacheSize holds roughly a few hundred answered queries at typical
// fan-out.
const defaultCacheSize = 1024

// CachingClient wraps a Client with an LRU response cache. Identical prompts
// recur whenever a plan re-runs after a partial failure or the same question
// is asked across sessions, and model calls dominate query cost. Entries are
// keyed by prompt and token limit; responses for one limit are never served
// for another.
type CachingClient struct {
	inner  Client
	cache  *lru.Cache[string, string]
	events observability.Sink

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Client = (*CachingClient)(nil)

// CacheOption configures a CachingClient.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	size   int
	events observability.Sink
}

// WithCacheSize sets the maximum number of cached responses.
func WithCacheSize(size int) CacheOption {
	return func(c *cacheConfig) {
		c.size = size
	}
}

// WithCacheEvents reports cache hits and misses to sink.
func WithCacheEvents(sink observability.Sink) CacheOption {
	return func(c *cacheConfig) {
		if sink != nil {
			c.events = sink
		}
	}
}

// NewCachingClient wraps inner with a response cache.
func NewCachingClient(inner Client, opts ...CacheOption) (*CachingClient, error) {
	cfg := cacheConfig{
		size:   defaultCacheSize,
		events: observability.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache, err := lru.New[string, string](cfg.size)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}

	return &CachingClient{
		inner:  inner,
		cache:  cache,
		events: cfg.events,
	}, nil
}

// Complete returns the cached response when one exists for the exact prompt
// and token limit, and otherwise delegates to the wrapped client. Failed
// calls are not cached; the next identical call retries the backend.
func (c *CachingClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	key := cacheKey(prompt, maxTokens)

	if response, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		c.events.Record(observability.Event{
			Level:   observability.LevelDebug,
			Type:    observability.EventCacheHit,
			Message: "response served from cache",
			Fields:  map[string]any{"key": key},
		})
		return response, nil
	}
	c.misses.Add(1)
	c.events.Record(observability.Event{
		Level:   observability.LevelDebug,
		Type:    observability.EventCacheMiss,
		Message: "response cache miss",
		Fields:  map[string]any{"key": key},
	})

	response, err := c.inner.Complete(ctx, prompt, maxTokens)
	if err != nil {
		return "", err
	}

	c.cache.Add(key, response)
	return response, nil
}

// Stats returns cache hit and miss counts.
func (c *CachingClient) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached responses.
func (c *CachingClient) Len() int {
	return c.cache.Len()
}

// cacheKey derives a fixed-width key from the prompt and token limit.
func cacheKey(prompt string, maxTokens int) string {
	sum := xxh3.HashString128(fmt.Sprintf("%d\x00%s", maxTokens, prompt))
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo)
}
