package rlm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mjamiv/vox2txt-sub003/internal/llm"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/aggregate"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/observability"
	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

// ServiceConfig configures the query service.
type ServiceConfig struct {
	// Engine carries the pipeline options.
	Engine Config

	// StorePath is the catalogue database path (empty for in-memory).
	StorePath string

	// CacheEnabled wraps the model client with a response cache.
	CacheEnabled bool

	// CacheSize is the response cache capacity.
	CacheSize int

	// Events receives pipeline events. Nil disables reporting.
	Events observability.Sink
}

// DefaultServiceConfig returns the service defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Engine:       DefaultConfig(),
		CacheEnabled: true,
		CacheSize:    1024,
	}
}

// ServiceStats is a point-in-time view of service counters.
type ServiceStats struct {
	Queries           int64         `json:"queries"`
	SubQueries        int64         `json:"sub_queries"`
	SubQueryFailures  int64         `json:"sub_query_failures"`
	Retries           int64         `json:"retries"`
	TokensEstimated   int64         `json:"tokens_estimated"`
	Conflicts         int64         `json:"conflicts"`
	Fallbacks         int64         `json:"fallbacks"`
	Errors            int64         `json:"errors"`
	CacheHits         int64         `json:"cache_hits"`
	CacheMisses       int64         `json:"cache_misses"`
	CacheHitRate      float64       `json:"cache_hit_rate"`
	MeanQueryDuration time.Duration `json:"mean_query_duration"`
	Uptime            time.Duration `json:"uptime"`
}

// Service owns the catalogue store and the pipeline, and keeps the running
// counters behind Stats. It is safe for concurrent use.
type Service struct {
	mu      sync.RWMutex
	engine  *Engine
	store   *store.Store
	cache   *llm.CachingClient // nil when caching is disabled
	metrics *observability.PipelineMetrics
	cfg     ServiceConfig

	closed    bool
	startTime time.Time
}

// metricsSink feeds counter-worthy events into the pipeline metrics before
// passing them on. Retries and cache traffic are reported where they happen,
// so bridging events is cheaper than threading the metrics everywhere.
type metricsSink struct {
	next    observability.Sink
	metrics *observability.PipelineMetrics
}

func (m *metricsSink) Record(e observability.Event) {
	switch e.Type {
	case observability.EventRetry:
		m.metrics.RecordRetry()
	case observability.EventCacheHit:
		m.metrics.RecordCacheHit()
	case observability.EventCacheMiss:
		m.metrics.RecordCacheMiss()
	case observability.EventError:
		m.metrics.RecordError()
	}
	m.next.Record(e)
}

// NewService opens the catalogue and assembles the pipeline around client.
func NewService(client llm.Client, cfg ServiceConfig) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("rlm: nil model client")
	}

	metrics := observability.NewPipelineMetrics(nil)

	events := cfg.Events
	if events == nil {
		events = observability.Nop()
	}
	sink := &metricsSink{next: events, metrics: metrics}

	st, err := store.Open(store.Options{
		Path:            cfg.StorePath,
		CreateIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}

	var cache *llm.CachingClient
	if cfg.CacheEnabled {
		cache, err = llm.NewCachingClient(client,
			llm.WithCacheSize(cfg.CacheSize),
			llm.WithCacheEvents(sink),
		)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("wrap client with cache: %w", err)
		}
		client = cache
	}

	return &Service{
		engine:    NewEngine(client, st, cfg.Engine, sink),
		store:     st,
		cache:     cache,
		metrics:   metrics,
		cfg:       cfg,
		startTime: time.Now(),
	}, nil
}

// Ask answers one question and records the outcome in the service counters.
func (s *Service) Ask(ctx context.Context, query string) (*Answer, error) {
	return s.AskWith(ctx, query, Overrides{})
}

// AskWith answers one question with parts of the pipeline pinned by the
// caller.
func (s *Service) AskWith(ctx context.Context, query string, ov Overrides) (*Answer, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("rlm: service closed")
	}
	s.mu.RUnlock()

	s.metrics.QueryStarted()
	start := time.Now()

	answer, err := s.engine.AnswerWith(ctx, query, ov)
	if err != nil {
		s.metrics.RecordQuery("", time.Since(start))
		return nil, err
	}

	s.metrics.RecordQuery(string(answer.Strategy), answer.Duration)
	s.metrics.RecordSubQueries(answer.Succeeded, answer.Failed)
	s.metrics.RecordTokens(int64(answer.TokensEstimated))
	if answer.Conflicts != nil && answer.Conflicts.HasConflicts {
		s.metrics.RecordConflicts(len(answer.Conflicts.Conflicts))
	}
	if answer.AggregationType == aggregate.TypeFallback {
		s.metrics.RecordFallback()
	}

	return answer, nil
}

// Stats returns the service counters.
func (s *Service) Stats() ServiceStats {
	stats := ServiceStats{
		Queries:           s.metrics.QueriesTotal(),
		SubQueries:        s.metrics.SubQueriesTotal(),
		SubQueryFailures:  s.metrics.SubQueriesFailed(),
		Retries:           s.metrics.RetriesTotal(),
		TokensEstimated:   s.metrics.TokensEstimated(),
		Conflicts:         s.metrics.ConflictsTotal(),
		Fallbacks:         s.metrics.FallbacksTotal(),
		Errors:            s.metrics.ErrorsTotal(),
		CacheHitRate:      s.metrics.CacheHitRate(),
		MeanQueryDuration: s.metrics.MeanQueryDuration(),
	}

	if s.cache != nil {
		stats.CacheHits, stats.CacheMisses = s.cache.Stats()
	}

	s.mu.RLock()
	if !s.closed {
		stats.Uptime = time.Since(s.startTime)
	}
	s.mu.RUnlock()

	return stats
}

// Metrics exposes the raw pipeline metrics registry.
func (s *Service) Metrics() *observability.PipelineMetrics {
	return s.metrics
}

// Store returns the catalogue store for direct access.
func (s *Service) Store() *store.Store {
	return s.store
}

// Engine returns the pipeline engine for direct access.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Close releases the catalogue store. Safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.store.Close()
}
