package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Metrics tests

func TestCounter(t *testing.T) {
	c := &Counter{}
	assert.Equal(t, int64(0), c.Value())

	c.Inc()
	assert.Equal(t, int64(1), c.Value())

	c.Add(5)
	assert.Equal(t, int64(6), c.Value())
}

func TestGauge(t *testing.T) {
	g := &Gauge{}
	assert.Equal(t, int64(0), g.Value())

	g.Set(10)
	assert.Equal(t, int64(10), g.Value())

	g.Inc()
	assert.Equal(t, int64(11), g.Value())

	g.Dec()
	assert.Equal(t, int64(10), g.Value())
}

func TestHistogram(t *testing.T) {
	h := NewHistogram([]float64{0.1, 0.5, 1.0}, nil)

	h.Observe(0.05) // bucket 0
	h.Observe(0.3)  // bucket 1
	h.Observe(0.8)  // bucket 2
	h.Observe(2.0)  // infinity bucket

	snap := h.Snapshot()
	assert.Equal(t, int64(4), snap.Count)
	assert.InDelta(t, 3.15, snap.Sum, 0.001)
	assert.Equal(t, int64(1), snap.Counts[0]) // <= 0.1
	assert.Equal(t, int64(1), snap.Counts[1]) // <= 0.5
	assert.Equal(t, int64(1), snap.Counts[2]) // <= 1.0
	assert.Equal(t, int64(1), snap.Counts[3]) // > 1.0 (infinity)
}

func TestHistogramSnapshot_Mean(t *testing.T) {
	h := NewHistogram(nil, nil)
	h.Observe(1.0)
	h.Observe(2.0)
	h.Observe(3.0)

	snap := h.Snapshot()
	assert.InDelta(t, 2.0, snap.Mean(), 0.001)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	// Counter
	c1 := reg.Counter("test_counter", nil)
	c1.Inc()
	c2 := reg.Counter("test_counter", nil)
	assert.Same(t, c1, c2)
	assert.Equal(t, int64(1), c2.Value())

	// Counter with labels
	c3 := reg.Counter("test_counter", Labels{"strategy": "map-reduce"})
	assert.NotSame(t, c1, c3)

	// Gauge
	g := reg.Gauge("test_gauge", nil)
	g.Set(42)
	assert.Equal(t, int64(42), g.Value())

	// Histogram
	h := reg.Histogram("test_histogram", nil, nil)
	h.Observe(1.5)
	assert.Equal(t, int64(1), h.Snapshot().Count)
}

func TestRegistry_Snapshot(t *testing.T) {
	reg := NewRegistry()

	reg.Counter("c1", nil).Add(10)
	reg.Counter("c2", Labels{"a": "b"}).Add(20)
	reg.Gauge("g1", nil).Set(30)
	reg.Histogram("h1", nil, nil).Observe(1.0)

	snap := reg.Snapshot()
	assert.Equal(t, int64(10), snap.Counters["c1"])
	assert.Equal(t, int64(20), snap.Counters["c2,a=b"])
	assert.Equal(t, int64(30), snap.Gauges["g1"])
	assert.Equal(t, int64(1), snap.Histograms["h1"].Count)
}

func TestPipelineMetrics(t *testing.T) {
	m := NewPipelineMetrics(nil)

	m.QueryStarted()
	assert.Equal(t, int64(1), m.queriesInFlight.Value())

	m.RecordQuery("map-reduce", 100*time.Millisecond)
	m.RecordSubQueries(4, 1)
	m.RecordRetry()
	m.RecordTokens(250)
	m.RecordConflicts(2)
	m.RecordFallback()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordError()

	assert.Equal(t, int64(0), m.queriesInFlight.Value())
	assert.Equal(t, int64(1), m.QueriesTotal())
	assert.Equal(t, int64(4), m.SubQueriesTotal())
	assert.Equal(t, int64(1), m.SubQueriesFailed())
	assert.Equal(t, int64(1), m.RetriesTotal())
	assert.Equal(t, int64(250), m.TokensEstimated())
	assert.Equal(t, int64(2), m.ConflictsTotal())
	assert.Equal(t, int64(1), m.FallbacksTotal())
	assert.Equal(t, int64(1), m.ErrorsTotal())
	assert.InDelta(t, 0.667, m.CacheHitRate(), 0.01)
	assert.InDelta(t, 0.1, m.MeanQueryDuration().Seconds(), 0.001)
}

func TestPipelineMetrics_StrategyLabels(t *testing.T) {
	reg := NewRegistry()
	m := NewPipelineMetrics(reg)

	m.QueryStarted()
	m.RecordQuery("parallel", time.Millisecond)
	m.QueryStarted()
	m.RecordQuery("parallel", time.Millisecond)
	m.QueryStarted()
	m.RecordQuery("group-parallel", time.Millisecond)

	snap := reg.Snapshot()
	assert.Equal(t, int64(3), snap.Counters[MetricQueriesTotal])
	assert.Equal(t, int64(2), snap.Counters[MetricQueriesTotal+",strategy=parallel"])
	assert.Equal(t, int64(1), snap.Counters[MetricQueriesTotal+",strategy=group-parallel"])
}

func TestMetrics_Concurrent(t *testing.T) {
	reg := NewRegistry()
	c := reg.Counter("concurrent", nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), c.Value())
}

// Events tests

func TestEventLevel_String(t *testing.T) {
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "error", LevelError.String())
}

func TestEventLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLogger(WithWriter(&buf), WithLevel(LevelDebug))

	logger.Info("test.event", "test message", map[string]any{"key": "value"})

	var event map[string]any
	err := json.Unmarshal(buf.Bytes(), &event)
	require.NoError(t, err)

	assert.Equal(t, "info", event["level"])
	assert.Equal(t, "test.event", event["type"])
	assert.Equal(t, "test message", event["message"])
	assert.Equal(t, "value", event["fields"].(map[string]any)["key"])
}

func TestEventLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLogger(WithWriter(&buf), WithLevel(LevelWarn))

	logger.Debug("debug", "debug msg", nil)
	logger.Info("info", "info msg", nil)
	logger.Warn("warn", "warn msg", nil)
	logger.Error("error", "error msg", nil)

	// Should only have warn and error
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)
}

func TestEventLogger_DefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLogger(
		WithWriter(&buf),
		WithDefaultFields(map[string]any{"service": "vox2txt", "version": "1.0"}),
	)

	logger.Info("test", "msg", map[string]any{"custom": "field"})

	var event map[string]any
	err := json.Unmarshal(buf.Bytes(), &event)
	require.NoError(t, err)

	fields := event["fields"].(map[string]any)
	assert.Equal(t, "vox2txt", fields["service"])
	assert.Equal(t, "1.0", fields["version"])
	assert.Equal(t, "field", fields["custom"])
}

func TestEventLogger_Buffer(t *testing.T) {
	logger := NewEventLogger(WithBuffer(10), WithWriter(nil))

	for i := 0; i < 5; i++ {
		logger.Info("test", "msg", map[string]any{"i": i})
	}

	events := logger.RecentEvents(3)
	assert.Len(t, events, 3)
}

func TestEventLogger_BufferOverflowKeepsRecent(t *testing.T) {
	logger := NewEventLogger(WithBuffer(4), WithWriter(nil))

	for i := 0; i < 6; i++ {
		logger.Info("test", "msg", map[string]any{"i": i})
	}

	events := logger.RecentEvents(0)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, 5, last.Fields["i"])
}

func TestEventLogger_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLogger(WithWriter(&buf))

	err := errors.New("test error")
	logger.LogError(err, "test.error", map[string]any{"context": "value"})

	var event map[string]any
	jsonErr := json.Unmarshal(buf.Bytes(), &event)
	require.NoError(t, jsonErr)

	assert.Equal(t, "error", event["level"])
	fields := event["fields"].(map[string]any)
	assert.Equal(t, "test error", fields["error"])
	assert.Equal(t, "value", fields["context"])
}

func TestEventLogger_RecordFillsTimestamp(t *testing.T) {
	logger := NewEventLogger(WithBuffer(4), WithWriter(nil))

	logger.Record(Event{Level: LevelInfo, Type: "test"})

	events := logger.RecentEvents(1)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestEvent_MarshalJSON(t *testing.T) {
	event := Event{
		Timestamp: time.Now(),
		Level:     LevelInfo,
		Type:      "test",
		Message:   "test message",
		Fields:    map[string]any{"key": "value"},
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "info", decoded["level"])
}

func TestNop_DropsEverything(t *testing.T) {
	sink := Nop()
	sink.Record(Event{Level: LevelError, Type: "test"})
}

// Orchestration tests

// captureSink buffers events for inspection.
type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *captureSink) byType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestOrchestration_QueryLifecycle(t *testing.T) {
	sink := &captureSink{}
	o := NewOrchestration(sink)

	o.QueryStart("q-1", "what changed?")
	o.DecomposeEnd("plan-1", "map-reduce", 5)
	o.StageStart("plan-1", 1, 3)
	o.SubQueryEnd("plan-1", "map-1", "map", true, 1, 20*time.Millisecond)
	o.StageEnd("plan-1", 1, 3, 0, 60*time.Millisecond)
	o.AggregateEnd("plan-1", "synthesis", 3, 40*time.Millisecond)
	o.QueryEnd("q-1", true, 120*time.Millisecond)

	starts := sink.byType(EventQueryStart)
	require.Len(t, starts, 1)
	assert.Equal(t, "q-1", starts[0].Fields["query_id"])
	assert.Equal(t, "what changed?", starts[0].Fields["query"])

	ends := sink.byType(EventQueryEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, LevelInfo, ends[0].Level)
	assert.Equal(t, true, ends[0].Fields["success"])
	assert.Equal(t, int64(120), ends[0].Fields["duration_ms"])

	decomp := sink.byType(EventDecomposeEnd)
	require.Len(t, decomp, 1)
	assert.Equal(t, "map-reduce", decomp[0].Fields["strategy"])
	assert.Equal(t, 5, decomp[0].Fields["sub_queries"])
}

func TestOrchestration_FailureEscalatesLevel(t *testing.T) {
	sink := &captureSink{}
	o := NewOrchestration(sink)

	o.QueryEnd("q-1", false, time.Millisecond)
	o.SubQueryEnd("plan-1", "map-2", "map", false, 2, time.Millisecond)
	o.StageEnd("plan-1", 1, 2, 1, time.Millisecond)

	ends := sink.byType(EventQueryEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, LevelWarn, ends[0].Level)

	subs := sink.byType(EventSubQueryEnd)
	require.Len(t, subs, 1)
	assert.Equal(t, LevelWarn, subs[0].Level)
	assert.Equal(t, 2, subs[0].Fields["attempts"])

	stages := sink.byType(EventStageEnd)
	require.Len(t, stages, 1)
	assert.Equal(t, LevelWarn, stages[0].Level)
}

func TestOrchestration_SkipAndRetry(t *testing.T) {
	sink := &captureSink{}
	o := NewOrchestration(sink)

	o.Retry("plan-1", "map-1", 1, errors.New("model timeout"))
	o.SubQuerySkip("plan-1", "reduce", "map-1")

	retries := sink.byType(EventRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].Fields["attempt"])
	assert.Equal(t, "model timeout", retries[0].Fields["error"])

	skips := sink.byType(EventSubQuerySkip)
	require.Len(t, skips, 1)
	assert.Equal(t, "reduce", skips[0].Fields["sub_query"])
	assert.Equal(t, "map-1", skips[0].Fields["failed_dep"])
}

func TestOrchestration_ConflictsAndFallback(t *testing.T) {
	sink := &captureSink{}
	o := NewOrchestration(sink)

	o.ConflictsFound("plan-1", 2, []string{"revenue", "churn"})
	o.Fallback("plan-1", "synthesis call failed")

	conflicts := sink.byType(EventConflicts)
	require.Len(t, conflicts, 1)
	assert.Equal(t, 2, conflicts[0].Fields["conflicts"])
	assert.Equal(t, []string{"revenue", "churn"}, conflicts[0].Fields["themes"])

	fallbacks := sink.byType(EventFallback)
	require.Len(t, fallbacks, 1)
	assert.Equal(t, LevelWarn, fallbacks[0].Level)
	assert.Equal(t, "synthesis call failed", fallbacks[0].Fields["reason"])
}

func TestOrchestration_Error(t *testing.T) {
	sink := &captureSink{}
	o := NewOrchestration(sink)

	o.Error("decompose", errors.New("no agents"), map[string]any{"query_id": "q-1"})
	o.Error("decompose", nil, nil)

	errs := sink.byType(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "decompose", errs[0].Fields["operation"])
	assert.Equal(t, "no agents", errs[0].Fields["error"])
	assert.Equal(t, "q-1", errs[0].Fields["query_id"])
}

func TestOrchestration_NilSink(t *testing.T) {
	o := NewOrchestration(nil)
	o.QueryStart("q-1", "safe with no sink")
}

func TestEventLogger_AsSink(t *testing.T) {
	var buf bytes.Buffer
	logger := NewEventLogger(WithWriter(&buf), WithLevel(LevelDebug))
	o := NewOrchestration(logger)

	o.StageStart("plan-1", 1, 2)

	var event map[string]any
	err := json.Unmarshal(buf.Bytes(), &event)
	require.NoError(t, err)
	assert.Equal(t, EventStageStart, event["type"])
	assert.Equal(t, "debug", event["level"])
}
