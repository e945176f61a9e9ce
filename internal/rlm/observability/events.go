package observability

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// EventLevel represents the severity of an event.
type EventLevel int

const (
	LevelDebug EventLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l EventLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Event types emitted by the query pipeline.
const (
	EventQueryStart   = "rlm.query.start"
	EventQueryEnd     = "rlm.query.end"
	EventDecomposeEnd = "rlm.decompose.end"
	EventStageStart   = "rlm.stage.start"
	EventStageEnd     = "rlm.stage.end"
	EventSubQueryEnd  = "rlm.subquery.end"
	EventSubQuerySkip = "rlm.subquery.skip"
	EventRetry        = "rlm.subquery.retry"
	EventConflicts    = "rlm.conflicts.found"
	EventAggregateEnd = "rlm.aggregate.end"
	EventFallback     = "rlm.aggregate.fallback"
	EventCacheHit     = "rlm.cache.hit"
	EventCacheMiss    = "rlm.cache.miss"
	EventError        = "rlm.error"
)

// Event represents a structured pipeline event.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     EventLevel     `json:"level"`
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(&struct {
		Level string `json:"level"`
		alias
	}{
		Level: e.Level.String(),
		alias: alias(e),
	})
}

// Sink receives pipeline events. Implementations must be safe for
// concurrent use; the executor records from multiple goroutines.
type Sink interface {
	Record(Event)
}

// Nop returns a sink that drops every event.
func Nop() Sink {
	return nopSink{}
}

type nopSink struct{}

func (nopSink) Record(Event) {}

// EventLogger is a Sink that writes events as JSON lines and optionally
// keeps a bounded in-memory buffer of recent events.
type EventLogger struct {
	writer    io.Writer
	level     EventLevel
	fields    map[string]any // Default fields for all events
	mu        sync.Mutex
	buffer    []Event
	maxBuffer int
}

// LoggerOption configures an event logger.
type LoggerOption func(*EventLogger)

// WithWriter sets the output writer.
func WithWriter(w io.Writer) LoggerOption {
	return func(l *EventLogger) {
		l.writer = w
	}
}

// WithLevel sets the minimum event level.
func WithLevel(level EventLevel) LoggerOption {
	return func(l *EventLogger) {
		l.level = level
	}
}

// WithDefaultFields sets default fields merged into every event.
func WithDefaultFields(fields map[string]any) LoggerOption {
	return func(l *EventLogger) {
		l.fields = fields
	}
}

// WithBuffer enables recent-event buffering.
func WithBuffer(size int) LoggerOption {
	return func(l *EventLogger) {
		l.maxBuffer = size
		l.buffer = make([]Event, 0, size)
	}
}

// NewEventLogger creates a new event logger.
func NewEventLogger(opts ...LoggerOption) *EventLogger {
	l := &EventLogger{
		writer: os.Stderr,
		level:  LevelInfo,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Record implements Sink. Events below the configured level are dropped.
func (l *EventLogger) Record(event Event) {
	if event.Level < l.level {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Fields = l.mergeFields(event.Fields)
	l.emit(event)
}

// Log records an event at the given level.
func (l *EventLogger) Log(level EventLevel, eventType string, message string, fields map[string]any) {
	l.Record(Event{
		Timestamp: time.Now(),
		Level:     level,
		Type:      eventType,
		Message:   message,
		Fields:    fields,
	})
}

// Debug records a debug event.
func (l *EventLogger) Debug(eventType string, message string, fields map[string]any) {
	l.Log(LevelDebug, eventType, message, fields)
}

// Info records an info event.
func (l *EventLogger) Info(eventType string, message string, fields map[string]any) {
	l.Log(LevelInfo, eventType, message, fields)
}

// Warn records a warning event.
func (l *EventLogger) Warn(eventType string, message string, fields map[string]any) {
	l.Log(LevelWarn, eventType, message, fields)
}

// Error records an error event.
func (l *EventLogger) Error(eventType string, message string, fields map[string]any) {
	l.Log(LevelError, eventType, message, fields)
}

// LogError records err as an error event. Nil errors are ignored.
func (l *EventLogger) LogError(err error, eventType string, fields map[string]any) {
	if err == nil {
		return
	}

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["error"] = err.Error()

	l.Error(eventType, err.Error(), fields)
}

// RecentEvents returns up to n of the most recent buffered events.
func (l *EventLogger) RecentEvents(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buffer == nil {
		return nil
	}

	if n <= 0 || n > len(l.buffer) {
		n = len(l.buffer)
	}

	result := make([]Event, n)
	copy(result, l.buffer[len(l.buffer)-n:])
	return result
}

// mergeFields merges event fields with default fields.
func (l *EventLogger) mergeFields(fields map[string]any) map[string]any {
	if len(l.fields) == 0 && len(fields) == 0 {
		return nil
	}

	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

// emit writes an event to the output and buffer.
func (l *EventLogger) emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buffer != nil {
		l.buffer = append(l.buffer, event)
		if len(l.buffer) > l.maxBuffer {
			l.buffer = l.buffer[len(l.buffer)-l.maxBuffer/2:]
		}
	}

	if l.writer != nil {
		data, err := json.Marshal(event)
		if err == nil {
			l.writer.Write(data)
			l.writer.Write([]byte("\n"))
		}
	}
}

// Orchestration provides typed event reporting for the query pipeline.
// A nil sink means events are dropped.
type Orchestration struct {
	sink Sink
}

// NewOrchestration wraps a sink in typed reporting methods.
func NewOrchestration(sink Sink) *Orchestration {
	if sink == nil {
		sink = Nop()
	}
	return &Orchestration{sink: sink}
}

func (o *Orchestration) record(level EventLevel, eventType, message string, fields map[string]any) {
	o.sink.Record(Event{
		Timestamp: time.Now(),
		Level:     level,
		Type:      eventType,
		Message:   message,
		Fields:    fields,
	})
}

// QueryStart reports the start of one end-to-end query.
func (o *Orchestration) QueryStart(queryID, query string) {
	o.record(LevelInfo, EventQueryStart, "query started", map[string]any{
		"query_id": queryID,
		"query":    query,
	})
}

// QueryEnd reports query completion.
func (o *Orchestration) QueryEnd(queryID string, success bool, duration time.Duration) {
	level := LevelInfo
	if !success {
		level = LevelWarn
	}
	o.record(level, EventQueryEnd, "query completed", map[string]any{
		"query_id":    queryID,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	})
}

// DecomposeEnd reports the shape of a freshly built plan.
func (o *Orchestration) DecomposeEnd(planID string, strategy string, subQueries int) {
	o.record(LevelDebug, EventDecomposeEnd, "plan built", map[string]any{
		"plan_id":     planID,
		"strategy":    strategy,
		"sub_queries": subQueries,
	})
}

// StageStart reports a stage transition.
func (o *Orchestration) StageStart(planID string, stage, size int) {
	o.record(LevelDebug, EventStageStart, "stage started", map[string]any{
		"plan_id": planID,
		"stage":   stage,
		"size":    size,
	})
}

// StageEnd reports stage completion.
func (o *Orchestration) StageEnd(planID string, stage, succeeded, failed int, duration time.Duration) {
	level := LevelDebug
	if failed > 0 {
		level = LevelWarn
	}
	o.record(level, EventStageEnd, "stage completed", map[string]any{
		"plan_id":     planID,
		"stage":       stage,
		"succeeded":   succeeded,
		"failed":      failed,
		"duration_ms": duration.Milliseconds(),
	})
}

// SubQueryEnd reports one settled sub-query.
func (o *Orchestration) SubQueryEnd(planID, id, subType string, success bool, attempts int, duration time.Duration) {
	level := LevelDebug
	if !success {
		level = LevelWarn
	}
	o.record(level, EventSubQueryEnd, "sub-query settled", map[string]any{
		"plan_id":     planID,
		"sub_query":   id,
		"type":        subType,
		"success":     success,
		"attempts":    attempts,
		"duration_ms": duration.Milliseconds(),
	})
}

// SubQuerySkip reports a sub-query failed by dependency propagation,
// settled without a model call.
func (o *Orchestration) SubQuerySkip(planID, id, failedDep string) {
	o.record(LevelWarn, EventSubQuerySkip, "sub-query skipped", map[string]any{
		"plan_id":    planID,
		"sub_query":  id,
		"failed_dep": failedDep,
	})
}

// Retry reports one failed attempt before a retry.
func (o *Orchestration) Retry(planID, id string, attempt int, err error) {
	o.record(LevelDebug, EventRetry, "sub-query retrying", map[string]any{
		"plan_id":   planID,
		"sub_query": id,
		"attempt":   attempt,
		"error":     err.Error(),
	})
}

// ConflictsFound reports the heuristic's verdict for one query.
func (o *Orchestration) ConflictsFound(planID string, conflicts int, themes []string) {
	o.record(LevelInfo, EventConflicts, "conflicts detected", map[string]any{
		"plan_id":   planID,
		"conflicts": conflicts,
		"themes":    themes,
	})
}

// AggregateEnd reports the final synthesis outcome.
func (o *Orchestration) AggregateEnd(planID, aggregationType string, sources int, duration time.Duration) {
	o.record(LevelInfo, EventAggregateEnd, "aggregation completed", map[string]any{
		"plan_id":     planID,
		"type":        aggregationType,
		"sources":     sources,
		"duration_ms": duration.Milliseconds(),
	})
}

// Fallback reports that synthesis fell back to deterministic
// concatenation.
func (o *Orchestration) Fallback(planID string, reason string) {
	o.record(LevelWarn, EventFallback, "synthesis fell back to concatenation", map[string]any{
		"plan_id": planID,
		"reason":  reason,
	})
}

// Error reports an operational error.
func (o *Orchestration) Error(operation string, err error, fields map[string]any) {
	if err == nil {
		return
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation
	fields["error"] = err.Error()
	o.record(LevelError, EventError, err.Error(), fields)
}
