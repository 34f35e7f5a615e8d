package trace

import "time"

// SpanKind classifies a span per common tracing semantics.
type SpanKind string

const (
	SpanInternal SpanKind = "internal"
	SpanClient   SpanKind = "client"
	SpanServer   SpanKind = "server"
)

// SpanStatus is the span lifecycle state (§4.9): in_progress
// transitions to exactly one terminal status.
type SpanStatus string

const (
	SpanInProgress SpanStatus = "in_progress"
	SpanOK         SpanStatus = "ok"
	SpanError      SpanStatus = "error"
	SpanTimeout    SpanStatus = "timeout"
	SpanCancelled  SpanStatus = "cancelled"
)

func (s SpanStatus) Terminal() bool { return s != SpanInProgress }

// Span is a named sub-region of a trace.
type Span struct {
	SpanID       string
	TraceID      string
	ParentSpanID string
	Name         string
	Kind         SpanKind
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       SpanStatus
	Attributes   map[string]interface{}
}
