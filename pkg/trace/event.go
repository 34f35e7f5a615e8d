// Package trace implements TRACE: the append-only, hash-chained,
// replayable, diffable telemetry envelope (§3, §4.2-4.4, §4.7-4.9).
package trace

import "time"

// Severity is the event's log-level classification.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Payload is the opaque value type for event payloads: a
// map/string/number/bool/array/null, per §9 ("Dynamic JSON payloads in
// events map to a single opaque value type"). Schemas are validated at
// boundaries (the Resolver/Executor call sites), not internally.
type Payload = map[string]interface{}

// Raw is an unhashed, unsequenced event as submitted to the Ring
// Buffer via Collector.Record. It is moved into the buffer, not
// shared — the Collector does not retain a reference after push.
type Raw struct {
	SessionID    string
	TraceID      string
	SpanID       string
	ParentSpanID string
	EventType    string
	Payload      Payload
	Timestamp    time.Time
	Severity     Severity
}

// Source identifies the component instance that emitted an event.
type Source struct {
	Component  string `json:"component"`
	Version    string `json:"version"`
	InstanceID string `json:"instance_id,omitempty"`
}

// ArtifactRef points at an out-of-line artifact attached to an event.
type ArtifactRef struct {
	ArtifactID string `json:"artifact_id"`
	Type       string `json:"type"`
}

// Event is a fully processed TRACE event: sequenced, hash-chained, and
// immutable — no mutation after emission (§3).
type Event struct {
	SessionID         string        `json:"session_id"`
	TraceID           string        `json:"trace_id"`
	SpanID            string        `json:"span_id"`
	ParentSpanID      string        `json:"parent_span_id,omitempty"`
	EventType         string        `json:"event_type"`
	Payload           Payload       `json:"payload,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	Severity          Severity      `json:"severity"`
	Sequence          uint64        `json:"sequence"`
	EventID           string        `json:"event_id"`
	PreviousEventHash string        `json:"previous_event_hash"`
	EventHash         string        `json:"event_hash"`
	Artifacts         []ArtifactRef `json:"artifacts,omitempty"`
	Source            Source        `json:"source"`
}

// hashInput is the exact subset of Event canonicalized to produce
// EventHash: every field except EventHash itself (spec.md §9 fixes
// this exclusion; implementers must not silently exclude other
// fields, so this struct is kept in lockstep with Event by hand,
// field for field, rather than derived by reflection).
type hashInput struct {
	SessionID         string        `json:"session_id"`
	TraceID           string        `json:"trace_id"`
	SpanID            string        `json:"span_id"`
	ParentSpanID      string        `json:"parent_span_id,omitempty"`
	EventType         string        `json:"event_type"`
	Payload           Payload       `json:"payload,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	Severity          Severity      `json:"severity"`
	Sequence          uint64        `json:"sequence"`
	EventID           string        `json:"event_id"`
	PreviousEventHash string        `json:"previous_event_hash"`
	Artifacts         []ArtifactRef `json:"artifacts,omitempty"`
	Source            Source        `json:"source"`
}

func toHashInput(e Event) hashInput {
	return hashInput{
		SessionID: e.SessionID, TraceID: e.TraceID, SpanID: e.SpanID,
		ParentSpanID: e.ParentSpanID, EventType: e.EventType, Payload: e.Payload,
		Timestamp: e.Timestamp, Severity: e.Severity, Sequence: e.Sequence,
		EventID: e.EventID, PreviousEventHash: e.PreviousEventHash,
		Artifacts: e.Artifacts, Source: e.Source,
	}
}
