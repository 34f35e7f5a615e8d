package trace

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
)

// RecordOpts carries the optional span/severity context for Record.
type RecordOpts struct {
	SpanID       string
	ParentSpanID string
	Severity     Severity
}

// SpanOpts carries optional attributes/parent for StartSpan.
type SpanOpts struct {
	ParentSpanID string
	Kind         SpanKind
	Attributes   map[string]interface{}
}

// RawAccepted is the result of Collector.Record: whether the event was
// accepted into the Ring Buffer or dropped on overflow.
type RawAccepted struct {
	Accepted bool
	SpanID   string
}

// observer receives a copy of every accepted raw event for live
// streaming to external transports. Slow observers lag or drop;
// Collector.Record never blocks on them (§4.4, §9).
type observer struct {
	ch chan Raw
}

// Collector is the synchronous facade the Resolver calls (§4.4): it
// stamps identity fields, pushes into the Ring Buffer, and returns
// immediately. It owns the session table (handles reference it by id,
// breaking the cyclic collector<->span reference per §9).
type Collector struct {
	buf     *RingBuffer
	clock   ids.Clock
	idGen   ids.Generator
	storage StorageAdapter

	mu        sync.Mutex
	sessions  map[string]SessionStatus
	spans     map[string]*Span // spanID -> span (across all sessions)
	observers []*observer
}

// NewCollector builds a Collector over buf.
func NewCollector(buf *RingBuffer, clock ids.Clock, idGen ids.Generator, storage StorageAdapter) *Collector {
	return &Collector{
		buf:      buf,
		clock:    clock,
		idGen:    idGen,
		storage:  storage,
		sessions: make(map[string]SessionStatus),
		spans:    make(map[string]*Span),
	}
}

// Subscribe registers an observer that receives every accepted raw
// event for the collector's lifetime. The returned channel has a
// small bounded buffer; a slow reader misses events rather than
// blocking emitters.
func (c *Collector) Subscribe(bufferSize int) <-chan Raw {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	obs := &observer{ch: make(chan Raw, bufferSize)}
	c.mu.Lock()
	c.observers = append(c.observers, obs)
	c.mu.Unlock()
	return obs.ch
}

func (c *Collector) broadcast(raw Raw) {
	c.mu.Lock()
	observers := c.observers
	c.mu.Unlock()
	for _, obs := range observers {
		select {
		case obs.ch <- raw:
		default:
			// slow observer: drop rather than block the hot path
		}
	}
}

// beginSession marks a session active on first use (created -> active).
func (c *Collector) beginSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.sessions[sessionID]
	if ok && status == SessionEnded {
		return false
	}
	if !ok {
		c.sessions[sessionID] = SessionActive
	}
	return true
}

// Record stamps and pushes a raw event. It does no I/O and never waits
// on the Ring Buffer or on observers: a full buffer or a full
// subscriber channel drops the event instead. It does take the
// Collector's mutex briefly, once to check the session state and once
// to copy the observer list, so it is not lock-free.
func (c *Collector) Record(sessionID, traceID, eventType string, payload Payload, opts RecordOpts) RawAccepted {
	if !c.beginSession(sessionID) {
		return RawAccepted{Accepted: false}
	}

	severity := opts.Severity
	if severity == "" {
		severity = SeverityInfo
	}

	raw := Raw{
		SessionID:    sessionID,
		TraceID:      traceID,
		SpanID:       opts.SpanID,
		ParentSpanID: opts.ParentSpanID,
		EventType:    eventType,
		Payload:      payload,
		Timestamp:    c.clock.Now(),
		Severity:     severity,
	}

	accepted := c.buf.Push(raw)
	if accepted {
		c.broadcast(raw)
	}
	return RawAccepted{Accepted: accepted, SpanID: opts.SpanID}
}

// StartSpan allocates a span id, records a "<name>.started" event, and
// returns the new Span.
func (c *Collector) StartSpan(sessionID, traceID, name string, opts SpanOpts) Span {
	spanID := c.idGen.New()
	span := Span{
		SpanID:       spanID,
		TraceID:      traceID,
		ParentSpanID: opts.ParentSpanID,
		Name:         name,
		Kind:         opts.Kind,
		StartedAt:    c.clock.Now(),
		Status:       SpanInProgress,
		Attributes:   opts.Attributes,
	}
	if span.Kind == "" {
		span.Kind = SpanInternal
	}

	c.mu.Lock()
	c.spans[spanID] = &span
	c.mu.Unlock()

	c.Record(sessionID, traceID, name+".started", Payload{"span_id": spanID}, RecordOpts{
		SpanID: spanID, ParentSpanID: opts.ParentSpanID,
	})

	return span
}

// EndSpan transitions a span to a terminal status and records a
// "<name>.completed" or "<name>.failed" event with duration_ms.
// Idempotent on an already-terminal span: it returns the stored
// terminal span without emitting new events (§8 idempotence law).
func (c *Collector) EndSpan(sessionID, traceID, spanID string, status SpanStatus, msg string) (*Span, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("trace: EndSpan requires a terminal status, got %q", status)
	}

	c.mu.Lock()
	span, ok := c.spans[spanID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("trace: unknown span %q", spanID)
	}
	if span.Status.Terminal() {
		terminal := *span
		c.mu.Unlock()
		return &terminal, nil
	}
	now := c.clock.Now()
	span.EndedAt = &now
	span.Status = status
	terminal := *span
	c.mu.Unlock()

	eventType := span.Name + ".completed"
	if status != SpanOK {
		eventType = span.Name + ".failed"
	}

	durationMS := now.Sub(span.StartedAt).Milliseconds()
	payload := Payload{"span_id": spanID, "status": string(status), "duration_ms": durationMS}
	if msg != "" {
		payload["message"] = msg
	}

	c.Record(sessionID, traceID, eventType, payload, RecordOpts{
		SpanID: spanID, ParentSpanID: span.ParentSpanID,
	})

	return &terminal, nil
}

// Verify loads this session's persisted events and runs the Chain
// Verifier over them.
func (c *Collector) Verify(ctx context.Context, sessionID string) (bool, []string, error) {
	events, err := c.storage.ReadEvents(ctx, EventFilter{SessionID: sessionID})
	if err != nil {
		return false, nil, fmt.Errorf("trace: read events for verify: %w", err)
	}
	ok, errs := VerifyChain(events)
	return ok, errs, nil
}

// Close ends the session (active -> ended) so further Record calls
// are rejected, and records the ended status in storage. It does not
// trigger a Processor drain; stopping/draining the Processor is the
// caller's responsibility.
func (c *Collector) Close(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.sessions[sessionID] = SessionEnded
	c.mu.Unlock()

	if c.storage == nil {
		return nil
	}
	return c.storage.UpdateSession(ctx, sessionID, SessionInfo{SessionID: sessionID, Status: SessionEnded})
}

// SaveResolution durably persists a resolution alongside the caller's
// in-memory Resolution Cache entry, so a resolver restart can still
// serve GetResolution/DeleteResolution for ids it minted before the
// restart (§6). A nil storage adapter makes this a no-op, matching
// Close's treatment of an unconfigured backend.
func (c *Collector) SaveResolution(ctx context.Context, resolution carp.Resolution) error {
	if c.storage == nil {
		return nil
	}
	return c.storage.SaveResolution(ctx, resolution)
}

// GetResolution reads a durably persisted resolution by id.
func (c *Collector) GetResolution(ctx context.Context, id string) (*carp.Resolution, error) {
	if c.storage == nil {
		return nil, fmt.Errorf("trace: no storage adapter configured")
	}
	return c.storage.GetResolution(ctx, id)
}

// DeleteResolution removes a durably persisted resolution by id.
func (c *Collector) DeleteResolution(ctx context.Context, id string) error {
	if c.storage == nil {
		return nil
	}
	return c.storage.DeleteResolution(ctx, id)
}

// SessionStatusOf returns the in-memory status tracked for a session.
func (c *Collector) SessionStatusOf(sessionID string) (SessionStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}
