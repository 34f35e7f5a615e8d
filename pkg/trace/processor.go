package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
)

// chainState is the Processor's sole, owned mutator target: the
// per-session sequence counter and last hash (§9: "Sequence counters
// per session... become an owned field on the Processor; reset is an
// explicit operation, not implicit by object lifetime").
type chainState struct {
	sequence uint64
	lastHash string
}

// ProcessorConfig tunes the background drain loop.
type ProcessorConfig struct {
	BatchSize    int
	IdleBackoff  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Source       Source
}

func (c *ProcessorConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 5 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
}

// Processor is the background worker that drains the Ring Buffer,
// assigns sequence numbers, computes event hashes, maintains
// per-session chain state, and forwards processed events to storage
// (§4.3).
type Processor struct {
	buf     *RingBuffer
	storage StorageAdapter
	idGen   ids.Generator
	cfg     ProcessorConfig
	log     *slog.Logger

	mu     sync.Mutex
	chains map[string]*chainState

	// parked holds the most recent batch that exhausted append retries.
	// It is retained in memory (never discarded) and prepended to the
	// next drain cycle's batch so it keeps being retried alongside
	// newer events, since its hash-chain state has already been
	// committed in p.chains and cannot be un-advanced (§4.3).
	parked []Event

	failureCount uint64

	stop   chan struct{}
	done   chan struct{}
	onFlush func(batch []Event)
}

// NewProcessor builds a Processor over buf, appending hashed events to
// storage.
func NewProcessor(buf *RingBuffer, storage StorageAdapter, idGen ids.Generator, cfg ProcessorConfig, log *slog.Logger) *Processor {
	cfg.setDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		buf:     buf,
		storage: storage,
		idGen:   idGen,
		cfg:     cfg,
		log:     log,
		chains:  make(map[string]*chainState),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnFlush registers a callback invoked after each batch append,
// mirroring the Collector's observer fan-out without coupling this
// package to it.
func (p *Processor) OnFlush(fn func(batch []Event)) {
	p.onFlush = fn
}

// Run drives the drain loop until Stop is called, then drains any
// remaining events before returning (§4.3 step d, §5 "Resource
// release").
func (p *Processor) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.drainAndProcess(ctx, -1) // drain fully
			return
		case <-ctx.Done():
			p.drainAndProcess(ctx, -1)
			return
		default:
		}

		n := p.drainAndProcess(ctx, p.cfg.BatchSize)
		if n == 0 {
			select {
			case <-time.After(p.cfg.IdleBackoff):
			case <-p.stop:
				p.drainAndProcess(ctx, -1)
				return
			case <-ctx.Done():
				p.drainAndProcess(ctx, -1)
				return
			}
		}
	}
}

// Stop signals cooperative shutdown and blocks until the worker has
// drained remaining events and exited.
func (p *Processor) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}

func (p *Processor) drainAndProcess(ctx context.Context, max int) int {
	batchSize := max
	if batchSize < 0 {
		batchSize = 1 << 20 // effectively unbounded "drain everything currently queued"
	}
	raws := p.buf.Drain(batchSize)

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		events = append(events, p.process(raw))
	}

	p.mu.Lock()
	if len(p.parked) > 0 {
		events = append(p.parked, events...)
		p.parked = nil
	}
	p.mu.Unlock()

	if len(events) == 0 {
		return 0
	}

	if p.appendWithRetry(ctx, events) && p.onFlush != nil {
		p.onFlush(events)
	}

	return len(raws)
}

// process assigns sequence, chains the hash, and computes event_hash
// for a single raw event. It is the sole mutator of chain state,
// eliminating contention (§4.3).
func (p *Processor) process(raw Raw) Event {
	p.mu.Lock()
	state, ok := p.chains[raw.SessionID]
	if !ok {
		state = &chainState{}
		p.chains[raw.SessionID] = state
	}
	state.sequence++
	seq := state.sequence
	prevHash := state.lastHash
	p.mu.Unlock()

	event := Event{
		SessionID:         raw.SessionID,
		TraceID:           raw.TraceID,
		SpanID:            raw.SpanID,
		ParentSpanID:      raw.ParentSpanID,
		EventType:         raw.EventType,
		Payload:           raw.Payload,
		Timestamp:         raw.Timestamp,
		Severity:          raw.Severity,
		Sequence:          seq,
		EventID:           p.idGen.New(),
		PreviousEventHash: prevHash,
		Source:            p.cfg.Source,
	}

	hash, err := ComputeEventHash(event)
	if err != nil {
		// Canonicalization of a well-formed Payload (map/string/number/
		// bool/array/null) cannot fail in practice; treat it as internal.
		p.log.Error("trace: failed to hash event", "error", err, "session_id", raw.SessionID)
		hash = ""
	}
	event.EventHash = hash

	p.mu.Lock()
	state.lastHash = hash
	p.mu.Unlock()

	return event
}

// ResetSession explicitly clears chain state for a session, e.g. after
// a verified export or a deliberate re-genesis. Not implicit.
func (p *Processor) ResetSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.chains, sessionID)
}

// appendWithRetry attempts to persist events, making up to MaxRetries
// attempts in total. It reports whether the batch was durably
// persisted; on persistent failure the batch is parked (§4.3: "the
// Processor parks the batch, increments a failure metric, and
// continues consuming") rather than discarded, so the next drain
// cycle retries it alongside whatever new events have arrived.
func (p *Processor) appendWithRetry(ctx context.Context, events []Event) bool {
	var err error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err = p.storage.AppendEvents(ctx, events); err == nil {
			return true
		}
		p.log.Warn("trace: storage append failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-time.After(p.cfg.RetryBackoff):
		case <-ctx.Done():
			p.park(events)
			return false
		}
	}

	p.mu.Lock()
	p.failureCount++
	p.mu.Unlock()
	p.log.Error("trace: storage append exhausted retries, parking batch for retry on next cycle", "error", err, "batch_size", len(events))
	p.park(events)
	return false
}

// park retains a failed batch in memory for the next drain cycle.
func (p *Processor) park(events []Event) {
	p.mu.Lock()
	p.parked = events
	p.mu.Unlock()
}

// FailureCount returns the number of batches that exhausted retries.
func (p *Processor) FailureCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failureCount
}
