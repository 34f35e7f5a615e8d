package trace

import (
	"context"
	"fmt"
	"time"
)

// ReplayMode selects the pacing strategy for Replay (§4.7).
type ReplayMode string

const (
	// ReplayFull reproduces the original inter-event timing, scaled by Speed.
	ReplayFull ReplayMode = "full"
	// ReplayFastForward emits every event immediately, ignoring timing.
	ReplayFastForward ReplayMode = "fast_forward"
	// ReplayStep emits one event per call to Cursor.Next, driven by the
	// caller; Run does not pace this mode and emits every event immediately.
	ReplayStep ReplayMode = "step"
)

// ReplayEvent wraps an original Event with replay-time bookkeeping.
type ReplayEvent struct {
	Original        Event
	ReplayTimestamp time.Time
	TimeDeltaMS     int64
	SequencePos     int
	TotalEvents     int
}

// ReplayOptions configures a Replayer (§4.7: {mode, speed, start_at?,
// stop_at?, filter?}).
type ReplayOptions struct {
	Mode  ReplayMode
	Speed float64 // playback speed multiplier for ReplayFull; 1.0 is real-time

	// StartAt/StopAt bound the replayed window to events whose original
	// Timestamp falls within [StartAt, StopAt]; either may be nil to
	// leave that end of the window open.
	StartAt *time.Time
	StopAt  *time.Time

	// Filter, when non-nil, keeps only events for which it returns
	// true. Applied after the StartAt/StopAt window.
	Filter func(Event) bool
}

func (o *ReplayOptions) setDefaults() {
	if o.Mode == "" {
		o.Mode = ReplayFastForward
	}
	if o.Speed <= 0 {
		o.Speed = 1.0
	}
}

// Replayer re-emits a stored event sequence, reproducing the original
// pacing when asked to (§4.7: "a recorded session can be replayed
// against a live or mock Resolver at original speed, accelerated, or
// step-by-step").
type Replayer struct {
	events []Event
	opts   ReplayOptions
}

// NewReplayer builds a Replayer over events, assumed sorted by
// sequence within a single session. Events outside opts.StartAt/StopAt
// or rejected by opts.Filter are dropped up front, so Run and Cursor
// both see only the windowed, filtered subset.
func NewReplayer(events []Event, opts ReplayOptions) *Replayer {
	opts.setDefaults()
	return &Replayer{events: windowEvents(events, opts), opts: opts}
}

// windowEvents applies StartAt/StopAt/Filter, preserving order.
func windowEvents(events []Event, opts ReplayOptions) []Event {
	if opts.StartAt == nil && opts.StopAt == nil && opts.Filter == nil {
		return events
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if opts.StartAt != nil && e.Timestamp.Before(*opts.StartAt) {
			continue
		}
		if opts.StopAt != nil && e.Timestamp.After(*opts.StopAt) {
			continue
		}
		if opts.Filter != nil && !opts.Filter(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Run drives the full sequence through fn, pacing emissions per Mode.
// It stops early if ctx is cancelled or fn returns an error.
func (r *Replayer) Run(ctx context.Context, fn func(ReplayEvent) error) error {
	total := len(r.events)
	if total == 0 {
		return nil
	}

	base := r.events[0].Timestamp

	for i, e := range r.events {
		deltaMS := e.Timestamp.Sub(base).Milliseconds()

		if r.opts.Mode == ReplayFull && i > 0 {
			wait := time.Duration(float64(deltaMS-r.prevDeltaMS(i)) / r.opts.Speed) * time.Millisecond
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		re := ReplayEvent{
			Original:        e,
			ReplayTimestamp: time.Now().UTC(),
			TimeDeltaMS:     deltaMS,
			SequencePos:     i,
			TotalEvents:     total,
		}
		if err := fn(re); err != nil {
			return fmt.Errorf("replay: event %d (%s): %w", i, e.EventID, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return nil
}

func (r *Replayer) prevDeltaMS(i int) int64 {
	if i == 0 {
		return 0
	}
	return r.events[i-1].Timestamp.Sub(r.events[0].Timestamp).Milliseconds()
}

// Cursor drives ReplayMode step: the caller calls Next once per step
// rather than handing control to Run's internal loop.
type Cursor struct {
	events []Event
	pos    int
}

// Cursor builds a step-mode cursor over the same event set.
func (r *Replayer) Cursor() *Cursor {
	return &Cursor{events: r.events}
}

// Next returns the next event in sequence, or ok=false when exhausted.
func (c *Cursor) Next() (ReplayEvent, bool) {
	if c.pos >= len(c.events) {
		return ReplayEvent{}, false
	}
	e := c.events[c.pos]
	var deltaMS int64
	if len(c.events) > 0 {
		deltaMS = e.Timestamp.Sub(c.events[0].Timestamp).Milliseconds()
	}
	re := ReplayEvent{
		Original:        e,
		ReplayTimestamp: time.Now().UTC(),
		TimeDeltaMS:     deltaMS,
		SequencePos:     c.pos,
		TotalEvents:     len(c.events),
	}
	c.pos++
	return re, true
}

// Remaining reports how many events are left to step through.
func (c *Cursor) Remaining() int {
	return len(c.events) - c.pos
}
