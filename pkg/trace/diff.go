package trace

import (
	"fmt"
	"reflect"
	"sort"
)

// DiffKind classifies one field-level difference between two traces.
type DiffKind string

const (
	DiffAdded    DiffKind = "added"
	DiffRemoved  DiffKind = "removed"
	DiffModified DiffKind = "modified"
)

// Compatibility classifies the overall significance of a Diff result
// (§4.7): identical traces produce no differences at all (differences
// in ignored fields are never recorded); compatible means every
// difference is an addition, either an added payload key or an extra
// trailing event; any removed or modified difference is breaking.
// Differences carry no severity, so classification is by kind alone.
type Compatibility string

const (
	CompatIdentical Compatibility = "identical"
	CompatCompatible Compatibility = "compatible"
	CompatBreaking   Compatibility = "breaking"
)

// TraceDifference records one field-level difference at a JSON-like path.
type TraceDifference struct {
	Kind     DiffKind
	Path     string
	OldValue interface{}
	NewValue interface{}
}

// DiffResult is the outcome of comparing two event sequences.
type DiffResult struct {
	Differences   []TraceDifference
	Compatibility Compatibility
}

// defaultIgnoredFields are excluded from comparison by default: they
// are expected to vary between any two recordings of "the same"
// logical trace (§4.7).
var defaultIgnoredFields = map[string]bool{
	"event_id":            true,
	"timestamp":           true,
	"event_hash":          true,
	"previous_event_hash": true,
	"sequence":             true,
}

// DiffTraces compares two event sequences belonging to (presumably)
// two runs of the same logical scenario, ignoring the default set of
// bookkeeping fields unless overridden via ignoredFields. Per §4.7,
// event types named in ignoredEventTypes are dropped from both
// sequences before the pairwise comparison, so e.g. a benign
// "span.started" event present in one run and absent in the other
// doesn't register as an added/removed difference at all.
func DiffTraces(a, b []Event, ignoredFields map[string]bool, ignoredEventTypes map[string]bool) DiffResult {
	if ignoredFields == nil {
		ignoredFields = defaultIgnoredFields
	}

	a = filterEventTypes(a, ignoredEventTypes)
	b = filterEventTypes(b, ignoredEventTypes)

	var diffs []TraceDifference
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		switch {
		case i >= len(a):
			diffs = append(diffs, TraceDifference{Kind: DiffAdded, Path: fmt.Sprintf("[%d]", i), NewValue: b[i].EventType})
		case i >= len(b):
			diffs = append(diffs, TraceDifference{Kind: DiffRemoved, Path: fmt.Sprintf("[%d]", i), OldValue: a[i].EventType})
		default:
			diffs = append(diffs, diffEvent(i, a[i], b[i], ignoredFields)...)
		}
	}

	sort.SliceStable(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })

	return DiffResult{
		Differences:   diffs,
		Compatibility: classify(diffs),
	}
}

// filterEventTypes drops events whose event_type is in ignoredEventTypes,
// preserving relative order.
func filterEventTypes(events []Event, ignoredEventTypes map[string]bool) []Event {
	if len(ignoredEventTypes) == 0 {
		return events
	}
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if ignoredEventTypes[e.EventType] {
			continue
		}
		out = append(out, e)
	}
	return out
}

func diffEvent(i int, a, b Event, ignoredFields map[string]bool) []TraceDifference {
	var diffs []TraceDifference
	base := fmt.Sprintf("[%d]", i)

	compareField := func(name string, oldV, newV interface{}) {
		if ignoredFields[name] {
			return
		}
		if !reflect.DeepEqual(oldV, newV) {
			diffs = append(diffs, TraceDifference{
				Kind: DiffModified, Path: base + "." + name, OldValue: oldV, NewValue: newV,
			})
		}
	}

	compareField("session_id", a.SessionID, b.SessionID)
	compareField("trace_id", a.TraceID, b.TraceID)
	compareField("span_id", a.SpanID, b.SpanID)
	compareField("parent_span_id", a.ParentSpanID, b.ParentSpanID)
	compareField("event_type", a.EventType, b.EventType)
	compareField("severity", string(a.Severity), string(b.Severity))
	compareField("event_id", a.EventID, b.EventID)
	compareField("timestamp", a.Timestamp, b.Timestamp)
	compareField("event_hash", a.EventHash, b.EventHash)
	compareField("previous_event_hash", a.PreviousEventHash, b.PreviousEventHash)
	compareField("sequence", a.Sequence, b.Sequence)
	diffs = append(diffs, diffPayload(base+".payload", a.Payload, b.Payload)...)

	return diffs
}

func diffPayload(base string, a, b Payload) []TraceDifference {
	var diffs []TraceDifference
	seen := make(map[string]bool, len(a)+len(b))

	for k, av := range a {
		seen[k] = true
		bv, ok := b[k]
		if !ok {
			diffs = append(diffs, TraceDifference{Kind: DiffRemoved, Path: base + "." + k, OldValue: av})
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			diffs = append(diffs, TraceDifference{Kind: DiffModified, Path: base + "." + k, OldValue: av, NewValue: bv})
		}
	}
	for k, bv := range b {
		if seen[k] {
			continue
		}
		diffs = append(diffs, TraceDifference{Kind: DiffAdded, Path: base + "." + k, NewValue: bv})
	}

	return diffs
}

// classify derives the overall Compatibility tag from a difference
// set: an addition (an added payload key or an extra trailing event)
// is compatible; a removed or modified field or event (outside the
// ignored set, already excluded upstream) is breaking.
func classify(diffs []TraceDifference) Compatibility {
	if len(diffs) == 0 {
		return CompatIdentical
	}
	for _, d := range diffs {
		if d.Kind != DiffAdded {
			return CompatBreaking
		}
	}
	return CompatCompatible
}
