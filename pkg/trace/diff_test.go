package trace_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

func sampleEvent(eventType string, payload trace.Payload) trace.Event {
	return trace.Event{
		SessionID: "s1", TraceID: "t1", EventType: eventType,
		Payload: payload, Timestamp: time.Unix(0, 0), Severity: trace.SeverityInfo,
		Sequence: 1, EventID: "e1", EventHash: "h1",
	}
}

func TestDiffTraces_IdenticalEventsProduceNoDifferences(t *testing.T) {
	a := []trace.Event{sampleEvent("carp.request.received", trace.Payload{"x": 1.0})}
	b := []trace.Event{sampleEvent("carp.request.received", trace.Payload{"x": 1.0})}

	result := trace.DiffTraces(a, b, nil, nil)
	require.Equal(t, trace.CompatIdentical, result.Compatibility)
	require.Empty(t, result.Differences)
}

func TestDiffTraces_IgnoresDefaultBookkeepingFields(t *testing.T) {
	a := sampleEvent("carp.request.received", trace.Payload{"x": 1.0})
	b := a
	b.EventID = "e2"
	b.EventHash = "h2"
	b.Timestamp = time.Unix(100, 0)
	b.Sequence = 7

	result := trace.DiffTraces([]trace.Event{a}, []trace.Event{b}, nil, nil)
	require.Equal(t, trace.CompatIdentical, result.Compatibility)
}

func TestDiffTraces_AddedPayloadKeyIsCompatible(t *testing.T) {
	a := sampleEvent("carp.resolution.completed", trace.Payload{"decision": "allow"})
	b := sampleEvent("carp.resolution.completed", trace.Payload{"decision": "allow", "extra": "field"})

	result := trace.DiffTraces([]trace.Event{a}, []trace.Event{b}, nil, nil)
	require.Equal(t, trace.CompatCompatible, result.Compatibility)
	require.Len(t, result.Differences, 1)
	require.Equal(t, trace.DiffAdded, result.Differences[0].Kind)
}

func TestDiffTraces_ModifiedFieldIsBreaking(t *testing.T) {
	a := sampleEvent("carp.resolution.completed", trace.Payload{"decision": "allow"})
	b := sampleEvent("carp.resolution.completed", trace.Payload{"decision": "deny"})

	result := trace.DiffTraces([]trace.Event{a}, []trace.Event{b}, nil, nil)
	require.Equal(t, trace.CompatBreaking, result.Compatibility)
}

func TestDiffTraces_RemovedEventIsBreaking(t *testing.T) {
	a := []trace.Event{sampleEvent("step.one", nil), sampleEvent("step.two", nil)}
	b := []trace.Event{sampleEvent("step.one", nil)}

	result := trace.DiffTraces(a, b, nil, nil)
	require.Equal(t, trace.CompatBreaking, result.Compatibility)
}

func TestDiffTraces_IgnoredEventTypesAreDroppedBeforeComparison(t *testing.T) {
	a := []trace.Event{sampleEvent("step.one", nil), sampleEvent("span.started", nil)}
	b := []trace.Event{sampleEvent("step.one", nil)}

	result := trace.DiffTraces(a, b, nil, map[string]bool{"span.started": true})
	require.Equal(t, trace.CompatIdentical, result.Compatibility)
	require.Empty(t, result.Differences)
}
