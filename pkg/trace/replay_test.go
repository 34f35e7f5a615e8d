package trace_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

func timedEvents() []trace.Event {
	base := time.Unix(1000, 0)
	return []trace.Event{
		{EventID: "e1", EventType: "a", Timestamp: base, Sequence: 1},
		{EventID: "e2", EventType: "b", Timestamp: base.Add(10 * time.Millisecond), Sequence: 2},
		{EventID: "e3", EventType: "c", Timestamp: base.Add(25 * time.Millisecond), Sequence: 3},
	}
}

func TestReplayer_FastForwardEmitsAllImmediately(t *testing.T) {
	r := trace.NewReplayer(timedEvents(), trace.ReplayOptions{Mode: trace.ReplayFastForward})

	var seen []string
	err := r.Run(context.Background(), func(re trace.ReplayEvent) error {
		seen = append(seen, re.Original.EventID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2", "e3"}, seen)
}

func TestReplayer_ReportsSequencePositionAndTotal(t *testing.T) {
	r := trace.NewReplayer(timedEvents(), trace.ReplayOptions{Mode: trace.ReplayFastForward})

	var last trace.ReplayEvent
	err := r.Run(context.Background(), func(re trace.ReplayEvent) error {
		last = re
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, last.SequencePos)
	require.Equal(t, 3, last.TotalEvents)
	require.Equal(t, int64(25), last.TimeDeltaMS)
}

func TestReplayer_Cursor_StepsOneAtATime(t *testing.T) {
	r := trace.NewReplayer(timedEvents(), trace.ReplayOptions{Mode: trace.ReplayStep})
	cur := r.Cursor()

	first, ok := cur.Next()
	require.True(t, ok)
	require.Equal(t, "e1", first.Original.EventID)
	require.Equal(t, 2, cur.Remaining())

	_, _ = cur.Next()
	_, _ = cur.Next()
	_, ok = cur.Next()
	require.False(t, ok)
}

func TestReplayer_StartAtStopAtWindowEvents(t *testing.T) {
	events := timedEvents()
	start := events[1].Timestamp
	stop := events[1].Timestamp

	r := trace.NewReplayer(events, trace.ReplayOptions{Mode: trace.ReplayFastForward, StartAt: &start, StopAt: &stop})

	var seen []string
	err := r.Run(context.Background(), func(re trace.ReplayEvent) error {
		seen = append(seen, re.Original.EventID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"e2"}, seen)
}

func TestReplayer_FilterKeepsOnlyMatchingEvents(t *testing.T) {
	r := trace.NewReplayer(timedEvents(), trace.ReplayOptions{
		Mode:   trace.ReplayFastForward,
		Filter: func(e trace.Event) bool { return e.EventType == "b" },
	})

	var seen []string
	err := r.Run(context.Background(), func(re trace.ReplayEvent) error {
		seen = append(seen, re.Original.EventID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"e2"}, seen)
}

func TestReplayer_EmptySequenceIsNoop(t *testing.T) {
	r := trace.NewReplayer(nil, trace.ReplayOptions{})
	err := r.Run(context.Background(), func(re trace.ReplayEvent) error {
		t.Fatal("fn should not be called for an empty sequence")
		return nil
	})
	require.NoError(t, err)
}
