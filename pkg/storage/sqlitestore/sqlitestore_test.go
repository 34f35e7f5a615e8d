package sqlitestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/storage/sqlitestore"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndReadEvents(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)

	events := []trace.Event{
		{SessionID: "s1", TraceID: "t1", SpanID: "sp1", EventType: "carp.resolve", Severity: trace.SeverityInfo, Sequence: 1, EventID: "e1", EventHash: "h1", Timestamp: ts},
		{SessionID: "s1", TraceID: "t1", SpanID: "sp1", EventType: "carp.resolution.completed", Severity: trace.SeverityInfo, Sequence: 2, EventID: "e2", EventHash: "h2", Timestamp: ts.Add(time.Second)},
	}
	require.NoError(t, s.AppendEvents(ctx, events))

	got, err := s.ReadEvents(ctx, trace.EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "e1", got[0].EventID)
}

func TestArtifactAndSessionRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	body := trace.ArtifactBody{ArtifactID: "art-1", Content: []byte("hi"), Size: 2, MIME: "text/plain"}
	require.NoError(t, s.SaveArtifact(ctx, body))
	got, err := s.GetArtifact(ctx, "art-1")
	require.NoError(t, err)
	require.Equal(t, body.Content, got.Content)

	require.NoError(t, s.SaveSession(ctx, trace.SessionInfo{SessionID: "sess-1", Status: trace.SessionCreated}))
	require.NoError(t, s.UpdateSession(ctx, "sess-1", trace.SessionInfo{Status: trace.SessionActive}))

	list, err := s.ListSessions(ctx, trace.SessionFilter{Status: trace.SessionActive})
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = s.UpdateSession(ctx, "missing", trace.SessionInfo{Status: trace.SessionEnded})
	require.Error(t, err)
}
