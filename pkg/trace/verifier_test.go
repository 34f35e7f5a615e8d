package trace_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/canonicalize"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// nopStorage satisfies trace.StorageAdapter for chain-fixture building
// and testing, persisting nothing.
type nopStorage struct{}

func (nopStorage) AppendEvents(ctx context.Context, events []trace.Event) error { return nil }
func (nopStorage) ReadEvents(ctx context.Context, filter trace.EventFilter) ([]trace.Event, error) {
	return nil, nil
}
func (nopStorage) SaveArtifact(ctx context.Context, body trace.ArtifactBody) error { return nil }
func (nopStorage) GetArtifact(ctx context.Context, artifactID string) (*trace.ArtifactBody, error) {
	return nil, nil
}
func (nopStorage) SaveSession(ctx context.Context, info trace.SessionInfo) error { return nil }
func (nopStorage) UpdateSession(ctx context.Context, sessionID string, patch trace.SessionInfo) error {
	return nil
}
func (nopStorage) ListSessions(ctx context.Context, filter trace.SessionFilter) ([]trace.SessionInfo, error) {
	return nil, nil
}
func (nopStorage) SaveResolution(ctx context.Context, resolution carp.Resolution) error { return nil }
func (nopStorage) GetResolution(ctx context.Context, id string) (*carp.Resolution, error) {
	return nil, nil
}
func (nopStorage) DeleteResolution(ctx context.Context, id string) error { return nil }

// chainFixture produces n properly hash-chained events for session s1
// by driving a real Processor over a real RingBuffer.
func chainFixture(t *testing.T, n int) []trace.Event {
	t.Helper()

	buf := trace.NewRingBuffer(64)
	for i := 0; i < n; i++ {
		buf.Push(trace.Raw{
			SessionID: "s1", TraceID: "t1",
			EventType: "step", Payload: trace.Payload{"i": i},
			Severity: trace.SeverityInfo,
		})
	}

	proc := trace.NewProcessor(buf, nopStorage{}, ids.SequentialGenerator{Prefix: "evt"}, trace.ProcessorConfig{BatchSize: n}, nil)

	var captured []trace.Event
	proc.OnFlush(func(batch []trace.Event) { captured = append(captured, batch...) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Run drains once fully then exits immediately on cancelled ctx
	proc.Run(ctx)

	require.Len(t, captured, n)
	return captured
}

func hashFixture(content []byte) string {
	return canonicalize.HashBytes(content)
}

func TestVerifyChain_ValidChainPasses(t *testing.T) {
	events := chainFixture(t, 5)
	ok, errs := trace.VerifyChain(events)
	require.True(t, ok)
	require.Empty(t, errs)
}

func TestVerifyChain_TamperedPayloadDetected(t *testing.T) {
	events := chainFixture(t, 3)
	events[1].Payload = trace.Payload{"tampered": true}

	ok, errs := trace.VerifyChain(events)
	require.False(t, ok)
	require.NotEmpty(t, errs)
}

func TestVerifyChain_BrokenLinkDetected(t *testing.T) {
	events := chainFixture(t, 3)
	events[2].PreviousEventHash = "deadbeef"

	ok, _ := trace.VerifyChain(events)
	require.False(t, ok)
}

func TestVerifyEvent_SingleEventRoundTrips(t *testing.T) {
	events := chainFixture(t, 1)
	require.True(t, trace.VerifyEvent(events[0]))
}

func TestVerifyArtifact(t *testing.T) {
	content := []byte("hello world")
	hash := hashFixture(content)
	require.True(t, trace.VerifyArtifact(hash, content))
	require.False(t, trace.VerifyArtifact(hash, []byte("tampered")))
}
