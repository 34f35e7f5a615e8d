package trace

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// EventFilter scopes a read_events call (§6).
type EventFilter struct {
	SessionID     string
	From          *time.Time
	To            *time.Time
	EventTypeGlob string
	SeverityFloor Severity
	SpanIDs       []string
}

// SessionStatus mirrors the Session state machine (§4.9).
type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// SessionInfo is the durable record of one session's lifecycle.
type SessionInfo struct {
	SessionID string
	Status    SessionStatus
}

// SessionFilter scopes a list_sessions call.
type SessionFilter struct {
	Status SessionStatus
}

// ArtifactBody is the content of an artifact reference, stored inline
// or externally per §3 (ArtifactReference: inline iff size < 4 KiB).
type ArtifactBody struct {
	ArtifactID string
	Content    []byte
	ContentHash string
	Size       int64
	MIME       string
	Inline     bool
}

// StorageAdapter is the trait the Processor and Executor consume to
// durably persist processed events, artifacts, and resolutions (§6).
// It is an external collaborator: this package provides the
// interface and a handful of reference implementations under
// pkg/storage/*, but transports and production persistence tuning are
// out of core scope.
type StorageAdapter interface {
	AppendEvents(ctx context.Context, events []Event) error
	ReadEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	SaveArtifact(ctx context.Context, body ArtifactBody) error
	GetArtifact(ctx context.Context, artifactID string) (*ArtifactBody, error)

	SaveSession(ctx context.Context, info SessionInfo) error
	UpdateSession(ctx context.Context, sessionID string, patch SessionInfo) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionInfo, error)

	SaveResolution(ctx context.Context, resolution carp.Resolution) error
	GetResolution(ctx context.Context, id string) (*carp.Resolution, error)
	DeleteResolution(ctx context.Context, id string) error
}

// InlineThreshold is the inline/external storage-mode boundary for
// artifacts (§3, §6): size < 4 KiB is stored inline.
const InlineThreshold = 4 * 1024
