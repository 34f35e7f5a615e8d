// Package memstore is an in-process trace.StorageAdapter, for tests
// and ephemeral runs that don't need durability across a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// Store is a mutex-guarded, in-memory trace.StorageAdapter.
type Store struct {
	mu          sync.RWMutex
	events      []trace.Event
	artifacts   map[string]trace.ArtifactBody
	sessions    map[string]trace.SessionInfo
	resolutions map[string]carp.Resolution
}

func New() *Store {
	return &Store{
		artifacts:   make(map[string]trace.ArtifactBody),
		sessions:    make(map[string]trace.SessionInfo),
		resolutions: make(map[string]carp.Resolution),
	}
}

func (s *Store) AppendEvents(ctx context.Context, events []trace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) ReadEvents(ctx context.Context, filter trace.EventFilter) ([]trace.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]trace.Event, 0, len(s.events))
	for _, e := range s.events {
		if matchesFilter(e, filter) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func matchesFilter(e trace.Event, filter trace.EventFilter) bool {
	if filter.SessionID != "" && e.SessionID != filter.SessionID {
		return false
	}
	if filter.From != nil && e.Timestamp.Before(*filter.From) {
		return false
	}
	if filter.To != nil && e.Timestamp.After(*filter.To) {
		return false
	}
	if filter.EventTypeGlob != "" && !globMatch(filter.EventTypeGlob, e.EventType) {
		return false
	}
	if filter.SeverityFloor != "" && severityRank(e.Severity) < severityRank(filter.SeverityFloor) {
		return false
	}
	if len(filter.SpanIDs) > 0 && !containsString(filter.SpanIDs, e.SpanID) {
		return false
	}
	return true
}

// globMatch supports the single "*" trailing-wildcard form used for
// event_type filters (e.g. "carp.policy.*"); anything else is an exact
// match.
func globMatch(glob, value string) bool {
	if strings.HasSuffix(glob, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(glob, "*"))
	}
	return glob == value
}

func severityRank(s trace.Severity) int {
	switch s {
	case trace.SeverityDebug:
		return 0
	case trace.SeverityInfo:
		return 1
	case trace.SeverityWarn:
		return 2
	case trace.SeverityError:
		return 3
	default:
		return -1
	}
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func (s *Store) SaveArtifact(ctx context.Context, body trace.ArtifactBody) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[body.ArtifactID] = body
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*trace.ArtifactBody, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.artifacts[artifactID]
	if !ok {
		return nil, fmt.Errorf("memstore: artifact not found: %s", artifactID)
	}
	return &body, nil
}

func (s *Store) SaveSession(ctx context.Context, info trace.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[info.SessionID] = info
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch trace.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("memstore: session not found: %s", sessionID)
	}
	if patch.Status != "" {
		info.Status = patch.Status
	}
	s.sessions[sessionID] = info
	return nil
}

func (s *Store) ListSessions(ctx context.Context, filter trace.SessionFilter) ([]trace.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]trace.SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (s *Store) SaveResolution(ctx context.Context, resolution carp.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutions[resolution.ID] = resolution
	return nil
}

func (s *Store) GetResolution(ctx context.Context, id string) (*carp.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resolution, ok := s.resolutions[id]
	if !ok {
		return nil, fmt.Errorf("memstore: resolution not found: %s", id)
	}
	return &resolution, nil
}

func (s *Store) DeleteResolution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resolutions, id)
	return nil
}

var _ trace.StorageAdapter = (*Store)(nil)
