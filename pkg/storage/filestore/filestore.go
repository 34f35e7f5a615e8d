// Package filestore is a trace.StorageAdapter backed by append-only
// JSONL files on disk, for single-binary durable deployments.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// Store writes processed events to one JSONL file per session, named
// per the on-disk convention "YYYY-MM-DDTHH-MM-SS-<traceprefix>.trace.jsonl",
// and persists artifacts and session records as sibling files under root.
type Store struct {
	root string

	mu    sync.Mutex
	files map[string]*sessionFile // sessionID -> open file handle
}

type sessionFile struct {
	path   string
	file   *os.File
	writer *bufio.Writer
}

// New opens a filestore rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create artifact root: %w", err)
	}
	return &Store{root: dir, files: make(map[string]*sessionFile)}, nil
}

// Close flushes and closes every open session file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) AppendEvents(ctx context.Context, events []trace.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		f, err := s.fileFor(e)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("filestore: marshal event: %w", err)
		}
		if _, err := f.writer.Write(raw); err != nil {
			return fmt.Errorf("filestore: write event: %w", err)
		}
		if err := f.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("filestore: write newline: %w", err)
		}
		if err := f.writer.Flush(); err != nil {
			return fmt.Errorf("filestore: flush: %w", err)
		}
	}
	return nil
}

// fileFor returns the open session file for e, opening and naming it
// the first time this session is seen.
func (s *Store) fileFor(e trace.Event) (*sessionFile, error) {
	if f, ok := s.files[e.SessionID]; ok {
		return f, nil
	}

	name := fileName(e)
	path := filepath.Join(s.root, name)
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}
	f := &sessionFile{path: path, file: fh, writer: bufio.NewWriter(fh)}
	s.files[e.SessionID] = f
	return f, nil
}

// fileName implements §6's "YYYY-MM-DDTHH-MM-SS-<traceprefix>.trace.jsonl"
// naming convention. traceprefix is the first 8 characters of the
// event's trace id (or the whole id if shorter), keeping filenames
// stable for every event in one session without embedding the full id.
func fileName(e trace.Event) string {
	ts := e.Timestamp.UTC().Format("2006-01-02T15-04-05")
	prefix := e.TraceID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if prefix == "" {
		prefix = "notrace"
	}
	return fmt.Sprintf("%s-%s.trace.jsonl", ts, prefix)
}

func (s *Store) ReadEvents(ctx context.Context, filter trace.EventFilter) ([]trace.Event, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("filestore: read root: %w", err)
	}

	var out []trace.Event
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".trace.jsonl") {
			continue
		}
		events, err := readEventFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if matchesFilter(e, filter) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func readEventFile(path string) ([]trace.Event, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}
	defer func() { _ = fh.Close() }()

	var out []trace.Event
	scanner := bufio.NewScanner(fh)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e trace.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("filestore: decode %s: %w", path, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("filestore: scan %s: %w", path, err)
	}
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
	return true
}

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

// SaveArtifact writes an artifact body named "<artifact_id>-artifact.<ext>"
// under the artifact root, regardless of whether it was inline at the
// wire layer — the adapter is the single durable home for the bytes.
func (s *Store) SaveArtifact(ctx context.Context, body trace.ArtifactBody) error {
	path := filepath.Join(s.root, "artifacts", artifactFileName(body))
	if err := os.WriteFile(path, body.Content, 0o644); err != nil {
		return fmt.Errorf("filestore: write artifact %s: %w", body.ArtifactID, err)
	}
	meta := body
	meta.Content = nil
	metaPath := path + ".meta.json"
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("filestore: marshal artifact meta: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return fmt.Errorf("filestore: write artifact meta %s: %w", body.ArtifactID, err)
	}
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*trace.ArtifactBody, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "artifacts"))
	if err != nil {
		return nil, fmt.Errorf("filestore: read artifact root: %w", err)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), artifactID+"-artifact.") || strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		dataPath := filepath.Join(s.root, "artifacts", entry.Name())
		data, err := os.ReadFile(dataPath)
		if err != nil {
			return nil, fmt.Errorf("filestore: read artifact %s: %w", artifactID, err)
		}
		metaRaw, err := os.ReadFile(dataPath + ".meta.json")
		if err != nil {
			return nil, fmt.Errorf("filestore: read artifact meta %s: %w", artifactID, err)
		}
		var body trace.ArtifactBody
		if err := json.Unmarshal(metaRaw, &body); err != nil {
			return nil, fmt.Errorf("filestore: decode artifact meta %s: %w", artifactID, err)
		}
		body.Content = data
		return &body, nil
	}
	return nil, fmt.Errorf("filestore: artifact not found: %s", artifactID)
}

func artifactFileName(body trace.ArtifactBody) string {
	ext := "bin"
	if idx := strings.LastIndex(body.MIME, "/"); idx >= 0 && idx+1 < len(body.MIME) {
		ext = body.MIME[idx+1:]
	}
	return fmt.Sprintf("%s-artifact.%s", body.ArtifactID, ext)
}

// sessionsFile is the single JSON index of session records, rewritten
// whole on every Save/Update — session volume is low relative to
// events, so this trades write amplification for simplicity.
const sessionsFile = "sessions.json"

func (s *Store) SaveSession(ctx context.Context, info trace.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions()
	if err != nil {
		return err
	}
	sessions[info.SessionID] = info
	return s.writeSessions(sessions)
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch trace.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions()
	if err != nil {
		return err
	}
	info, ok := sessions[sessionID]
	if !ok {
		return fmt.Errorf("filestore: session not found: %s", sessionID)
	}
	if patch.Status != "" {
		info.Status = patch.Status
	}
	sessions[sessionID] = info
	return s.writeSessions(sessions)
}

func (s *Store) ListSessions(ctx context.Context, filter trace.SessionFilter) ([]trace.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadSessions()
	if err != nil {
		return nil, err
	}
	out := make([]trace.SessionInfo, 0, len(sessions))
	for _, info := range sessions {
		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (s *Store) loadSessions() (map[string]trace.SessionInfo, error) {
	path := filepath.Join(s.root, sessionsFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]trace.SessionInfo), nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read sessions index: %w", err)
	}
	sessions := make(map[string]trace.SessionInfo)
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("filestore: decode sessions index: %w", err)
	}
	return sessions, nil
}

func (s *Store) writeSessions(sessions map[string]trace.SessionInfo) error {
	raw, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("filestore: marshal sessions index: %w", err)
	}
	path := filepath.Join(s.root, sessionsFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("filestore: write sessions index: %w", err)
	}
	return nil
}

// resolutionsFile is the single JSON index of resolutions, rewritten
// whole on every Save/Delete, the same trade-off as sessionsFile.
const resolutionsFile = "resolutions.json"

func (s *Store) SaveResolution(ctx context.Context, resolution carp.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolutions, err := s.loadResolutions()
	if err != nil {
		return err
	}
	resolutions[resolution.ID] = resolution
	return s.writeResolutions(resolutions)
}

func (s *Store) GetResolution(ctx context.Context, id string) (*carp.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolutions, err := s.loadResolutions()
	if err != nil {
		return nil, err
	}
	resolution, ok := resolutions[id]
	if !ok {
		return nil, fmt.Errorf("filestore: resolution not found: %s", id)
	}
	return &resolution, nil
}

func (s *Store) DeleteResolution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolutions, err := s.loadResolutions()
	if err != nil {
		return err
	}
	delete(resolutions, id)
	return s.writeResolutions(resolutions)
}

func (s *Store) loadResolutions() (map[string]carp.Resolution, error) {
	path := filepath.Join(s.root, resolutionsFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]carp.Resolution), nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read resolutions index: %w", err)
	}
	resolutions := make(map[string]carp.Resolution)
	if err := json.Unmarshal(raw, &resolutions); err != nil {
		return nil, fmt.Errorf("filestore: decode resolutions index: %w", err)
	}
	return resolutions, nil
}

func (s *Store) writeResolutions(resolutions map[string]carp.Resolution) error {
	raw, err := json.Marshal(resolutions)
	if err != nil {
		return fmt.Errorf("filestore: marshal resolutions index: %w", err)
	}
	path := filepath.Join(s.root, resolutionsFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("filestore: write resolutions index: %w", err)
	}
	return nil
}

var _ trace.StorageAdapter = (*Store)(nil)
