// Package sqlitestore is a trace.StorageAdapter backed by pure-Go
// SQLite (no cgo), for single-binary durable deployments that don't
// want an external database.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// Store is a database/sql-backed trace.StorageAdapter, schema-compatible
// with pgstore but using SQLite's placeholder and type conventions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and
// ensures its schema exists. path may be ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trace_events (
			session_id TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT,
			event_type TEXT NOT NULL,
			payload JSON,
			event_timestamp DATETIME NOT NULL,
			severity TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			event_id TEXT PRIMARY KEY,
			previous_event_hash TEXT,
			event_hash TEXT NOT NULL,
			artifacts JSON,
			source JSON
		)`,
		`CREATE INDEX IF NOT EXISTS trace_events_session_idx ON trace_events (session_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS trace_artifacts (
			artifact_id TEXT PRIMARY KEY,
			content BLOB,
			content_hash TEXT,
			size INTEGER,
			mime TEXT,
			inline INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS trace_sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trace_resolutions (
			resolution_id TEXT PRIMARY KEY,
			resolution JSON NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitestore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendEvents(ctx context.Context, events []trace.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("sqlitestore: marshal payload: %w", err)
		}
		artifacts, err := json.Marshal(e.Artifacts)
		if err != nil {
			return fmt.Errorf("sqlitestore: marshal artifacts: %w", err)
		}
		source, err := json.Marshal(e.Source)
		if err != nil {
			return fmt.Errorf("sqlitestore: marshal source: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO trace_events (
				session_id, trace_id, span_id, parent_span_id, event_type, payload,
				event_timestamp, severity, sequence, event_id, previous_event_hash,
				event_hash, artifacts, source
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		`, e.SessionID, e.TraceID, e.SpanID, e.ParentSpanID, e.EventType, string(payload),
			e.Timestamp, string(e.Severity), e.Sequence, e.EventID, e.PreviousEventHash,
			e.EventHash, string(artifacts), string(source))
		if err != nil {
			return fmt.Errorf("sqlitestore: insert event: %w", err)
		}
	}
	return nil
}

func (s *Store) ReadEvents(ctx context.Context, filter trace.EventFilter) ([]trace.Event, error) {
	query := `SELECT session_id, trace_id, span_id, parent_span_id, event_type, payload,
		event_timestamp, severity, sequence, event_id, previous_event_hash, event_hash,
		artifacts, source FROM trace_events WHERE 1=1`
	var args []interface{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.From != nil {
		query += " AND event_timestamp >= ?"
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += " AND event_timestamp <= ?"
		args = append(args, *filter.To)
	}
	if filter.EventTypeGlob != "" {
		query += " AND event_type LIKE ?"
		args = append(args, likePattern(filter.EventTypeGlob))
	}
	query += " ORDER BY session_id, sequence"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []trace.Event
	for rows.Next() {
		var (
			e                          trace.Event
			severity                   string
			payload, artifacts, source string
		)
		if err := rows.Scan(&e.SessionID, &e.TraceID, &e.SpanID, &e.ParentSpanID, &e.EventType,
			&payload, &e.Timestamp, &severity, &e.Sequence, &e.EventID, &e.PreviousEventHash,
			&e.EventHash, &artifacts, &source); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		e.Severity = trace.Severity(severity)
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &e.Payload)
		}
		if artifacts != "" {
			_ = json.Unmarshal([]byte(artifacts), &e.Artifacts)
		}
		if source != "" {
			_ = json.Unmarshal([]byte(source), &e.Source)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: rows: %w", err)
	}

	if filter.SeverityFloor != "" {
		out = filterBySeverityFloor(out, filter.SeverityFloor)
	}
	if filter.SpanIDs != nil {
		out = filterBySpanIDs(out, filter.SpanIDs)
	}
	return out, nil
}

func filterBySeverityFloor(events []trace.Event, floor trace.Severity) []trace.Event {
	out := make([]trace.Event, 0, len(events))
	for _, e := range events {
		if severityRank(e.Severity) >= severityRank(floor) {
			out = append(out, e)
		}
	}
	return out
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

func filterBySpanIDs(events []trace.Event, spanIDs []string) []trace.Event {
	want := make(map[string]bool, len(spanIDs))
	for _, id := range spanIDs {
		want[id] = true
	}
	out := make([]trace.Event, 0, len(events))
	for _, e := range events {
		if want[e.SpanID] {
			out = append(out, e)
		}
	}
	return out
}

func likePattern(glob string) string {
	if strings.HasSuffix(glob, "*") {
		return strings.TrimSuffix(glob, "*") + "%"
	}
	return glob
}

func (s *Store) SaveArtifact(ctx context.Context, body trace.ArtifactBody) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_artifacts (artifact_id, content, content_hash, size, mime, inline)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (artifact_id) DO UPDATE SET
			content = excluded.content, content_hash = excluded.content_hash,
			size = excluded.size, mime = excluded.mime, inline = excluded.inline
	`, body.ArtifactID, body.Content, body.ContentHash, body.Size, body.MIME, body.Inline)
	if err != nil {
		return fmt.Errorf("sqlitestore: save artifact: %w", err)
	}
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*trace.ArtifactBody, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_id, content, content_hash, size, mime, inline FROM trace_artifacts WHERE artifact_id = ?`,
		artifactID)
	var body trace.ArtifactBody
	if err := row.Scan(&body.ArtifactID, &body.Content, &body.ContentHash, &body.Size, &body.MIME, &body.Inline); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sqlitestore: artifact not found: %s", artifactID)
		}
		return nil, fmt.Errorf("sqlitestore: get artifact: %w", err)
	}
	return &body, nil
}

func (s *Store) SaveSession(ctx context.Context, info trace.SessionInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_sessions (session_id, status) VALUES (?,?)
		ON CONFLICT (session_id) DO UPDATE SET status = excluded.status
	`, info.SessionID, string(info.Status))
	if err != nil {
		return fmt.Errorf("sqlitestore: save session: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch trace.SessionInfo) error {
	if patch.Status == "" {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE trace_sessions SET status = ? WHERE session_id = ?`, string(patch.Status), sessionID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlitestore: session not found: %s", sessionID)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, filter trace.SessionFilter) ([]trace.SessionInfo, error) {
	query := `SELECT session_id, status FROM trace_sessions`
	var args []interface{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY session_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []trace.SessionInfo
	for rows.Next() {
		var info trace.SessionInfo
		var status string
		if err := rows.Scan(&info.SessionID, &status); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan session: %w", err)
		}
		info.Status = trace.SessionStatus(status)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) SaveResolution(ctx context.Context, resolution carp.Resolution) error {
	raw, err := json.Marshal(resolution)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal resolution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trace_resolutions (resolution_id, resolution) VALUES (?,?)
		ON CONFLICT (resolution_id) DO UPDATE SET resolution = excluded.resolution
	`, resolution.ID, string(raw))
	if err != nil {
		return fmt.Errorf("sqlitestore: save resolution: %w", err)
	}
	return nil
}

func (s *Store) GetResolution(ctx context.Context, id string) (*carp.Resolution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT resolution FROM trace_resolutions WHERE resolution_id = ?`, id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sqlitestore: resolution not found: %s", id)
		}
		return nil, fmt.Errorf("sqlitestore: get resolution: %w", err)
	}
	var resolution carp.Resolution
	if err := json.Unmarshal([]byte(raw), &resolution); err != nil {
		return nil, fmt.Errorf("sqlitestore: decode resolution: %w", err)
	}
	return &resolution, nil
}

func (s *Store) DeleteResolution(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trace_resolutions WHERE resolution_id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete resolution: %w", err)
	}
	return nil
}

var _ trace.StorageAdapter = (*Store)(nil)
