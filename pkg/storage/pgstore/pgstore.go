// Package pgstore is a trace.StorageAdapter backed by PostgreSQL, for
// durable multi-instance deployments.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// Store is a database/sql-backed trace.StorageAdapter.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB and ensures its schema exists.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trace_events (
			session_id TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			span_id TEXT NOT NULL,
			parent_span_id TEXT,
			event_type TEXT NOT NULL,
			payload JSONB,
			event_timestamp TIMESTAMPTZ NOT NULL,
			severity TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			event_id TEXT PRIMARY KEY,
			previous_event_hash TEXT,
			event_hash TEXT NOT NULL,
			artifacts JSONB,
			source JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS trace_events_session_idx ON trace_events (session_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS trace_artifacts (
			artifact_id TEXT PRIMARY KEY,
			content BYTEA,
			content_hash TEXT,
			size BIGINT,
			mime TEXT,
			inline BOOLEAN
		)`,
		`CREATE TABLE IF NOT EXISTS trace_sessions (
			session_id TEXT PRIMARY KEY,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trace_resolutions (
			resolution_id TEXT PRIMARY KEY,
			resolution JSONB NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendEvents(ctx context.Context, events []trace.Event) error {
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("pgstore: marshal payload: %w", err)
		}
		artifacts, err := json.Marshal(e.Artifacts)
		if err != nil {
			return fmt.Errorf("pgstore: marshal artifacts: %w", err)
		}
		source, err := json.Marshal(e.Source)
		if err != nil {
			return fmt.Errorf("pgstore: marshal source: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO trace_events (
				session_id, trace_id, span_id, parent_span_id, event_type, payload,
				event_timestamp, severity, sequence, event_id, previous_event_hash,
				event_hash, artifacts, source
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (event_id) DO NOTHING
		`, e.SessionID, e.TraceID, e.SpanID, e.ParentSpanID, e.EventType, payload,
			e.Timestamp, string(e.Severity), e.Sequence, e.EventID, e.PreviousEventHash,
			e.EventHash, artifacts, source)
		if err != nil {
			return fmt.Errorf("pgstore: insert event: %w", err)
		}
	}
	return nil
}

func (s *Store) ReadEvents(ctx context.Context, filter trace.EventFilter) ([]trace.Event, error) {
	query := `SELECT session_id, trace_id, span_id, parent_span_id, event_type, payload,
		event_timestamp, severity, sequence, event_id, previous_event_hash, event_hash,
		artifacts, source FROM trace_events WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.SessionID != "" {
		query += " AND session_id = " + arg(filter.SessionID)
	}
	if filter.From != nil {
		query += " AND event_timestamp >= " + arg(*filter.From)
	}
	if filter.To != nil {
		query += " AND event_timestamp <= " + arg(*filter.To)
	}
	if filter.SeverityFloor != "" {
		query += " AND severity = ANY(" + arg(severitiesAtOrAbove(filter.SeverityFloor)) + ")"
	}
	if filter.EventTypeGlob != "" {
		query += " AND event_type LIKE " + arg(likePattern(filter.EventTypeGlob))
	}
	query += " ORDER BY session_id, sequence"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []trace.Event
	for rows.Next() {
		var (
			e                           trace.Event
			severity                    string
			payload, artifacts, source  []byte
		)
		if err := rows.Scan(&e.SessionID, &e.TraceID, &e.SpanID, &e.ParentSpanID, &e.EventType,
			&payload, &e.Timestamp, &severity, &e.Sequence, &e.EventID, &e.PreviousEventHash,
			&e.EventHash, &artifacts, &source); err != nil {
			return nil, fmt.Errorf("pgstore: scan event: %w", err)
		}
		e.Severity = trace.Severity(severity)
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		if len(artifacts) > 0 {
			_ = json.Unmarshal(artifacts, &e.Artifacts)
		}
		if len(source) > 0 {
			_ = json.Unmarshal(source, &e.Source)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: rows: %w", err)
	}
	if filter.SpanIDs != nil {
		out = filterBySpanIDs(out, filter.SpanIDs)
	}
	return out, nil
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

func severitiesAtOrAbove(floor trace.Severity) []string {
	order := []trace.Severity{trace.SeverityDebug, trace.SeverityInfo, trace.SeverityWarn, trace.SeverityError}
	var out []string
	include := false
	for _, s := range order {
		if s == floor {
			include = true
		}
		if include {
			out = append(out, string(s))
		}
	}
	return out
}

func likePattern(glob string) string {
	if len(glob) > 0 && glob[len(glob)-1] == '*' {
		return glob[:len(glob)-1] + "%"
	}
	return glob
}

func (s *Store) SaveArtifact(ctx context.Context, body trace.ArtifactBody) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_artifacts (artifact_id, content, content_hash, size, mime, inline)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (artifact_id) DO UPDATE SET
			content = EXCLUDED.content, content_hash = EXCLUDED.content_hash,
			size = EXCLUDED.size, mime = EXCLUDED.mime, inline = EXCLUDED.inline
	`, body.ArtifactID, body.Content, body.ContentHash, body.Size, body.MIME, body.Inline)
	if err != nil {
		return fmt.Errorf("pgstore: save artifact: %w", err)
	}
	return nil
}

func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*trace.ArtifactBody, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_id, content, content_hash, size, mime, inline FROM trace_artifacts WHERE artifact_id = $1`,
		artifactID)
	var body trace.ArtifactBody
	if err := row.Scan(&body.ArtifactID, &body.Content, &body.ContentHash, &body.Size, &body.MIME, &body.Inline); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("pgstore: artifact not found: %s", artifactID)
		}
		return nil, fmt.Errorf("pgstore: get artifact: %w", err)
	}
	return &body, nil
}

func (s *Store) SaveSession(ctx context.Context, info trace.SessionInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_sessions (session_id, status) VALUES ($1,$2)
		ON CONFLICT (session_id) DO UPDATE SET status = EXCLUDED.status
	`, info.SessionID, string(info.Status))
	if err != nil {
		return fmt.Errorf("pgstore: save session: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, patch trace.SessionInfo) error {
	if patch.Status == "" {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE trace_sessions SET status = $1 WHERE session_id = $2`, string(patch.Status), sessionID)
	if err != nil {
		return fmt.Errorf("pgstore: update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgstore: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pgstore: session not found: %s", sessionID)
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, filter trace.SessionFilter) ([]trace.SessionInfo, error) {
	query := `SELECT session_id, status FROM trace_sessions`
	var args []interface{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY session_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []trace.SessionInfo
	for rows.Next() {
		var info trace.SessionInfo
		var status string
		if err := rows.Scan(&info.SessionID, &status); err != nil {
			return nil, fmt.Errorf("pgstore: scan session: %w", err)
		}
		info.Status = trace.SessionStatus(status)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) SaveResolution(ctx context.Context, resolution carp.Resolution) error {
	raw, err := json.Marshal(resolution)
	if err != nil {
		return fmt.Errorf("pgstore: marshal resolution: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trace_resolutions (resolution_id, resolution) VALUES ($1,$2)
		ON CONFLICT (resolution_id) DO UPDATE SET resolution = EXCLUDED.resolution
	`, resolution.ID, raw)
	if err != nil {
		return fmt.Errorf("pgstore: save resolution: %w", err)
	}
	return nil
}

func (s *Store) GetResolution(ctx context.Context, id string) (*carp.Resolution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT resolution FROM trace_resolutions WHERE resolution_id = $1`, id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("pgstore: resolution not found: %s", id)
		}
		return nil, fmt.Errorf("pgstore: get resolution: %w", err)
	}
	var resolution carp.Resolution
	if err := json.Unmarshal(raw, &resolution); err != nil {
		return nil, fmt.Errorf("pgstore: decode resolution: %w", err)
	}
	return &resolution, nil
}

func (s *Store) DeleteResolution(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trace_resolutions WHERE resolution_id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete resolution: %w", err)
	}
	return nil
}

var _ trace.StorageAdapter = (*Store)(nil)
