package pgstore_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/storage/pgstore"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

func newMockStore(t *testing.T) (*pgstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := pgstore.New(context.Background(), db)
	require.NoError(t, err)
	return store, mock
}

func TestAppendEvents(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trace_events")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.AppendEvents(context.Background(), []trace.Event{
		{SessionID: "s1", TraceID: "t1", SpanID: "sp1", EventType: "carp.resolve", Severity: trace.SeverityInfo, Sequence: 1, EventID: "e1", EventHash: "h1", Timestamp: time.Now()},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndGetArtifact(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trace_artifacts")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	body := trace.ArtifactBody{ArtifactID: "art-1", Content: []byte("hi"), Size: 2, MIME: "text/plain"}
	require.NoError(t, store.SaveArtifact(context.Background(), body))

	rows := sqlmock.NewRows([]string{"artifact_id", "content", "content_hash", "size", "mime", "inline"}).
		AddRow("art-1", []byte("hi"), "", int64(2), "text/plain", false)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT artifact_id, content, content_hash, size, mime, inline FROM trace_artifacts")).
		WithArgs("art-1").
		WillReturnRows(rows)

	got, err := store.GetArtifact(context.Background(), "art-1")
	require.NoError(t, err)
	require.Equal(t, body.Content, got.Content)
}

func TestUpdateSessionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trace_sessions")).
		WithArgs(string(trace.SessionEnded), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSession(context.Background(), "missing", trace.SessionInfo{Status: trace.SessionEnded})
	require.Error(t, err)
}
