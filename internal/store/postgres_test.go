package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupArchive(t *testing.T) (*Archive, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	archive := newArchiveWithDB(db)
	t.Cleanup(func() { _ = archive.Close() })
	return archive, mock
}

func TestArchive_Migrate(t *testing.T) {
	archive, mock := setupArchive(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS session_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, archive.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_Save(t *testing.T) {
	archive, mock := setupArchive(t)
	snap := fixtureSnapshot("sess-pg-1")

	mock.ExpectExec("INSERT INTO session_snapshots").
		WithArgs(snap.SessionID, snap.Question, snap.Statistics.TotalTurns, sqlmock.AnyArg(), snap.ExportedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, archive.Save(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_SaveRejectsEmptySessionID(t *testing.T) {
	archive, _ := setupArchive(t)

	assert.Error(t, archive.Save(context.Background(), nil))
}

func TestArchive_LoadRoundTrip(t *testing.T) {
	archive, mock := setupArchive(t)
	raw := `{"sessionId":"sess-pg-2","question":"Should central banks target inflation?","participants":[],"responses":[],"statistics":{"totalTurns":0,"validTurns":0,"failedTurns":0,"failuresByClass":{},"meanQuality":0,"roundsCompleted":0,"durationMs":0,"participants":[]},"exportedAt":"2026-08-28T12:00:00Z"}`

	mock.ExpectQuery("SELECT snapshot FROM session_snapshots").
		WithArgs("sess-pg-2").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}).AddRow([]byte(raw)))

	snap, err := archive.Load(context.Background(), "sess-pg-2")
	require.NoError(t, err)
	assert.Equal(t, "sess-pg-2", snap.SessionID)
	assert.Equal(t, "Should central banks target inflation?", snap.Question)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_LoadMissing(t *testing.T) {
	archive, mock := setupArchive(t)

	mock.ExpectQuery("SELECT snapshot FROM session_snapshots").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"snapshot"}))

	_, err := archive.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_List(t *testing.T) {
	archive, mock := setupArchive(t)
	exported := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"session_id", "question", "total_turns", "exported_at"}).
		AddRow("sess-b", "Question B?", 6, exported).
		AddRow("sess-a", "Question A?", 4, exported.Add(-time.Hour))

	mock.ExpectQuery("SELECT session_id, question, total_turns, exported_at").
		WithArgs(25).
		WillReturnRows(rows)

	summaries, err := archive.List(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "sess-b", summaries[0].SessionID)
	assert.Equal(t, 6, summaries[0].TotalTurns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_ListDefaultsLimit(t *testing.T) {
	archive, mock := setupArchive(t)

	mock.ExpectQuery("SELECT session_id, question, total_turns, exported_at").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "question", "total_turns", "exported_at"}))

	summaries, err := archive.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
