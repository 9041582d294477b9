package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpanel/internal/discussion"
	"modelpanel/internal/sanitize"
)

func setupCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := newSnapshotCacheWithClient(client, time.Hour)

	t.Cleanup(func() {
		_ = cache.Close()
		mr.Close()
	})
	return cache, mr
}

func fixtureSnapshot(sessionID string) *discussion.Snapshot {
	return &discussion.Snapshot{
		SessionID: sessionID,
		Question:  "Should central banks target inflation?",
		Participants: []discussion.ParticipantProfile{
			{Backend: "sage", DisplayName: "Sage", Role: "economist"},
		},
		Responses: []discussion.ResponseRecord{
			{
				ID:          "r1",
				Backend:     "sage",
				Participant: "Sage",
				Round:       0,
				CleanedText: "Targets anchor expectations.",
				Quality:     sanitize.QualityReport{IsValid: true, Score: 90},
			},
		},
		Statistics: discussion.SessionStats{TotalTurns: 1, ValidTurns: 1},
		ExportedAt: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotCache_PutGet(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	snap := fixtureSnapshot("sess-redis-1")
	require.NoError(t, cache.Put(ctx, snap))

	got, err := cache.Get(ctx, "sess-redis-1")
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, got.SessionID)
	assert.Equal(t, snap.Question, got.Question)
	require.Len(t, got.Responses, 1)
	assert.Equal(t, 90, got.Responses[0].Quality.Score)
}

func TestSnapshotCache_GetMissing(t *testing.T) {
	cache, _ := setupCache(t)

	_, err := cache.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotCache_TTLExpiry(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, fixtureSnapshot("sess-redis-2")))

	mr.FastForward(2 * time.Hour)

	_, err := cache.Get(ctx, "sess-redis-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotCache_Delete(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, fixtureSnapshot("sess-redis-3")))
	require.NoError(t, cache.Delete(ctx, "sess-redis-3"))

	_, err := cache.Get(ctx, "sess-redis-3")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, cache.Delete(ctx, "sess-redis-3"))
}

func TestSnapshotCache_RejectsEmptySessionID(t *testing.T) {
	cache, _ := setupCache(t)

	assert.Error(t, cache.Put(context.Background(), &discussion.Snapshot{}))
	assert.Error(t, cache.Put(context.Background(), nil))
}
