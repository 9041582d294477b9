package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/discussion"
	"modelpanel/internal/sanitize"
)

func newTestManager(t *testing.T, caller backend.Caller, rounds int) *Manager {
	t.Helper()
	registry := testRegistry()
	san := sanitize.New(config.SanitizeConfig{
		TargetScript:   "latin",
		MinLength:      20,
		MaxLength:      4000,
		ScriptRatioMin: 0.30,
		NoiseCharMax:   5,
		UniqueWordMin:  0.7,
		ValidThreshold: 70,
	}, registry)
	return NewManager(caller, san, config.DiscussionConfig{
		Rounds:         rounds,
		ContextWindow:  4,
		RateLimitWait:  1000,
		MaxAnswerWords: 180,
		Language:       "English",
	}, logger.NewTestLogger(t))
}

func managerParticipants() []discussion.ParticipantProfile {
	return []discussion.ParticipantProfile{
		{Backend: "sage", DisplayName: "Sage", Role: "economist"},
		{Backend: "quill", DisplayName: "Quill", Role: "historian"},
	}
}

func TestManager_StartRejectsBadInputs(t *testing.T) {
	m := newTestManager(t, &echoCaller{}, 1)

	_, err := m.Start(context.Background(), "", managerParticipants())
	assert.Error(t, err)

	_, err = m.Start(context.Background(), "A question?", nil)
	assert.Error(t, err)
}

func TestManager_ConcurrentSessionsAreIndependent(t *testing.T) {
	m := newTestManager(t, &echoCaller{}, 1)

	id1, err := m.Start(context.Background(), "First question?", managerParticipants())
	require.NoError(t, err)
	id2, err := m.Start(context.Background(), "Second question?", managerParticipants())
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	for _, id := range []string{id1, id2} {
		done, err := m.Done(id)
		require.NoError(t, err)
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("session did not finish")
		}

		session, err := m.Session(id)
		require.NoError(t, err)
		assert.Len(t, session.Responses, 2)
	}

	s1, err := m.Session(id1)
	require.NoError(t, err)
	assert.Equal(t, "First question?", s1.Question)
}

func TestManager_WatchStreamsTurns(t *testing.T) {
	m := newTestManager(t, &echoCaller{}, 2)

	id, err := m.Start(context.Background(), "A question worth debating?", managerParticipants())
	require.NoError(t, err)

	ch, cancel, err := m.Watch(id)
	require.NoError(t, err)
	defer cancel()

	var records []discussion.ResponseRecord
	timeout := time.After(10 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				// 2 rounds x 2 participants, minus anything recorded
				// before the watch registered.
				assert.LessOrEqual(t, len(records), 4)
				assert.NotEmpty(t, records)
				return
			}
			records = append(records, r)
		case <-timeout:
			t.Fatal("watch channel never closed")
		}
	}
}

func TestManager_WatchAfterCompletionClosesImmediately(t *testing.T) {
	m := newTestManager(t, &echoCaller{}, 1)

	id, err := m.Start(context.Background(), "A question?", managerParticipants())
	require.NoError(t, err)

	done, err := m.Done(id)
	require.NoError(t, err)
	<-done

	ch, cancel, err := m.Watch(id)
	require.NoError(t, err)
	defer cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestManager_ClearCancelsAndForgets(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	m := newTestManager(t, &gateCaller{started: started, release: release}, 3)

	id, err := m.Start(context.Background(), "A question?", managerParticipants())
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Clear(id))

	_, err = m.Session(id)
	assert.Error(t, err)
	assert.Error(t, m.Clear(id))
}

// gateCaller blocks its first call until released so tests can act
// mid-discussion.
type gateCaller struct {
	mu      sync.Mutex
	first   bool
	started chan struct{}
	release chan struct{}
}

func (g *gateCaller) Call(ctx context.Context, _ backend.ID, _ string, _ backend.CallOptions) (string, error) {
	g.mu.Lock()
	isFirst := !g.first
	g.first = true
	g.mu.Unlock()
	if isFirst {
		close(g.started)
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "A measured answer with a comfortable number of distinct words.", nil
}
