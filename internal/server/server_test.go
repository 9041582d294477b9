package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/discussion"
	"modelpanel/internal/sanitize"
	"modelpanel/internal/search"
)

// echoCaller answers every call with a fixed valid response.
type echoCaller struct {
	mu    sync.Mutex
	calls int
}

func (e *echoCaller) Call(ctx context.Context, id backend.ID, prompt string, _ backend.CallOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.mu.Unlock()
	return fmt.Sprintf("Considered answer number %d with plenty of distinct words in it.", n), nil
}

func testRegistry() *backend.Registry {
	return backend.NewRegistry(map[string]config.BackendConfig{
		"sage":  {BaseURL: "http://sage"},
		"quill": {BaseURL: "http://quill"},
		"nova":  {BaseURL: "http://nova"},
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	caller := &echoCaller{}
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

	log := logger.NewTestLogger(t)
	manager := NewManager(caller, san, config.DiscussionConfig{
		Rounds:         1,
		ContextWindow:  4,
		RateLimitWait:  1000,
		MaxAnswerWords: 180,
		Language:       "English",
	}, log)
	searcher := search.NewSearcher(caller, san, config.SearchConfig{
		MinCandidates:    1,
		MaxCandidates:    50,
		EarlyStopCap:     5,
		EarlyStopDivisor: 5,
		Workers:          2,
	}, log)

	return New(manager, searcher, registry, config.ServerConfig{
		Address:         ":0",
		ReadTimeout:     5000,
		WriteTimeout:    5000,
		ShutdownTimeout: 1000,
	}, log, Options{})
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s.App(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestBackendsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s.App(), http.MethodGet, "/api/backends", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Backends []string `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, []string{"nova", "quill", "sage"}, out.Backends)
}

func startDiscussion(t *testing.T, s *Server) string {
	t.Helper()
	resp, body := doJSON(t, s.App(), http.MethodPost, "/api/discussions", map[string]interface{}{
		"question": "Should central banks target inflation?",
		"participants": []map[string]string{
			{"backendId": "sage", "displayName": "Sage", "role": "economist"},
			{"backendId": "quill", "displayName": "Quill", "role": "historian"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var out startDiscussionResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func waitForCompletion(t *testing.T, s *Server, id string) {
	t.Helper()
	done, err := s.manager.Done(id)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("discussion did not complete in time")
	}
}

func TestDiscussionLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := startDiscussion(t, s)
	waitForCompletion(t, s, id)

	resp, body := doJSON(t, s.App(), http.MethodGet, "/api/discussions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session discussion.Session
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, id, session.ID)
	assert.Len(t, session.Responses, 2)

	resp, _ = doJSON(t, s.App(), http.MethodDelete, "/api/discussions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, s.App(), http.MethodGet, "/api/discussions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartDiscussion_RejectsUnknownBackend(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s.App(), http.MethodPost, "/api/discussions", map[string]interface{}{
		"question": "A question?",
		"participants": []map[string]string{
			{"backendId": "ghost", "displayName": "Ghost"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "not configured")
}

func TestStartDiscussion_RejectsEmptyQuestion(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s.App(), http.MethodPost, "/api/discussions", map[string]interface{}{
		"question": "",
		"participants": []map[string]string{
			{"backendId": "sage", "displayName": "Sage"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportDiscussion(t *testing.T) {
	s := newTestServer(t)
	id := startDiscussion(t, s)
	waitForCompletion(t, s, id)

	resp, body := doJSON(t, s.App(), http.MethodGet, "/api/discussions/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap discussion.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, id, snap.SessionID)
	assert.Equal(t, 2, snap.Statistics.TotalTurns)
	assert.False(t, snap.ExportedAt.IsZero())
}

func TestGetDiscussion_UnknownID(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s.App(), http.MethodGet, "/api/discussions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArchiveList_NotConfigured(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s.App(), http.MethodGet, "/api/discussions/archive", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s.App(), http.MethodPost, "/api/search", map[string]interface{}{
		"query": "best capital allocation strategy",
		"n":     10,
		"mode":  "consensus",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result search.Result
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, search.ModeConsensus, result.Mode)
	assert.NotZero(t, result.TotalCandidates)
	require.NotNil(t, result.Best)
	assert.GreaterOrEqual(t, result.Best.Score, 0.0)
}

func TestSearchEndpoint_RejectsBadMode(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s.App(), http.MethodPost, "/api/search", map[string]interface{}{
		"query": "a query",
		"mode":  "psychic",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchEndpoint_RejectsUnknownBackend(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s.App(), http.MethodPost, "/api/search", map[string]interface{}{
		"query":    "a query",
		"backends": []string{"ghost"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s.App(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
