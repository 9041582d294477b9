// Package server exposes the discussion and search cores over HTTP
// and websocket. Session identity is explicit: every discussion gets
// its own orchestrator keyed by session ID, so N sessions can run
// concurrently without shared state.
package server

import (
	"context"
	"fmt"
	"sync"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/discussion"
	"modelpanel/internal/prompt"
	"modelpanel/internal/sanitize"
)

// Manager owns the live discussions. Each entry pairs an orchestrator
// with the broadcast fan-out for its websocket watchers.
type Manager struct {
	caller    backend.Caller
	sanitizer *sanitize.Sanitizer
	cfg       config.DiscussionConfig
	logger    logger.Logger

	// TurnHook, when set, observes every recorded turn across all
	// sessions, in addition to the per-session watchers.
	TurnHook func(discussion.ResponseRecord)

	mu       sync.Mutex
	sessions map[string]*managedSession
}

type managedSession struct {
	orch   *discussion.Orchestrator
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	watchers map[chan discussion.ResponseRecord]struct{}
	result   *discussion.Session
	runErr   error
}

func NewManager(caller backend.Caller, sanitizer *sanitize.Sanitizer, cfg config.DiscussionConfig, log logger.Logger) *Manager {
	return &Manager{
		caller:    caller,
		sanitizer: sanitizer,
		cfg:       cfg,
		logger:    log.With(map[string]interface{}{"component": "session-manager"}),
		sessions:  make(map[string]*managedSession),
	}
}

// Start launches a discussion in the background and returns its
// session ID as soon as the orchestrator has accepted the inputs.
func (m *Manager) Start(ctx context.Context, question string, participants []discussion.ParticipantProfile) (string, error) {
	builder := prompt.New(m.cfg.ContextWindow, m.cfg.Language, m.cfg.MaxAnswerWords)
	orch := discussion.NewOrchestrator(m.caller, m.sanitizer, builder, m.cfg, m.logger)

	runCtx, cancel := context.WithCancel(ctx)
	ms := &managedSession{
		orch:     orch,
		cancel:   cancel,
		done:     make(chan struct{}),
		watchers: make(map[chan discussion.ResponseRecord]struct{}),
	}

	started := make(chan string, 1)
	orch.OnStart = func(sessionID string) {
		m.mu.Lock()
		m.sessions[sessionID] = ms
		m.mu.Unlock()
		started <- sessionID
	}
	orch.OnTurn = func(r discussion.ResponseRecord) {
		if m.TurnHook != nil {
			m.TurnHook(r)
		}
		ms.broadcast(r)
	}

	go func() {
		session, err := orch.Run(runCtx, question, participants)
		cancel()

		ms.mu.Lock()
		ms.result = session
		ms.runErr = err
		for ch := range ms.watchers {
			close(ch)
		}
		ms.watchers = nil
		ms.mu.Unlock()
		close(ms.done)
	}()

	select {
	case id := <-started:
		m.logger.Info("discussion session started", map[string]interface{}{"session": id})
		return id, nil
	case <-ms.done:
		// Either the run finished extremely fast, or Run rejected
		// the inputs before creating a session.
		select {
		case id := <-started:
			return id, nil
		default:
		}
		ms.mu.Lock()
		defer ms.mu.Unlock()
		if ms.runErr != nil {
			return "", ms.runErr
		}
		return "", fmt.Errorf("server: discussion ended before starting")
	}
}

// Session returns a copy of a session's current record.
func (m *Manager) Session(id string) (*discussion.Session, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	result := ms.result
	ms.mu.Unlock()
	if result != nil {
		return result, nil
	}
	return ms.orch.Session(), nil
}

// Export builds the schema-validated snapshot for a session.
func (m *Manager) Export(id string) (*discussion.Snapshot, error) {
	session, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	return discussion.Export(session)
}

// Clear cancels a running discussion and removes it from the
// manager.
func (m *Manager) Clear(id string) error {
	m.mu.Lock()
	ms, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("server: unknown session %q", id)
	}

	ms.cancel()
	ms.orch.Clear()
	m.logger.Info("discussion session cleared", map[string]interface{}{"session": id})
	return nil
}

// Watch registers a turn stream for a session. The channel closes
// when the discussion finishes; slow watchers may miss records
// rather than stall the discussion.
func (m *Manager) Watch(id string) (<-chan discussion.ResponseRecord, func(), error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan discussion.ResponseRecord, 16)

	ms.mu.Lock()
	if ms.watchers == nil {
		// Discussion already finished.
		ms.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	ms.watchers[ch] = struct{}{}
	ms.mu.Unlock()

	cancel := func() {
		ms.mu.Lock()
		if _, ok := ms.watchers[ch]; ok {
			delete(ms.watchers, ch)
			close(ch)
		}
		ms.mu.Unlock()
	}
	return ch, cancel, nil
}

// Done exposes the completion signal for a session.
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return ms.done, nil
}

func (m *Manager) lookup(id string) (*managedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("server: unknown session %q", id)
	}
	return ms, nil
}

func (ms *managedSession) broadcast(r discussion.ResponseRecord) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for ch := range ms.watchers {
		select {
		case ch <- r:
		default:
		}
	}
}
