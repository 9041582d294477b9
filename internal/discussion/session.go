// Package discussion drives the multi-round, multi-participant
// discussion protocol and owns the session record it produces.
package discussion

import (
	"time"

	"github.com/google/uuid"

	"modelpanel/internal/backend"
	"modelpanel/internal/sanitize"
)

// ParticipantProfile binds a persona to one backend for the duration
// of a session. Immutable after configuration.
type ParticipantProfile struct {
	Backend     backend.ID `json:"backendId" mapstructure:"backend"`
	DisplayName string     `json:"displayName" mapstructure:"display_name"`
	Role        string     `json:"role" mapstructure:"role"`
	Style       string     `json:"style" mapstructure:"style"`
}

// ResponseRecord is the append-only audit record of one participant
// turn. Never mutated after creation.
type ResponseRecord struct {
	ID               string                 `json:"id"`
	Backend          backend.ID             `json:"backendId"`
	Participant      string                 `json:"participant"`
	Role             string                 `json:"role"`
	Round            int                    `json:"round"`
	RawText          string                 `json:"rawText"`
	CleanedText      string                 `json:"cleanedText"`
	Quality          sanitize.QualityReport `json:"quality"`
	Failed           bool                   `json:"failed"`
	ErrorClass       string                 `json:"errorClass,omitempty"`
	ProcessingTimeMs int64                  `json:"processingTimeMs"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// State is the orchestrator's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Session is the record of one discussion. It belongs to exactly one
// question; the orchestrator creates a fresh one per Run.
type Session struct {
	ID           string               `json:"id"`
	Question     string               `json:"question"`
	Participants []ParticipantProfile `json:"participants"`
	CurrentRound int                  `json:"currentRound"`
	Responses    []ResponseRecord     `json:"responses"`
	StartedAt    time.Time            `json:"startedAt"`
	CompletedAt  time.Time            `json:"completedAt,omitempty"`
}

func newSession(question string, participants []ParticipantProfile) *Session {
	return &Session{
		ID:           uuid.New().String(),
		Question:     question,
		Participants: append([]ParticipantProfile(nil), participants...),
		StartedAt:    time.Now().UTC(),
	}
}

// append records a turn. Responses stay in turn order, so round
// numbers never decrease across the slice.
func (s *Session) append(r ResponseRecord) {
	s.Responses = append(s.Responses, r)
}

// Copy returns a deep enough copy for safe concurrent reads while
// the orchestrator keeps appending to the original.
func (s *Session) Copy() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Participants = append([]ParticipantProfile(nil), s.Participants...)
	dup.Responses = append([]ResponseRecord(nil), s.Responses...)
	return &dup
}

// priorTurns returns the successful contributions recorded so far,
// used as discussion context for the next prompt.
func (s *Session) priorTurns() []ResponseRecord {
	out := make([]ResponseRecord, 0, len(s.Responses))
	for _, r := range s.Responses {
		if r.Failed {
			continue
		}
		out = append(out, r)
	}
	return out
}
