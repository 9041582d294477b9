package discussion

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/common/metrics"
	"modelpanel/internal/prompt"
	"modelpanel/internal/sanitize"
)

// Orchestrator runs discussions strictly sequentially: one
// participant call per round at a time. Shared backends enforce
// per-account rate limits, so sequencing plus inter-turn delay is the
// backpressure mechanism, not an incidental limitation.
type Orchestrator struct {
	caller    backend.Caller
	sanitizer *sanitize.Sanitizer
	builder   *prompt.Builder
	cfg       config.DiscussionConfig
	logger    logger.Logger

	// OnStart, when set, observes the fresh session before the first
	// round runs. OnTurn observes every recorded turn. Both are
	// called from the run goroutine.
	OnStart func(sessionID string)
	OnTurn  func(ResponseRecord)

	// sleep and rng are injection points for tests.
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand

	mu      sync.Mutex
	state   State
	session *Session
	cancel  context.CancelFunc
}

// defaultApologies are voiced on behalf of a participant whose
// backend failed. The session stays a complete, displayable record
// either way. Config may override per error class.
var defaultApologies = map[backend.ErrorClass]string{
	backend.ClassOverloaded:  "%s: My backend is overloaded at the moment, so I have to skip this turn.",
	backend.ClassRateLimited: "%s: I have hit my request limit and must stay quiet this turn.",
	backend.ClassTimeout:     "%s: My answer took too long to arrive and timed out.",
	backend.ClassBadRequest:  "%s: I could not process this turn's instructions.",
	backend.ClassGeneric:     "%s: Something went wrong on my side this turn.",
}

// NewOrchestrator wires the per-turn pipeline: prompt build, resilient
// call, sanitize, record.
func NewOrchestrator(caller backend.Caller, sanitizer *sanitize.Sanitizer, builder *prompt.Builder, cfg config.DiscussionConfig, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		caller:    caller,
		sanitizer: sanitizer,
		builder:   builder,
		cfg:       cfg,
		logger:    log.With(map[string]interface{}{"component": "orchestrator"}),
		sleep:     sleepCtx,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Session returns a copy of the current or most recent session, or
// nil when none exists.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.Copy()
}

// Run executes a full discussion for question. Starting a new
// question clears prior state. The returned session is complete even
// when individual turns failed; a cancelled context ends the
// discussion between turns and the partial record stays valid.
func (o *Orchestrator) Run(ctx context.Context, question string, participants []ParticipantProfile) (*Session, error) {
	if question == "" {
		return nil, fmt.Errorf("discussion: question must not be empty")
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("discussion: at least one participant is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, fmt.Errorf("discussion: already running")
	}
	o.state = StateRunning
	o.session = newSession(question, participants)
	o.cancel = cancel
	session := o.session
	o.mu.Unlock()

	metrics.DiscussionsActive.Inc()
	defer metrics.DiscussionsActive.Dec()

	if o.OnStart != nil {
		o.OnStart(session.ID)
	}

	o.logger.Info("discussion started", map[string]interface{}{
		"session":      session.ID,
		"participants": len(participants),
		"rounds":       o.cfg.Rounds,
	})

	err := o.runRounds(runCtx, session, participants)

	o.mu.Lock()
	session.CompletedAt = time.Now().UTC()
	// A cleared run's tail must not clobber a newer run's state.
	if o.session == session {
		o.state = StateFinalizing
		o.state = StateIdle
		o.cancel = nil
	}
	result := session.Copy()
	o.mu.Unlock()

	o.logger.Info("discussion finished", map[string]interface{}{
		"session":   session.ID,
		"responses": len(result.Responses),
		"err":       err != nil,
	})

	return result, err
}

func (o *Orchestrator) runRounds(ctx context.Context, session *Session, participants []ParticipantProfile) error {
	for round := 0; round < o.cfg.Rounds; round++ {
		o.mu.Lock()
		session.CurrentRound = round
		o.mu.Unlock()

		for i, p := range participants {
			if err := ctx.Err(); err != nil {
				return err
			}

			record, ok := o.runTurn(ctx, session, p, round)
			if !ok {
				return ctx.Err()
			}

			o.mu.Lock()
			session.append(record)
			o.mu.Unlock()

			outcome := "success"
			if record.Failed {
				outcome = "failure"
			}
			metrics.DiscussionTurnsTotal.WithLabelValues(string(p.Backend), outcome).Inc()

			if o.OnTurn != nil {
				o.OnTurn(record)
			}

			// Inter-turn delay only between turns within a round.
			if i < len(participants)-1 {
				if err := o.sleep(ctx, o.turnDelay()); err != nil {
					return err
				}
			}
		}

		if round < o.cfg.Rounds-1 {
			if err := o.sleep(ctx, config.GetDuration(o.cfg.RoundDelay)); err != nil {
				return err
			}
		}
	}
	return nil
}

// runTurn performs the build, call, sanitize pipeline for one
// participant. Failures become apology records, never aborts. A turn
// interrupted by session cancellation returns ok=false and is not
// recorded.
func (o *Orchestrator) runTurn(ctx context.Context, session *Session, p ParticipantProfile, round int) (ResponseRecord, bool) {
	o.mu.Lock()
	prior := session.priorTurns()
	o.mu.Unlock()

	turns := make([]prompt.Turn, len(prior))
	for i, r := range prior {
		turns[i] = prompt.Turn{Speaker: r.Participant, Text: r.CleanedText}
	}

	built := o.builder.Build(prompt.Participant{
		Name:  p.DisplayName,
		Role:  p.Role,
		Style: p.Style,
	}, round, o.cfg.Rounds, session.Question, turns)

	started := time.Now()
	raw, err := o.caller.Call(ctx, p.Backend, built, backend.CallOptions{})

	// A rate-limited backend gets one whole-turn retry after the
	// recommended cool-down, outside the client's own budget.
	if ce, ok := err.(*backend.CallError); ok && ce.Class == backend.ClassRateLimited {
		wait := ce.RetryAfter
		if limit := config.GetDuration(o.cfg.RateLimitWait); wait > limit {
			wait = limit
		}
		o.logger.Warn("rate limited, cooling down", map[string]interface{}{
			"backend": string(p.Backend),
			"wait":    wait.String(),
		})
		if sleepErr := o.sleep(ctx, wait); sleepErr == nil {
			raw, err = o.caller.Call(ctx, p.Backend, built, backend.CallOptions{})
		}
	}

	elapsed := time.Since(started)

	if err != nil {
		// A cancelled session ends the turn without an apology; the
		// participant did not fail, the user stopped the discussion.
		if ctx.Err() != nil {
			return ResponseRecord{}, false
		}
		class := backend.ClassOf(err)
		o.logger.Error("turn failed", map[string]interface{}{
			"backend": string(p.Backend),
			"round":   round,
			"class":   string(class),
		})
		return ResponseRecord{
			ID:               uuid.New().String(),
			Backend:          p.Backend,
			Participant:      p.DisplayName,
			Role:             p.Role,
			Round:            round,
			RawText:          err.Error(),
			CleanedText:      fmt.Sprintf(o.apologyFor(class), p.DisplayName),
			Quality:          sanitize.QualityReport{IsValid: false, Issues: []sanitize.Issue{}, Score: 0},
			Failed:           true,
			ErrorClass:       string(class),
			ProcessingTimeMs: elapsed.Milliseconds(),
			CreatedAt:        time.Now().UTC(),
		}, true
	}

	cleaned, quality := o.sanitizer.Sanitize(raw, p.Backend)
	return ResponseRecord{
		ID:               uuid.New().String(),
		Backend:          p.Backend,
		Participant:      p.DisplayName,
		Role:             p.Role,
		Round:            round,
		RawText:          raw,
		CleanedText:      cleaned,
		Quality:          quality,
		ProcessingTimeMs: elapsed.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}, true
}

func (o *Orchestrator) apologyFor(class backend.ErrorClass) string {
	if msg, ok := o.cfg.Apologies[strings.ToLower(string(class))]; ok && msg != "" {
		return msg
	}
	if msg, ok := defaultApologies[class]; ok {
		return msg
	}
	return defaultApologies[backend.ClassGeneric]
}

// turnDelay picks a random delay within the configured inter-turn
// range.
func (o *Orchestrator) turnDelay() time.Duration {
	min := config.GetDuration(o.cfg.TurnDelayMin)
	max := config.GetDuration(o.cfg.TurnDelayMax)
	if max <= min {
		return min
	}
	o.mu.Lock()
	d := min + time.Duration(o.rng.Int63n(int64(max-min)))
	o.mu.Unlock()
	return d
}

// Clear forces an immediate transition to Idle from any state,
// cancelling an in-flight run and discarding its session.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state = StateIdle
	o.session = nil
}
