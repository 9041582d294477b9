// Package search generates independent candidate answers for a query
// across one or more backends and selects the best one.
package search

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelpanel/internal/backend"
	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/common/metrics"
	"modelpanel/internal/sanitize"
)

// Mode selects the verification adjustment applied to candidate
// scores. The bands model differing confidence in the scoring
// signal; they are a placeholder heuristic, not a calibrated
// verifier.
type Mode string

const (
	ModeSelf      Mode = "self"
	ModeScoring   Mode = "scoring"
	ModeCross     Mode = "cross"
	ModeConsensus Mode = "consensus"
)

// noiseBand is the half-width, in percent, of the multiplicative
// adjustment for each mode. Narrowest for self, widest for consensus.
var noiseBands = map[Mode]float64{
	ModeSelf:      2,
	ModeScoring:   5,
	ModeCross:     8,
	ModeConsensus: 12,
}

// ParseMode validates a mode string from config or API input.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := noiseBands[m]; !ok {
		return "", fmt.Errorf("search: unknown verification mode %q", s)
	}
	return m, nil
}

// Candidate is one independently generated answer, scored for
// selection. Owned by a single search invocation.
type Candidate struct {
	ID           string     `json:"id"`
	Backend      backend.ID `json:"backendId"`
	ResponseText string     `json:"responseText"`
	Reasoning    string     `json:"reasoning"`
	Score        float64    `json:"score"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Result is the outcome of one search. Recomputed per invocation,
// never persisted by this package.
type Result struct {
	Query             string      `json:"query"`
	Mode              Mode        `json:"mode"`
	Candidates        []Candidate `json:"candidates"`
	Best              *Candidate  `json:"bestCandidate"`
	TotalCandidates   int         `json:"totalCandidates"`
	VerificationScore float64     `json:"verificationScore"`
	ElapsedSeconds    float64     `json:"elapsedSeconds"`
}

// Searcher runs candidate generation. Generation is concurrent up to
// cfg.Workers; the early-stop threshold bounds total work.
type Searcher struct {
	caller    backend.Caller
	sanitizer *sanitize.Sanitizer
	cfg       config.SearchConfig
	logger    logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSearcher(caller backend.Caller, sanitizer *sanitize.Sanitizer, cfg config.SearchConfig, log logger.Logger) *Searcher {
	return &Searcher{
		caller:    caller,
		sanitizer: sanitizer,
		cfg:       cfg,
		logger:    log.With(map[string]interface{}{"component": "search"}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Search generates up to n candidates for query, round-robining
// across backends, and returns the adjusted, selected result. A
// cancelled context stops generation; candidates recorded so far
// still produce a valid partial result.
func (s *Searcher) Search(ctx context.Context, query string, n int, backends []backend.ID, mode Mode) (*Result, error) {
	if query == "" {
		return nil, fmt.Errorf("search: query must not be empty")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("search: at least one backend is required")
	}
	if _, ok := noiseBands[mode]; !ok {
		return nil, fmt.Errorf("search: unknown verification mode %q", mode)
	}
	n = s.clampCount(n)

	started := time.Now()
	candidates := s.generate(ctx, query, n, backends)

	for i := range candidates {
		candidates[i].Score = s.adjust(candidates[i].Score, mode)
	}

	result := &Result{
		Query:             query,
		Mode:              mode,
		Candidates:        candidates,
		Best:              selectBest(candidates),
		TotalCandidates:   len(candidates),
		VerificationScore: verificationScore(candidates),
		ElapsedSeconds:    time.Since(started).Seconds(),
	}

	s.logger.Info("search completed", map[string]interface{}{
		"candidates": result.TotalCandidates,
		"mode":       string(mode),
		"elapsed":    result.ElapsedSeconds,
	})

	return result, nil
}

func (s *Searcher) clampCount(n int) int {
	if n < s.cfg.MinCandidates {
		return s.cfg.MinCandidates
	}
	if n > s.cfg.MaxCandidates {
		return s.cfg.MaxCandidates
	}
	return n
}

// earlyStop is the number of valid candidates at which generation
// halts. Constants are tunable configuration, not contract.
func (s *Searcher) earlyStop(n int) int {
	threshold := n / s.cfg.EarlyStopDivisor
	if threshold > s.cfg.EarlyStopCap {
		threshold = s.cfg.EarlyStopCap
	}
	if threshold < 1 {
		threshold = 1
	}
	return threshold
}

// generate runs up to cfg.Workers concurrent producers pulling
// sequence numbers from a shared channel. Appends to the shared
// candidate list are mutex synchronized; candidates hold no other
// shared state.
func (s *Searcher) generate(ctx context.Context, query string, n int, backends []backend.ID) []Candidate {
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	threshold := s.earlyStop(n)

	seq := make(chan int)
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu         sync.Mutex
		candidates []Candidate
		valid      int
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range seq {
				id := backends[i%len(backends)]
				cand, ok := s.generateOne(genCtx, query, i, id)
				if !ok {
					continue
				}

				mu.Lock()
				candidates = append(candidates, cand)
				if cand.Score > 0 {
					valid++
					if valid >= threshold {
						cancel()
					}
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case seq <- i:
		case <-genCtx.Done():
			break feed
		}
	}
	close(seq)
	wg.Wait()

	return candidates
}

// generateOne performs one call + sanitize cycle. Failed calls
// produce no candidate; invalid text produces a zero-score one.
func (s *Searcher) generateOne(ctx context.Context, query string, seq int, id backend.ID) (Candidate, bool) {
	if ctx.Err() != nil {
		return Candidate{}, false
	}

	raw, err := s.caller.Call(ctx, id, query, backend.CallOptions{})
	if err != nil {
		s.logger.Warn("candidate generation failed", map[string]interface{}{
			"backend": string(id),
			"seq":     seq,
			"class":   string(backend.ClassOf(err)),
		})
		metrics.SearchCandidatesTotal.WithLabelValues(string(id), "false").Inc()
		return Candidate{}, false
	}

	cleaned, quality := s.sanitizer.Sanitize(raw, id)
	metrics.SearchCandidatesTotal.WithLabelValues(string(id), strconv.FormatBool(quality.IsValid)).Inc()

	score := float64(quality.Score)
	if !quality.IsValid {
		score = 0
	}
	return Candidate{
		ID:           uuid.New().String(),
		Backend:      id,
		ResponseText: cleaned,
		Reasoning:    fmt.Sprintf("candidate %d via %s, base quality %d", seq+1, id, quality.Score),
		Score:        score,
		CreatedAt:    time.Now().UTC(),
	}, true
}

// adjust applies the mode's multiplicative noise band and clamps to
// [0, 100].
func (s *Searcher) adjust(score float64, mode Mode) float64 {
	band := noiseBands[mode]
	s.mu.Lock()
	factor := 1 + (s.rng.Float64()*2-1)*band/100
	s.mu.Unlock()

	adjusted := score * factor
	if adjusted < 0 {
		return 0
	}
	if adjusted > 100 {
		return 100
	}
	return adjusted
}

// selectBest returns the candidate with the strictly highest score;
// ties keep the first seen.
func selectBest(candidates []Candidate) *Candidate {
	var best *Candidate
	for i := range candidates {
		if best == nil || candidates[i].Score > best.Score {
			best = &candidates[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// verificationScore rewards low dispersion across candidate scores
// as a proxy for consensus confidence.
func verificationScore(candidates []Candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candidates {
		sum += c.Score
	}
	mean := sum / float64(len(candidates))

	var variance float64
	for _, c := range candidates {
		d := c.Score - mean
		variance += d * d
	}
	variance /= float64(len(candidates))

	score := 100 - variance
	if score < 0 {
		return 0
	}
	return score
}
