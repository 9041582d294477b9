package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"modelpanel/internal/common/config"
	"modelpanel/internal/common/logger"
	"modelpanel/internal/common/metrics"
)

// CallOptions carries per-call overrides for a generation request.
type CallOptions struct {
	Temperature     float64
	MaxOutputTokens int
}

// Caller is the single-call contract consumed by the orchestrator and
// candidate search. It exists so both can be tested against a stub.
type Caller interface {
	Call(ctx context.Context, id ID, prompt string, opts CallOptions) (string, error)
}

// generateRequest is the wire request sent to every backend.
type generateRequest struct {
	Prompt          string  `json:"prompt"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
}

// generateResponse is the wire response expected from every backend.
type generateResponse struct {
	Text string `json:"text"`
}

// Client issues generation calls with a bounded retry loop,
// exponential backoff plus jitter, and a per-attempt deadline.
// It keeps no state across calls.
type Client struct {
	httpClient *http.Client
	registry   *Registry
	cfg        config.CallConfig
	logger     logger.Logger

	// backoffFunc computes the sleep before attempt n (0-based retry
	// index). Replaced in tests to avoid real sleeps.
	backoffFunc func(attempt int) time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewClient creates a call client. The http.Client carries no timeout
// of its own; each attempt gets a context deadline instead.
func NewClient(registry *Registry, cfg config.CallConfig, log logger.Logger) *Client {
	// Zero or negative budgets would skip the attempt loop entirely.
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	c := &Client{
		httpClient: &http.Client{},
		registry:   registry,
		cfg:        cfg,
		logger:     log.With(map[string]interface{}{"component": "call-client"}),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.backoffFunc = c.defaultBackoff
	return c
}

// defaultBackoff implements base * 2^attempt plus random jitter.
func (c *Client) defaultBackoff(attempt int) time.Duration {
	base := config.GetDuration(c.cfg.BackoffBase)
	backoff := base * time.Duration(1<<uint(attempt))
	c.mu.Lock()
	jitter := time.Duration(c.rng.Intn(c.cfg.JitterMax+1)) * time.Millisecond
	c.mu.Unlock()
	return backoff + jitter
}

// Call performs one logical generation call against backend id.
// On failure it returns a *CallError holding the last classified
// error; callers must not assume partial output exists.
func (c *Client) Call(ctx context.Context, id ID, prompt string, opts CallOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &CallError{
			Class:     ClassBadRequest,
			Backend:   id,
			Message:   "empty prompt",
			Attempts:  0,
			Timestamp: time.Now().UTC(),
		}
	}

	ep, err := c.registry.Lookup(id)
	if err != nil {
		return "", &CallError{
			Class:     ClassBadRequest,
			Backend:   id,
			Message:   err.Error(),
			Attempts:  0,
			Timestamp: time.Now().UTC(),
		}
	}

	body := c.buildRequestBody(ep, prompt, opts)

	started := time.Now()
	defer func() {
		metrics.BackendCallDuration.WithLabelValues(string(id)).Observe(time.Since(started).Seconds())
	}()

	var lastErr *CallError
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.BackendCallRetries.WithLabelValues(string(id)).Inc()
			delay := c.backoffFunc(attempt - 1)
			select {
			case <-ctx.Done():
				metrics.BackendCallsTotal.WithLabelValues(string(id), "cancelled").Inc()
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, callErr := c.doAttempt(ctx, ep, body)
		if callErr == nil {
			metrics.BackendCallsTotal.WithLabelValues(string(id), "success").Inc()
			return text, nil
		}
		callErr.Attempts = attempt + 1
		lastErr = callErr

		if !callErr.Retryable() {
			break
		}

		c.logger.Warn("attempt failed, retrying", map[string]interface{}{
			"backend": string(id),
			"class":   string(callErr.Class),
			"attempt": attempt + 1,
		})
	}

	metrics.BackendCallsTotal.WithLabelValues(string(id), strings.ToLower(string(lastErr.Class))).Inc()
	return "", lastErr
}

func (c *Client) buildRequestBody(ep Endpoint, prompt string, opts CallOptions) []byte {
	req := generateRequest{Prompt: prompt}

	req.Temperature = ep.Temperature
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	req.MaxOutputTokens = ep.MaxTokens
	if opts.MaxOutputTokens > 0 {
		req.MaxOutputTokens = opts.MaxOutputTokens
	}

	body, _ := json.Marshal(req)
	return body
}

// doAttempt issues a single HTTP attempt under its own deadline.
func (c *Client) doAttempt(ctx context.Context, ep Endpoint, body []byte) (string, *CallError) {
	attemptCtx, cancel := context.WithTimeout(ctx, config.GetDuration(c.cfg.Timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, ep.BaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", &CallError{
			Class:     ClassBadRequest,
			Backend:   ep.ID,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := ClassGeneric
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded {
			class = ClassTimeout
		}
		return "", &CallError{
			Class:     class,
			Backend:   ep.ID,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		ce := &CallError{
			Class:      ClassifyStatus(resp.StatusCode),
			Backend:    ep.ID,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			Timestamp:  time.Now().UTC(),
		}
		if ce.Class == ClassRateLimited {
			ce.RetryAfter = c.retryAfter(resp)
		}
		return "", ce
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", &CallError{
			Class:      ClassGeneric,
			Backend:    ep.ID,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("decode response: %v", err),
			Timestamp:  time.Now().UTC(),
		}
	}
	return genResp.Text, nil
}

// retryAfter reads the Retry-After header, falling back to the
// configured cool-down.
func (c *Client) retryAfter(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return config.GetDuration(c.cfg.CoolDown)
}
