// Package llm provides the HTTP decision provider backed by an
// Ollama-compatible completion endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arbiterhq/sentinel/internal/config"
	dec "github.com/arbiterhq/sentinel/internal/domain/decision"
	"github.com/arbiterhq/sentinel/internal/resilience"
)

// Client talks to the completion API and implements the decision provider
// port. Every call is bounded by the configured timeout, retried a fixed
// number of times, and guarded by a circuit breaker plus a rolling-window
// rate limiter so a degraded model server cannot absorb the whole system.
type Client struct {
	baseURL       string
	model         string
	retryAttempts int
	retryDelay    time.Duration
	httpClient    *http.Client
	breaker       *resilience.Breaker
	limiter       *resilience.Limiter

	sleep func(context.Context, time.Duration) error // for testing
}

// NewClient creates a client from config.
func NewClient(cfg config.LLM, breaker *resilience.Breaker, limiter *resilience.Limiter) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		model:         cfg.Model,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: breaker,
		limiter: limiter,
		sleep:   sleepCtx,
	}
}

// Name implements the provider port.
func (c *Client) Name() string { return "llm" }

// generateRequest is the completion API request body.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

// generateResponse is the completion API response body.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Decide asks the model for a recommendation. Failures come back typed so
// the chain can fall back without inspecting error strings.
func (c *Client) Decide(ctx context.Context, req dec.Request) (dec.Recommendation, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return dec.Recommendation{}, dec.Failure(dec.FailureRateLimited, c.Name(), errors.New("call budget exhausted for window"))
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	prompt := buildPrompt(req)

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
				return dec.Recommendation{}, dec.Failure(dec.FailureTimeout, c.Name(), err)
			}
		}

		rec, err := c.complete(ctx, prompt)
		if err == nil {
			rec.Source = c.Name()
			return rec, nil
		}
		lastErr = err

		// Malformed output and open circuits do not improve with
		// immediate retries against the same state.
		kind := dec.KindOf(err)
		if kind == dec.FailureMalformed || errors.Is(err, resilience.ErrCircuitOpen) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	if errors.Is(lastErr, resilience.ErrCircuitOpen) {
		return dec.Recommendation{}, dec.Failure(dec.FailureUnavailable, c.Name(), lastErr)
	}
	if dec.KindOf(lastErr) != "" {
		return dec.Recommendation{}, lastErr
	}
	return dec.Recommendation{}, dec.Failure(dec.FailureUnavailable, c.Name(), lastErr)
}

// complete performs one completion round trip through the breaker.
func (c *Client) complete(ctx context.Context, prompt string) (dec.Recommendation, error) {
	var rec dec.Recommendation
	call := func() error {
		body, err := json.Marshal(generateRequest{
			Model:  c.model,
			Prompt: prompt,
			Stream: false,
			Format: "json",
		})
		if err != nil {
			return dec.Failure(dec.FailureMalformed, c.Name(), err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return dec.Failure(dec.FailureUnavailable, c.Name(), err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil || isTimeout(err) {
				return dec.Failure(dec.FailureTimeout, c.Name(), err)
			}
			return dec.Failure(dec.FailureUnavailable, c.Name(), err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return dec.Failure(dec.FailureUnavailable, c.Name(), err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return dec.Failure(dec.FailureRateLimited, c.Name(), fmt.Errorf("status %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return dec.Failure(dec.FailureUnavailable, c.Name(), fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200)))
		}

		rec, err = parseRecommendation(data)
		return err
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return dec.Recommendation{}, err
		}
		return rec, nil
	}
	if err := call(); err != nil {
		return dec.Recommendation{}, err
	}
	return rec, nil
}

// parseRecommendation decodes the model output. The completion envelope
// wraps the actual JSON decision in a string field.
func parseRecommendation(data []byte) (dec.Recommendation, error) {
	var envelope generateResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return dec.Recommendation{}, dec.Failure(dec.FailureMalformed, "llm", fmt.Errorf("envelope: %w", err))
	}

	var rec dec.Recommendation
	if err := json.Unmarshal([]byte(envelope.Response), &rec); err != nil {
		return dec.Recommendation{}, dec.Failure(dec.FailureMalformed, "llm", fmt.Errorf("decision body: %w", err))
	}
	if rec.Action == "" {
		return dec.Recommendation{}, dec.Failure(dec.FailureMalformed, "llm", errors.New("missing action"))
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		return dec.Recommendation{}, dec.Failure(dec.FailureMalformed, "llm", fmt.Errorf("confidence %v out of range", rec.Confidence))
	}
	return rec, nil
}

// Probe checks liveness with a cheap request. Used by the availability
// health probe, never for decisions.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return nil
}

// buildPrompt renders the request context into the instruction prompt.
func buildPrompt(req dec.Request) string {
	var b strings.Builder
	b.WriteString("You are a system monitoring and remediation assistant. ")
	b.WriteString("Respond with a single JSON object with fields action, target, rationale, confidence (0..1).\n")
	fmt.Fprintf(&b, "Decision kind: %s\n", req.Kind)
	b.WriteString("Current situation:\n")

	data, err := json.MarshalIndent(req.Context, "", "  ")
	if err != nil {
		fmt.Fprintf(&b, "%v\n", req.Context)
	} else {
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(data []byte, n int) string {
	s := string(data)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
