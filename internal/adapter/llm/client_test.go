package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arbiterhq/sentinel/internal/config"
	dec "github.com/arbiterhq/sentinel/internal/domain/decision"
	"github.com/arbiterhq/sentinel/internal/resilience"
)

func testClient(url string) *Client {
	c := NewClient(config.LLM{
		URL:           url,
		Model:         "test-model",
		Timeout:       time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}, nil, nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func request() dec.Request {
	return dec.Request{Kind: "recommend_remediation", Context: map[string]any{"cpu_percent": 95.0}}
}

func TestDecideParsesRecommendation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"response":"{\"action\":\"restartService\",\"target\":\"svcA\",\"rationale\":\"cpu\",\"confidence\":0.9}","done":true}`))
	}))
	defer srv.Close()

	rec, err := testClient(srv.URL).Decide(context.Background(), request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Action != "restartService" || rec.Target != "svcA" || rec.Source != "llm" {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}

func TestDecideMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `garbage`},
		{"inner not json", `{"response":"not json","done":true}`},
		{"missing action", `{"response":"{\"target\":\"x\"}","done":true}`},
		{"confidence out of range", `{"response":"{\"action\":\"a\",\"confidence\":3}","done":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := testClient(srv.URL).Decide(context.Background(), request())
			if dec.KindOf(err) != dec.FailureMalformed {
				t.Fatalf("expected malformed failure, got %v", err)
			}
		})
	}
}

func TestDecideServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "oom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Decide(context.Background(), request())
	if dec.KindOf(err) != dec.FailureUnavailable {
		t.Fatalf("expected unavailable failure, got %v", err)
	}
}

func TestDecideRetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"{\"action\":\"none\",\"confidence\":1}","done":true}`))
	}))
	defer srv.Close()

	rec, err := testClient(srv.URL).Decide(context.Background(), request())
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if rec.Action != "none" {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}

func TestDecideTimeoutTyped(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(config.LLM{
		URL:           srv.URL,
		Model:         "test-model",
		Timeout:       50 * time.Millisecond,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	}, nil, nil)

	_, err := c.Decide(context.Background(), request())
	if dec.KindOf(err) != dec.FailureTimeout {
		t.Fatalf("expected timeout failure, got %v", err)
	}
}

func TestDecideRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"action\":\"none\",\"confidence\":1}","done":true}`))
	}))
	defer srv.Close()

	limiter := resilience.NewLimiter(1, time.Minute)
	c := NewClient(config.LLM{
		URL:           srv.URL,
		Model:         "test-model",
		Timeout:       time.Second,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	}, nil, limiter)

	if _, err := c.Decide(context.Background(), request()); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	_, err := c.Decide(context.Background(), request())
	if dec.KindOf(err) != dec.FailureRateLimited {
		t.Fatalf("expected rate-limited failure, got %v", err)
	}
}

func TestDecideOpenBreakerIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	breaker := resilience.NewBreaker(1, time.Minute)
	c := NewClient(config.LLM{
		URL:           srv.URL,
		Model:         "test-model",
		Timeout:       time.Second,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	}, breaker, nil)

	_, _ = c.Decide(context.Background(), request())

	_, err := c.Decide(context.Background(), request())
	if dec.KindOf(err) != dec.FailureUnavailable {
		t.Fatalf("expected unavailable while circuit open, got %v", err)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected probe path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testClient(srv.URL).Probe(context.Background()); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
}
