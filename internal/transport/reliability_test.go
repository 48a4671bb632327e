package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
)

func flakyServer(t *testing.T, failures int32, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n <= failures {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newWrapper(srv *httptest.Server, cfg infra.TransportConfig) *ReliabilityWrapper {
	w := NewReliabilityWrapper(NewHTTPTransport(Options{BaseURL: srv.URL, Timeout: time.Second}), cfg, nil, nil)
	w.retryDelay = time.Millisecond
	return w
}

func TestRetryIdempotentGetOnce(t *testing.T) {
	srv, hits := flakyServer(t, 1, http.StatusServiceUnavailable)
	w := newWrapper(srv, infra.TransportConfig{RetryIdempotent: true})

	resp, err := w.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathHealth})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected retried request to succeed, got %d", resp.StatusCode)
	}
	if atomic.LoadInt32(hits) != 2 {
		t.Errorf("expected 2 attempts, got %d", atomic.LoadInt32(hits))
	}
}

func TestRetryAtMostOneExtraAttempt(t *testing.T) {
	srv, hits := flakyServer(t, 10, http.StatusBadGateway)
	w := newWrapper(srv, infra.TransportConfig{RetryIdempotent: true})

	resp, err := w.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathAgents})
	if err != nil {
		t.Fatalf("5xx must reach the decoder as a response, got %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if atomic.LoadInt32(hits) != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", atomic.LoadInt32(hits))
	}
}

func TestNoRetryForPost(t *testing.T) {
	srv, hits := flakyServer(t, 1, http.StatusServiceUnavailable)
	w := newWrapper(srv, infra.TransportConfig{RetryIdempotent: true})

	resp, err := w.Send(context.Background(), &Request{Method: http.MethodPost, Path: infra.PathCheck, Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("POST must not be retried, got %d attempts", atomic.LoadInt32(hits))
	}
}

func TestNoRetryByDefault(t *testing.T) {
	srv, hits := flakyServer(t, 1, http.StatusServiceUnavailable)
	w := newWrapper(srv, infra.TransportConfig{})

	if _, err := w.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathHealth}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("retry must be off by default, got %d attempts", atomic.LoadInt32(hits))
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	srv, hits := flakyServer(t, 1, http.StatusNotFound)
	w := newWrapper(srv, infra.TransportConfig{RetryIdempotent: true})

	resp, err := w.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathAgents})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || atomic.LoadInt32(hits) != 1 {
		t.Errorf("4xx must not be retried: status %d, attempts %d", resp.StatusCode, atomic.LoadInt32(hits))
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	srv, hits := flakyServer(t, 100, http.StatusInternalServerError)
	w := newWrapper(srv, infra.TransportConfig{
		CBEnabled:  true,
		CBFailures: 3,
		CBTimeout:  time.Minute,
	})

	for i := 0; i < 3; i++ {
		if _, err := w.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathHealth}); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	_, err := w.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathHealth})
	var conn *domain.ConnectionError
	if !errors.As(err, &conn) {
		t.Fatalf("expected ConnectionError from open breaker, got %v", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Error("expected gobreaker.ErrOpenState in chain")
	}
	if atomic.LoadInt32(hits) != 3 {
		t.Errorf("open breaker must not reach the gateway, got %d hits", atomic.LoadInt32(hits))
	}
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	srv, hits := flakyServer(t, 100, http.StatusForbidden)
	w := newWrapper(srv, infra.TransportConfig{CBEnabled: true, CBFailures: 2, CBTimeout: time.Minute})

	for i := 0; i < 5; i++ {
		if _, err := w.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathAgents}); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if atomic.LoadInt32(hits) != 5 {
		t.Errorf("4xx must not trip the breaker, got %d hits", atomic.LoadInt32(hits))
	}
}

func TestRateLimiterRejectsPastDeadline(t *testing.T) {
	srv, _ := flakyServer(t, 0, http.StatusOK)
	w := newWrapper(srv, infra.TransportConfig{RateLimit: 0.001, RateBurst: 1})

	if _, err := w.Send(context.Background(), &Request{Method: http.MethodGet, Path: infra.PathHealth}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := w.Send(ctx, &Request{Method: http.MethodGet, Path: infra.PathHealth})

	var limited *domain.RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
}
