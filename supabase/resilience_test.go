package supabase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryableStatusCodes: []int{
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 10*time.Second {
		t.Errorf("MaxBackoff = %v, want 10s", cfg.MaxBackoff)
	}
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		found := false
		for _, c := range cfg.RetryableStatusCodes {
			if c == code {
				found = true
			}
		}
		if !found {
			t.Errorf("RetryableStatusCodes missing %d", code)
		}
	}
}

func TestResilientClient_Do_Success(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rc := NewResilientClient(ResilientClientConfig{Retry: fastRetryConfig(3)})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := rc.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func TestResilientClient_Do_NonRetryableNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	rc := NewResilientClient(ResilientClientConfig{Retry: fastRetryConfig(3)})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := rc.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server saw %d calls, want exactly 1 (404 must not be retried)", got)
	}
}

func TestResilientClient_Do_RetryableRetriedToCap(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rc := NewResilientClient(ResilientClientConfig{Retry: fastRetryConfig(3)})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	_, err := rc.Do(req)
	if err == nil {
		t.Fatal("Do() error = nil, want terminal failure after retries")
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("error type = %T, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", httpErr.StatusCode)
	}
	// 1 initial attempt + 3 retries.
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("server saw %d calls, want 4", got)
	}
}

func TestResilientClient_Do_RecoversMidway(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rc := NewResilientClient(ResilientClientConfig{Retry: fastRetryConfig(3)})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := rc.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestResilientClient_Do_BodyReplayedOnRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"k":"v"}` {
			t.Errorf("attempt %d body = %q", atomic.LoadInt32(&calls), body)
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rc := NewResilientClient(ResilientClientConfig{Retry: fastRetryConfig(3)})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"k":"v"}`))
	resp, err := rc.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
}

func TestResilientClient_Do_AttemptTimeoutRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(100 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rc := NewResilientClient(ResilientClientConfig{
		Retry:          fastRetryConfig(2),
		AttemptTimeout: 20 * time.Millisecond,
	})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := rc.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Errorf("server saw %d calls, want timeout retry", got)
	}
}

func TestResilientClient_Do_CallerCancellationNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rc := NewResilientClient(ResilientClientConfig{Retry: fastRetryConfig(3)})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if _, err := rc.Do(req); err == nil {
		t.Fatal("Do() error = nil, want cancellation error")
	}

	if retried := rc.Metrics()["retried_requests"]; retried != 0 {
		t.Errorf("retried_requests = %d, want 0 after caller cancellation", retried)
	}
}

func TestResilientClient_Metrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rc := NewResilientClient(ResilientClientConfig{Retry: fastRetryConfig(1)})

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	if _, err := rc.Do(req); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	m := rc.Metrics()
	if m["total_requests"] != 1 {
		t.Errorf("total_requests = %d, want 1", m["total_requests"])
	}
	if m["success_requests"] != 1 {
		t.Errorf("success_requests = %d, want 1", m["success_requests"])
	}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	cb.recordFailure()
	cb.recordFailure()
	if cb.currentState() != CircuitOpen {
		t.Fatalf("state = %v, want open", cb.currentState())
	}
	if err := cb.allow(); err == nil {
		t.Error("allow() = nil while open, want ErrCircuitOpen")
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.allow(); err != nil {
		t.Fatalf("allow() after timeout = %v, want probe allowed", err)
	}
	if cb.currentState() != CircuitHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.currentState())
	}

	cb.recordSuccess()
	if cb.currentState() != CircuitClosed {
		t.Errorf("state = %v, want closed", cb.currentState())
	}
}

func TestCircuitState_String(t *testing.T) {
	testCases := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}

	for _, tc := range testCases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("String() = %s, want %s", got, tc.want)
		}
	}
}
