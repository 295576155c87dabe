package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Retry Configuration
// =============================================================================

// RetryConfig configures retry behavior for outbound calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call.
	MaxRetries int
	// InitialBackoff is the first backoff duration.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64
	// RetryableStatusCodes are HTTP status codes that should be retried.
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns the retry policy used against the Supabase APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusRequestTimeout,      // 408
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
		},
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if len(c.RetryableStatusCodes) == 0 {
		c.RetryableStatusCodes = d.RetryableStatusCodes
	}
	return c
}

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the optional circuit breaker guard.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state to close.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// circuitBreaker tracks consecutive failures across attempts so a dead
// backend stops consuming the caller's latency budget.
type circuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig

	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

func newCircuitBreaker(config CircuitBreakerConfig) *circuitBreaker {
	return &circuitBreaker{config: config, state: CircuitClosed}
}

func (cb *circuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.openedAt) > cb.config.Timeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
			cb.openedAt = time.Now()
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

func (cb *circuitBreaker) currentState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// =============================================================================
// Resilient HTTP Client
// =============================================================================

// Response is the raw result of an API call.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// HTTPError represents a terminal HTTP-level failure after retries.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return http.StatusText(e.StatusCode)
}

// ResilientClient wraps an HTTP client with per-attempt timeouts, bounded
// retry with exponential backoff, and an optional circuit breaker.
type ResilientClient struct {
	client         *http.Client
	retry          RetryConfig
	attemptTimeout time.Duration
	breaker        *circuitBreaker

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	retriedRequests int64
}

// ResilientClientConfig configures the resilient client.
type ResilientClientConfig struct {
	// BaseClient is the underlying HTTP client. A pooled default is used
	// when nil. The base client must not set its own Timeout; the per-attempt
	// timeout is enforced here via context.
	BaseClient *http.Client
	// Retry configures retry behavior. Zero value means defaults.
	Retry RetryConfig
	// AttemptTimeout is the hard timeout applied to each attempt. A timed-out
	// attempt is classified as retryable. Defaults to 15s.
	AttemptTimeout time.Duration
	// CircuitBreaker enables the breaker guard when non-nil.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultAttemptTimeout is the hard per-attempt deadline for API calls.
const DefaultAttemptTimeout = 15 * time.Second

// NewResilientClient creates a new resilient HTTP client.
func NewResilientClient(cfg ResilientClientConfig) *ResilientClient {
	client := cfg.BaseClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		}
	}

	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout == 0 {
		attemptTimeout = DefaultAttemptTimeout
	}

	rc := &ResilientClient{
		client:         client,
		retry:          cfg.Retry.withDefaults(),
		attemptTimeout: attemptTimeout,
	}
	if cfg.CircuitBreaker != nil {
		rc.breaker = newCircuitBreaker(*cfg.CircuitBreaker)
	}
	return rc
}

// Do executes the request, retrying transient failures. The final failure is
// never swallowed: after retries are exhausted the last error propagates.
func (rc *ResilientClient) Do(req *http.Request) (*Response, error) {
	atomic.AddInt64(&rc.totalRequests, 1)

	if rc.breaker != nil {
		if err := rc.breaker.allow(); err != nil {
			atomic.AddInt64(&rc.failedRequests, 1)
			return nil, err
		}
	}

	parent := req.Context()

	var lastErr error
	for attempt := 0; attempt <= rc.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&rc.retriedRequests, 1)

			select {
			case <-parent.Done():
				return nil, parent.Err()
			case <-time.After(rc.calculateBackoff(attempt)):
			}
		}

		resp, err := rc.attempt(parent, req)
		if err != nil {
			lastErr = err
			if rc.isRetryableError(parent, err) {
				continue
			}
			rc.recordFailure()
			return nil, err
		}

		if rc.isRetryableStatusCode(resp.StatusCode) {
			lastErr = &HTTPError{StatusCode: resp.StatusCode}
			continue
		}

		rc.recordSuccess()
		return resp, nil
	}

	rc.recordFailure()
	return nil, lastErr
}

// attempt runs one request under the per-attempt timeout and drains the body
// so the response is fully owned by the caller.
func (rc *ResilientClient) attempt(parent context.Context, req *http.Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(parent, rc.attemptTimeout)
	defer cancel()

	r := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}

	httpResp, err := rc.client.Do(r)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

func (rc *ResilientClient) recordSuccess() {
	atomic.AddInt64(&rc.successRequests, 1)
	if rc.breaker != nil {
		rc.breaker.recordSuccess()
	}
}

func (rc *ResilientClient) recordFailure() {
	atomic.AddInt64(&rc.failedRequests, 1)
	if rc.breaker != nil {
		rc.breaker.recordFailure()
	}
}

func (rc *ResilientClient) calculateBackoff(attempt int) time.Duration {
	backoff := float64(rc.retry.InitialBackoff) * math.Pow(rc.retry.BackoffMultiplier, float64(attempt-1))

	if backoff > float64(rc.retry.MaxBackoff) {
		backoff = float64(rc.retry.MaxBackoff)
	}

	if rc.retry.Jitter > 0 {
		jitter := backoff * rc.retry.Jitter * (rand.Float64()*2 - 1)
		backoff += jitter
	}

	return time.Duration(backoff)
}

// isRetryableError classifies transport-level failures. A per-attempt timeout
// is retryable; cancellation of the caller's context is not.
func (rc *ResilientClient) isRetryableError(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	// The per-attempt context expired while the parent is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

func (rc *ResilientClient) isRetryableStatusCode(code int) bool {
	for _, retryable := range rc.retry.RetryableStatusCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

// CircuitState returns the current breaker state. A disabled breaker reports
// CircuitClosed.
func (rc *ResilientClient) CircuitState() CircuitState {
	if rc.breaker == nil {
		return CircuitClosed
	}
	return rc.breaker.currentState()
}

// Metrics returns request counters for telemetry export.
func (rc *ResilientClient) Metrics() map[string]int64 {
	return map[string]int64{
		"total_requests":   atomic.LoadInt64(&rc.totalRequests),
		"success_requests": atomic.LoadInt64(&rc.successRequests),
		"failed_requests":  atomic.LoadInt64(&rc.failedRequests),
		"retried_requests": atomic.LoadInt64(&rc.retriedRequests),
	}
}
