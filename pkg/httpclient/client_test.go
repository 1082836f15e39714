package httpclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(server *httptest.Server, retries int) *Client {
	return New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(retries),
		WithBaseDelay(time.Millisecond),
		WithHeaderParser(ParseOpenAIRateLimitHeaders),
	)
}

func TestDoSuccessNoRetry(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, err := newTestClient(server, 3).Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, err := newTestClient(server, 3).Do(req)
	if err != nil {
		t.Fatalf("Do failed after retries: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected eventual 200, got %d", resp.StatusCode)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestDoNoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, err := newTestClient(server, 3).Do(req)
	if err == nil {
		t.Fatal("expected error for 400")
	}
	if resp != nil {
		resp.Body.Close()
	}
	if hits.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", hits.Load())
	}
}

func TestDoExhaustedRetriesReturnRetryableError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL, nil)
	resp, err := newTestClient(server, 0).Do(req)
	if resp != nil {
		resp.Body.Close()
	}

	var retryErr *RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryableError, got %T: %v", err, err)
	}
	if retryErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("unexpected status in error: %d", retryErr.StatusCode)
	}
	if retryErr.RetryAfter <= 0 {
		t.Error("RetryAfter hint lost")
	}
}

func TestDoReplaysBodyOnRetry(t *testing.T) {
	var hits atomic.Int32
	var lastBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastBody, _ = io.ReadAll(r.Body)
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	payload := []byte(`{"model":"test"}`)
	req, _ := http.NewRequest("POST", server.URL, bytes.NewReader(payload))
	resp, err := newTestClient(server, 2).Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	resp.Body.Close()

	if hits.Load() != 2 {
		t.Fatalf("expected a retry, got %d attempts", hits.Load())
	}
	if !bytes.Equal(lastBody, payload) {
		t.Errorf("retried request body = %q, want %q", lastBody, payload)
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		status int
		want   RetryStrategy
	}{
		{http.StatusOK, NoRetry},
		{http.StatusBadRequest, NoRetry},
		{http.StatusUnauthorized, NoRetry},
		{http.StatusRequestTimeout, ConservativeRetry},
		{http.StatusInternalServerError, ConservativeRetry},
		{http.StatusBadGateway, ConservativeRetry},
		{http.StatusTooManyRequests, SmartRetry},
		{http.StatusServiceUnavailable, SmartRetry},
	}

	for _, tt := range tests {
		if got := DefaultRetryStrategy(tt.status); got != tt.want {
			t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseOpenAIRateLimitHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "5")
	headers.Set("x-ratelimit-reset-tokens", "6m0s")
	headers.Set("x-ratelimit-remaining-requests", "12")
	headers.Set("x-ratelimit-remaining-tokens", "9000")

	info := ParseOpenAIRateLimitHeaders(headers)

	if info.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %v", info.RetryAfter)
	}
	if info.RequestsRemaining != 12 || info.TokensRemaining != 9000 {
		t.Errorf("remaining counts lost: %+v", info)
	}

	wantReset := time.Now().Add(6 * time.Minute).Unix()
	if diff := info.ResetTime - wantReset; diff < -2 || diff > 2 {
		t.Errorf("ResetTime = %d, want about %d", info.ResetTime, wantReset)
	}
}

func TestParseOpenAIRateLimitHeadersEmpty(t *testing.T) {
	info := ParseOpenAIRateLimitHeaders(http.Header{})
	if info != (RateLimitInfo{}) {
		t.Errorf("expected zero info, got %+v", info)
	}
}

func TestCalculateDelayConservativeGivesUp(t *testing.T) {
	c := New(WithBaseDelay(time.Millisecond))

	if d := c.calculateDelay(ConservativeRetry, 0, RateLimitInfo{}); d <= 0 {
		t.Error("first conservative retry needs a delay")
	}
	if d := c.calculateDelay(ConservativeRetry, 2, RateLimitInfo{}); d != 0 {
		t.Errorf("conservative strategy must stop after two attempts, got %v", d)
	}
	if d := c.calculateDelay(NoRetry, 0, RateLimitInfo{}); d != 0 {
		t.Errorf("NoRetry must not delay, got %v", d)
	}
}

func TestCalculateDelaySmartHonorsHints(t *testing.T) {
	c := New(WithBaseDelay(time.Millisecond))

	if d := c.calculateDelay(SmartRetry, 0, RateLimitInfo{RetryAfter: 7 * time.Second}); d != 7*time.Second {
		t.Errorf("RetryAfter hint ignored: %v", d)
	}

	reset := time.Now().Add(3 * time.Second).Unix()
	d := c.calculateDelay(SmartRetry, 0, RateLimitInfo{ResetTime: reset})
	if d <= 0 || d > 4*time.Second {
		t.Errorf("reset hint produced %v", d)
	}

	// Without hints: exponential backoff with jitter on top.
	d = c.calculateDelay(SmartRetry, 3, RateLimitInfo{})
	if d < 8*time.Millisecond {
		t.Errorf("backoff too small for attempt 3: %v", d)
	}
}
