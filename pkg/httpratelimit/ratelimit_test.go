/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpratelimit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type testRT struct {
	responses []*http.Response
	mu        sync.Mutex
	callCount int
	bodies    []string
}

func (t *testRT) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		t.bodies = append(t.bodies, string(b))
	}
	if t.callCount >= len(t.responses) {
		return nil, fmt.Errorf("no more responses")
	}
	resp := t.responses[t.callCount]
	t.callCount++
	return resp, nil
}

func TestTransport_Throttling(t *testing.T) {
	defaultRetryAfter := 200 * time.Millisecond

	tests := []struct {
		name           string
		responses      []*http.Response
		expectedCalls  int
		expectedStatus int
		expectedWait   time.Duration
	}{{
		name:           "Not throttled",
		responses:      []*http.Response{{StatusCode: http.StatusAccepted}},
		expectedCalls:  1,
		expectedStatus: http.StatusAccepted,
	}, {
		name: "Retry-After on 429",
		responses: []*http.Response{{
			StatusCode: http.StatusTooManyRequests,
			Header:     http.Header{HeaderRetryAfter: {"1"}},
		}, {
			StatusCode: http.StatusAccepted,
		}},
		expectedCalls:  2,
		expectedWait:   time.Second,
		expectedStatus: http.StatusAccepted,
	}, {
		name: "503 without headers uses the default retry-after",
		responses: []*http.Response{{
			StatusCode: http.StatusServiceUnavailable,
			Header:     http.Header{},
		}, {
			StatusCode: http.StatusAccepted,
		}},
		expectedCalls:  2,
		expectedWait:   defaultRetryAfter,
		expectedStatus: http.StatusAccepted,
	}, {
		name: "Unparseable Retry-After uses the default",
		responses: []*http.Response{{
			StatusCode: http.StatusTooManyRequests,
			Header:     http.Header{HeaderRetryAfter: {"soon"}},
		}, {
			StatusCode: http.StatusAccepted,
		}},
		expectedCalls:  2,
		expectedWait:   defaultRetryAfter,
		expectedStatus: http.StatusAccepted,
	}, {
		name:           "Client errors are not retried",
		responses:      []*http.Response{{StatusCode: http.StatusBadRequest}},
		expectedCalls:  1,
		expectedStatus: http.StatusBadRequest,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseTime := time.Now()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			trt := &testRT{responses: tt.responses}
			client := &http.Client{Transport: NewTransport(trt, defaultRetryAfter)}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://ingress.local/", strings.NewReader("event"))
			if err != nil {
				t.Fatalf("failed to create request: %v", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("failed to make request: %v", err)
			}
			elapsed := time.Since(baseTime)

			if resp.StatusCode != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, resp.StatusCode)
			}
			if trt.callCount != tt.expectedCalls {
				t.Fatalf("expected %d calls, got %d", tt.expectedCalls, trt.callCount)
			}
			for i, b := range trt.bodies {
				if b != "event" {
					t.Errorf("attempt %d sent body %q", i, b)
				}
			}

			// Apply some buffer to account for timing variations
			if tt.expectedWait == 0 {
				if elapsed > 100*time.Millisecond {
					t.Fatalf("expected no significant wait, but got %s", elapsed)
				}
			} else {
				buffer := tt.expectedWait / 4
				if elapsed < tt.expectedWait-buffer || elapsed > tt.expectedWait+buffer {
					t.Fatalf("expected wait time around %s, got %s", tt.expectedWait, elapsed)
				}
			}
		})
	}
}

func TestTransport_GivesUp(t *testing.T) {
	responses := make([]*http.Response, DefaultMaxRetries+1)
	for i := range responses {
		responses[i] = &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Header:     http.Header{},
		}
	}
	trt := &testRT{responses: responses}
	transport := NewTransport(trt, time.Millisecond)

	req, err := http.NewRequest(http.MethodGet, "http://ingress.local/", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() = %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", resp.StatusCode)
	}
	if trt.callCount != DefaultMaxRetries+1 {
		t.Errorf("expected %d calls, got %d", DefaultMaxRetries+1, trt.callCount)
	}
}

func TestTransport_ContextCanceledWhilePaused(t *testing.T) {
	trt := &testRT{responses: []*http.Response{{StatusCode: http.StatusAccepted}}}
	transport := NewTransport(trt, time.Minute)
	transport.limiter.PauseFor(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://ingress.local/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := transport.RoundTrip(req); err == nil {
		t.Fatal("RoundTrip() succeeded while paused")
	}
	if trt.callCount != 0 {
		t.Errorf("expected no calls, got %d", trt.callCount)
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(nil)
	if client == nil {
		t.Fatal("expected non-nil client")
	}

	transport, ok := client.Transport.(*Transport)
	if !ok {
		t.Fatal("expected transport to be *Transport")
	}
	if transport.defaultRetryAfter != time.Second {
		t.Fatalf("expected default retry after to be 1 second, got %v", transport.defaultRetryAfter)
	}
}

func TestLimiter_ConcurrentPause(t *testing.T) {
	l := &limiter{}

	var wg sync.WaitGroup
	for _, d := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 50 * time.Millisecond} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.PauseFor(d)
		}()
	}
	wg.Wait()

	// The longest pause should win
	expectedPauseUntil := time.Now().Add(200 * time.Millisecond)
	l.mu.Lock()
	actualPauseUntil := l.pauseUntil
	l.mu.Unlock()

	diff := actualPauseUntil.Sub(expectedPauseUntil)
	if diff < -50*time.Millisecond || diff > 50*time.Millisecond {
		t.Fatalf("expected pause until around %v, got %v (diff: %v)", expectedPauseUntil, actualPauseUntil, diff)
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		preset   string
		delay    time.Duration
		expected string
	}{
		{name: "429", status: http.StatusTooManyRequests, delay: 1500 * time.Millisecond, expected: "2"},
		{name: "503", status: http.StatusServiceUnavailable, delay: 5 * time.Second, expected: "5"},
		{name: "sub-second rounds up", status: http.StatusTooManyRequests, delay: time.Millisecond, expected: "1"},
		{name: "handler value wins", status: http.StatusTooManyRequests, preset: "30", delay: time.Second, expected: "30"},
		{name: "accepted", status: http.StatusAccepted, delay: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RetryAfter(tt.delay)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.preset != "" {
					w.Header().Set(HeaderRetryAfter, tt.preset)
				}
				w.WriteHeader(tt.status)
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			if rec.Code != tt.status {
				t.Errorf("status: expected %d, got %d", tt.status, rec.Code)
			}
			if got := rec.Header().Get(HeaderRetryAfter); got != tt.expected {
				t.Errorf("Retry-After: expected %q, got %q", tt.expected, got)
			}
		})
	}
}
