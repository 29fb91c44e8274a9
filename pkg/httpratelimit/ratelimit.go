/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package httpratelimit carries worker pool backpressure over HTTP. Servers
// advertise when to come back with Retry-After, and clients pause every
// request until then.
package httpratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/time/rate"
)

// HeaderRetryAfter indicates how many seconds to wait before retrying.
// https://www.rfc-editor.org/rfc/rfc9110#field.retry-after
const HeaderRetryAfter = "Retry-After"

// DefaultMaxRetries bounds how often a single request is replayed.
const DefaultMaxRetries = 5

// throttled reports whether status asks the client to back off.
func throttled(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// RetryAfter returns middleware that adds a Retry-After header of d, rounded
// up to whole seconds, to throttled responses that don't already carry one.
func RetryAfter(d time.Duration) func(http.Handler) http.Handler {
	secs := strconv.Itoa(max(1, int(math.Ceil(d.Seconds()))))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&retryAfterWriter{ResponseWriter: w, value: secs}, r)
		})
	}
}

type retryAfterWriter struct {
	http.ResponseWriter
	value string
}

func (w *retryAfterWriter) WriteHeader(status int) {
	if throttled(status) && w.Header().Get(HeaderRetryAfter) == "" {
		w.Header().Set(HeaderRetryAfter, w.value)
	}
	w.ResponseWriter.WriteHeader(status)
}

// Transport wraps an http.RoundTripper and honors throttled responses: every
// request through it is paused for the advertised time, and the throttled
// request is replayed.
type Transport struct {
	base              http.RoundTripper
	limiter           *limiter
	defaultRetryAfter time.Duration
	maxRetries        int
}

// NewTransport creates a new rate limiting transport wrapper.
// The defaultRetryAfter specifies how long to wait when throttled but no
// Retry-After header is provided (defaults to 1 second).
func NewTransport(base http.RoundTripper, defaultRetryAfter time.Duration) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if defaultRetryAfter == 0 {
		defaultRetryAfter = time.Second
	}

	return &Transport{
		base: base,
		limiter: &limiter{
			base: rate.NewLimiter(rate.Inf, 100),
		},
		defaultRetryAfter: defaultRetryAfter,
		maxRetries:        DefaultMaxRetries,
	}
}

// NewClient creates a new HTTP client with rate limiting enabled.
func NewClient(base http.RoundTripper) *http.Client {
	return &http.Client{
		Transport: NewTransport(base, time.Second),
	}
}

// SetLimit caps the steady request rate, independent of any pause.
func (rt *Transport) SetLimit(r rate.Limit, burst int) {
	rt.limiter.base.SetLimit(r)
	rt.limiter.base.SetBurst(burst)
}

// RoundTrip implements http.RoundTripper.
func (rt *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for attempt := 0; ; attempt++ {
		if err := rt.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := rt.base.RoundTrip(req)
		if err != nil || !throttled(resp.StatusCode) {
			return resp, err
		}

		rt.limiter.PauseFor(rt.pause(ctx, resp))
		if attempt >= rt.maxRetries {
			return resp, nil
		}
		if req.Body != nil && req.Body != http.NoBody {
			// A consumed body can only be replayed if it can be recreated.
			if req.GetBody == nil {
				return resp, nil
			}
			body, err := req.GetBody()
			if err != nil {
				return resp, nil
			}
			req = req.Clone(ctx)
			req.Body = body
		}
		if resp.Body != nil {
			resp.Body.Close()
		}
	}
}

// pause returns how long to hold requests after a throttled response.
func (rt *Transport) pause(ctx context.Context, resp *http.Response) time.Duration {
	log := clog.FromContext(ctx)

	if v := resp.Header.Get(HeaderRetryAfter); v != "" {
		seconds, err := strconv.Atoi(v)
		if err == nil && seconds > 0 {
			d := time.Duration(seconds) * time.Second
			log.With("status", resp.StatusCode, "retry_after", d).Warn("server is throttling, pausing requests")
			return d
		}
		log.Warnf("Failed to parse retry-after header %q: %v", v, err)
	}

	log.With("status", resp.StatusCode, "retry_after", rt.defaultRetryAfter).
		Warn("server is throttling (no headers), using default pause")
	return rt.defaultRetryAfter
}

// limiter provides a pausable rate limiter that can temporarily block all requests.
type limiter struct {
	base       *rate.Limiter
	mu         sync.Mutex
	pauseUntil time.Time
	pauseCh    chan struct{}
}

// Wait blocks until the limiter allows a request to proceed.
// It respects both the underlying rate limiter and any active pause.
func (l *limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		pauseCh := l.pauseCh
		l.mu.Unlock()
		if pauseCh == nil {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pauseCh:
		}
	}

	return l.base.Wait(ctx)
}

// PauseFor pauses all requests for the specified duration.
// If already paused, extends the pause only if the new duration is longer.
func (l *limiter) PauseFor(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := time.Now().Add(d)

	if !until.After(l.pauseUntil) {
		return
	}
	l.pauseUntil = until

	// Waiters on the old pause re-check against the new one.
	if l.pauseCh != nil {
		close(l.pauseCh)
	}
	l.pauseCh = make(chan struct{})

	go func(ch chan struct{}) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		<-timer.C

		l.mu.Lock()
		defer l.mu.Unlock()
		if ch == l.pauseCh {
			close(ch)
			l.pauseCh = nil
			l.pauseUntil = time.Time{}
		}
	}(l.pauseCh)
}
