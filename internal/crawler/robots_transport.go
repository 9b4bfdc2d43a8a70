package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// RobotsTransport retries robots.txt fetches that fail with a timeout. When
// every attempt times out it answers with an allow-all file so a flaky TLS
// handshake on one host does not stall its jobs. Other requests pass through.
type RobotsTransport struct {
	Base    http.RoundTripper
	Backoff []time.Duration
	// OnFallback, when set, is told about every synthesized allow-all answer.
	OnFallback func(host string)
}

// NewRobotsClient returns a client for RobotsEnforcer using RobotsTransport.
func NewRobotsClient(timeout time.Duration, onFallback func(host string)) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &RobotsTransport{OnFallback: onFallback},
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RobotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport: %w", err)
		}
		return resp, nil
	}
	backoff := t.Backoff
	if backoff == nil {
		backoff = defaultRobotsBackoff
	}
	for attempt := 0; ; attempt++ {
		resp, err := base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, fmt.Errorf("fetch robots: %w", err)
		}
		if attempt == len(backoff) {
			if t.OnFallback != nil {
				t.OnFallback(req.URL.Host)
			}
			return allowAllResponse(req), nil
		}
		if err := sleepCtx(req.Context(), backoff[attempt]); err != nil {
			return nil, err
		}
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
