package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

func newTestClient(maxAttempts int) *Client {
	c := New(Options{
		MaxAttempts: maxAttempts,
		Backoff:     time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
	})
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestFetchSuccess(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page",
		httpmock.NewStringResponder(200, "hello"))

	c := newTestClient(3)
	c.SetTransport(transport)

	body, err := c.Fetch(context.Background(), "http://example.test/page")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
	if calls := transport.GetTotalCallCount(); calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var mu sync.Mutex
	calls := 0
	transport.RegisterResponder("GET", "http://example.test/flaky",
		func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n < 3 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
			}
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	c := newTestClient(3)
	c.SetTransport(transport)

	body, err := c.Fetch(context.Background(), "http://example.test/flaky")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestFetchExhaustsAttempts(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/gone",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	c := newTestClient(3)
	c.SetTransport(transport)

	_, err := c.Fetch(context.Background(), "http://example.test/gone")
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	var notFound ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("error %v should classify as not_found", err)
	}
	if calls := transport.GetTotalCallCount(); calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestFetchStopsOnContextCancel(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/slow",
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	c := New(Options{MaxAttempts: 5, Backoff: time.Millisecond})
	c.SetTransport(transport)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Fetch(ctx, "http://example.test/slow")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDelayExponentialAndCapped(t *testing.T) {
	c := New(Options{
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
		BackoffMax:  500 * time.Millisecond,
	})

	tests := []struct {
		n    int
		want time.Duration
	}{
		{n: 0, want: 100 * time.Millisecond},
		{n: 1, want: 200 * time.Millisecond},
		{n: 2, want: 400 * time.Millisecond},
		{n: 3, want: 500 * time.Millisecond}, // capped
	}
	for _, tt := range tests {
		if got := c.delay(tt.n); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorLabel(Classify(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("Classify(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}
