// Package fetcher performs HTTP GETs with bounded retries and exponential
// backoff. A fetch that exhausts its attempts returns an error the caller
// treats as "skip this unit of work", never as a fatal condition.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Observer receives fetch telemetry. All methods must tolerate concurrent use.
type Observer interface {
	FetchStarted(phase string)
	FetchSucceeded(d time.Duration)
	FetchRetried()
	FetchFailed(category string)
}

// Result is a fetched response body plus the headers callers care about.
type Result struct {
	Body        []byte
	ContentType string
	StatusCode  int
}

// Options configures a Client.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	BackoffMax  time.Duration
	Observer    Observer
}

// Client issues resilient GET requests.
type Client struct {
	http        *http.Client
	userAgent   string
	maxAttempts int
	backoff     time.Duration
	backoffMax  time.Duration
	observer    Observer

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a fetch client. Zero option fields fall back to safe defaults.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent:   opts.UserAgent,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		backoffMax:  opts.BackoffMax,
		observer:    opts.Observer,
		sleep:       sleepCtx,
	}
}

// SetTransport replaces the underlying round tripper. Used by tests.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.http.Transport = rt
}

// Fetch retrieves url and returns the response body.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := c.Do(ctx, url)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// Do retrieves url, retrying transport errors and non-2xx statuses with
// exponential backoff, and returns the body with response metadata.
func (c *Client) Do(ctx context.Context, url string) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			if c.observer != nil {
				c.observer.FetchRetried()
			}
			if err := c.sleep(ctx, c.delay(attempt-1)); err != nil {
				return nil, err
			}
		}

		res, err := c.get(ctx, url)
		if err == nil {
			return res, nil
		}
		lastErr = err

		category := ErrorLabel(err)
		if c.observer != nil {
			c.observer.FetchFailed(category)
		}
		slog.Warn("fetch attempt failed",
			slog.String("url", url),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.maxAttempts),
			slog.String("category", category),
			slog.Any("error", err),
		)
	}

	slog.Error("fetch failed after all attempts",
		slog.String("url", url),
		slog.Int("attempts", c.maxAttempts),
		slog.Any("error", lastErr),
	)
	return nil, fmt.Errorf("fetch %s after %d attempts: %w", url, c.maxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if c.observer != nil {
		c.observer.FetchStarted("get")
	}
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Classify(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, resp.Body)
		return nil, Classify(nil, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(fmt.Errorf("read body: %w", err), 0)
	}

	if c.observer != nil {
		c.observer.FetchSucceeded(time.Since(start))
	}
	return &Result{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

// delay computes the wait before retry n+1: backoff * 2^n, capped.
func (c *Client) delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := c.backoff * time.Duration(1<<n)
	if c.backoffMax > 0 && d > c.backoffMax {
		d = c.backoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
