// Package scraper walks the paginated catalog and coordinates crawl runs.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mkotliar/bookcrawl/config"
	"github.com/mkotliar/bookcrawl/fetcher"
	"github.com/mkotliar/bookcrawl/media"
	"github.com/mkotliar/bookcrawl/models"
	"github.com/mkotliar/bookcrawl/parser"
)

// Walker traverses listing pages in order and extracts every book they link
// to. Listing pages go through the colly collector; detail pages and images
// go through the resilient fetch client.
type Walker struct {
	cfg       *config.Config
	client    *fetcher.Client
	acquirer  *media.Acquirer
	metrics   *Metrics
	collector *colly.Collector

	// links is filled by the OnHTML handler during a synchronous Visit, in
	// document order. Only the visiting goroutine touches it.
	links []string

	// sleep is swapped out in tests to avoid real politeness delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWalker builds a walker configured from cfg. acquirer may be nil when
// image downloads are disabled.
func NewWalker(cfg *config.Config, client *fetcher.Client, acquirer *media.Acquirer, metrics *Metrics) (*Walker, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout.Duration)
	// The demo target publishes no robots policy; politeness comes from the
	// configured delays instead.
	collector.IgnoreRobotsTxt = true

	w := &Walker{
		cfg:       cfg,
		client:    client,
		acquirer:  acquirer,
		metrics:   metrics,
		collector: collector,
		sleep:     sleepCtx,
	}

	collector.OnHTML("article.product_pod h3 a", func(e *colly.HTMLElement) {
		w.links = append(w.links, e.Request.AbsoluteURL(e.Attr("href")))
	})

	return w, nil
}

// SetTransport replaces the collector's HTTP transport, for tests.
func (w *Walker) SetTransport(rt http.RoundTripper) {
	w.collector.WithTransport(rt)
}

// Walk visits up to pages listing pages and extracts a record per linked
// detail page. A listing page that keeps failing after retries is skipped and
// counted; a failing item is dropped and counted. Walk returns early only
// when ctx is cancelled, with the partial result and the context error.
func (w *Walker) Walk(ctx context.Context, pages int) (*models.WalkResult, error) {
	if pages <= 0 {
		pages = w.cfg.MaxPages
	}

	result := &models.WalkResult{}

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if page > 1 {
			if err := w.sleep(ctx, w.cfg.PageDelay.Duration); err != nil {
				return result, err
			}
		}

		pageURL := w.pageURL(page)
		links, err := w.visitListing(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.PagesFailed++
			slog.Warn("listing page skipped",
				slog.String("url", pageURL),
				slog.Any("error", err),
			)
			continue
		}

		result.PagesVisited++
		w.metrics.IncPage()
		slog.Info("listing page visited",
			slog.String("url", pageURL),
			slog.Int("items", len(links)),
		)

		for i, link := range links {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if i > 0 {
				if err := w.sleep(ctx, w.cfg.ItemDelay.Duration); err != nil {
					return result, err
				}
			}

			rec, err := w.crawlItem(ctx, link)
			if err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.ItemsDropped++
				w.metrics.IncDropped()
				slog.Warn("item dropped",
					slog.String("url", link),
					slog.Any("error", err),
				)
				continue
			}

			result.Records = append(result.Records, rec)
			w.metrics.IncItem()
		}
	}

	return result, nil
}

// visitListing fetches one listing page with retries, returning the detail
// links it contains in document order.
func (w *Walker) visitListing(ctx context.Context, pageURL string) ([]string, error) {
	var lastErr error
	maxAttempts := w.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			w.metrics.FetchRetried()
			if err := w.sleep(ctx, w.retryDelay(attempt-1)); err != nil {
				return nil, err
			}
		}

		w.links = w.links[:0]
		w.metrics.FetchStarted("listing")
		start := time.Now()
		err := w.collector.Visit(pageURL)
		if err == nil {
			w.metrics.FetchSucceeded(time.Since(start))
			links := make([]string, len(w.links))
			copy(links, w.links)
			return links, nil
		}

		lastErr = err
		w.metrics.FetchFailed("listing")
		slog.Warn("listing fetch attempt failed",
			slog.String("url", pageURL),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}

	return nil, fmt.Errorf("visit %s after %d attempts: %w", pageURL, maxAttempts, lastErr)
}

// crawlItem fetches and extracts one detail page. A failed cover download
// keeps the record, just without image bytes.
func (w *Walker) crawlItem(ctx context.Context, detailURL string) (*models.Record, error) {
	body, err := w.client.Fetch(ctx, detailURL)
	if err != nil {
		return nil, err
	}

	rec, err := parser.ExtractDetail(body, detailURL)
	if err != nil {
		return nil, err
	}

	if w.acquirer != nil && rec.ImageURL != "" {
		img, err := w.acquirer.Acquire(ctx, rec.ImageURL)
		if err != nil {
			slog.Warn("cover download failed",
				slog.String("url", rec.ImageURL),
				slog.String("title", rec.Title),
				slog.Any("error", err),
			)
		} else {
			rec.Image = img
		}
	}

	return rec, nil
}

func (w *Walker) pageURL(n int) string {
	return fmt.Sprintf("%s/catalogue/page-%d.html", strings.TrimSuffix(w.cfg.BaseURL, "/"), n)
}

func (w *Walker) retryDelay(n int) time.Duration {
	delay := w.cfg.RetryBackoff.Duration << n
	if max := w.cfg.RetryBackoffMax.Duration; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
