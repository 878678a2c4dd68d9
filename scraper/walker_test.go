package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/mkotliar/bookcrawl/config"
	"github.com/mkotliar/bookcrawl/fetcher"
	"github.com/mkotliar/bookcrawl/media"
)

const testBase = "http://books.example.test"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBase + "/"
	cfg.MaxPages = 1
	cfg.MaxAttempts = 2
	cfg.RetryBackoff = config.DurationFrom(time.Millisecond)
	cfg.RetryBackoffMax = config.DurationFrom(10 * time.Millisecond)
	cfg.ItemDelay = config.DurationFrom(0)
	cfg.PageDelay = config.DurationFrom(0)
	return cfg
}

func newTestWalker(t *testing.T, cfg *config.Config, transport http.RoundTripper, withImages bool) *Walker {
	t.Helper()

	client := fetcher.New(fetcher.Options{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
	})
	client.SetTransport(transport)

	var acquirer *media.Acquirer
	if withImages {
		imageClient := fetcher.New(fetcher.Options{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     time.Millisecond,
			BackoffMax:  10 * time.Millisecond,
		})
		imageClient.SetTransport(transport)

		var err error
		acquirer, err = media.NewAcquirer(imageClient, 16)
		if err != nil {
			t.Fatalf("new acquirer: %v", err)
		}
	}

	w, err := NewWalker(cfg, client, acquirer, NewMetrics())
	if err != nil {
		t.Fatalf("new walker: %v", err)
	}
	w.SetTransport(transport)
	w.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return w
}

// htmlResponder serves body with a text/html content type, which the
// collector requires before it runs element handlers.
func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, body)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	}
}

func listingHTML(hrefs ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><body><section>")
	for _, href := range hrefs {
		fmt.Fprintf(&sb, `<article class="product_pod"><h3><a href=%q>x</a></h3></article>`, href)
	}
	sb.WriteString("</section></body></html>")
	return sb.String()
}

func detailHTML(title, imageSrc string) string {
	img := ""
	if imageSrc != "" {
		img = fmt.Sprintf(`<div class="item active"><img src=%q/></div>`, imageSrc)
	}
	return fmt.Sprintf(`<html><body>
<ul class="breadcrumb"><li><a href="/">Home</a></li><li><a href="/books">Books</a></li><li><a href="/poetry">Poetry</a></li></ul>
%s
<div class="product_main"><h1>%s</h1>
<p class="price_color">£51.77</p>
<p class="star-rating Three">stars</p>
<p class="instock availability">In stock (22 available)</p></div>
<table class="table-striped">
<tr><th>ISBN</th><td>a897fe39b1053632</td></tr>
<tr><th>Availability</th><td>In stock (22 available)</td></tr>
</table>
</body></html>`, img, title)
}

func TestWalkCollectsRecordsInDocumentOrder(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/catalogue/page-1.html",
		htmlResponder(listingHTML("item-a.html", "item-b.html")))
	transport.RegisterResponder("GET", testBase+"/catalogue/item-a.html",
		httpmock.NewStringResponder(200, detailHTML("Book A", "")))
	transport.RegisterResponder("GET", testBase+"/catalogue/item-b.html",
		httpmock.NewStringResponder(200, detailHTML("Book B", "")))

	w := newTestWalker(t, testConfig(), transport, false)

	result, err := w.Walk(context.Background(), 1)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if result.PagesVisited != 1 || result.PagesFailed != 0 {
		t.Fatalf("pages visited=%d failed=%d, want 1/0", result.PagesVisited, result.PagesFailed)
	}
	if len(result.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(result.Records))
	}
	if result.Records[0].Title != "Book A" || result.Records[1].Title != "Book B" {
		t.Fatalf("record order = %q, %q", result.Records[0].Title, result.Records[1].Title)
	}
	if result.Records[0].Category != "Poetry" {
		t.Errorf("category = %q, want Poetry", result.Records[0].Category)
	}
	if result.Records[0].Price != 51.77 {
		t.Errorf("price = %v, want 51.77", result.Records[0].Price)
	}
}

func TestWalkSkipsFailingPageAndContinues(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/catalogue/page-1.html",
		httpmock.NewStringResponder(http.StatusInternalServerError, ""))
	transport.RegisterResponder("GET", testBase+"/catalogue/page-2.html",
		htmlResponder(listingHTML("item-c.html")))
	transport.RegisterResponder("GET", testBase+"/catalogue/item-c.html",
		httpmock.NewStringResponder(200, detailHTML("Book C", "")))

	cfg := testConfig()
	cfg.MaxPages = 2
	w := newTestWalker(t, cfg, transport, false)

	result, err := w.Walk(context.Background(), 2)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if result.PagesFailed != 1 {
		t.Fatalf("pages failed = %d, want 1", result.PagesFailed)
	}
	if result.PagesVisited != 1 {
		t.Fatalf("pages visited = %d, want 1", result.PagesVisited)
	}
	if len(result.Records) != 1 || result.Records[0].Title != "Book C" {
		t.Fatalf("records = %+v, want only Book C", result.Records)
	}
}

func TestWalkRetriesListingPage(t *testing.T) {
	transport := httpmock.NewMockTransport()
	calls := 0
	transport.RegisterResponder("GET", testBase+"/catalogue/page-1.html",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
			}
			resp := httpmock.NewStringResponse(200, listingHTML("item-a.html"))
			resp.Header.Set("Content-Type", "text/html")
			return resp, nil
		})
	transport.RegisterResponder("GET", testBase+"/catalogue/item-a.html",
		httpmock.NewStringResponder(200, detailHTML("Book A", "")))

	w := newTestWalker(t, testConfig(), transport, false)

	result, err := w.Walk(context.Background(), 1)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if calls != 2 {
		t.Fatalf("listing calls = %d, want 2", calls)
	}
	if result.PagesVisited != 1 || len(result.Records) != 1 {
		t.Fatalf("result = %+v, want 1 page and 1 record", result)
	}
}

func TestWalkDropsFailingItem(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/catalogue/page-1.html",
		htmlResponder(listingHTML("item-a.html", "item-gone.html")))
	transport.RegisterResponder("GET", testBase+"/catalogue/item-a.html",
		httpmock.NewStringResponder(200, detailHTML("Book A", "")))
	transport.RegisterResponder("GET", testBase+"/catalogue/item-gone.html",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	w := newTestWalker(t, testConfig(), transport, false)

	result, err := w.Walk(context.Background(), 1)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if result.ItemsDropped != 1 {
		t.Fatalf("items dropped = %d, want 1", result.ItemsDropped)
	}
	if len(result.Records) != 1 || result.Records[0].Title != "Book A" {
		t.Fatalf("records = %d, want only Book A", len(result.Records))
	}
}

func TestWalkImageFailureKeepsRecord(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/catalogue/page-1.html",
		htmlResponder(listingHTML("item-a.html", "item-b.html")))
	transport.RegisterResponder("GET", testBase+"/catalogue/item-a.html",
		httpmock.NewStringResponder(200, detailHTML("Book A", "../media/a.jpg")))
	transport.RegisterResponder("GET", testBase+"/catalogue/item-b.html",
		httpmock.NewStringResponder(200, detailHTML("Book B", "../media/missing.jpg")))
	transport.RegisterResponder("GET", testBase+"/media/a.jpg",
		httpmock.NewBytesResponder(200, []byte{0xff, 0xd8, 0xff}))
	transport.RegisterResponder("GET", testBase+"/media/missing.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	w := newTestWalker(t, testConfig(), transport, true)

	result, err := w.Walk(context.Background(), 1)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(result.Records))
	}
	if result.Records[0].Image == nil {
		t.Fatalf("record A should carry image bytes")
	}
	if got := result.Records[0].Image.Filename; !strings.HasPrefix(got, "a_") || !strings.HasSuffix(got, ".jpg") {
		t.Errorf("image filename = %q", got)
	}
	if result.Records[1].Image != nil {
		t.Fatalf("record B should not carry image bytes")
	}
}

func TestWalkStopsOnContextCancel(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testBase+"/catalogue/page-1.html",
		htmlResponder(listingHTML("item-a.html")))

	w := newTestWalker(t, testConfig(), transport, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := w.Walk(ctx, 1)
	if err != context.Canceled {
		t.Fatalf("walk err = %v, want context.Canceled", err)
	}
	if len(result.Records) != 0 {
		t.Fatalf("records = %d, want 0", len(result.Records))
	}
}
