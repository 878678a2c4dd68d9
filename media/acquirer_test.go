package media

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/mkotliar/bookcrawl/fetcher"
)

func newAcquirer(t *testing.T, transport http.RoundTripper) *Acquirer {
	t.Helper()
	client := fetcher.New(fetcher.Options{
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
	})
	client.SetTransport(transport)
	a, err := NewAcquirer(client, 16)
	if err != nil {
		t.Fatalf("new acquirer: %v", err)
	}
	return a
}

func imageResponder(body, contentType string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", contentType)
	return httpmock.ResponderFromResponse(resp)
}

func TestAcquireDerivesFilename(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://catalog.test/media/cover.jpg",
		imageResponder("image-bytes", "image/jpeg"))

	a := newAcquirer(t, transport)
	img, err := a.Acquire(context.Background(), "http://catalog.test/media/cover.jpg")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if !strings.HasPrefix(img.Filename, "cover_") || !strings.HasSuffix(img.Filename, ".jpg") {
		t.Errorf("filename = %q, want cover_<hash8>.jpg", img.Filename)
	}
	if string(img.Data) != "image-bytes" {
		t.Errorf("data = %q", img.Data)
	}
}

func TestAcquireCachesByURL(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://catalog.test/media/cover.jpg",
		imageResponder("image-bytes", "image/jpeg"))

	a := newAcquirer(t, transport)
	first, err := a.Acquire(context.Background(), "http://catalog.test/media/cover.jpg")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second, err := a.Acquire(context.Background(), "http://catalog.test/media/cover.jpg")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if first != second {
		t.Error("second acquire should return the cached image")
	}
	if calls := transport.GetTotalCallCount(); calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestAcquireFailure(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://catalog.test/media/missing.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	a := newAcquirer(t, transport)
	if _, err := a.Acquire(context.Background(), "http://catalog.test/media/missing.jpg"); err == nil {
		t.Fatal("expected error for missing image")
	}
}

func TestFilenameDeterminism(t *testing.T) {
	data := []byte("same-bytes-either-way")

	// Same bytes fetched from two differently-pathed extensionless URLs share
	// the hash suffix; only the basename differs.
	a := Filename("http://one.test/images/alpha", "image/jpeg", data)
	b := Filename("http://two.test/files/beta", "image/jpeg", data)

	hashOf := func(name string) string {
		name = strings.TrimSuffix(name, ".jpg")
		idx := strings.LastIndex(name, "_")
		if idx < 0 {
			t.Fatalf("filename %q has no hash suffix", name)
		}
		return name[idx+1:]
	}

	if !strings.HasPrefix(a, "alpha_") {
		t.Errorf("a = %q, want alpha_ prefix", a)
	}
	if !strings.HasPrefix(b, "beta_") {
		t.Errorf("b = %q, want beta_ prefix", b)
	}
	if ha, hb := hashOf(a), hashOf(b); ha != hb {
		t.Errorf("hash suffixes differ: %q vs %q", ha, hb)
	}
	if len(hashOf(a)) != 8 {
		t.Errorf("hash suffix %q should be 8 hex chars", hashOf(a))
	}

	// Different bytes change the hash.
	c := Filename("http://one.test/images/alpha", "image/jpeg", []byte("other"))
	if hashOf(a) == hashOf(c) {
		t.Error("different bytes should produce different hashes")
	}
}

func TestFilenameExtensionInference(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		contentType string
		wantExt     string
	}{
		{name: "from url", url: "http://x.test/a/cover.png", contentType: "image/jpeg", wantExt: ".png"},
		{name: "jpeg content type", url: "http://x.test/a/cover", contentType: "image/jpeg", wantExt: ".jpg"},
		{name: "png content type", url: "http://x.test/a/cover", contentType: "image/png", wantExt: ".png"},
		{name: "gif content type", url: "http://x.test/a/cover", contentType: "image/gif", wantExt: ".gif"},
		{name: "unknown defaults to jpg", url: "http://x.test/a/cover", contentType: "application/octet-stream", wantExt: ".jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filename(tt.url, tt.contentType, []byte("x"))
			if !strings.HasSuffix(got, tt.wantExt) {
				t.Errorf("Filename(%q, %q) = %q, want extension %q", tt.url, tt.contentType, got, tt.wantExt)
			}
		})
	}
}
