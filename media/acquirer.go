// Package media downloads cover images and derives content-addressed
// filenames for them.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mkotliar/bookcrawl/fetcher"
	"github.com/mkotliar/bookcrawl/models"
)

const defaultCacheSize = 256

// Acquirer fetches cover images through the resilient fetcher and memoizes
// results per URL, so repeated cover references within a run are fetched once.
type Acquirer struct {
	client *fetcher.Client
	cache  *lru.Cache[string, *models.Image]
}

// NewAcquirer builds an acquirer around the given fetch client.
func NewAcquirer(client *fetcher.Client, cacheSize int) (*Acquirer, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *models.Image](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create image cache: %w", err)
	}
	return &Acquirer{client: client, cache: cache}, nil
}

// Acquire downloads imageURL and returns its bytes with a filename of the
// form {basename}_{hash8}{ext}, where hash8 is the first 8 hex characters of
// the SHA-256 of the bytes. Re-downloading identical bytes yields the same
// filename.
func (a *Acquirer) Acquire(ctx context.Context, imageURL string) (*models.Image, error) {
	if cached, ok := a.cache.Get(imageURL); ok {
		return cached, nil
	}

	res, err := a.client.Do(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}

	img := &models.Image{
		Filename:    Filename(imageURL, res.ContentType, res.Body),
		ContentType: res.ContentType,
		Data:        res.Body,
	}
	a.cache.Add(imageURL, img)

	slog.Debug("image acquired",
		slog.String("url", imageURL),
		slog.String("filename", img.Filename),
		slog.Int("bytes", len(img.Data)),
	)
	return img, nil
}

// Filename derives the content-addressed name for image bytes fetched from
// rawURL. The extension comes from the URL path when present, otherwise from
// the declared content type (default .jpg).
func Filename(rawURL, contentType string, data []byte) string {
	base := "image"
	if parsed, err := url.Parse(rawURL); err == nil {
		if b := path.Base(parsed.Path); b != "" && b != "." && b != "/" {
			base = b
		}
	}

	ext := path.Ext(base)
	base = strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = extensionFor(contentType)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])[:8]
	return fmt.Sprintf("%s_%s%s", base, hash, ext)
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}
