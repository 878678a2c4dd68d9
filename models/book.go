// Package models defines data structures shared across the crawler.
package models

import "time"

// Record represents one book extracted from a detail page, before persistence.
type Record struct {
	Title        string  `json:"title"`
	ISBN         string  `json:"isbn"`
	Category     string  `json:"category"`
	Price        float64 `json:"price"`
	Rating       int     `json:"rating"`
	Description  string  `json:"description"`
	InStock      bool    `json:"in_stock"`
	Availability string  `json:"availability"`
	SourceURL    string  `json:"source_url"`
	ImageURL     string  `json:"image_url"`

	// Image is nil when the cover download failed or was skipped.
	Image *Image `json:"-"`

	ScrapedAt time.Time `json:"scraped_at"`
}

// Image holds downloaded cover bytes together with the content-addressed
// filename they should be stored under.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Category is a book genre, unique by name.
type Category struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Book is a persisted catalog entry as read back from the store.
type Book struct {
	ID            uint      `json:"id"`
	Title         string    `json:"title"`
	ISBN          string    `json:"isbn"`
	Category      string    `json:"category"`
	Price         float64   `json:"price"`
	Rating        int       `json:"rating"`
	Description   string    `json:"description"`
	InStock       bool      `json:"in_stock"`
	Availability  string    `json:"availability"`
	ImageFilename string    `json:"image_filename,omitempty"`
	SourceURL     string    `json:"source_url"`
	LastScraped   time.Time `json:"last_scraped"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalkResult summarizes one traversal of the catalog.
type WalkResult struct {
	Records      []*Record
	PagesVisited int
	PagesFailed  int
	ItemsDropped int
}

// ReconcileResult reports upsert outcomes for one batch.
type ReconcileResult struct {
	Created int
	Updated int
	Skipped int
}
