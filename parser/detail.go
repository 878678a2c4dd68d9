package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mkotliar/bookcrawl/models"
)

// ExtractDetail parses a single book detail page into a Record. The title is
// the only required field; any unexpected parse panic is recovered and
// reported as an error carrying the page URL. The record's Image field stays
// nil here — image acquisition is a separate step.
func ExtractDetail(page []byte, detailURL string) (rec *models.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("parse detail %s: panic: %v", detailURL, r)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse detail %s: %w", detailURL, err)
	}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		return nil, fmt.Errorf("parse detail %s: missing title", detailURL)
	}

	info := productInfo(doc)

	description := ""
	if next := doc.Find("#product_description").First().NextAllFiltered("p").First(); next.Length() > 0 {
		description = strings.TrimSpace(next.Text())
	}

	category := "General"
	if crumbs := doc.Find("ul.breadcrumb a"); crumbs.Length() >= 3 {
		category = strings.TrimSpace(crumbs.Eq(2).Text())
	}

	imageURL := ""
	if src, ok := doc.Find("div.item.active img").First().Attr("src"); ok {
		imageURL = absoluteURL(detailURL, src)
	}

	ratingClass, _ := doc.Find("p.star-rating").First().Attr("class")

	return &models.Record{
		Title:        title,
		ISBN:         info["ISBN"],
		Category:     category,
		Price:        ParsePrice(doc.Find("p.price_color").First().Text()),
		Rating:       RatingFromClass(ratingClass),
		Description:  description,
		InStock:      doc.Find("p.instock.availability").Length() > 0,
		Availability: NormalizeAvailability(info["Availability"]),
		SourceURL:    detailURL,
		ImageURL:     imageURL,
		ScrapedAt:    time.Now().UTC(),
	}, nil
}

// productInfo flattens the two-column attribute table into a key/value map.
func productInfo(doc *goquery.Document) map[string]string {
	info := make(map[string]string)
	doc.Find("table.table-striped tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() != 2 {
			return
		}
		key := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		if key != "" {
			info[key] = value
		}
	})
	return info
}

func absoluteURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}
