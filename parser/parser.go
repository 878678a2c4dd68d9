// Package parser turns raw catalog pages into structured records.
package parser

import (
	"strconv"
	"strings"
)

var currencySymbols = []string{"£", "$", "€"}

// ratingWords is ordered; the first token match wins.
var ratingWords = []struct {
	word  string
	value int
}{
	{"One", 1},
	{"Two", 2},
	{"Three", 3},
	{"Four", 4},
	{"Five", 5},
}

// ParsePrice strips known currency symbols and parses the remainder as a
// decimal. Unparsable text yields 0.0; price absence is tolerated, never an
// error.
func ParsePrice(text string) float64 {
	cleaned := strings.TrimSpace(text)
	for _, sym := range currencySymbols {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || price < 0 {
		return 0
	}
	return price
}

// RatingFromClass maps a star-rating class attribute ("star-rating Three")
// to its numeric value. Tokens are matched case-sensitively; no match is 0.
func RatingFromClass(class string) int {
	tokens := strings.Fields(class)
	for _, rw := range ratingWords {
		for _, tok := range tokens {
			if tok == rw.word {
				return rw.value
			}
		}
	}
	return 0
}

// NormalizeAvailability trims spacing from the availability text.
func NormalizeAvailability(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
