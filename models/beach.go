// Package models defines data structures for the scraper.
package models

import "time"

// BeachRecord represents one beach entry from the listing.
// Latitude and Longitude are empty when the name could not be geocoded.
type BeachRecord struct {
	Name      string `csv:"beach_name" json:"beach_name"`
	State     string `csv:"state" json:"state"`
	Latitude  string `csv:"latitude" json:"latitude"`
	Longitude string `csv:"longitude" json:"longitude"`
}

// HasCoordinates reports whether both coordinates were resolved.
func (b *BeachRecord) HasCoordinates() bool {
	return b != nil && b.Latitude != "" && b.Longitude != ""
}

// FetchResult is the raw outcome of a single page request.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
}

// ScraperResult holds the overall result of a scraping operation
type ScraperResult struct {
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	EmptyPages   int
	RequestCount int
	RetryCount   int
	ItemCount    int
	SkippedItems int
	ErrorCount   int
	ErrorsByType map[string]int
	// FailedPage is the page index that aborted the run, zero when the run completed.
	FailedPage int
}
