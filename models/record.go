// Package models defines data structures shared by the crawler packages.
package models

import "time"

// Record is one listing item extracted from a catalog page.
type Record struct {
	Name      string `csv:"Name" json:"name"`
	PriceText string `csv:"Price" json:"price"`
	Link      string `csv:"Link" json:"link"`
}

// PageOutcome is the terminal result of fetching one page.
// A nil Err marks a success; Records may still be empty.
// Interrupted marks a page whose retries were stopped by cancellation; such a
// page is neither a success nor a failure.
type PageOutcome struct {
	Page        int
	Records     []Record
	Attempts    int
	Err         error
	Interrupted bool
}

// Success reports whether the page was retrieved and parsed.
func (o PageOutcome) Success() bool {
	return o.Err == nil && !o.Interrupted
}

// CrawlState holds the running counters of a crawl.
type CrawlState struct {
	PagesCompleted   int `json:"pages_completed"`
	RecordsCollected int `json:"records_collected"`
	PagesFailed      int `json:"pages_failed"`
}

// Progress is emitted after every outcome and once more when the crawl ends.
type Progress struct {
	CrawlState
	Total   int           `json:"total"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Done    bool          `json:"done"`
}

// CrawlResult holds the overall result of a crawl.
type CrawlResult struct {
	State        CrawlState
	Dataset      []Record
	Total        int
	Skipped      int
	StartTime    time.Time
	EndTime      time.Time
	FailedPages  []int
	ErrorsByType map[string]int
}

// Duration returns the wall-clock time the crawl took.
func (r *CrawlResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
