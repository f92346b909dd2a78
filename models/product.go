// Package models defines data structures for the scraper.
package models

import "time"

// Placeholders written in place of fields the detail page does not carry.
const (
	NameMissing         = "name-missing-data"
	PriceMissing        = "price-missing-data"
	ReviewCountMissing  = "review-qtd-missing-data"
	RatingMissing       = "rating-missing-data"
	AvailabilityMissing = "availability-missing-data"
)

// Product is one bestseller detail page reduced to five opaque strings.
// A field holds either the trimmed page text or its placeholder constant.
type Product struct {
	Name          string `json:"name"`
	Price         string `json:"price"`
	ReviewCount   string `json:"review_count"`
	OverallRating string `json:"overall_rating"`
	Availability  string `json:"availability"`
	URL           string `json:"url"`
}

// Fields returns the five table values in column order.
func (p *Product) Fields() []string {
	return []string{p.Name, p.Price, p.ReviewCount, p.OverallRating, p.Availability}
}

// CollectResult describes one pass over the listing pages.
type CollectResult struct {
	PageCount    int
	ScannedCount int
	FoundCount   int
	LinkCount    int
	FailedURLs   []string
	ErrorsByType map[string]int
}

// HarvestResult describes one harvest over a link set.
type HarvestResult struct {
	StartTime    time.Time
	EndTime      time.Time
	LinkCount    int
	TaskCount    int
	TotalCount   int
	EmptyCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
}
