// Package parser turns bestseller listing and detail pages into links and
// product records. Everything here is a pure function of the input document.
package parser

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	listingContainerSelector = `div[class="a-fixed-left-grid-col a-col-right"]`
	listingAnchorSelector    = "a.a-link-normal"
)

// Anchors whose markup mentions any of these are not product links. The match
// runs over the whole anchor tag, not just the href.
var excludedMarkers = []string{
	"product-reviews",
	"new-releases",
	"most-wished-for",
	"most-gifted",
}

// LinkExtractor pulls product detail links out of a listing page.
type LinkExtractor struct {
	origin string
	logger *slog.Logger
}

// NewLinkExtractor builds an extractor that prefixes hrefs with origin.
func NewLinkExtractor(origin string, logger *slog.Logger) *LinkExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkExtractor{
		origin: strings.TrimSuffix(origin, "/"),
		logger: logger,
	}
}

// Extract returns product links in document order. Duplicates are kept.
func (x *LinkExtractor) Extract(doc *goquery.Document) []string {
	var links []string
	doc.Find(listingContainerSelector).Each(func(_ int, section *goquery.Selection) {
		section.Find(listingAnchorSelector).Each(func(_ int, anchor *goquery.Selection) {
			href, ok := anchor.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				x.logger.Debug("listing anchor missing data")
				return
			}
			markup, err := goquery.OuterHtml(anchor)
			if err != nil {
				x.logger.Debug("render listing anchor", slog.String("href", href), slog.Any("error", err))
				return
			}
			if excluded(markup) {
				return
			}
			links = append(links, x.origin+href)
		})
	})
	return links
}

// ExtractHTML parses body and extracts its links. Any failure is logged and
// yields no links for the page.
func (x *LinkExtractor) ExtractHTML(pageURL string, body []byte) (links []string) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("listing extraction failed", slog.Any("error", recovered(pageURL, r)))
			links = nil
		}
	}()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		x.logger.Error("listing extraction failed", slog.Any("error", &ParseError{URL: pageURL, Err: err}))
		return nil
	}
	return x.Extract(doc)
}

func excluded(markup string) bool {
	for _, marker := range excludedMarkers {
		if strings.Contains(markup, marker) {
			return true
		}
	}
	return false
}
