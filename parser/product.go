package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

const (
	productSectionSelector = `div[class="home en_US"]`
	titleSelector          = "span#productTitle.a-size-large"
	priceSelector          = "span#priceblock_ourprice"
	reviewCountSelector    = "span#acrCustomerReviewText"
	ratingSelector         = "span.a-icon-alt"
	availabilitySelector   = `span[class="a-size-medium a-color-success"]`
)

// ParseProduct reads the first product section of a detail page. It reports
// false when the page has no such section.
func ParseProduct(doc *goquery.Document) (*models.Product, bool) {
	section := doc.Find(productSectionSelector).First()
	if section.Length() == 0 {
		return nil, false
	}

	return &models.Product{
		Name:          fieldText(section, titleSelector, models.NameMissing),
		Price:         fieldText(section, priceSelector, models.PriceMissing),
		ReviewCount:   fieldText(section, reviewCountSelector, models.ReviewCountMissing),
		OverallRating: fieldText(section, ratingSelector, models.RatingMissing),
		Availability:  fieldText(section, availabilitySelector, models.AvailabilityMissing),
	}, true
}

// ParseProductHTML parses a detail page body. A nil product with a nil error
// means the page carried no product section.
func ParseProductHTML(pageURL string, body []byte) (product *models.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			product = nil
			err = recovered(pageURL, r)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{URL: pageURL, Err: err}
	}

	product, ok := ParseProduct(doc)
	if !ok {
		return nil, nil
	}
	product.URL = pageURL
	return product, nil
}

func fieldText(section *goquery.Selection, selector, missing string) string {
	el := section.Find(selector).First()
	if el.Length() == 0 {
		return missing
	}
	return strings.TrimSpace(el.Text())
}
