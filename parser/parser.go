// Package parser extracts listing records from catalog page markup.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-crawl-listings/models"
)

// ErrUnparseable is returned when a page body cannot be read as a document.
var ErrUnparseable = errors.New("parser: unparseable content")

// Parser turns raw page content into records.
type Parser interface {
	Parse(content []byte) ([]models.Record, error)
}

// Selectors locate the parts of one product card.
type Selectors struct {
	Card  string
	Name  string
	Price string
}

// DefaultSelectors match the star-hangar product grid.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:  "div.product-item-details",
		Name:  "a.product-item-link",
		Price: "span.price",
	}
}

// ListingParser reads product cards from a catalog page.
type ListingParser struct {
	base      *url.URL
	selectors Selectors
}

// NewListingParser builds a parser that resolves links against baseURL.
func NewListingParser(baseURL string, selectors Selectors) (*ListingParser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	return &ListingParser{base: base, selectors: selectors}, nil
}

// Parse returns every card that carries a name, a price, and a link.
// Incomplete cards are skipped.
func (p *ListingParser) Parse(content []byte) ([]models.Record, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnparseable)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if !isMarkup(content, doc) {
		return nil, fmt.Errorf("%w: %s is not markup", ErrUnparseable, http.DetectContentType(content))
	}

	records := make([]models.Record, 0)
	doc.Find(p.selectors.Card).Each(func(_ int, card *goquery.Selection) {
		record, ok := p.extract(card)
		if !ok {
			return
		}
		records = append(records, record)
	})
	return records, nil
}

// isMarkup accepts anything sniffed as HTML or XML, plus fragments that
// still produce at least one element.
func isMarkup(content []byte, doc *goquery.Document) bool {
	kind := http.DetectContentType(content)
	if strings.HasPrefix(kind, "text/html") || strings.HasPrefix(kind, "text/xml") {
		return true
	}
	return doc.Find("head *, body *").Length() > 0
}

func (p *ListingParser) extract(card *goquery.Selection) (models.Record, bool) {
	nameElem := card.Find(p.selectors.Name).First()
	if nameElem.Length() == 0 {
		return models.Record{}, false
	}

	name := NormalizeText(nameElem.Text())
	if name == "" {
		return models.Record{}, false
	}

	href, ok := nameElem.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return models.Record{}, false
	}
	link, err := p.resolve(href)
	if err != nil {
		return models.Record{}, false
	}

	price := NormalizeText(card.Find(p.selectors.Price).First().Text())
	if price == "" {
		return models.Record{}, false
	}

	return models.Record{
		Name:      name,
		PriceText: price,
		Link:      link,
	}, true
}

func (p *ListingParser) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return p.base.ResolveReference(ref).String(), nil
}

// ValidateRecord ensures a record carries every field the sink expects.
func ValidateRecord(r models.Record) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("record missing name")
	}
	if strings.TrimSpace(r.PriceText) == "" {
		return fmt.Errorf("record missing price for %s", r.Name)
	}
	if strings.TrimSpace(r.Link) == "" {
		return fmt.Errorf("record missing link for %s", r.Name)
	}
	return nil
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
