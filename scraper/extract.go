package scraper

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-beaches/models"
	"github.com/aluiziolira/go-scrape-beaches/parser"
)

// ExtractListing returns the first element matching selector in a 200 response.
// A page without the container yields (nil, nil). Any other status yields a
// *StatusError carrying the mapped message.
func ExtractListing(res *models.FetchResult, selector string) (*goquery.Selection, error) {
	if res.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: res.StatusCode, Message: StatusMessage(res.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page %s: %w", res.URL, err)
	}

	listing := doc.Find(selector).First()
	if listing.Length() == 0 {
		return nil, nil
	}
	return listing, nil
}

// ParseItem turns one listing item into a record without coordinates.
func ParseItem(item *goquery.Selection, headingSelector, delimiter string) (*models.BeachRecord, error) {
	heading := item.Find(headingSelector).First()
	if heading.Length() == 0 {
		return nil, ErrMissingHeading
	}
	text := heading.Text()
	if strings.TrimSpace(text) == "" {
		return nil, ErrMissingHeading
	}

	name, state, err := parser.SplitHeading(parser.CleanHeading(text), delimiter)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyName, strings.TrimSpace(text))
	}
	return &models.BeachRecord{Name: name, State: state}, nil
}
