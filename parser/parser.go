package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-scrape-beaches/models"
)

// ErrMalformedHeading is returned when a heading does not contain the name/state delimiter.
var ErrMalformedHeading = errors.New("heading missing name/state delimiter")

var controlRe = regexp.MustCompile(`[\n\t]`)

// CleanHeading strips the leading ordinal from a listing heading, so
// "12. Lanikai Beach // Hawaii" becomes " Lanikai Beach // Hawaii".
// Every occurrence of the text up to and including the first "." is removed;
// a heading without "." is returned trimmed but otherwise unchanged.
func CleanHeading(text string) string {
	text = strings.TrimSpace(text)
	prefix, _, found := strings.Cut(text, ".")
	if !found {
		return text
	}
	return strings.ReplaceAll(text, prefix+".", "")
}

// SplitHeading separates a cleaned heading into beach name and state.
func SplitHeading(text, delimiter string) (name, state string, err error) {
	parts := strings.Split(text, delimiter)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedHeading, text)
	}
	return StripField(parts[0]), StripField(parts[1]), nil
}

// StripField removes embedded newlines and tabs and trims surrounding whitespace.
func StripField(s string) string {
	return strings.TrimSpace(controlRe.ReplaceAllString(s, ""))
}

// ValidateRecord ensures the scraper captured the required fields.
func ValidateRecord(b *models.BeachRecord) error {
	if b == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("record missing beach name")
	}
	return nil
}
