package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aluiziolira/go-scrape-beaches/parser"
)

// ErrMissingHeading is returned for listing items without a heading.
var ErrMissingHeading = errors.New("listing item has no heading")

// ErrMalformedHeading is returned for headings without the name/state delimiter.
var ErrMalformedHeading = parser.ErrMalformedHeading

// ErrEmptyName is returned for headings whose name part is blank. It is a
// malformed heading and matches ErrMalformedHeading.
var ErrEmptyName = fmt.Errorf("%w: empty beach name", ErrMalformedHeading)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// StatusError is a non-200 listing response mapped to its user-facing message.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return e.Message
}

// StatusMessage maps a non-200 status code to its fixed description.
func StatusMessage(statusCode int) string {
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Sprintf("Invalid URL. Error %d", statusCode)
	case http.StatusRequestTimeout:
		return fmt.Sprintf("Time Out. Error %d", statusCode)
	default:
		return fmt.Sprintf("Cannot connect to server. Error %d", statusCode)
	}
}

// PageError aborts a run: the page could not be fetched or returned a non-200 status.
type PageError struct {
	Page       int
	StatusCode int
	Err        error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("%s (page %d)", e.Err.Error(), e.Page)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// ItemError reports a listing item that could not be turned into a record.
type ItemError struct {
	Page  int
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("page %d item %d: %v", e.Page, e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var status *StatusError
	if errors.As(err, &status) {
		return statusLabel(status.StatusCode)
	}
	if errors.Is(err, ErrMissingHeading) {
		return "missing_heading"
	}
	if errors.Is(err, ErrMalformedHeading) {
		return "malformed_heading"
	}
	return "other"
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusRequestTimeout:
		return "timeout"
	case statusCode == http.StatusForbidden:
		return "forbidden"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= http.StatusInternalServerError:
		return "server"
	default:
		return "other"
	}
}

// classifyError wraps network failures in ErrTimeout or ErrConnection.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}

func transientStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
