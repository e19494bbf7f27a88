// Package geocode resolves free-text place names to coordinates via Nominatim.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultURL is the public OpenStreetMap Nominatim search endpoint.
const DefaultURL = "https://nominatim.openstreetmap.org/search"

// Client geocodes a single free-text query.
type Client interface {
	Geocode(ctx context.Context, query string) (*Result, error)
}

// Result holds the best match for a query. Matched is false when the service
// had no answer; that is not an error.
type Result struct {
	Latitude    float64
	Longitude   float64
	DisplayName string
	Matched     bool
}

// StatusError is returned when the service answers with a non-200 status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geocode: service returned status %d", e.StatusCode)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsTransient reports whether err is a network failure or a retryable status.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Option configures the Nominatim client.
type Option func(*Nominatim)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *Nominatim) {
		n.httpClient = hc
	}
}

// WithBaseURL points the client at another Nominatim-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(n *Nominatim) {
		n.baseURL = u
	}
}

// WithUserAgent sets the client identifier sent with every request.
func WithUserAgent(ua string) Option {
	return func(n *Nominatim) {
		n.userAgent = ua
	}
}

// WithRateLimit caps the request rate. Non-positive values disable the limit.
func WithRateLimit(rps float64) Option {
	return func(n *Nominatim) {
		if rps <= 0 {
			n.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRequestTimeout bounds each HTTP request. The clock starts once the rate
// limiter has admitted the request, so queueing behind other lookups never
// counts against it.
func WithRequestTimeout(d time.Duration) Option {
	return func(n *Nominatim) {
		n.requestTimeout = d
	}
}

// Nominatim queries an OpenStreetMap Nominatim search endpoint.
type Nominatim struct {
	httpClient     *http.Client
	baseURL        string
	userAgent      string
	limiter        *rate.Limiter
	requestTimeout time.Duration
}

// NewNominatim creates a client with the usage-policy rate of one request per second.
func NewNominatim(opts ...Option) *Nominatim {
	n := &Nominatim{
		httpClient:     &http.Client{},
		baseURL:        DefaultURL,
		userAgent:      "go-scrape-beaches/1.0",
		limiter:        rate.NewLimiter(1, 1),
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type searchHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode implements Client.
func (n *Nominatim) Geocode(ctx context.Context, query string) (*Result, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocode: rate limit: %w", err)
	}
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: build request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var hits []searchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("geocode: parse response: %w", err)
	}
	if len(hits) == 0 {
		return &Result{Matched: false}, nil
	}

	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode: parse latitude %q: %w", hits[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode: parse longitude %q: %w", hits[0].Lon, err)
	}

	return &Result{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: hits[0].DisplayName,
		Matched:     true,
	}, nil
}
