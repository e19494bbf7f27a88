package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/aluiziolira/go-scrape-beaches/retry"
)

// Resolver turns place names into coordinate strings. Lookups are cached by
// normalised name, concurrent lookups of the same name share one request, and
// transient failures are retried. Resolve never fails: anything it cannot
// answer comes back as empty coordinates.
type Resolver struct {
	client  Client
	cache   *lru.Cache[string, Result]
	group   singleflight.Group
	policy  retry.Policy
	metrics *Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRetryPolicy sets the retry policy for service calls. ShouldRetry
// defaults to IsTransient when left nil.
func WithRetryPolicy(p retry.Policy) ResolverOption {
	return func(r *Resolver) {
		r.policy = p
	}
}

// WithMetrics records lookup outcomes on m.
func WithMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver wraps client with an LRU cache holding up to cacheSize names.
func NewResolver(client Client, cacheSize int, opts ...ResolverOption) (*Resolver, error) {
	cache, err := lru.New[string, Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}

	r := &Resolver{
		client: client,
		cache:  cache,
		policy: retry.Policy{MaxRetries: 2, Backoff: 500 * time.Millisecond, BackoffMax: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.policy.ShouldRetry == nil {
		r.policy.ShouldRetry = IsTransient
	}
	onRetry := r.policy.OnRetry
	r.policy.OnRetry = func(attempt int, err error) {
		r.metrics.IncRetries()
		slog.Debug("retrying geocode lookup", slog.Int("attempt", attempt), slog.Any("error", err))
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return r, nil
}

// NormalizeKey lower-cases name and collapses runs of whitespace.
func NormalizeKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Resolve returns the latitude and longitude of name, or two empty strings
// when the name is unknown or the lookup failed.
func (r *Resolver) Resolve(ctx context.Context, name string) (lat, lon string) {
	res, err := r.Lookup(ctx, name)
	if err != nil {
		slog.Debug("geocode lookup failed", slog.String("name", name), slog.Any("error", err))
		return "", ""
	}
	if !res.Matched {
		return "", ""
	}
	return formatCoordinate(res.Latitude), formatCoordinate(res.Longitude)
}

// Lookup is Resolve without the failure fallback. Matches and non-matches are
// cached; errors are not, so a later call tries the service again.
func (r *Resolver) Lookup(ctx context.Context, name string) (*Result, error) {
	key := NormalizeKey(name)
	if key == "" {
		r.metrics.IncLookup(OutcomeUnmatched)
		return &Result{Matched: false}, nil
	}

	if cached, ok := r.cache.Get(key); ok {
		r.metrics.IncLookup(OutcomeCacheHit)
		return &cached, nil
	}

	// The shared call outlives any single caller; each caller stops waiting
	// on its own context.
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.fetch(context.WithoutCancel(ctx), key, name)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Result)
		return &out, nil
	}
}

func (r *Resolver) fetch(ctx context.Context, key, name string) (*Result, error) {
	if cached, ok := r.cache.Get(key); ok {
		return &cached, nil
	}

	start := time.Now()
	res, err := retry.Do(ctx, r.policy, func(ctx context.Context) (*Result, error) {
		return r.client.Geocode(ctx, strings.TrimSpace(name))
	})
	r.metrics.ObserveDuration(time.Since(start))

	if err != nil {
		r.metrics.IncLookup(OutcomeError)
		return nil, err
	}
	if res == nil {
		res = &Result{Matched: false}
	}

	r.cache.Add(key, *res)
	if res.Matched {
		r.metrics.IncLookup(OutcomeMatched)
	} else {
		r.metrics.IncLookup(OutcomeUnmatched)
	}
	return res, nil
}

// CacheLen returns the number of cached names.
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
