package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-beaches/config"
	"github.com/aluiziolira/go-scrape-beaches/models"
	"github.com/aluiziolira/go-scrape-beaches/retry"
)

const (
	ctxStart  = "start"
	ctxStatus = "status"
	ctxBody   = "body"
)

// Fetcher retrieves a listing page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*models.FetchResult, error)
}

// CollyFetcher fetches pages one at a time through a synchronous colly collector.
// Any HTTP status is returned as a result; only network failures are errors.
type CollyFetcher struct {
	collector *colly.Collector
	transport *ctxTransport
	policy    retry.Policy
	metrics   *Metrics

	mu sync.Mutex // serializes requests so transport.ctx belongs to one fetch

	requests atomic.Int64
	retries  atomic.Int64
}

// NewCollyFetcher builds a fetcher configured from cfg. metrics may be nil.
func NewCollyFetcher(cfg *config.Config, metrics *Metrics) (*CollyFetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.ParseHTTPErrorResponse = true
	transport := &ctxTransport{base: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}}
	collector.WithTransport(transport)

	f := &CollyFetcher{
		collector: collector,
		transport: transport,
		metrics:   metrics,
	}
	f.policy = retry.Policy{
		MaxRetries:  cfg.MaxRetries,
		Backoff:     cfg.RetryBackoff,
		BackoffMax:  cfg.RetryBackoffMax,
		ShouldRetry: retryableFetch,
		OnRetry: func(attempt int, err error) {
			f.retries.Add(1)
			f.metrics.IncRetries()
			slog.Warn("retrying page fetch", slog.Int("attempt", attempt), slog.Any("error", err))
		},
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
	})
	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxStatus, r.StatusCode)
		r.Ctx.Put(ctxBody, r.Body)
		if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		if r.StatusCode != http.StatusOK {
			slog.Error("non-200 response",
				slog.Int("status", r.StatusCode),
				slog.String("url", r.Request.URL.String()),
			)
		}
	})

	return f, nil
}

// WithTransport replaces the HTTP transport used by the collector. Requests
// still observe the context passed to Fetch.
func (f *CollyFetcher) WithTransport(rt http.RoundTripper) {
	f.transport.setBase(rt)
}

// Requests returns the number of requests issued so far, retries included.
func (f *CollyFetcher) Requests() int {
	return int(f.requests.Load())
}

// Retries returns the number of retries scheduled so far.
func (f *CollyFetcher) Retries() int {
	return int(f.retries.Load())
}

// Fetch implements Fetcher. Transient statuses are retried; once retries run
// out the last response is returned without error.
func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (*models.FetchResult, error) {
	res, err := retry.Do(ctx, f.policy, func(ctx context.Context) (*models.FetchResult, error) {
		return f.fetchOnce(ctx, pageURL)
	})
	var statusErr *StatusError
	if err != nil && errors.As(err, &statusErr) && res != nil {
		return res, nil
	}
	return res, err
}

func (f *CollyFetcher) fetchOnce(ctx context.Context, pageURL string) (*models.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transport.bind(ctx)
	defer f.transport.bind(nil)

	f.requests.Add(1)
	reqCtx := colly.NewContext()
	if err := f.collector.Request(http.MethodGet, pageURL, nil, reqCtx, nil); err != nil {
		f.metrics.IncRequest("error")
		return nil, classifyError(err)
	}

	status, _ := reqCtx.GetAny(ctxStatus).(int)
	body, _ := reqCtx.GetAny(ctxBody).([]byte)
	res := &models.FetchResult{URL: pageURL, StatusCode: status, Body: body}
	f.metrics.IncRequest(strconv.Itoa(status))

	if transientStatus(status) {
		return res, &StatusError{StatusCode: status, Message: StatusMessage(status)}
	}
	return res, nil
}

func retryableFetch(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return true
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}
	var conn ErrConnection
	return errors.As(err, &conn)
}

// ctxTransport cancels the in-flight request when the bound context is done.
// colly builds its requests without a context, so the fetch context is
// attached here.
type ctxTransport struct {
	mu   sync.Mutex
	base http.RoundTripper
	ctx  context.Context
}

func (t *ctxTransport) setBase(rt http.RoundTripper) {
	t.mu.Lock()
	t.base = rt
	t.mu.Unlock()
}

func (t *ctxTransport) bind(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	base, ctx := t.base, t.ctx
	t.mu.Unlock()
	if base == nil {
		base = http.DefaultTransport
	}
	if ctx == nil {
		return base.RoundTrip(req)
	}

	reqCtx, cancel := context.WithCancel(req.Context())
	stop := context.AfterFunc(ctx, cancel)
	release := func() {
		stop()
		cancel()
	}

	resp, err := base.RoundTrip(req.WithContext(reqCtx))
	if err != nil {
		release()
		return nil, err
	}
	// The body is read after RoundTrip returns; keep the request alive until then.
	resp.Body = &releaseBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

type releaseBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
