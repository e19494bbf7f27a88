package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-beaches/config"
	"github.com/aluiziolira/go-scrape-beaches/models"
)

// RecordSink receives the records of each page in discovery order.
type RecordSink interface {
	Process(records ...*models.BeachRecord) error
}

// Scraper walks the listing pages and feeds parsed records into a sink.
type Scraper struct {
	cfg     *config.Config
	fetcher Fetcher
	Metrics *Metrics

	mu           sync.Mutex
	errorCount   int
	errorsByType map[string]int
}

// NewScraper builds a scraper instance configured from cfg, fetching with colly.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewCollyFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}
	s := NewScraperWithFetcher(cfg, fetcher)
	s.Metrics = metrics
	return s, nil
}

// NewScraperWithFetcher builds a scraper around an existing Fetcher.
func NewScraperWithFetcher(cfg *config.Config, fetcher Fetcher) *Scraper {
	return &Scraper{
		cfg:          cfg,
		fetcher:      fetcher,
		errorsByType: make(map[string]int),
	}
}

// Run scrapes pages StartPage through StartPage+MaxPages-1 in order.
//
// A page that cannot be fetched or answers with a non-200 status stops the run
// with a *PageError. Records from earlier pages have already reached the sink
// and are kept. The returned result is never nil.
func (s *Scraper) Run(ctx context.Context, sink RecordSink) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.ScraperResult{StartTime: time.Now()}
	err := s.run(ctx, sink, result)

	result.EndTime = time.Now()
	result.ErrorCount, result.ErrorsByType = s.snapshotErrors()
	if cf, ok := s.fetcher.(*CollyFetcher); ok {
		result.RequestCount = cf.Requests()
		result.RetryCount = cf.Retries()
	}
	return result, err
}

func (s *Scraper) run(ctx context.Context, sink RecordSink, result *models.ScraperResult) error {
	last := s.cfg.StartPage + s.cfg.MaxPages - 1
	for page := s.cfg.StartPage; page <= last; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scrapePage(ctx, page, sink, result); err != nil {
			result.FailedPage = page
			s.Metrics.IncPage("failed")
			return err
		}
	}
	return nil
}

func (s *Scraper) scrapePage(ctx context.Context, page int, sink RecordSink, result *models.ScraperResult) error {
	pageURL := s.cfg.PageURL(page)

	res, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		s.recordError(err)
		return &PageError{Page: page, Err: err}
	}

	listing, err := ExtractListing(res, s.cfg.ListingSelector)
	if err != nil {
		s.recordError(err)
		return &PageError{Page: page, StatusCode: res.StatusCode, Err: err}
	}

	result.PageCount++
	if listing == nil {
		result.EmptyPages++
		s.Metrics.IncPage("empty")
		slog.Debug("no listing container on page", slog.Int("page", page), slog.String("url", pageURL))
		return nil
	}

	var (
		records []*models.BeachRecord
		itemErr error
	)
	listing.Find(s.cfg.ItemSelector).EachWithBreak(func(i int, item *goquery.Selection) bool {
		result.ItemCount++
		record, err := ParseItem(item, s.cfg.HeadingSelector, s.cfg.HeadingDelimiter)
		if err == nil {
			records = append(records, record)
			s.Metrics.IncItems()
			return true
		}

		ie := &ItemError{Page: page, Index: i, Err: err}
		s.recordError(ie)
		if s.cfg.MalformedPolicy == config.MalformedFail {
			itemErr = ie
			return false
		}
		result.SkippedItems++
		s.Metrics.IncSkipped()
		slog.Warn("skipping listing item", slog.Int("page", page), slog.Int("index", i), slog.Any("error", err))
		return true
	})

	if len(records) > 0 {
		if err := sink.Process(records...); err != nil {
			return fmt.Errorf("process page %d: %w", page, err)
		}
	}
	if itemErr != nil {
		return itemErr
	}

	s.Metrics.IncPage("ok")
	slog.Info("page scraped",
		slog.Int("page", page),
		slog.Int("records", len(records)),
	)
	return nil
}

func (s *Scraper) recordError(err error) {
	category := errorTypeLabel(err)

	s.mu.Lock()
	s.errorCount++
	s.errorsByType[category]++
	s.mu.Unlock()

	s.Metrics.IncError(category)
}

func (s *Scraper) snapshotErrors() (int, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return s.errorCount, out
}
