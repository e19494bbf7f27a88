package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-beaches/config"
	"github.com/aluiziolira/go-scrape-beaches/geocode"
	"github.com/aluiziolira/go-scrape-beaches/models"
	"github.com/aluiziolira/go-scrape-beaches/pipeline"
	"github.com/aluiziolira/go-scrape-beaches/retry"
	"github.com/aluiziolira/go-scrape-beaches/scraper"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("start_page", cfg.StartPage),
		slog.Int("pages", cfg.MaxPages),
		slog.Bool("geocode", cfg.GeocodeEnabled),
		slog.Int("geocode_workers", cfg.GeocodeWorkers),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	var resolver pipeline.Resolver
	if cfg.GeocodeEnabled {
		r, err := newResolver(cfg, geocode.NewMetrics(s.Metrics.Registry))
		if err != nil {
			slog.Error("initialising geocoder", slog.Any("error", err))
			os.Exit(1)
		}
		resolver = r
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics.Registry)

	p := pipeline.NewPipeline(ctx, writer, resolver, cfg)
	p.Start(cfg.GeocodeWorkers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, runErr := s.Run(ctx, p)
	if runErr != nil {
		slog.Error("scraping stopped", slog.Any("error", runErr), slog.Int("failed_page", result.FailedPage))
	}

	exitCode := 0
	if runErr != nil {
		exitCode = 1
	}
	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		exitCode = 1
	}

	table := p.Table()
	if len(table) == 0 {
		slog.Warn("no beaches scraped")
	} else if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		exitCode = 1
	}
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
		exitCode = 1
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(os.Stdout, result, time.Since(startTime), cfg.OutputFile, p.GetMetrics(), runErr)
	os.Exit(exitCode)
}

// parseConfig layers defaults, the optional YAML file, the environment and
// then any flag given explicitly on the command line.
func parseConfig(args []string, output io.Writer) (*config.Config, error) {
	def := config.DefaultConfig()
	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	fs.SetOutput(output)

	configPath := fs.String("config", "", "YAML config file")
	maxPages := fs.Int("pages", def.MaxPages, "Number of listing pages to scrape")
	startPage := fs.Int("start-page", def.StartPage, "First listing page index")
	baseURL := fs.String("base-url", def.BaseURL, "Listing base URL; pages are <base-url>/<n>")
	timeout := fs.Duration("timeout", def.Timeout, "Per-request timeout")
	maxRetries := fs.Int("max-retries", def.MaxRetries, "Maximum retry attempts per request")
	retryBackoff := fs.Duration("retry-backoff", def.RetryBackoff, "Initial retry backoff")
	retryBackoffMax := fs.Duration("retry-backoff-max", def.RetryBackoffMax, "Maximum retry backoff")
	respectRobots := fs.Bool("respect-robots", def.RespectRobotsTxt, "Respect robots.txt directives")
	malformed := fs.String("malformed", def.MalformedPolicy, "Malformed listing items: skip or fail")
	geocodeEnabled := fs.Bool("geocode", def.GeocodeEnabled, "Resolve coordinates for each beach")
	geocodeURL := fs.String("geocode-url", def.GeocodeURL, "Nominatim search endpoint")
	geocodeAgent := fs.String("geocode-agent", def.GeocodeUserAgent, "User-Agent sent to the geocoding service")
	geocodeRPS := fs.Float64("geocode-rps", def.GeocodeRPS, "Geocoding requests per second (0 disables throttling)")
	geocodeWorkers := fs.Int("geocode-workers", def.GeocodeWorkers, "Concurrent geocoding workers")
	geocodeCache := fs.Int("geocode-cache", def.GeocodeCacheSize, "Geocoding cache size")
	outputFile := fs.String("output", def.OutputFile, "Output file path")
	outputFormat := fs.String("format", def.OutputFormat, "Output format: csv, json, sqlite, dual, or a comma-separated mix such as csv,sqlite")
	metricsAddr := fs.String("metrics-addr", def.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	verbose := fs.Bool("v", def.Verbose, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pages":
			cfg.MaxPages = *maxPages
		case "start-page":
			cfg.StartPage = *startPage
		case "base-url":
			cfg.BaseURL = *baseURL
		case "timeout":
			cfg.Timeout = *timeout
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "retry-backoff":
			cfg.RetryBackoff = *retryBackoff
		case "retry-backoff-max":
			cfg.RetryBackoffMax = *retryBackoffMax
		case "respect-robots":
			cfg.RespectRobotsTxt = *respectRobots
		case "malformed":
			cfg.MalformedPolicy = strings.ToLower(*malformed)
		case "geocode":
			cfg.GeocodeEnabled = *geocodeEnabled
		case "geocode-url":
			cfg.GeocodeURL = *geocodeURL
		case "geocode-agent":
			cfg.GeocodeUserAgent = *geocodeAgent
		case "geocode-rps":
			cfg.GeocodeRPS = *geocodeRPS
		case "geocode-workers":
			cfg.GeocodeWorkers = *geocodeWorkers
		case "geocode-cache":
			cfg.GeocodeCacheSize = *geocodeCache
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "v":
			cfg.Verbose = *verbose
		}
	})

	return cfg, nil
}

func newResolver(cfg *config.Config, metrics *geocode.Metrics) (*geocode.Resolver, error) {
	client := geocode.NewNominatim(
		geocode.WithRequestTimeout(cfg.GeocodeTimeout),
		geocode.WithBaseURL(cfg.GeocodeURL),
		geocode.WithUserAgent(cfg.GeocodeUserAgent),
		geocode.WithRateLimit(cfg.GeocodeRPS),
	)
	return geocode.NewResolver(client, cfg.GeocodeCacheSize,
		geocode.WithRetryPolicy(retry.Policy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
			BackoffMax: cfg.RetryBackoffMax,
		}),
		geocode.WithMetrics(metrics),
	)
}

func startMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	if addr == "" || registry == nil {
		return nil
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

// createWriter opens one output per format. Combined formats fan out through a
// MultiWriter: the first output uses filename, the rest a sibling with the
// format's extension.
func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	formats, err := config.ParseOutputFormats(format)
	if err != nil {
		return nil, err
	}
	if len(formats) == 1 {
		return newOutput(formats[0], filename)
	}

	writers := make([]pipeline.OutputWriter, 0, len(formats))
	for i, f := range formats {
		path := filename
		if i > 0 {
			path = siblingPath(filename, f)
		}
		w, err := newOutput(f, path)
		if err != nil {
			for _, opened := range writers {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open %s output: %w", f, err)
		}
		writers = append(writers, w)
	}
	return pipeline.NewMultiWriter(writers...)
}

func newOutput(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "sqlite":
		return pipeline.NewSQLiteWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

var formatExt = map[string]string{"csv": ".csv", "json": ".json", "sqlite": ".db"}

func siblingPath(filename, format string) string {
	ext := formatExt[format]
	path := strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
	if path == filename {
		path = filename + ext
	}
	return path
}

func printSummary(w io.Writer, result *models.ScraperResult, duration time.Duration, outputFile string, metrics map[string]interface{}, runErr error) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	if runErr != nil {
		fmt.Fprintln(w, "Scrape aborted")
	} else {
		fmt.Fprintln(w, "Scrape complete")
	}

	processed, _ := metrics["processed_records"].(int64)
	geocoded, _ := metrics["geocoded_records"].(int64)
	unresolved, _ := metrics["unresolved_records"].(int64)

	fmt.Fprintf(w, "  Beaches:       %d\n", processed)
	fmt.Fprintf(w, "  Geocoded:      %d\n", geocoded)
	fmt.Fprintf(w, "  Unresolved:    %d\n", unresolved)
	fmt.Fprintf(w, "  Pages:         %d (%d without listing)\n", result.PageCount, result.EmptyPages)
	fmt.Fprintf(w, "  Requests:      %d\n", result.RequestCount)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Skipped items: %d\n", result.SkippedItems)
	fmt.Fprintf(w, "  Errors:        %d\n", result.ErrorCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	if runErr != nil {
		fmt.Fprintf(w, "  Stopped at:    page %d: %v\n", result.FailedPage, runErr)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
