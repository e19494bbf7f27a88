package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aluiziolira/go-scrape-beaches/geocode"
)

// Policies for listing items whose heading is missing or cannot be split.
const (
	MalformedSkip = "skip"
	MalformedFail = "fail"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string        `yaml:"base_url"`
	StartPage        int           `yaml:"start_page"`
	MaxPages         int           `yaml:"max_pages"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	UserAgent        string        `yaml:"user_agent"`
	RespectRobotsTxt bool          `yaml:"respect_robots_txt"`

	ListingSelector  string `yaml:"listing_selector"`
	ItemSelector     string `yaml:"item_selector"`
	HeadingSelector  string `yaml:"heading_selector"`
	HeadingDelimiter string `yaml:"heading_delimiter"`
	MalformedPolicy  string `yaml:"malformed_policy"` // skip or fail

	GeocodeEnabled   bool          `yaml:"geocode_enabled"`
	GeocodeURL       string        `yaml:"geocode_url"`
	GeocodeUserAgent string        `yaml:"geocode_user_agent"`
	GeocodeRPS       float64       `yaml:"geocode_rps"`
	GeocodeWorkers   int           `yaml:"geocode_workers"`
	GeocodeCacheSize int           `yaml:"geocode_cache_size"`
	GeocodeTimeout   time.Duration `yaml:"geocode_timeout"`

	PipelineBufferSize int    `yaml:"pipeline_buffer_size"`
	BatchSize          int    `yaml:"batch_size"`
	OutputFile         string `yaml:"output_file"`
	OutputFormat       string `yaml:"output_format"` // csv, json, sqlite, dual, or a comma-separated mix
	MetricsAddr        string `yaml:"metrics_addr"`
	Verbose            bool   `yaml:"verbose"`
}

// DefaultConfig returns the defaults for the US beach listing.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://www.worldbeachguide.com/usa",
		StartPage:        1,
		MaxPages:         29,
		Timeout:          10 * time.Second,
		MaxRetries:       2,
		RetryBackoff:     200 * time.Millisecond,
		RetryBackoffMax:  2 * time.Second,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.36",
		RespectRobotsTxt: false,

		ListingSelector:  "ul.beach-list",
		ItemSelector:     "li",
		HeadingSelector:  "h2",
		HeadingDelimiter: "//",
		MalformedPolicy:  MalformedSkip,

		GeocodeEnabled:   true,
		GeocodeURL:       geocode.DefaultURL,
		GeocodeUserAgent: "go-scrape-beaches/1.0",
		GeocodeRPS:       1,
		GeocodeWorkers:   4,
		GeocodeCacheSize: 4096,
		GeocodeTimeout:   10 * time.Second,

		PipelineBufferSize: 512,
		BatchSize:          64,
		OutputFile:         "output/beaches.csv",
		OutputFormat:       "csv",
		MetricsAddr:        "",
		Verbose:            false,
	}
}

// LoadFile overlays the YAML document at path onto c. Keys missing from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// PageURL builds the listing URL for a page index.
func (c *Config) PageURL(page int) string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + strconv.Itoa(page)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.StartPage <= 0 {
		return fmt.Errorf("start page must be positive")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if c.ListingSelector == "" || c.ItemSelector == "" || c.HeadingSelector == "" {
		return fmt.Errorf("listing, item and heading selectors are required")
	}
	if c.HeadingDelimiter == "" {
		return fmt.Errorf("heading delimiter cannot be empty")
	}
	if c.MalformedPolicy != MalformedSkip && c.MalformedPolicy != MalformedFail {
		return fmt.Errorf("malformed policy must be %s or %s", MalformedSkip, MalformedFail)
	}

	if c.GeocodeEnabled {
		geoURL, err := url.Parse(c.GeocodeURL)
		if err != nil || geoURL.Host == "" {
			return fmt.Errorf("invalid geocode URL %q", c.GeocodeURL)
		}
		if c.GeocodeUserAgent == "" {
			return fmt.Errorf("geocode user agent cannot be empty")
		}
		if c.GeocodeRPS <= 0 {
			return fmt.Errorf("geocode rps must be positive")
		}
		if c.GeocodeCacheSize <= 0 {
			return fmt.Errorf("geocode cache size must be positive")
		}
		if c.GeocodeTimeout <= 0 {
			return fmt.Errorf("geocode timeout must be positive")
		}
	}
	if c.GeocodeWorkers <= 0 {
		return fmt.Errorf("geocode workers must be positive")
	}

	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if _, err := ParseOutputFormats(c.OutputFormat); err != nil {
		return err
	}

	return nil
}

// ParseOutputFormats expands a comma-separated format list such as
// "csv,sqlite" into individual outputs. "dual" stands for csv plus json.
// Repeated formats are kept once, in first-seen order.
func ParseOutputFormats(value string) ([]string, error) {
	var formats []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))

		var expanded []string
		switch part {
		case "dual":
			expanded = []string{"csv", "json"}
		case "csv", "json", "sqlite":
			expanded = []string{part}
		default:
			return nil, fmt.Errorf("output format %q must be csv, json, sqlite or dual", part)
		}

		for _, f := range expanded {
			if !seen[f] {
				seen[f] = true
				formats = append(formats, f)
			}
		}
	}
	return formats, nil
}
