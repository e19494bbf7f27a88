package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvString returns the trimmed value of key and whether it was set to something non-empty.
func EnvString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer. An unset variable is not an error.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s=%q: %w", key, raw, err)
	}
	return v, true, nil
}

// ApplyEnv overlays the SCRAPER_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v, ok, err := EnvInt("SCRAPER_PAGES"); err != nil {
		return err
	} else if ok {
		c.MaxPages = v
	}
	if v, ok, err := EnvInt("SCRAPER_GEOCODE_WORKERS"); err != nil {
		return err
	} else if ok {
		c.GeocodeWorkers = v
	}
	if v, ok := EnvString("SCRAPER_BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := EnvString("SCRAPER_OUTPUT"); ok {
		c.OutputFile = v
	}
	if v, ok := EnvString("SCRAPER_FORMAT"); ok {
		c.OutputFormat = strings.ToLower(v)
	}
	if v, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("SCRAPER_GEOCODE_AGENT"); ok {
		c.GeocodeUserAgent = v
	}
	return nil
}
