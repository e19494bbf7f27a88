package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-beaches/models"
	"github.com/aluiziolira/go-scrape-beaches/pipeline"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MaxPages != 29 || cfg.StartPage != 1 {
		t.Fatalf("pages = %d from %d, want 29 from 1", cfg.MaxPages, cfg.StartPage)
	}
	if cfg.BaseURL != "https://www.worldbeachguide.com/usa" {
		t.Fatalf("base url = %q", cfg.BaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scraper.yaml")
	yaml := "max_pages: 5\noutput_file: from-file.csv\ngeocode_workers: 2\nretry_backoff: 1s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SCRAPER_OUTPUT", "from-env.csv")
	t.Setenv("SCRAPER_GEOCODE_WORKERS", "6")

	cfg, err := parseConfig([]string{"-config", path, "-geocode-workers", "8", "-format", "SQLITE"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.MaxPages != 5 {
		t.Fatalf("max pages = %d, want 5 from file", cfg.MaxPages)
	}
	if cfg.RetryBackoff != time.Second {
		t.Fatalf("retry backoff = %v, want 1s from file", cfg.RetryBackoff)
	}
	if cfg.OutputFile != "from-env.csv" {
		t.Fatalf("output = %q, want env value", cfg.OutputFile)
	}
	if cfg.GeocodeWorkers != 8 {
		t.Fatalf("geocode workers = %d, want 8 from flag", cfg.GeocodeWorkers)
	}
	if cfg.OutputFormat != "sqlite" {
		t.Fatalf("format = %q, want sqlite", cfg.OutputFormat)
	}
}

func TestParseConfigUnsetFlagKeepsEnv(t *testing.T) {
	t.Setenv("SCRAPER_PAGES", "3")

	cfg, err := parseConfig([]string{"-v"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MaxPages != 3 || !cfg.Verbose {
		t.Fatalf("pages=%d verbose=%v", cfg.MaxPages, cfg.Verbose)
	}
}

func TestParseConfigErrors(t *testing.T) {
	if _, err := parseConfig([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, io.Discard); err == nil {
		t.Fatalf("expected error for missing config file")
	}

	t.Setenv("SCRAPER_PAGES", "many")
	if _, err := parseConfig(nil, io.Discard); err == nil {
		t.Fatalf("expected error for invalid SCRAPER_PAGES")
	}
}

func TestCreateWriter(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		format  string
		file    string
		wantErr bool
	}{
		{format: "csv", file: "beaches.csv"},
		{format: "json", file: "beaches.jsonl"},
		{format: "dual", file: "dual.csv"},
		{format: "sqlite", file: "beaches.db"},
		{format: "csv,sqlite", file: "mixed.csv"},
		{format: "json,json", file: "single.json"},
		{format: "xml", file: "beaches.xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			writer, err := createWriter(tt.format, filepath.Join(dir, tt.file))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.format)
				}
				return
			}
			if err != nil {
				t.Fatalf("create %s writer: %v", tt.format, err)
			}
			if err := writer.Write([]*models.BeachRecord{{Name: "Lanikai Beach", State: "Hawaii"}}); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := writer.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(dir, "dual.json")); err != nil {
		t.Fatalf("dual writer should create the json sibling: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "mixed.db")); err != nil {
		t.Fatalf("csv,sqlite writer should create the sqlite sibling: %v", err)
	}

	if got := siblingPath(filepath.Join(dir, "beaches.json"), "json"); got != filepath.Join(dir, "beaches.json.json") {
		t.Fatalf("sibling path = %q, must not collide with the primary file", got)
	}

	var _ pipeline.OutputWriter = (*pipeline.SQLiteWriter)(nil)
}

func TestPrintSummary(t *testing.T) {
	result := &models.ScraperResult{
		PageCount:    2,
		EmptyPages:   1,
		RequestCount: 3,
		FailedPage:   3,
		ErrorCount:   1,
		ErrorsByType: map[string]int{"not_found": 1},
	}
	metrics := map[string]interface{}{
		"processed_records":  int64(4),
		"geocoded_records":   int64(3),
		"unresolved_records": int64(1),
		"validation_errors":  map[string]int{},
	}

	var buf bytes.Buffer
	printSummary(&buf, result, time.Second, "out.csv", metrics, errors.New("Invalid URL. Error 404 (page 3)"))
	out := buf.String()

	for _, want := range []string{"Scrape aborted", "Beaches:       4", "Geocoded:      3", "page 3", "out.csv"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}
