package pipeline

import (
	"bufio"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-beaches/models"
)

func sampleRecords() []*models.BeachRecord {
	return []*models.BeachRecord{
		{Name: "Lanikai Beach", State: "Hawaii", Latitude: "21.3917", Longitude: "-157.7148"},
		{Name: "Nowhere Cove", State: "Maine"},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beaches.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected validate error before any rows")
	}

	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	want := []string{"beach_name", "state", "latitude", "longitude"}
	for i, col := range want {
		if records[0][i] != col {
			t.Fatalf("unexpected header: %v", records[0])
		}
	}
	if records[1][0] != "Lanikai Beach" || records[1][2] != "21.3917" {
		t.Fatalf("unexpected first row: %v", records[1])
	}
	if records[2][2] != "" || records[2][3] != "" {
		t.Fatalf("unresolved row should have empty coordinates: %v", records[2])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beaches.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var names []string
	for scanner.Scan() {
		var decoded models.BeachRecord
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		names = append(names, decoded.Name)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(names) != 2 || names[0] != "Lanikai Beach" || names[1] != "Nowhere Cove" {
		t.Fatalf("json names=%v", names)
	}
}

func TestMultiWriterFansOutToEveryOutput(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "beaches.csv")
	dbPath := filepath.Join(dir, "beaches.db")

	csvWriter, err := NewCSVWriter(csvPath)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	sqliteWriter, err := NewSQLiteWriter(dbPath)
	if err != nil {
		t.Fatalf("create sqlite writer: %v", err)
	}

	writer, err := NewMultiWriter(csvWriter, sqliteWriter)
	if err != nil {
		t.Fatalf("create multi writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv rows=%d, want 3", len(rows))
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM beaches`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("sqlite rows=%d, want 2", count)
	}
}

func TestNewMultiWriterRejectsMissingOutputs(t *testing.T) {
	if _, err := NewMultiWriter(); err == nil {
		t.Fatalf("expected error without outputs")
	}
	if _, err := NewMultiWriter(&mockWriter{}, nil); err == nil {
		t.Fatalf("expected error for nil output")
	}
}

func TestMultiWriterStopsAtFailingOutput(t *testing.T) {
	boom := errors.New("disk full")
	first := &mockWriter{}
	broken := &mockWriter{writeErr: boom}
	last := &mockWriter{}

	writer, err := NewMultiWriter(first, broken, last)
	if err != nil {
		t.Fatalf("create multi writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	if len(first.names()) != 2 {
		t.Fatalf("first output should have the batch")
	}
	if len(last.names()) != 0 {
		t.Fatalf("outputs after the failure should not be written")
	}
}

func TestMultiWriterCloseAndValidateJoinErrors(t *testing.T) {
	invalid := errors.New("no rows")
	a := &mockWriter{validateErr: invalid}
	b := &mockWriter{}
	c := &mockWriter{validateErr: invalid}

	writer, err := NewMultiWriter(a, b, c)
	if err != nil {
		t.Fatalf("create multi writer: %v", err)
	}
	err = writer.Validate()
	if !errors.Is(err, invalid) {
		t.Fatalf("expected validate error, got %v", err)
	}
	if !strings.Contains(err.Error(), "output 0") || !strings.Contains(err.Error(), "output 2") {
		t.Fatalf("validate error should name both outputs: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for i, w := range []*mockWriter{a, b, c} {
		if !w.closed {
			t.Fatalf("output %d was not closed", i)
		}
	}
}

func TestSQLiteWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "beaches.db")

	writer, err := NewSQLiteWriter(path)
	if err != nil {
		t.Fatalf("create sqlite writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected validate error on empty table")
	}

	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write sqlite: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate sqlite: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT beach_name, latitude FROM beaches ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var (
		names []string
		lats  []sql.NullFloat64
	)
	for rows.Next() {
		var name string
		var lat sql.NullFloat64
		if err := rows.Scan(&name, &lat); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names = append(names, name)
		lats = append(lats, lat)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	if len(names) != 2 || names[0] != "Lanikai Beach" || names[1] != "Nowhere Cove" {
		t.Fatalf("names=%v", names)
	}
	if !lats[0].Valid || lats[0].Float64 != 21.3917 {
		t.Fatalf("latitude=%v, want 21.3917", lats[0])
	}
	if lats[1].Valid {
		t.Fatalf("unresolved latitude should be NULL, got %v", lats[1])
	}
}

func TestSQLiteWriterReopenReplacesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beaches.db")

	for i := 0; i < 2; i++ {
		writer, err := NewSQLiteWriter(path)
		if err != nil {
			t.Fatalf("create sqlite writer: %v", err)
		}
		if err := writer.Write(sampleRecords()); err != nil {
			t.Fatalf("write sqlite: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("close sqlite: %v", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM beaches`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("rows=%d, want 2", count)
	}
}
