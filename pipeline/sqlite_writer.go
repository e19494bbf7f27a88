package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-beaches/models"
)

const beachSchema = `
CREATE TABLE IF NOT EXISTS beaches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	beach_name TEXT NOT NULL,
	state      TEXT NOT NULL,
	latitude   REAL,
	longitude  REAL
);
DELETE FROM beaches;
`

const insertBeach = `INSERT INTO beaches (beach_name, state, latitude, longitude) VALUES (?, ?, ?, ?)`

// SQLiteWriter stores records in a beaches table. Row ids follow write order.
type SQLiteWriter struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database file and empties the table.
func NewSQLiteWriter(filename string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(beachSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &SQLiteWriter{db: db}, nil
}

// Write inserts a batch in one transaction.
func (sw *SQLiteWriter) Write(records []*models.BeachRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := sw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertBeach)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Name, rec.State, nullCoordinate(rec.Latitude), nullCoordinate(rec.Longitude)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %q: %w", rec.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate ensures the table holds at least one row.
func (sw *SQLiteWriter) Validate() error {
	var count int
	if err := sw.db.QueryRow(`SELECT COUNT(*) FROM beaches`).Scan(&count); err != nil {
		return fmt.Errorf("count sqlite rows: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("sqlite table is empty")
	}
	return nil
}

func nullCoordinate(v string) sql.NullFloat64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
