package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-beaches/models"
)

// MultiWriter fans every batch out to several outputs in order.
type MultiWriter struct {
	writers []OutputWriter
}

// NewMultiWriter combines writers. At least one is required.
func NewMultiWriter(writers ...OutputWriter) (*MultiWriter, error) {
	if len(writers) == 0 {
		return nil, errors.New("multi writer needs at least one output")
	}
	for i, w := range writers {
		if w == nil {
			return nil, fmt.Errorf("output %d is nil", i)
		}
	}
	return &MultiWriter{writers: writers}, nil
}

// Write stops at the first output that fails; later outputs miss the batch.
func (mw *MultiWriter) Write(records []*models.BeachRecord) error {
	for i, w := range mw.writers {
		if err := w.Write(records); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every output even if some fail.
func (mw *MultiWriter) Close() error {
	var errs []error
	for i, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate reports every output that holds no records.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for i, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("validate output %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
