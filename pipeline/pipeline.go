package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-beaches/config"
	"github.com/aluiziolira/go-scrape-beaches/models"
	"github.com/aluiziolira/go-scrape-beaches/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when Close gives up waiting for in-flight work.
	ErrPipelineCloseTimeout = errors.New("pipeline: timed out draining")
	// ErrInvalidRecord is returned by Process for records that cannot enter the table.
	ErrInvalidRecord = errors.New("pipeline: invalid record")
)

// drainTimeout bounds how long Close waits for workers and the writer.
var drainTimeout = 2 * time.Minute

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.BeachRecord) error
	Close() error
	Validate() error
}

// Resolver attaches coordinates to a beach name. Empty strings mean unresolved.
type Resolver interface {
	Resolve(ctx context.Context, name string) (lat, lon string)
}

type job struct {
	seq    int
	record *models.BeachRecord
}

// Pipeline geocodes records on a pool of workers and hands them to the writer
// in the order they were submitted. The ordered result is kept as the table.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	resolver  Resolver
	jobCh     chan job
	resultCh  chan job
	batchSize int

	wg        sync.WaitGroup
	collected chan struct{}
	startOnce sync.Once

	seqMu   sync.Mutex
	nextSeq int

	tableMu sync.Mutex
	table   []*models.BeachRecord

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	drained      chan struct{}
	drainOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline writing to writer. A nil writer keeps records
// in memory only; a nil resolver leaves coordinates empty.
func NewPipeline(ctx context.Context, writer OutputWriter, resolver Resolver, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	bufferSize := cfg.PipelineBufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		resolver:  resolver,
		jobCh:     make(chan job, bufferSize),
		resultCh:  make(chan job, bufferSize),
		batchSize: batchSize,
		collected: make(chan struct{}),
		metrics:   newMetrics(),
		drained:   make(chan struct{}),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines and the ordered collector.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.startOnce.Do(func() {
		go p.collect()
	})
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues records for geocoding and output, preserving their order.
// The call is rejected with ErrInvalidRecord, and nothing is enqueued, when
// any record is nil or has no name.
func (p *Pipeline) Process(records ...*models.BeachRecord) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for i, record := range records {
		if err := parser.ValidateRecord(record); err != nil {
			p.metrics.addValidation("invalid_record")
			return fmt.Errorf("%w: record %d: %v", ErrInvalidRecord, i, err)
		}
	}

	for _, record := range records {
		if err := p.enqueue(record); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for in-flight records to be written and prevents more submissions.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.jobCh)
	})
	p.startOnce.Do(func() {
		go p.collect()
	})

	p.drainOnce.Do(func() {
		go func() {
			p.wg.Wait()
			close(p.resultCh)
			<-p.collected
			close(p.drained)
		}()
	})

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-p.drained:
		return p.Err()
	case <-timer.C:
		return ErrPipelineCloseTimeout
	}
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Table returns the records collected so far in discovery order.
func (p *Pipeline) Table() []*models.BeachRecord {
	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	out := make([]*models.BeachRecord, len(p.table))
	copy(out, p.table)
	return out
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := p.metrics.snapshot()
				slog.Info("pipeline progress",
					slog.Int64("processed", snap["processed_records"].(int64)),
					slog.Int64("geocoded", snap["geocoded_records"].(int64)),
					slog.Int64("unresolved", snap["unresolved_records"].(int64)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for j := range p.jobCh {
		j.record = p.prepare(j.record)
		p.resultCh <- j
	}
}

func (p *Pipeline) prepare(record *models.BeachRecord) *models.BeachRecord {
	if p.resolver != nil && !record.HasCoordinates() {
		record.Latitude, record.Longitude = p.resolver.Resolve(p.ctx, record.Name)
	}
	if record.HasCoordinates() {
		p.metrics.incrementGeocoded()
	} else {
		p.metrics.incrementUnresolved()
	}

	p.metrics.incrementProcessed()
	return record
}

// collect reorders worker output by sequence number, appends it to the table
// and writes it in batches.
func (p *Pipeline) collect() {
	defer close(p.collected)

	pending := make(map[int]*models.BeachRecord)
	next := 0
	batch := make([]*models.BeachRecord, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if p.writer != nil && p.Err() == nil {
			if err := p.writer.Write(batch); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
			}
		}
		batch = batch[:0]
	}

	for res := range p.resultCh {
		pending[res.seq] = res.record
		for {
			record, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			p.tableMu.Lock()
			p.table = append(p.table, record)
			p.tableMu.Unlock()

			batch = append(batch, record)
			if len(batch) >= p.batchSize {
				flush()
			}
		}
	}

	flush()
}

func (p *Pipeline) enqueue(record *models.BeachRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	p.seqMu.Lock()
	defer p.seqMu.Unlock()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.jobCh <- job{seq: p.nextSeq, record: record}:
		p.nextSeq++
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	geocoded   int64
	unresolved int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) incrementGeocoded() {
	m.mu.Lock()
	m.geocoded++
	m.mu.Unlock()
}

func (m *metrics) incrementUnresolved() {
	m.mu.Lock()
	m.unresolved++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records":  m.processed,
		"geocoded_records":   m.geocoded,
		"unresolved_records": m.unresolved,
		"validation_errors":  copyValidation,
	}
}
