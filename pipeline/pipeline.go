package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkotliar/bookcrawl/models"
)

var (
	// ErrExporterClosed is returned when Process is called after shutdown.
	ErrExporterClosed = errors.New("exporter: closed")
)

// Exporter streams extracted records to an ExportWriter while a crawl is in
// flight, de-duplicating by source URL and batching writes. It is a side
// channel next to the database reconcile and never blocks the crawl on a
// slow disk for individual records.
type Exporter struct {
	writer    ExportWriter
	recordCh  chan *models.Record
	batchSize int

	wg sync.WaitGroup

	seen   map[string]struct{}
	seenMu sync.Mutex

	counters counters

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewExporter builds an exporter with a modest in-memory buffer.
func NewExporter(writer ExportWriter) *Exporter {
	return &Exporter{
		writer:    writer,
		recordCh:  make(chan *models.Record, 512),
		batchSize: 64,
		seen:      make(map[string]struct{}),
		counters:  newCounters(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (e *Exporter) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Process enqueues records for export.
func (e *Exporter) Process(records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}

	closed, err := e.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrExporterClosed
	}

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := e.enqueue(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for workers to finish and prevents more submissions.
func (e *Exporter) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
	}
	e.mu.Unlock()

	e.signalShutdown()
	e.closeOnce.Do(func() {
		close(e.recordCh)
	})

	e.wg.Wait()
	return e.Err()
}

// Err returns the first error encountered during export.
func (e *Exporter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Stats returns a snapshot of the internal counters.
func (e *Exporter) Stats() map[string]int64 {
	return e.counters.snapshot()
}

// StartProgressReporting emits periodic progress logs until shutdown.
func (e *Exporter) StartProgressReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := e.Stats()
				slog.Info("export progress",
					slog.Int64("exported", stats["exported"]),
					slog.Int64("duplicates", stats["duplicates"]),
					slog.Int64("dropped", stats["dropped"]),
				)
			case <-e.shutdown:
				return
			}
		}
	}()
}

func (e *Exporter) worker() {
	defer e.wg.Done()

	batch := make([]*models.Record, 0, e.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for rec := range e.recordCh {
		prepared := e.prepare(rec)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= e.batchSize {
			if err := flush(); err != nil {
				e.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		e.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (e *Exporter) prepare(rec *models.Record) *models.Record {
	if rec.Title == "" {
		e.counters.add("dropped")
		return nil
	}

	e.seenMu.Lock()
	if _, ok := e.seen[rec.SourceURL]; ok {
		e.seenMu.Unlock()
		e.counters.add("duplicates")
		return nil
	}
	e.seen[rec.SourceURL] = struct{}{}
	e.seenMu.Unlock()

	e.counters.add("exported")
	return rec
}

func (e *Exporter) enqueue(rec *models.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrExporterClosed
		}
	}()

	select {
	case <-e.shutdown:
		return ErrExporterClosed
	case e.recordCh <- rec:
		return nil
	}
}

func (e *Exporter) setErr(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	if e.err != nil {
		e.mu.Unlock()
		return
	}
	e.err = err
	e.closed = true
	e.mu.Unlock()

	e.signalShutdown()
	e.closeOnce.Do(func() {
		close(e.recordCh)
	})
}

func (e *Exporter) state() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed, e.err
}

func (e *Exporter) signalShutdown() {
	e.shutdownOnce.Do(func() {
		close(e.shutdown)
	})
}

type counters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newCounters() counters {
	return counters{counts: make(map[string]int64)}
}

func (c *counters) add(key string) {
	c.mu.Lock()
	c.counts[key]++
	c.mu.Unlock()
}

func (c *counters) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
