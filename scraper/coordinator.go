package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkotliar/bookcrawl/models"
	"github.com/mkotliar/bookcrawl/pipeline"
	"github.com/mkotliar/bookcrawl/store"
)

// ErrNoActiveRun is returned by Stop when nothing is running.
var ErrNoActiveRun = errors.New("scraper: no active run")

// Coordinator owns the crawl run lifecycle: it opens a run, executes the
// walk-and-reconcile sequence as a managed background task, and moves the run
// to exactly one terminal status. Single-flight is enforced by the store;
// the coordinator only surfaces store.ErrRunActive to callers.
type Coordinator struct {
	cfg        crawlConfig
	store      store.Store
	walker     *Walker
	reconciler *pipeline.Reconciler
	metrics    *Metrics

	// ExportFactory, when set, creates a per-run export writer that receives
	// every record gathered by the walk.
	ExportFactory func(runID uint) (pipeline.ExportWriter, error)

	mu      sync.Mutex
	cancels map[uint]context.CancelFunc
	wg      sync.WaitGroup
}

// crawlConfig is the slice of configuration the coordinator needs.
type crawlConfig struct {
	MaxPages int
}

// NewCoordinator wires a coordinator over an already-constructed walker and
// reconciler.
func NewCoordinator(maxPages int, st store.Store, walker *Walker, reconciler *pipeline.Reconciler, metrics *Metrics) *Coordinator {
	return &Coordinator{
		cfg:        crawlConfig{MaxPages: maxPages},
		store:      st,
		walker:     walker,
		reconciler: reconciler,
		metrics:    metrics,
		cancels:    make(map[uint]context.CancelFunc),
	}
}

// Start opens a run and launches the crawl in the background. pages <= 0
// falls back to the configured page limit. When another run is already
// running, Start fails with store.ErrRunActive and launches nothing.
func (c *Coordinator) Start(ctx context.Context, pages int) (models.Run, error) {
	run, err := c.store.CreateRun(ctx)
	if err != nil {
		return models.Run{}, err
	}
	if pages <= 0 {
		pages = c.cfg.MaxPages
	}

	// The run outlives the request that started it, so it gets its own
	// context; Stop cancels it through the retained handle.
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[run.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.execute(runCtx, run, pages)

	slog.Info("crawl run started",
		slog.Uint64("run_id", uint64(run.ID)),
		slog.Int("pages", pages),
	)
	return run, nil
}

// Stop cancels every in-flight run and flips any running rows to
// interrupted. It returns how many runs were stopped, or ErrNoActiveRun.
func (c *Coordinator) Stop(ctx context.Context) (int, error) {
	c.mu.Lock()
	cancelled := len(c.cancels)
	for id, cancel := range c.cancels {
		cancel()
		delete(c.cancels, id)
	}
	c.mu.Unlock()

	flipped, err := c.store.InterruptRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("interrupt running runs: %w", err)
	}

	stopped := cancelled
	if flipped > stopped {
		stopped = flipped
	}
	if stopped == 0 {
		return 0, ErrNoActiveRun
	}

	slog.Info("crawl stopped", slog.Int("runs", stopped))
	return stopped, nil
}

// Status returns the run with the given id.
func (c *Coordinator) Status(ctx context.Context, id uint) (models.Run, error) {
	return c.store.GetRun(ctx, id)
}

// Recent returns the n most recently started runs.
func (c *Coordinator) Recent(ctx context.Context, n int) ([]models.Run, error) {
	return c.store.RecentRuns(ctx, n)
}

// Wait blocks until every background run has finished. Meant for shutdown.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) execute(ctx context.Context, run models.Run, pages int) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if cancel, ok := c.cancels[run.ID]; ok {
			cancel()
			delete(c.cancels, run.ID)
		}
		c.mu.Unlock()
	}()

	result, walkErr := c.walker.Walk(ctx, pages)
	if result == nil {
		result = &models.WalkResult{}
	}

	c.export(run.ID, result.Records)

	// Records gathered before an interrupt are still worth persisting, so
	// the reconcile runs even when the walk context is already cancelled.
	finishCtx := context.WithoutCancel(ctx)
	recResult, recErr := c.reconciler.Reconcile(finishCtx, result.Records)

	status := models.RunCompleted
	errMsg := ""
	switch {
	case walkErr != nil && errors.Is(walkErr, context.Canceled):
		status = models.RunInterrupted
	case walkErr != nil:
		status = models.RunFailed
		errMsg = walkErr.Error()
	case recErr != nil:
		status = models.RunFailed
		errMsg = recErr.Error()
	}

	counters := models.RunCounters{
		TotalFound:   len(result.Records),
		CreatedCount: recResult.Created,
		UpdatedCount: recResult.Updated,
		ErrorsCount:  result.PagesFailed + result.ItemsDropped + recResult.Skipped,
	}

	err := c.store.FinishRun(finishCtx, run.ID, status, counters, errMsg)
	switch {
	case errors.Is(err, store.ErrRunFinished):
		// Stop already flipped the row to interrupted; its outcome stands.
		status = models.RunInterrupted
	case err != nil:
		slog.Error("finish run failed",
			slog.Uint64("run_id", uint64(run.ID)),
			slog.Any("error", err),
		)
	}

	c.metrics.IncRun(string(status))
	c.metrics.IncReconciled("created", recResult.Created)
	c.metrics.IncReconciled("updated", recResult.Updated)
	c.metrics.IncReconciled("skipped", recResult.Skipped)

	slog.Info("crawl run finished",
		slog.Uint64("run_id", uint64(run.ID)),
		slog.String("status", string(status)),
		slog.Int("total_found", counters.TotalFound),
		slog.Int("created", counters.CreatedCount),
		slog.Int("updated", counters.UpdatedCount),
		slog.Int("errors", counters.ErrorsCount),
	)
}

// export streams the gathered records to a per-run export file, when
// configured. Export failures are logged and never affect the run outcome.
func (c *Coordinator) export(runID uint, records []*models.Record) {
	if c.ExportFactory == nil || len(records) == 0 {
		return
	}

	writer, err := c.ExportFactory(runID)
	if err != nil {
		slog.Warn("export writer init failed", slog.Any("error", err))
		return
	}

	exporter := pipeline.NewExporter(writer)
	exporter.Start(1)
	if err := exporter.Process(records); err != nil {
		slog.Warn("export failed", slog.Any("error", err))
	}
	if err := exporter.Close(); err != nil {
		slog.Warn("export close failed", slog.Any("error", err))
	}
	if err := writer.Close(); err != nil {
		slog.Warn("export file close failed", slog.Any("error", err))
	}
}
