package batch

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"watchdog/internal/core"
	"watchdog/internal/logger"
	"watchdog/internal/orchestrate"
	"watchdog/internal/persistence"
)

// Processor runs the per-URL pipeline. The orchestration service
// satisfies this.
type Processor interface {
	Open() error
	Close() error
	ProcessArticle(ctx context.Context, session persistence.Session, url, section string, newsSourceID int64, minConfidence float64) *orchestrate.OrchestrationResult
}

// SessionFactory hands each task its own database session plus a
// release function that must run on every path.
type SessionFactory interface {
	Acquire(ctx context.Context) (persistence.Session, func(), error)
}

// URLFilter answers which URLs are already stored, in one batch query.
type URLFilter interface {
	ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
}

// Options configures one batch run.
type Options struct {
	InputPath     string
	Concurrency   int
	MinConfidence float64
	SkipExisting  bool
	DryRun        bool
	OutputDir     string
	// Progress receives the live table; nil disables rendering.
	Progress io.Writer
}

// Validate enforces the option ranges.
func (o *Options) Validate() error {
	if o.InputPath == "" {
		return fmt.Errorf("%w: input path is required", core.ErrInvalidInput)
	}
	if o.Concurrency < 1 || o.Concurrency > 10 {
		return fmt.Errorf("%w: concurrency must be in [1, 10], got %d", core.ErrInvalidInput, o.Concurrency)
	}
	if err := core.ValidateConfidence(o.MinConfidence); err != nil {
		return err
	}
	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	return nil
}

// Result is the outcome of one batch run.
type Result struct {
	Snapshot    Snapshot
	SummaryPath string
	ErrorsPath  string
}

// Driver runs the pipeline over a JSONL file of leads.
type Driver struct {
	processor Processor
	sessions  SessionFactory
	filter    URLFilter
	opts      Options
}

// NewDriver creates a driver. filter may be nil when skip-existing is
// off.
func NewDriver(processor Processor, sessions SessionFactory, filter URLFilter, opts Options) (*Driver, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Driver{processor: processor, sessions: sessions, filter: filter, opts: opts}, nil
}

// Run loads the input, drains it through the worker pool, and writes
// the summary and error reports. Individual task failures are
// fail-soft; only setup failures abort the run.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	articles, err := core.ReadDiscoveredArticlesFile(d.opts.InputPath)
	if err != nil {
		return nil, err
	}

	stats := NewStatistics(len(articles))
	logger.Info("Batch started",
		"input", d.opts.InputPath, "articles", len(articles),
		"concurrency", d.opts.Concurrency, "dry_run", d.opts.DryRun)

	if err := d.processor.Open(); err != nil {
		return nil, fmt.Errorf("failed to open processor: %w", err)
	}
	defer d.processor.Close()

	if d.opts.SkipExisting {
		articles, err = d.filterExisting(ctx, articles, stats)
		if err != nil {
			return nil, err
		}
	}

	stop := make(chan struct{})
	rendererDone := startRenderer(d.opts.Progress, stats, stop)

	sem := semaphore.NewWeighted(int64(d.opts.Concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errorRecords []ErrorRecord

	for _, article := range articles {
		if err := sem.Acquire(ctx, 1); err != nil {
			logger.Warn("Batch interrupted", "error", err.Error())
			break
		}
		wg.Add(1)
		go func(article core.DiscoveredArticle) {
			defer wg.Done()
			defer sem.Release(1)

			result := d.processTask(ctx, article)
			stats.Record(result)
			if result.Failed() {
				mu.Lock()
				errorRecords = append(errorRecords, errorRecord(result))
				mu.Unlock()
			}
		}(article)
	}
	wg.Wait()
	close(stop)
	<-rendererDone

	finishedAt := time.Now()
	snap := stats.Snapshot()
	summaryPath, errorsPath, err := writeReports(d.opts, snap, errorRecords, finishedAt)
	if err != nil {
		return nil, err
	}

	logger.Info("Batch complete",
		"processed", snap.Processed, "stored", snap.Stored,
		"duplicates", snap.Duplicates, "skipped_existing", snap.SkippedExisting,
		"errors", snap.TotalErrors(), "summary", summaryPath)
	return &Result{Snapshot: snap, SummaryPath: summaryPath, ErrorsPath: errorsPath}, nil
}

// filterExisting subtracts already-stored URLs from the batch.
func (d *Driver) filterExisting(ctx context.Context, articles []core.DiscoveredArticle, stats *Statistics) ([]core.DiscoveredArticle, error) {
	if d.filter == nil || len(articles) == 0 {
		return articles, nil
	}

	urls := make([]string, len(articles))
	for i, article := range articles {
		urls[i] = article.URL
	}
	existing, err := d.filter.ExistingURLs(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing urls: %w", err)
	}

	remaining := articles[:0]
	for _, article := range articles {
		if _, ok := existing[article.URL]; ok {
			continue
		}
		remaining = append(remaining, article)
	}
	stats.AddSkipped(len(articles) - len(remaining))
	logger.Info("Pre-filtered existing urls", "skipped", len(articles)-len(remaining), "remaining", len(remaining))
	return remaining, nil
}

// processTask runs one lead on its own session. Panics and session
// failures are converted into error results so the pool keeps
// draining.
func (d *Driver) processTask(ctx context.Context, article core.DiscoveredArticle) (result *orchestrate.OrchestrationResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Batch task panicked", fmt.Errorf("%v", r), "url", article.URL)
			result = &orchestrate.OrchestrationResult{
				URL:        article.URL,
				Section:    article.Section,
				Error:      fmt.Sprintf("panic: %v", r),
				ErrorStage: orchestrate.StageUnexpected,
				ErrorType:  fmt.Sprintf("%T", r),
			}
		}
	}()

	session, release, err := d.sessions.Acquire(ctx)
	if err != nil {
		return &orchestrate.OrchestrationResult{
			URL:        article.URL,
			Section:    article.Section,
			Error:      fmt.Sprintf("Failed to acquire database session: %v", err),
			ErrorStage: orchestrate.StageUnexpected,
			ErrorType:  fmt.Sprintf("%T", err),
		}
	}
	defer release()

	return d.processor.ProcessArticle(ctx, session, article.URL, article.Section, article.NewsSourceID, d.opts.MinConfidence)
}

// NewSessionFactory builds the production factory: a dedicated pooled
// connection per task, and in dry-run an outer transaction that is
// always rolled back, with savepoints standing in for transactions
// underneath it.
func NewSessionFactory(db *persistence.PostgresDB, dryRun bool) SessionFactory {
	return &poolSessionFactory{db: db, dryRun: dryRun}
}

// connSource is the slice of *sql.DB the factory needs.
type connSource interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

type poolSessionFactory struct {
	db     connSource
	dryRun bool
}

func (f *poolSessionFactory) Acquire(ctx context.Context) (persistence.Session, func(), error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !f.dryRun {
		return persistence.NewConnSession(conn), func() { conn.Close() }, nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	release := func() {
		tx.Rollback()
		conn.Close()
	}
	return persistence.NewSavepointSession(tx), release, nil
}
