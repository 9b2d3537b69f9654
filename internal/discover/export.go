package discover

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"watchdog/internal/core"
	"watchdog/internal/fetch"
	"watchdog/internal/logger"
)

// ArchiveExportOptions configures a month-range archive export.
type ArchiveExportOptions struct {
	BaseURL      string
	Publication  string
	NewsSourceID int64
	Year         int
	FirstMonth   int
	LastMonth    int
	CrawlDelay   time.Duration
	OutputDir    string
}

// ExportArchiveMonths walks each month in [FirstMonth, LastMonth],
// writing the discovered leads to
// gleaner_archive_<year>_<m1>-<m2>.jsonl. Months whose walk fails are
// recorded in a parallel -failures.jsonl file as stub leads whose URL is
// the month's base URL and whose title is "FAILED: YYYY-MM", so they can
// be retried later. Returns the paths of the two files (the failures
// path is empty when every month succeeded).
func ExportArchiveMonths(ctx context.Context, client *fetch.Client, opts ArchiveExportOptions) (string, string, error) {
	if opts.FirstMonth < 1 || opts.LastMonth > 12 || opts.FirstMonth > opts.LastMonth {
		return "", "", fmt.Errorf("%w: invalid month range %d-%d", core.ErrInvalidInput, opts.FirstMonth, opts.LastMonth)
	}
	if opts.NewsSourceID <= 0 {
		return "", "", fmt.Errorf("%w: news_source_id must be positive", core.ErrInvalidInput)
	}

	var articles []core.DiscoveredArticle
	var failures []core.DiscoveredArticle

	for month := opts.FirstMonth; month <= opts.LastMonth; month++ {
		walker, err := ForMonth(client, opts.BaseURL, opts.Publication, opts.Year, month, opts.CrawlDelay)
		if err != nil {
			return "", "", err
		}
		monthArticles, err := walker.Discover(ctx, opts.NewsSourceID)
		if err != nil {
			logger.Error("Archive month failed", err, "year", opts.Year, "month", month)
			failures = append(failures, monthFailureStub(opts, month))
			continue
		}
		logger.Info("Archive month exported", "year", opts.Year, "month", month, "articles", len(monthArticles))
		articles = append(articles, monthArticles...)
	}

	name := fmt.Sprintf("gleaner_archive_%d_%d-%d.jsonl", opts.Year, opts.FirstMonth, opts.LastMonth)
	articlesPath := filepath.Join(opts.OutputDir, name)
	if err := core.WriteDiscoveredArticlesFile(articlesPath, articles); err != nil {
		return "", "", err
	}

	failuresPath := ""
	if len(failures) > 0 {
		failuresPath = filepath.Join(opts.OutputDir,
			fmt.Sprintf("gleaner_archive_%d_%d-%d-failures.jsonl", opts.Year, opts.FirstMonth, opts.LastMonth))
		if err := core.WriteDiscoveredArticlesFile(failuresPath, failures); err != nil {
			return "", "", err
		}
	}
	return articlesPath, failuresPath, nil
}

// monthFailureStub builds the retry record for a failed month.
func monthFailureStub(opts ArchiveExportOptions, month int) core.DiscoveredArticle {
	return core.DiscoveredArticle{
		URL:          fmt.Sprintf("%s/%s/%04d-%02d-01/", opts.BaseURL, opts.Publication, opts.Year, month),
		NewsSourceID: opts.NewsSourceID,
		Section:      "archive",
		DiscoveredAt: time.Now().UTC(),
		Title:        fmt.Sprintf("FAILED: %04d-%02d", opts.Year, month),
	}
}
