package handlers

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"watchdog/internal/config"
	"watchdog/internal/core"
	"watchdog/internal/discover"
	"watchdog/internal/fetch"
	"watchdog/internal/persistence"
)

// Default discovery surfaces for the primary publication.
const (
	defaultArchiveBaseURL = "https://old.jamaica-gleaner.com"
	defaultPublication    = "gleaner"
	defaultCrawlDelay     = 2 * time.Second
)

var defaultFeeds = []discover.FeedSpec{
	{URL: "https://jamaica-gleaner.com/feed/rss.xml", Section: "lead"},
	{URL: "https://jamaica-gleaner.com/feed/news.xml", Section: "news"},
	{URL: "https://jamaica-gleaner.com/feed/business.xml", Section: "business"},
}

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover article URLs and write them to a JSONL file",
		Long: `Discover enumerates candidate article URLs from one of the
publication's external surfaces and writes them as DiscoveredArticle
JSONL, ready for 'watchdog process --input'.`,
	}

	cmd.AddCommand(newDiscoverRSSCmd())
	cmd.AddCommand(newDiscoverArchiveCmd())
	return cmd
}

func newDiscoverRSSCmd() *cobra.Command {
	var (
		outputDir    string
		newsSourceID int64
	)

	cmd := &cobra.Command{
		Use:   "rss",
		Short: "Discover current articles from the RSS feed set",
		Long: `Walk the configured RSS feeds and emit one lead per item,
deduplicated by URL. The news source's last_scraped_at is stamped on
success.

Example:
  watchdog discover rss --output-dir input`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscoverRSS(cmd.Context(), outputDir, newsSourceID)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "directory for the JSONL output")
	cmd.Flags().Int64Var(&newsSourceID, "news-source-id", 1, "news source the leads belong to")
	return cmd
}

func runDiscoverRSS(ctx context.Context, outputDir string, newsSourceID int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := persistence.NewPostgresDB(cfg.Database.URL, 1)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	client := newFetchClient(cfg)
	client.Open()
	defer client.Close()

	service := discover.NewService(
		discover.NewRSSDiscoverer(client, defaultFeeds),
		&sourceTracker{repo: persistence.NewNewsSourceRepo(db.Querier())},
	)
	articles, err := service.Discover(ctx, newsSourceID)
	if err != nil {
		return err
	}

	path := filepath.Join(outputDir, fmt.Sprintf("gleaner_rss_%s.jsonl", time.Now().Format("20060102_150405")))
	if err := core.WriteDiscoveredArticlesFile(path, articles); err != nil {
		return err
	}
	fmt.Printf("Discovered %d articles: %s\n", len(articles), path)
	return nil
}

func newDiscoverArchiveCmd() *cobra.Command {
	var (
		outputDir    string
		newsSourceID int64
		baseURL      string
		publication  string
		crawlDelay   time.Duration
		year         int
		month        int
		lastMonth    int
		date         string
		daysBack     int
	)

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Discover historical articles from the paginated archive",
		Long: `Walk the publication's daily archive pages. Either a month range
(--year with --month, optionally --last-month) or a single end date
(--date, optionally --days-back) must be given.

Month-range walks write gleaner_archive_<year>_<m1>-<m2>.jsonl plus a
-failures.jsonl retry file when any month fails entirely. Archive
discovery runs without a database.

Examples:
  watchdog discover archive --year 2025 --month 1 --last-month 6
  watchdog discover archive --date 2025-01-15 --days-back 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newFetchClient(cfg)
			client.Open()
			defer client.Close()

			if date != "" {
				return runDiscoverArchiveDate(cmd.Context(), client, archiveDateOptions{
					baseURL: baseURL, publication: publication, crawlDelay: crawlDelay,
					outputDir: outputDir, newsSourceID: newsSourceID,
					date: date, daysBack: daysBack,
				})
			}
			if year == 0 || month == 0 {
				return fmt.Errorf("%w: either --date or --year and --month are required", core.ErrInvalidInput)
			}
			if lastMonth == 0 {
				lastMonth = month
			}

			articlesPath, failuresPath, err := discover.ExportArchiveMonths(cmd.Context(), client, discover.ArchiveExportOptions{
				BaseURL:      baseURL,
				Publication:  publication,
				NewsSourceID: newsSourceID,
				Year:         year,
				FirstMonth:   month,
				LastMonth:    lastMonth,
				CrawlDelay:   crawlDelay,
				OutputDir:    outputDir,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Archive leads written to %s\n", articlesPath)
			if failuresPath != "" {
				fmt.Printf("Failed months recorded in %s\n", failuresPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "directory for the JSONL output")
	cmd.Flags().Int64Var(&newsSourceID, "news-source-id", 1, "news source the leads belong to")
	cmd.Flags().StringVar(&baseURL, "base-url", defaultArchiveBaseURL, "archive base URL")
	cmd.Flags().StringVar(&publication, "publication", defaultPublication, "publication path segment in archive URLs")
	cmd.Flags().DurationVar(&crawlDelay, "crawl-delay", defaultCrawlDelay, "delay between archive page fetches")
	cmd.Flags().IntVar(&year, "year", 0, "archive year to walk")
	cmd.Flags().IntVar(&month, "month", 0, "first month to walk (1-12)")
	cmd.Flags().IntVar(&lastMonth, "last-month", 0, "last month to walk (defaults to --month)")
	cmd.Flags().StringVar(&date, "date", "", "single end date to walk (YYYY-MM-DD)")
	cmd.Flags().IntVar(&daysBack, "days-back", 0, "days before --date to include")
	return cmd
}

type archiveDateOptions struct {
	baseURL      string
	publication  string
	crawlDelay   time.Duration
	outputDir    string
	newsSourceID int64
	date         string
	daysBack     int
}

func runDiscoverArchiveDate(ctx context.Context, client *fetch.Client, opts archiveDateOptions) error {
	endDate, err := time.Parse("2006-01-02", opts.date)
	if err != nil {
		return fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", core.ErrInvalidInput, opts.date)
	}

	walker, err := discover.NewArchiveDiscoverer(client, opts.baseURL, opts.publication, endDate, opts.daysBack, opts.crawlDelay)
	if err != nil {
		return err
	}
	articles, err := discover.NewService(walker, nil).Discover(ctx, opts.newsSourceID)
	if err != nil {
		return err
	}

	path := filepath.Join(opts.outputDir, fmt.Sprintf("gleaner_archive_%s.jsonl", endDate.Format("2006-01-02")))
	if err := core.WriteDiscoveredArticlesFile(path, articles); err != nil {
		return err
	}
	fmt.Printf("Discovered %d articles: %s\n", len(articles), path)
	return nil
}

// newFetchClient builds the shared HTTP client from configuration.
func newFetchClient(cfg *config.Config) *fetch.Client {
	return fetch.New(
		fetch.WithUserAgent(cfg.Fetch.UserAgent),
		fetch.WithTimeout(config.Duration(cfg.Fetch.Timeout, fetch.DefaultTimeout)),
		fetch.WithMaxRetries(cfg.Fetch.MaxRetries),
		fetch.WithBackoffBase(config.Duration(cfg.Fetch.BackoffBase, fetch.DefaultBackoffBase)),
	)
}

// sourceTracker adapts the news-source repository to the discovery
// facade's tracker interface.
type sourceTracker struct {
	repo *persistence.NewsSourceRepo
}

func (t *sourceTracker) UpdateLastScrapedAt(ctx context.Context, newsSourceID int64, scrapedAt time.Time) error {
	_, err := t.repo.UpdateLastScrapedAt(ctx, newsSourceID, scrapedAt)
	return err
}
