package discover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"watchdog/internal/core"
	"watchdog/internal/fetch"
	"watchdog/internal/logger"
)

// ArchiveDiscoverer walks the publication's paginated daily archive over
// an inclusive date range. Each date is fetched at
// <base>/<publication>/YYYY-MM-DD/ and paginated through <link rel=next>
// with the crawl delay observed between page fetches. A date that fails
// entirely is logged and skipped; the walk continues unless every date
// in the range failed.
type ArchiveDiscoverer struct {
	client      *fetch.Client
	baseURL     string
	publication string
	endDate     time.Time
	daysBack    int
	crawlDelay  time.Duration
}

// NewArchiveDiscoverer creates a walker over [endDate − daysBack, endDate].
func NewArchiveDiscoverer(client *fetch.Client, baseURL, publication string, endDate time.Time, daysBack int, crawlDelay time.Duration) (*ArchiveDiscoverer, error) {
	if err := core.ValidateURL(baseURL); err != nil {
		return nil, err
	}
	if publication == "" {
		return nil, fmt.Errorf("%w: publication is required", core.ErrInvalidInput)
	}
	if endDate.IsZero() {
		return nil, fmt.Errorf("%w: end date is required", core.ErrInvalidInput)
	}
	if daysBack < 0 {
		return nil, fmt.Errorf("%w: days_back must not be negative, got %d", core.ErrInvalidInput, daysBack)
	}
	return &ArchiveDiscoverer{
		client:      client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		publication: strings.Trim(publication, "/"),
		endDate:     endDate.UTC().Truncate(24 * time.Hour),
		daysBack:    daysBack,
		crawlDelay:  crawlDelay,
	}, nil
}

// ForMonth creates a walker covering one whole month.
func ForMonth(client *fetch.Client, baseURL, publication string, year, month int, crawlDelay time.Duration) (*ArchiveDiscoverer, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: month must be in [1, 12], got %d", core.ErrInvalidInput, month)
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return NewArchiveDiscoverer(client, baseURL, publication, last, last.Day()-1, crawlDelay)
}

// ForDate creates a walker covering a single date.
func ForDate(client *fetch.Client, baseURL, publication string, year, month, day int, crawlDelay time.Duration) (*ArchiveDiscoverer, error) {
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Year() != year || date.Month() != time.Month(month) || date.Day() != day {
		return nil, fmt.Errorf("%w: invalid date %04d-%02d-%02d", core.ErrInvalidInput, year, month, day)
	}
	return NewArchiveDiscoverer(client, baseURL, publication, date, 0, crawlDelay)
}

// Discover walks every date in the range, fail-soft per date, and
// returns the URL-deduplicated results. A range where every single
// date failed is reported as an error rather than an empty result.
func (d *ArchiveDiscoverer) Discover(ctx context.Context, newsSourceID int64) ([]core.DiscoveredArticle, error) {
	var articles []core.DiscoveredArticle
	failedDates := 0

	start := d.endDate.AddDate(0, 0, -d.daysBack)
	for date := start; !date.After(d.endDate); date = date.AddDate(0, 0, 1) {
		pages, err := d.walkDate(ctx, date, newsSourceID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Archive date failed", "date", date.Format("2006-01-02"), "error", err.Error())
			failedDates++
			continue
		}
		articles = append(articles, pages...)
	}
	if total := d.daysBack + 1; failedDates == total {
		return nil, fmt.Errorf("all %d archive dates failed in [%s, %s]",
			total, start.Format("2006-01-02"), d.endDate.Format("2006-01-02"))
	}

	deduped := dedupeByURL(articles)
	logger.Info("Archive discovery complete",
		"start", start.Format("2006-01-02"), "end", d.endDate.Format("2006-01-02"),
		"articles", len(deduped), "duplicates", len(articles)-len(deduped))
	return deduped, nil
}

// walkDate fetches one date's archive page and follows next links.
func (d *ArchiveDiscoverer) walkDate(ctx context.Context, date time.Time, newsSourceID int64) ([]core.DiscoveredArticle, error) {
	day := date.Format("2006-01-02")
	pageURL := fmt.Sprintf("%s/%s/%s/", d.baseURL, d.publication, day)

	result, err := d.client.Fetch(ctx, pageURL)
	if err != nil {
		if fetch.StatusCode(err) != http.StatusNotFound {
			return nil, err
		}
		// Some dates are only reachable through their first page.
		pageURL = fmt.Sprintf("%s/%s/%s/page-1/", d.baseURL, d.publication, day)
		result, err = d.client.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
	}

	if d.redirectedToBase(result.FinalURL, pageURL) {
		logger.Info("Archive date does not exist", "date", day)
		return nil, nil
	}

	published := date
	var articles []core.DiscoveredArticle
	for {
		articles = append(articles, core.DiscoveredArticle{
			URL:           pageURL,
			NewsSourceID:  newsSourceID,
			Section:       "archive",
			DiscoveredAt:  time.Now().UTC(),
			Title:         pageTitle(result.Body),
			PublishedDate: &published,
		})

		next := nextLink(result.Body, pageURL)
		if next == "" {
			return articles, nil
		}

		select {
		case <-time.After(d.crawlDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		pageURL = next
		result, err = d.client.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
	}
}

// redirectedToBase reports whether the archive request was redirected to
// the publication's landing page, which signals a nonexistent date
// rather than an error.
func (d *ArchiveDiscoverer) redirectedToBase(finalURL, requestedURL string) bool {
	if finalURL == "" || finalURL == requestedURL {
		return false
	}
	trimmed := strings.TrimSuffix(finalURL, "/")
	return trimmed == d.baseURL || trimmed == d.baseURL+"/"+d.publication
}

// pageTitle reads og:title, falling back to <title>.
func pageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// nextLink resolves <link rel="next"> against the current page URL.
func nextLink(html, pageURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	href, ok := doc.Find(`link[rel="next"]`).Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	next, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(next).String()
}
