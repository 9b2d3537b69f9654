// Package discover enumerates candidate article URLs from a publication's
// external surfaces. Two strategies are provided: the RSS feed set and the
// historical archive date walker. A thin service facade delegates to one
// strategy and records the scrape time against the news source.
package discover

import (
	"context"
	"time"

	"watchdog/internal/core"
	"watchdog/internal/logger"
)

// ArticleDiscoverer produces leads from one external surface.
type ArticleDiscoverer interface {
	Discover(ctx context.Context, newsSourceID int64) ([]core.DiscoveredArticle, error)
}

// SourceTracker records a successful scrape against a news source.
type SourceTracker interface {
	UpdateLastScrapedAt(ctx context.Context, newsSourceID int64, scrapedAt time.Time) error
}

// Service delegates to one discoverer and updates last_scraped_at on
// success. A nil tracker skips the bookkeeping (used by the archive
// export, which runs without a database).
type Service struct {
	discoverer ArticleDiscoverer
	sources    SourceTracker
}

// NewService creates the discovery facade.
func NewService(discoverer ArticleDiscoverer, sources SourceTracker) *Service {
	return &Service{discoverer: discoverer, sources: sources}
}

// Discover runs the configured discoverer and stamps the source.
func (s *Service) Discover(ctx context.Context, newsSourceID int64) ([]core.DiscoveredArticle, error) {
	articles, err := s.discoverer.Discover(ctx, newsSourceID)
	if err != nil {
		return nil, err
	}
	if s.sources != nil {
		if err := s.sources.UpdateLastScrapedAt(ctx, newsSourceID, time.Now().UTC()); err != nil {
			logger.Warn("Failed to update last_scraped_at", "news_source_id", newsSourceID, "error", err.Error())
		}
	}
	return articles, nil
}

// dedupeByURL keeps the first occurrence of each URL.
func dedupeByURL(articles []core.DiscoveredArticle) []core.DiscoveredArticle {
	seen := make(map[string]struct{}, len(articles))
	deduped := articles[:0]
	for _, a := range articles {
		if _, ok := seen[a.URL]; ok {
			continue
		}
		seen[a.URL] = struct{}{}
		deduped = append(deduped, a)
	}
	return deduped
}
