package discover

import (
	"context"
	"time"

	"github.com/mmcdole/gofeed"

	"watchdog/internal/core"
	"watchdog/internal/fetch"
	"watchdog/internal/logger"
)

// FeedSpec pairs a feed URL with the section label its items receive.
type FeedSpec struct {
	URL     string
	Section string
}

// RSSDiscoverer walks a configured set of feeds. Feeds are fetched with
// the shared retry policy and parsed with gofeed; a feed that cannot be
// fetched or parsed is skipped fail-soft.
type RSSDiscoverer struct {
	client *fetch.Client
	parser *gofeed.Parser
	feeds  []FeedSpec
}

// NewRSSDiscoverer creates a discoverer over the given feed set.
func NewRSSDiscoverer(client *fetch.Client, feeds []FeedSpec) *RSSDiscoverer {
	return &RSSDiscoverer{
		client: client,
		parser: gofeed.NewParser(),
		feeds:  feeds,
	}
}

// Discover fetches every configured feed and emits one lead per item,
// deduplicated by URL (first occurrence wins).
func (d *RSSDiscoverer) Discover(ctx context.Context, newsSourceID int64) ([]core.DiscoveredArticle, error) {
	var articles []core.DiscoveredArticle

	for _, feed := range d.feeds {
		items, err := d.discoverFeed(ctx, feed, newsSourceID)
		if err != nil {
			logger.Warn("Skipping feed", "feed_url", feed.URL, "error", err.Error())
			continue
		}
		articles = append(articles, items...)
	}

	deduped := dedupeByURL(articles)
	logger.Info("RSS discovery complete",
		"feeds", len(d.feeds), "articles", len(deduped), "duplicates", len(articles)-len(deduped))
	return deduped, nil
}

func (d *RSSDiscoverer) discoverFeed(ctx context.Context, spec FeedSpec, newsSourceID int64) ([]core.DiscoveredArticle, error) {
	result, err := d.client.Fetch(ctx, spec.URL)
	if err != nil {
		return nil, err
	}
	feed, err := d.parser.ParseString(result.Body)
	if err != nil {
		return nil, err
	}

	discoveredAt := time.Now().UTC()
	var articles []core.DiscoveredArticle
	for _, item := range feed.Items {
		if item.Link == "" {
			logger.Warn("Skipping feed item without link", "feed_url", spec.URL, "item_title", item.Title)
			continue
		}
		article := core.DiscoveredArticle{
			URL:          item.Link,
			NewsSourceID: newsSourceID,
			Section:      spec.Section,
			DiscoveredAt: discoveredAt,
			Title:        item.Title,
		}
		if item.PublishedParsed != nil {
			published := item.PublishedParsed.UTC()
			article.PublishedDate = &published
		}
		articles = append(articles, article)
	}
	return articles, nil
}
