package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"watchdog/internal/core"
	"watchdog/internal/logger"
)

// GleanerExtractor parses articles from the primary publication. It tries
// a list of strategies in order until one produces valid content: the
// structured-data (JSON-LD) strategy first, then plain CSS selectors
// covering both the current and the legacy page templates.
type GleanerExtractor struct {
	strategies []gleanerStrategy
}

type gleanerStrategy func(doc *goquery.Document) (*core.ExtractedArticleContent, error)

// NewGleanerExtractor creates the extractor with its default strategies.
func NewGleanerExtractor() *GleanerExtractor {
	e := &GleanerExtractor{}
	e.strategies = []gleanerStrategy{
		e.extractStructuredData,
		e.extractCSS,
	}
	return e
}

// Extract runs the strategies in order and returns the first valid result.
func (e *GleanerExtractor) Extract(html, pageURL string) (*core.ExtractedArticleContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	for _, strategy := range e.strategies {
		content, err := strategy(doc)
		if err != nil {
			continue
		}
		if err := content.Validate(); err != nil {
			continue
		}
		return content, nil
	}
	return nil, fmt.Errorf("%w: no strategy produced a title and a body of at least %d characters for %s",
		ErrParse, core.MinFullTextLength, pageURL)
}

// jsonLDArticle is the subset of schema.org Article we read.
type jsonLDArticle struct {
	Type          json.RawMessage `json:"@type"`
	Graph         []jsonLDArticle `json:"@graph"`
	Headline      string          `json:"headline"`
	DatePublished string          `json:"datePublished"`
	Author        json.RawMessage `json:"author"`
}

type jsonLDAuthor struct {
	Type string `json:"@type"`
	Name string `json:"name"`
}

// extractStructuredData reads the first Article-typed JSON-LD block for
// headline, author, and published date, and combines it with the body
// text selected by CSS.
func (e *GleanerExtractor) extractStructuredData(doc *goquery.Document) (*core.ExtractedArticleContent, error) {
	var article *jsonLDArticle

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if found := findArticleBlock([]byte(s.Text())); found != nil {
			article = found
			return false
		}
		return true
	})
	if article == nil {
		return nil, fmt.Errorf("%w: no Article JSON-LD block", ErrParse)
	}

	content := &core.ExtractedArticleContent{
		Title:    article.Headline,
		FullText: bodyText(doc),
		Author:   cleanAuthor(authorName(article.Author)),
	}
	if article.DatePublished != "" {
		if published, err := parsePublishedDate(article.DatePublished); err == nil {
			content.PublishedDate = &published
		} else {
			logger.Debug("Ignoring unparseable datePublished", "value", article.DatePublished)
		}
	}
	return content, nil
}

// findArticleBlock parses one JSON-LD script body, which may be a single
// object, an array of objects, or an object carrying an @graph array.
func findArticleBlock(raw []byte) *jsonLDArticle {
	var single jsonLDArticle
	if err := json.Unmarshal(raw, &single); err == nil {
		if found := articleFrom(&single); found != nil {
			return found
		}
	}

	var list []jsonLDArticle
	if err := json.Unmarshal(raw, &list); err == nil {
		for i := range list {
			if found := articleFrom(&list[i]); found != nil {
				return found
			}
		}
	}
	return nil
}

func articleFrom(block *jsonLDArticle) *jsonLDArticle {
	if isArticleType(block.Type) {
		return block
	}
	for i := range block.Graph {
		if isArticleType(block.Graph[i].Type) {
			return &block.Graph[i]
		}
	}
	return nil
}

// isArticleType accepts "@type": "Article" (and subtypes like
// "NewsArticle") given either as a string or a list of strings.
func isArticleType(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var typ string
	if err := json.Unmarshal(raw, &typ); err == nil {
		return strings.HasSuffix(typ, "Article")
	}
	var types []string
	if err := json.Unmarshal(raw, &types); err == nil {
		for _, t := range types {
			if strings.HasSuffix(t, "Article") {
				return true
			}
		}
	}
	return false
}

// authorName reads author.name, but only from a Person block.
func authorName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var author jsonLDAuthor
	if err := json.Unmarshal(raw, &author); err == nil && author.Type == "Person" {
		return author.Name
	}
	var authors []jsonLDAuthor
	if err := json.Unmarshal(raw, &authors); err == nil {
		for _, a := range authors {
			if a.Type == "Person" && a.Name != "" {
				return a.Name
			}
		}
	}
	return ""
}

// extractCSS reads the article from plain selectors, covering both the
// current template (article-- classes) and the legacy one.
func (e *GleanerExtractor) extractCSS(doc *goquery.Document) (*core.ExtractedArticleContent, error) {
	title := strings.TrimSpace(doc.Find("h1.article--title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1.title").First().Text())
	}

	author := strings.TrimSpace(doc.Find("div.article--authors").First().Text())
	if author == "" {
		author = strings.TrimSpace(doc.Find("a.author-term").First().Text())
	}

	content := &core.ExtractedArticleContent{
		Title:    title,
		FullText: bodyText(doc),
		Author:   cleanAuthor(author),
	}

	dateStr, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content")
	if !ok {
		dateStr, _ = doc.Find("time[datetime]").First().Attr("datetime")
	}
	if dateStr != "" {
		if published, err := parsePublishedDate(dateStr); err == nil {
			content.PublishedDate = &published
		}
	}
	return content, nil
}

// bodyText concatenates paragraph text under the article body container,
// trying the current template before the legacy one.
func bodyText(doc *goquery.Document) string {
	for _, selector := range []string{"div.article--body", "div.article-content"} {
		var paragraphs []string
		doc.Find(selector + " p").Each(func(_ int, p *goquery.Selection) {
			if text := strings.TrimSpace(p.Text()); text != "" {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > 0 {
			return strings.Join(paragraphs, "\n\n")
		}
	}
	return ""
}

// cleanAuthor strips trailing role suffixes such as "/Staff Reporter".
func cleanAuthor(author string) string {
	if idx := strings.Index(author, "/"); idx >= 0 {
		author = author[:idx]
	}
	return strings.TrimSpace(author)
}

// parsePublishedDate parses an ISO-8601 timestamp and converts it to UTC.
func parsePublishedDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", value)
}
