// Package core defines the domain model shared by discovery, extraction,
// classification, and persistence: discovered leads, extracted content,
// classifier verdicts, normalized entities, and the persistent records
// they map onto.
package core

import (
	"fmt"
	"strings"
	"time"
)

// MinFullTextLength is the minimum accepted article body length, in
// characters, after trimming.
const MinFullTextLength = 50

// ClassifierType identifies the tracked topic a classifier judges.
type ClassifierType string

const (
	ClassifierCorruption      ClassifierType = "CORRUPTION"
	ClassifierHurricaneRelief ClassifierType = "HURRICANE_RELIEF"
)

// ClassifierTypes lists every tracked topic.
func ClassifierTypes() []ClassifierType {
	return []ClassifierType{ClassifierCorruption, ClassifierHurricaneRelief}
}

// Valid reports whether t is a known classifier type.
func (t ClassifierType) Valid() bool {
	switch t {
	case ClassifierCorruption, ClassifierHurricaneRelief:
		return true
	}
	return false
}

// DiscoveredArticle is a lead produced by a discovery pass. It is created
// by a discoverer, never mutated, and consumed by the orchestrator.
type DiscoveredArticle struct {
	URL           string     `json:"url"`
	NewsSourceID  int64      `json:"news_source_id"`
	Section       string     `json:"section"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
	Title         string     `json:"title,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
}

// Validate trims textual fields and enforces the lead invariants.
func (d *DiscoveredArticle) Validate() error {
	d.URL = strings.TrimSpace(d.URL)
	d.Section = strings.TrimSpace(d.Section)
	d.Title = strings.TrimSpace(d.Title)

	if err := ValidateURL(d.URL); err != nil {
		return err
	}
	if d.NewsSourceID <= 0 {
		return fmt.Errorf("%w: news_source_id must be positive, got %d", ErrInvalidInput, d.NewsSourceID)
	}
	if d.Section == "" {
		return fmt.Errorf("%w: section is required", ErrInvalidInput)
	}
	if d.DiscoveredAt.IsZero() {
		return fmt.Errorf("%w: discovered_at is required", ErrInvalidInput)
	}
	return nil
}

// ValidateURL enforces the URL-shape rule shared by leads and articles.
func ValidateURL(url string) error {
	if url == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("%w: url must start with http:// or https://, got %q", ErrInvalidInput, url)
	}
	return nil
}

// ExtractedArticleContent is the output of the extractor for one fetched
// page. It is produced per fetch and not persisted as a distinct entity.
type ExtractedArticleContent struct {
	Title         string
	FullText      string
	Author        string
	PublishedDate *time.Time
}

// Validate trims the content and enforces the title and body rules.
func (e *ExtractedArticleContent) Validate() error {
	e.Title = strings.TrimSpace(e.Title)
	e.FullText = strings.TrimSpace(e.FullText)
	e.Author = strings.TrimSpace(e.Author)

	if e.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(e.FullText) < MinFullTextLength {
		return fmt.Errorf("%w: full_text must be at least %d characters, got %d",
			ErrInvalidInput, MinFullTextLength, len(e.FullText))
	}
	return nil
}

// ClassificationInput is extracted content joined with its discovery
// context. It is an immutable value handed to every classifier.
type ClassificationInput struct {
	URL           string
	Section       string
	Title         string
	FullText      string
	Author        string
	PublishedDate *time.Time
}

// NewClassificationInput combines extracted content with the lead's URL
// and section, validating both halves.
func NewClassificationInput(content *ExtractedArticleContent, url, section string) (ClassificationInput, error) {
	if err := content.Validate(); err != nil {
		return ClassificationInput{}, err
	}
	if err := ValidateURL(url); err != nil {
		return ClassificationInput{}, err
	}
	section = strings.TrimSpace(section)
	if section == "" {
		return ClassificationInput{}, fmt.Errorf("%w: section is required", ErrInvalidInput)
	}
	return ClassificationInput{
		URL:           url,
		Section:       section,
		Title:         content.Title,
		FullText:      content.FullText,
		Author:        content.Author,
		PublishedDate: content.PublishedDate,
	}, nil
}

// ClassificationResult is one classifier's verdict on one input.
type ClassificationResult struct {
	IsRelevant     bool           `json:"is_relevant"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	KeyEntities    []string       `json:"key_entities"`
	ClassifierType ClassifierType `json:"classifier_type"`
	ModelName      string         `json:"model_name"`
}

// Validate enforces the verdict invariants and filters empty entities.
func (r *ClassificationResult) Validate() error {
	if err := ValidateConfidence(r.Confidence); err != nil {
		return err
	}
	r.Reasoning = strings.TrimSpace(r.Reasoning)
	if r.Reasoning == "" {
		return fmt.Errorf("%w: reasoning is required", ErrInvalidInput)
	}
	if !r.ClassifierType.Valid() {
		return fmt.Errorf("%w: unknown classifier type %q", ErrInvalidInput, r.ClassifierType)
	}
	filtered := r.KeyEntities[:0]
	for _, e := range r.KeyEntities {
		if trimmed := strings.TrimSpace(e); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}
	r.KeyEntities = filtered
	return nil
}

// ValidateConfidence enforces the shared [0, 1] confidence constraint.
func ValidateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return fmt.Errorf("%w: confidence must be in [0, 1], got %v", ErrInvalidInput, c)
	}
	return nil
}

// NormalizedEntity maps one raw entity string to its canonical form.
type NormalizedEntity struct {
	OriginalValue   string  `json:"original_value"`
	NormalizedValue string  `json:"normalized_value"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
	Context         string  `json:"context,omitempty"`
}

// Validate enforces the normalization invariants.
func (n *NormalizedEntity) Validate() error {
	n.OriginalValue = strings.TrimSpace(n.OriginalValue)
	n.NormalizedValue = strings.TrimSpace(n.NormalizedValue)
	if n.OriginalValue == "" {
		return fmt.Errorf("%w: original_value is required", ErrInvalidInput)
	}
	if n.NormalizedValue == "" {
		return fmt.Errorf("%w: normalized_value is required", ErrInvalidInput)
	}
	return ValidateConfidence(n.Confidence)
}

// Article is a stored news item. It is created once by the pipeline and
// never updated afterwards.
type Article struct {
	ID            int64
	PublicID      string // UUIDv4, unique, external-facing
	URL           string
	Title         string
	Section       string
	PublishedDate *time.Time
	FetchedAt     time.Time
	FullText      string
	NewsSourceID  int64
}

// Classification is the persisted verdict of one classifier on one article.
type Classification struct {
	ID              int64
	ArticleID       int64
	ClassifierType  ClassifierType
	ConfidenceScore float64
	Reasoning       string
	ClassifiedAt    time.Time
	ModelName       string
	IsVerified      bool
	VerifiedAt      *time.Time
	VerifiedBy      string
}

// Entity is a canonical named entity, deduplicated by normalized name.
type Entity struct {
	ID             int64
	Name           string
	NormalizedName string
	CreatedAt      time.Time
}

// ArticleEntity links an article to an entity with the classifier type
// that surfaced it.
type ArticleEntity struct {
	ID             int64
	ArticleID      int64
	EntityID       int64
	ClassifierType ClassifierType
	CreatedAt      time.Time
}

// NewsSource is a tracked publication.
type NewsSource struct {
	ID                int64
	Name              string
	BaseURL           string
	CrawlDelaySeconds int
	IsActive          bool
	LastScrapedAt     *time.Time
	CreatedAt         time.Time
}
