package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"watchdog/internal/core"
)

// ArticleRepo persists and looks up stored articles.
type ArticleRepo struct {
	q Querier
}

func NewArticleRepo(q Querier) *ArticleRepo {
	return &ArticleRepo{q: q}
}

// Insert stores the article and returns it with its assigned id and
// fetched_at. A duplicate URL surfaces as a unique violation.
func (r *ArticleRepo) Insert(ctx context.Context, article core.Article) (*core.Article, error) {
	query := `
		INSERT INTO articles (public_id, url, title, section, published_date, fetched_at, full_text, news_source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, fetched_at
	`
	if article.FetchedAt.IsZero() {
		article.FetchedAt = time.Now().UTC()
	}
	err := r.q.QueryRowContext(ctx, query,
		article.PublicID, article.URL, article.Title, article.Section,
		article.PublishedDate, article.FetchedAt, article.FullText, article.NewsSourceID,
	).Scan(&article.ID, &article.FetchedAt)
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// ExistingURLs returns which of the given URLs are already stored, in
// one batch query.
func (r *ArticleRepo) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(urls) == 0 {
		return existing, nil
	}

	query := `SELECT url FROM articles WHERE url = ANY($1)`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(urls))
	if err != nil {
		return nil, fmt.Errorf("failed to query existing urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		existing[url] = struct{}{}
	}
	return existing, rows.Err()
}

// GetByPublicID returns the article with the given public id, or nil
// when absent.
func (r *ArticleRepo) GetByPublicID(ctx context.Context, publicID string) (*core.Article, error) {
	query := `
		SELECT id, public_id, url, title, section, published_date, fetched_at, full_text, news_source_id
		FROM articles WHERE public_id = $1
	`
	var article core.Article
	var fullText sql.NullString
	err := r.q.QueryRowContext(ctx, query, publicID).Scan(
		&article.ID, &article.PublicID, &article.URL, &article.Title, &article.Section,
		&article.PublishedDate, &article.FetchedAt, &fullText, &article.NewsSourceID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	article.FullText = fullText.String
	return &article, nil
}

// ClassificationRepo persists classifier verdicts.
type ClassificationRepo struct {
	q Querier
}

func NewClassificationRepo(q Querier) *ClassificationRepo {
	return &ClassificationRepo{q: q}
}

func (r *ClassificationRepo) Insert(ctx context.Context, c core.Classification) (*core.Classification, error) {
	query := `
		INSERT INTO classifications (article_id, classifier_type, confidence_score, reasoning, classified_at, model_name, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, classified_at
	`
	if c.ClassifiedAt.IsZero() {
		c.ClassifiedAt = time.Now().UTC()
	}
	err := r.q.QueryRowContext(ctx, query,
		c.ArticleID, string(c.ClassifierType), c.ConfidenceScore, c.Reasoning,
		c.ClassifiedAt, c.ModelName, c.IsVerified,
	).Scan(&c.ID, &c.ClassifiedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// EntityRepo persists canonical entities.
type EntityRepo struct {
	q Querier
}

func NewEntityRepo(q Querier) *EntityRepo {
	return &EntityRepo{q: q}
}

// FindByNormalizedName returns the entity with the given normalized
// name, or nil when absent.
func (r *EntityRepo) FindByNormalizedName(ctx context.Context, normalizedName string) (*core.Entity, error) {
	query := `SELECT id, name, normalized_name, created_at FROM entities WHERE normalized_name = $1`
	var entity core.Entity
	err := r.q.QueryRowContext(ctx, query, normalizedName).Scan(
		&entity.ID, &entity.Name, &entity.NormalizedName, &entity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *EntityRepo) Insert(ctx context.Context, entity core.Entity) (*core.Entity, error) {
	query := `
		INSERT INTO entities (name, normalized_name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now().UTC()
	}
	err := r.q.QueryRowContext(ctx, query, entity.Name, entity.NormalizedName, entity.CreatedAt).
		Scan(&entity.ID, &entity.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// FindEntitiesByArticleID returns every entity linked to the article.
func (r *EntityRepo) FindEntitiesByArticleID(ctx context.Context, articleID int64) ([]core.Entity, error) {
	query := `
		SELECT e.id, e.name, e.normalized_name, e.created_at
		FROM entities e
		JOIN article_entities ae ON ae.entity_id = e.id
		WHERE ae.article_id = $1
		ORDER BY e.normalized_name
	`
	rows, err := r.q.QueryContext(ctx, query, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []core.Entity
	for rows.Next() {
		var entity core.Entity
		if err := rows.Scan(&entity.ID, &entity.Name, &entity.NormalizedName, &entity.CreatedAt); err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// FindArticleIDsByEntityID returns every article the entity appears in.
func (r *EntityRepo) FindArticleIDsByEntityID(ctx context.Context, entityID int64) ([]int64, error) {
	query := `SELECT article_id FROM article_entities WHERE entity_id = $1 ORDER BY article_id`
	rows, err := r.q.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ArticleEntityRepo links articles to entities.
type ArticleEntityRepo struct {
	q Querier
}

func NewArticleEntityRepo(q Querier) *ArticleEntityRepo {
	return &ArticleEntityRepo{q: q}
}

// Link records that the entity appears in the article. A duplicate
// link surfaces as a unique violation for the caller to decide on.
func (r *ArticleEntityRepo) Link(ctx context.Context, articleID, entityID int64, classifierType core.ClassifierType) error {
	query := `
		INSERT INTO article_entities (article_id, entity_id, classifier_type, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.q.ExecContext(ctx, query, articleID, entityID, string(classifierType), time.Now().UTC())
	return err
}

// NewsSourceRepo manages tracked publications.
type NewsSourceRepo struct {
	q Querier
}

func NewNewsSourceRepo(q Querier) *NewsSourceRepo {
	return &NewsSourceRepo{q: q}
}

func (r *NewsSourceRepo) Insert(ctx context.Context, source core.NewsSource) (*core.NewsSource, error) {
	query := `
		INSERT INTO news_sources (name, base_url, crawl_delay_seconds, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now().UTC()
	}
	err := r.q.QueryRowContext(ctx, query,
		source.Name, source.BaseURL, source.CrawlDelaySeconds, source.IsActive, source.CreatedAt,
	).Scan(&source.ID, &source.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &source, nil
}

// UpdateLastScrapedAt stamps a successful discovery pass and returns
// the updated source.
func (r *NewsSourceRepo) UpdateLastScrapedAt(ctx context.Context, id int64, scrapedAt time.Time) (*core.NewsSource, error) {
	query := `
		UPDATE news_sources SET last_scraped_at = $2 WHERE id = $1
		RETURNING id, name, base_url, crawl_delay_seconds, is_active, last_scraped_at, created_at
	`
	var source core.NewsSource
	err := r.q.QueryRowContext(ctx, query, id, scrapedAt).Scan(
		&source.ID, &source.Name, &source.BaseURL, &source.CrawlDelaySeconds,
		&source.IsActive, &source.LastScrapedAt, &source.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("news source %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}
