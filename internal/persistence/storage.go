package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"watchdog/internal/core"
	"watchdog/internal/logger"
)

// ArticleStorageResult reports the outcome of one storage call.
// Stored=false with a nil error means the URL already existed.
type ArticleStorageResult struct {
	Stored              bool
	ArticleID           *int64
	ClassificationCount int
	Article             *core.Article
	Classifications     []core.Classification
	Entities            []core.Entity
}

type articleInserter interface {
	Insert(ctx context.Context, article core.Article) (*core.Article, error)
}

type classificationInserter interface {
	Insert(ctx context.Context, c core.Classification) (*core.Classification, error)
}

type entityStore interface {
	FindByNormalizedName(ctx context.Context, normalizedName string) (*core.Entity, error)
	Insert(ctx context.Context, entity core.Entity) (*core.Entity, error)
}

type entityLinker interface {
	Link(ctx context.Context, articleID, entityID int64, classifierType core.ClassifierType) error
}

type storageRepos struct {
	articles        articleInserter
	classifications classificationInserter
	entities        entityStore
	links           entityLinker
}

func sqlStorageRepos(q Querier) storageRepos {
	return storageRepos{
		articles:        NewArticleRepo(q),
		classifications: NewClassificationRepo(q),
		entities:        NewEntityRepo(q),
		links:           NewArticleEntityRepo(q),
	}
}

// StorageService stores one article together with its classifications,
// entities, and links in a single transaction.
type StorageService struct {
	newRepos func(Querier) storageRepos
}

// NewStorageService creates the service over the SQL repositories.
func NewStorageService() *StorageService {
	return &StorageService{newRepos: sqlStorageRepos}
}

// StoreArticleWithClassifications persists the article and everything
// hanging off it inside one transaction on the caller's session. The
// caller has already filtered by confidence, so an empty
// classification list is invalid input. A duplicate URL rolls back and
// returns Stored=false without an error; any other failure rolls back
// and propagates, leaving zero rows behind.
func (s *StorageService) StoreArticleWithClassifications(
	ctx context.Context,
	session Session,
	content *core.ExtractedArticleContent,
	url, section string,
	relevant []core.ClassificationResult,
	entities []core.NormalizedEntity,
	newsSourceID int64,
) (*ArticleStorageResult, error) {
	if len(relevant) == 0 {
		return nil, fmt.Errorf("%w: at least one relevant classification is required", core.ErrInvalidInput)
	}
	if err := core.ValidateURL(url); err != nil {
		return nil, err
	}

	tx, err := session.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	repos := s.newRepos(tx)

	article, err := repos.articles.Insert(ctx, core.Article{
		PublicID:      uuid.NewString(),
		URL:           url,
		Title:         content.Title,
		Section:       section,
		PublishedDate: content.PublishedDate,
		FetchedAt:     time.Now().UTC(),
		FullText:      content.FullText,
		NewsSourceID:  newsSourceID,
	})
	if err != nil {
		if IsUniqueViolation(err) {
			logger.Warn("Article already stored", "url", url)
			return &ArticleStorageResult{
				Stored:          false,
				Classifications: []core.Classification{},
				Entities:        []core.Entity{},
			}, nil
		}
		return nil, fmt.Errorf("failed to insert article: %w", err)
	}

	classifications := make([]core.Classification, 0, len(relevant))
	for _, result := range relevant {
		stored, err := repos.classifications.Insert(ctx, core.Classification{
			ArticleID:       article.ID,
			ClassifierType:  result.ClassifierType,
			ConfidenceScore: result.Confidence,
			Reasoning:       result.Reasoning,
			ModelName:       result.ModelName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to insert classification %s: %w", result.ClassifierType, err)
		}
		classifications = append(classifications, *stored)
	}

	// The link rows carry the classifier that surfaced the entities;
	// with entities pooled across classifiers, the first relevant
	// classification's type is used.
	linkType := relevant[0].ClassifierType

	storedEntities, err := s.storeEntities(ctx, repos, article.ID, linkType, entities)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	articleID := article.ID
	return &ArticleStorageResult{
		Stored:              true,
		ArticleID:           &articleID,
		ClassificationCount: len(classifications),
		Article:             article,
		Classifications:     classifications,
		Entities:            storedEntities,
	}, nil
}

// storeEntities deduplicates by normalized value, finds or inserts
// each entity, and links it to the article. Duplicate links are
// swallowed.
func (s *StorageService) storeEntities(
	ctx context.Context,
	repos storageRepos,
	articleID int64,
	linkType core.ClassifierType,
	entities []core.NormalizedEntity,
) ([]core.Entity, error) {
	seen := make(map[string]struct{}, len(entities))
	var stored []core.Entity

	for _, normalized := range entities {
		if _, ok := seen[normalized.NormalizedValue]; ok {
			continue
		}
		seen[normalized.NormalizedValue] = struct{}{}

		entity, err := repos.entities.FindByNormalizedName(ctx, normalized.NormalizedValue)
		if err != nil {
			return nil, fmt.Errorf("failed to look up entity %q: %w", normalized.NormalizedValue, err)
		}
		if entity == nil {
			entity, err = repos.entities.Insert(ctx, core.Entity{
				Name:           normalized.OriginalValue,
				NormalizedName: normalized.NormalizedValue,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to insert entity %q: %w", normalized.NormalizedValue, err)
			}
		}

		if err := repos.links.Link(ctx, articleID, entity.ID, linkType); err != nil {
			if !IsUniqueViolation(err) {
				return nil, fmt.Errorf("failed to link entity %q: %w", normalized.NormalizedValue, err)
			}
		}
		stored = append(stored, *entity)
	}
	return stored, nil
}
