// Package orchestrate runs the per-URL pipeline: extract, classify,
// filter, normalize entities, store. Every call emits exactly one
// structured log record summarizing the outcome.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"watchdog/internal/core"
	"watchdog/internal/logger"
	"watchdog/internal/persistence"
)

// Stage names recorded on failures.
const (
	StageExtraction     = "extraction"
	StageConversion     = "conversion"
	StageClassification = "classification"
	StageStorage        = "storage"
	StageUnexpected     = "unexpected"
)

// ContentExtractor fetches and parses one article.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) (*core.ExtractedArticleContent, error)
}

// ClassifierService fans one input out to the classifier set.
type ClassifierService interface {
	Classify(ctx context.Context, input core.ClassificationInput) ([]core.ClassificationResult, error)
}

// EntityNormalizer canonicalizes raw entity strings.
type EntityNormalizer interface {
	Normalize(ctx context.Context, names []string) ([]core.NormalizedEntity, error)
}

// ArticleStorer persists one article transactionally.
type ArticleStorer interface {
	StoreArticleWithClassifications(
		ctx context.Context,
		session persistence.Session,
		content *core.ExtractedArticleContent,
		url, section string,
		relevant []core.ClassificationResult,
		entities []core.NormalizedEntity,
		newsSourceID int64,
	) (*persistence.ArticleStorageResult, error)
}

// OrchestrationResult is the outcome of one pipeline run.
// ClassificationResults carries every verdict, relevant or not;
// ClassificationCount counts only the stored ones.
type OrchestrationResult struct {
	URL                   string
	Section               string
	Extracted             bool
	Classified            bool
	Relevant              bool
	Stored                bool
	Duplicate             bool
	ArticleID             *int64
	ClassificationCount   int
	ClassificationResults []core.ClassificationResult
	EntityCount           int
	Error                 string
	ErrorStage            string
	ErrorType             string
}

// Failed reports whether the run ended in an error (a duplicate URL or
// a not-relevant verdict is a normal outcome).
func (r *OrchestrationResult) Failed() bool {
	return r.Error != ""
}

// Service wires the pipeline stages together.
type Service struct {
	extractor  ContentExtractor
	classifier ClassifierService
	normalizer EntityNormalizer
	storage    ArticleStorer
	log        *slog.Logger
}

// NewService creates the orchestrator.
func NewService(extractor ContentExtractor, classifier ClassifierService, normalizer EntityNormalizer, storage ArticleStorer) *Service {
	return &Service{
		extractor:  extractor,
		classifier: classifier,
		normalizer: normalizer,
		storage:    storage,
	}
}

// Open starts the extractor's pooled HTTP lifecycle when it has one.
// One-shot callers can skip the scope entirely.
func (s *Service) Open() error {
	if opener, ok := s.extractor.(interface{ Open() error }); ok {
		return opener.Open()
	}
	return nil
}

// Close releases the extractor's pooled HTTP lifecycle when it has one.
func (s *Service) Close() error {
	if closer, ok := s.extractor.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// ProcessArticle runs the full pipeline for one URL on the caller's
// session. It never returns an error; failures are captured in the
// result and in the canonical log line.
func (s *Service) ProcessArticle(ctx context.Context, session persistence.Session, url, section string, newsSourceID int64, minConfidence float64) *OrchestrationResult {
	start := time.Now()
	result := &OrchestrationResult{
		URL:                   url,
		Section:               section,
		ClassificationResults: []core.ClassificationResult{},
	}
	timings := make(map[string]int64)

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("panic: %v", r)
			result.ErrorStage = StageUnexpected
			result.ErrorType = fmt.Sprintf("%T", r)
		}
		timings["total_duration_ms"] = time.Since(start).Milliseconds()
		s.logResult(result, timings, newsSourceID, minConfidence)
	}()

	// Extract.
	stageStart := time.Now()
	content, err := s.extractor.Extract(ctx, url)
	timings["extraction_duration_ms"] = time.Since(stageStart).Milliseconds()
	if err != nil {
		result.Error = fmt.Sprintf("Failed to extract article: %v", err)
		result.ErrorStage = StageExtraction
		result.ErrorType = fmt.Sprintf("%T", err)
		return result
	}
	result.Extracted = true

	// Convert.
	input, err := core.NewClassificationInput(content, url, section)
	if err != nil {
		result.Error = fmt.Sprintf("Failed to build classification input: %v", err)
		result.ErrorStage = StageConversion
		result.ErrorType = fmt.Sprintf("%T", err)
		return result
	}

	// Classify.
	stageStart = time.Now()
	verdicts, err := s.classifier.Classify(ctx, input)
	timings["classification_duration_ms"] = time.Since(stageStart).Milliseconds()
	if err != nil {
		result.Error = fmt.Sprintf("Classification failed: %v", err)
		result.ErrorStage = StageClassification
		result.ErrorType = fmt.Sprintf("%T", err)
		return result
	}
	result.Classified = true
	result.ClassificationResults = verdicts

	// Filter.
	var relevant []core.ClassificationResult
	for _, v := range verdicts {
		if v.IsRelevant && v.Confidence >= minConfidence {
			relevant = append(relevant, v)
		}
	}
	if len(relevant) == 0 {
		return result
	}
	result.Relevant = true

	// Normalize entities. A normalizer failure is logged and downgraded
	// to zero entities; it never blocks storage.
	var normalized []core.NormalizedEntity
	names := entityUnion(relevant)
	if len(names) > 0 {
		stageStart = time.Now()
		normalized, err = s.normalizer.Normalize(ctx, names)
		timings["entity_normalization_duration_ms"] = time.Since(stageStart).Milliseconds()
		if err != nil {
			logger.Warn("Entity normalization failed, storing without entities", "url", url, "error", err.Error())
			normalized = nil
		}
	}
	result.EntityCount = len(normalized)

	// Store.
	stageStart = time.Now()
	stored, err := s.storage.StoreArticleWithClassifications(ctx, session, content, url, section, relevant, normalized, newsSourceID)
	timings["storage_duration_ms"] = time.Since(stageStart).Milliseconds()
	if err != nil {
		result.Error = fmt.Sprintf("Failed to store article: %v", err)
		result.ErrorStage = StageStorage
		result.ErrorType = fmt.Sprintf("%T", err)
		return result
	}
	if !stored.Stored {
		result.Duplicate = true
		return result
	}

	result.Stored = true
	result.ArticleID = stored.ArticleID
	result.ClassificationCount = stored.ClassificationCount
	return result
}

// entityUnion collects key entities across the relevant verdicts,
// first occurrence wins.
func entityUnion(relevant []core.ClassificationResult) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, v := range relevant {
		for _, name := range v.KeyEntities {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// logResult emits the canonical per-article log line: one record with
// flat keys, level error on failure, warn on duplicate, info otherwise.
func (s *Service) logResult(result *OrchestrationResult, timings map[string]int64, newsSourceID int64, minConfidence float64) {
	args := []interface{}{
		"url", result.URL,
		"section", result.Section,
		"news_source_id", newsSourceID,
		"min_confidence", minConfidence,
		"extracted", result.Extracted,
		"classified", result.Classified,
		"relevant", result.Relevant,
		"stored", result.Stored,
		"classification_count", result.ClassificationCount,
		"entity_count", result.EntityCount,
	}
	if result.ArticleID != nil {
		args = append(args, "article_id", *result.ArticleID)
	}
	for _, v := range result.ClassificationResults {
		prefix := strings.ToLower(string(v.ClassifierType))
		args = append(args,
			prefix+"_relevant", v.IsRelevant,
			prefix+"_confidence", v.Confidence,
			prefix+"_model", v.ModelName)
	}
	for _, key := range []string{
		"extraction_duration_ms",
		"classification_duration_ms",
		"entity_normalization_duration_ms",
		"storage_duration_ms",
		"total_duration_ms",
	} {
		if ms, ok := timings[key]; ok {
			args = append(args, key, ms)
		}
	}

	switch {
	case result.Failed():
		args = append(args, "error", result.Error, "error_stage", result.ErrorStage, "error_type", result.ErrorType)
		s.logger().Error("Article processed", args...)
	case result.Duplicate:
		s.logger().Warn("Article processed", args...)
	default:
		s.logger().Info("Article processed", args...)
	}
}

func (s *Service) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return logger.Get()
}
