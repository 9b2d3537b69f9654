// Package classify runs a set of topic classifiers over extracted
// article content. The service fans out to every classifier in
// parallel and joins all results; a single classifier failing never
// fails the set.
package classify

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"watchdog/internal/core"
	"watchdog/internal/logger"
)

// Classifier judges one article against one tracked topic.
type Classifier interface {
	Type() core.ClassifierType
	Classify(ctx context.Context, input core.ClassificationInput) (*core.ClassificationResult, error)
}

// Service fans a classification input out to its classifier set.
type Service struct {
	classifiers []Classifier
}

// NewService creates a classification service over the given set.
func NewService(classifiers []Classifier) *Service {
	return &Service{classifiers: classifiers}
}

// Classify launches every classifier concurrently and waits for all of
// them. A classifier that returns an error is logged and omitted from
// the result list; the order of the surviving results mirrors the
// classifier list. An empty classifier set returns an empty slice.
func (s *Service) Classify(ctx context.Context, input core.ClassificationInput) ([]core.ClassificationResult, error) {
	if len(s.classifiers) == 0 {
		return []core.ClassificationResult{}, nil
	}

	slots := make([]*core.ClassificationResult, len(s.classifiers))
	g, ctx := errgroup.WithContext(ctx)

	for i, classifier := range s.classifiers {
		g.Go(func() error {
			result, err := classifier.Classify(ctx, input)
			if err != nil {
				logger.Warn("Classifier failed",
					"classifier_type", string(classifier.Type()),
					"url", input.URL,
					"error_type", fmt.Sprintf("%T", err),
					"error", err.Error())
				return nil
			}
			slots[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]core.ClassificationResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}
