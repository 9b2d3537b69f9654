package classify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"watchdog/internal/core"
)

type stubClassifier struct {
	classifierType core.ClassifierType
	result         *core.ClassificationResult
	err            error
	barrier        *sync.WaitGroup
}

func (s *stubClassifier) Type() core.ClassifierType { return s.classifierType }

func (s *stubClassifier) Classify(ctx context.Context, input core.ClassificationInput) (*core.ClassificationResult, error) {
	if s.barrier != nil {
		// Every classifier must reach this point before any returns,
		// which only happens when they run concurrently.
		s.barrier.Done()
		s.barrier.Wait()
	}
	return s.result, s.err
}

func verdict(t core.ClassifierType, confidence float64) *core.ClassificationResult {
	return &core.ClassificationResult{
		IsRelevant:     true,
		Confidence:     confidence,
		Reasoning:      "test verdict",
		ClassifierType: t,
		ModelName:      "stub",
	}
}

func testInput() core.ClassificationInput {
	return core.ClassificationInput{
		URL:      "https://example.test/article",
		Section:  "news",
		Title:    "Title",
		FullText: "Body",
	}
}

func TestClassifyFanOut(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	svc := NewService([]Classifier{
		&stubClassifier{classifierType: core.ClassifierCorruption, result: verdict(core.ClassifierCorruption, 0.9), barrier: &barrier},
		&stubClassifier{classifierType: core.ClassifierHurricaneRelief, result: verdict(core.ClassifierHurricaneRelief, 0.4), barrier: &barrier},
	})

	results, err := svc.Classify(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ClassifierType != core.ClassifierCorruption || results[1].ClassifierType != core.ClassifierHurricaneRelief {
		t.Errorf("result order should mirror the classifier list: %+v", results)
	}
}

func TestClassifyFailureIsOmitted(t *testing.T) {
	svc := NewService([]Classifier{
		&stubClassifier{classifierType: core.ClassifierCorruption, err: errors.New("model unavailable")},
		&stubClassifier{classifierType: core.ClassifierHurricaneRelief, result: verdict(core.ClassifierHurricaneRelief, 0.8)},
	})

	results, err := svc.Classify(context.Background(), testInput())
	if err != nil {
		t.Fatalf("one classifier failing must not fail the set: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the surviving result only, got %d", len(results))
	}
	if results[0].ClassifierType != core.ClassifierHurricaneRelief {
		t.Errorf("unexpected surviving result: %+v", results[0])
	}
}

func TestClassifyAllFail(t *testing.T) {
	svc := NewService([]Classifier{
		&stubClassifier{classifierType: core.ClassifierCorruption, err: errors.New("down")},
		&stubClassifier{classifierType: core.ClassifierHurricaneRelief, err: errors.New("down")},
	})

	results, err := svc.Classify(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestClassifyEmptySet(t *testing.T) {
	svc := NewService(nil)
	results, err := svc.Classify(context.Background(), testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("empty set should return an empty, non-nil slice, got %v", results)
	}
}

func TestDecodeVerdict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{
			name: "plain JSON",
			text: `{"is_relevant": true, "confidence": 0.92, "reasoning": "OCG probe", "key_entities": ["Office of the Contractor General"]}`,
		},
		{
			name: "fenced JSON",
			text: "```json\n{\"is_relevant\": false, \"confidence\": 0.1, \"reasoning\": \"sports story\", \"key_entities\": []}\n```",
		},
		{
			name:    "not JSON",
			text:    "the article is relevant",
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			text:    `{"is_relevant": true, "confidence": 1.5, "reasoning": "x", "key_entities": []}`,
			wantErr: true,
		},
		{
			name:    "missing reasoning",
			text:    `{"is_relevant": true, "confidence": 0.9, "reasoning": "", "key_entities": []}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := decodeVerdict(tt.text, core.ClassifierCorruption, "test-model")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ClassifierType != core.ClassifierCorruption || result.ModelName != "test-model" {
				t.Errorf("classifier identity not stamped: %+v", result)
			}
		})
	}
}

func TestDecodeVerdictFiltersEmptyEntities(t *testing.T) {
	result, err := decodeVerdict(
		`{"is_relevant": true, "confidence": 0.9, "reasoning": "x", "key_entities": ["OCG", "  ", ""]}`,
		core.ClassifierCorruption, "m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.KeyEntities) != 1 || result.KeyEntities[0] != "OCG" {
		t.Errorf("empty entities should be filtered, got %v", result.KeyEntities)
	}
}

func TestBuildVerdictPromptIncludesMetadata(t *testing.T) {
	input := testInput()
	input.Author = "Jane Reid"
	prompt := buildVerdictPrompt(core.ClassifierCorruption, input)
	for _, want := range []string{"https://example.test/article", "news", "Title", "Jane Reid", "Body", "CORRUPTION"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
