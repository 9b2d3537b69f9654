package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"watchdog/internal/core"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// DefaultTemperature keeps verdicts close to deterministic.
const DefaultTemperature = float32(0.1)

const verdictPromptTemplate = `You are a news analyst reviewing Jamaican press coverage for a
government-accountability research corpus.

TOPIC: %s

%s

ARTICLE METADATA:
URL: %s
Section: %s
Title: %s
Author: %s
Published: %s

ARTICLE BODY:
---
%s
---

Respond with ONLY a JSON object, no markdown fences and no commentary:
{
  "is_relevant": true or false,
  "confidence": a number between 0.0 and 1.0,
  "reasoning": "one or two sentences explaining the verdict",
  "key_entities": ["named people, offices, ministries, agencies, or companies central to the story; empty list if not relevant"]
}`

// topicCriteria holds the per-topic relevance guidance injected into
// the prompt.
var topicCriteria = map[core.ClassifierType]string{
	core.ClassifierCorruption: `RELEVANT when the article concerns corruption, fraud, bribery,
nepotism, misuse of public funds, procurement irregularities, or an
integrity or auditor-general investigation involving Jamaican public
bodies or officials. NOT relevant for private-sector crime with no
public-office angle, opinion pieces without a concrete allegation, or
foreign stories with no Jamaican connection.`,
	core.ClassifierHurricaneRelief: `RELEVANT when the article concerns hurricane or storm relief efforts
in Jamaica: aid distribution, relief funding, reconstruction
programmes, shelter operations, or accountability for relief
resources. NOT relevant for routine weather forecasts or storms with
no relief dimension.`,
}

// GeminiConfig configures one LLM-backed classifier.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Type        core.ClassifierType
	Temperature float32
}

// GeminiClassifier judges articles with a Gemini model. The underlying
// client is created once and reused across calls; each call is a fresh
// stateless generation.
type GeminiClassifier struct {
	client         *genai.Client
	model          string
	classifierType core.ClassifierType
	temperature    float32
}

// NewGeminiClassifier creates a classifier for one topic.
func NewGeminiClassifier(ctx context.Context, cfg GeminiConfig) (*GeminiClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", core.ErrInvalidInput)
	}
	if !cfg.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown classifier type %q", core.ErrInvalidInput, cfg.Type)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClassifier{
		client:         client,
		model:          cfg.Model,
		classifierType: cfg.Type,
		temperature:    cfg.Temperature,
	}, nil
}

// Type returns the topic this classifier judges.
func (c *GeminiClassifier) Type() core.ClassifierType {
	return c.classifierType
}

// Classify prompts the model with the article and parses its strict
// JSON verdict.
func (c *GeminiClassifier) Classify(ctx context.Context, input core.ClassificationInput) (*core.ClassificationResult, error) {
	prompt := buildVerdictPrompt(c.classifierType, input)
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(c.temperature),
		ResponseMIMEType: "application/json",
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate verdict: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response from model %s", c.model)
	}

	return decodeVerdict(text, c.classifierType, c.model)
}

func buildVerdictPrompt(classifierType core.ClassifierType, input core.ClassificationInput) string {
	published := "unknown"
	if input.PublishedDate != nil {
		published = input.PublishedDate.Format("2006-01-02")
	}
	author := input.Author
	if author == "" {
		author = "unknown"
	}
	return fmt.Sprintf(verdictPromptTemplate,
		string(classifierType), topicCriteria[classifierType],
		input.URL, input.Section, input.Title, author, published,
		input.FullText)
}

// verdictPayload is the wire shape the prompt demands.
type verdictPayload struct {
	IsRelevant  bool     `json:"is_relevant"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	KeyEntities []string `json:"key_entities"`
}

// decodeVerdict parses the model output, tolerating markdown fences,
// and validates the verdict before returning it.
func decodeVerdict(text string, classifierType core.ClassifierType, model string) (*core.ClassificationResult, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload verdictPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	result := &core.ClassificationResult{
		IsRelevant:     payload.IsRelevant,
		Confidence:     payload.Confidence,
		Reasoning:      payload.Reasoning,
		KeyEntities:    payload.KeyEntities,
		ClassifierType: classifierType,
		ModelName:      model,
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("model returned invalid verdict: %w", err)
	}
	return result, nil
}
