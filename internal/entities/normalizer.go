package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"watchdog/internal/core"
	"watchdog/internal/logger"
)

// Store is the cache surface the normalizer depends on. The in-memory
// cache never fails, but a remote-backed store could, and a store
// error must never fail normalization.
type Store interface {
	Lookup(names []string) (map[string]core.NormalizedEntity, error)
	Store(values map[string]core.NormalizedEntity) error
}

// Lookup implements Store over the in-memory cache.
func (c *Cache) Lookup(names []string) (map[string]core.NormalizedEntity, error) {
	return c.GetMany(names), nil
}

// Store implements Store over the in-memory cache.
func (c *Cache) Store(values map[string]core.NormalizedEntity) error {
	c.SetMany(values)
	return nil
}

// Agent normalizes a batch of raw entity spellings in one call.
type Agent interface {
	NormalizeBatch(ctx context.Context, names []string) ([]core.NormalizedEntity, error)
}

// Normalizer maps raw entity strings to canonical forms, probing the
// cache first and sending only the misses to the agent.
type Normalizer struct {
	agent Agent
	cache Store
}

// NewNormalizer creates a normalizer over the given agent and cache.
func NewNormalizer(agent Agent, cache Store) *Normalizer {
	return &Normalizer{agent: agent, cache: cache}
}

// Normalize resolves every name to its canonical form, preserving
// input order. Cache failures degrade to treating everything as a
// miss; names the agent fails to return are normalized with the
// deterministic fallback rules.
func (n *Normalizer) Normalize(ctx context.Context, names []string) ([]core.NormalizedEntity, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no entities to normalize", core.ErrInvalidInput)
	}

	cached, err := n.cache.Lookup(names)
	if err != nil {
		logger.Warn("Entity cache lookup failed, treating all as misses", "error", err.Error())
		cached = nil
	}

	var uncached []string
	seen := make(map[string]struct{})
	for _, name := range names {
		if _, ok := cached[name]; ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		uncached = append(uncached, name)
	}

	normalized := make(map[string]core.NormalizedEntity)
	if len(uncached) > 0 {
		batch, err := n.agent.NormalizeBatch(ctx, uncached)
		if err != nil {
			return nil, fmt.Errorf("entity normalization failed: %w", err)
		}
		for _, entity := range batch {
			if err := entity.Validate(); err != nil {
				logger.Warn("Dropping invalid normalization", "original_value", entity.OriginalValue, "error", err.Error())
				continue
			}
			normalized[entity.OriginalValue] = entity
		}
		if len(normalized) > 0 {
			if err := n.cache.Store(normalized); err != nil {
				logger.Warn("Entity cache store failed", "error", err.Error())
			}
		}
	}

	results := make([]core.NormalizedEntity, 0, len(names))
	for _, name := range names {
		if entity, ok := cached[name]; ok {
			results = append(results, entity)
			continue
		}
		if entity, ok := normalized[name]; ok {
			results = append(results, entity)
			continue
		}
		logger.Warn("Agent omitted entity, using fallback normalization", "original_value", name)
		results = append(results, fallbackNormalize(name))
	}
	return results, nil
}

// fallbackNormalize applies the deterministic subset of the
// canonicalization rules: lowercase, collapse whitespace, underscores.
func fallbackNormalize(name string) core.NormalizedEntity {
	return core.NormalizedEntity{
		OriginalValue:   name,
		NormalizedValue: strings.ReplaceAll(cacheKey(name), " ", "_"),
		Confidence:      0.3,
		Reason:          "fallback normalization",
	}
}

const normalizePromptTemplate = `You canonicalize named entities extracted from Jamaican news
articles about government accountability.

RULES:
- Lowercase everything.
- Strip honorifics and role titles (Mr., Mrs., Hon., Dr., Senator,
  Minister, Prime Minister, MP) but keep the person's full name:
  "Hon. Ruel Reid" becomes "ruel_reid", never "reid".
- Replace spaces with underscores.
- Preserve acronyms as-is, lowercased: "OCG" becomes "ocg".
- Standardize known government bodies to their full official form:
  "Education Ministry" becomes "ministry_of_education".
- The same input must always produce the same output.

ENTITIES:
%s

Respond with ONLY a JSON object, no markdown fences and no commentary:
{
  "entities": [
    {
      "original_value": "the input string exactly as given",
      "normalized_value": "the canonical form",
      "confidence": a number between 0.0 and 1.0,
      "reason": "one short sentence"
    }
  ]
}
Return exactly one entry per input entity, in the input order.`

// GeminiAgent normalizes entities with a Gemini model, one batched
// prompt per call.
type GeminiAgent struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiAgent creates the agent; the client is reused across calls.
func NewGeminiAgent(ctx context.Context, apiKey, model string, temperature float32) (*GeminiAgent, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", core.ErrInvalidInput)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if temperature <= 0 {
		temperature = 0.1
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAgent{client: client, model: model, temperature: temperature}, nil
}

// NormalizeBatch sends every name in one prompt and parses the JSON
// response.
func (a *GeminiAgent) NormalizeBatch(ctx context.Context, names []string) ([]core.NormalizedEntity, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no entities to normalize", core.ErrInvalidInput)
	}

	var listing strings.Builder
	for i, name := range names {
		fmt.Fprintf(&listing, "%d. %s\n", i+1, name)
	}
	prompt := fmt.Sprintf(normalizePromptTemplate, listing.String())

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(a.temperature),
		ResponseMIMEType: "application/json",
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate normalizations: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response from model %s", a.model)
	}
	return decodeNormalizations(text)
}

// decodeNormalizations parses the agent response, tolerating markdown
// fences.
func decodeNormalizations(text string) ([]core.NormalizedEntity, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var payload struct {
		Entities []core.NormalizedEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse agent response: %w", err)
	}
	return payload.Entities, nil
}
