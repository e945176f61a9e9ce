package llm

import (
	"context"
	"fmt"
	"os"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openrouter"
)

// defaultFallbackModel is used when selection or model lookup fails.
const defaultFallbackModel = "anthropic/claude-haiku-4.5"

// DefaultCatalog returns the model catalog used for OpenRouter routing.
// Pricing is per million tokens, from OpenRouter as of January 2026.
func DefaultCatalog() []ModelSpec {
	return []ModelSpec{
		// Fast tier: per-source scans. Cheap and quick; a query over a
		// dozen transcripts burns a dozen of these per stage.
		{
			ID:          "anthropic/claude-haiku-4.5",
			Name:        "Claude Haiku 4.5",
			Tier:        TierFast,
			InputCost:   1.00,
			OutputCost:  5.00,
			ContextSize: 200000,
		},
		{
			ID:          "google/gemini-2.5-flash-lite",
			Name:        "Gemini 2.5 Flash Lite",
			Tier:        TierFast,
			InputCost:   0.10,
			OutputCost:  0.40,
			ContextSize: 1050000,
		},
		{
			ID:          "qwen/qwen3-8b",
			Name:        "Qwen3 8B",
			Tier:        TierFast,
			InputCost:   0.035,
			OutputCost:  0.138,
			ContextSize: 128000,
		},

		// Balanced tier: reduce and debate passes over stage outputs.
		{
			ID:          "anthropic/claude-sonnet-4.5",
			Name:        "Claude Sonnet 4.5",
			Tier:        TierBalanced,
			InputCost:   3.00,
			OutputCost:  15.00,
			ContextSize: 1000000,
		},
		{
			ID:          "google/gemini-2.5-flash",
			Name:        "Gemini 2.5 Flash",
			Tier:        TierBalanced,
			InputCost:   0.30,
			OutputCost:  2.50,
			ContextSize: 1050000,
		},
		{
			ID:          "openai/gpt-5-mini",
			Name:        "GPT-5 Mini",
			Tier:        TierBalanced,
			InputCost:   0.30,
			OutputCost:  1.20,
			ContextSize: 200000,
		},

		// Powerful tier: synthesis where sources conflict.
		{
			ID:          "anthropic/claude-opus-4.5",
			Name:        "Claude Opus 4.5",
			Tier:        TierPowerful,
			InputCost:   5.00,
			OutputCost:  25.00,
			ContextSize: 200000,
		},
		{
			ID:          "google/gemini-3-pro-preview",
			Name:        "Gemini 3 Pro Preview",
			Tier:        TierPowerful,
			InputCost:   2.00,
			OutputCost:  12.00,
			ContextSize: 1050000,
		},
		{
			ID:          "deepseek/deepseek-v3.2-speciale",
			Name:        "DeepSeek V3.2 Speciale",
			Tier:        TierPowerful,
			InputCost:   0.27,
			OutputCost:  0.41,
			ContextSize: 164000,
		},
	}
}

// OpenRouter implements Client over the OpenRouter API, routing each call to
// a catalog model chosen by the selector.
type OpenRouter struct {
	provider fantasy.Provider
	selector Selector
	fallback string
}

var _ Client = (*OpenRouter)(nil)

// OpenRouterConfig configures the OpenRouter client.
type OpenRouterConfig struct {
	// APIKey is the OpenRouter API key. Falls back to OPENROUTER_API_KEY.
	APIKey string

	// Catalog overrides the default model catalog.
	Catalog []ModelSpec

	// Selector overrides the default tier selector.
	Selector Selector

	// FallbackModel is used when selection or model lookup fails.
	FallbackModel string
}

// NewOpenRouter creates an OpenRouter-backed client.
func NewOpenRouter(cfg OpenRouterConfig) (*OpenRouter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key not provided (set OPENROUTER_API_KEY)")
	}

	provider, err := openrouter.New(openrouter.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create OpenRouter provider: %w", err)
	}

	catalog := cfg.Catalog
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}

	selector := cfg.Selector
	if selector == nil {
		selector = NewTierSelector(catalog)
	}

	fallback := cfg.FallbackModel
	if fallback == "" {
		fallback = defaultFallbackModel
	}

	return &OpenRouter{
		provider: provider,
		selector: selector,
		fallback: fallback,
	}, nil
}

// Complete implements Client.
func (c *OpenRouter) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	modelID := c.fallback
	if spec := c.selector.Select(prompt, maxTokens); spec != nil {
		modelID = spec.ID
	}

	lm, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		lm, err = c.provider.LanguageModel(ctx, c.fallback)
		if err != nil {
			return "", fmt.Errorf("get language model: %w", err)
		}
	}

	maxTokens64 := int64(maxTokens)
	resp, err := lm.Generate(ctx, fantasy.Call{
		Prompt:          fantasy.Prompt{fantasy.NewUserMessage(prompt)},
		MaxOutputTokens: &maxTokens64,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter generate: %w", err)
	}

	text := resp.Content.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from %s", modelID)
	}
	return text, nil
}

// Provider returns the underlying OpenRouter provider.
func (c *OpenRouter) Provider() fantasy.Provider {
	return c.provider
}
