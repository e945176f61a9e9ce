package llm

import (
	"context"
	"fmt"
	"os"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
)

// defaultAnthropicModel keeps the fallback path on the cheap tier.
const defaultAnthropicModel = "claude-3-5-haiku-latest"

// Anthropic implements Client against the Anthropic API with a single fixed
// model. It is the fallback backend when no OpenRouter key is configured.
type Anthropic struct {
	provider fantasy.Provider
	model    string
}

var _ Client = (*Anthropic)(nil)

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Falls back to ANTHROPIC_API_KEY.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Model overrides the default model.
	Model string
}

// NewAnthropic creates an Anthropic-backed client.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key not provided (set ANTHROPIC_API_KEY)")
	}

	opts := []anthropic.Option{anthropic.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	provider, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create Anthropic provider: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	return &Anthropic{
		provider: provider,
		model:    model,
	}, nil
}

// Complete implements Client.
func (a *Anthropic) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	lm, err := a.provider.LanguageModel(ctx, a.model)
	if err != nil {
		return "", fmt.Errorf("get language model: %w", err)
	}

	maxTokens64 := int64(maxTokens)
	resp, err := lm.Generate(ctx, fantasy.Call{
		Prompt:          fantasy.Prompt{fantasy.NewUserMessage(prompt)},
		MaxOutputTokens: &maxTokens64,
	})
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	text := resp.Content.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from %s", a.model)
	}
	return text, nil
}

// Model returns the configured model name.
func (a *Anthropic) Model() string {
	return a.model
}
