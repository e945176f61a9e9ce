// Package llm provides the model clients behind the query pipeline.
//
// Every client implements Client, the single-call completion surface the
// executor and aggregator consume. OpenRouter is the primary backend and
// routes each call across a tiered model catalog; Anthropic is the
// single-model fallback; CachingClient wraps either with an LRU response
// cache.
package llm

import (
	"context"
	"strings"
)

// Client sends one prompt to a language model and returns its text response.
// Implementations must be safe for concurrent use: the executor issues calls
// from parallel workers.
type Client interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// defaultMaxTokens bounds the response when the caller passes no limit.
const defaultMaxTokens = 512

// ModelTier ranks catalog models by capability.
type ModelTier int

const (
	// TierFast serves per-source scan passes, which dominate call volume.
	TierFast ModelTier = iota
	// TierBalanced serves synthesis passes that fold prior stage outputs.
	TierBalanced
	// TierPowerful serves synthesis over sources that disagree.
	TierPowerful
)

// ModelSpec describes one model in the routing catalog.
type ModelSpec struct {
	ID          string
	Name        string
	Tier        ModelTier
	InputCost   float64 // per million tokens
	OutputCost  float64 // per million tokens
	ContextSize int
}

// Selector chooses a catalog model for a single completion call.
type Selector interface {
	Select(prompt string, maxTokens int) *ModelSpec
}

// TierSelector routes calls by what the prompt carries, the same way the
// planner grades them: per-source scans go to the fast tier, synthesis over
// stage outputs to the balanced tier, and synthesis over disagreeing sources
// to the powerful tier. Within a tier it picks the cheapest model whose
// context window fits the prompt.
type TierSelector struct {
	catalog []ModelSpec
}

// NewTierSelector creates a selector over the given catalog.
func NewTierSelector(catalog []ModelSpec) *TierSelector {
	return &TierSelector{catalog: catalog}
}

// Select implements Selector. It returns nil only for an empty catalog.
func (s *TierSelector) Select(prompt string, maxTokens int) *ModelSpec {
	tier := tierFor(prompt, maxTokens)

	var candidates []*ModelSpec
	for i := range s.catalog {
		if s.catalog[i].Tier == tier {
			candidates = append(candidates, &s.catalog[i])
		}
	}
	if len(candidates) == 0 {
		// Thin catalogs route everything across whatever is present.
		for i := range s.catalog {
			candidates = append(candidates, &s.catalog[i])
		}
	}

	return cheapestFitting(candidates, prompt)
}

// tierFor grades a call from markers the planner leaves in its prompts.
// Prompt sniffing is a heuristic: custom prompts without markers are scans.
func tierFor(prompt string, maxTokens int) ModelTier {
	if strings.Contains(prompt, "The sources disagree:") {
		return TierPowerful
	}
	if strings.Contains(prompt, "Stage outputs:") || maxTokens > 1024 {
		return TierBalanced
	}
	return TierFast
}

// cheapestFitting picks the cheapest candidate whose context window fits the
// prompt. When none fits it returns the largest window and lets the provider
// truncate rather than refusing the call.
func cheapestFitting(candidates []*ModelSpec, prompt string) *ModelSpec {
	need := len(prompt) / 4

	var best *ModelSpec
	for _, c := range candidates {
		if c.ContextSize < need {
			continue
		}
		if best == nil || c.InputCost < best.InputCost {
			best = c
		}
	}
	if best == nil {
		for _, c := range candidates {
			if best == nil || c.ContextSize > best.ContextSize {
				best = c
			}
		}
	}
	return best
}
