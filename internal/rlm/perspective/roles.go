// Package perspective defines the fixed catalogue of cognitive
// perspective roles and assigns them to agents and groups.
//
// Roles are immutable values defined once at process start. Lookups never
// fail: when nothing matches, callers receive no role and build their
// prompt without a perspective prefix.
package perspective

import "github.com/mjamiv/vox2txt-sub003/internal/rlm/classify"

// RoleID is a compile-time-checked key into the role catalogue.
type RoleID string

const (
	RoleAnalyst     RoleID = "analyst"
	RoleAdvocate    RoleID = "advocate"
	RoleCritic      RoleID = "critic"
	RoleSynthesizer RoleID = "synthesizer"
	RoleHistorian   RoleID = "historian"
	RolePragmatist  RoleID = "pragmatist"
	RoleStakeholder RoleID = "stakeholder"
)

// Role is one analytical stance a sub-query can be phrased under.
type Role struct {
	// ID is the catalogue key.
	ID RoleID `json:"id"`

	// Label is the human-readable name used in attributions.
	Label string `json:"label"`

	// PromptPrefix is prepended to a sub-query's text.
	PromptPrefix string `json:"prompt_prefix"`

	// Traits tag the stance for display and debugging.
	Traits []string `json:"traits"`

	// Weight is the relative emphasis of this role, 0-1.
	Weight float64 `json:"weight"`

	// Triggers are keywords used by adaptive matching.
	Triggers []string `json:"triggers,omitempty"`
}

var catalogue = []Role{
	{
		ID:           RoleAnalyst,
		Label:        "Analyst",
		PromptPrefix: "As an objective analyst, ground every statement in what the material actually says and cite specifics.",
		Traits:       []string{"objective", "evidence-driven", "structured"},
		Weight:       1.0,
		Triggers:     []string{"data", "metric", "number", "evidence", "detail"},
	},
	{
		ID:           RoleAdvocate,
		Label:        "Advocate",
		PromptPrefix: "As an advocate for the ideas discussed, emphasize strengths, progress, and opportunities the material supports.",
		Traits:       []string{"optimistic", "opportunity-seeking", "supportive"},
		Weight:       0.8,
		Triggers:     []string{"benefit", "opportunity", "progress", "strength"},
	},
	{
		ID:           RoleCritic,
		Label:        "Critic",
		PromptPrefix: "As a critic, surface risks, gaps, unstated assumptions, and points where the discussion may be wrong.",
		Traits:       []string{"skeptical", "risk-aware", "rigorous"},
		Weight:       0.9,
		Triggers:     []string{"risk", "concern", "problem", "blocker", "issue"},
	},
	{
		ID:           RoleSynthesizer,
		Label:        "Synthesizer",
		PromptPrefix: "As a synthesizer, connect threads across the material into one coherent, balanced picture.",
		Traits:       []string{"integrative", "balanced", "thematic"},
		Weight:       0.9,
		Triggers:     []string{"overall", "theme", "summary", "pattern"},
	},
	{
		ID:           RoleHistorian,
		Label:        "Historian",
		PromptPrefix: "As a historian, order events in time and relate current decisions to what came before.",
		Traits:       []string{"chronological", "precedent-aware"},
		Weight:       0.7,
		Triggers:     []string{"history", "timeline", "previous", "earlier"},
	},
	{
		ID:           RolePragmatist,
		Label:        "Pragmatist",
		PromptPrefix: "As a pragmatist, focus on concrete actions, owners, deadlines, and what can realistically be done next.",
		Traits:       []string{"action-oriented", "concrete"},
		Weight:       0.8,
		Triggers:     []string{"action", "task", "deadline", "owner", "next"},
	},
	{
		ID:           RoleStakeholder,
		Label:        "Stakeholder Voice",
		PromptPrefix: "Speak for the people affected: weigh how decisions land on clients, partners, and the wider team.",
		Traits:       []string{"empathetic", "outcome-focused"},
		Weight:       0.7,
		Triggers:     []string{"client", "customer", "stakeholder", "partner"},
	},
}

// primaries are the first four catalogue roles, used for padding and for
// the primary-only assignment strategy.
var primaries = catalogue[:4]

// Lookup returns the role for id.
func Lookup(id RoleID) (Role, bool) {
	for _, r := range catalogue {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// All returns the full catalogue in definition order.
func All() []Role {
	out := make([]Role, len(catalogue))
	copy(out, catalogue)
	return out
}

// Default is the role used when perspective diversification is skipped.
func Default() Role {
	return catalogue[0]
}

// intentRoles maps a query intent to the roles that sharpen it, in
// preference order. Analyst is implicit and always selected first.
var intentRoles = map[classify.Intent][]RoleID{
	classify.IntentFactual:     {RoleSynthesizer},
	classify.IntentComparative: {RoleAdvocate, RoleCritic},
	classify.IntentAggregative: {RoleSynthesizer, RolePragmatist},
	classify.IntentAnalytical:  {RoleCritic, RoleSynthesizer},
	classify.IntentTemporal:    {RoleHistorian, RoleSynthesizer},
}

// SelectForQuery returns exactly count roles for the classification:
// Analyst first, then intent-specific roles, then primary roles to pad.
// Padding prefers primaries not yet selected and repeats only once the
// whole primary set is in use.
func SelectForQuery(c classify.Classification, count int) []Role {
	if count <= 0 {
		return nil
	}

	selected := make([]Role, 0, count)
	selected = append(selected, catalogue[0])

	for _, id := range intentRoles[c.Intent] {
		if len(selected) == count {
			return selected
		}
		if containsRole(selected, id) {
			continue
		}
		r, _ := Lookup(id)
		selected = append(selected, r)
	}

	for pad := 0; len(selected) < count; pad++ {
		r := primaries[pad%len(primaries)]
		if !containsRole(selected, r.ID) {
			selected = append(selected, r)
			continue
		}
		if allPrimariesIn(selected) {
			selected = append(selected, r)
		}
	}
	return selected
}

func containsRole(roles []Role, id RoleID) bool {
	for _, r := range roles {
		if r.ID == id {
			return true
		}
	}
	return false
}

func allPrimariesIn(roles []Role) bool {
	for _, p := range primaries {
		if !containsRole(roles, p.ID) {
			return false
		}
	}
	return true
}
