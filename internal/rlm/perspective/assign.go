package perspective

import (
	"strings"

	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

// Strategy selects how roles are distributed across agents.
type Strategy string

const (
	// StrategyUniform gives every agent the first selected role.
	StrategyUniform Strategy = "uniform"

	// StrategyRotating cycles agents through the selected roles.
	StrategyRotating Strategy = "rotating"

	// StrategyAdaptive is reserved for content-based matching and
	// currently behaves like StrategyRotating.
	StrategyAdaptive Strategy = "adaptive"

	// StrategyPrimaryOnly cycles through the four primary roles,
	// ignoring the selected list.
	StrategyPrimaryOnly Strategy = "primary-only"
)

// ParseStrategy maps a config string onto a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyUniform, StrategyRotating, StrategyAdaptive, StrategyPrimaryOnly:
		return Strategy(s), true
	}
	return "", false
}

// AssignmentSource records which pass of the assigner produced an
// assignment.
type AssignmentSource string

const (
	// SourceGroupType marks a role derived from the group's criteria.
	SourceGroupType AssignmentSource = "group-type"

	// SourceRotating marks a role produced by strategy rotation.
	SourceRotating AssignmentSource = "rotating"

	// SourcePending marks a target not yet assigned a role.
	SourcePending AssignmentSource = "pending"
)

// Assignment pairs one agent or group with a role for the duration of a
// single decomposition. Assignments are never persisted.
type Assignment struct {
	// TargetID is the agent or group id the role applies to.
	TargetID string `json:"target_id"`

	// TargetName is the display name used in attributions.
	TargetName string `json:"target_name"`

	Role Role `json:"role"`

	Source AssignmentSource `json:"source"`
}

// AssignToAgents gives each agent one role per the strategy. The result
// always has one assignment per agent, in input order.
func AssignToAgents(agents []store.Agent, roles []Role, strategy Strategy) []Assignment {
	pool := roles
	if strategy == StrategyPrimaryOnly || len(pool) == 0 {
		pool = primaries
	}

	out := make([]Assignment, len(agents))
	for i, a := range agents {
		var r Role
		if strategy == StrategyUniform {
			r = pool[0]
		} else {
			r = pool[i%len(pool)]
		}
		out[i] = Assignment{
			TargetID:   a.ID,
			TargetName: a.DisplayName,
			Role:       r,
			Source:     SourceRotating,
		}
	}
	return out
}

// matcherRule is one entry in the custom-group decision table. Rules are
// checked in order; the first matching keyword wins.
type matcherRule struct {
	role     RoleID
	keywords []string
}

var customMatchers = []matcherRule{
	{RoleCritic, []string{"risk", "concern", "issue", "blocker", "problem"}},
	{RolePragmatist, []string{"action", "task", "todo", "follow-up", "next step"}},
	{RoleStakeholder, []string{"stakeholder", "client", "customer", "partner", "vendor"}},
	{RoleHistorian, []string{"history", "archive", "past", "previous", "retro"}},
}

// ForGroup maps a group onto a role by its criteria type. Custom groups
// are matched against the keyword decision table over name and
// description; no match yields ok=false and the caller proceeds without a
// perspective.
func ForGroup(g store.Group) (Role, bool) {
	switch g.Criteria {
	case store.CriteriaTemporal:
		return Lookup(RoleHistorian)
	case store.CriteriaThematic:
		return Lookup(RoleSynthesizer)
	case store.CriteriaSource:
		return Lookup(RoleAnalyst)
	case store.CriteriaCustom:
		text := strings.ToLower(g.Name + " " + g.Description)
		for _, rule := range customMatchers {
			for _, kw := range rule.keywords {
				if strings.Contains(text, kw) {
					return Lookup(rule.role)
				}
			}
		}
	}
	return Role{}, false
}

// AssignToGroups runs the two-pass group assignment: pass 1 derives roles
// from group types without reusing a role id across groups; pass 2 fills
// the rest by rotating through primary roles not claimed in pass 1,
// repeating only when those run out.
func AssignToGroups(groups []store.Group) []Assignment {
	out := make([]Assignment, len(groups))
	used := make(map[RoleID]bool)

	for i, g := range groups {
		out[i] = Assignment{TargetID: g.ID, TargetName: g.Name, Source: SourcePending}

		r, ok := ForGroup(g)
		if !ok || used[r.ID] {
			continue
		}
		out[i].Role = r
		out[i].Source = SourceGroupType
		used[r.ID] = true
	}

	var avail []Role
	for _, p := range primaries {
		if !used[p.ID] {
			avail = append(avail, p)
		}
	}
	if len(avail) == 0 {
		avail = primaries
	}

	next := 0
	for i := range out {
		if out[i].Source != SourcePending {
			continue
		}
		out[i].Role = avail[next%len(avail)]
		out[i].Source = SourceRotating
		next++
	}
	return out
}
