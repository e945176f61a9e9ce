// Package decompose turns one user query into an acyclic, typed,
// priority-ordered sub-query plan.
package decompose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/classify"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/perspective"
	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

// Type classifies one sub-query's position in the plan.
type Type string

const (
	TypeMap           Type = "map"
	TypeReduce        Type = "reduce"
	TypeDebate        Type = "debate"
	TypeGroupQuery    Type = "group-query"
	TypeAgentSpecific Type = "agent-specific"
)

// Strategy names the shape of a plan.
type Strategy string

const (
	// StrategyParallel fans the query out per agent with no reduce
	// stage; the aggregator works from the raw results.
	StrategyParallel Strategy = "parallel"

	// StrategyMapReduce runs one map per agent, an optional debate
	// stage, then a single reduce over the stage outputs.
	StrategyMapReduce Strategy = "map-reduce"

	// StrategyGroupParallel runs one query per eligible group over the
	// group's combined context, then a single reduce.
	StrategyGroupParallel Strategy = "group-parallel"
)

// ParseStrategy maps a user-supplied string onto a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyParallel:
		return StrategyParallel, true
	case StrategyMapReduce:
		return StrategyMapReduce, true
	case StrategyGroupParallel:
		return StrategyGroupParallel, true
	}
	return "", false
}

// SubQuery is one unit of work sent to the model.
type SubQuery struct {
	// ID is unique within the plan.
	ID string `json:"id"`

	Type Type `json:"type"`

	// QueryText is the fully built prompt text, scope and perspective
	// included.
	QueryText string `json:"query_text"`

	// TargetAgents are the agent ids whose context backs this
	// sub-query. Empty for reduce and debate.
	TargetAgents []string `json:"target_agents,omitempty"`

	// TargetGroup is the group id for group-query sub-queries.
	TargetGroup string `json:"target_group,omitempty"`

	// TargetName is the display name used for attribution.
	TargetName string `json:"target_name,omitempty"`

	// Perspective is the role assignment shaping this sub-query, if
	// any.
	Perspective *perspective.Assignment `json:"perspective,omitempty"`

	// Priority orders stages; lower runs first.
	Priority int `json:"priority"`

	// DependsOn lists sub-query ids that must settle before this one
	// may run.
	DependsOn []string `json:"depends_on,omitempty"`

	// ContextLevel is the store context depth to fetch for the
	// targets.
	ContextLevel store.ContextLevel `json:"context_level"`
}

// Plan is the ordered sub-query set produced by one decomposition.
type Plan struct {
	ID         string     `json:"id"`
	Query      string     `json:"query"`
	Strategy   Strategy   `json:"strategy"`
	SubQueries []SubQuery `json:"sub_queries"`
}

// Empty reports whether decomposition produced no work. Callers must
// short-circuit with a no-data result rather than executing.
func (p *Plan) Empty() bool {
	return len(p.SubQueries) == 0
}

// Stages partitions the plan by ascending priority, preserving insertion
// order within each stage.
func (p *Plan) Stages() [][]SubQuery {
	byPriority := make(map[int][]SubQuery)
	var priorities []int
	for _, sq := range p.SubQueries {
		if _, seen := byPriority[sq.Priority]; !seen {
			priorities = append(priorities, sq.Priority)
		}
		byPriority[sq.Priority] = append(byPriority[sq.Priority], sq)
	}
	sort.Ints(priorities)

	stages := make([][]SubQuery, len(priorities))
	for i, pr := range priorities {
		stages[i] = byPriority[pr]
	}
	return stages
}

// Validate checks the plan invariants: unique ids, dependencies that
// exist in the same plan, and every dependency settling in a strictly
// earlier stage than its dependent. The last rule also rules out
// dependency cycles.
func (p *Plan) Validate() error {
	ids := make(map[string]*SubQuery, len(p.SubQueries))
	for i := range p.SubQueries {
		sq := &p.SubQueries[i]
		if sq.ID == "" {
			return fmt.Errorf("plan %s: sub-query %d has no id", p.ID, i)
		}
		if _, dup := ids[sq.ID]; dup {
			return fmt.Errorf("plan %s: duplicate sub-query id %q", p.ID, sq.ID)
		}
		ids[sq.ID] = sq
	}

	for _, sq := range p.SubQueries {
		for _, dep := range sq.DependsOn {
			target, ok := ids[dep]
			if !ok {
				return fmt.Errorf("plan %s: %q depends on unknown id %q", p.ID, sq.ID, dep)
			}
			if target.Priority >= sq.Priority {
				return fmt.Errorf("plan %s: %q depends on %q, which does not settle in an earlier stage", p.ID, sq.ID, dep)
			}
		}
	}
	return nil
}

// Config carries the decomposition options. Values are threaded in per
// call, never read from ambient state.
type Config struct {
	// SocietiesEnabled toggles perspective assignment. Off means plain
	// sub-queries without role prefixes.
	SocietiesEnabled bool `json:"societies_enabled"`

	// RoleStrategy picks how roles rotate across agents.
	RoleStrategy perspective.Strategy `json:"role_strategy"`

	// MinAgentsForSocieties is the agent count below which perspective
	// diversification is skipped in favor of the single default role.
	MinAgentsForSocieties int `json:"min_agents_for_societies"`

	// MinEligibleGroups is the eligible-group floor for group-level
	// decomposition.
	MinEligibleGroups int `json:"min_eligible_groups"`

	// MinAgentsForGroupLevel is the candidate-agent floor for
	// group-level decomposition.
	MinAgentsForGroupLevel int `json:"min_agents_for_group_level"`
}

// DefaultConfig returns the decomposition defaults.
func DefaultConfig() Config {
	return Config{
		SocietiesEnabled:       true,
		RoleStrategy:           perspective.StrategyRotating,
		MinAgentsForSocieties:  2,
		MinEligibleGroups:      2,
		MinAgentsForGroupLevel: 6,
	}
}

// Decision reports whether group-level decomposition pays for itself.
type Decision struct {
	UseGroupLevel  bool `json:"use_group_level"`
	EligibleGroups int  `json:"eligible_groups"`
	AgentCount     int  `json:"agent_count"`
}

// Decide chooses between agent-level and group-level decomposition.
// Group-level requires enough eligible groups and agents to beat the
// per-group orchestration overhead, and a non-simple query.
func Decide(groups []store.Group, agentCount int, c classify.Classification, cfg Config) Decision {
	eligible := 0
	for _, g := range groups {
		if g.Eligible() {
			eligible++
		}
	}

	return Decision{
		UseGroupLevel: eligible >= cfg.MinEligibleGroups &&
			agentCount >= cfg.MinAgentsForGroupLevel &&
			c.Complexity != classify.ComplexitySimple,
		EligibleGroups: eligible,
		AgentCount:     agentCount,
	}
}

// ChooseStrategy maps a group-level decision and classification onto the
// plan strategy.
func ChooseStrategy(d Decision, c classify.Classification) Strategy {
	switch {
	case d.UseGroupLevel:
		return StrategyGroupParallel
	case c.Complexity == classify.ComplexityAggregate:
		return StrategyMapReduce
	default:
		return StrategyParallel
	}
}

// Decomposer builds sub-query plans.
type Decomposer struct {
	cfg Config
}

// New creates a Decomposer with the given options.
func New(cfg Config) *Decomposer {
	return &Decomposer{cfg: cfg}
}

// Decompose builds the plan for one query. An empty agent or group set
// yields an empty plan, never an error.
func (d *Decomposer) Decompose(query string, c classify.Classification, strategy Strategy, agents []store.Agent, groups []store.Group) (*Plan, error) {
	plan := &Plan{
		ID:       uuid.NewString(),
		Query:    query,
		Strategy: strategy,
	}

	switch strategy {
	case StrategyParallel:
		plan.SubQueries = d.perAgent(query, c, agents, TypeAgentSpecific, store.LevelStandard)
	case StrategyMapReduce:
		plan.SubQueries = d.mapReduce(query, c, agents)
	case StrategyGroupParallel:
		plan.SubQueries = d.groupParallel(query, groups)
	default:
		return nil, fmt.Errorf("decompose: unknown strategy %q", strategy)
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// assignAgents resolves role assignments for the agent set, honoring the
// societies toggle and the diversification floor.
func (d *Decomposer) assignAgents(c classify.Classification, agents []store.Agent) []perspective.Assignment {
	if !d.cfg.SocietiesEnabled || len(agents) == 0 {
		return nil
	}
	if len(agents) < d.cfg.MinAgentsForSocieties {
		return perspective.AssignToAgents(agents, []perspective.Role{perspective.Default()}, perspective.StrategyUniform)
	}
	roles := perspective.SelectForQuery(c, len(agents))
	return perspective.AssignToAgents(agents, roles, d.cfg.RoleStrategy)
}

func (d *Decomposer) perAgent(query string, c classify.Classification, agents []store.Agent, typ Type, level store.ContextLevel) []SubQuery {
	assignments := d.assignAgents(c, agents)

	prefix := "agent"
	if typ == TypeMap {
		prefix = "map"
	}

	subs := make([]SubQuery, 0, len(agents))
	for i, a := range agents {
		var assigned *perspective.Assignment
		if assignments != nil {
			assigned = &assignments[i]
		}
		subs = append(subs, SubQuery{
			ID:           fmt.Sprintf("%s-%d", prefix, i+1),
			Type:         typ,
			QueryText:    buildQueryText(agentScope(a.DisplayName), assigned, query),
			TargetAgents: []string{a.ID},
			TargetName:   a.DisplayName,
			Perspective:  assigned,
			Priority:     1,
			ContextLevel: level,
		})
	}
	return subs
}

func (d *Decomposer) mapReduce(query string, c classify.Classification, agents []store.Agent) []SubQuery {
	subs := d.perAgent(query, c, agents, TypeMap, store.LevelSummary)
	if len(subs) == 0 {
		return nil
	}

	mapIDs := make([]string, len(subs))
	for i, sq := range subs {
		mapIDs[i] = sq.ID
	}

	reduceDeps := mapIDs
	reducePriority := 2

	if c.Complexity == classify.ComplexityAggregate &&
		(c.Intent == classify.IntentAnalytical || c.Intent == classify.IntentComparative) {
		subs = append(subs, SubQuery{
			ID:           "debate",
			Type:         TypeDebate,
			QueryText:    debatePrompt(query),
			Priority:     2,
			DependsOn:    mapIDs,
			ContextLevel: store.LevelNone,
		})
		reduceDeps = []string{"debate"}
		reducePriority = 3
	}

	subs = append(subs, SubQuery{
		ID:           "reduce",
		Type:         TypeReduce,
		QueryText:    reducePrompt(query),
		Priority:     reducePriority,
		DependsOn:    reduceDeps,
		ContextLevel: store.LevelNone,
	})
	return subs
}

func (d *Decomposer) groupParallel(query string, groups []store.Group) []SubQuery {
	eligible := make([]store.Group, 0, len(groups))
	for _, g := range groups {
		if g.Eligible() {
			eligible = append(eligible, g)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	var assignments []perspective.Assignment
	if d.cfg.SocietiesEnabled {
		assignments = perspective.AssignToGroups(eligible)
	}

	subs := make([]SubQuery, 0, len(eligible)+1)
	groupIDs := make([]string, 0, len(eligible))
	for i, g := range eligible {
		var assigned *perspective.Assignment
		if assignments != nil {
			assigned = &assignments[i]
		}
		id := fmt.Sprintf("group-%d", i+1)
		groupIDs = append(groupIDs, id)
		subs = append(subs, SubQuery{
			ID:           id,
			Type:         TypeGroupQuery,
			QueryText:    buildQueryText(groupScope(g.Name, len(g.AgentIDs)), assigned, query),
			TargetAgents: append([]string(nil), g.AgentIDs...),
			TargetGroup:  g.ID,
			TargetName:   g.Name,
			Perspective:  assigned,
			Priority:     1,
			ContextLevel: store.LevelSummary,
		})
	}

	subs = append(subs, SubQuery{
		ID:           "reduce",
		Type:         TypeReduce,
		QueryText:    reducePrompt(query),
		Priority:     2,
		DependsOn:    groupIDs,
		ContextLevel: store.LevelNone,
	})
	return subs
}
