package perspective

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/classify"
	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

func classification() classify.Classification {
	return classify.Classification{
		Intent:     classify.IntentAnalytical,
		Complexity: classify.ComplexityAggregate,
	}
}

func testAgents(n int) []store.Agent {
	agents := make([]store.Agent, n)
	for i := range agents {
		agents[i] = store.Agent{
			ID:          fmt.Sprintf("a%d", i+1),
			DisplayName: fmt.Sprintf("Agent %d", i+1),
		}
	}
	return agents
}

func TestAssignToAgents_OneAssignmentPerAgent(t *testing.T) {
	agents := testAgents(5)
	roles := SelectForQuery(classification(), 3)

	for _, strategy := range []Strategy{StrategyUniform, StrategyRotating, StrategyAdaptive, StrategyPrimaryOnly} {
		got := AssignToAgents(agents, roles, strategy)
		assert.Len(t, got, len(agents), "strategy %s", strategy)
	}
}

func TestAssignToAgents_Uniform(t *testing.T) {
	roles := []Role{mustLookup(t, RoleCritic), mustLookup(t, RoleAdvocate)}

	got := AssignToAgents(testAgents(3), roles, StrategyUniform)
	for _, a := range got {
		assert.Equal(t, RoleCritic, a.Role.ID)
	}
}

func TestAssignToAgents_RotatingWrapsAround(t *testing.T) {
	roles := []Role{mustLookup(t, RoleAnalyst), mustLookup(t, RoleCritic)}

	got := AssignToAgents(testAgents(5), roles, StrategyRotating)
	assert.Equal(t, RoleAnalyst, got[0].Role.ID)
	assert.Equal(t, RoleCritic, got[1].Role.ID)
	assert.Equal(t, RoleAnalyst, got[2].Role.ID)
	assert.Equal(t, RoleCritic, got[3].Role.ID)
	assert.Equal(t, RoleAnalyst, got[4].Role.ID)
}

func TestAssignToAgents_AdaptiveMatchesRotating(t *testing.T) {
	agents := testAgents(6)
	roles := SelectForQuery(classification(), 3)

	rotating := AssignToAgents(agents, roles, StrategyRotating)
	adaptive := AssignToAgents(agents, roles, StrategyAdaptive)
	assert.Equal(t, rotating, adaptive)
}

func TestAssignToAgents_PrimaryOnlyIgnoresSelection(t *testing.T) {
	roles := []Role{mustLookup(t, RoleHistorian), mustLookup(t, RoleStakeholder)}

	got := AssignToAgents(testAgents(5), roles, StrategyPrimaryOnly)
	want := []RoleID{RoleAnalyst, RoleAdvocate, RoleCritic, RoleSynthesizer, RoleAnalyst}
	for i, a := range got {
		assert.Equal(t, want[i], a.Role.ID)
	}
}

func TestAssignToAgents_EmptyRolesFallBackToPrimaries(t *testing.T) {
	got := AssignToAgents(testAgents(2), nil, StrategyRotating)
	require.Len(t, got, 2)
	assert.Equal(t, RoleAnalyst, got[0].Role.ID)
	assert.Equal(t, RoleAdvocate, got[1].Role.ID)
}

func TestParseStrategy(t *testing.T) {
	s, ok := ParseStrategy("primary-only")
	require.True(t, ok)
	assert.Equal(t, StrategyPrimaryOnly, s)

	_, ok = ParseStrategy("chaotic")
	assert.False(t, ok)
}

func TestForGroup_ByCriteriaType(t *testing.T) {
	cases := []struct {
		criteria store.CriteriaType
		want     RoleID
	}{
		{store.CriteriaTemporal, RoleHistorian},
		{store.CriteriaThematic, RoleSynthesizer},
		{store.CriteriaSource, RoleAnalyst},
	}

	for _, tc := range cases {
		r, ok := ForGroup(store.Group{ID: "g", Name: "G", Criteria: tc.criteria})
		require.True(t, ok, "criteria %s", tc.criteria)
		assert.Equal(t, tc.want, r.ID)
	}
}

func TestForGroup_CustomKeywordTable(t *testing.T) {
	cases := []struct {
		name string
		want RoleID
	}{
		{"Risk Register", RoleCritic},
		{"Action Items", RolePragmatist},
		{"Client Calls", RoleStakeholder},
		{"Archive of decisions", RoleHistorian},
	}

	for _, tc := range cases {
		r, ok := ForGroup(store.Group{ID: "g", Name: tc.name, Criteria: store.CriteriaCustom})
		require.True(t, ok, "group %q", tc.name)
		assert.Equal(t, tc.want, r.ID, "group %q", tc.name)
	}
}

func TestForGroup_CustomFirstRuleWins(t *testing.T) {
	// Matches both the risk and action tables; risk is checked first.
	r, ok := ForGroup(store.Group{ID: "g", Name: "Action plan risks", Criteria: store.CriteriaCustom})
	require.True(t, ok)
	assert.Equal(t, RoleCritic, r.ID)
}

func TestForGroup_CustomNoMatch(t *testing.T) {
	_, ok := ForGroup(store.Group{ID: "g", Name: "Miscellany", Criteria: store.CriteriaCustom})
	assert.False(t, ok)
}

func TestAssignToGroups_PassOneNeverDuplicates(t *testing.T) {
	groups := []store.Group{
		{ID: "g1", Name: "Sprint 12", Criteria: store.CriteriaTemporal},
		{ID: "g2", Name: "Sprint 13", Criteria: store.CriteriaTemporal},
		{ID: "g3", Name: "Roadmap themes", Criteria: store.CriteriaThematic},
	}

	got := AssignToGroups(groups)
	require.Len(t, got, 3)

	assert.Equal(t, RoleHistorian, got[0].Role.ID)
	assert.Equal(t, SourceGroupType, got[0].Source)

	// Historian is already claimed, so the second temporal group falls
	// through to rotation over unclaimed primaries.
	assert.Equal(t, RoleAnalyst, got[1].Role.ID)
	assert.Equal(t, SourceRotating, got[1].Source)

	assert.Equal(t, RoleSynthesizer, got[2].Role.ID)
	assert.Equal(t, SourceGroupType, got[2].Source)
}

func TestAssignToGroups_RotationRepeatsWhenPrimariesRunOut(t *testing.T) {
	groups := make([]store.Group, 6)
	for i := range groups {
		groups[i] = store.Group{
			ID:       fmt.Sprintf("g%d", i+1),
			Name:     "Plain",
			Criteria: store.CriteriaCustom,
		}
	}

	got := AssignToGroups(groups)
	want := []RoleID{RoleAnalyst, RoleAdvocate, RoleCritic, RoleSynthesizer, RoleAnalyst, RoleAdvocate}
	for i, a := range got {
		assert.Equal(t, want[i], a.Role.ID)
		assert.Equal(t, SourceRotating, a.Source)
	}
}

func mustLookup(t *testing.T, id RoleID) Role {
	t.Helper()
	r, ok := Lookup(id)
	require.True(t, ok)
	return r
}
