package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_IntentRules(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		intent Intent
	}{
		{"comparative", "Compare the Q3 plan with the Q4 plan", IntentComparative},
		{"comparative versus", "Is option A versus option B better for us?", IntentComparative},
		{"temporal", "How did the hiring plan change over time?", IntentTemporal},
		{"aggregative", "What were the decisions across all meetings?", IntentAggregative},
		{"analytical", "Why did the migration slip and what are the risks?", IntentAnalytical},
		{"factual default", "What budget did finance approve?", IntentFactual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.query)
			assert.Equal(t, tt.intent, got.Intent)
		})
	}
}

func TestClassify_ComplexityFollowsIntent(t *testing.T) {
	c := Classify("Why did the rollout stall?")
	assert.Equal(t, ComplexityAggregate, c.Complexity)

	c = Classify("What budget did finance approve?")
	assert.Equal(t, ComplexitySimple, c.Complexity)
}

func TestClassify_AggregateCuesUpgradeFactual(t *testing.T) {
	c := Classify("What recurring themes came up in standups?")
	assert.Equal(t, ComplexityAggregate, c.Complexity)
}

func TestClassify_FirstRuleWins(t *testing.T) {
	// "compare" and "why" both present; comparative is evaluated first.
	c := Classify("Compare the plans and explain why one is riskier")
	assert.Equal(t, IntentComparative, c.Intent)
}

func TestParseIntent(t *testing.T) {
	got, ok := ParseIntent(" Analytical ")
	assert.True(t, ok)
	assert.Equal(t, IntentAnalytical, got)

	_, ok = ParseIntent("bogus")
	assert.False(t, ok)
}

func TestParseComplexity(t *testing.T) {
	got, ok := ParseComplexity("aggregate")
	assert.True(t, ok)
	assert.Equal(t, ComplexityAggregate, got)

	_, ok = ParseComplexity("medium")
	assert.False(t, ok)
}
