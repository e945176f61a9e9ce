// Package classify labels queries with an intent and a complexity so the
// decomposer can choose an execution strategy. The labels are also an input
// contract: callers that already know the classification pass it through
// unchanged.
package classify

import "strings"

// Intent describes what kind of answer a query is asking for.
type Intent string

const (
	IntentFactual     Intent = "factual"
	IntentComparative Intent = "comparative"
	IntentAggregative Intent = "aggregative"
	IntentAnalytical  Intent = "analytical"
	IntentTemporal    Intent = "temporal"
)

// Complexity describes how much source material a query needs to span.
type Complexity string

const (
	ComplexitySimple    Complexity = "simple"
	ComplexityAggregate Complexity = "aggregate"
)

// Classification pairs the intent and complexity labels for one query.
type Classification struct {
	Intent     Intent     `json:"intent"`
	Complexity Complexity `json:"complexity"`
}

// intentRule matches a query against keyword cues. Rules are evaluated in
// order and the first hit wins, so more specific intents come first.
type intentRule struct {
	intent Intent
	cues   []string
}

var intentRules = []intentRule{
	{IntentComparative, []string{"compare", "comparison", "versus", " vs ", "difference between", "better", "worse", "contrast"}},
	{IntentTemporal, []string{"timeline", "history", "over time", "when did", "when was", "evolution", "changed since", "progress"}},
	{IntentAggregative, []string{"overall", "total", "across all", "in total", "summarize all", "how many", "every meeting", "all meetings", "combined"}},
	{IntentAnalytical, []string{"why", "analyze", "analysis", "risk", "implication", "root cause", "explain how", "impact", "assess"}},
}

var aggregateCues = []string{
	"all ", "every ", "across", "overall", "trend", "themes", "common", "recurring",
}

// Classify derives a classification from the query text alone. It is a
// deterministic keyword heuristic, not a model call.
func Classify(query string) Classification {
	q := strings.ToLower(query)

	intent := IntentFactual
	for _, rule := range intentRules {
		if containsAny(q, rule.cues) {
			intent = rule.intent
			break
		}
	}

	complexity := ComplexitySimple
	switch intent {
	case IntentComparative, IntentAggregative, IntentAnalytical:
		complexity = ComplexityAggregate
	default:
		if containsAny(q, aggregateCues) || len(strings.Fields(q)) > 24 {
			complexity = ComplexityAggregate
		}
	}

	return Classification{Intent: intent, Complexity: complexity}
}

// ParseIntent maps a user-supplied string onto an Intent.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentFactual:
		return IntentFactual, true
	case IntentComparative:
		return IntentComparative, true
	case IntentAggregative:
		return IntentAggregative, true
	case IntentAnalytical:
		return IntentAnalytical, true
	case IntentTemporal:
		return IntentTemporal, true
	}
	return "", false
}

// ParseComplexity maps a user-supplied string onto a Complexity.
func ParseComplexity(s string) (Complexity, bool) {
	switch Complexity(strings.ToLower(strings.TrimSpace(s))) {
	case ComplexitySimple:
		return ComplexitySimple, true
	case ComplexityAggregate:
		return ComplexityAggregate, true
	}
	return "", false
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}
