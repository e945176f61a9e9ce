package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/classify"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/decompose"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/execute"
)

type fakeCaller struct {
	mu       sync.Mutex
	err      error
	response string
	prompts  []string
}

func (f *fakeCaller) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if f.response == "" {
		return "synthesized answer", nil
	}
	return f.response, nil
}

func (f *fakeCaller) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func mapResult(id, name, perspective, text string) *execute.Result {
	return &execute.Result{
		QueryID:     id,
		Type:        decompose.TypeMap,
		Response:    text,
		Success:     true,
		TargetName:  name,
		Perspective: perspective,
	}
}

func failedResult(id string) *execute.Result {
	return &execute.Result{
		QueryID:       id,
		Type:          decompose.TypeMap,
		FailureReason: execute.ReasonCallFailed,
	}
}

func comparative() classify.Classification {
	return classify.Classification{Intent: classify.IntentComparative, Complexity: classify.ComplexityAggregate}
}

func TestAggregator_Aggregate_Synthesis(t *testing.T) {
	caller := &fakeCaller{}
	agg := New(caller, DefaultConfig(), nil)

	results := []*execute.Result{
		mapResult("map-1", "Alpha", "Advocate", "The launch also went well and the team aligns on scope."),
		mapResult("map-2", "Beta", "Critic", "The launch went well; the team also aligns on scope."),
	}

	res := agg.Aggregate(context.Background(), "plan-1", results, "how did the launch go?", comparative())

	assert.True(t, res.Success)
	assert.Equal(t, TypeSynthesis, res.Type)
	assert.Equal(t, "synthesized answer", res.Response)
	assert.Greater(t, res.Metadata.TokensEstimated, 0)
	assert.Equal(t, 2, res.Metadata.SubQueries)
	assert.Equal(t, 2, res.Metadata.Succeeded)
	assert.Zero(t, res.Metadata.Failed)

	require.Len(t, res.Sources, 2)
	assert.Equal(t, "Alpha", res.Sources[0].Name)
	assert.Equal(t, "Advocate", res.Sources[0].Perspective)

	prompt := caller.lastPrompt()
	assert.Contains(t, prompt, "Question: how did the launch go?")
	assert.Contains(t, prompt, "[Alpha (Advocate)]:")
	assert.Contains(t, prompt, "[Beta (Critic)]:")
	assert.Contains(t, prompt, "Weigh the sources against each other")

	// Agreeing texts never enrich the prompt with a conflict block.
	require.NotNil(t, res.Conflicts)
	assert.False(t, res.Conflicts.HasConflicts)
	assert.NotContains(t, prompt, "The sources disagree:")
}

func TestAggregator_Aggregate_FallbackGuarantee(t *testing.T) {
	caller := &fakeCaller{err: errors.New("synthesis provider down")}
	agg := New(caller, DefaultConfig(), nil)

	results := []*execute.Result{
		mapResult("map-1", "Alpha", "Advocate", "Scope was cut."),
		mapResult("map-2", "Beta", "Critic", "Scope was cut late."),
	}

	res := agg.Aggregate(context.Background(), "plan-1", results, "what happened to scope?", comparative())

	// The synthesis failure never surfaces while any sub-query
	// succeeded.
	assert.True(t, res.Success)
	assert.Equal(t, TypeFallback, res.Type)
	assert.Contains(t, res.Response, "[Alpha (Advocate)]: Scope was cut.")
	assert.Contains(t, res.Response, "[Beta (Critic)]: Scope was cut late.")
	require.Len(t, res.Sources, 2)
}

func TestAggregator_Aggregate_AllFailed(t *testing.T) {
	caller := &fakeCaller{}
	agg := New(caller, DefaultConfig(), nil)

	results := []*execute.Result{failedResult("map-1"), failedResult("map-2")}

	res := agg.Aggregate(context.Background(), "plan-1", results, "q", comparative())

	assert.False(t, res.Success)
	assert.Equal(t, TypeFailed, res.Type)
	assert.NotEmpty(t, res.Response)
	assert.Empty(t, res.Sources)
	assert.Equal(t, 2, res.Metadata.Failed)
	assert.Empty(t, caller.prompts)
}

func TestAggregator_Aggregate_NoData(t *testing.T) {
	caller := &fakeCaller{}
	agg := New(caller, DefaultConfig(), nil)

	res := agg.Aggregate(context.Background(), "plan-1", nil, "q", comparative())

	assert.False(t, res.Success)
	assert.Equal(t, TypeNoData, res.Type)
	assert.Empty(t, caller.prompts)
}

func TestAggregator_Aggregate_ConflictBlockInPrompt(t *testing.T) {
	caller := &fakeCaller{}
	agg := New(caller, DefaultConfig(), nil)

	results := []*execute.Result{
		mapResult("map-1", "Q1 Review", "Advocate", "Revenue grew 10%."),
		mapResult("map-2", "Q2 Review", "Critic", "However, revenue declined due to currency effects."),
	}

	res := agg.Aggregate(context.Background(), "plan-1", results, "how is revenue?", comparative())

	require.NotNil(t, res.Conflicts)
	assert.True(t, res.Conflicts.HasConflicts)

	prompt := caller.lastPrompt()
	assert.Contains(t, prompt, "The sources disagree:")
	assert.Contains(t, prompt, "Address these tensions explicitly")
	assert.Contains(t, prompt, "Advocate (Q1 Review) vs Critic (Q2 Review)")
}

func TestAggregator_Aggregate_ConflictSurfacingDisabled(t *testing.T) {
	caller := &fakeCaller{}
	cfg := DefaultConfig()
	cfg.SurfaceConflicts = false
	agg := New(caller, cfg, nil)

	results := []*execute.Result{
		mapResult("map-1", "Q1 Review", "Advocate", "Revenue grew 10%."),
		mapResult("map-2", "Q2 Review", "Critic", "However, revenue declined due to currency effects."),
	}

	res := agg.Aggregate(context.Background(), "plan-1", results, "how is revenue?", comparative())

	// Detection still runs; only the prompt enrichment is off.
	require.NotNil(t, res.Conflicts)
	assert.True(t, res.Conflicts.HasConflicts)
	assert.NotContains(t, caller.lastPrompt(), "The sources disagree:")
}

func TestAggregator_Aggregate_DebateNeverTripsDetection(t *testing.T) {
	caller := &fakeCaller{}
	agg := New(caller, DefaultConfig(), nil)

	debate := &execute.Result{
		QueryID:  "debate",
		Type:     decompose.TypeDebate,
		Response: "However, the sides disagree: one sees risk, the other disputes it. On the other hand, both contradict the timeline.",
		Success:  true,
	}
	results := []*execute.Result{
		mapResult("map-1", "Alpha", "Advocate", "The launch also went well and the team aligns on scope."),
		mapResult("map-2", "Beta", "Critic", "The launch went well; the team also aligns on scope."),
		debate,
	}

	res := agg.Aggregate(context.Background(), "plan-1", results, "q", comparative())

	// The marker-heavy debate output stays out of pairwise detection
	// but still lands in the source block.
	require.NotNil(t, res.Conflicts)
	assert.False(t, res.Conflicts.HasConflicts)
	assert.Contains(t, caller.lastPrompt(), "[debate]:")
}

func TestAggregator_Aggregate_PerspectiveLabelsToggle(t *testing.T) {
	caller := &fakeCaller{err: errors.New("down")}
	cfg := DefaultConfig()
	cfg.IncludePerspectives = false
	agg := New(caller, cfg, nil)

	results := []*execute.Result{
		mapResult("map-1", "Alpha", "Advocate", "Scope was cut."),
	}

	res := agg.Aggregate(context.Background(), "plan-1", results, "q", comparative())

	assert.Equal(t, "[Alpha]: Scope was cut.", res.Response)
	assert.NotContains(t, res.Response, "Advocate")
}

func TestAggregator_Aggregate_PartialFailure(t *testing.T) {
	caller := &fakeCaller{}
	agg := New(caller, DefaultConfig(), nil)

	results := []*execute.Result{
		mapResult("map-1", "Alpha", "Advocate", "Scope was cut."),
		failedResult("map-2"),
	}

	res := agg.Aggregate(context.Background(), "plan-1", results, "q", comparative())

	assert.True(t, res.Success)
	assert.Equal(t, TypeSynthesis, res.Type)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "map-1", res.Sources[0].QueryID)
	assert.Equal(t, 1, res.Metadata.Failed)
}

func TestIntentGuidance(t *testing.T) {
	assert.Contains(t, intentGuidance(classify.Classification{Intent: classify.IntentComparative}), "Weigh")
	assert.Contains(t, intentGuidance(classify.Classification{Intent: classify.IntentAggregative}), "complete picture")
	assert.Contains(t, intentGuidance(classify.Classification{Intent: classify.IntentTemporal}), "order of events")
	assert.Contains(t, intentGuidance(classify.Classification{Intent: classify.IntentFactual}), "directly")
}
