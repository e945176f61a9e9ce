// Package aggregate folds settled sub-query results into the single
// user-facing answer.
package aggregate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/classify"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/conflict"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/decompose"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/execute"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/observability"
)

// Caller is the model call surface for the single synthesis call.
type Caller interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Type labels how the final answer was produced.
type Type string

const (
	// TypeSynthesis is a model-written answer over the source block.
	TypeSynthesis Type = "synthesis"

	// TypeFallback is the deterministic labelled concatenation used
	// when the synthesis call fails.
	TypeFallback Type = "fallback"

	// TypeNoData means no sub-queries ran at all.
	TypeNoData Type = "no-data"

	// TypeFailed means every sub-query failed.
	TypeFailed Type = "failed"
)

// Source attributes one contributing answer.
type Source struct {
	QueryID     string         `json:"query_id"`
	Name        string         `json:"name"`
	Perspective string         `json:"perspective,omitempty"`
	Type        decompose.Type `json:"type"`
}

// Metadata summarizes how the answer was assembled.
type Metadata struct {
	SubQueries      int           `json:"sub_queries"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	TokensEstimated int           `json:"tokens_estimated"`
	Duration        time.Duration `json:"duration"`
}

// Result is the final aggregation outcome. Success is false only when
// no sub-query produced a response.
type Result struct {
	Success   bool               `json:"success"`
	Response  string             `json:"response"`
	Type      Type               `json:"aggregation_type"`
	Sources   []Source           `json:"sources,omitempty"`
	Conflicts *conflict.Analysis `json:"conflicts,omitempty"`
	Metadata  Metadata           `json:"metadata"`
}

// Config tunes aggregation. Values are threaded in per call.
type Config struct {
	// SurfaceConflicts appends the rendered conflict block to the
	// synthesis prompt when the heuristic flags disagreement.
	SurfaceConflicts bool `json:"surface_conflicts"`

	// IncludePerspectives labels sources with their assigned role.
	IncludePerspectives bool `json:"include_perspectives"`

	// MaxTokens is the synthesis response budget.
	MaxTokens int `json:"max_tokens"`

	// Timeout bounds the synthesis call.
	Timeout time.Duration `json:"timeout"`

	// Conflict tunes the disagreement heuristic.
	Conflict conflict.Config `json:"conflict"`
}

// DefaultConfig returns the aggregation defaults.
func DefaultConfig() Config {
	return Config{
		SurfaceConflicts:    true,
		IncludePerspectives: true,
		MaxTokens:           2048,
		Timeout:             120 * time.Second,
		Conflict:            conflict.DefaultConfig(),
	}
}

// Aggregator produces final answers.
type Aggregator struct {
	caller   Caller
	detector *conflict.Detector
	cfg      Config
	events   *observability.Orchestration
}

// New creates an Aggregator. A nil sink drops events.
func New(caller Caller, cfg Config, sink observability.Sink) *Aggregator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Aggregator{
		caller:   caller,
		detector: conflict.New(cfg.Conflict),
		cfg:      cfg,
		events:   observability.NewOrchestration(sink),
	}
}

// Aggregate builds the user-facing answer from settled results. It
// never fails once at least one sub-query succeeded: a synthesis call
// error degrades to the deterministic fallback concatenation instead
// of surfacing.
func (a *Aggregator) Aggregate(ctx context.Context, planID string, results []*execute.Result, query string, c classify.Classification) *Result {
	start := time.Now()

	successful := make([]*execute.Result, 0, len(results))
	for _, r := range results {
		if r.Success {
			successful = append(successful, r)
		}
	}

	res := &Result{
		Metadata: Metadata{
			SubQueries: len(results),
			Succeeded:  len(successful),
			Failed:     len(results) - len(successful),
		},
	}

	if len(successful) == 0 {
		if len(results) == 0 {
			res.Type = TypeNoData
			res.Response = "No analyzed sources were available to answer this question."
		} else {
			res.Type = TypeFailed
			res.Response = "Every analysis pass failed; no answer could be produced."
		}
		res.Metadata.Duration = time.Since(start)
		a.events.AggregateEnd(planID, string(res.Type), 0, res.Metadata.Duration)
		return res
	}

	// Disagreement is judged between per-perspective answers only;
	// debate and reduce outputs already talk about tensions and would
	// trip the markers by construction.
	perspectives := perspectiveResponses(successful)
	var analysis conflict.Analysis
	if len(perspectives) >= 2 {
		analysis = a.detector.Detect(perspectives)
		res.Conflicts = &analysis
		if analysis.HasConflicts {
			a.events.ConflictsFound(planID, len(analysis.Conflicts), analysis.Themes)
		}
	}

	prompt := a.synthesisPrompt(query, c, successful, analysis)

	response, err := a.call(ctx, prompt)
	if err != nil {
		a.events.Fallback(planID, err.Error())
		res.Response = a.fallbackAnswer(successful)
		res.Type = TypeFallback
	} else {
		res.Response = response
		res.Type = TypeSynthesis
		res.Metadata.TokensEstimated = execute.EstimateTokens(prompt) + execute.EstimateTokens(response)
	}
	res.Success = true

	res.Sources = make([]Source, 0, len(successful))
	for _, r := range successful {
		res.Sources = append(res.Sources, Source{
			QueryID:     r.QueryID,
			Name:        r.TargetName,
			Perspective: r.Perspective,
			Type:        r.Type,
		})
	}

	res.Metadata.Duration = time.Since(start)
	a.events.AggregateEnd(planID, string(res.Type), len(res.Sources), res.Metadata.Duration)
	return res
}

// call applies the synthesis timeout and invokes the model once.
func (a *Aggregator) call(ctx context.Context, prompt string) (string, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	return a.caller.Complete(ctx, prompt, a.cfg.MaxTokens)
}

// synthesisPrompt builds the one synthesis prompt: question, intent
// guidance, the labelled source block, and the conflict block when
// surfacing is on and the heuristic flagged disagreement.
func (a *Aggregator) synthesisPrompt(query string, c classify.Classification, successful []*execute.Result, analysis conflict.Analysis) string {
	var b strings.Builder
	b.WriteString("You are answering a question from several analysis passes over meeting records.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	b.WriteString(intentGuidance(c))
	b.WriteString("\n\nSources:\n")
	for _, r := range successful {
		fmt.Fprintf(&b, "\n[%s]: %s\n", a.label(r), r.Response)
	}

	if a.cfg.SurfaceConflicts && analysis.HasConflicts {
		b.WriteString("\nThe sources disagree:\n\n")
		b.WriteString(conflict.Render(analysis))
		b.WriteString("\n\nAddress these tensions explicitly in the answer.")
	}

	b.WriteString("\n\nGive one coherent answer, attribute insights to their sources, and note any disagreement that remains.")
	return b.String()
}

// fallbackAnswer concatenates the successful responses with their
// source labels. Deterministic: no model call involved.
func (a *Aggregator) fallbackAnswer(successful []*execute.Result) string {
	var b strings.Builder
	for i, r := range successful {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]: %s", a.label(r), r.Response)
	}
	return b.String()
}

// label renders one source label, honoring the perspective toggle.
func (a *Aggregator) label(r *execute.Result) string {
	if a.cfg.IncludePerspectives {
		return r.Label()
	}
	if r.TargetName != "" {
		return r.TargetName
	}
	return r.QueryID
}

// perspectiveResponses filters the per-perspective result types into
// the detector's input shape.
func perspectiveResponses(successful []*execute.Result) []conflict.Response {
	out := make([]conflict.Response, 0, len(successful))
	for _, r := range successful {
		switch r.Type {
		case decompose.TypeMap, decompose.TypeAgentSpecific, decompose.TypeGroupQuery:
			out = append(out, conflict.Response{
				Source:      r.TargetName,
				Perspective: r.Perspective,
				Text:        r.Response,
			})
		}
	}
	return out
}

// intentGuidance picks one synthesis instruction line per intent.
func intentGuidance(c classify.Classification) string {
	switch c.Intent {
	case classify.IntentComparative:
		return "Weigh the sources against each other before concluding."
	case classify.IntentAggregative:
		return "Roll the sources up into one complete picture."
	case classify.IntentAnalytical:
		return "Separate what the sources observed from what they concluded."
	case classify.IntentTemporal:
		return "Keep the order of events explicit."
	default:
		return "Answer directly from the sources."
	}
}
