// Package execute runs decomposition plans against the model call
// surface, stage by stage, with bounded parallelism and retries.
package execute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/decompose"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/observability"
	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

// Caller is the model call surface. It is treated as opaque, slow and
// failure-prone; any returned error is handled the same way.
type Caller interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ContextProvider resolves the combined context text for a set of
// agents at a given depth.
type ContextProvider interface {
	GetCombinedContext(ctx context.Context, agentIDs []string, level store.ContextLevel) (string, error)
}

// ErrEmptyPlan is returned when a plan with no sub-queries reaches the
// executor. Callers are expected to short-circuit empty plans into a
// no-data answer instead.
var ErrEmptyPlan = errors.New("execute: empty plan")

// Failure reasons recorded on failed results.
const (
	// ReasonCallFailed marks a sub-query whose model call kept failing
	// after every attempt.
	ReasonCallFailed = "call-failed"

	// ReasonDependencyFailed marks a sub-query settled without a model
	// call because a dependency failed.
	ReasonDependencyFailed = "dependency-failed"

	// ReasonContextUnavailable marks a sub-query whose agent context
	// could not be resolved from the store.
	ReasonContextUnavailable = "context-unavailable"
)

// Config bounds the executor. Zero values fall back to defaults where
// noted.
type Config struct {
	// MaxAttempts is the attempt bound per sub-query, first try
	// included.
	MaxAttempts int `json:"max_attempts"`

	// RetryBackoff is the wait before the second attempt; it doubles
	// each further attempt.
	RetryBackoff time.Duration `json:"retry_backoff"`

	// CallTimeout bounds one map, debate, agent-specific or group-query
	// call.
	CallTimeout time.Duration `json:"call_timeout"`

	// ReduceTimeout bounds one reduce call, which processes the largest
	// context.
	ReduceTimeout time.Duration `json:"reduce_timeout"`

	// MaxTokens is the response budget for non-reduce calls.
	MaxTokens int `json:"max_tokens"`

	// ReduceMaxTokens is the response budget for reduce calls.
	ReduceMaxTokens int `json:"reduce_max_tokens"`

	// MaxParallel is the concurrent-call bound within a stage.
	MaxParallel int `json:"max_parallel"`
}

// DefaultConfig returns sensible executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     2,
		RetryBackoff:    100 * time.Millisecond,
		CallTimeout:     30 * time.Second,
		ReduceTimeout:   120 * time.Second,
		MaxTokens:       1024,
		ReduceMaxTokens: 2048,
		MaxParallel:     4,
	}
}

// Result is the settled outcome of one sub-query.
type Result struct {
	// QueryID is the sub-query id within the plan.
	QueryID string `json:"query_id"`

	Type decompose.Type `json:"type"`

	// Response is the model output. Empty when the sub-query failed.
	Response string `json:"response,omitempty"`

	Success bool `json:"success"`

	// FailureReason is one of the Reason constants when Success is
	// false.
	FailureReason string `json:"failure_reason,omitempty"`

	// TargetName is the agent or group display name for attribution.
	TargetName string `json:"target_name,omitempty"`

	// Perspective is the assigned role label, if any.
	Perspective string `json:"perspective,omitempty"`

	// Attempts counts model calls made for this sub-query. Zero when
	// the sub-query never ran.
	Attempts int `json:"attempts"`

	Duration time.Duration `json:"duration"`

	// Tokens is the estimated prompt+response token usage.
	Tokens int `json:"tokens"`

	// Err carries the terminal call error for programmatic inspection.
	Err error `json:"-"`
}

// Label renders the attribution label used in prompts and reports.
// Results without a target (debate, reduce) label by sub-query id.
func (r *Result) Label() string {
	name := r.TargetName
	if name == "" {
		name = r.QueryID
	}
	if r.Perspective != "" {
		return fmt.Sprintf("%s (%s)", name, r.Perspective)
	}
	return name
}

// PlanResult collects the settled results of one plan, in plan order.
type PlanResult struct {
	PlanID string `json:"plan_id"`

	Results []*Result `json:"results"`

	// TotalTokens is the estimated token usage across all sub-queries.
	TotalTokens int `json:"total_tokens"`

	Duration time.Duration `json:"duration"`

	// Stages is the number of priority stages executed.
	Stages int `json:"stages"`
}

// Get returns the result for a sub-query id.
func (r *PlanResult) Get(id string) (*Result, bool) {
	for _, res := range r.Results {
		if res.QueryID == id {
			return res, true
		}
	}
	return nil, false
}

// Successful returns the successful results, in plan order.
func (r *PlanResult) Successful() []*Result {
	out := make([]*Result, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Success {
			out = append(out, res)
		}
	}
	return out
}

// SuccessCount returns the number of successful sub-queries.
func (r *PlanResult) SuccessCount() int {
	return len(r.Successful())
}

// FailureCount returns the number of failed sub-queries.
func (r *PlanResult) FailureCount() int {
	return len(r.Results) - r.SuccessCount()
}

// AllFailed reports whether every sub-query failed.
func (r *PlanResult) AllFailed() bool {
	return len(r.Results) > 0 && r.SuccessCount() == 0
}

// CallError describes a model call that kept failing after retries.
type CallError struct {
	SubQueryID string
	Attempts   int
	Err        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("sub-query %s failed after %d attempt(s): %v", e.SubQueryID, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Executor runs plans. A single failing call only delays its own
// stage; siblings keep running and later stages still execute, minus
// the dependents of failed ids.
type Executor struct {
	caller   Caller
	contexts ContextProvider
	cfg      Config
	events   *observability.Orchestration
}

// New creates an executor. A nil sink drops events.
func New(caller Caller, contexts ContextProvider, cfg Config, sink observability.Sink) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &Executor{
		caller:   caller,
		contexts: contexts,
		cfg:      cfg,
		events:   observability.NewOrchestration(sink),
	}
}

// ExecutePlan runs every stage of the plan in ascending priority order.
// Within a stage sub-queries run concurrently under the parallelism
// bound. Sub-queries whose dependencies failed settle as failed
// without a model call. The returned results follow plan order.
//
// The error return is reserved for plan-level problems: an invalid or
// empty plan, or context cancellation. Individual call failures are
// recorded on their results instead.
func (e *Executor) ExecutePlan(ctx context.Context, plan *decompose.Plan) (*PlanResult, error) {
	if plan == nil || plan.Empty() {
		return nil, ErrEmptyPlan
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	settled := make(map[string]*Result, len(plan.SubQueries))
	var mu sync.Mutex

	stages := plan.Stages()
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stageStart := time.Now()
		e.events.StageStart(plan.ID, i+1, len(stage))

		// Settle dependency failures up front, without dispatching.
		runnable := make([]decompose.SubQuery, 0, len(stage))
		for _, sq := range stage {
			if failedDep, ok := firstFailedDep(sq, settled); ok {
				settled[sq.ID] = &Result{
					QueryID:       sq.ID,
					Type:          sq.Type,
					FailureReason: ReasonDependencyFailed,
					TargetName:    sq.TargetName,
					Perspective:   roleLabel(sq),
				}
				e.events.SubQuerySkip(plan.ID, sq.ID, failedDep)
				continue
			}
			runnable = append(runnable, sq)
		}

		sem := make(chan struct{}, e.parallelism(len(runnable)))
		g, gctx := errgroup.WithContext(ctx)

		for _, sq := range runnable {
			deps := dependencyOutputs(sq, settled)

			g.Go(func() error {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-gctx.Done():
					return gctx.Err()
				}

				res := e.runSubQuery(gctx, plan.ID, sq, deps)

				mu.Lock()
				settled[sq.ID] = res
				mu.Unlock()

				e.events.SubQueryEnd(plan.ID, sq.ID, string(sq.Type), res.Success, res.Attempts, res.Duration)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}
		// A cancelled plan aborts even when every in-flight call
		// settled its own result.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		succeeded, failed := 0, 0
		for _, sq := range stage {
			if settled[sq.ID].Success {
				succeeded++
			} else {
				failed++
			}
		}
		e.events.StageEnd(plan.ID, i+1, succeeded, failed, time.Since(stageStart))
	}

	out := &PlanResult{PlanID: plan.ID, Stages: len(stages)}
	for _, sq := range plan.SubQueries {
		res := settled[sq.ID]
		out.Results = append(out.Results, res)
		out.TotalTokens += res.Tokens
	}
	out.Duration = time.Since(start)
	return out, nil
}

// runSubQuery resolves context, builds the prompt and drives the retry
// loop for one sub-query.
func (e *Executor) runSubQuery(ctx context.Context, planID string, sq decompose.SubQuery, deps []depOutput) *Result {
	start := time.Now()
	res := &Result{
		QueryID:     sq.ID,
		Type:        sq.Type,
		TargetName:  sq.TargetName,
		Perspective: roleLabel(sq),
	}

	prompt, err := e.buildPrompt(ctx, sq, deps)
	if err != nil {
		res.FailureReason = ReasonContextUnavailable
		res.Err = err
		res.Duration = time.Since(start)
		e.events.Error("resolve-context", err, map[string]any{
			"plan_id":   planID,
			"sub_query": sq.ID,
		})
		return res
	}

	timeout, maxTokens := e.limitsFor(sq.Type)

	var response string
	var callErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt

		response, callErr = e.call(ctx, prompt, timeout, maxTokens)
		if callErr == nil {
			break
		}
		if ctx.Err() != nil || attempt == e.cfg.MaxAttempts {
			break
		}

		e.events.Retry(planID, sq.ID, attempt, callErr)
		backoff := e.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
	}

	res.Duration = time.Since(start)
	if callErr != nil {
		res.FailureReason = ReasonCallFailed
		res.Err = &CallError{SubQueryID: sq.ID, Attempts: res.Attempts, Err: callErr}
		return res
	}

	res.Success = true
	res.Response = response
	res.Tokens = EstimateTokens(prompt) + EstimateTokens(response)
	return res
}

// call applies the per-call timeout and invokes the model.
func (e *Executor) call(ctx context.Context, prompt string, timeout time.Duration, maxTokens int) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.caller.Complete(ctx, prompt, maxTokens)
}

// buildPrompt assembles the final prompt: the sub-query's instruction
// text, then the combined agent context, then any dependency outputs.
func (e *Executor) buildPrompt(ctx context.Context, sq decompose.SubQuery, deps []depOutput) (string, error) {
	parts := []string{sq.QueryText}

	if len(sq.TargetAgents) > 0 {
		text, err := e.contexts.GetCombinedContext(ctx, sq.TargetAgents, sq.ContextLevel)
		if err != nil {
			return "", fmt.Errorf("combined context for %s: %w", sq.ID, err)
		}
		if text != "" {
			parts = append(parts, "Context:\n\n"+text)
		}
	}

	if len(deps) > 0 {
		parts = append(parts, renderStageOutputs(deps))
	}

	return strings.Join(parts, "\n\n"), nil
}

// limitsFor returns the timeout and token budget for a sub-query type.
// Reduce gets the larger limits since it folds every earlier output.
func (e *Executor) limitsFor(t decompose.Type) (time.Duration, int) {
	if t == decompose.TypeReduce {
		return e.cfg.ReduceTimeout, e.cfg.ReduceMaxTokens
	}
	return e.cfg.CallTimeout, e.cfg.MaxTokens
}

// parallelism bounds stage concurrency to [1, MaxParallel], never more
// than the number of runnable sub-queries.
func (e *Executor) parallelism(runnable int) int {
	limit := e.cfg.MaxParallel
	if limit > runnable {
		limit = runnable
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// depOutput is one dependency's labelled response, woven into the
// dependent's prompt.
type depOutput struct {
	label string
	text  string
}

// dependencyOutputs snapshots the successful dependency responses for a
// runnable sub-query. Dependencies settled in earlier stages, so no
// lock is needed.
func dependencyOutputs(sq decompose.SubQuery, settled map[string]*Result) []depOutput {
	if len(sq.DependsOn) == 0 {
		return nil
	}
	outs := make([]depOutput, 0, len(sq.DependsOn))
	for _, dep := range sq.DependsOn {
		res, ok := settled[dep]
		if !ok || !res.Success {
			continue
		}
		outs = append(outs, depOutput{label: res.Label(), text: res.Response})
	}
	return outs
}

// firstFailedDep returns the first dependency id that settled as
// failed, if any. An unsettled dependency counts as failed; validated
// plans never produce one.
func firstFailedDep(sq decompose.SubQuery, settled map[string]*Result) (string, bool) {
	for _, dep := range sq.DependsOn {
		res, ok := settled[dep]
		if !ok || !res.Success {
			return dep, true
		}
	}
	return "", false
}

// renderStageOutputs renders dependency responses as the numbered block
// the reduce and debate prompts refer to.
func renderStageOutputs(deps []depOutput) string {
	var b strings.Builder
	b.WriteString("Stage outputs:")
	for i, d := range deps {
		fmt.Fprintf(&b, "\n\n[%d] %s:\n%s", i+1, d.label, d.text)
	}
	return b.String()
}

// roleLabel extracts the assigned role label from a sub-query.
func roleLabel(sq decompose.SubQuery) string {
	if sq.Perspective == nil {
		return ""
	}
	return sq.Perspective.Role.Label
}

// EstimateTokens approximates token usage at four characters per
// token.
func EstimateTokens(s string) int {
	return len(s) / 4
}
