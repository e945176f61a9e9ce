// Package rlm wires the query pipeline: classify the question, retrieve the
// agents it touches, decompose it into a staged plan, execute the plan
// against the model backend, and aggregate the settled results into one
// answer.
package rlm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/aggregate"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/classify"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/conflict"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/decompose"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/execute"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/observability"
	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

// Catalogue is the agent and group lookup surface the pipeline plans
// against. *store.Store satisfies it.
type Catalogue interface {
	QueryAgents(ctx context.Context, text string, opts store.QueryOptions) ([]store.RankedAgent, error)
	Groups(ctx context.Context) ([]store.Group, error)
	GetCombinedContext(ctx context.Context, agentIDs []string, level store.ContextLevel) (string, error)
}

// Config carries the pipeline options.
type Config struct {
	Decompose decompose.Config `json:"decompose"`
	Execute   execute.Config   `json:"execute"`
	Aggregate aggregate.Config `json:"aggregate"`

	// MaxAgents caps how many agents one query fans out to (0 = no cap).
	MaxAgents int `json:"max_agents"`

	// MinScore drops agents whose retrieval score falls below it.
	MinScore float64 `json:"min_score"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Decompose: decompose.DefaultConfig(),
		Execute:   execute.DefaultConfig(),
		Aggregate: aggregate.DefaultConfig(),
		MaxAgents: 8,
	}
}

// Answer is the outcome of one query.
type Answer struct {
	QueryID  string `json:"query_id"`
	Query    string `json:"query"`
	Response string `json:"response"`

	// Success is false only when no source produced an answer.
	Success bool `json:"success"`

	Classification classify.Classification `json:"classification"`
	Strategy       decompose.Strategy      `json:"strategy,omitempty"`

	// AggregationType records how the response was produced: model
	// synthesis, deterministic fallback, or a no-data/failed notice.
	AggregationType aggregate.Type `json:"aggregation_type"`

	Sources   []aggregate.Source `json:"sources,omitempty"`
	Conflicts *conflict.Analysis `json:"conflicts,omitempty"`

	SubQueries      int           `json:"sub_queries"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	Stages          int           `json:"stages"`
	TokensEstimated int           `json:"tokens_estimated"`
	Duration        time.Duration `json:"duration"`
}

// Engine runs the query pipeline against a catalogue and a model client.
type Engine struct {
	catalogue  Catalogue
	decomposer *decompose.Decomposer
	executor   *execute.Executor
	aggregator *aggregate.Aggregator
	cfg        Config
	events     *observability.Orchestration
}

// NewEngine creates a pipeline engine. A nil sink disables event reporting.
func NewEngine(client execute.Caller, catalogue Catalogue, cfg Config, sink observability.Sink) *Engine {
	return &Engine{
		catalogue:  catalogue,
		decomposer: decompose.New(cfg.Decompose),
		executor:   execute.New(client, catalogue, cfg.Execute, sink),
		aggregator: aggregate.New(client, cfg.Aggregate, sink),
		cfg:        cfg,
		events:     observability.NewOrchestration(sink),
	}
}

// Overrides pins pipeline choices the classifier and strategy selection
// would otherwise make. Zero values keep the pipeline's own choices.
type Overrides struct {
	// Intent pins the query intent.
	Intent classify.Intent `json:"intent,omitempty"`

	// Complexity pins the query complexity.
	Complexity classify.Complexity `json:"complexity,omitempty"`

	// Strategy pins the decomposition strategy.
	Strategy decompose.Strategy `json:"strategy,omitempty"`

	// NoSocieties turns perspective assignment off for this query.
	NoSocieties bool `json:"no_societies,omitempty"`
}

// Answer runs one query end to end. It returns an error only for blank
// input, catalogue failures, or cancellation; an empty catalogue and failed
// model calls settle into an unsuccessful Answer instead.
func (e *Engine) Answer(ctx context.Context, query string) (*Answer, error) {
	return e.AnswerWith(ctx, query, Overrides{})
}

// AnswerWith runs one query with parts of the pipeline pinned by the caller.
func (e *Engine) AnswerWith(ctx context.Context, query string, ov Overrides) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("rlm: empty query")
	}

	queryID := uuid.NewString()
	start := time.Now()
	e.events.QueryStart(queryID, query)

	classification := classify.Classify(query)
	if ov.Intent != "" {
		classification.Intent = ov.Intent
	}
	if ov.Complexity != "" {
		classification.Complexity = ov.Complexity
	}

	ranked, err := e.catalogue.QueryAgents(ctx, query, store.QueryOptions{
		MaxResults: e.cfg.MaxAgents,
		MinScore:   e.cfg.MinScore,
	})
	if err != nil {
		return nil, e.fail(queryID, start, "query-agents", fmt.Errorf("query agents: %w", err))
	}

	groups, err := e.catalogue.Groups(ctx)
	if err != nil {
		return nil, e.fail(queryID, start, "list-groups", fmt.Errorf("list groups: %w", err))
	}

	agents := make([]store.Agent, len(ranked))
	for i, r := range ranked {
		agents[i] = r.Agent
	}

	if len(agents) == 0 {
		return e.settle(ctx, queryID, query, classification, "", nil, start), nil
	}

	decision := decompose.Decide(groups, len(agents), classification, e.cfg.Decompose)
	strategy := decompose.ChooseStrategy(decision, classification)
	if ov.Strategy != "" {
		strategy = ov.Strategy
	}

	decomposer := e.decomposer
	if ov.NoSocieties {
		cfg := e.cfg.Decompose
		cfg.SocietiesEnabled = false
		decomposer = decompose.New(cfg)
	}

	plan, err := decomposer.Decompose(query, classification, strategy, agents, groups)
	if err != nil {
		return nil, e.fail(queryID, start, "decompose", fmt.Errorf("decompose: %w", err))
	}
	e.events.DecomposeEnd(plan.ID, string(plan.Strategy), len(plan.SubQueries))

	if plan.Empty() {
		return e.settle(ctx, queryID, query, classification, plan.Strategy, nil, start), nil
	}

	planResult, err := e.executor.ExecutePlan(ctx, plan)
	if err != nil {
		return nil, e.fail(queryID, start, "execute-plan", err)
	}

	result := e.aggregator.Aggregate(ctx, plan.ID, planResult.Results, query, classification)

	answer := buildAnswer(queryID, query, classification, plan.Strategy, result)
	answer.Stages = planResult.Stages
	answer.TokensEstimated += planResult.TotalTokens
	answer.Duration = time.Since(start)

	e.events.QueryEnd(queryID, answer.Success, answer.Duration)
	return answer, nil
}

// settle produces the answer for queries that never reach execution: no
// matching agents, or a plan with nothing to run.
func (e *Engine) settle(ctx context.Context, queryID, query string, c classify.Classification, strategy decompose.Strategy, results []*execute.Result, start time.Time) *Answer {
	result := e.aggregator.Aggregate(ctx, queryID, results, query, c)

	answer := buildAnswer(queryID, query, c, strategy, result)
	answer.Duration = time.Since(start)

	e.events.QueryEnd(queryID, answer.Success, answer.Duration)
	return answer
}

// fail reports a pipeline error and closes out the query events.
func (e *Engine) fail(queryID string, start time.Time, operation string, err error) error {
	e.events.Error(operation, err, map[string]any{"query_id": queryID})
	e.events.QueryEnd(queryID, false, time.Since(start))
	return err
}

func buildAnswer(queryID, query string, c classify.Classification, strategy decompose.Strategy, result *aggregate.Result) *Answer {
	return &Answer{
		QueryID:         queryID,
		Query:           query,
		Response:        result.Response,
		Success:         result.Success,
		Classification:  c,
		Strategy:        strategy,
		AggregationType: result.Type,
		Sources:         result.Sources,
		Conflicts:       result.Conflicts,
		SubQueries:      result.Metadata.SubQueries,
		Succeeded:       result.Metadata.Succeeded,
		Failed:          result.Metadata.Failed,
		TokensEstimated: result.Metadata.TokensEstimated,
	}
}
