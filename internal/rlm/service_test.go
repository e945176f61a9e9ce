package rlm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/decompose"
	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

func seedTranscripts(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.Store().PutAgent(ctx, store.Agent{
		ID:          "a-eng",
		DisplayName: "Engineering Standup",
		Summary:     "Engineering discussed the launch schedule.",
		Content:     "The team walked through the launch checklist and flagged the rollout window.",
	}))
	require.NoError(t, svc.Store().PutAgent(ctx, store.Agent{
		ID:          "a-sales",
		DisplayName: "Sales Pipeline Review",
		Summary:     "Sales reviewed launch commitments.",
		Content:     "Two customers were promised the launch date during the pipeline review.",
	}))
}

// scriptAnswers routes scripted responses for a two-transcript
// map-reduce run, debate included.
func scriptAnswers(prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, `record of "Engineering Standup"`):
		return "Engineering expects the rollout window to move.", nil
	case strings.Contains(prompt, `record of "Sales Pipeline Review"`):
		return "Sales promised the date to two customers.", nil
	case strings.HasPrefix(prompt, debateMark):
		return "The window move collides with the promises.", nil
	case strings.HasPrefix(prompt, reduceMark):
		return "The rollout likely moves while promises stand.", nil
	case strings.HasPrefix(prompt, synthesisMark):
		return "The launch likely moves; the promises need renegotiating.", nil
	}
	return "", errors.New("unexpected prompt")
}

func TestNewService_NilClient(t *testing.T) {
	_, err := NewService(nil, DefaultServiceConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil model client")
}

func TestService_AskRecordsStats(t *testing.T) {
	caller := &fakeCaller{fn: scriptAnswers}
	svc, err := NewService(caller, DefaultServiceConfig())
	require.NoError(t, err)
	defer svc.Close()

	seedTranscripts(t, svc)

	query := "Compare the engineering and sales positions on the launch."
	answer, err := svc.Ask(context.Background(), query)
	require.NoError(t, err)
	assert.True(t, answer.Success)
	assert.Equal(t, decompose.StrategyMapReduce, answer.Strategy)

	stats := svc.Stats()
	assert.EqualValues(t, 1, stats.Queries)
	assert.EqualValues(t, 4, stats.SubQueries)
	assert.Zero(t, stats.SubQueryFailures)
	assert.Zero(t, stats.CacheHits)
	assert.EqualValues(t, 5, stats.CacheMisses)
	assert.Positive(t, stats.TokensEstimated)
	assert.Positive(t, stats.Uptime)

	// An identical question replays entirely from the response cache.
	again, err := svc.Ask(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, answer.Response, again.Response)

	stats = svc.Stats()
	assert.EqualValues(t, 2, stats.Queries)
	assert.EqualValues(t, 8, stats.SubQueries)
	assert.EqualValues(t, 5, stats.CacheHits)
	assert.EqualValues(t, 5, stats.CacheMisses)
	assert.InDelta(t, 0.5, stats.CacheHitRate, 0.001)
	assert.Equal(t, 5, caller.callCount())

	assert.Zero(t, stats.Retries)
	assert.Zero(t, stats.Fallbacks)
	assert.Zero(t, stats.Errors)
}

func TestService_CacheDisabled(t *testing.T) {
	caller := &fakeCaller{fn: func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, synthesisMark) {
			return "Both records point at the same date.", nil
		}
		return "The tenth of March.", nil
	}}
	cfg := DefaultServiceConfig()
	cfg.CacheEnabled = false

	svc, err := NewService(caller, cfg)
	require.NoError(t, err)
	defer svc.Close()

	seedTranscripts(t, svc)

	query := "What date was chosen for the launch?"
	for range 2 {
		_, err := svc.Ask(context.Background(), query)
		require.NoError(t, err)
	}

	// Two agent calls and one synthesis per ask, nothing cached.
	assert.Equal(t, 6, caller.callCount())

	stats := svc.Stats()
	assert.Zero(t, stats.CacheHits)
	assert.Zero(t, stats.CacheMisses)
	assert.Zero(t, stats.CacheHitRate)
}

func TestService_AskErrorStillCounts(t *testing.T) {
	svc, err := NewService(&fakeCaller{}, DefaultServiceConfig())
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Ask(context.Background(), "   ")
	require.Error(t, err)

	// A failed query still closes out the in-flight accounting.
	assert.EqualValues(t, 1, svc.Stats().Queries)
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc, err := NewService(&fakeCaller{}, DefaultServiceConfig())
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	_, err = svc.Ask(context.Background(), "What happened?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service closed")

	assert.Zero(t, svc.Stats().Uptime)
}

func TestService_Accessors(t *testing.T) {
	svc, err := NewService(&fakeCaller{}, DefaultServiceConfig())
	require.NoError(t, err)
	defer svc.Close()

	assert.NotNil(t, svc.Store())
	assert.NotNil(t, svc.Engine())
	assert.NotNil(t, svc.Metrics())
}

func TestDefaultServiceConfig(t *testing.T) {
	cfg := DefaultServiceConfig()
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 1024, cfg.CacheSize)
	assert.Empty(t, cfg.StorePath)
	assert.Equal(t, 8, cfg.Engine.MaxAgents)
}
