package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/perspective"
)

// clearEnv blanks every variable Load consults so tests see only what they
// set themselves.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENROUTER_API_KEY", "ANTHROPIC_API_KEY",
		"VOX2TXT_DATA_DIR", "VOX2TXT_LOG_LEVEL", "VOX2TXT_LOG_FILE",
		"VOX2TXT_SOCIETIES", "VOX2TXT_SURFACE_CONFLICTS",
		"VOX2TXT_CONFLICT_THRESHOLD", "VOX2TXT_MAX_PARALLEL", "VOX2TXT_CACHE",
	} {
		t.Setenv(key, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Societies.Enabled)
	assert.Equal(t, string(perspective.StrategyRotating), cfg.Societies.RoleStrategy)
	assert.Equal(t, 0.75, cfg.Conflict.Threshold)
	assert.True(t, cfg.Conflict.Surface)
	assert.Equal(t, 4, cfg.Execute.MaxParallel)
	assert.Equal(t, 30*time.Second, cfg.Execute.CallTimeout.Std())
	assert.Equal(t, 120*time.Second, cfg.Execute.ReduceTimeout.Std())
	assert.Equal(t, 8, cfg.Retrieval.MaxResults)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "vox2txt.db"), cfg.StorePath())
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Execute, cfg.Execute)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "vox2txt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/vox2txt-test
societies:
  enabled: false
  role_strategy: uniform
  min_agents: 3
  include_perspective: false
conflict:
  threshold: 0.6
execute:
  max_parallel: 2
  call_timeout: 10s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vox2txt-test", cfg.DataDir)
	assert.False(t, cfg.Societies.Enabled)
	assert.Equal(t, perspective.StrategyUniform, cfg.RoleStrategy())
	assert.Equal(t, 3, cfg.Societies.MinAgents)
	assert.Equal(t, 0.6, cfg.Conflict.Threshold)
	assert.Equal(t, 2, cfg.Execute.MaxParallel)
	assert.Equal(t, 10*time.Second, cfg.Execute.CallTimeout.Std())

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Execute.ReduceTimeout, cfg.Execute.ReduceTimeout)
	assert.Equal(t, Default().Cache, cfg.Cache)
}

func TestLoad_ProjectConfigProbed(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vox2txt.yaml"), []byte(`
retrieval:
  max_results: 3
`), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retrieval.MaxResults)
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("societies: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("VOX2TXT_SOCIETIES", "false")
	t.Setenv("VOX2TXT_CONFLICT_THRESHOLD", "0.5")
	t.Setenv("VOX2TXT_MAX_PARALLEL", "8")
	t.Setenv("VOX2TXT_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "or-key", cfg.Providers.OpenRouterAPIKey)
	assert.False(t, cfg.Societies.Enabled)
	assert.Equal(t, 0.5, cfg.Conflict.Threshold)
	assert.Equal(t, 8, cfg.Execute.MaxParallel)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_UnparseableEnvKeepsValue(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	t.Setenv("VOX2TXT_CONFLICT_THRESHOLD", "not-a-number")
	t.Setenv("VOX2TXT_SOCIETIES", "not-a-bool")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.Conflict.Threshold)
	assert.True(t, cfg.Societies.Enabled)
}

func TestLoad_InvalidAfterMerge(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	t.Setenv("VOX2TXT_CONFLICT_THRESHOLD", "1.5")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown role strategy",
			mutate:  func(c *Config) { c.Societies.RoleStrategy = "chaotic" },
			wantErr: "role_strategy",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Conflict.Threshold = 1.2 },
			wantErr: "threshold",
		},
		{
			name:    "threshold below zero",
			mutate:  func(c *Config) { c.Conflict.Threshold = -0.1 },
			wantErr: "threshold",
		},
		{
			name:    "zero parallelism",
			mutate:  func(c *Config) { c.Execute.MaxParallel = 0 },
			wantErr: "max_parallel",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Execute.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "zero min agents",
			mutate:  func(c *Config) { c.Societies.MinAgents = 0 },
			wantErr: "min_agents",
		},
		{
			name:    "negative min score",
			mutate:  func(c *Config) { c.Retrieval.MinScore = -1 },
			wantErr: "min_score",
		},
		{
			name: "cache enabled without capacity",
			mutate: func(c *Config) {
				c.Cache.Enabled = true
				c.Cache.Size = 0
			},
			wantErr: "cache.size",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := yaml.Marshal(Duration(2 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "2m0s\n", string(out))

	assert.Error(t, yaml.Unmarshal([]byte(`"ninety seconds"`), &d))
	assert.Error(t, yaml.Unmarshal([]byte(`[1, 2]`), &d))
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"45s"`), &d))
	assert.Equal(t, 45*time.Second, d.Std())

	out, err := json.Marshal(Duration(time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1s"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`30`), &d))
}

func TestRoleStrategy_FallsBackToRotating(t *testing.T) {
	cfg := Default()
	cfg.Societies.RoleStrategy = "unknown"
	assert.Equal(t, perspective.StrategyRotating, cfg.RoleStrategy())
}
