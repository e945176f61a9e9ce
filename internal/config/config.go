// Package config loads and validates vox2txt configuration.
//
// Values merge in precedence order: built-in defaults, then the YAML config
// file, then VOX2TXT_*-prefixed environment variables. Provider API keys are
// read from their conventional variables (OPENROUTER_API_KEY,
// ANTHROPIC_API_KEY). A .env file in the working directory is honored.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/perspective"
)

// Duration is a time.Duration that reads and writes human strings ("30s",
// "2m") in both YAML and JSON.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the effective vox2txt configuration.
type Config struct {
	// DataDir holds the catalogue database and log files.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Societies SocietiesConfig `yaml:"societies" json:"societies"`
	Conflict  ConflictConfig  `yaml:"conflict" json:"conflict"`
	Decompose DecomposeConfig `yaml:"decompose" json:"decompose"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Execute   ExecuteConfig   `yaml:"execute" json:"execute"`
	Aggregate AggregateConfig `yaml:"aggregate" json:"aggregate"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// SocietiesConfig controls perspective assignment across sub-queries.
type SocietiesConfig struct {
	// Enabled toggles societies-of-thought role assignment.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// RoleStrategy picks how roles rotate across agents: "rotating",
	// "uniform", "adaptive", or "primary-only".
	RoleStrategy string `yaml:"role_strategy" json:"role_strategy"`

	// MinAgents is the agent count below which diversification is
	// skipped in favor of the single default role.
	MinAgents int `yaml:"min_agents" json:"min_agents"`

	// IncludePerspective labels answers with the role that produced
	// them.
	IncludePerspective bool `yaml:"include_perspective" json:"include_perspective"`
}

// ConflictConfig controls disagreement detection between answers.
type ConflictConfig struct {
	// Threshold is the similarity at or above which two answers are
	// treated as agreeing regardless of marker counts. In [0,1].
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Surface includes detected conflicts in the final answer.
	Surface bool `yaml:"surface_in_response" json:"surface_in_response"`
}

// DecomposeConfig controls plan construction.
type DecomposeConfig struct {
	// MinEligibleGroups is the eligible-group floor for group-level
	// decomposition.
	MinEligibleGroups int `yaml:"min_eligible_groups" json:"min_eligible_groups"`

	// MinAgentsForGroupLevel is the candidate-agent floor for
	// group-level decomposition.
	MinAgentsForGroupLevel int `yaml:"min_agents_for_group_level" json:"min_agents_for_group_level"`
}

// RetrievalConfig bounds the agent search that seeds a plan.
type RetrievalConfig struct {
	// MaxResults caps how many agents a query fans out to (0 = no cap).
	MaxResults int `yaml:"max_results" json:"max_results"`

	// MinScore drops agents whose match score falls below it.
	MinScore float64 `yaml:"min_score" json:"min_score"`
}

// ExecuteConfig controls sub-query execution.
type ExecuteConfig struct {
	MaxParallel     int      `yaml:"max_parallel" json:"max_parallel"`
	MaxAttempts     int      `yaml:"max_attempts" json:"max_attempts"`
	RetryBackoff    Duration `yaml:"retry_backoff" json:"retry_backoff"`
	CallTimeout     Duration `yaml:"call_timeout" json:"call_timeout"`
	ReduceTimeout   Duration `yaml:"reduce_timeout" json:"reduce_timeout"`
	MaxTokens       int      `yaml:"max_tokens" json:"max_tokens"`
	ReduceMaxTokens int      `yaml:"reduce_max_tokens" json:"reduce_max_tokens"`
}

// AggregateConfig controls final synthesis.
type AggregateConfig struct {
	MaxTokens int      `yaml:"max_tokens" json:"max_tokens"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

// ProvidersConfig holds model backend credentials and overrides.
type ProvidersConfig struct {
	// OpenRouterAPIKey enables the routed multi-model backend.
	OpenRouterAPIKey string `yaml:"openrouter_api_key" json:"openrouter_api_key,omitempty"`

	// AnthropicAPIKey enables the single-model fallback backend.
	AnthropicAPIKey string `yaml:"anthropic_api_key" json:"anthropic_api_key,omitempty"`

	// AnthropicBaseURL overrides the Anthropic endpoint.
	AnthropicBaseURL string `yaml:"anthropic_base_url" json:"anthropic_base_url,omitempty"`

	// AnthropicModel overrides the fallback backend's model.
	AnthropicModel string `yaml:"anthropic_model" json:"anthropic_model,omitempty"`
}

// CacheConfig controls the model response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Size    int  `yaml:"size" json:"size"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level" json:"level"`

	// File appends JSON log lines to the given path with rotation.
	// Empty logs to stderr only.
	File string `yaml:"file" json:"file,omitempty"`

	MaxSizeMB  int `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days" json:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: defaultDataDir(),
		Societies: SocietiesConfig{
			Enabled:            true,
			RoleStrategy:       string(perspective.StrategyRotating),
			MinAgents:          2,
			IncludePerspective: true,
		},
		Conflict: ConflictConfig{
			Threshold: 0.75,
			Surface:   true,
		},
		Decompose: DecomposeConfig{
			MinEligibleGroups:      2,
			MinAgentsForGroupLevel: 6,
		},
		Retrieval: RetrievalConfig{
			MaxResults: 8,
			MinScore:   0,
		},
		Execute: ExecuteConfig{
			MaxParallel:     4,
			MaxAttempts:     2,
			RetryBackoff:    Duration(100 * time.Millisecond),
			CallTimeout:     Duration(30 * time.Second),
			ReduceTimeout:   Duration(120 * time.Second),
			MaxTokens:       1024,
			ReduceMaxTokens: 2048,
		},
		Aggregate: AggregateConfig{
			MaxTokens: 2048,
			Timeout:   Duration(120 * time.Second),
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    1024,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// defaultConfigNames are probed in the working directory when no explicit
// config path is given.
var defaultConfigNames = []string{".vox2txt.yaml", ".vox2txt.yml"}

// DefaultPath returns the preferred project config file name.
func DefaultPath() string {
	return defaultConfigNames[0]
}

// Probe returns the project config file present in the working
// directory, if any.
func Probe() (string, bool) {
	for _, name := range defaultConfigNames {
		if _, err := os.Stat(name); err == nil {
			return name, true
		}
	}
	return "", false
}

// Load builds the effective configuration. An explicit path must exist; an
// empty path probes the working directory for a project config and falls
// back to defaults when none is found.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		if found, ok := Probe(); ok {
			path = found
		}
	} else if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration. Values
// that fail to parse keep the configured value.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.Providers.OpenRouterAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.AnthropicAPIKey = v
	}

	if v := os.Getenv("VOX2TXT_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VOX2TXT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("VOX2TXT_LOG_FILE"); v != "" {
		c.Log.File = v
	}

	c.Societies.Enabled = envBool("VOX2TXT_SOCIETIES", c.Societies.Enabled)
	c.Conflict.Surface = envBool("VOX2TXT_SURFACE_CONFLICTS", c.Conflict.Surface)
	c.Conflict.Threshold = envFloat("VOX2TXT_CONFLICT_THRESHOLD", c.Conflict.Threshold)
	c.Execute.MaxParallel = envInt("VOX2TXT_MAX_PARALLEL", c.Execute.MaxParallel)
	c.Cache.Enabled = envBool("VOX2TXT_CACHE", c.Cache.Enabled)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if _, ok := perspective.ParseStrategy(c.Societies.RoleStrategy); !ok {
		return fmt.Errorf("societies.role_strategy: unknown strategy %q", c.Societies.RoleStrategy)
	}
	if c.Societies.MinAgents < 1 {
		return fmt.Errorf("societies.min_agents must be at least 1, got %d", c.Societies.MinAgents)
	}
	if c.Conflict.Threshold < 0 || c.Conflict.Threshold > 1 {
		return fmt.Errorf("conflict.threshold must be in [0,1], got %v", c.Conflict.Threshold)
	}
	if c.Execute.MaxParallel < 1 {
		return fmt.Errorf("execute.max_parallel must be at least 1, got %d", c.Execute.MaxParallel)
	}
	if c.Execute.MaxAttempts < 1 {
		return fmt.Errorf("execute.max_attempts must be at least 1, got %d", c.Execute.MaxAttempts)
	}
	if c.Retrieval.MinScore < 0 {
		return fmt.Errorf("retrieval.min_score must not be negative, got %v", c.Retrieval.MinScore)
	}
	if c.Cache.Enabled && c.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be at least 1 when the cache is enabled, got %d", c.Cache.Size)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	return nil
}

// StorePath is the catalogue database location under the data directory.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "vox2txt.db")
}

// RoleStrategy returns the parsed societies role strategy. Call Validate
// first; unknown strategies fall back to rotating.
func (c *Config) RoleStrategy() perspective.Strategy {
	if s, ok := perspective.ParseStrategy(c.Societies.RoleStrategy); ok {
		return s
	}
	return perspective.StrategyRotating
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vox2txt"
	}
	return filepath.Join(home, ".vox2txt")
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
