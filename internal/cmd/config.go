package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mjamiv/vox2txt-sub003/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit configuration",
	Long: heredoc.Doc(`
		Configuration merges three layers: built-in defaults, the project
		config file, and VOX2TXT_* environment variables. Provider API keys
		come from OPENROUTER_API_KEY and ANTHROPIC_API_KEY (a .env file in
		the working directory is honored).
	`),
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Example: heredoc.Doc(`
		vox2txt config show
		vox2txt config show --yaml > .vox2txt.yaml
	`),
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	Args:  cobra.NoArgs,
	RunE:  runConfigEdit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the environment around it",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in effect",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configShowCmd.Flags().BoolP("json", "j", false, "Print as JSON")
	configShowCmd.Flags().BoolP("yaml", "y", false, "Print as YAML")

	configCmd.AddCommand(
		configShowCmd,
		configEditCmd,
		configValidateCmd,
		configPathCmd,
	)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Never echo credentials back in full.
	cfg.Providers.OpenRouterAPIKey = maskKey(cfg.Providers.OpenRouterAPIKey)
	cfg.Providers.AnthropicAPIKey = maskKey(cfg.Providers.AnthropicAPIKey)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	}

	fmt.Printf("Data dir:     %s\n", cfg.DataDir)
	fmt.Printf("Store:        %s\n", cfg.StorePath())
	fmt.Printf("Societies:    %s\n", describeSocieties(cfg))
	fmt.Printf("Conflicts:    %s\n", describeConflicts(cfg))
	fmt.Printf("Group-level:  needs %d eligible group(s) and %d candidate agent(s)\n",
		cfg.Decompose.MinEligibleGroups, cfg.Decompose.MinAgentsForGroupLevel)
	fmt.Printf("Retrieval:    top %d agent(s), min score %v\n", cfg.Retrieval.MaxResults, cfg.Retrieval.MinScore)
	fmt.Printf("Execution:    %d parallel, %d attempt(s), %s per call\n",
		cfg.Execute.MaxParallel, cfg.Execute.MaxAttempts, cfg.Execute.CallTimeout.Std())
	fmt.Printf("Cache:        %s\n", describeCache(cfg))
	fmt.Printf("Log:          %s%s\n", cfg.Log.Level, describeLogFile(cfg))
	fmt.Printf("OpenRouter:   %s\n", keyState(cfg.Providers.OpenRouterAPIKey))
	fmt.Printf("Anthropic:    %s\n", keyState(cfg.Providers.AnthropicAPIKey))
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if found, ok := config.Probe(); ok {
			path = found
		} else {
			path = config.DefaultPath()
			if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			fmt.Fprintf(os.Stderr, "Created %s\n", path)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}

	edit := exec.Command(editor, path)
	edit.Stdin = os.Stdin
	edit.Stdout = os.Stdout
	edit.Stderr = os.Stderr
	if err := edit.Run(); err != nil {
		return fmt.Errorf("run %s: %w", editor, err)
	}

	// Reparse so mistakes surface now, not on the next ask.
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Saved config does not validate: %v\n", err)
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	var errs, warnings []string

	cfg, err := loadConfig(cmd)
	if err != nil {
		errs = append(errs, err.Error())
	} else {
		if cfg.Providers.OpenRouterAPIKey == "" && cfg.Providers.AnthropicAPIKey == "" {
			warnings = append(warnings, "no provider key set (OPENROUTER_API_KEY or ANTHROPIC_API_KEY); ask will fail")
		}
		if _, statErr := os.Stat(cfg.DataDir); os.IsNotExist(statErr) {
			warnings = append(warnings, fmt.Sprintf("data dir %s does not exist yet; it is created on first use", cfg.DataDir))
		}
		if _, statErr := os.Stat(cfg.StorePath()); os.IsNotExist(statErr) {
			warnings = append(warnings, "catalogue is empty; add transcripts with: vox2txt agents add <file>")
		}
		if !cfg.Cache.Enabled {
			warnings = append(warnings, "response cache is disabled; repeated sub-queries will call the model again")
		}
	}

	if len(errs) > 0 {
		fmt.Println("✗ Configuration errors:")
		for _, e := range errs {
			fmt.Printf("  ✗ %s\n", e)
		}
	}
	for _, w := range warnings {
		fmt.Printf("  ⚠ %s\n", w)
	}
	if len(errs) == 0 {
		fmt.Println("✓ Configuration is valid")
		return nil
	}
	return fmt.Errorf("configuration has %d error(s)", len(errs))
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		fmt.Println(abs)
		return nil
	}

	if found, ok := config.Probe(); ok {
		abs, err := filepath.Abs(found)
		if err != nil {
			return err
		}
		fmt.Println(abs)
		return nil
	}

	fmt.Printf("%s (not found; defaults in effect)\n", config.DefaultPath())
	return nil
}

func describeSocieties(cfg config.Config) string {
	if !cfg.Societies.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled (%s roles, min %d agents)", cfg.Societies.RoleStrategy, cfg.Societies.MinAgents)
}

func describeConflicts(cfg config.Config) string {
	if !cfg.Conflict.Surface {
		return fmt.Sprintf("detected but not surfaced (threshold %v)", cfg.Conflict.Threshold)
	}
	return fmt.Sprintf("surfaced (threshold %v)", cfg.Conflict.Threshold)
}

func describeCache(cfg config.Config) string {
	if !cfg.Cache.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled (%d entries)", cfg.Cache.Size)
}

func describeLogFile(cfg config.Config) string {
	if cfg.Log.File == "" {
		return " to stderr"
	}
	return " to " + cfg.Log.File
}

func keyState(masked string) string {
	if masked == "" {
		return "(unset)"
	}
	return "set (" + masked + ")"
}

// maskKey keeps just enough of a credential to recognize it.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "********"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

const defaultConfigYAML = `# vox2txt configuration.
# Values here override built-in defaults; VOX2TXT_* environment
# variables override both. Provider keys come from OPENROUTER_API_KEY
# and ANTHROPIC_API_KEY (or a .env file).

# data_dir: ~/.vox2txt

societies:
  enabled: true
  role_strategy: rotating # rotating, uniform, adaptive, primary-only
  min_agents: 2
  include_perspective: true

conflict:
  threshold: 0.75
  surface_in_response: true

decompose:
  min_eligible_groups: 2
  min_agents_for_group_level: 6

retrieval:
  max_results: 8
  min_score: 0

execute:
  max_parallel: 4
  max_attempts: 2
  retry_backoff: 100ms
  call_timeout: 30s
  reduce_timeout: 2m
  max_tokens: 1024
  reduce_max_tokens: 2048

aggregate:
  max_tokens: 2048
  timeout: 2m

cache:
  enabled: true
  size: 1024

log:
  level: info
  # file: vox2txt.log
  max_size_mb: 10
  max_backups: 3
  max_age_days: 30
`
