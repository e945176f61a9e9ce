// Package cmd implements the vox2txt command line interface.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/mjamiv/vox2txt-sub003/internal/app"
	"github.com/mjamiv/vox2txt-sub003/internal/config"
	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "vox2txt",
	Short: "Ask questions across analyzed meeting transcripts",
	Long: heredoc.Doc(`
		vox2txt answers natural-language questions from a catalogue of
		analyzed meeting transcripts. Each question is classified, broken
		into typed sub-queries over the transcripts it touches, executed in
		priority-ordered stages, and folded into one attributed answer.

		Every analyzed transcript is an agent in the catalogue. Agents can
		be collected into groups (by week, by topic, by source) that answer
		as one unit when a question spans enough of them.
	`),
	Example: heredoc.Doc(`
		# Add transcripts, then ask across them
		vox2txt agents add standup.txt --name "Monday Standup"
		vox2txt ask "What did the team decide about the launch?"

		# Group transcripts and let broad questions use the groups
		vox2txt groups create week-1 --name "Week 1" --agents monday-standup,tuesday-sync
	`),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is the only entry point main needs.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path (default: probe "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringP("data-dir", "D", "", "Override the data directory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "Rotate JSON logs into this file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Shorthand for --log-level debug")

	rootCmd.AddCommand(
		askCmd,
		agentsCmd,
		groupsCmd,
		configCmd,
	)
}

// loadConfig builds the effective configuration for one command run:
// file and environment first, then command-line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Log.Level = "debug"
	}
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		cfg.Log.File = logFile
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// setupApp assembles the full runtime for commands that call the model.
func setupApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(cfg)
}

// openStore opens just the catalogue for commands that manage agents and
// groups. No model backend is required for those.
func openStore(cmd *cobra.Command) (*store.Store, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(store.Options{
		Path:            cfg.StorePath(),
		CreateIfMissing: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open catalogue: %w", err)
	}

	return st, func() { st.Close() }, nil
}

// maybePrependStdin prepends piped stdin to text. A terminal stdin is
// left alone.
func maybePrependStdin(text string) (string, error) {
	fi, err := os.Stdin.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice != 0 {
		return text, nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}

	piped := strings.TrimSpace(string(data))
	if piped == "" {
		return text, nil
	}
	if text == "" {
		return piped, nil
	}
	return piped + "\n\n" + text, nil
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
