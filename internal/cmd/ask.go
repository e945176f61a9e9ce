package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/classify"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/conflict"
	"github.com/mjamiv/vox2txt-sub003/internal/rlm/decompose"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question across the analyzed transcripts",
	Long: heredoc.Doc(`
		Ask classifies the question, fans it out over the transcripts or
		groups it touches, and folds the per-source answers into one
		attributed response. The answer goes to stdout; progress and run
		summaries go to stderr so the output stays pipeable.

		The question can also be piped on stdin, alone or prepended to the
		arguments.
	`),
	Example: heredoc.Doc(`
		vox2txt ask "What did engineering commit to this sprint?"
		vox2txt ask --sources "Compare the launch plans across teams"
		vox2txt ask --strategy map-reduce --no-societies "Recurring themes?"
		cat followups.txt | vox2txt ask --json
	`),
	Args: cobra.ArbitraryArgs,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolP("json", "j", false, "Print the full answer as JSON")
	askCmd.Flags().Bool("sources", false, "List the sources behind the answer")
	askCmd.Flags().Bool("conflicts", false, "Show tensions detected between sources")
	askCmd.Flags().BoolP("stats", "s", false, "Print session counters after the answer")
	askCmd.Flags().BoolP("quiet", "q", false, "Print only the answer text")

	askCmd.Flags().String("strategy", "", "Pin the plan strategy: parallel, map-reduce, group-parallel")
	askCmd.Flags().String("intent", "", "Pin the query intent instead of classifying")
	askCmd.Flags().String("complexity", "", "Pin the query complexity: simple, aggregate")
	askCmd.Flags().Bool("no-societies", false, "Skip perspective assignment for this question")
}

// askOverrides builds the pipeline overrides from the ask flags.
func askOverrides(cmd *cobra.Command) (rlm.Overrides, error) {
	var ov rlm.Overrides

	if raw, _ := cmd.Flags().GetString("strategy"); raw != "" {
		strategy, ok := decompose.ParseStrategy(raw)
		if !ok {
			return ov, fmt.Errorf("unknown strategy %q (want parallel, map-reduce, or group-parallel)", raw)
		}
		ov.Strategy = strategy
	}
	if raw, _ := cmd.Flags().GetString("intent"); raw != "" {
		intent, ok := classify.ParseIntent(raw)
		if !ok {
			return ov, fmt.Errorf("unknown intent %q (want factual, comparative, aggregative, analytical, or temporal)", raw)
		}
		ov.Intent = intent
	}
	if raw, _ := cmd.Flags().GetString("complexity"); raw != "" {
		complexity, ok := classify.ParseComplexity(raw)
		if !ok {
			return ov, fmt.Errorf("unknown complexity %q (want simple or aggregate)", raw)
		}
		ov.Complexity = complexity
	}
	ov.NoSocieties, _ = cmd.Flags().GetBool("no-societies")

	return ov, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	question, err := maybePrependStdin(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if strings.TrimSpace(question) == "" {
		return errors.New("nothing to ask: pass a question or pipe one on stdin")
	}

	overrides, err := askOverrides(cmd)
	if err != nil {
		return err
	}

	application, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, os.Kill)
	defer stop()

	quiet, _ := cmd.Flags().GetBool("quiet")
	if !quiet {
		fmt.Fprintf(os.Stderr, "Asking across the catalogue via %s...\n", application.Provider())
	}

	answer, err := application.Service.AskWith(ctx, question, overrides)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Println(answer.Response)
	if quiet {
		return nil
	}

	if showConflicts, _ := cmd.Flags().GetBool("conflicts"); showConflicts && answer.Conflicts != nil {
		if block := conflict.Render(*answer.Conflicts); block != "" {
			fmt.Println()
			fmt.Println(strings.TrimRight(block, "\n"))
		}
	}

	if showSources, _ := cmd.Flags().GetBool("sources"); showSources && len(answer.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, src := range answer.Sources {
			if src.Perspective != "" {
				fmt.Printf("  - %s (%s)\n", src.Name, src.Perspective)
			} else {
				fmt.Printf("  - %s\n", src.Name)
			}
		}
	}

	fmt.Fprintf(os.Stderr, "\n%s · %d/%d sub-queries · ~%d tokens · %s\n",
		strategyLabel(answer),
		answer.Succeeded, answer.SubQueries,
		answer.TokensEstimated,
		answer.Duration.Round(time.Millisecond))

	if showStats, _ := cmd.Flags().GetBool("stats"); showStats {
		printStats(os.Stderr, application.Service.Stats())
	}

	return nil
}

// strategyLabel names the run for the stderr summary line. Answers that
// never reached decomposition (no data, empty catalogue) have no strategy.
func strategyLabel(answer *rlm.Answer) string {
	if answer.Strategy == "" {
		return string(answer.AggregationType)
	}
	return string(answer.Strategy)
}

func printStats(w io.Writer, stats rlm.ServiceStats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Session:")
	fmt.Fprintf(w, "  queries       %d\n", stats.Queries)
	fmt.Fprintf(w, "  sub-queries   %d (%d failed, %d retries)\n", stats.SubQueries, stats.SubQueryFailures, stats.Retries)
	fmt.Fprintf(w, "  conflicts     %d\n", stats.Conflicts)
	fmt.Fprintf(w, "  fallbacks     %d\n", stats.Fallbacks)
	fmt.Fprintf(w, "  errors        %d\n", stats.Errors)
	fmt.Fprintf(w, "  cache         %d hits / %d misses (%.0f%% hit rate)\n", stats.CacheHits, stats.CacheMisses, stats.CacheHitRate*100)
	fmt.Fprintf(w, "  tokens (est)  %d\n", stats.TokensEstimated)
	if stats.MeanQueryDuration > 0 {
		fmt.Fprintf(w, "  mean query    %s\n", stats.MeanQueryDuration.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  uptime        %s\n", stats.Uptime.Round(time.Second))
}
