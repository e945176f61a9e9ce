package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Aliases: []string{"agent"},
	Short:   "Manage the catalogue of analyzed transcripts",
	Long: heredoc.Doc(`
		Every analyzed transcript lives in the catalogue as an agent: a
		display name, a summary, and the full analyzed text. Questions are
		routed to the agents they touch, so the catalogue is what ask
		answers from.
	`),
}

var agentsAddCmd = &cobra.Command{
	Use:   "add <file|->",
	Short: "Add an analyzed transcript",
	Example: heredoc.Doc(`
		vox2txt agents add standup.txt --name "Monday Standup"
		analyze meeting.vox | vox2txt agents add - --name "Q3 Kickoff"
	`),
	Args: cobra.ExactArgs(1),
	RunE: runAgentsAdd,
}

var agentsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the catalogue",
	Args:    cobra.NoArgs,
	RunE:    runAgentsList,
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one agent in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsShow,
}

var agentsRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an agent from the catalogue",
	Args:    cobra.ExactArgs(1),
	RunE:    runAgentsRemove,
}

func init() {
	agentsAddCmd.Flags().String("id", "", "Agent id (default: derived from the name)")
	agentsAddCmd.Flags().String("name", "", "Display name (default: derived from the file name)")
	agentsAddCmd.Flags().String("summary", "", "Short summary (default: leading excerpt of the content)")
	agentsAddCmd.Flags().String("source-type", "transcript", "Where the content came from")

	agentsListCmd.Flags().Bool("json", false, "Print as JSON")
	agentsShowCmd.Flags().Bool("json", false, "Print as JSON")

	agentsCmd.AddCommand(agentsAddCmd, agentsListCmd, agentsShowCmd, agentsRemoveCmd)
}

func runAgentsAdd(cmd *cobra.Command, args []string) error {
	content, err := readSource(args[0])
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return errors.New("source is empty")
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		if args[0] == "-" {
			return errors.New("--name is required when reading from stdin")
		}
		base := filepath.Base(args[0])
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		id = slugify(name)
	}

	summary, _ := cmd.Flags().GetString("summary")
	if summary == "" {
		summary = leadingExcerpt(content, 400)
	}
	sourceType, _ := cmd.Flags().GetString("source-type")

	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	agent := store.Agent{
		ID:          id,
		DisplayName: name,
		SourceType:  sourceType,
		Summary:     summary,
		Content:     content,
	}
	if err := st.PutAgent(cmd.Context(), agent); err != nil {
		return err
	}

	fmt.Printf("Added %q as %s (%d bytes)\n", name, id, len(content))
	return nil
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	agents, err := st.Agents(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(agents)
	}

	if len(agents) == 0 {
		fmt.Println("Catalogue is empty. Add a transcript with: vox2txt agents add <file>")
		return nil
	}

	fmt.Printf("%-28s %-32s %-12s %s\n", "ID", "NAME", "SOURCE", "ADDED")
	for _, a := range agents {
		fmt.Printf("%-28s %-32s %-12s %s\n",
			truncateStr(a.ID, 28),
			truncateStr(a.DisplayName, 32),
			a.SourceType,
			a.CreatedAt.Format("2006-01-02"))
	}
	fmt.Printf("\n%d agent(s)\n", len(agents))
	return nil
}

func runAgentsShow(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	agent, err := st.Agent(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(agent)
	}

	fmt.Printf("ID:      %s\n", agent.ID)
	fmt.Printf("Name:    %s\n", agent.DisplayName)
	fmt.Printf("Source:  %s\n", agent.SourceType)
	fmt.Printf("Added:   %s\n", agent.CreatedAt.Format("2006-01-02 15:04 MST"))
	if agent.Summary != "" {
		fmt.Printf("\nSummary:\n%s\n", agent.Summary)
	}
	if agent.Content != "" {
		fmt.Printf("\nContent (%d bytes):\n%s\n", len(agent.Content), agent.Content)
	}
	return nil
}

func runAgentsRemove(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.DeleteAgent(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

// readSource loads the content argument: a file path, or "-" for stdin.
func readSource(arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// slugify lowers a display name into a stable id: "Q3 Kickoff" becomes
// "q3-kickoff".
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// leadingExcerpt takes the first non-blank lines of content up to max
// bytes, for use as a default summary.
func leadingExcerpt(content string, max int) string {
	var lines []string
	size := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if size+len(line) > max {
			break
		}
		lines = append(lines, line)
		size += len(line) + 1
	}
	if len(lines) == 0 {
		return truncateStr(strings.TrimSpace(content), max)
	}
	return strings.Join(lines, " ")
}
