package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/mjamiv/vox2txt-sub003/internal/store"
)

var groupsCmd = &cobra.Command{
	Use:     "groups",
	Aliases: []string{"group"},
	Short:   "Collect agents into groups",
	Long: heredoc.Doc(`
		Groups collect related transcripts so broad questions can treat
		them as one source. When a question spans enough of the catalogue
		and enough enabled groups exist, each group answers as a unit
		instead of every member answering alone.
	`),
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Create or replace a group",
	Example: heredoc.Doc(`
		vox2txt groups create week-1 --name "Week 1" --criteria temporal \
		    --agents monday-standup,tuesday-sync,friday-retro
	`),
	Args: cobra.ExactArgs(1),
	RunE: runGroupsCreate,
}

var groupsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List groups",
	Args:    cobra.NoArgs,
	RunE:    runGroupsList,
}

var groupsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one group and its members",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsShow,
}

var groupsRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove a group (members stay in the catalogue)",
	Args:    cobra.ExactArgs(1),
	RunE:    runGroupsRemove,
}

var groupsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Let the group take part in group-level answering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGroupEnabled(cmd, args[0], true)
	},
}

var groupsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Keep the group out of group-level answering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGroupEnabled(cmd, args[0], false)
	},
}

func init() {
	groupsCreateCmd.Flags().String("name", "", "Group name (default: derived from the id)")
	groupsCreateCmd.Flags().String("description", "", "What the group collects")
	groupsCreateCmd.Flags().String("criteria", "thematic", "Membership criterion: temporal, thematic, source, custom")
	groupsCreateCmd.Flags().String("agents", "", "Comma-separated member agent ids")
	groupsCreateCmd.Flags().Bool("disabled", false, "Create the group disabled")

	groupsListCmd.Flags().Bool("json", false, "Print as JSON")
	groupsShowCmd.Flags().Bool("json", false, "Print as JSON")

	groupsCmd.AddCommand(
		groupsCreateCmd,
		groupsListCmd,
		groupsShowCmd,
		groupsRemoveCmd,
		groupsEnableCmd,
		groupsDisableCmd,
	)
}

func runGroupsCreate(cmd *cobra.Command, args []string) error {
	id := args[0]

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = titleFromID(id)
	}

	criteriaFlag, _ := cmd.Flags().GetString("criteria")
	criteria, ok := store.ParseCriteriaType(criteriaFlag)
	if !ok {
		return fmt.Errorf("unknown criteria type %q (want temporal, thematic, source, or custom)", criteriaFlag)
	}

	agentsFlag, _ := cmd.Flags().GetString("agents")
	var memberIDs []string
	for _, part := range strings.Split(agentsFlag, ",") {
		if part = strings.TrimSpace(part); part != "" {
			memberIDs = append(memberIDs, part)
		}
	}

	description, _ := cmd.Flags().GetString("description")
	disabled, _ := cmd.Flags().GetBool("disabled")

	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	// Surface unknown members at creation time rather than at query time.
	for _, memberID := range memberIDs {
		if _, err := st.Agent(cmd.Context(), memberID); err != nil {
			return fmt.Errorf("member %s: %w", memberID, err)
		}
	}

	group := store.Group{
		ID:          id,
		Name:        name,
		Description: description,
		Criteria:    criteria,
		AgentIDs:    memberIDs,
		Enabled:     !disabled,
	}
	if err := st.PutGroup(cmd.Context(), group); err != nil {
		return err
	}

	state := "enabled"
	if disabled {
		state = "disabled"
	}
	fmt.Printf("Created group %s (%d member(s), %s)\n", id, len(memberIDs), state)
	return nil
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	groups, err := st.Groups(cmd.Context())
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	}

	if len(groups) == 0 {
		fmt.Println("No groups. Create one with: vox2txt groups create <id> --agents <ids>")
		return nil
	}

	fmt.Printf("%-20s %-28s %-10s %8s  %s\n", "ID", "NAME", "CRITERIA", "MEMBERS", "STATE")
	for _, g := range groups {
		state := "enabled"
		if !g.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-20s %-28s %-10s %8d  %s\n",
			truncateStr(g.ID, 20),
			truncateStr(g.Name, 28),
			g.Criteria,
			len(g.AgentIDs),
			state)
	}
	fmt.Printf("\n%d group(s)\n", len(groups))
	return nil
}

func runGroupsShow(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	group, err := st.Group(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(group)
	}

	fmt.Printf("ID:        %s\n", group.ID)
	fmt.Printf("Name:      %s\n", group.Name)
	fmt.Printf("Criteria:  %s\n", group.Criteria)
	fmt.Printf("Enabled:   %t\n", group.Enabled)
	if group.Description != "" {
		fmt.Printf("About:     %s\n", group.Description)
	}

	fmt.Printf("\nMembers (%d):\n", len(group.AgentIDs))
	for _, memberID := range group.AgentIDs {
		agent, err := st.Agent(cmd.Context(), memberID)
		if err != nil {
			fmt.Printf("  - %s (missing)\n", memberID)
			continue
		}
		fmt.Printf("  - %s: %s\n", memberID, agent.DisplayName)
	}
	return nil
}

func runGroupsRemove(cmd *cobra.Command, args []string) error {
	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.DeleteGroup(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed group %s\n", args[0])
	return nil
}

func setGroupEnabled(cmd *cobra.Command, id string, enabled bool) error {
	st, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	group, err := st.Group(cmd.Context(), id)
	if err != nil {
		return err
	}
	if group.Enabled == enabled {
		fmt.Printf("Group %s already %s\n", id, stateWord(enabled))
		return nil
	}

	group.Enabled = enabled
	if err := st.PutGroup(cmd.Context(), *group); err != nil {
		return err
	}
	fmt.Printf("Group %s %s\n", id, stateWord(enabled))
	return nil
}

func stateWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// titleFromID turns a slug id into a presentable default name:
// "week-1" becomes "Week 1".
func titleFromID(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
