package decompose

import (
	"fmt"
	"strings"

	"github.com/mjamiv/vox2txt-sub003/internal/rlm/perspective"
)

// agentScope frames a sub-query around a single agent's record.
func agentScope(name string) string {
	return fmt.Sprintf("Scope: answer only from the record of %q.", name)
}

// groupScope frames a sub-query around a group's combined record.
func groupScope(name string, sources int) string {
	return fmt.Sprintf("Scope: answer from the combined records of the %q group (%d sources).", name, sources)
}

// buildQueryText assembles a sub-query prompt from its scope line, the
// role prefix when a perspective is assigned, the original query, and a
// closing role reinforcement.
func buildQueryText(scope string, assigned *perspective.Assignment, query string) string {
	parts := []string{scope}
	if assigned != nil {
		parts = append(parts, assigned.Role.PromptPrefix, query, reinforcement(assigned.Role))
	} else {
		parts = append(parts, query)
	}
	return strings.Join(parts, "\n\n")
}

func reinforcement(r perspective.Role) string {
	return fmt.Sprintf("Stay in the %s perspective for the whole answer.", r.Label)
}

// reducePrompt instructs the model to fold stage outputs into one
// balanced, attributed answer.
func reducePrompt(query string) string {
	return fmt.Sprintf(`You are combining several analysis passes into one answer.

Original question: %s

Work only from the stage outputs provided below and:
1. State the points the sources agree on.
2. State the points where the sources conflict.
3. Give a balanced answer to the original question.
4. Attribute each insight to the source it came from.`, query)
}

// debatePrompt runs a model-driven tension pass over the map outputs,
// independent of the heuristic conflict scoring.
func debatePrompt(query string) string {
	return fmt.Sprintf(`Several analysts answered the same question from different angles.

Original question: %s

Compare their answers below and:
1. Enumerate the tensions between them.
2. For each side of a tension, name the risks and assumptions only it carries.
3. Recommend how a final synthesis should resolve each tension.`, query)
}
