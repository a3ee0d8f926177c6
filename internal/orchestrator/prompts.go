package orchestrator

import (
	"fmt"
	"strings"

	"github.com/specflow-dev/dashboard-core/internal/state"
)

// buildPhasePrompt assembles the prompt for a design/analyze/verify/merge
// invocation. These phases need no per-batch detail, just the project and
// phase name — the agent's own skill definition supplies the rest.
func buildPhasePrompt(phase state.Phase, projectName string) string {
	return fmt.Sprintf("Run the %s phase for project %q.", phase, projectName)
}

// buildBatchPrompt assembles the prompt for one implement batch: the
// section name and its task ids, so the agent knows exactly which unit of
// work this invocation covers (§4.5's BatchPlan is meaningless to the agent
// without this).
func buildBatchPrompt(item state.BatchItem, projectName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implement batch %q for project %q.\n", item.Section, projectName)
	fmt.Fprintf(&b, "Task ids: %s\n", strings.Join(item.TaskIDs, ", "))
	return b.String()
}

// buildResumePrompt assembles the continuation prompt for a --resume
// invocation: the previously suspended invocation is waiting on exactly
// these answers (§4.3, §5 suspension point (a)).
func buildResumePrompt(answers map[string]string) string {
	var b strings.Builder
	b.WriteString("Continuing with the following answers:\n")
	for qid, ans := range answers {
		fmt.Fprintf(&b, "- %s: %s\n", qid, ans)
	}
	return b.String()
}
