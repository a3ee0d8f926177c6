// Package batch is BatchPlanner & AutoHealer (§4.5): a deterministic parser
// over the project's emitted task list, and the per-batch auto-heal
// procedure invoked when an implement invocation fails.
//
// Grounded on the teacher's internal/attractor/model (node/section
// traversal over a parsed document) for the heading-scan shape, and
// internal/attractor/engine's retry/backoff bookkeeping for the heal loop,
// generalized from DOT-graph nodes to markdown task sections.
package batch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/specflow-dev/dashboard-core/internal/state"
)

// headingPattern matches a second-level markdown heading ("## Foo"), not a
// first-level ("# Foo") or third-level+ ("### Foo") one: the character
// right after the leading "##" must be whitespace, which a third "#"
// never is.
var headingPattern = regexp.MustCompile(`^##\s+(\S.*)$`)

// taskIDPattern matches a well-formed task identifier: one or more letters
// optionally followed by a hyphen/underscore, then at least one digit
// (e.g. "T001", "TASK-12").
var taskIDPattern = regexp.MustCompile(`\b[A-Za-z]+[-_]?\d+\b`)

const uncategorizedSection = "Uncategorized"

// Plan is BatchPlanner's output (§4.5: "BatchPlan{batches, usedFallback}").
type Plan struct {
	Batches      []state.BatchItem
	UsedFallback bool
}

// Plan scans a tasks document for second-level section headings and the
// task identifiers under each, falling back to fixed-size chunking of the
// flat task list when no heading yields a non-empty section (§4.5).
func Plan(doc []byte, batchSizeFallback int) Plan {
	sections, uncategorized := scanSections(doc)

	nonEmpty := make([]state.BatchItem, 0, len(sections))
	for _, s := range sections {
		if len(s.taskIDs) == 0 {
			continue
		}
		nonEmpty = append(nonEmpty, state.BatchItem{
			Section: s.name,
			TaskIDs: s.taskIDs,
			Status:  state.BatchPending,
		})
	}

	if len(nonEmpty) > 0 {
		if len(uncategorized) > 0 {
			nonEmpty = append(nonEmpty, state.BatchItem{
				Section: uncategorizedSection,
				TaskIDs: uncategorized,
				Status:  state.BatchPending,
			})
		}
		return Plan{Batches: nonEmpty, UsedFallback: false}
	}

	flat := allTaskIDsInOrder(doc)
	return Plan{Batches: chunk(flat, batchSizeFallback), UsedFallback: true}
}

type section struct {
	name    string
	taskIDs []string
}

// scanSections walks the document line by line, grouping task ids under
// the most recently seen second-level heading. Task ids appearing before
// any heading are returned separately (the synthetic Uncategorized batch,
// §4.5 edge case).
func scanSections(doc []byte) (sections []section, uncategorized []string) {
	lines := strings.Split(string(doc), "\n")

	var current *section
	seenInDoc := map[string]bool{} // global first-occurrence dedup across the whole document

	for _, line := range lines {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			if current != nil {
				sections = append(sections, *current)
			}
			current = &section{name: strings.TrimSpace(m[1])}
			continue
		}
		for _, id := range taskIDPattern.FindAllString(line, -1) {
			if seenInDoc[id] {
				continue
			}
			seenInDoc[id] = true
			if current == nil {
				uncategorized = append(uncategorized, id)
				continue
			}
			current.taskIDs = append(current.taskIDs, id)
		}
	}
	if current != nil {
		sections = append(sections, *current)
	}
	return sections, uncategorized
}

// allTaskIDsInOrder extracts every task id in document order, deduplicated
// on first occurrence, ignoring section structure entirely — used by the
// fallback path (§4.5 step 3).
func allTaskIDsInOrder(doc []byte) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range taskIDPattern.FindAllString(string(doc), -1) {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// chunk splits ids into fixed-size batches of size, or a single batch if
// the total is already <= size (§4.5 step 3). Batches are named
// "Batch N" in 1-based document order.
func chunk(ids []string, size int) []state.BatchItem {
	if len(ids) == 0 {
		return nil
	}
	if size < 1 {
		size = len(ids)
	}
	var out []state.BatchItem
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, state.BatchItem{
			Section: "Batch " + strconv.Itoa(len(out)+1),
			TaskIDs: append([]string(nil), ids[i:end]...),
			Status:  state.BatchPending,
		})
	}
	return out
}
