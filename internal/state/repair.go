package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// validStepStatuses and validPhaseStatuses are the enum values repair resets to
// a default when invalid (§4.1: "reset invalid enum values ... to their
// null/not_started defaults").
var validStepStatuses = map[string]bool{
	"":             true,
	"not_started":  true,
	"in_progress":  true,
	"completed":    true,
	"failed":       true,
}

var validPhaseStatuses = map[string]bool{
	"":            true,
	"not_started": true,
	"running":     true,
	"completed":   true,
	"failed":      true,
}

// normalizeStepIndexType detects the legacy shape of orchestration.step.index
// — a JSON string naming the step ("analyze") rather than its number — and
// rewrites it to the looked-up int before the document-level strict decode
// ever sees it (§4.1: "normalize step.index from string to number by
// looking up the step name in the fixed table"). StepPointer.Index is typed
// int, so a genuine string value fails config.DecodeJSONStrict outright;
// this one field needs a permissive pre-pass instead of a post-hoc repair.
// Returns the original bytes unchanged when index is already numeric/absent.
func normalizeStepIndexType(b []byte) (out []byte, repaired bool, err error) {
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		return b, false, nil // malformed JSON: let the strict decoder report it
	}
	orchestration, ok := generic["orchestration"].(map[string]any)
	if !ok {
		return b, false, nil
	}
	step, ok := orchestration["step"].(map[string]any)
	if !ok {
		return b, false, nil
	}
	name, ok := step["index"].(string)
	if !ok {
		return b, false, nil // already a number, or absent
	}
	idx, ok := StepIndex(Phase(strings.TrimSpace(name)))
	if !ok {
		return b, false, fmt.Errorf("unrecognized step name %q in orchestration.step.index", name)
	}
	step["index"] = idx
	patched, err := json.Marshal(generic)
	if err != nil {
		return b, false, err
	}
	return patched, true, nil
}

// repair applies the auto-repair rules of §4.1 in place, returning a
// human-readable description of each field repaired (for the decision-log
// entries Load appends, one per repair). The bool return is reserved for
// callers that want to know whether anything changed at all.
func repair(doc *Doc) (bool, []string) {
	var repaired []string

	if strings.TrimSpace(doc.SchemaVersion) != SchemaVersion {
		repaired = append(repaired, "schema_version")
		doc.SchemaVersion = SchemaVersion
	}

	step := &doc.Orchestration.Step
	if name := strings.TrimSpace(step.Current); name != "" {
		if idx, ok := StepIndex(Phase(name)); ok {
			if step.Index != idx {
				repaired = append(repaired, "orchestration.step.index")
				step.Index = idx
			}
		}
	}
	if !validStepStatuses[step.Status] {
		repaired = append(repaired, "orchestration.step.status")
		step.Status = "not_started"
	}

	phase := &doc.Orchestration.Phase
	if !validPhaseStatuses[phase.Status] {
		repaired = append(repaired, "orchestration.phase.status")
		phase.Status = "not_started"
	}

	return len(repaired) > 0, repaired
}
