package state

import (
	"time"

	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/specflow-dev/dashboard-core/internal/config"
)

// TestValidBatchCursorProperty verifies §8's invariant "for all states:
// batches.current ∈ [0, batches.total) iff currentPhase = implement ∧
// status ∉ terminal" (I2).
func TestValidBatchCursorProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ValidBatchCursor matches the I2 definition exactly", prop.ForAll(
		func(phase Phase, status ExecutionStatus, current, total int) bool {
			e := &OrchestrationExecution{
				CurrentPhase: phase,
				Status:       status,
				Batches:      Batches{Current: current, Total: total},
			}
			inImplement := phase == PhaseImplement && !status.Terminal()
			want := !inImplement || (current >= 0 && current < total)
			return e.ValidBatchCursor() == want
		},
		genPhase(),
		genStatus(),
		gen.IntRange(-2, 10),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

// TestAppendDecisionTimestampsNeverDecreaseProperty verifies §8's invariant
// "for any decisionLog: timestamps are non-decreasing; no entry is ever
// removed", for any sequence of (possibly out-of-order) append calls.
func TestAppendDecisionTimestampsNeverDecreaseProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("appended timestamps never decrease and the log only grows", prop.ForAll(
		func(offsetsMinutes []int) bool {
			e := NewExecution("exec-1", "proj-1", config.OrchestrationConfig{}, time.Unix(0, 0).UTC())
			base := time.Unix(1_700_000_000, 0).UTC()

			for i, off := range offsetsMinutes {
				before := len(e.DecisionLog)
				e.AppendDecision(base.Add(time.Duration(off)*time.Minute), "decision", "reason")
				if len(e.DecisionLog) != before+1 {
					return false
				}
				if i > 0 {
					prevTS := e.DecisionLog[i-1].Timestamp
					if e.DecisionLog[i].Timestamp.Before(prevTS) {
						return false
					}
				}
			}
			return len(e.DecisionLog) == len(offsetsMinutes)
		},
		gen.SliceOf(gen.IntRange(-1000, 1000)),
	))

	properties.TestingRun(t)
}

// TestSaveLoadRoundTripProperty verifies §8's law "Save(s); Load() == s" for
// the fields that are semantically part of the state document — LastUpdated
// is intentionally excluded since Save always stamps it with the current
// time (§4.1), not a property of the input.
func TestSaveLoadRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("saving then loading preserves project, phase, step and decision history", prop.ForAll(
		func(tc docTestCase) bool {
			dir := t.TempDir()
			store := NewStore(nil, 0) // retention disabled: round-trip must not truncate

			doc := &Doc{
				Project: ProjectRef{ID: tc.projectID, Name: tc.name, Path: dir},
				Orchestration: Orchestration{
					Phase: PhasePointer{Number: tc.stepIndex, Name: string(tc.phase), Status: "running"},
					Step:  StepPointer{Current: string(tc.phase), Index: tc.stepIndex, Status: "in_progress"},
				},
				Actions: Actions{History: tc.history},
			}

			if err := store.Save(dir, doc); err != nil {
				return false
			}
			loaded, err := store.Load(dir)
			if err != nil {
				return false
			}

			if loaded.Project != doc.Project {
				return false
			}
			if loaded.Orchestration.Phase != doc.Orchestration.Phase {
				return false
			}
			if loaded.Orchestration.Step != doc.Orchestration.Step {
				return false
			}
			if len(loaded.Actions.History) != len(doc.Actions.History) {
				return false
			}
			for i := range doc.Actions.History {
				if !loaded.Actions.History[i].Timestamp.Equal(doc.Actions.History[i].Timestamp) {
					return false
				}
				if loaded.Actions.History[i].Decision != doc.Actions.History[i].Decision {
					return false
				}
			}
			return true
		},
		genDocTestCase(),
	))

	properties.TestingRun(t)
}

type docTestCase struct {
	projectID string
	name      string
	phase     Phase
	stepIndex int
	history   []DecisionLogEntry
}

func genDocTestCase() gopter.Gen {
	return gopter.CombineGens(
		gen.Identifier(),
		gen.Identifier(),
		genPhase(),
		gen.IntRange(0, 3),
		gen.SliceOfN(3, genDecisionLogEntry()),
	).Map(func(vals []any) docTestCase {
		phase := vals[2].(Phase)
		stepIndex := vals[3].(int)
		if idx, ok := StepIndex(phase); ok {
			// Load repairs a step.index that disagrees with step.current (§4.1).
			stepIndex = idx
		}
		return docTestCase{
			projectID: vals[0].(string),
			name:      vals[1].(string),
			phase:     phase,
			stepIndex: stepIndex,
			history:   vals[4].([]DecisionLogEntry),
		}
	})
}

func genDecisionLogEntry() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 100000),
		gen.Identifier(),
	).Map(func(vals []any) DecisionLogEntry {
		offset := vals[0].(int)
		decision := vals[1].(string)
		return DecisionLogEntry{
			Timestamp: time.Unix(1_700_000_000+int64(offset), 0).UTC(),
			Decision:  decision,
			Reason:    "generated",
		}
	})
}

func genPhase() gopter.Gen {
	return gen.OneConstOf(PhaseDesign, PhaseAnalyze, PhaseImplement, PhaseVerify, PhaseMerge, PhaseComplete)
}

func genStatus() gopter.Gen {
	return gen.OneConstOf(
		StatusRunning, StatusPaused, StatusWaitingMerge, StatusNeedsAttention,
		StatusCompleted, StatusFailed, StatusCancelled,
	)
}
