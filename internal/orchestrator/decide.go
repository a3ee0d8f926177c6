// Package orchestrator is OrchestrationRunner (§4.6): the per-project
// decision loop that drives one project's design/analyze/implement/verify/
// merge cycle by repeatedly spawning WorkflowExecutor invocations and
// reacting to their outcome.
//
// Grounded on the teacher's internal/attractor/engine dispatch loop (a
// small switch over a node's declared kind, deciding spawn vs. advance vs.
// hand off to a retry path) and internal/attractor/runtime's outcome
// classification, generalized from DOT-graph node execution to the fixed
// five-phase protocol this spec requires.
package orchestrator

import (
	"fmt"

	"github.com/specflow-dev/dashboard-core/internal/batch"
	"github.com/specflow-dev/dashboard-core/internal/executor"
	"github.com/specflow-dev/dashboard-core/internal/state"
)

// DecisionKind is decide's verdict (§4.6).
type DecisionKind string

const (
	DecisionIdle            DecisionKind = "idle"
	DecisionWait            DecisionKind = "wait"
	DecisionTransitionPhase DecisionKind = "transition_phase"
	DecisionSpawn           DecisionKind = "spawn"
	DecisionAdvanceBatch    DecisionKind = "advance_batch"
	DecisionHeal            DecisionKind = "heal"
	DecisionMergeWait       DecisionKind = "merge_wait"
	DecisionNeedsAttention  DecisionKind = "needs_attention"
)

// Decision is decide's single verdict: exactly one next action for the
// runner to perform. Never more than one field group is meaningful for a
// given Kind.
type Decision struct {
	Kind       DecisionKind
	Phase      state.Phase
	Skill      string
	BatchIndex int
	HealPrompt string
	Issue      string
	Options    []state.RecoveryOption
}

// phaseOrder is the fixed phase sequence of §4.6's state diagram.
var phaseOrder = []state.Phase{
	state.PhaseDesign, state.PhaseAnalyze, state.PhaseImplement,
	state.PhaseVerify, state.PhaseMerge, state.PhaseComplete,
}

// nextPhaseAfter returns the phase immediately following p in the fixed
// sequence (state.PhaseComplete if p is already last or unrecognized).
func nextPhaseAfter(p state.Phase) state.Phase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return state.PhaseComplete
}

func failedStatus(s executor.Status) bool {
	switch s {
	case executor.StatusFailed, executor.StatusCancelled, executor.StatusStale, executor.StatusDetached:
		return true
	default:
		return false
	}
}

// decide is the decision function of §4.6: a pure function of the
// persisted execution and the status of the workflow already recorded for
// its current phase (or current batch, for implement). It holds no state
// of its own and performs no side effect — every effect happens in
// runner.go after decide returns.
func decide(active bool, exec *state.OrchestrationExecution, lastStatus executor.Status, healer *batch.AutoHealer, failedCtx batch.FailedBatchContext) Decision {
	if !active || exec == nil {
		return Decision{Kind: DecisionIdle}
	}
	if exec.Status == state.StatusPaused || exec.Status == state.StatusNeedsAttention {
		return Decision{Kind: DecisionWait}
	}
	if lastStatus == executor.StatusRunning || lastStatus == executor.StatusWaitingForInput {
		return Decision{Kind: DecisionWait}
	}

	switch exec.CurrentPhase {
	case state.PhaseDesign, state.PhaseAnalyze, state.PhaseMerge:
		return spawnOrAdvance(exec.CurrentPhase, lastStatus)
	case state.PhaseImplement:
		return handleBatches(exec, lastStatus, healer, failedCtx)
	case state.PhaseVerify:
		return spawnOrMerge(exec, lastStatus)
	default:
		return Decision{Kind: DecisionIdle}
	}
}

// spawnOrAdvance implements the design/analyze/merge arms of the
// pseudocode: "complete? transition(next) : spawn(phase)", surfacing
// needs_attention instead of respawning forever on a workflow that ended
// badly.
func spawnOrAdvance(phase state.Phase, lastStatus executor.Status) Decision {
	if lastStatus == executor.StatusCompleted {
		return Decision{Kind: DecisionTransitionPhase, Phase: nextPhaseAfter(phase)}
	}
	if failedStatus(lastStatus) {
		return Decision{Kind: DecisionNeedsAttention, Issue: fmt.Sprintf("%s workflow ended with status %s", phase, lastStatus),
			Options: []state.RecoveryOption{state.RecoveryRetry, state.RecoveryAbort}}
	}
	return Decision{Kind: DecisionSpawn, Phase: phase, Skill: string(phase)}
}

// spawnOrMerge implements "verify: complete? mergeOrWait(state) : spawn(verify)".
func spawnOrMerge(exec *state.OrchestrationExecution, lastStatus executor.Status) Decision {
	if lastStatus == executor.StatusCompleted {
		if exec.Config.AutoMerge {
			return Decision{Kind: DecisionTransitionPhase, Phase: state.PhaseMerge}
		}
		return Decision{Kind: DecisionMergeWait}
	}
	if failedStatus(lastStatus) {
		return Decision{Kind: DecisionNeedsAttention, Issue: fmt.Sprintf("verify workflow ended with status %s", lastStatus),
			Options: []state.RecoveryOption{state.RecoveryRetry, state.RecoveryAbort}}
	}
	return Decision{Kind: DecisionSpawn, Phase: state.PhaseVerify, Skill: "verify"}
}

// handleBatches advances through batches.items (§4.5): spawn the next
// pending batch; advance past a completed/healed current batch; transition
// to verify once every batch is terminal; hand a failed batch to AutoHealer.
// A running batch whose workflow has already finished waits for supervise to
// record the outcome rather than being spawned a second time.
func handleBatches(exec *state.OrchestrationExecution, lastStatus executor.Status, healer *batch.AutoHealer, failedCtx batch.FailedBatchContext) Decision {
	items := exec.Batches.Items
	cur := exec.Batches.Current
	if cur >= len(items) {
		return Decision{Kind: DecisionTransitionPhase, Phase: state.PhaseVerify}
	}

	switch items[cur].Status {
	case state.BatchCompleted, state.BatchHealed:
		if cur+1 >= len(items) {
			return Decision{Kind: DecisionTransitionPhase, Phase: state.PhaseVerify}
		}
		return Decision{Kind: DecisionAdvanceBatch, BatchIndex: cur + 1}
	case state.BatchFailed:
		d := healer.Decide(failedCtx)
		if d.ShouldHeal {
			return Decision{Kind: DecisionHeal, BatchIndex: cur, HealPrompt: d.HealPrompt}
		}
		return Decision{Kind: DecisionNeedsAttention, Issue: d.Issue, Options: d.Options}
	case state.BatchRunning:
		switch lastStatus {
		case executor.StatusCompleted, executor.StatusFailed, executor.StatusCancelled:
			return Decision{Kind: DecisionWait}
		}
		// No live workflow to wait on (e.g. the executor was restarted).
		return Decision{Kind: DecisionSpawn, Phase: state.PhaseImplement, Skill: "implement", BatchIndex: cur}
	default: // pending
		return Decision{Kind: DecisionSpawn, Phase: state.PhaseImplement, Skill: "implement", BatchIndex: cur}
	}
}
