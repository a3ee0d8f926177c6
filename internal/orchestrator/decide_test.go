package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specflow-dev/dashboard-core/internal/batch"
	"github.com/specflow-dev/dashboard-core/internal/config"
	"github.com/specflow-dev/dashboard-core/internal/executor"
	"github.com/specflow-dev/dashboard-core/internal/state"
)

func newExec(phase state.Phase, status state.ExecutionStatus) *state.OrchestrationExecution {
	return &state.OrchestrationExecution{
		ID:           "exec-1",
		ProjectID:    "proj-1",
		Status:       status,
		CurrentPhase: phase,
		Config:       config.OrchestrationConfig{MaxHealAttempts: 1, BatchSizeFallback: 15},
		Executions:   map[state.Phase]string{},
	}
}

func TestDecideIdleWhenDashboardInactive(t *testing.T) {
	exec := newExec(state.PhaseDesign, state.StatusRunning)
	d := decide(false, exec, "", nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionIdle, d.Kind)
}

func TestDecideIdleWithNoExecution(t *testing.T) {
	d := decide(true, nil, "", nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionIdle, d.Kind)
}

func TestDecideWaitsWhilePaused(t *testing.T) {
	exec := newExec(state.PhaseDesign, state.StatusPaused)
	d := decide(true, exec, executor.StatusCompleted, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionWait, d.Kind)
}

func TestDecideWaitsOnNeedsAttention(t *testing.T) {
	exec := newExec(state.PhaseDesign, state.StatusNeedsAttention)
	d := decide(true, exec, executor.StatusCompleted, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionWait, d.Kind)
}

func TestDecideWaitsWhileWorkflowStillRunning(t *testing.T) {
	exec := newExec(state.PhaseDesign, state.StatusRunning)
	d := decide(true, exec, executor.StatusRunning, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionWait, d.Kind)
}

func TestDecideWaitsOnWaitingForInput(t *testing.T) {
	exec := newExec(state.PhaseAnalyze, state.StatusRunning)
	d := decide(true, exec, executor.StatusWaitingForInput, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionWait, d.Kind)
}

func TestDecideSpawnsDesignWhenNotYetObserved(t *testing.T) {
	exec := newExec(state.PhaseDesign, state.StatusRunning)
	d := decide(true, exec, "", nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionSpawn, d.Kind)
	require.Equal(t, state.PhaseDesign, d.Phase)
	require.Equal(t, "design", d.Skill)
}

func TestDecideTransitionsDesignToAnalyzeOnCompletion(t *testing.T) {
	exec := newExec(state.PhaseDesign, state.StatusRunning)
	d := decide(true, exec, executor.StatusCompleted, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionTransitionPhase, d.Kind)
	require.Equal(t, state.PhaseAnalyze, d.Phase)
}

func TestDecideTransitionsAnalyzeToImplementOnCompletion(t *testing.T) {
	exec := newExec(state.PhaseAnalyze, state.StatusRunning)
	d := decide(true, exec, executor.StatusCompleted, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionTransitionPhase, d.Kind)
	require.Equal(t, state.PhaseImplement, d.Phase)
}

func TestDecideSurfacesNeedsAttentionOnDesignFailure(t *testing.T) {
	exec := newExec(state.PhaseDesign, state.StatusRunning)
	d := decide(true, exec, executor.StatusFailed, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionNeedsAttention, d.Kind)
	require.Contains(t, d.Issue, "design")
}

func TestDecideVerifyCompleteWithAutoMergeTransitionsToMerge(t *testing.T) {
	exec := newExec(state.PhaseVerify, state.StatusRunning)
	exec.Config.AutoMerge = true
	d := decide(true, exec, executor.StatusCompleted, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionTransitionPhase, d.Kind)
	require.Equal(t, state.PhaseMerge, d.Phase)
}

func TestDecideVerifyCompleteWithoutAutoMergeWaits(t *testing.T) {
	exec := newExec(state.PhaseVerify, state.StatusRunning)
	exec.Config.AutoMerge = false
	d := decide(true, exec, executor.StatusCompleted, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionMergeWait, d.Kind)
}

func TestDecideVerifyFailureSurfacesNeedsAttention(t *testing.T) {
	exec := newExec(state.PhaseVerify, state.StatusRunning)
	d := decide(true, exec, executor.StatusCancelled, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionNeedsAttention, d.Kind)
}

func TestDecideMergeCompleteTransitionsToComplete(t *testing.T) {
	exec := newExec(state.PhaseMerge, state.StatusRunning)
	d := decide(true, exec, executor.StatusCompleted, nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionTransitionPhase, d.Kind)
	require.Equal(t, state.PhaseComplete, d.Phase)
}

func TestDecideSpawnsNextPendingBatch(t *testing.T) {
	exec := newExec(state.PhaseImplement, state.StatusRunning)
	exec.Batches = state.Batches{
		Current: 0,
		Total:   2,
		Items: []state.BatchItem{
			{Section: "A", Status: state.BatchPending},
			{Section: "B", Status: state.BatchPending},
		},
	}
	d := decide(true, exec, "", nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionSpawn, d.Kind)
	require.Equal(t, state.PhaseImplement, d.Phase)
	require.Equal(t, 0, d.BatchIndex)
}

func TestDecideAdvancesToNextBatchOnCompletion(t *testing.T) {
	exec := newExec(state.PhaseImplement, state.StatusRunning)
	exec.Batches = state.Batches{
		Current: 0,
		Total:   2,
		Items: []state.BatchItem{
			{Section: "A", Status: state.BatchCompleted},
			{Section: "B", Status: state.BatchPending},
		},
	}
	d := decide(true, exec, "", nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionAdvanceBatch, d.Kind)
	require.Equal(t, 1, d.BatchIndex)
}

func TestDecideTransitionsToVerifyWhenAllBatchesTerminal(t *testing.T) {
	exec := newExec(state.PhaseImplement, state.StatusRunning)
	exec.Batches = state.Batches{
		Current: 1,
		Total:   2,
		Items: []state.BatchItem{
			{Section: "A", Status: state.BatchCompleted},
			{Section: "B", Status: state.BatchHealed},
		},
	}
	d := decide(true, exec, "", nil, batch.FailedBatchContext{})
	require.Equal(t, DecisionTransitionPhase, d.Kind)
	require.Equal(t, state.PhaseVerify, d.Phase)
}

func TestDecideHealsAFailedBatch(t *testing.T) {
	exec := newExec(state.PhaseImplement, state.StatusRunning)
	exec.Batches = state.Batches{
		Current: 0,
		Total:   1,
		Items: []state.BatchItem{
			{Section: "A", TaskIDs: []string{"T001"}, Status: state.BatchFailed},
		},
	}
	h := batch.NewAutoHealer("proj-1", 3, 0)
	d := decide(true, exec, "", h, batch.FailedBatchContext{Item: exec.Batches.Items[0]})
	require.Equal(t, DecisionHeal, d.Kind)
	require.Equal(t, 0, d.BatchIndex)
	require.NotEmpty(t, d.HealPrompt)
}

func TestDecideSurfacesNeedsAttentionWhenHealerExhausted(t *testing.T) {
	exec := newExec(state.PhaseImplement, state.StatusRunning)
	exec.Batches = state.Batches{
		Current: 0,
		Total:   1,
		Items: []state.BatchItem{
			{Section: "A", TaskIDs: []string{"T001"}, Status: state.BatchFailed, HealAttempts: 1},
		},
	}
	h := batch.NewAutoHealer("proj-1", 1, 0)
	d := decide(true, exec, "", h, batch.FailedBatchContext{Item: exec.Batches.Items[0]})
	require.Equal(t, DecisionNeedsAttention, d.Kind)
	require.NotEmpty(t, d.Options)
}

func TestNextPhaseAfterWalksTheFixedSequence(t *testing.T) {
	require.Equal(t, state.PhaseAnalyze, nextPhaseAfter(state.PhaseDesign))
	require.Equal(t, state.PhaseImplement, nextPhaseAfter(state.PhaseAnalyze))
	require.Equal(t, state.PhaseVerify, nextPhaseAfter(state.PhaseImplement))
	require.Equal(t, state.PhaseMerge, nextPhaseAfter(state.PhaseVerify))
	require.Equal(t, state.PhaseComplete, nextPhaseAfter(state.PhaseMerge))
	require.Equal(t, state.PhaseComplete, nextPhaseAfter(state.PhaseComplete))
}
