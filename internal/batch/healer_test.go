package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specflow-dev/dashboard-core/internal/state"
)

func failedContext(healAttempts int) FailedBatchContext {
	return FailedBatchContext{
		Item: state.BatchItem{
			Section:      "A",
			TaskIDs:      []string{"T001", "T002"},
			HealAttempts: healAttempts,
		},
		TaskIDsDone:   []string{"T001"},
		TaskIDsFailed: []string{"T002"},
		ErrorContext:  "panic: nil pointer",
	}
}

func TestDecideHealsWhenUnderAttemptAndBudgetLimits(t *testing.T) {
	h := NewAutoHealer("proj-1", 3, 0)
	d := h.Decide(failedContext(0))
	require.True(t, d.ShouldHeal)
	require.False(t, d.NeedsAttn)
	require.Contains(t, d.HealPrompt, `Heal batch "A"`)
	require.Contains(t, d.HealPrompt, "T001, T002")
	require.Contains(t, d.HealPrompt, "panic: nil pointer")
}

func TestDecideNeedsAttentionWhenAttemptsExhausted(t *testing.T) {
	h := NewAutoHealer("proj-2", 1, 0)
	d := h.Decide(failedContext(1))
	require.True(t, d.NeedsAttn)
	require.False(t, d.ShouldHeal)
	require.Equal(t, []state.RecoveryOption{state.RecoveryRetry, state.RecoverySkip, state.RecoveryAbort}, d.Options)
}

func TestDecideNeedsAttentionWhenHealingBudgetExceeded(t *testing.T) {
	h := NewAutoHealer("proj-3", 5, 10)
	ctx := failedContext(0)
	ctx.HealingSpendUSD = 10
	d := h.Decide(ctx)
	require.True(t, d.NeedsAttn)
}

func TestDecideNeedsAttentionAfterCircuitTrips(t *testing.T) {
	h := NewAutoHealer("proj-4", 10, 0)
	for i := 0; i < 3; i++ {
		d := h.Decide(failedContext(0))
		require.True(t, d.ShouldHeal)
		h.RecordOutcome(false)
	}
	d := h.Decide(failedContext(0))
	require.True(t, d.NeedsAttn)
}
