package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/specflow-dev/dashboard-core/internal/state"
)

// FailedBatchContext is what AutoHealer needs about a just-failed implement
// invocation to decide whether to heal or surface for manual recovery, and
// to build the heal prompt (§4.5).
type FailedBatchContext struct {
	Item            state.BatchItem
	TaskIDsDone     []string // completed before the failure, if partial progress was reported
	TaskIDsFailed   []string
	ErrorContext    string
	HealingSpendUSD float64
}

// Decision is AutoHealer's verdict for one failed batch.
type Decision struct {
	ShouldHeal bool
	HealPrompt string
	NeedsAttn  bool
	Issue      string
	Options    []state.RecoveryOption
}

// AutoHealer implements §4.5's per-project heal procedure. One AutoHealer
// is created per project so its circuit breaker state (opened after
// repeated heal failures) does not leak across unrelated projects.
//
// Grounded on the kubernaut pack repo's use of sony/gobreaker to stop
// hammering a failing dependency; here the "dependency" is the agent's
// ability to fix its own failed batch.
type AutoHealer struct {
	maxHealAttempts int
	healingBudget   float64
	breaker         *gobreaker.CircuitBreaker
}

// NewAutoHealer builds a healer for one project. maxHealAttempts and
// healingBudget come from the project's OrchestrationConfig.
func NewAutoHealer(projectID string, maxHealAttempts int, healingBudgetUSD float64) *AutoHealer {
	settings := gobreaker.Settings{
		Name:        "autoheal:" + projectID,
		MaxRequests: 1,
		Interval:    0, // never reset counts on a timer; only a successful heal clears them
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &AutoHealer{
		maxHealAttempts: maxHealAttempts,
		healingBudget:   healingBudgetUSD,
		breaker:         gobreaker.NewCircuitBreaker(settings),
	}
}

// Decide implements §4.5's AutoHealer procedure step 1: surface
// needs_attention once attempts or budget are exhausted, or the breaker
// has tripped from repeated heal failures; otherwise build the heal
// prompt for step 2.
func (h *AutoHealer) Decide(ctx FailedBatchContext) Decision {
	if ctx.Item.HealAttempts >= h.maxHealAttempts {
		return h.needsAttention(fmt.Sprintf(
			"batch %q exhausted its %d heal attempt(s)", ctx.Item.Section, h.maxHealAttempts))
	}
	if h.healingBudget > 0 && ctx.HealingSpendUSD >= h.healingBudget {
		return h.needsAttention(fmt.Sprintf(
			"batch %q exceeded the healing budget of $%.2f", ctx.Item.Section, h.healingBudget))
	}
	if h.breaker.State() == gobreaker.StateOpen {
		return h.needsAttention(fmt.Sprintf(
			"batch %q: auto-heal circuit open after repeated failures", ctx.Item.Section))
	}

	return Decision{
		ShouldHeal: true,
		HealPrompt: buildHealPrompt(ctx),
	}
}

func (h *AutoHealer) needsAttention(issue string) Decision {
	return Decision{
		NeedsAttn: true,
		Issue:     issue,
		Options:   []state.RecoveryOption{state.RecoveryRetry, state.RecoverySkip, state.RecoveryAbort},
	}
}

// RecordOutcome feeds a heal attempt's result into the circuit breaker so
// repeated failures eventually trip it (§4.5 step 4: "increment
// healAttempts, loop to step 1" — the breaker is what makes that loop
// eventually give up even within maxHealAttempts).
func (h *AutoHealer) RecordOutcome(succeeded bool) {
	_, _ = h.breaker.Execute(func() (any, error) {
		if !succeeded {
			return nil, fmt.Errorf("heal attempt failed")
		}
		return nil, nil
	})
}

// buildHealPrompt assembles the heal workflow's prompt: section name, task
// ids attempted/completed/failed, and the captured error context (§4.5
// step 2).
func buildHealPrompt(ctx FailedBatchContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Heal batch %q.\n", ctx.Item.Section)
	fmt.Fprintf(&b, "Task ids attempted: %s\n", strings.Join(ctx.Item.TaskIDs, ", "))
	fmt.Fprintf(&b, "Task ids completed: %s\n", strings.Join(ctx.TaskIDsDone, ", "))
	fmt.Fprintf(&b, "Task ids failed: %s\n", strings.Join(ctx.TaskIDsFailed, ", "))
	if ctx.ErrorContext != "" {
		fmt.Fprintf(&b, "Error context:\n%s\n", ctx.ErrorContext)
	}
	return b.String()
}
