package state

import (
	"time"

	"github.com/specflow-dev/dashboard-core/internal/config"
)

// ExecutionStatus is OrchestrationExecution.status (§3).
type ExecutionStatus string

const (
	StatusRunning        ExecutionStatus = "running"
	StatusPaused         ExecutionStatus = "paused"
	StatusWaitingMerge   ExecutionStatus = "waiting_merge"
	StatusNeedsAttention ExecutionStatus = "needs_attention"
	StatusCompleted      ExecutionStatus = "completed"
	StatusFailed         ExecutionStatus = "failed"
	StatusCancelled      ExecutionStatus = "cancelled"
)

// Terminal reports whether status permits no further mutation except
// archival (I5).
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Phase is OrchestrationExecution.currentPhase (§3).
type Phase string

const (
	PhaseDesign    Phase = "design"
	PhaseAnalyze   Phase = "analyze"
	PhaseImplement Phase = "implement"
	PhaseVerify    Phase = "verify"
	PhaseMerge     Phase = "merge"
	PhaseComplete  Phase = "complete"
)

// stepIndex is the fixed table used both by phase sequencing and by
// PersistentState's auto-repair of a string step.index (§4.1).
var stepIndex = map[Phase]int{
	PhaseDesign:    0,
	PhaseAnalyze:   1,
	PhaseImplement: 2,
	PhaseVerify:    3,
}

// StepIndex returns the fixed numeric index for a phase name, and false if
// the phase is not in the table (merge/complete have no numeric step index).
func StepIndex(p Phase) (int, bool) {
	idx, ok := stepIndex[p]
	return idx, ok
}

// BatchStatus is one implement batch's status (§3, I4).
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchHealed    BatchStatus = "healed"
	BatchFailed    BatchStatus = "failed"
)

// BatchItem is one entry of OrchestrationExecution.batches.items (§3).
type BatchItem struct {
	Section              string      `json:"section"`
	TaskIDs              []string    `json:"task_ids"`
	Status               BatchStatus `json:"status"`
	HealAttempts         int         `json:"heal_attempts"`
	WorkflowExecutionID  string      `json:"workflow_execution_id,omitempty"`
	StartedAt            *time.Time  `json:"started_at,omitempty"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`
}

// Batches is OrchestrationExecution.batches (§3).
type Batches struct {
	Current int         `json:"current"`
	Total   int         `json:"total"`
	Items   []BatchItem `json:"items"`
}

// DecisionLogEntry is one append-only entry of decisionLog (§3, I3).
type DecisionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
}

// RecoveryOption is one of the three recovery actions (§3, §4.6).
type RecoveryOption string

const (
	RecoveryRetry RecoveryOption = "retry"
	RecoverySkip  RecoveryOption = "skip"
	RecoveryAbort RecoveryOption = "abort"
)

// RecoveryContext is present only when status = needs_attention (§3).
type RecoveryContext struct {
	Issue   string           `json:"issue"`
	Options []RecoveryOption `json:"options"`
}

// OrchestrationExecution is the root record for one end-to-end workflow run
// on one project (§3). It is owned exclusively by OrchestrationRunner;
// PersistentState only stores and retrieves it.
type OrchestrationExecution struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Status    ExecutionStatus `json:"status"`

	Config config.OrchestrationConfig `json:"config"`

	CurrentPhase Phase `json:"current_phase"`

	Batches Batches `json:"batches"`

	// Executions maps non-implement phase -> WorkflowExecutionID.
	Executions map[Phase]string `json:"executions"`

	DecisionLog []DecisionLogEntry `json:"decision_log"`

	RecoveryContext *RecoveryContext `json:"recovery_context,omitempty"`

	TotalCostUSD float64    `json:"total_cost_usd"`
	StartedAt    time.Time  `json:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// NewExecution constructs a fresh OrchestrationExecution at phase `design`
// (or the first non-skipped phase, per config), status running.
func NewExecution(id, projectID string, cfg config.OrchestrationConfig, now time.Time) *OrchestrationExecution {
	phase := PhaseDesign
	if cfg.SkipDesign {
		phase = PhaseAnalyze
		if cfg.SkipAnalyze {
			phase = PhaseImplement
		}
	}
	return &OrchestrationExecution{
		ID:           id,
		ProjectID:    projectID,
		Status:       StatusRunning,
		Config:       cfg,
		CurrentPhase: phase,
		Executions:   map[Phase]string{},
		DecisionLog:  []DecisionLogEntry{},
		StartedAt:    now,
		UpdatedAt:    now,
	}
}

// AppendDecision appends an append-only decision-log entry (I3) whose
// timestamp never precedes the previous entry's: an earlier `now` is clamped
// to the last timestamp. The caller supplies `now`; AppendDecision never
// calls time.Now() itself so callers can drive deterministic tests/property
// checks.
func (e *OrchestrationExecution) AppendDecision(now time.Time, decision, reason string) {
	if len(e.DecisionLog) > 0 {
		last := e.DecisionLog[len(e.DecisionLog)-1].Timestamp
		if now.Before(last) {
			now = last
		}
	}
	e.DecisionLog = append(e.DecisionLog, DecisionLogEntry{
		Timestamp: now,
		Decision:  decision,
		Reason:    reason,
	})
	e.UpdatedAt = now
}

// ValidBatchCursor reports invariant I2: batches.current is a valid index
// into items iff currentPhase = implement and status is non-terminal.
func (e *OrchestrationExecution) ValidBatchCursor() bool {
	inImplement := e.CurrentPhase == PhaseImplement && !e.Status.Terminal()
	if !inImplement {
		return true
	}
	return e.Batches.Current >= 0 && e.Batches.Current < e.Batches.Total
}
