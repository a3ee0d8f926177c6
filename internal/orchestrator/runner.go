package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/specflow-dev/dashboard-core/internal/batch"
	"github.com/specflow-dev/dashboard-core/internal/config"
	"github.com/specflow-dev/dashboard-core/internal/contracts"
	"github.com/specflow-dev/dashboard-core/internal/executor"
	"github.com/specflow-dev/dashboard-core/internal/ids"
	"github.com/specflow-dev/dashboard-core/internal/questions"
	"github.com/specflow-dev/dashboard-core/internal/state"
	"github.com/specflow-dev/dashboard-core/internal/transcript"
)

// Executor is the narrow slice of internal/executor.Executor the runner
// depends on, so tests can substitute a fake subprocess supervisor instead
// of forking a real agent CLI. *executor.Executor satisfies this directly.
type Executor interface {
	Start(ctx context.Context, projectDir, skill, prompt string, opts executor.StartOptions) (workflowID string, pid int, err error)
	Supervise(workflowID string) error
	Cancel(workflowID string) error
	Get(workflowID string) (executor.Execution, bool)
}

var (
	ErrNoExecution       = errors.New("orchestrator: project has no orchestration execution")
	ErrAlreadyRunning    = errors.New("orchestrator: an orchestration is already in progress")
	ErrNotNeedsAttention = errors.New("orchestrator: execution is not in needs_attention")
	ErrNotWaitingMerge   = errors.New("orchestrator: execution is not waiting_merge")
	ErrInvalidGoBack     = errors.New("orchestrator: GoBack target must precede the current step")
)

// Runner is one project's OrchestrationRunner (§4.6): it owns the
// decide/act loop for exactly one project directory. The top-level
// Orchestrator registry holds one Runner per active project — never a
// process-wide singleton.
type Runner struct {
	log      *zap.Logger
	project  contracts.Project
	store    *state.Store
	exec     Executor
	queue    *questions.Queue
	reader   *transcript.Reader
	tasksDoc contracts.TasksDocumentReader

	mu      sync.Mutex
	healers map[string]*batch.AutoHealer // one per OrchestrationExecution.ID

	trigger chan struct{}
	done    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRunner wires one project's collaborators and starts its background
// decision loop.
func NewRunner(log *zap.Logger, project contracts.Project, store *state.Store, exec Executor, queue *questions.Queue, reader *transcript.Reader, tasksDoc contracts.TasksDocumentReader) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		log:      log,
		project:  project,
		store:    store,
		exec:     exec,
		queue:    queue,
		reader:   reader,
		tasksDoc: tasksDoc,
		healers:  map[string]*batch.AutoHealer{},
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Stop ends the runner's background loop without touching persisted state
// or any in-flight subprocess. Cancel (below) is the user-facing hard stop;
// Stop is process shutdown plumbing only.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// signal wakes the decision loop; redundant signals coalesce (the loop
// always re-reads persisted state from scratch, so only one pending wakeup
// is ever needed).
func (r *Runner) signal() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Runner) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.trigger:
			r.drain()
		case <-r.done:
			r.drain()
		}
	}
}

// drain repeatedly evaluates decide/act until quiescent (§4.6: "after any
// state-changing operation, immediately re-evaluate decide; no
// timer-driven polling of its own"). The iteration cap is a defensive
// backstop against a decide/apply bug that would otherwise spin forever,
// not a polling mechanism.
func (r *Runner) drain() {
	const iterationCap = 1000
	for i := 0; i < iterationCap; i++ {
		cont, err := r.tick(context.Background())
		if err != nil {
			r.log.Error("orchestrator tick failed", zap.String("project_id", r.project.ID), zap.Error(err))
			return
		}
		if !cont {
			return
		}
	}
	r.log.Error("orchestrator tick loop exceeded its iteration cap; stopping",
		zap.String("project_id", r.project.ID))
}

// tick loads the current document, evaluates decide once, and applies
// whatever action it names. It returns cont=true when the caller should
// immediately re-evaluate (a transition or a spawn just happened) and
// false once the project has reached a quiescent decision (idle, wait,
// needs_attention, or waiting_merge).
func (r *Runner) tick(ctx context.Context) (cont bool, err error) {
	doc, err := r.store.Load(r.project.Path)
	if err != nil {
		return false, err
	}
	exec := doc.Orchestration.Dashboard.Execution
	if exec == nil || !doc.Orchestration.Dashboard.Active {
		return false, nil
	}

	lastStatus := r.observe(exec)
	d := decide(doc.Orchestration.Dashboard.Active, exec, lastStatus, r.healerFor(exec), r.failedBatchContext(exec))

	switch d.Kind {
	case DecisionIdle, DecisionWait:
		return false, nil
	case DecisionNeedsAttention:
		return false, r.applyNeedsAttention(exec.ID, d.Issue, d.Options)
	case DecisionTransitionPhase:
		return true, r.applyTransition(ctx, exec, d.Phase)
	case DecisionAdvanceBatch:
		return true, r.applyAdvanceBatch(exec.ID, d.BatchIndex)
	case DecisionMergeWait:
		return false, r.applyWaitingMerge(exec.ID)
	case DecisionSpawn:
		return true, r.spawn(ctx, exec, d.Phase, d.Skill, d.BatchIndex, false)
	case DecisionHeal:
		return true, r.spawn(ctx, exec, state.PhaseImplement, "heal", d.BatchIndex, true)
	default:
		return false, nil
	}
}

// observe returns the status of the workflow already recorded for exec's
// current phase (or current batch, for implement), querying the executor's
// live in-memory table. A workflow id with no live record (the executor
// was restarted, or none has been spawned yet) reports the zero Status,
// which decide treats as "not yet observed" and spawns fresh.
func (r *Runner) observe(exec *state.OrchestrationExecution) executor.Status {
	var workflowID string
	if exec.CurrentPhase == state.PhaseImplement {
		if exec.Batches.Current < len(exec.Batches.Items) {
			workflowID = exec.Batches.Items[exec.Batches.Current].WorkflowExecutionID
		}
	} else {
		workflowID = exec.Executions[exec.CurrentPhase]
	}
	if workflowID == "" {
		return ""
	}
	snap, ok := r.exec.Get(workflowID)
	if !ok {
		return ""
	}
	return snap.Status
}

// healer returns the cached AutoHealer for execID, if one has been created.
func (r *Runner) healer(execID string) (*batch.AutoHealer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.healers[execID]
	return h, ok
}

func (r *Runner) healerFor(exec *state.OrchestrationExecution) *batch.AutoHealer {
	if h, ok := r.healer(exec.ID); ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h := batch.NewAutoHealer(r.project.ID, exec.Config.MaxHealAttempts, exec.Config.Budget.HealingBudgetUSD)
	r.healers[exec.ID] = h
	return h
}

// failedBatchContext assembles AutoHealer's input from the current batch,
// a no-op empty context when implement isn't the active phase or the
// current batch hasn't failed (decide only consults it on a BatchFailed
// current item).
func (r *Runner) failedBatchContext(exec *state.OrchestrationExecution) batch.FailedBatchContext {
	if exec.CurrentPhase != state.PhaseImplement || exec.Batches.Current >= len(exec.Batches.Items) {
		return batch.FailedBatchContext{}
	}
	item := exec.Batches.Items[exec.Batches.Current]
	ctx := batch.FailedBatchContext{Item: item, ErrorContext: exec.ErrorMessage}
	if item.Status == state.BatchFailed {
		ctx.TaskIDsFailed = item.TaskIDs
	}
	return ctx
}

func (r *Runner) mutateExecution(execID string, fn func(*state.Doc, *state.OrchestrationExecution) error) error {
	_, err := r.store.Mutate(r.project.Path, func(doc *state.Doc) error {
		e := doc.Orchestration.Dashboard.Execution
		if e == nil || e.ID != execID {
			return nil // superseded by a concurrent Cancel/new Start; nothing to apply
		}
		return fn(doc, e)
	})
	return err
}

func (r *Runner) applyNeedsAttention(execID, issue string, options []state.RecoveryOption) error {
	if len(options) == 0 {
		options = []state.RecoveryOption{state.RecoveryRetry, state.RecoverySkip, state.RecoveryAbort}
	}
	return r.mutateExecution(execID, func(_ *state.Doc, e *state.OrchestrationExecution) error {
		e.Status = state.StatusNeedsAttention
		e.RecoveryContext = &state.RecoveryContext{Issue: issue, Options: options}
		e.AppendDecision(time.Now().UTC(), "needs_attention", issue)
		return nil
	})
}

func (r *Runner) applyWaitingMerge(execID string) error {
	return r.mutateExecution(execID, func(_ *state.Doc, e *state.OrchestrationExecution) error {
		e.Status = state.StatusWaitingMerge
		e.AppendDecision(time.Now().UTC(), "waiting_merge", "verify completed; auto_merge is disabled")
		return nil
	})
}

func (r *Runner) applyAdvanceBatch(execID string, next int) error {
	return r.mutateExecution(execID, func(_ *state.Doc, e *state.OrchestrationExecution) error {
		from := e.Batches.Current
		e.Batches.Current = next
		e.AppendDecision(time.Now().UTC(), "advance_batch", fmt.Sprintf("batch %d -> %d", from, next))
		return nil
	})
}

// applyTransition moves exec to the next phase, seeding the batch plan on
// entry to implement and marking the execution complete on entry to
// complete.
func (r *Runner) applyTransition(ctx context.Context, exec *state.OrchestrationExecution, next state.Phase) error {
	var plan batch.Plan
	var havePlan bool
	if next == state.PhaseImplement {
		doc, ok, err := r.tasksDoc.ReadTasksDocument(ctx, r.project.Path)
		if err != nil {
			return fmt.Errorf("reading tasks document: %w", err)
		}
		if ok {
			plan = batch.Plan(doc, exec.Config.BatchSizeFallback)
			havePlan = true
		}
	}

	return r.mutateExecution(exec.ID, func(doc *state.Doc, e *state.OrchestrationExecution) error {
		from := e.CurrentPhase
		e.CurrentPhase = next
		if next == state.PhaseImplement {
			if havePlan {
				e.Batches = state.Batches{Current: 0, Total: len(plan.Batches), Items: plan.Batches}
			} else {
				e.Batches = state.Batches{}
			}
		}
		doc.Orchestration.Step.Current = string(next)
		if idx, ok := state.StepIndex(next); ok {
			doc.Orchestration.Step.Index = idx
		}
		doc.Orchestration.Step.Status = "not_started"
		if next == state.PhaseComplete {
			e.Status = state.StatusCompleted
			now := time.Now().UTC()
			e.CompletedAt = &now
		}
		e.AppendDecision(time.Now().UTC(), "transition_phase", fmt.Sprintf("%s -> %s", from, next))
		return nil
	})
}

// spawn starts one workflow invocation for phase/skill (or batchIndex, for
// implement/heal), persists its workflow id onto the execution, and hands
// the blocking Supervise call to a background goroutine that wakes the
// decision loop once it returns.
func (r *Runner) spawn(ctx context.Context, exec *state.OrchestrationExecution, phase state.Phase, skill string, batchIndex int, isHeal bool) error {
	var prompt string
	if phase == state.PhaseImplement {
		if batchIndex >= len(exec.Batches.Items) {
			return fmt.Errorf("orchestrator: batch index %d out of range", batchIndex)
		}
		prompt = buildBatchPrompt(exec.Batches.Items[batchIndex], r.project.Name)
		if isHeal {
			h := r.healerFor(exec)
			d := h.Decide(r.failedBatchContext(exec))
			if d.HealPrompt != "" {
				prompt = d.HealPrompt
			}
		}
	} else {
		prompt = buildPhasePrompt(phase, r.project.Name)
	}

	workflowID, _, err := r.exec.Start(ctx, r.project.Path, skill, prompt, executor.StartOptions{})
	if err != nil {
		return err
	}

	if err := r.mutateExecution(exec.ID, func(_ *state.Doc, e *state.OrchestrationExecution) error {
		if phase == state.PhaseImplement {
			e.Batches.Items[batchIndex].Status = state.BatchRunning
			e.Batches.Items[batchIndex].WorkflowExecutionID = workflowID
			now := time.Now().UTC()
			e.Batches.Items[batchIndex].StartedAt = &now
		} else {
			if e.Executions == nil {
				e.Executions = map[state.Phase]string{}
			}
			e.Executions[phase] = workflowID
		}
		e.Status = state.StatusRunning
		e.AppendDecision(time.Now().UTC(), "spawn", fmt.Sprintf("%s workflow %s", skill, workflowID))
		return nil
	}); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.supervise(exec.ID, phase, batchIndex, isHeal, workflowID)
	return nil
}

// supervise blocks on the executor until the subprocess exits, applies the
// outcome to persisted state, and wakes the decision loop — the
// runner/supervisor message-passing channel named in §5.
func (r *Runner) supervise(execID string, phase state.Phase, batchIndex int, isHeal bool, workflowID string) {
	defer r.wg.Done()
	if err := r.exec.Supervise(workflowID); err != nil {
		r.log.Warn("supervise returned an error", zap.String("workflow_id", workflowID), zap.Error(err))
	}
	snap, _ := r.exec.Get(workflowID)

	if snap.Status == executor.StatusWaitingForInput && snap.LastOutput != nil {
		r.enqueueQuestions(workflowID, snap.LastOutput.Questions)
	}

	err := r.mutateExecution(execID, func(doc *state.Doc, e *state.OrchestrationExecution) error {
		e.TotalCostUSD += snap.Cost
		now := time.Now().UTC()
		if phase == state.PhaseImplement {
			if batchIndex < len(e.Batches.Items) {
				item := &e.Batches.Items[batchIndex]
				switch {
				case snap.Status == executor.StatusWaitingForInput:
					// The batch is not finished — the agent suspended mid-
					// invocation to ask a question (§4.3). It stays
					// Running until Answer resumes it.
				case snap.Status == executor.StatusCompleted && isHeal:
					item.CompletedAt = &now
					item.Status = state.BatchHealed
					item.HealAttempts++
				case snap.Status == executor.StatusCompleted:
					item.CompletedAt = &now
					item.Status = state.BatchCompleted
				default:
					item.CompletedAt = &now
					item.Status = state.BatchFailed
					if isHeal {
						item.HealAttempts++
					}
					e.ErrorMessage = snap.Error
				}
			}
		} else if snap.Status == executor.StatusCompleted {
			// Runner-layer auto-heal (§4.6): a single targeted terminal
			// write, not a continuous reconciliation loop.
			if doc.Orchestration.Step.Current == string(phase) && doc.Orchestration.Step.Status != "completed" {
				doc.Orchestration.Step.Status = "completed"
			}
		} else if snap.Status != executor.StatusWaitingForInput {
			e.ErrorMessage = snap.Error
		}
		e.AppendDecision(now, "workflow_finished", fmt.Sprintf("%s -> %s", skillLabel(phase, isHeal), snap.Status))
		return nil
	})
	if err != nil {
		r.log.Error("applying workflow outcome failed", zap.String("workflow_id", workflowID), zap.Error(err))
	}

	if phase == state.PhaseImplement && isHeal {
		if h, ok := r.healer(execID); ok {
			h.RecordOutcome(snap.Status == executor.StatusCompleted)
		}
	}

	select {
	case r.done <- struct{}{}:
	default:
	}
}

func skillLabel(phase state.Phase, isHeal bool) string {
	if isHeal {
		return "heal"
	}
	return string(phase)
}

// enqueueQuestions persists the questions a workflow emitted via structured
// output (§4.3) so Pending/Answer can see them; best-effort per question,
// since one malformed id should not drop the rest.
func (r *Runner) enqueueQuestions(workflowID string, qs []questions.Question) {
	for _, q := range qs {
		q.WorkflowExecutionID = workflowID
		if err := r.queue.Enqueue(r.project.Path, workflowID, q); err != nil {
			r.log.Error("enqueueing question failed", zap.String("workflow_id", workflowID), zap.String("question_id", q.ID), zap.Error(err))
		}
	}
}

// --- Core API (§6) ---
//
// The mutating methods below change state only through the Store (Mutate,
// mutateExecution or mutateActive); Start, Resume, TriggerMerge, Recover and
// GoBack then call signal() so the decision loop re-evaluates immediately.
// None of them decide anything themselves — that stays decide()'s job alone.

// Start begins a new orchestration for this project (§6: "409 if already
// non-terminal"). ErrAlreadyRunning is this package's stand-in for that
// status code; a thin CLI/HTTP wrapper maps it accordingly.
func (r *Runner) Start(ctx context.Context, cfg config.OrchestrationConfig) (*state.OrchestrationExecution, error) {
	validated, err := config.New(cfg)
	if err != nil {
		return nil, err
	}

	var created *state.OrchestrationExecution
	_, err = r.store.Mutate(r.project.Path, func(doc *state.Doc) error {
		if e := doc.Orchestration.Dashboard.Execution; e != nil && !e.Status.Terminal() {
			return ErrAlreadyRunning
		}
		now := time.Now().UTC()
		exec := state.NewExecution(ids.NewUUID(), r.project.ID, validated, now)

		doc.Project = state.ProjectRef{ID: r.project.ID, Name: r.project.Name, Path: r.project.Path}
		doc.Orchestration.Dashboard.Active = true
		doc.Orchestration.Dashboard.Execution = exec
		doc.Orchestration.Step.Current = string(exec.CurrentPhase)
		doc.Orchestration.Step.Status = "not_started"
		if idx, ok := state.StepIndex(exec.CurrentPhase); ok {
			doc.Orchestration.Step.Index = idx
		}
		created = exec
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.signal()
	return created, nil
}

// Status returns a snapshot of the project's current execution (§6).
func (r *Runner) Status(ctx context.Context) (state.OrchestrationExecution, error) {
	doc, err := r.store.Load(r.project.Path)
	if err != nil {
		return state.OrchestrationExecution{}, err
	}
	if doc.Orchestration.Dashboard.Execution == nil {
		return state.OrchestrationExecution{}, ErrNoExecution
	}
	return *doc.Orchestration.Dashboard.Execution, nil
}

// PreviewBatches parses the project's current tasks document into a batch
// plan without touching persisted state (§6: "parse-only, no side effects").
// An absent tasks document yields a zero Plan, not an error.
func (r *Runner) PreviewBatches(ctx context.Context, batchSizeFallback int) (batch.Plan, error) {
	if batchSizeFallback <= 0 {
		batchSizeFallback = 15
	}
	doc, ok, err := r.tasksDoc.ReadTasksDocument(ctx, r.project.Path)
	if err != nil {
		return batch.Plan{}, fmt.Errorf("reading tasks document: %w", err)
	}
	if !ok {
		return batch.Plan{}, nil
	}
	return batch.Plan(doc, batchSizeFallback), nil
}

// mutateActive loads the current execution id and mutates it, failing with
// ErrNoExecution if the project has none. It is the common path for Core API
// methods that don't need the legacy Doc pointer mutateExecution also offers.
func (r *Runner) mutateActive(fn func(*state.OrchestrationExecution) error) error {
	doc, err := r.store.Load(r.project.Path)
	if err != nil {
		return err
	}
	e := doc.Orchestration.Dashboard.Execution
	if e == nil {
		return ErrNoExecution
	}
	return r.mutateExecution(e.ID, func(_ *state.Doc, e *state.OrchestrationExecution) error {
		return fn(e)
	})
}

// Pause suspends the decision loop for this project without touching any
// in-flight subprocess (§6).
func (r *Runner) Pause(ctx context.Context) error {
	return r.mutateActive(func(e *state.OrchestrationExecution) error {
		if e.Status.Terminal() {
			return fmt.Errorf("orchestrator: execution %s already terminal", e.ID)
		}
		e.Status = state.StatusPaused
		e.AppendDecision(time.Now().UTC(), "pause", "user requested pause")
		return nil
	})
}

// Resume lifts a Pause (§6).
func (r *Runner) Resume(ctx context.Context) error {
	err := r.mutateActive(func(e *state.OrchestrationExecution) error {
		if e.Status != state.StatusPaused {
			return fmt.Errorf("orchestrator: execution %s is not paused", e.ID)
		}
		e.Status = state.StatusRunning
		e.AppendDecision(time.Now().UTC(), "resume", "user requested resume")
		return nil
	})
	if err != nil {
		return err
	}
	r.signal()
	return nil
}

// Cancel is transitive (§5): it terminates any in-flight subprocess first,
// then persists the cancellation, then deactivates the dashboard. Idempotent
// and safe to call concurrently with anything else touching this project.
func (r *Runner) Cancel(ctx context.Context) error {
	doc, err := r.store.Load(r.project.Path)
	if err != nil {
		return err
	}
	e := doc.Orchestration.Dashboard.Execution
	if e == nil {
		return ErrNoExecution
	}
	if e.Status.Terminal() {
		return nil
	}

	if workflowID := currentWorkflowID(e); workflowID != "" {
		if err := r.exec.Cancel(workflowID); err != nil {
			return fmt.Errorf("cancelling in-flight workflow: %w", err)
		}
	}

	return r.mutateExecution(e.ID, func(doc *state.Doc, e *state.OrchestrationExecution) error {
		if e.Status.Terminal() {
			return nil
		}
		now := time.Now().UTC()
		e.Status = state.StatusCancelled
		e.CompletedAt = &now
		doc.Orchestration.Dashboard.Active = false
		e.AppendDecision(now, "cancel", "user requested cancel")
		return nil
	})
}

// currentWorkflowID returns the workflow id recorded for exec's current
// phase (or current batch, for implement) — the same lookup observe()
// performs, reused here so Cancel targets exactly what decide would have
// been waiting on.
func currentWorkflowID(e *state.OrchestrationExecution) string {
	if e.CurrentPhase == state.PhaseImplement {
		if e.Batches.Current < len(e.Batches.Items) {
			return e.Batches.Items[e.Batches.Current].WorkflowExecutionID
		}
		return ""
	}
	return e.Executions[e.CurrentPhase]
}

// TriggerMerge advances a waiting_merge execution into the merge phase (§6).
func (r *Runner) TriggerMerge(ctx context.Context) error {
	err := r.mutateActive(func(e *state.OrchestrationExecution) error {
		if e.Status != state.StatusWaitingMerge {
			return ErrNotWaitingMerge
		}
		e.Status = state.StatusRunning
		e.CurrentPhase = state.PhaseMerge
		e.AppendDecision(time.Now().UTC(), "trigger_merge", "user triggered merge")
		return nil
	})
	if err != nil {
		return err
	}
	r.signal()
	return nil
}

// Recover applies one of the three needs_attention recovery actions (§4.6).
func (r *Runner) Recover(ctx context.Context, action state.RecoveryOption) error {
	err := r.mutateActive(func(e *state.OrchestrationExecution) error {
		if e.Status != state.StatusNeedsAttention {
			return ErrNotNeedsAttention
		}
		now := time.Now().UTC()
		switch action {
		case state.RecoveryRetry:
			e.Status = state.StatusRunning
			e.RecoveryContext = nil
			if e.CurrentPhase == state.PhaseImplement && e.Batches.Current < len(e.Batches.Items) {
				item := &e.Batches.Items[e.Batches.Current]
				item.Status = state.BatchPending
				item.WorkflowExecutionID = ""
			} else {
				delete(e.Executions, e.CurrentPhase)
			}
			e.AppendDecision(now, "recover_retry", "user requested retry")
		case state.RecoverySkip:
			e.Status = state.StatusRunning
			e.RecoveryContext = nil
			if e.CurrentPhase == state.PhaseImplement && e.Batches.Current < len(e.Batches.Items) {
				e.Batches.Items[e.Batches.Current].Status = state.BatchHealed
			}
			e.AppendDecision(now, "recover_skip", "user requested skip")
		case state.RecoveryAbort:
			e.Status = state.StatusFailed
			e.RecoveryContext = nil
			e.ErrorMessage = "aborted by user from needs_attention"
			e.CompletedAt = &now
			e.AppendDecision(now, "recover_abort", "user requested abort")
		default:
			return fmt.Errorf("%w: unknown recovery action %q", config.ErrConfigInvalid, action)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.signal()
	return nil
}

// GoBack resets the execution to an earlier step, discarding no persisted
// artifacts (§4.6): only the step pointer and the (now re-runnable) phase's
// own workflow/batch bookkeeping are cleared.
func (r *Runner) GoBack(ctx context.Context, target state.Phase) error {
	doc, err := r.store.Load(r.project.Path)
	if err != nil {
		return err
	}
	e := doc.Orchestration.Dashboard.Execution
	if e == nil {
		return ErrNoExecution
	}

	err = r.mutateExecution(e.ID, func(doc *state.Doc, e *state.OrchestrationExecution) error {
		targetIdx, ok := state.StepIndex(target)
		if !ok {
			return fmt.Errorf("%w: unknown step %q", ErrInvalidGoBack, target)
		}
		curIdx, ok := state.StepIndex(e.CurrentPhase)
		if !ok || targetIdx >= curIdx {
			return fmt.Errorf("%w: %q does not precede current step %q", ErrInvalidGoBack, target, e.CurrentPhase)
		}

		e.CurrentPhase = target
		delete(e.Executions, target)
		if target == state.PhaseImplement {
			e.Batches = state.Batches{}
		}
		e.Status = state.StatusRunning
		e.RecoveryContext = nil

		doc.Orchestration.Step.Current = string(target)
		doc.Orchestration.Step.Index = targetIdx
		doc.Orchestration.Step.Status = "not_started"

		e.AppendDecision(time.Now().UTC(), "go_back", fmt.Sprintf("user requested step override to %s", target))
		return nil
	})
	if err != nil {
		return err
	}
	r.signal()
	return nil
}

// Answer records answers for a set of questions and, if the workflow they
// belong to is currently suspended waiting_for_input, resumes it (§4.3,
// §5 suspension point (a)).
func (r *Runner) Answer(ctx context.Context, workflowID string, answers map[string]string) error {
	for qid, ans := range answers {
		if err := r.queue.Answer(r.project.Path, qid, ans); err != nil {
			return fmt.Errorf("answering question %s: %w", qid, err)
		}
	}
	return r.resumeWaitingWorkflow(ctx, workflowID)
}

// resumeWaitingWorkflow drains the now-answered questions for workflowID and
// re-invokes the agent with --resume, carrying the answers in the
// continuation prompt. A workflow not actually waiting_for_input is left
// alone — Answer is allowed to record an answer ahead of the agent asking
// for it.
func (r *Runner) resumeWaitingWorkflow(ctx context.Context, workflowID string) error {
	snap, ok := r.exec.Get(workflowID)
	if !ok || snap.Status != executor.StatusWaitingForInput {
		return nil
	}

	answers, err := r.queue.Drain(r.project.Path, workflowID)
	if err != nil {
		return fmt.Errorf("draining answered questions: %w", err)
	}

	doc, err := r.store.Load(r.project.Path)
	if err != nil {
		return err
	}
	e := doc.Orchestration.Dashboard.Execution
	if e == nil {
		return ErrNoExecution
	}

	phase := e.CurrentPhase
	batchIndex := e.Batches.Current
	skill := string(phase)
	if phase == state.PhaseImplement {
		skill = "implement"
	}

	newID, _, err := r.exec.Start(ctx, r.project.Path, skill, buildResumePrompt(answers), executor.StartOptions{
		ResumeSessionID: snap.SessionID,
	})
	if err != nil {
		return err
	}

	if err := r.mutateExecution(e.ID, func(_ *state.Doc, e *state.OrchestrationExecution) error {
		if phase == state.PhaseImplement && batchIndex < len(e.Batches.Items) {
			e.Batches.Items[batchIndex].WorkflowExecutionID = newID
			e.Batches.Items[batchIndex].Status = state.BatchRunning
		} else {
			if e.Executions == nil {
				e.Executions = map[state.Phase]string{}
			}
			e.Executions[phase] = newID
		}
		e.AppendDecision(time.Now().UTC(), "resume", fmt.Sprintf("%s workflow %s resumed as %s", skill, workflowID, newID))
		return nil
	}); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.supervise(e.ID, phase, batchIndex, false, newID)
	return nil
}

// Transcript returns the lazily-decoded message sequence for the transcript
// whose first line advertises sessionID, tailed to the last `tail` messages
// (tail <= 0 returns everything) (§6).
func (r *Runner) Transcript(ctx context.Context, sessionID string, tail int) ([]transcript.Message, error) {
	dir, err := executor.TranscriptDir(r.project.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		first, ok, err := transcript.FirstLine(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if !ok {
			continue
		}
		if first.SessionID != sessionID && !strings.Contains(entry.Name(), sessionID) {
			continue
		}
		result, err := r.reader.Read(path, tail)
		if err != nil {
			return nil, err
		}
		return result.Messages, nil
	}
	return nil, nil
}
