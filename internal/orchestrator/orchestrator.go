package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/specflow-dev/dashboard-core/internal/batch"
	"github.com/specflow-dev/dashboard-core/internal/config"
	"github.com/specflow-dev/dashboard-core/internal/contracts"
	"github.com/specflow-dev/dashboard-core/internal/questions"
	"github.com/specflow-dev/dashboard-core/internal/state"
	"github.com/specflow-dev/dashboard-core/internal/transcript"
)

// Orchestrator is the process-wide Core API entry point (§6): a registry of
// one Runner per actively-orchestrated project, created lazily on first use
// and kept for the life of the process. There is deliberately no package-level
// singleton — callers construct exactly one Orchestrator and share it.
type Orchestrator struct {
	log      *zap.Logger
	registry contracts.ProjectRegistry
	store    *state.Store
	exec     Executor
	queue    *questions.Queue
	reader   *transcript.Reader
	tasksDoc contracts.TasksDocumentReader

	mu      sync.Mutex
	runners map[string]*Runner
}

// New wires the Core API's external collaborators: the registry of known
// projects, persistent state, the subprocess executor, the question queue,
// the transcript reader, and the tasks-document reader. These are shared by
// every Runner the Orchestrator creates.
func New(log *zap.Logger, registry contracts.ProjectRegistry, store *state.Store, exec Executor, queue *questions.Queue, reader *transcript.Reader, tasksDoc contracts.TasksDocumentReader) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		log:      log,
		registry: registry,
		store:    store,
		exec:     exec,
		queue:    queue,
		reader:   reader,
		tasksDoc: tasksDoc,
		runners:  map[string]*Runner{},
	}
}

// runnerFor resolves projectID against the registry and returns its Runner,
// constructing one (and starting its background decision loop) on first
// request.
func (o *Orchestrator) runnerFor(ctx context.Context, projectID string) (*Runner, error) {
	o.mu.Lock()
	if r, ok := o.runners[projectID]; ok {
		o.mu.Unlock()
		return r, nil
	}
	o.mu.Unlock()

	project, ok, err := o.registry.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("resolving project %s: %w", projectID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown project %s", config.ErrConfigInvalid, projectID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runners[projectID]; ok {
		return r, nil
	}
	r := NewRunner(o.log.With(zap.String("project_id", projectID)), project, o.store, o.exec, o.queue, o.reader, o.tasksDoc)
	o.runners[projectID] = r
	return r, nil
}

// Shutdown stops every project's background decision loop without touching
// persisted state or any in-flight subprocess. For process shutdown only —
// it never cancels a running orchestration.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.runners {
		r.Stop()
	}
}

// Start begins a new orchestration for projectID (§6).
func (o *Orchestrator) Start(ctx context.Context, projectID string, cfg config.OrchestrationConfig) (*state.OrchestrationExecution, error) {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return r.Start(ctx, cfg)
}

// Status returns projectID's current execution snapshot (§6).
func (o *Orchestrator) Status(ctx context.Context, projectID string) (state.OrchestrationExecution, error) {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return state.OrchestrationExecution{}, err
	}
	return r.Status(ctx)
}

// PreviewBatches parses projectID's current tasks document into a batch
// plan, with no side effects (§6).
func (o *Orchestrator) PreviewBatches(ctx context.Context, projectID string, batchSizeFallback int) (batch.Plan, error) {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return batch.Plan{}, err
	}
	return r.PreviewBatches(ctx, batchSizeFallback)
}

// Pause suspends projectID's decision loop (§6).
func (o *Orchestrator) Pause(ctx context.Context, projectID string) error {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return err
	}
	return r.Pause(ctx)
}

// Resume lifts a Pause for projectID (§6).
func (o *Orchestrator) Resume(ctx context.Context, projectID string) error {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return err
	}
	return r.Resume(ctx)
}

// Cancel terminates projectID's orchestration, transitively cancelling any
// in-flight subprocess (§5, §6).
func (o *Orchestrator) Cancel(ctx context.Context, projectID string) error {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return err
	}
	return r.Cancel(ctx)
}

// TriggerMerge advances projectID out of waiting_merge (§6).
func (o *Orchestrator) TriggerMerge(ctx context.Context, projectID string) error {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return err
	}
	return r.TriggerMerge(ctx)
}

// Recover applies a recovery action to projectID's needs_attention
// execution (§4.6, §6).
func (o *Orchestrator) Recover(ctx context.Context, projectID string, action state.RecoveryOption) error {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return err
	}
	return r.Recover(ctx, action)
}

// GoBack resets projectID's execution to an earlier step (§4.6, §6).
func (o *Orchestrator) GoBack(ctx context.Context, projectID string, target state.Phase) error {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return err
	}
	return r.GoBack(ctx, target)
}

// Answer records answers to one workflow's pending questions, resuming it
// if it was suspended waiting on them (§4.3, §6).
func (o *Orchestrator) Answer(ctx context.Context, projectID, workflowID string, answers map[string]string) error {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return err
	}
	return r.Answer(ctx, workflowID, answers)
}

// Transcript returns the lazily-decoded message sequence for sessionID,
// tailed to the last `tail` messages (§6).
func (o *Orchestrator) Transcript(ctx context.Context, projectID, sessionID string, tail int) ([]transcript.Message, error) {
	r, err := o.runnerFor(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return r.Transcript(ctx, sessionID, tail)
}
