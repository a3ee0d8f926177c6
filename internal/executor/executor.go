// Package executor is WorkflowExecutor (§4.4): it invokes the agent CLI
// once, supervises it to completion, and surfaces its structured output,
// session id, transcript path, and any questions it raised.
//
// Grounded on the teacher's internal/attractor/engine.CodergenRouter.runCLI
// (process-group spawn, stdin prompt, structured-output capture,
// stderr-classified failures) and internal/attractor/runstate (PID/status
// snapshot reconciliation), upgraded to the fixed five-phase invocation
// protocol this spec requires instead of the teacher's arbitrary DOT-graph
// node dispatch.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/specflow-dev/dashboard-core/internal/config"
	"github.com/specflow-dev/dashboard-core/internal/ids"
	"github.com/specflow-dev/dashboard-core/internal/questions"
)

// Status is WorkflowExecution.status (§3).
type Status string

const (
	StatusRunning         Status = "running"
	StatusWaitingForInput Status = "waiting_for_input"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
	StatusDetached        Status = "detached"
	StatusStale           Status = "stale"
)

// Terminal reports whether s is a status Supervise will never transition
// out of on its own.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var (
	// ErrSpawnFailed covers any failure to fork/exec the agent CLI.
	ErrSpawnFailed = errors.New("executor: spawn failed")
	// ErrAgentNotAvailable means the configured agent CLI binary could not
	// be resolved on PATH or at the configured location.
	ErrAgentNotAvailable = errors.New("executor: agent CLI not available")
	// ErrUnknownWorkflow is returned by Supervise/Cancel/Get for an id the
	// executor has no record of.
	ErrUnknownWorkflow = errors.New("executor: unknown workflow")
	// ErrTooManyQuestions is the per-invocation overflow guard (§5
	// Backpressure: "enforces a per-invocation cap (default 50) and
	// reports failed on overflow").
	ErrTooManyQuestions = errors.New("executor: too many questions in structured output")
)

// Output is the agent's structured final payload (§4.4: "the payload shape
// is {status, phase?, message?, artifacts?, questions?}").
type Output struct {
	Status    string               `json:"status"` // completed | needs_input | error
	Phase     string               `json:"phase,omitempty"`
	Message   string               `json:"message,omitempty"`
	Artifacts []string             `json:"artifacts,omitempty"`
	Questions []questions.Question `json:"questions,omitempty"`
}

const (
	outputStatusCompleted  = "completed"
	outputStatusNeedsInput = "needs_input"
	outputStatusError      = "error"
)

// Execution is a WorkflowExecution snapshot (§3). Values returned by Get
// are copies; mutating one has no effect on the executor's state.
type Execution struct {
	ID         string
	ProjectDir string
	Skill      string
	Status     Status
	SessionID  string
	StartedAt  time.Time
	UpdatedAt  time.Time
	LastOutput *Output
	Transcript string
	Cost       float64
	Error      string
	PID        int
}

// StartOptions are Start's per-invocation options (§4.4).
type StartOptions struct {
	ResumeSessionID string
	DisallowedTools []string
	OutputSchema    []byte // nil uses the default schema
	Timeout         time.Duration
}

// run is the executor's private bookkeeping for one in-flight or completed
// invocation: the public Execution snapshot plus everything needed to
// supervise and cancel it.
type run struct {
	mu   sync.Mutex
	snap Execution

	cmd        *exec.Cmd
	stdout     *bytes.Buffer
	stderr     *bytes.Buffer
	cancelFunc context.CancelFunc
	discovery  *discoverer
	validator  *schemaValidator
	schemaPath string

	waitOnce sync.Once
	waitErr  error
	waitDone chan struct{}
}

// Executor is one process-wide WorkflowExecutor. It holds no per-project
// state beyond the in-flight run table — the orchestrator layer is what
// enforces "at most one in-flight subprocess per project" (§5).
type Executor struct {
	log      *zap.Logger
	binary   string
	defaults config.Defaults
	timeouts timeouts

	mu   sync.Mutex
	runs map[string]*run
}

type timeouts struct {
	sessionDiscoveryInterval time.Duration
	sessionDiscoveryTimeout  time.Duration
	workflowTimeout          time.Duration
	cancelGracePeriod        time.Duration
	maxPendingQuestions      int
}

// New builds an Executor that spawns binary (resolved via ResolveAgentBinary
// by the caller) and tunes its pollers from defaults.
func New(log *zap.Logger, binary string, defaults config.Defaults) *Executor {
	return &Executor{
		log:      log,
		binary:   binary,
		defaults: defaults,
		timeouts: parseTimeouts(defaults),
		runs:     map[string]*run{},
	}
}

func parseTimeouts(d config.Defaults) timeouts {
	parse := func(s string, fallback time.Duration) time.Duration {
		if s == "" {
			return fallback
		}
		if dur, err := time.ParseDuration(s); err == nil {
			return dur
		}
		return fallback
	}
	maxQ := d.MaxPendingQuestions
	if maxQ <= 0 {
		maxQ = 50
	}
	return timeouts{
		sessionDiscoveryInterval: parse(d.SessionDiscoveryInterval, 500*time.Millisecond),
		sessionDiscoveryTimeout:  parse(d.SessionDiscoveryTimeout, 10*time.Second),
		workflowTimeout:          parse(d.WorkflowTimeout, 10*time.Minute),
		cancelGracePeriod:        parse(d.CancelGracePeriod, 5*time.Second),
		maxPendingQuestions:      maxQ,
	}
}

// ResolveAgentBinary finds the agent CLI executable: an explicit override,
// then the SPECFLOW_AGENT_CLI environment variable, then PATH lookup of
// "specflow-agent". Grounded on the teacher's ResolveProviderExecutable
// (config override, then env, then PATH).
func ResolveAgentBinary(override string) (string, error) {
	if override != "" {
		if _, err := exec.LookPath(override); err == nil {
			return override, nil
		}
		if _, err := os.Stat(override); err == nil {
			return override, nil
		}
		return "", fmt.Errorf("%w: %s", ErrAgentNotAvailable, override)
	}
	if env := os.Getenv("SPECFLOW_AGENT_CLI"); env != "" {
		if _, err := exec.LookPath(env); err == nil {
			return env, nil
		}
		if _, err := os.Stat(env); err == nil {
			return env, nil
		}
	}
	if path, err := exec.LookPath("specflow-agent"); err == nil {
		return path, nil
	}
	return "", ErrAgentNotAvailable
}

// Start invokes the agent CLI once and returns immediately once the
// subprocess has been forked; it does not wait for completion (§4.4).
func (e *Executor) Start(ctx context.Context, projectDir, skill, prompt string, opts StartOptions) (workflowID string, pid int, err error) {
	workflowID = ids.NewWorkflowID()
	now := time.Now()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.timeouts.workflowTimeout
	}

	schema := opts.OutputSchema
	if len(schema) == 0 {
		schema = defaultOutputSchemaBytes
	}
	validator, err := compileSchema(schema)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid output schema: %v", ErrSpawnFailed, err)
	}

	schemaPath, err := writeSchemaFile(workflowID, schema)
	if err != nil {
		return "", 0, fmt.Errorf("%w: writing output schema: %v", ErrSpawnFailed, err)
	}

	args, markedPrompt := buildInvocation(skill, workflowID, prompt, schemaPath, opts)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	cmd := exec.CommandContext(runCtx, e.binary, args...)
	cmd.Dir = projectDir
	cmd.Stdin = bytes.NewReader([]byte(markedPrompt))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if startErr := cmd.Start(); startErr != nil {
		cancel()
		return "", 0, fmt.Errorf("%w: %v", ErrSpawnFailed, startErr)
	}

	r := &run{
		snap: Execution{
			ID:         workflowID,
			ProjectDir: projectDir,
			Skill:      skill,
			Status:     StatusRunning,
			StartedAt:  now,
			UpdatedAt:  now,
			PID:        cmd.Process.Pid,
		},
		cmd:        cmd,
		stdout:     &stdout,
		stderr:     &stderr,
		cancelFunc: cancel,
		validator:  validator,
		schemaPath: schemaPath,
		waitDone:   make(chan struct{}),
	}
	r.discovery = newDiscoverer(projectDir, workflowID, e.timeouts.sessionDiscoveryInterval, e.timeouts.sessionDiscoveryTimeout)
	go r.discovery.run()

	e.mu.Lock()
	e.runs[workflowID] = r
	e.mu.Unlock()

	e.log.Info("workflow started",
		zap.String("workflow_id", workflowID),
		zap.String("skill", skill),
		zap.Int("pid", r.snap.PID),
	)

	return workflowID, r.snap.PID, nil
}

// Supervise blocks until the subprocess exits and updates the
// WorkflowExecution's status accordingly (§4.4).
func (e *Executor) Supervise(workflowID string) error {
	e.mu.Lock()
	r, ok := e.runs[workflowID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}

	r.waitOnce.Do(func() {
		r.waitErr = r.cmd.Wait()
		close(r.waitDone)
		if r.schemaPath != "" {
			_ = os.Remove(r.schemaPath)
		}
	})
	<-r.waitDone

	r.discovery.stop()
	sessionID, transcriptPath := r.discovery.result()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.UpdatedAt = time.Now()
	if sessionID != "" {
		r.snap.SessionID = sessionID
	}
	if transcriptPath != "" {
		r.snap.Transcript = transcriptPath
	}

	exitErr, isExit := asExitError(r.waitErr)
	switch {
	case r.waitErr == nil:
		e.applySuccess(r)
	case isExit && exitErr.ProcessState != nil && wasKilled(exitErr):
		r.snap.Status = StatusCancelled
	case isExit:
		r.snap.Status = StatusFailed
		r.snap.Error = classifyFailure(r.stderr.String(), exitErr.ExitCode())
	default:
		r.snap.Status = StatusFailed
		r.snap.Error = r.waitErr.Error()
	}

	e.log.Info("workflow supervised",
		zap.String("workflow_id", workflowID),
		zap.String("status", string(r.snap.Status)),
	)
	return nil
}

func (e *Executor) applySuccess(r *run) {
	out, err := parseOutput(r.stdout.Bytes(), r.validator)
	if err != nil {
		r.snap.Status = StatusFailed
		r.snap.Error = fmt.Sprintf("invalid structured output: %v", err)
		return
	}
	if len(out.Questions) > e.timeouts.maxPendingQuestions {
		r.snap.Status = StatusFailed
		r.snap.Error = ErrTooManyQuestions.Error()
		return
	}

	r.snap.LastOutput = &out
	switch out.Status {
	case outputStatusNeedsInput:
		r.snap.Status = StatusWaitingForInput
	case outputStatusError:
		r.snap.Status = StatusFailed
		r.snap.Error = out.Message
	default:
		if len(out.Questions) > 0 {
			r.snap.Status = StatusWaitingForInput
		} else {
			r.snap.Status = StatusCompleted
		}
	}
}

// Cancel sends termination to the process group and waits up to the grace
// period before force-killing. Idempotent: an unknown or already-terminated
// workflow is a successful no-op (§4.4).
func (e *Executor) Cancel(workflowID string) error {
	e.mu.Lock()
	r, ok := e.runs[workflowID]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	alreadyTerminal := r.snap.Status.Terminal()
	pid := r.snap.PID
	r.mu.Unlock()
	if alreadyTerminal {
		return nil
	}

	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	}

	select {
	case <-r.waitDone:
	case <-time.After(e.timeouts.cancelGracePeriod):
		if pid > 0 {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		}
		r.cancelFunc()
		<-r.waitDone
	}

	r.mu.Lock()
	if !r.snap.Status.Terminal() {
		r.snap.Status = StatusCancelled
		r.snap.UpdatedAt = time.Now()
	}
	r.mu.Unlock()
	return nil
}

// Get returns the current snapshot for workflowID, reconciling PID liveness
// for a process the supervisor lost track of (§3: "becomes detached if the
// supervisor is restarted while the underlying process is known-missing").
func (e *Executor) Get(workflowID string) (Execution, bool) {
	e.mu.Lock()
	r, ok := e.runs[workflowID]
	e.mu.Unlock()
	if !ok {
		return Execution{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.Status == StatusRunning && r.snap.PID > 0 && !e.processAlive(r.snap.PID) {
		select {
		case <-r.waitDone:
			// Supervise already reconciled the real exit status.
		default:
			e.log.Warn("workflow process is gone, marking detached",
				zap.String("workflow_id", workflowID), zap.Int("pid", r.snap.PID))
			r.snap.Status = StatusDetached
		}
	}
	snap := r.snap
	if snap.LastOutput != nil {
		cp := *snap.LastOutput
		snap.LastOutput = &cp
	}
	return snap, true
}

// MarkStale transitions a running workflow to "stale" (§3: "becomes stale
// after a configurable idle threshold with no transcript activity"). Nothing
// in this module calls it: Supervise does not track transcript idleness and
// no reaper invokes MarkStale.
func (e *Executor) MarkStale(workflowID string) bool {
	e.mu.Lock()
	r, ok := e.runs[workflowID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.Status != StatusRunning {
		return false
	}
	r.snap.Status = StatusStale
	r.snap.UpdatedAt = time.Now()
	return true
}

func asExitError(err error) (*exec.ExitError, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr, true
	}
	return nil, false
}

func wasKilled(exitErr *exec.ExitError) bool {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	return status.Signaled()
}

func classifyFailure(stderr string, exitCode int) string {
	trimmed := bytes.TrimSpace([]byte(stderr))
	if len(trimmed) == 0 {
		return fmt.Sprintf("agent exited with status %d", exitCode)
	}
	const maxLen = 2000
	if len(trimmed) > maxLen {
		trimmed = trimmed[len(trimmed)-maxLen:]
	}
	return fmt.Sprintf("agent exited with status %d: %s", exitCode, string(trimmed))
}
