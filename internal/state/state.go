// Package state is PersistentState (§4.1): the sole durable source of truth
// for orchestration progress. It mirrors the teacher's checkpoint/manifest
// persistence style (internal/attractor/runtime.FinalOutcome.Save,
// internal/attractor/engine/resume.go's manifest loader) generalized to a
// single mutable per-project document instead of an append-only run log.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specflow-dev/dashboard-core/internal/atomicfile"
	"github.com/specflow-dev/dashboard-core/internal/config"
	"go.uber.org/zap"
)

// SchemaVersion is the current fixed schema version (§4.1, §6).
const SchemaVersion = "3.0"

const relStatePath = ".specflow/orchestration-state.json"

// ProjectRef mirrors the project stanza of the state document (§6).
type ProjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// PhasePointer is orchestration.phase (§6).
type PhasePointer struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// StepPointer is orchestration.step (§6). Index is a number on disk; Load
// auto-repairs a legacy string-typed index (§4.1).
type StepPointer struct {
	Current string `json:"current"`
	Index   int    `json:"index"`
	Status  string `json:"status"`
}

// Dashboard is orchestration.dashboard (§6), carrying the live execution.
type Dashboard struct {
	Active       bool                    `json:"active"`
	LastWorkflow string                  `json:"last_workflow,omitempty"`
	Execution    *OrchestrationExecution `json:"execution,omitempty"`
}

// Orchestration is the orchestration stanza (§6).
type Orchestration struct {
	Phase     PhasePointer `json:"phase"`
	Step      StepPointer  `json:"step"`
	Dashboard Dashboard    `json:"dashboard"`
}

// Actions holds the append-only action history (§6).
type Actions struct {
	History []DecisionLogEntry `json:"history"`
}

// Doc is the full per-project JSON document at .specflow/orchestration-state.json (§6).
type Doc struct {
	SchemaVersion string        `json:"schema_version"`
	Project       ProjectRef    `json:"project"`
	Orchestration Orchestration `json:"orchestration"`
	Actions       Actions       `json:"actions"`
	LastUpdated   time.Time     `json:"last_updated"`
}

// Store is PersistentState bound to a logger and the retention knob (§C.1
// of SPEC_FULL.md: actions.history is truncated on save; the execution's
// decisionLog never is).
type Store struct {
	log              *zap.Logger
	decisionRetention int
}

// NewStore constructs a Store. retention <= 0 disables truncation.
func NewStore(log *zap.Logger, retention int) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{log: log, decisionRetention: retention}
}

func statePath(projectDir string) string {
	return filepath.Join(projectDir, relStatePath)
}

// Load deserializes the project's state document, auto-repairing recoverable
// schema/semantic mismatches in place and rewriting them (§4.1). A missing
// file is not corruption: Load returns a fresh zero-value Doc for a project
// that has never been initialized, matching "absent is not an error".
func (s *Store) Load(projectDir string) (*Doc, error) {
	path := statePath(projectDir)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Doc{SchemaVersion: SchemaVersion}, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	b, indexTypeRepaired, err := normalizeStepIndexType(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", config.ErrStateCorrupt, path, err)
	}

	var doc Doc
	if err := config.DecodeJSONStrict(b, &doc); err != nil {
		// JSON itself is invalid: StateCorrupt, fails hard (§4.1, §7).
		return nil, fmt.Errorf("%w: %s: %v", config.ErrStateCorrupt, path, err)
	}

	repaired, entries := repair(&doc)
	if indexTypeRepaired {
		repaired = true
		entries = append([]string{"orchestration.step.index"}, entries...)
	}
	if len(entries) > 0 {
		now := time.Now().UTC()
		for _, e := range entries {
			s.log.Warn("state auto-repaired", zap.String("project_dir", projectDir), zap.String("field", e))
			doc.Actions.History = append(doc.Actions.History, DecisionLogEntry{
				Timestamp: now,
				Decision:  "auto-repaired",
				Reason:    e,
			})
		}
		if err := s.Save(projectDir, &doc); err != nil {
			return nil, fmt.Errorf("saving auto-repaired state: %w", err)
		}
	}
	_ = repaired
	return &doc, nil
}

// Save atomically writes doc to the project's state file: write to a
// sibling temp file, fsync, then rename (§4.1) — the live path is never
// partially written.
func (s *Store) Save(projectDir string, doc *Doc) error {
	doc.SchemaVersion = SchemaVersion
	doc.LastUpdated = time.Now().UTC()
	s.truncateDecisionLog(doc)

	path := statePath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	if err := atomicfile.Write(path, b, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	s.log.Debug("state saved", zap.String("path", path))
	return nil
}

// truncateDecisionLog bounds the on-disk action history to the configured
// retention window without ever truncating the execution's append-only
// decisionLog (SPEC_FULL.md §C.1).
func (s *Store) truncateDecisionLog(doc *Doc) {
	if s.decisionRetention <= 0 {
		return
	}
	if len(doc.Actions.History) > s.decisionRetention {
		doc.Actions.History = append([]DecisionLogEntry{}, doc.Actions.History[len(doc.Actions.History)-s.decisionRetention:]...)
	}
}

// Mutate loads, applies fn, and saves under an exclusive per-project lock
// (§4.1). fn may return an error to abort the mutation without saving.
func (s *Store) Mutate(projectDir string, fn func(*Doc) error) (*Doc, error) {
	lock := newProjectLock(projectDir)
	release, err := lock.acquire()
	if err != nil {
		return nil, fmt.Errorf("acquiring project lock: %w", err)
	}
	defer release()

	doc, err := s.Load(projectDir)
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := s.Save(projectDir, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
