package executor

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/specflow-dev/dashboard-core/internal/transcript"
)

// TranscriptDir returns the well-known transcript directory for a project,
// derived by hashing its absolute path (§4.4: "well-known per-project
// transcript directories correlated with the project path via a stable
// hashing of that path"). Grounded on the teacher's
// internal/attractor/runstate snapshot layout, which likewise keys a
// per-run directory off a stable identifier rather than the mutable
// project path itself.
func TranscriptDir(projectDir string) (string, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), "specflow-transcripts", hex.EncodeToString(sum[:])), nil
}

// discoverer watches a project's transcript directory for the newly
// appeared transcript file whose first line embeds workflowID's resume
// marker (§4.4). Polling cadence and max wait are caller-supplied; after
// the deadline the WorkflowExecution simply remains without a sessionID
// until process exit, per spec.
type discoverer struct {
	dir        string
	workflowID string
	interval   time.Duration
	deadline   time.Duration

	mu         sync.Mutex
	sessionID  string
	transcript string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newDiscoverer(projectDir, workflowID string, interval, deadline time.Duration) *discoverer {
	dir, err := TranscriptDir(projectDir)
	if err != nil {
		dir = ""
	}
	return &discoverer{
		dir:        dir,
		workflowID: workflowID,
		interval:   interval,
		deadline:   deadline,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

func (d *discoverer) run() {
	defer close(d.doneCh)
	if d.dir == "" {
		return
	}

	deadline := time.Now().Add(d.deadline)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if found, sessionID, path := d.scanOnce(); found {
			d.mu.Lock()
			d.sessionID = sessionID
			d.transcript = path
			d.mu.Unlock()
			return
		}
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// scanOnce lists the transcript directory and checks each file's first
// line for this discoverer's marker. Once the matching transcript is
// found, its SessionID field is the agent's own notion of the conversation
// (§3, Glossary) and is what subsequent --resume calls must pass; if the
// agent's transcript format doesn't echo one, the workflow id doubles as
// the resume marker so at least a deterministic identifier is available.
func (d *discoverer) scanOnce() (found bool, sessionID, path string) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return false, "", ""
	}
	marker := markerPrefix + d.workflowID
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		candidate := filepath.Join(d.dir, entry.Name())
		msg, ok, err := transcript.FirstLine(candidate)
		if err != nil || !ok {
			continue
		}
		if !strings.HasPrefix(msg.Content, marker) {
			continue
		}
		if msg.SessionID != "" {
			return true, msg.SessionID, candidate
		}
		return true, d.workflowID, candidate
	}
	return false, "", ""
}

func (d *discoverer) stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

// result returns whatever session id / transcript path discovery found, or
// empty strings if it timed out or never started.
func (d *discoverer) result() (sessionID, transcriptPath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID, d.transcript
}
