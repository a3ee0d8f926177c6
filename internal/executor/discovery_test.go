package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTranscriptDirIsStableForSamePath(t *testing.T) {
	a, err := TranscriptDir("/tmp/project-a")
	require.NoError(t, err)
	b, err := TranscriptDir("/tmp/project-a")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := TranscriptDir("/tmp/project-b")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestDiscovererFindsMatchingTranscriptBySessionID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.jsonl"),
		[]byte(`{"role":"user","content":"specflow-workflow:not-this-one"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match.jsonl"),
		[]byte(`{"role":"user","content":"specflow-workflow:wf-1 do the thing","session_id":"sess-42"}`+"\n"), 0o644))

	d := &discoverer{dir: dir, workflowID: "wf-1"}
	found, sessionID, path := d.scanOnce()
	require.True(t, found)
	require.Equal(t, "sess-42", sessionID)
	require.Equal(t, filepath.Join(dir, "match.jsonl"), path)
}

func TestDiscovererFallsBackToWorkflowIDWithoutSessionID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match.jsonl"),
		[]byte(`{"role":"user","content":"specflow-workflow:wf-2 prompt"}`+"\n"), 0o644))

	d := &discoverer{dir: dir, workflowID: "wf-2"}
	found, sessionID, _ := d.scanOnce()
	require.True(t, found)
	require.Equal(t, "wf-2", sessionID)
}

func TestDiscovererStopsAfterDeadlineWithoutMatch(t *testing.T) {
	d := newDiscoverer(t.TempDir(), "wf-3", 5*time.Millisecond, 30*time.Millisecond)
	d.dir = t.TempDir() // exists but never receives a matching transcript
	start := time.Now()
	d.run()
	require.Less(t, time.Since(start), 2*time.Second)
	sessionID, path := d.result()
	require.Empty(t, sessionID)
	require.Empty(t, path)
}
