package transcript

import "time"

// Aggregate holds the derived values TranscriptStream exposes alongside the
// raw message sequence (§4.2): a de-duplicated files-modified set, elapsed
// wall-clock time, the most recent TODO list, and whether the session has
// ended.
type Aggregate struct {
	FilesModified []string
	Elapsed       time.Duration
	Todos         []Todo
	SessionEnded  bool
}

// filePathKeys are the tool-argument keys checked for a modified file path,
// covering the common shapes seen across agent CLI tool-call conventions.
var filePathKeys = []string{"path", "file", "file_path", "filepath", "target_file"}

// Aggregate computes the derived aggregate over messages. Files-modified is
// de-duplicated and derived only from tool-call entries whose tool name
// matches the reader's editor-tool allowlist (§4.2).
func (r *Reader) Aggregate(messages []Message) Aggregate {
	var agg Aggregate
	seen := map[string]bool{}

	var first, last time.Time
	for _, m := range messages {
		if first.IsZero() || m.Timestamp.Before(first) {
			first = m.Timestamp
		}
		if last.IsZero() || m.Timestamp.After(last) {
			last = m.Timestamp
		}
		if len(m.Todos) > 0 {
			agg.Todos = m.Todos
		}
		if m.IsSessionEnd {
			agg.SessionEnded = true
		}
		if m.Role != RoleTool || !r.editorToolAllowed(m.rawToolName) {
			continue
		}
		for _, key := range filePathKeys {
			v, ok := m.rawToolArgs[key]
			if !ok {
				continue
			}
			if s, ok := v.(string); ok && s != "" && !seen[s] {
				seen[s] = true
				agg.FilesModified = append(agg.FilesModified, s)
			}
		}
	}
	if !first.IsZero() && !last.IsZero() {
		agg.Elapsed = last.Sub(first)
	}
	return agg
}
