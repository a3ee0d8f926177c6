package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrUnreadable marks a transcript file that exists but cannot be read
// (permissions, I/O error) — distinct from "absent", which is not an error
// (§4.2, Design Notes).
var ErrUnreadable = errors.New("transcript unreadable")

// Warning is a single non-fatal event raised while reading a transcript: a
// malformed line was skipped (§4.2: "malformed lines are skipped with a
// single warning entry and do not break the stream").
type Warning struct {
	LineNumber int
	Reason     string
}

// Reader parses a transcript file into messages. It holds no file handle
// between calls — every Read call opens, scans, and closes, which is what
// makes a second reader from offset 0 see exactly the same sequence as the
// first (§4.2: "restartable").
type Reader struct {
	EditorToolAllowlist []string
}

// NewReader builds a Reader with the given editor-tool allowlist, used to
// derive the files-modified set from tool-call entries (§4.2).
func NewReader(editorToolAllowlist []string) *Reader {
	return &Reader{EditorToolAllowlist: editorToolAllowlist}
}

// Result is the outcome of a one-shot Read: the (possibly tail-limited)
// messages plus any warnings encountered, and whether a session-end marker
// was read anywhere in the file (§4.2: "Finite when ... otherwise treated as
// potentially infinite"). Whether a writer still holds the file open is not
// checked.
type Result struct {
	Messages []Message
	Warnings []Warning
	Finite   bool
}

// Read parses transcriptPath in full, returning at most the last tailLimit
// messages (tailLimit <= 0 means unbounded). A missing file returns an
// empty, non-error Result — the agent may not have created it yet.
func (r *Reader) Read(transcriptPath string, tailLimit int) (Result, error) {
	f, err := os.Open(transcriptPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrUnreadable, transcriptPath, err)
	}
	defer func() { _ = f.Close() }()

	var (
		messages []Message
		warnings []Warning
		finite   bool
	)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		msg, err := parseLine([]byte(line))
		if err != nil {
			warnings = append(warnings, Warning{LineNumber: lineNo, Reason: err.Error()})
			continue
		}
		messages = append(messages, msg)
		if msg.IsSessionEnd {
			finite = true
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrUnreadable, transcriptPath, err)
	}

	if tailLimit > 0 && len(messages) > tailLimit {
		messages = messages[len(messages)-tailLimit:]
	}

	return Result{Messages: messages, Warnings: warnings, Finite: finite}, nil
}

// FirstLine reads and parses only the first non-blank line of path, used by
// the executor's session-id discovery to cheaply check a candidate
// transcript's resume marker without reading the whole file (§4.4). ok is
// false if the file is absent, empty, or its first line cannot be parsed.
func FirstLine(path string) (Message, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		msg, err := parseLine([]byte(line))
		if err != nil {
			return Message{}, false, nil
		}
		return msg, true, nil
	}
	return Message{}, false, nil
}

// editorToolAllowed reports whether toolName is in the allowlist, used to
// build the files-modified set (§4.2). Allowlist entries may be literal
// names ("edit") or glob patterns ("mcp__*__write"), matched case-
// insensitively so a project's editor tool names resolve the same way
// regardless of the agent's own capitalization convention.
func (r *Reader) editorToolAllowed(toolName string) bool {
	lowerTool := strings.ToLower(toolName)
	for _, allowed := range r.EditorToolAllowlist {
		lowerAllowed := strings.ToLower(allowed)
		if lowerAllowed == lowerTool {
			return true
		}
		if ok, err := doublestar.Match(lowerAllowed, lowerTool); err == nil && ok {
			return true
		}
	}
	return false
}
