package config

import "errors"

// Error taxonomy kinds (§7). Each is a distinct sentinel classified with
// errors.Is; none of them double as both "absent" and "unreadable" — callers
// that need that distinction return (zero, nil) for absent, (zero, err) for
// unreadable, never a sentinel for the former.
var (
	// ErrConfigInvalid marks a synchronously-rejected request: a missing
	// project, an invalid recovery action, or an out-of-range knob.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrStateCorrupt marks persisted state that fails JSON parsing outright.
	ErrStateCorrupt = errors.New("state corrupt")

	// ErrStateSemantic marks state that parses but fails semantic
	// validation; PersistentState auto-repairs this on Load (§4.1) rather
	// than surfacing it to the caller, but the sentinel is still used
	// internally to drive that repair path.
	ErrStateSemantic = errors.New("state semantic violation")

	// ErrTransientAgent marks a subprocess that failed once: non-zero exit,
	// timeout, or unreachable transcript.
	ErrTransientAgent = errors.New("transient agent failure")

	// ErrAgentProtocol marks a structured-output schema violation or a
	// payload exceeding configured limits. Treated as ErrTransientAgent by
	// callers per §7.
	ErrAgentProtocol = errors.New("agent protocol violation")

	// ErrBudgetExceeded marks cumulative cost passing a configured cap.
	ErrBudgetExceeded = errors.New("budget exceeded")
)
