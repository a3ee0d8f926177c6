// Package ids centralizes identifier generation for the core. ProjectID and
// OrchestrationExecution IDs are spec-mandated UUIDs; WorkflowExecution IDs
// are ULIDs so they sort lexicographically by creation time and can double
// as the resume marker embedded in an agent prompt (see internal/executor).
package ids

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUID returns a new random UUID string, used for ProjectID and
// OrchestrationExecution.id.
func NewUUID() string {
	return uuid.NewString()
}

// ParseUUID validates that s is a well-formed UUID.
func ParseUUID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// NewWorkflowID returns a new ULID string for a WorkflowExecution. Unlike a
// UUID it is monotonic within a process, which keeps decision-log tie-breaks
// and transcript-directory discovery deterministic under concurrent spawns.
func NewWorkflowID() string {
	return ulid.Make().String()
}

// NewWorkflowIDStrict is like NewWorkflowID but reads entropy from
// crypto/rand instead of ulid's default monotonic source, for callers that
// spawn many workflows concurrently across goroutines and need collision
// resistance rather than strict monotonicity.
func NewWorkflowIDStrict() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// LooksLikeULID reports whether s has ULID shape, used when matching the
// resume marker embedded in a prompt against transcript first-lines.
func LooksLikeULID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 26 {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
