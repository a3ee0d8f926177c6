// Package contracts defines the thin interfaces the core consumes from its
// external collaborators (§1, §6): the file-system registry of projects,
// the on-disk project format, and anything else explicitly out of scope.
// The core never reaches past these — no direct knowledge of the registry
// file format or the project directory layout beyond what is named here.
package contracts

import "context"

// Project is the minimal shape the core needs from the external registry.
type Project struct {
	ID   string
	Name string
	Path string // absolute directory path
}

// ProjectRegistry is the read-only external registry of known projects
// (§6, "A registry file enumerating known projects"). The core only reads
// it at runner start and on demand; it never writes to it.
type ProjectRegistry interface {
	// Get returns the project for id, or (zero, false) if absent. An
	// unreadable registry file is a hard error, matching the "absent vs
	// unreadable" distinction in the Design Notes.
	Get(ctx context.Context, id string) (Project, bool, error)
	// List returns every known project. Used by a thin CLI wrapper; the
	// core itself operates against one project per OrchestrationRunner.
	List(ctx context.Context) ([]Project, error)
}

// TasksDocumentReader reads the project's emitted task list (§4.5,
// "Scan the task document for second-level section headings"). The core
// never knows the on-disk tasks.md convention beyond "some readable text
// document exists at a path the project tells it about".
type TasksDocumentReader interface {
	// ReadTasksDocument returns the raw document content for projectDir, or
	// (nil, false, nil) if the project has not emitted one yet (absent is
	// not an error — the agent may not have run `design`/`analyze` yet).
	ReadTasksDocument(ctx context.Context, projectDir string) ([]byte, bool, error)
}
