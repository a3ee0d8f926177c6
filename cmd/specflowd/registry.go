package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/specflow-dev/dashboard-core/internal/batch"
	"github.com/specflow-dev/dashboard-core/internal/contracts"
)

// fileRegistry is the file-system registry contracts.ProjectRegistry asks
// for (§6: "A registry file enumerating known projects with {id, name,
// path}"). It is read once at construction and never written by the core —
// only a thin CLI wrapper like this one ever touches it.
type fileRegistry struct {
	projects map[string]contracts.Project
	ordered  []contracts.Project
}

type registryFile struct {
	Projects []contracts.Project `json:"projects"`
}

// loadRegistry reads path, or (empty registry, nil) if path does not exist
// (absent vs unreadable, Design Notes).
func loadRegistry(path string) (*fileRegistry, error) {
	r := &fileRegistry{projects: map[string]contracts.Project{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading registry %s: %w", path, err)
	}
	var rf registryFile
	if err := json.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	for _, p := range rf.Projects {
		r.projects[p.ID] = p
		r.ordered = append(r.ordered, p)
	}
	return r, nil
}

func (r *fileRegistry) Get(ctx context.Context, id string) (contracts.Project, bool, error) {
	p, ok := r.projects[id]
	return p, ok, nil
}

func (r *fileRegistry) List(ctx context.Context) ([]contracts.Project, error) {
	return r.ordered, nil
}

// fileTasksDoc reads a project's tasks document from inside its working
// directory (§6 "Project file-system contract": "a tasks document from
// which BatchPlanner extracts sections and task identifiers"). When pattern
// is set it resolves via batch.ResolveTasksDocumentPath (glob), for projects
// that name the file by convention rather than a fixed path; otherwise it
// reads relPath literally. An absent file is not an error.
type fileTasksDoc struct {
	relPath string
	pattern string
}

func (t fileTasksDoc) ReadTasksDocument(ctx context.Context, projectDir string) ([]byte, bool, error) {
	path := filepath.Join(projectDir, t.relPath)
	if t.pattern != "" {
		resolved, ok, err := batch.ResolveTasksDocumentPath(projectDir, t.pattern)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		path = resolved
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading tasks document %s: %w", path, err)
	}
	return b, true, nil
}
