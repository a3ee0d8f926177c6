package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ResolveTasksDocumentPath locates the tasks document inside projectDir
// matching pattern (e.g. "tasks.md", "specs/*/tasks.md"), for projects that
// name their tasks file by pattern rather than a fixed path (§4.5, §6
// "a tasks document from which BatchPlanner extracts sections and task
// identifiers"). Several matches resolve to the lexicographically first for
// determinism, matching Plan's own determinism guarantee (§8). No match is
// not an error — the agent may not have emitted the document yet.
func ResolveTasksDocumentPath(projectDir, pattern string) (string, bool, error) {
	fsys := os.DirFS(projectDir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return "", false, fmt.Errorf("resolving tasks document pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	sort.Strings(matches)
	return filepath.Join(projectDir, matches[0]), true, nil
}
