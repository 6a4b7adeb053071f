package standalone

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/afero"
)

// workspaceMarkers identify a monorepo root on their own
var workspaceMarkers = []string{"pnpm-workspace.yaml", "lerna.json", "rush.json"}

// SearchForWorkspaceRoot walks up from root and returns the first directory
// that looks like a monorepo root: one holding a workspace marker file or a
// package.json with a "workspaces" field. When none is found the nearest
// package root is returned.
func SearchForWorkspaceRoot(fs afero.Fs, root string) string {
	start := filepath.Clean(root)
	dir := start
	for {
		if isWorkspaceRoot(fs, dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return searchForPackageRoot(fs, start)
		}
		dir = parent
	}
}

// searchForPackageRoot returns the nearest directory at or above start that
// holds a package.json, or start when there is none
func searchForPackageRoot(fs afero.Fs, start string) string {
	dir := start
	for {
		if exists, _ := afero.Exists(fs, filepath.Join(dir, "package.json")); exists {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func isWorkspaceRoot(fs afero.Fs, dir string) bool {
	for _, marker := range workspaceMarkers {
		if exists, _ := afero.Exists(fs, filepath.Join(dir, marker)); exists {
			return true
		}
	}

	data, err := afero.ReadFile(fs, filepath.Join(dir, "package.json"))
	if err != nil {
		return false
	}
	var manifest struct {
		Workspaces json.RawMessage `json:"workspaces"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return false
	}
	return len(manifest.Workspaces) > 0 && string(manifest.Workspaces) != "null"
}
