package standalone

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrSymlinkTarget is returned when a link target cannot be rebased onto the
// stripped output layout
var ErrSymlinkTarget = errors.New("symlink target cannot be adjusted")

// PathContext holds the per-build paths. It is computed once when the
// configuration resolves and never modified afterwards.
type PathContext struct {
	// Root is the absolute project root
	Root string
	// OutDir is the build output directory as configured, possibly relative to Root
	OutDir string
	// OutDirAbs is OutDir resolved against Root
	OutDirAbs string
	// WorkspaceRoot is the monorepo root containing Root
	WorkspaceRoot string
	// RelativeRoot is Root relative to WorkspaceRoot, slash separated, "" when equal
	RelativeRoot string
	// RelativeDistDir is the first segment of OutDir, relative to WorkspaceRoot
	RelativeDistDir string
}

// NewPathContext derives the path context for a build
func NewPathContext(root, outDir, workspaceRoot string) (PathContext, error) {
	if root == "" {
		return PathContext{}, fmt.Errorf("project root is required")
	}
	if outDir == "" {
		return PathContext{}, fmt.Errorf("output directory is required")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return PathContext{}, fmt.Errorf("failed to resolve root: %w", err)
	}
	if workspaceRoot == "" {
		workspaceRoot = root
	}
	workspaceRoot, err = filepath.Abs(workspaceRoot)
	if err != nil {
		return PathContext{}, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	relativeRoot, err := ToWorkspaceRelative(root, root, workspaceRoot)
	if err != nil {
		return PathContext{}, err
	}
	if relativeRoot == ".." || strings.HasPrefix(relativeRoot, "../") {
		return PathContext{}, fmt.Errorf("project root %s is outside workspace root %s", root, workspaceRoot)
	}
	if relativeRoot == "." {
		relativeRoot = ""
	}

	outDirAbs := outDir
	distDir := outDir
	if !filepath.IsAbs(outDir) {
		outDirAbs = filepath.Join(root, outDir)
		distDir = filepath.Join(root, firstSegment(outDir))
	}
	relativeDistDir, err := ToWorkspaceRelative(distDir, root, workspaceRoot)
	if err != nil {
		return PathContext{}, err
	}

	return PathContext{
		Root:            root,
		OutDir:          outDir,
		OutDirAbs:       outDirAbs,
		WorkspaceRoot:   workspaceRoot,
		RelativeRoot:    relativeRoot,
		RelativeDistDir: relativeDistDir,
	}, nil
}

// InDistDir reports whether a workspace relative path lies under the
// distribution directory
func (p PathContext) InDistDir(rel string) bool {
	return underDir(rel, p.RelativeDistDir)
}

// ToWorkspaceRelative returns p relative to workspaceRoot in slash form.
// Relative inputs are resolved against root first.
func ToWorkspaceRelative(p, root, workspaceRoot string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	rel, err := filepath.Rel(workspaceRoot, p)
	if err != nil {
		return "", fmt.Errorf("failed to make %s relative to %s: %w", p, workspaceRoot, err)
	}
	return filepath.ToSlash(rel), nil
}

// ToAbsolute joins a slash separated relative path onto base
func ToAbsolute(rel, base string) string {
	return filepath.Join(base, filepath.FromSlash(rel))
}

// StripNestedRootPrefix removes the nested project root from a workspace
// relative path. It returns the stripped path and the number of path
// segments removed, which is the number of "/" in the removed prefix.
// Paths outside relativeRoot come back unchanged with a zero count.
func StripNestedRootPrefix(p, relativeRoot string) (string, int) {
	if relativeRoot == "" {
		return p, 0
	}
	prefix := strings.TrimSuffix(relativeRoot, "/") + "/"
	if !strings.HasPrefix(p, prefix) {
		return p, 0
	}
	return strings.TrimPrefix(p, prefix), strings.Count(prefix, "/")
}

// AdjustSymlinkTarget drops the first segments components of a relative link
// target. Links copied out from a nested project root sit segments
// directories closer to the workspace level, so that many leading ".."
// components are no longer needed. Anything else in their place means the
// link cannot be rebased and ErrSymlinkTarget is returned.
func AdjustSymlinkTarget(target string, segments int) (string, error) {
	if segments <= 0 {
		return target, nil
	}
	slashed := strings.ReplaceAll(target, "\\", "/")
	if path.IsAbs(slashed) || filepath.IsAbs(target) {
		return target, nil
	}

	parts := strings.Split(slashed, "/")
	if len(parts) <= segments {
		return "", fmt.Errorf("%w: %q has fewer than %d components", ErrSymlinkTarget, target, segments+1)
	}
	for _, part := range parts[:segments] {
		if part != ".." {
			return "", fmt.Errorf("%w: %q does not start with %d parent references", ErrSymlinkTarget, target, segments)
		}
	}
	return strings.Join(parts[segments:], "/"), nil
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(filepath.ToSlash(p), "./")
	if i := strings.Index(p, "/"); i >= 0 {
		return p[:i]
	}
	return p
}

func underDir(p, dir string) bool {
	if dir == "" || dir == "." {
		return false
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
