package tracer

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// maxLinkHops bounds symlink resolution, matching the Linux ELOOP limit
const maxLinkHops = 40

var errOutsideBase = errors.New("path resolves outside the trace base")

// resolveLinks walks rel component by component below base and follows every
// symbolic link it meets. It returns the real path and the links crossed, all
// relative to base. Filesystems without link support return rel unchanged.
func resolveLinks(fsys afero.Fs, base, rel string) (string, []string, error) {
	lstater, ok := fsys.(afero.Lstater)
	if !ok {
		return rel, nil, nil
	}
	reader, ok := fsys.(afero.LinkReader)
	if !ok {
		return rel, nil, nil
	}

	var links []string
	remaining := splitPath(rel)
	cur := ""
	hops := 0

	for len(remaining) > 0 {
		next := path.Join(cur, remaining[0])
		remaining = remaining[1:]

		abs := filepath.Join(base, filepath.FromSlash(next))
		fi, lstatCalled, err := lstater.LstatIfPossible(abs)
		if err != nil {
			return "", nil, fmt.Errorf("failed to stat %s: %w", next, err)
		}
		if !lstatCalled || fi.Mode()&os.ModeSymlink == 0 {
			cur = next
			continue
		}

		hops++
		if hops > maxLinkHops {
			return "", nil, fmt.Errorf("too many levels of symbolic links resolving %s", rel)
		}

		target, err := reader.ReadlinkIfPossible(abs)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read link %s: %w", next, err)
		}
		links = append(links, next)

		var resolved string
		if filepath.IsAbs(target) {
			r, err := filepath.Rel(base, target)
			if err != nil {
				return "", nil, fmt.Errorf("failed to relativize link %s: %w", next, err)
			}
			resolved = filepath.ToSlash(r)
		} else {
			resolved = path.Join(path.Dir(next), filepath.ToSlash(target))
		}

		// The target may itself cross links, so walk it again from the top
		remaining = append(splitPath(resolved), remaining...)
		cur = ""
	}

	if cur == ".." || strings.HasPrefix(cur, "../") {
		return "", links, errOutsideBase
	}
	return cur, links, nil
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}

// packageRoot returns the node_modules package directory containing rel
func packageRoot(rel string) (string, bool) {
	const marker = "node_modules/"

	idx := strings.LastIndex(rel, marker)
	if idx < 0 || (idx > 0 && rel[idx-1] != '/') {
		return "", false
	}
	rest := rel[idx+len(marker):]
	parts := strings.Split(rest, "/")

	n := 1
	if strings.HasPrefix(parts[0], "@") {
		n = 2
	}
	if len(parts) <= n {
		return "", false
	}
	return rel[:idx+len(marker)] + strings.Join(parts[:n], "/"), true
}

// packageNameOf returns the package name of a directory returned by
// packageRoot
func packageNameOf(root string) string {
	const marker = "node_modules/"
	return root[strings.LastIndex(root, marker)+len(marker):]
}
