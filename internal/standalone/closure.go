package standalone

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/ssrpack/internal/tracer"
)

// Closer computes the runtime dependency closure of a built entry
type Closer struct {
	tracer   tracer.Tracer
	paths    PathContext
	packages []string
}

// NewCloser creates a closer tracing relative to the workspace root. The
// named packages are traced as whole directories once reached.
func NewCloser(t tracer.Tracer, paths PathContext, packages ...string) *Closer {
	return &Closer{tracer: t, paths: paths, packages: packages}
}

// Closure traces entryFile and returns every file it needs at runtime, in
// workspace relative slash form and sorted. Traced entries and files under
// the distribution directory are left out: they are already part of the
// bundle.
func (c *Closer) Closure(ctx context.Context, entryFile string) ([]string, error) {
	result, err := c.Trace(ctx, entryFile)
	if err != nil {
		return nil, err
	}
	return FilterClosure(result, c.paths.RelativeDistDir), nil
}

// Trace returns the unfiltered trace of entryFile, relative to the
// workspace root
func (c *Closer) Trace(ctx context.Context, entryFile string) (*tracer.Result, error) {
	if c.tracer == nil {
		return nil, tracer.ErrNoTracer
	}

	result, err := c.tracer.Trace(ctx, []string{entryFile}, tracer.Options{
		Base:       c.paths.WorkspaceRoot,
		ProcessCwd: c.paths.WorkspaceRoot,
		Packages:   c.packages,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing %s: %w", entryFile, err)
	}
	return result, nil
}

// FilterClosure selects the files of a trace result that must be copied
func FilterClosure(result *tracer.Result, relativeDistDir string) []string {
	seen := make(map[string]struct{}, len(result.FileList))
	files := make([]string, 0, len(result.FileList))

	for _, file := range result.FileList {
		if result.Reasons[file].Has(tracer.ReasonInitial) {
			continue
		}
		normalized := strings.ReplaceAll(file, "\\", "/")
		if underDir(normalized, relativeDistDir) {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		files = append(files, normalized)
	}

	sort.Strings(files)
	log.Debug().
		Int("traced", len(result.FileList)).
		Int("closure", len(files)).
		Msg("Computed dependency closure")
	return files
}
