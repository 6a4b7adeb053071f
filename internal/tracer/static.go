package tracer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Static replays a trace recorded earlier, in the JSON layout written by
// WriteFile. It lets a closure be materialized without re-running
// resolution, for example from a trace produced on another machine.
type Static struct {
	fs   afero.Fs
	path string
}

// NewStatic creates a tracer that reads its result from path
func NewStatic(fs afero.Fs, path string) *Static {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Static{fs: fs, path: path}
}

// Trace loads the recorded result. Every requested entry file must be part
// of it, otherwise the recording belongs to a different build.
func (s *Static) Trace(ctx context.Context, files []string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %w", s.path, err)
	}
	out := NewResult()
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to parse trace %s: %w", s.path, err)
	}
	if out.Reasons == nil {
		out.Reasons = make(map[string]Reason)
	}

	cwd := opts.ProcessCwd
	if cwd == "" {
		cwd = opts.Base
	}
	for _, f := range files {
		abs := f
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(cwd, f)
		}
		rel, err := relativeTo(opts.Base, abs)
		if err != nil {
			return nil, err
		}
		if _, ok := out.Reasons[rel]; !ok && !containsString(out.FileList, rel) {
			return nil, fmt.Errorf("trace %s does not contain entry %s", s.path, rel)
		}
	}

	out.Sort()
	return out, nil
}

// WriteFile stores a result so it can be replayed by Static
func WriteFile(fs afero.Fs, path string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write trace %s: %w", path, err)
	}
	return nil
}
