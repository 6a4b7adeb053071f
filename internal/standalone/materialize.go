package standalone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency caps the number of files materialized at once. It keeps
// the process well below common open file limits.
const DefaultConcurrency = 10

// ErrSymlinkUnsupported is returned when a traced symlink has to be recreated
// on a filesystem that cannot create links
var ErrSymlinkUnsupported = errors.New("filesystem does not support symlinks")

// Recorder receives materialization events, typically to feed metrics
type Recorder interface {
	FileCopied(bytes int64)
	SymlinkCreated()
	Deduplicated()
	ObserveMaterialize(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) FileCopied(int64)                 {}
func (nopRecorder) SymlinkCreated()                  {}
func (nopRecorder) Deduplicated()                    {}
func (nopRecorder) ObserveMaterialize(time.Duration) {}

// Stats summarizes one materialization run
type Stats struct {
	Files        int   `json:"files"`
	Copied       int   `json:"copied"`
	Symlinks     int   `json:"symlinks"`
	Deduplicated int   `json:"deduplicated"`
	Bytes        int64 `json:"bytes"`
}

type statsCounter struct {
	copied, symlinks, deduplicated, bytes atomic.Int64
}

func (c *statsCounter) snapshot(files int) Stats {
	return Stats{
		Files:        files,
		Copied:       int(c.copied.Load()),
		Symlinks:     int(c.symlinks.Load()),
		Deduplicated: int(c.deduplicated.Load()),
		Bytes:        c.bytes.Load(),
	}
}

// Materializer reproduces a dependency closure below the output directory
type Materializer struct {
	fs          afero.Fs
	paths       PathContext
	concurrency int
	recorder    Recorder
}

// MaterializerOption configures a Materializer
type MaterializerOption func(*Materializer)

// WithConcurrency sets the number of files processed at once
func WithConcurrency(n int) MaterializerOption {
	return func(m *Materializer) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithRecorder sets the event recorder
func WithRecorder(r Recorder) MaterializerOption {
	return func(m *Materializer) {
		if r != nil {
			m.recorder = r
		}
	}
}

// NewMaterializer creates a materializer writing through fs
func NewMaterializer(fs afero.Fs, paths PathContext, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		fs:          fs,
		paths:       paths,
		concurrency: DefaultConcurrency,
		recorder:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize copies or links every workspace relative file into the output
// directory. A destination is written at most once per call. The first error
// cancels the files not yet started and is returned.
func (m *Materializer) Materialize(ctx context.Context, files []string) (Stats, error) {
	start := time.Now()
	registry := NewRegistry()
	counter := &statsCounter{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return m.materializeFile(registry, counter, file)
		})
	}

	err := g.Wait()
	m.recorder.ObserveMaterialize(time.Since(start))
	stats := counter.snapshot(len(files))

	log.Debug().
		Int("files", stats.Files).
		Int("copied", stats.Copied).
		Int("symlinks", stats.Symlinks).
		Int("deduplicated", stats.Deduplicated).
		Dur("duration", time.Since(start)).
		Msg("Materialized dependency closure")

	return stats, err
}

func (m *Materializer) materializeFile(registry *Registry, counter *statsCounter, relativeFile string) error {
	source := ToAbsolute(relativeFile, m.paths.WorkspaceRoot)

	// pnpm monorepos trace files below the nested project root; they are
	// laid out as if the project root were the workspace root
	target, segments := relativeFile, 0
	if !m.paths.InDistDir(relativeFile) {
		target, segments = StripNestedRootPrefix(relativeFile, m.paths.RelativeRoot)
	}
	dest := ToAbsolute(target, m.paths.OutDirAbs)

	if !registry.Claim(dest) {
		counter.deduplicated.Add(1)
		m.recorder.Deduplicated()
		return nil
	}

	if err := m.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}

	if link, ok := m.readlink(source); ok {
		adjusted, err := AdjustSymlinkTarget(link, segments)
		if err != nil {
			return fmt.Errorf("failed to relocate symlink %s: %w", relativeFile, err)
		}
		if err := m.symlink(adjusted, dest); err != nil {
			// Another writer produced the same link first
			if errors.Is(err, os.ErrExist) {
				return nil
			}
			return fmt.Errorf("failed to create symlink %s: %w", target, err)
		}
		counter.symlinks.Add(1)
		m.recorder.SymlinkCreated()
		return nil
	}

	n, err := copyFile(m.fs, source, dest)
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", relativeFile, err)
	}
	counter.copied.Add(1)
	counter.bytes.Add(n)
	m.recorder.FileCopied(n)
	return nil
}

// readlink returns the target of source if it is a symbolic link
func (m *Materializer) readlink(source string) (string, bool) {
	reader, ok := m.fs.(afero.LinkReader)
	if !ok {
		return "", false
	}
	target, err := reader.ReadlinkIfPossible(source)
	if err != nil || target == "" {
		return "", false
	}
	return target, true
}

func (m *Materializer) symlink(target, dest string) error {
	linker, ok := m.fs.(afero.Linker)
	if !ok {
		return ErrSymlinkUnsupported
	}
	return linker.SymlinkIfPossible(target, dest)
}

func copyFile(fs afero.Fs, source, dest string) (int64, error) {
	in, err := fs.Open(source)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return n, err
}
