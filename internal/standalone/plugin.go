// Package standalone turns a server build into a self-contained directory.
//
// The plugin keeps Node built-ins and native packages external, polyfills
// the CommonJS globals in ESM output, and after the bundle is written
// copies the traced runtime dependency closure of the server entry into the
// output directory.
package standalone

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/ssrpack/internal/observability"
	"github.com/fluxbase-eu/ssrpack/internal/plugin"
	"github.com/fluxbase-eu/ssrpack/internal/tracer"
)

// Name identifies the plugin in logs and hook ordering
const Name = "ssrpack:standalone"

// ErrNotResolved is returned by CloseBundle when the configuration never
// resolved
var ErrNotResolved = errors.New("standalone plugin used before configuration was resolved")

// Options configures the standalone plugin
type Options struct {
	// ServerEntry overrides the configured server entry
	ServerEntry string
	// WorkspaceRoot skips workspace detection when set
	WorkspaceRoot string
	// Concurrency caps the parallel file operations, DefaultConcurrency when zero
	Concurrency int
	// NativeDependencies are extra packages that must stay external
	NativeDependencies []string
}

// Plugin is the standalone build plugin
type Plugin struct {
	opts     Options
	fs       afero.Fs
	tracer   tracer.Tracer
	recorder Recorder
	external ExternalSet

	mu          sync.Mutex
	paths       PathContext
	resolved    bool
	post        *PostProcessor
	serverEntry string
	stats       Stats
}

// traceSizer is implemented by recorders that also track trace sizes
type traceSizer interface {
	SetTraceSize(traced, closure int)
}

// Option customizes a Plugin
type Option func(*Plugin)

// WithFs sets the filesystem used for workspace detection and
// materialization
func WithFs(fs afero.Fs) Option {
	return func(p *Plugin) { p.fs = fs }
}

// WithTracer replaces the file tracer
func WithTracer(t tracer.Tracer) Option {
	return func(p *Plugin) { p.tracer = t }
}

// WithMetrics sets the recorder receiving materialization events
func WithMetrics(r Recorder) Option {
	return func(p *Plugin) { p.recorder = r }
}

// New creates the standalone plugin
func New(opts Options, options ...Option) *Plugin {
	p := &Plugin{
		opts:     opts,
		fs:       afero.NewOsFs(),
		recorder: nopRecorder{},
		external: NewExternalSet(opts.NativeDependencies...),
	}
	for _, o := range options {
		o(p)
	}
	if p.tracer == nil {
		p.tracer = tracer.NewEsbuild(tracer.WithFs(p.fs))
	}
	return p
}

func (p *Plugin) Name() string { return Name }

// Enforce runs the plugin before the host's own transforms
func (p *Plugin) Enforce() plugin.Order { return plugin.OrderPre }

// Apply limits the plugin to the server build pass
func (p *Plugin) Apply(env plugin.BuildEnv) bool {
	return env.IsServerBuild()
}

// External returns the specifiers kept out of the bundle
func (p *Plugin) External() ExternalSet {
	return p.external
}

// Config keeps built-ins and native packages external, inlines everything
// else, and takes over the import-build bootstrap
func (p *Plugin) Config(_ plugin.UserConfig, _ plugin.BuildEnv) plugin.ConfigPatch {
	external := p.external
	return plugin.ConfigPatch{
		External: external.List(),
		NoExternal: func(specifier string) bool {
			return !external.Contains(specifier)
		},
		DisableAutoImporter: true,
	}
}

// ConfigResolved derives the per-build paths
func (p *Plugin) ConfigResolved(cfg plugin.ResolvedConfig) error {
	serverEntry := cfg.ServerEntry
	if p.opts.ServerEntry != "" {
		serverEntry = p.opts.ServerEntry
	}

	workspaceRoot := p.opts.WorkspaceRoot
	if workspaceRoot == "" {
		root, err := filepath.Abs(cfg.Root)
		if err != nil {
			return err
		}
		workspaceRoot = SearchForWorkspaceRoot(p.fs, root)
	}

	paths, err := NewPathContext(cfg.Root, cfg.OutDir, workspaceRoot)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = paths
	p.serverEntry = serverEntry
	p.post = NewPostProcessor(filepath.Join(paths.Root, filepath.FromSlash(serverEntry)))
	p.resolved = true

	log.Debug().
		Str("root", paths.Root).
		Str("workspace_root", paths.WorkspaceRoot).
		Str("out_dir", paths.OutDirAbs).
		Str("server_entry", serverEntry).
		Msg("Resolved standalone paths")
	return nil
}

// Paths returns the resolved path context
func (p *Plugin) Paths() (PathContext, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paths, p.resolved
}

// RenderChunk applies the ESM post-processing to every emitted chunk
func (p *Plugin) RenderChunk(code string, chunk plugin.Chunk) (string, error) {
	p.mu.Lock()
	post := p.post
	p.mu.Unlock()

	if post == nil {
		post = NewPostProcessor("")
	}
	return post.RenderChunk(code, chunk), nil
}

// CloseBundle traces the built server entry and materializes its closure
// into the output directory
func (p *Plugin) CloseBundle(ctx context.Context) error {
	p.mu.Lock()
	paths, resolved, serverEntry := p.paths, p.resolved, p.serverEntry
	p.mu.Unlock()
	if !resolved {
		return ErrNotResolved
	}

	builtEntry := filepath.Join(paths.OutDirAbs, plugin.BuiltEntryName(serverEntry))

	files, err := p.traceClosure(ctx, paths, builtEntry)
	if err != nil {
		return err
	}

	stats, err := p.materialize(ctx, paths, files)
	p.mu.Lock()
	p.stats = stats
	p.mu.Unlock()
	if err != nil {
		return err
	}

	log.Info().
		Int("files", stats.Files).
		Int("copied", stats.Copied).
		Int("symlinks", stats.Symlinks).
		Str("out_dir", paths.OutDirAbs).
		Msg("Standalone output ready")
	return nil
}

func (p *Plugin) traceClosure(ctx context.Context, paths PathContext, builtEntry string) ([]string, error) {
	start := time.Now()
	ctx, span := observability.StartPhaseSpan(ctx, "trace", attribute.String("ssrpack.entry", builtEntry))

	var files []string
	result, err := NewCloser(p.tracer, paths, p.external.Packages()...).Trace(ctx, builtEntry)
	if err == nil {
		files = FilterClosure(result, paths.RelativeDistDir)
		if sizer, ok := p.recorder.(traceSizer); ok {
			sizer.SetTraceSize(len(result.FileList), len(files))
		}
	}
	observability.SetPhaseResult(ctx, len(files), time.Since(start), err)
	observability.EndSpan(span, err)
	return files, err
}

func (p *Plugin) materialize(ctx context.Context, paths PathContext, files []string) (Stats, error) {
	start := time.Now()
	ctx, span := observability.StartPhaseSpan(ctx, "materialize", attribute.String("ssrpack.out_dir", paths.OutDirAbs))

	m := NewMaterializer(p.fs, paths,
		WithConcurrency(p.opts.Concurrency),
		WithRecorder(p.recorder),
	)
	stats, err := m.Materialize(ctx, files)
	observability.SetPhaseResult(ctx, stats.Files, time.Since(start), err)
	observability.EndSpan(span, err)
	return stats, err
}

// Stats returns the statistics of the last CloseBundle run
func (p *Plugin) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
