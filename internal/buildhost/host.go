// Package buildhost drives a server build with esbuild and runs the plugin
// hooks around it: config, config resolution, chunk rendering, bundle
// generation and the post-write close.
package buildhost

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxbase-eu/ssrpack/internal/metafile"
	"github.com/fluxbase-eu/ssrpack/internal/observability"
	"github.com/fluxbase-eu/ssrpack/internal/plugin"
)

// File kinds reported in a Result
const (
	KindEntry = "entry"
	KindChunk = "chunk"
	KindAsset = "asset"
)

// Options describes one build pass
type Options struct {
	Root        string
	OutDir      string
	ServerEntry string
	Mode        string
	// SSR marks the pass as the server build
	SSR bool
	// Sourcemap emits linked source maps next to the chunks
	Sourcemap bool
}

// Recorder receives build events, typically to feed metrics
type Recorder interface {
	RecordBuild(kind string, err error)
	ObservePhase(phase string, d time.Duration)
	ChunkRendered()
}

type nopRecorder struct{}

func (nopRecorder) RecordBuild(string, error)          {}
func (nopRecorder) ObservePhase(string, time.Duration) {}
func (nopRecorder) ChunkRendered()                     {}

// OutputInfo describes one written file
type OutputInfo struct {
	FileName string `json:"file_name"`
	Bytes    int    `json:"bytes"`
	Kind     string `json:"kind"`
}

// Result summarizes a finished build
type Result struct {
	OutDir   string        `json:"out_dir"`
	Plugins  []string      `json:"plugins"`
	Files    []OutputInfo  `json:"files"`
	Analysis *Analysis     `json:"analysis,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Host runs builds
type Host struct {
	opts     Options
	plugins  []plugin.Plugin
	fs       afero.Fs
	recorder Recorder
}

// Option customizes a Host
type Option func(*Host)

// WithFs sets the filesystem the bundle is written to
func WithFs(fs afero.Fs) Option {
	return func(h *Host) { h.fs = fs }
}

// WithMetrics sets the build event recorder
func WithMetrics(r Recorder) Option {
	return func(h *Host) {
		if r != nil {
			h.recorder = r
		}
	}
}

// New creates a host for the given pass and plugins
func New(opts Options, plugins []plugin.Plugin, options ...Option) *Host {
	h := &Host{
		opts:     opts,
		plugins:  plugins,
		fs:       afero.NewOsFs(),
		recorder: nopRecorder{},
	}
	for _, o := range options {
		o(h)
	}
	return h
}

// Env returns the build environment plugins are asked to join
func (h *Host) Env() plugin.BuildEnv {
	return plugin.BuildEnv{
		Command:    "build",
		Mode:       h.opts.Mode,
		IsSsrBuild: h.opts.SSR,
		SsrBuild:   h.opts.SSR,
	}
}

// Build runs the full pipeline and returns what was written
func (h *Host) Build(ctx context.Context) (result *Result, err error) {
	start := time.Now()
	kind := "client"
	if h.opts.SSR {
		kind = "server"
	}
	ctx, span := observability.StartPhaseSpan(ctx, "build", attribute.String("ssrpack.kind", kind))
	defer func() {
		h.recorder.RecordBuild(kind, err)
		observability.EndSpan(span, err)
	}()

	root, err := filepath.Abs(h.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	if h.opts.OutDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if h.opts.ServerEntry == "" {
		return nil, fmt.Errorf("server entry is required")
	}
	outDirAbs := h.opts.OutDir
	if !filepath.IsAbs(outDirAbs) {
		outDirAbs = filepath.Join(root, outDirAbs)
	}

	env := h.Env()
	active := h.activePlugins(env)

	merged := newMergedConfig()
	user := plugin.UserConfig{Root: root, OutDir: h.opts.OutDir, ServerEntry: h.opts.ServerEntry}
	for _, p := range active {
		if hook, ok := p.(plugin.ConfigHook); ok {
			merged.apply(hook.Config(user, env))
		}
	}

	resolved := plugin.ResolvedConfig{
		Root:                root,
		OutDir:              h.opts.OutDir,
		OutDirAbs:           outDirAbs,
		ServerEntry:         h.opts.ServerEntry,
		DisableAutoImporter: merged.disableAutoImporter,
	}
	for _, p := range active {
		if hook, ok := p.(plugin.ConfigResolvedHook); ok {
			if err := hook.ConfigResolved(resolved); err != nil {
				return nil, fmt.Errorf("plugin %s: config resolved: %w", p.Name(), err)
			}
		}
	}

	bundle, meta, err := h.bundle(ctx, resolved, merged)
	if err != nil {
		return nil, err
	}

	if err := h.renderChunks(active, bundle); err != nil {
		return nil, err
	}

	for _, p := range active {
		if hook, ok := p.(plugin.GenerateBundleHook); ok {
			if err := hook.GenerateBundle(ctx, bundle); err != nil {
				return nil, fmt.Errorf("plugin %s: generate bundle: %w", p.Name(), err)
			}
		}
	}

	files, err := h.write(bundle)
	if err != nil {
		return nil, err
	}

	for _, p := range active {
		if hook, ok := p.(plugin.CloseBundleHook); ok {
			phaseStart := time.Now()
			if err := hook.CloseBundle(ctx); err != nil {
				return nil, fmt.Errorf("plugin %s: close bundle: %w", p.Name(), err)
			}
			h.recorder.ObservePhase("close_bundle", time.Since(phaseStart))
		}
	}

	names := make([]string, 0, len(active))
	for _, p := range active {
		names = append(names, p.Name())
	}

	entryKey := filepath.ToSlash(filepath.Join(relOrSelf(root, outDirAbs), plugin.BuiltEntryName(h.opts.ServerEntry)))
	result = &Result{
		OutDir:   outDirAbs,
		Plugins:  names,
		Files:    files,
		Analysis: analyze(meta, entryKey),
		Duration: time.Since(start),
	}

	log.Info().
		Str("out_dir", outDirAbs).
		Int("files", len(files)).
		Dur("duration", result.Duration).
		Msg("Build complete")
	return result, nil
}

func (h *Host) activePlugins(env plugin.BuildEnv) []plugin.Plugin {
	var active []plugin.Plugin
	for _, p := range h.plugins {
		if p.Apply(env) {
			active = append(active, p)
			continue
		}
		log.Debug().Str("plugin", p.Name()).Msg("Plugin skipped for this pass")
	}
	return plugin.Sort(active)
}

// bundle runs esbuild without writing and collects its output into a Bundle
func (h *Host) bundle(ctx context.Context, cfg plugin.ResolvedConfig, merged *mergedConfig) (*plugin.Bundle, *metafile.Metafile, error) {
	start := time.Now()
	ctx, span := observability.StartPhaseSpan(ctx, "bundle")
	var err error
	defer func() {
		h.recorder.ObservePhase("bundle", time.Since(start))
		observability.EndSpan(span, err)
	}()

	entries := []api.EntryPoint{{
		InputPath:  filepath.Join(cfg.Root, filepath.FromSlash(cfg.ServerEntry)),
		OutputPath: plugin.EntryOutputName(cfg.ServerEntry),
	}}
	for _, name := range merged.sortedEntries() {
		entries = append(entries, api.EntryPoint{
			InputPath:  filepath.Join(cfg.Root, filepath.FromSlash(merged.entries[name])),
			OutputPath: name,
		})
	}

	sourcemap := api.SourceMapNone
	if h.opts.Sourcemap {
		sourcemap = api.SourceMapLinked
	}

	buildCtx, ctxErr := api.Context(api.BuildOptions{
		EntryPointsAdvanced: entries,
		Bundle:              true,
		Write:               false,
		Metafile:            true,
		Format:              api.FormatESModule,
		Platform:            api.PlatformNode,
		Target:              api.ESNext,
		Splitting:           true,
		Sourcemap:           sourcemap,
		Outdir:              cfg.OutDirAbs,
		OutExtension:        map[string]string{".js": ".mjs"},
		ChunkNames:          "chunks/[name]-[hash]",
		AssetNames:          "assets/[name]-[hash]",
		AbsWorkingDir:       cfg.Root,
		LogLevel:            api.LogLevelSilent,
		Plugins:             []api.Plugin{merged.externalPlugin()},
	})
	if ctxErr != nil {
		err = fmt.Errorf("bundle failed: %s", joinMessages(ctxErr.Errors))
		return nil, nil, err
	}
	defer buildCtx.Dispose()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			buildCtx.Cancel()
		case <-done:
		}
	}()

	result := buildCtx.Rebuild()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
		return nil, nil, err
	}
	if len(result.Errors) > 0 {
		err = fmt.Errorf("bundle failed: %s", joinMessages(result.Errors))
		return nil, nil, err
	}
	for _, msg := range result.Warnings {
		log.Warn().Str("warning", formatMessage(msg)).Msg("Bundle warning")
	}

	meta, err := metafile.Parse(result.Metafile)
	if err != nil {
		return nil, nil, err
	}
	entryPoints := meta.EntryPoints()

	bundle := plugin.NewBundle(cfg.OutDirAbs)
	for _, out := range result.OutputFiles {
		fileName, relErr := filepath.Rel(cfg.OutDirAbs, out.Path)
		if relErr != nil {
			err = fmt.Errorf("output %s outside %s: %w", out.Path, cfg.OutDirAbs, relErr)
			return nil, nil, err
		}
		f := &plugin.OutputFile{FileName: fileName, Contents: out.Contents}

		if strings.HasSuffix(out.Path, ".mjs") {
			chunk := &plugin.Chunk{FileName: filepath.ToSlash(fileName)}
			key := filepath.ToSlash(relOrSelf(cfg.Root, out.Path))
			if entry, ok := entryPoints[key]; ok {
				chunk.IsEntry = true
				chunk.FacadeModuleID = filepath.Join(cfg.Root, filepath.FromSlash(entry))
			}
			f.Chunk = chunk
		}
		bundle.Add(f)
	}

	log.Debug().Int("files", bundle.Len()).Msg("Bundled server build")
	return bundle, meta, nil
}

// renderChunks passes every chunk through the RenderChunk hooks in plugin
// order
func (h *Host) renderChunks(active []plugin.Plugin, bundle *plugin.Bundle) error {
	start := time.Now()
	defer func() { h.recorder.ObservePhase("render_chunk", time.Since(start)) }()

	for _, f := range bundle.Files() {
		if f.Chunk == nil {
			continue
		}
		original := string(f.Contents)
		code := original
		for _, p := range active {
			hook, ok := p.(plugin.RenderChunkHook)
			if !ok {
				continue
			}
			out, err := hook.RenderChunk(code, *f.Chunk)
			if err != nil {
				return fmt.Errorf("plugin %s: render chunk %s: %w", p.Name(), f.FileName, err)
			}
			code = out
		}
		f.Contents = []byte(code)
		if err := adjustSourceMap(bundle, f.FileName, original, code); err != nil {
			return err
		}
		h.recorder.ChunkRendered()
	}
	return nil
}

// write stores every bundle file below the output directory
func (h *Host) write(bundle *plugin.Bundle) ([]OutputInfo, error) {
	start := time.Now()
	defer func() { h.recorder.ObservePhase("write", time.Since(start)) }()

	files := bundle.Files()
	infos := make([]OutputInfo, 0, len(files))
	for _, f := range files {
		dest := filepath.Join(bundle.OutDir, filepath.FromSlash(f.FileName))
		if err := h.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", f.FileName, err)
		}
		if err := afero.WriteFile(h.fs, dest, f.Contents, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.FileName, err)
		}

		kind := KindAsset
		if f.Chunk != nil {
			kind = KindChunk
			if f.Chunk.IsEntry {
				kind = KindEntry
			}
		}
		infos = append(infos, OutputInfo{FileName: f.FileName, Bytes: len(f.Contents), Kind: kind})
	}
	return infos, nil
}

func relOrSelf(base, p string) string {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return p
	}
	return rel
}

func joinMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, formatMessage(msg))
	}
	return strings.Join(parts, "; ")
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}

// Clean removes the output directory of the host's pass
func (h *Host) Clean() error {
	root, err := filepath.Abs(h.opts.Root)
	if err != nil {
		return err
	}
	outDir := h.opts.OutDir
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(root, outDir)
	}
	if outDir == root || strings.HasPrefix(root, outDir+string(filepath.Separator)) {
		return fmt.Errorf("refusing to clean %s: it contains the project root", outDir)
	}
	if err := h.fs.RemoveAll(outDir); err != nil {
		return fmt.Errorf("failed to clean %s: %w", outDir, err)
	}
	return nil
}
