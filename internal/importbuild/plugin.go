package importbuild

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/ssrpack/internal/plugin"
)

// Name identifies the plugin in logs and hook ordering
const Name = "ssrpack:import-build"

// DefaultPageFilesEntry is the output name of the page files entry
const DefaultPageFilesEntry = "entries/pageFiles"

// ImportStatement is prepended to the server entry chunk by the auto importer
const ImportStatement = "import './" + FileName + "'\n"

// Options configures the import-build plugin
type Options struct {
	// PageFilesSource is the page files module, relative to the project
	// root. When set it is added as an extra entry point.
	PageFilesSource string
	// PageFilesEntry is the output name of the page files entry, relative to
	// the server output directory and without extension
	PageFilesEntry string
	Generator      Generator
}

// Plugin emits the import-build bootstrap into the server output
type Plugin struct {
	opts Options

	mu       sync.Mutex
	resolved plugin.ResolvedConfig
	ready    bool
}

// New creates the import-build plugin
func New(opts Options) *Plugin {
	if opts.PageFilesEntry == "" {
		opts.PageFilesEntry = DefaultPageFilesEntry
	}
	return &Plugin{opts: opts}
}

func (p *Plugin) Name() string { return Name }

// Enforce runs the plugin after the others, once the auto importer flag is
// final
func (p *Plugin) Enforce() plugin.Order { return plugin.OrderPost }

// Apply limits the plugin to the server build pass
func (p *Plugin) Apply(env plugin.BuildEnv) bool {
	return env.IsServerBuild()
}

// Config adds the page files entry point
func (p *Plugin) Config(_ plugin.UserConfig, _ plugin.BuildEnv) plugin.ConfigPatch {
	if p.opts.PageFilesSource == "" {
		return plugin.ConfigPatch{}
	}
	return plugin.ConfigPatch{
		Entries: map[string]string{p.opts.PageFilesEntry: p.opts.PageFilesSource},
	}
}

func (p *Plugin) ConfigResolved(cfg plugin.ResolvedConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = cfg
	p.ready = true
	return nil
}

// RenderChunk injects the bootstrap import into the server entry unless
// another plugin took that over
func (p *Plugin) RenderChunk(code string, chunk plugin.Chunk) (string, error) {
	p.mu.Lock()
	cfg, ready := p.resolved, p.ready
	p.mu.Unlock()

	if !ready || cfg.DisableAutoImporter || !chunk.IsEntry {
		return code, nil
	}
	entryID := filepath.Join(cfg.Root, filepath.FromSlash(cfg.ServerEntry))
	if chunk.FacadeModuleID != entryID || strings.Contains(code, ImportStatement) {
		return code, nil
	}
	return ImportStatement + code, nil
}

// GenerateBundle renders the bootstrap and adds it to the bundle
func (p *Plugin) GenerateBundle(_ context.Context, bundle *plugin.Bundle) error {
	p.mu.Lock()
	cfg, ready := p.resolved, p.ready
	p.mu.Unlock()
	if !ready {
		return fmt.Errorf("import-build plugin used before configuration was resolved")
	}

	outDir := bundle.OutDir
	if outDir == "" {
		outDir = cfg.OutDirAbs
	}

	entry := p.opts.PageFilesEntry + ".mjs"
	if _, ok := bundle.Get(entry); !ok && p.opts.PageFilesSource != "" {
		return fmt.Errorf("page files entry %s missing from bundle", entry)
	}

	code, err := p.opts.Generator.Generate(filepath.Join(outDir, filepath.FromSlash(entry)), outDir)
	if err != nil {
		return fmt.Errorf("failed to generate %s: %w", FileName, err)
	}
	bundle.Emit(FileName, []byte(code))

	log.Debug().Str("file", FileName).Str("page_files", entry).Msg("Emitted import-build bootstrap")
	return nil
}
