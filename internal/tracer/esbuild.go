package tracer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fluxbase-eu/ssrpack/internal/metafile"
)

// assetExtensions are loaded by Node at runtime rather than parsed as code
var assetExtensions = []string{".node", ".wasm"}

var (
	// bundledRequireCall is how esbuild emits a require of an external
	// package from inlined CommonJS code in ESM output
	bundledRequireCall = regexp.MustCompile(`\b__require\(`)
	// localRequireBinding is a require declared by the output itself, such
	// as the createRequire polyfill. It hides require calls from esbuild.
	localRequireBinding = regexp.MustCompile(`\b(var|let|const)\s+require\s*=`)
)

// Esbuild traces files by running an in-memory esbuild bundle with a
// metafile and reading back every input that was reached
type Esbuild struct {
	fs         afero.Fs
	conditions []string
	strict     bool
}

// EsbuildOption configures the esbuild tracer
type EsbuildOption func(*Esbuild)

// WithFs sets the filesystem used to expand symlinks and find package
// manifests. It must reflect the disk esbuild reads from.
func WithFs(fs afero.Fs) EsbuildOption {
	return func(e *Esbuild) {
		e.fs = fs
	}
}

// WithConditions sets the package.json export conditions used when resolving
func WithConditions(conditions ...string) EsbuildOption {
	return func(e *Esbuild) {
		e.conditions = conditions
	}
}

// WithStrict makes unresolved imports fail the trace. By default they are
// reported in Result.Warnings and left out, since optional dependencies
// are often guarded by try/catch at runtime.
func WithStrict(strict bool) EsbuildOption {
	return func(e *Esbuild) {
		e.strict = strict
	}
}

// NewEsbuild creates an esbuild backed tracer
func NewEsbuild(opts ...EsbuildOption) *Esbuild {
	e := &Esbuild{
		fs:         afero.NewOsFs(),
		conditions: []string{"node", "import", "require"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trace implements Tracer
func (e *Esbuild) Trace(ctx context.Context, files []string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Base == "" {
		return nil, fmt.Errorf("trace base directory is required")
	}
	cwd := opts.ProcessCwd
	if cwd == "" {
		cwd = opts.Base
	}

	entries := make([]string, 0, len(files))
	initial := make(map[string]bool, len(files))
	for _, f := range files {
		abs := f
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(cwd, abs)
		}
		entries = append(entries, abs)
		rel, err := relativeTo(opts.Base, abs)
		if err != nil {
			return nil, err
		}
		initial[rel] = true
	}

	loaders := make(map[string]api.Loader, len(assetExtensions))
	for _, ext := range assetExtensions {
		loaders[ext] = api.LoaderFile
	}

	missing := &missingImports{}
	plugins := []api.Plugin{e.outputRequires(entries)}
	if !e.strict {
		plugins = append(plugins, missing.plugin())
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:      entries,
		Bundle:           true,
		Write:            false,
		Metafile:         true,
		Format:           api.FormatESModule,
		Platform:         api.PlatformNode,
		Target:           api.ESNext,
		Conditions:       e.conditions,
		PreserveSymlinks: true,
		Loader:           loaders,
		// Required by the file loader; nothing is written
		Outdir:        filepath.Join(opts.Base, ".ssrpack-trace"),
		AbsWorkingDir: cwd,
		LogLevel:      api.LogLevelSilent,
		Plugins:       plugins,
	})

	if len(result.Errors) > 0 {
		var errMsgs []string
		for _, msg := range result.Errors {
			errMsgs = append(errMsgs, formatMessage(msg))
		}
		return nil, fmt.Errorf("trace failed: %s", strings.Join(errMsgs, "; "))
	}
	for _, msg := range result.Warnings {
		log.Debug().Str("warning", formatMessage(msg)).Msg("Trace warning")
	}

	meta, err := metafile.Parse(result.Metafile)
	if err != nil {
		return nil, err
	}

	rebase := func(key string) (string, error) {
		return relativeTo(opts.Base, filepath.Join(cwd, filepath.FromSlash(key)))
	}

	parents := make(map[string][]string)
	for key, input := range meta.Inputs {
		if !metafile.IsFileInput(key) {
			continue
		}
		for _, imp := range input.Imports {
			if imp.External || !metafile.IsFileInput(imp.Path) {
				continue
			}
			parents[imp.Path] = append(parents[imp.Path], key)
		}
	}

	out := NewResult()
	for _, key := range meta.FileInputs() {
		rel, err := rebase(key)
		if err != nil {
			return nil, err
		}

		typ := ReasonResolve
		switch {
		case initial[rel]:
			typ = ReasonInitial
		case isAsset(rel):
			typ = ReasonAsset
		}

		var parentRel string
		if ps := parents[key]; len(ps) > 0 {
			if parentRel, err = rebase(ps[0]); err != nil {
				return nil, err
			}
		}

		if err := e.addResolved(out, opts.Base, rel, typ, parentRel); err != nil {
			return nil, err
		}
	}

	if err := e.addPackageDirs(out, opts.Base, opts.Packages); err != nil {
		return nil, err
	}
	e.addPackageManifests(out, opts.Base)
	out.Warnings = missing.list()
	out.Sort()
	return out, nil
}

// addResolved records the real path of rel plus every link crossed on the
// way to it
func (e *Esbuild) addResolved(out *Result, base, rel string, typ ReasonType, parent string) error {
	realPath, links, err := resolveLinks(e.fs, base, rel)
	for _, link := range links {
		out.Add(link, ReasonSymlink, parent)
	}
	if errors.Is(err, errOutsideBase) {
		log.Debug().Str("file", rel).Msg("Skipping traced file outside the workspace")
		return nil
	}
	if err != nil {
		return err
	}
	out.Add(realPath, typ, parent)
	return nil
}

// addPackageDirs adds every file of the reached packages named in packages
func (e *Esbuild) addPackageDirs(out *Result, base string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(packages))
	for _, name := range packages {
		wanted[name] = true
	}

	seen := make(map[string]bool)
	for _, file := range append([]string(nil), out.FileList...) {
		if out.Reasons[file].Has(ReasonSymlink) {
			continue
		}
		root, ok := packageRoot(file)
		if !ok || seen[root] || !wanted[packageNameOf(root)] {
			continue
		}
		seen[root] = true

		dir := filepath.Join(base, filepath.FromSlash(root))
		err := afero.Walk(e.fs, dir, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				// Nested dependencies are separate packages, resolved on their own
				if p != dir && info.Name() == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			rel, err := relativeTo(base, p)
			if err != nil {
				return err
			}
			if _, traced := out.Reasons[rel]; !traced {
				out.Add(rel, ReasonAsset, file)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk package %s: %w", root, err)
		}
		log.Debug().Str("package", root).Msg("Traced whole package directory")
	}
	return nil
}

// outputRequires lets esbuild see the require calls of previously built
// output below the entry directories. Bundled requires are turned back into
// plain calls and local require bindings renamed so the calls stay unbound.
func (e *Esbuild) outputRequires(entries []string) api.Plugin {
	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		dirs = append(dirs, filepath.Dir(entry))
	}

	return api.Plugin{
		Name: "ssrpack-trace-output",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: `\.[cm]?js$`, Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					if !withinAny(args.Path, dirs) {
						return api.OnLoadResult{}, nil
					}
					data, err := afero.ReadFile(e.fs, args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					code := rewriteOutputRequires(string(data))
					return api.OnLoadResult{
						Contents:   &code,
						Loader:     api.LoaderJS,
						ResolveDir: filepath.Dir(args.Path),
					}, nil
				})
		},
	}
}

func rewriteOutputRequires(code string) string {
	code = localRequireBinding.ReplaceAllString(code, "$1 __ssrpackRequire =")
	return bundledRequireCall.ReplaceAllString(code, "require(")
}

func withinAny(p string, dirs []string) bool {
	for _, dir := range dirs {
		rel, err := filepath.Rel(dir, p)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addPackageManifests adds the package.json of every node_modules package a
// traced file belongs to, since Node reads it to resolve the package
func (e *Esbuild) addPackageManifests(out *Result, base string) {
	seen := make(map[string]bool)
	for _, file := range append([]string(nil), out.FileList...) {
		if out.Reasons[file].Has(ReasonSymlink) {
			continue
		}
		root, ok := packageRoot(file)
		if !ok || seen[root] {
			continue
		}
		seen[root] = true

		manifest := path.Join(root, "package.json")
		if _, err := e.fs.Stat(filepath.Join(base, filepath.FromSlash(manifest))); err != nil {
			continue
		}
		out.Add(manifest, ReasonResolve, file)
	}
}

func relativeTo(base, abs string) (string, error) {
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", fmt.Errorf("failed to make %s relative to %s: %w", abs, base, err)
	}
	return filepath.ToSlash(rel), nil
}

func isAsset(file string) bool {
	for _, ext := range assetExtensions {
		if strings.HasSuffix(file, ext) {
			return true
		}
	}
	return false
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}

// resolveGuard marks the nested resolution of missingImports so that it
// does not recurse into itself
type resolveGuard struct{}

// missingImports externalizes imports esbuild cannot resolve and remembers
// them
type missingImports struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func (m *missingImports) plugin() api.Plugin {
	return api.Plugin{
		Name: "ssrpack-trace-missing",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Kind == api.ResolveEntryPoint || args.PluginData == (resolveGuard{}) {
						return api.OnResolveResult{}, nil
					}
					res := build.Resolve(args.Path, api.ResolveOptions{
						Importer:   args.Importer,
						Namespace:  args.Namespace,
						ResolveDir: args.ResolveDir,
						Kind:       args.Kind,
						PluginData: resolveGuard{},
					})
					if len(res.Errors) == 0 {
						return api.OnResolveResult{}, nil
					}
					m.add(args.Path)
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				})
		},
	}
}

func (m *missingImports) add(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paths == nil {
		m.paths = make(map[string]struct{})
	}
	if _, ok := m.paths[p]; !ok {
		log.Debug().Str("import", p).Msg("Unresolved import left out of trace")
	}
	m.paths[p] = struct{}{}
}

func (m *missingImports) list() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]string, 0, len(m.paths))
	for p := range m.paths {
		list = append(list, p)
	}
	return list
}
