// Package plugin defines the hook contract between the build host and the
// build-time plugins.
//
// A plugin only has to implement Plugin. Every other hook is optional and is
// discovered by type assertion, so a plugin implements exactly the hooks it
// cares about.
package plugin

import (
	"context"
	"path"
	"sort"
	"strings"
)

// Order controls where a plugin runs relative to the others
type Order int

const (
	OrderNormal Order = iota
	OrderPre
	OrderPost
)

// BuildEnv describes the build pass a plugin is asked to join.
// Both SSR flags exist because hosts disagree on the field name.
type BuildEnv struct {
	Command    string
	Mode       string
	IsSsrBuild bool
	SsrBuild   bool
}

// IsServerBuild reports whether the pass produces the server runtime artifact
func (e BuildEnv) IsServerBuild() bool {
	return e.IsSsrBuild || e.SsrBuild
}

// UserConfig is the configuration the host starts from before plugins patch it
type UserConfig struct {
	Root        string
	OutDir      string
	ServerEntry string
}

// ConfigPatch is returned by Config hooks and merged by the host
type ConfigPatch struct {
	// External lists module specifiers that must never be inlined
	External []string

	// NoExternal reports whether a specifier must be inlined. A nil
	// predicate leaves the host default in place.
	NoExternal func(specifier string) bool

	// Entries adds extra entry points, keyed by output name
	Entries map[string]string

	// DisableAutoImporter stops the import-build plugin from injecting its
	// own bootstrap import into the server entry
	DisableAutoImporter bool
}

// ResolvedConfig is the final configuration handed to ConfigResolved hooks
type ResolvedConfig struct {
	Root                string
	OutDir              string
	OutDirAbs           string
	ServerEntry         string
	DisableAutoImporter bool
}

// Chunk identifies one emitted output chunk
type Chunk struct {
	// FileName is relative to the output directory, slash separated
	FileName string

	// FacadeModuleID is the absolute path of the entry module the chunk was
	// generated for, empty for shared chunks
	FacadeModuleID string

	IsEntry bool
}

// Plugin is implemented by every build plugin
type Plugin interface {
	Name() string

	// Apply reports whether the plugin participates in the given pass
	Apply(env BuildEnv) bool
}

// Enforcer lets a plugin request to run before or after the others
type Enforcer interface {
	Enforce() Order
}

// ConfigHook patches the configuration before it is resolved
type ConfigHook interface {
	Config(cfg UserConfig, env BuildEnv) ConfigPatch
}

// ConfigResolvedHook receives the final configuration
type ConfigResolvedHook interface {
	ConfigResolved(cfg ResolvedConfig) error
}

// RenderChunkHook rewrites the code of an emitted chunk
type RenderChunkHook interface {
	RenderChunk(code string, chunk Chunk) (string, error)
}

// GenerateBundleHook may inspect or add files before they are written
type GenerateBundleHook interface {
	GenerateBundle(ctx context.Context, bundle *Bundle) error
}

// CloseBundleHook runs after the bundle has been written to disk
type CloseBundleHook interface {
	CloseBundle(ctx context.Context) error
}

// Sort orders plugins by their Enforce value, keeping registration order
// within the same group
func Sort(plugins []Plugin) []Plugin {
	rank := func(p Plugin) int {
		e, ok := p.(Enforcer)
		if !ok {
			return 1
		}
		switch e.Enforce() {
		case OrderPre:
			return 0
		case OrderPost:
			return 2
		default:
			return 1
		}
	}

	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rank(sorted[i]) < rank(sorted[j])
	})
	return sorted
}

// EntryOutputName returns the output name (without extension) the host uses
// for a server entry: the base name up to its first dot.
// "server/index.ts" and "server/index.node.ts" both become "index".
func EntryOutputName(entry string) string {
	base := path.Base(strings.ReplaceAll(entry, "\\", "/"))
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	return base
}

// BuiltEntryName is the file name of the built server entry
func BuiltEntryName(entry string) string {
	return EntryOutputName(entry) + ".mjs"
}
