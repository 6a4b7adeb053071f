package buildhost

import (
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/fluxbase-eu/ssrpack/internal/plugin"
)

// mergedConfig is the union of every Config hook patch
type mergedConfig struct {
	external            map[string]struct{}
	noExternal          []func(string) bool
	entries             map[string]string
	disableAutoImporter bool
}

func newMergedConfig() *mergedConfig {
	return &mergedConfig{
		external: make(map[string]struct{}),
		entries:  make(map[string]string),
	}
}

func (c *mergedConfig) apply(patch plugin.ConfigPatch) {
	for _, spec := range patch.External {
		c.external[spec] = struct{}{}
	}
	if patch.NoExternal != nil {
		c.noExternal = append(c.noExternal, patch.NoExternal)
	}
	for name, source := range patch.Entries {
		c.entries[name] = source
	}
	c.disableAutoImporter = c.disableAutoImporter || patch.DisableAutoImporter
}

// isExternal decides whether a bare specifier stays an import in the output.
// Listed externals always win, including subpaths of a listed package. Any
// other package is inlined when a no-external predicate claims it and kept
// external otherwise.
func (c *mergedConfig) isExternal(specifier string) bool {
	if _, ok := c.external[specifier]; ok {
		return true
	}
	if _, ok := c.external[packageName(specifier)]; ok && !strings.HasPrefix(specifier, "node:") {
		return true
	}
	for _, inline := range c.noExternal {
		if inline(specifier) {
			return false
		}
	}
	return true
}

// sortedEntries returns the extra entry names in a stable order
func (c *mergedConfig) sortedEntries() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// externalPlugin resolves bare specifiers against the merged configuration
func (c *mergedConfig) externalPlugin() api.Plugin {
	return api.Plugin{
		Name: "ssrpack-external",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^[^./]`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Kind == api.ResolveEntryPoint || !isBareSpecifier(args.Path) {
						return api.OnResolveResult{}, nil
					}
					if c.isExternal(args.Path) {
						return api.OnResolveResult{Path: args.Path, External: true}, nil
					}
					return api.OnResolveResult{}, nil
				})
		},
	}
}

func isBareSpecifier(spec string) bool {
	if spec == "" || strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") {
		return false
	}
	// Windows absolute paths
	return !(len(spec) > 2 && spec[1] == ':' && (spec[2] == '\\' || spec[2] == '/'))
}

func packageName(specifier string) string {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
