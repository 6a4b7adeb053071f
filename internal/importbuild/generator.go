// Package importbuild generates the import-build bootstrap: a CommonJS
// module that tells the framework runtime how to lazily load the page files
// and the client and plugin manifests of a packaged build.
package importbuild

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// FileName is the name of the generated bootstrap in the server output
// directory
const FileName = "importBuild.cjs"

// DefaultLoaderModule is the runtime module exposing setImporters
const DefaultLoaderModule = "vike/__internal/loadImportBuild"

// DefaultClientDir is the client output directory relative to the server
// output directory
const DefaultClientDir = "../client"

const (
	clientManifestName = "manifest.json"
	pluginManifestName = "vike.json"
)

// Generator renders the bootstrap code
type Generator struct {
	// LoaderModule is required for setImporters, DefaultLoaderModule when empty
	LoaderModule string
	// ClientDir is the client output directory, absolute or relative to the
	// server output directory. DefaultClientDir when empty.
	ClientDir string
}

// Generate returns the bootstrap source. The page files entry may be
// absolute or relative to outDirServer; every emitted path is relative to
// outDirServer, which is where the bootstrap is written.
func (g Generator) Generate(pageFilesEntry, outDirServer string) (string, error) {
	if pageFilesEntry == "" {
		return "", fmt.Errorf("page files entry is required")
	}
	if outDirServer == "" {
		return "", fmt.Errorf("server output directory is required")
	}

	loader := g.LoaderModule
	if loader == "" {
		loader = DefaultLoaderModule
	}
	clientDir := g.ClientDir
	if clientDir == "" {
		clientDir = DefaultClientDir
	}

	pageFiles, err := importPath(pageFilesEntry, outDirServer)
	if err != nil {
		return "", fmt.Errorf("page files entry: %w", err)
	}
	clientManifest, err := importPath(joinPath(clientDir, clientManifestName), outDirServer)
	if err != nil {
		return "", fmt.Errorf("client manifest: %w", err)
	}
	pluginManifest, err := importPath(joinPath(clientDir, pluginManifestName), outDirServer)
	if err != nil {
		return "", fmt.Errorf("plugin manifest: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "const { setImporters } = require(%s);\n", quote(loader))
	sb.WriteString("setImporters({\n")
	fmt.Fprintf(&sb, "  pageFiles: () => import(%s),\n", quote(pageFiles))
	fmt.Fprintf(&sb, "  clientManifest: () => require(%s),\n", quote(clientManifest))
	fmt.Fprintf(&sb, "  pluginManifest: () => require(%s),\n", quote(pluginManifest))
	sb.WriteString("});\n")
	return sb.String(), nil
}

// importPath turns p into a relative module specifier resolved from dir
func importPath(p, dir string) (string, error) {
	if filepath.IsAbs(p) {
		if !filepath.IsAbs(dir) {
			return "", fmt.Errorf("cannot relate absolute path %s to relative directory %s", p, dir)
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return "", err
		}
		p = rel
	}
	p = path.Clean(filepath.ToSlash(p))
	if !strings.HasPrefix(p, "../") && !strings.HasPrefix(p, "./") {
		p = "./" + p
	}
	return p, nil
}

func joinPath(dir, name string) string {
	if filepath.IsAbs(dir) {
		return filepath.Join(dir, name)
	}
	return path.Join(filepath.ToSlash(dir), name)
}

// quote renders s as a JavaScript string literal. JSON string syntax is
// valid JavaScript.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
