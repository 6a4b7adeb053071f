package standalone

import (
	"regexp"
	"strings"

	"github.com/fluxbase-eu/ssrpack/internal/plugin"
)

// ImportBuildStatement loads the import-build bootstrap before any other
// module level code of the server entry runs
const ImportBuildStatement = "import './importBuild.cjs'\n"

// shimHeader brings in the helpers the polyfills are built from. The aliases
// keep them from clashing with bindings of the chunk itself.
const shimHeader = "import { dirname as dirname2 } from 'path';\n" +
	"import { fileURLToPath as fileURLToPath2 } from 'url';\n" +
	"import { createRequire as createRequire2 } from 'module';\n"

const (
	requirePolyfill  = "var require = createRequire2(import.meta.url);\n"
	filenamePolyfill = "var __filename = fileURLToPath2(import.meta.url);\n"
	dirnamePolyfill  = "var __dirname = dirname2(__filename);\n"
)

// bindingPattern finds assignments to the CommonJS globals. It is a text
// heuristic: a longer identifier ending in one of the names also matches, and
// a binding introduced without "=" (destructuring, function parameters) does
// not.
var bindingPattern = regexp.MustCompile(`(require ?=)|(__filename ?=)|(__dirname ?=)`)

// PostProcessor rewrites emitted server chunks
type PostProcessor struct {
	serverEntryID string
}

// NewPostProcessor creates a post-processor for the server entry module with
// the given absolute path
func NewPostProcessor(serverEntryID string) *PostProcessor {
	return &PostProcessor{serverEntryID: serverEntryID}
}

// Bindings reports which CommonJS globals code already assigns
type Bindings struct {
	Require  bool
	Filename bool
	Dirname  bool
}

// ScanBindings looks for existing assignments to require, __filename and
// __dirname
func ScanBindings(code string) Bindings {
	var b Bindings
	for _, m := range bindingPattern.FindAllStringSubmatchIndex(code, -1) {
		switch {
		case m[2] >= 0:
			b.Require = true
		case m[4] >= 0:
			b.Filename = true
		case m[6] >= 0:
			b.Dirname = true
		}
	}
	return b
}

// RenderChunk prepends the import-build bootstrap to the server entry chunk
// and a polyfill for each CommonJS global the chunk does not define.
// Running it on its own output returns that output unchanged.
func (p *PostProcessor) RenderChunk(code string, chunk plugin.Chunk) string {
	if p.isServerEntry(chunk) && !strings.Contains(code, ImportBuildStatement) {
		code = ImportBuildStatement + code
	}

	has := ScanBindings(code)

	var sb strings.Builder
	if !strings.Contains(code, shimHeader) {
		sb.WriteString(shimHeader)
	}
	if !has.Require {
		sb.WriteString(requirePolyfill)
	}
	if !has.Filename {
		sb.WriteString(filenamePolyfill)
	}
	if !has.Dirname {
		sb.WriteString(dirnamePolyfill)
	}
	if sb.Len() == 0 {
		return code
	}
	return sb.String() + code
}

func (p *PostProcessor) isServerEntry(chunk plugin.Chunk) bool {
	return p.serverEntryID != "" && chunk.FacadeModuleID == p.serverEntryID
}
