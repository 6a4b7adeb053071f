// Package metafile decodes the esbuild metafile JSON structure.
package metafile

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Metafile represents the esbuild metafile JSON structure
type Metafile struct {
	Inputs  map[string]Input  `json:"inputs"`
	Outputs map[string]Output `json:"outputs"`
}

// Input represents an input file in the metafile
type Input struct {
	Bytes   int      `json:"bytes"`
	Imports []Import `json:"imports"`
	Format  string   `json:"format,omitempty"` // "cjs" or "esm"
}

// Import represents an import in the metafile
type Import struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// Output represents an output file in the metafile
type Output struct {
	Bytes      int                     `json:"bytes"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []Import                `json:"imports"`
	Exports    []string                `json:"exports"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
}

// InputContrib represents the contribution of an input to an output
type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// Parse decodes the metafile string returned by api.Build
func Parse(raw string) (*Metafile, error) {
	var meta Metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}
	return &meta, nil
}

// IsFileInput reports whether an input key names a file on disk. esbuild
// prefixes inputs from other namespaces with "<namespace>:".
func IsFileInput(key string) bool {
	if strings.HasPrefix(key, "(disabled):") {
		return false
	}
	i := strings.Index(key, ":")
	if i < 0 {
		return true
	}
	// Windows drive letters ("C:/...") are files
	return i == 1 && len(key) > 2 && (key[2] == '/' || key[2] == '\\')
}

// EntryPoints maps each output key to the entry point it was generated for.
// Outputs without an entry point are left out.
func (m *Metafile) EntryPoints() map[string]string {
	entries := make(map[string]string)
	for out, o := range m.Outputs {
		if o.EntryPoint != "" {
			entries[normalize(out)] = normalize(o.EntryPoint)
		}
	}
	return entries
}

// FileInputs returns the sorted keys of all inputs that are files
func (m *Metafile) FileInputs() []string {
	var files []string
	for key := range m.Inputs {
		if IsFileInput(key) {
			files = append(files, key)
		}
	}
	sort.Strings(files)
	return files
}

func normalize(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}
