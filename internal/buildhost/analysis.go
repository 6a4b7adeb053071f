package buildhost

import (
	"sort"

	"github.com/fluxbase-eu/ssrpack/internal/metafile"
)

// FileAnalysis is one input file's share of an output chunk
type FileAnalysis struct {
	Path          string  `json:"path"`
	Bytes         int     `json:"bytes"`
	BytesInOutput int     `json:"bytes_in_output"`
	Percentage    float64 `json:"percentage"`
	ImportCount   int     `json:"import_count"`
}

// Analysis breaks the server entry chunk down by input file
type Analysis struct {
	Output          string         `json:"output"`
	TotalBytes      int            `json:"total_bytes"`
	ExternalImports []string       `json:"external_imports"`
	InputFiles      []FileAnalysis `json:"input_files"`
}

// analyze returns the breakdown of the output with the given metafile key,
// or nil when the metafile has no such output
func analyze(meta *metafile.Metafile, outputKey string) *Analysis {
	output, ok := meta.Outputs[outputKey]
	if !ok {
		return nil
	}

	result := &Analysis{
		Output:     outputKey,
		TotalBytes: output.Bytes,
	}

	seen := make(map[string]bool)
	for _, imp := range output.Imports {
		if imp.External && !seen[imp.Path] {
			seen[imp.Path] = true
			result.ExternalImports = append(result.ExternalImports, imp.Path)
		}
	}

	for inputPath, contrib := range output.Inputs {
		inputInfo, ok := meta.Inputs[inputPath]
		if !ok {
			continue
		}

		percentage := 0.0
		if result.TotalBytes > 0 {
			percentage = float64(contrib.BytesInOutput) / float64(result.TotalBytes) * 100
		}

		result.InputFiles = append(result.InputFiles, FileAnalysis{
			Path:          inputPath,
			Bytes:         inputInfo.Bytes,
			BytesInOutput: contrib.BytesInOutput,
			Percentage:    percentage,
			ImportCount:   len(inputInfo.Imports),
		})
	}

	// Largest contribution first, path as tie breaker
	sort.Slice(result.InputFiles, func(i, j int) bool {
		a, b := result.InputFiles[i], result.InputFiles[j]
		if a.BytesInOutput != b.BytesInOutput {
			return a.BytesInOutput > b.BytesInOutput
		}
		return a.Path < b.Path
	})
	sort.Strings(result.ExternalImports)

	return result
}
