package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fluxbase-eu/ssrpack/cli/util"
	"github.com/fluxbase-eu/ssrpack/internal/buildhost"
)

const defaultAnalysisFiles = 10

// DisplayAnalysis prints the size breakdown of the server entry chunk
func DisplayAnalysis(w io.Writer, result *buildhost.Analysis, showDetails bool) {
	if result == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "\n=== Entry Analysis: %s ===\n", result.Output)
	_, _ = fmt.Fprintf(w, "Total size: %s\n", util.FormatBytes(int64(result.TotalBytes)))

	if len(result.ExternalImports) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternal imports (resolved at runtime):")
		for _, imp := range result.ExternalImports {
			_, _ = fmt.Fprintf(w, "  - %s\n", imp)
		}
	}

	if len(result.InputFiles) == 0 {
		_, _ = fmt.Fprintln(w)
		return
	}

	_, _ = fmt.Fprintln(w, "\nBreakdown:")
	maxFiles := defaultAnalysisFiles
	if showDetails || maxFiles > len(result.InputFiles) {
		maxFiles = len(result.InputFiles)
	}

	maxPathLen := 0
	for _, file := range result.InputFiles[:maxFiles] {
		if n := len(util.TruncatePath(file.Path, 50)); n > maxPathLen {
			maxPathLen = n
		}
	}

	for _, file := range result.InputFiles[:maxFiles] {
		displayPath := util.TruncatePath(file.Path, 50)
		padding := strings.Repeat(" ", maxPathLen-len(displayPath))
		_, _ = fmt.Fprintf(w, "  %s%s  %8s  %5.1f%%\n",
			displayPath,
			padding,
			util.FormatBytes(int64(file.BytesInOutput)),
			file.Percentage,
		)
	}
	if remaining := len(result.InputFiles) - maxFiles; remaining > 0 {
		_, _ = fmt.Fprintf(w, "  ... and %d more files\n", remaining)
	}
	_, _ = fmt.Fprintln(w)
}
