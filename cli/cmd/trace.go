package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/ssrpack/cli/output"
	"github.com/fluxbase-eu/ssrpack/internal/plugin"
	"github.com/fluxbase-eu/ssrpack/internal/standalone"
	"github.com/fluxbase-eu/ssrpack/internal/tracer"
)

var (
	traceSave string
	traceAll  bool
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Show the runtime files of an existing build",
	Long: `Trace the built server entry and list the files a standalone build
would copy next to it. Nothing is written unless --save is given.

Examples:
  ssrpack trace
  ssrpack trace -o json
  ssrpack trace --save .ssrpack/trace.json`,
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringVar(&traceSave, "save", "", "write the trace to a file for \"build --trace-file\"")
	traceCmd.Flags().BoolVar(&traceAll, "all", false, "include the bundle files themselves")
}

type traceReport struct {
	WorkspaceRoot string   `json:"workspace_root" yaml:"workspace_root"`
	Entry         string   `json:"entry" yaml:"entry"`
	Files         []string `json:"files" yaml:"files"`
	Warnings      []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runTrace(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return err
	}
	workspaceRoot := cfg.WorkspaceRoot
	if workspaceRoot == "" {
		workspaceRoot = standalone.SearchForWorkspaceRoot(fs, root)
	}
	paths, err := standalone.NewPathContext(root, cfg.OutDir, workspaceRoot)
	if err != nil {
		return err
	}

	entry := filepath.Join(paths.OutDirAbs, plugin.BuiltEntryName(cfg.ServerEntry))
	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("built entry %s not found, run \"ssrpack build\" first", entry)
	}

	t := tracer.NewEsbuild(tracer.WithFs(fs), tracer.WithStrict(cfg.Standalone.Strict))
	native := standalone.NewExternalSet(cfg.Standalone.NativeDependencies...).Packages()
	result, err := standalone.NewCloser(t, paths, native...).Trace(cmd.Context(), entry)
	if err != nil {
		return err
	}

	if traceSave != "" {
		if err := tracer.WriteFile(fs, traceSave, result); err != nil {
			return err
		}
	}

	files := result.FileList
	if !traceAll {
		files = standalone.FilterClosure(result, paths.RelativeDistDir)
	}
	return printTraceReport(GetFormatter(), traceReport{
		WorkspaceRoot: paths.WorkspaceRoot,
		Entry:         entry,
		Files:         files,
		Warnings:      result.Warnings,
	}, result)
}

func printTraceReport(f *output.Formatter, report traceReport, result *tracer.Result) error {
	if f.Structured() {
		return f.Print(report)
	}

	rows := make([][]string, 0, len(report.Files))
	for _, file := range report.Files {
		reason := result.Reasons[file]
		types := make([]string, 0, len(reason.Type))
		for _, t := range reason.Type {
			types = append(types, string(t))
		}
		rows = append(rows, []string{file, strings.Join(types, ",")})
	}
	if err := f.PrintTable(output.TableData{Headers: []string{"FILE", "REASON"}, Rows: rows}); err != nil {
		return err
	}
	for _, w := range report.Warnings {
		f.PrintWarning("unresolved import " + w)
	}
	return nil
}
