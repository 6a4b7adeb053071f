package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/ssrpack/cli/output"
	"github.com/fluxbase-eu/ssrpack/cli/util"
	"github.com/fluxbase-eu/ssrpack/internal/buildhost"
	"github.com/fluxbase-eu/ssrpack/internal/config"
	"github.com/fluxbase-eu/ssrpack/internal/importbuild"
	"github.com/fluxbase-eu/ssrpack/internal/observability"
	"github.com/fluxbase-eu/ssrpack/internal/plugin"
	"github.com/fluxbase-eu/ssrpack/internal/standalone"
	"github.com/fluxbase-eu/ssrpack/internal/tracer"
)

var (
	buildRoot         string
	buildOutDir       string
	buildEntry        string
	buildMode         string
	buildNative       []string
	buildConcurrency  int
	buildNoStandalone bool
	buildNoImporter   bool
	buildPageFiles    string
	buildTraceFile    string
	buildStrict       bool
	buildSourcemap    bool
	buildClean        bool
	buildMetricsFile  string
	buildAnalyze      bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the server output",
	Long: `Bundle the server entry and, in standalone mode, copy every file the
bundle needs at runtime into the output directory.

Examples:
  # Build with ssrpack.yaml or the defaults
  ssrpack build

  # Keep a native package external and print the size breakdown
  ssrpack build --native sharp --analyze

  # Reuse a trace recorded with "ssrpack trace --save"
  ssrpack build --trace-file .ssrpack/trace.json`,
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.StringVar(&buildRoot, "root", "", "project root")
	f.StringVar(&buildOutDir, "out-dir", "", "server output directory, relative to the root")
	f.StringVar(&buildEntry, "entry", "", "server entry, relative to the root")
	f.StringVar(&buildMode, "mode", "", "build mode")
	f.StringSliceVar(&buildNative, "native", nil, "extra packages to keep external and copy (repeatable)")
	f.IntVar(&buildConcurrency, "concurrency", 0, "maximum parallel file operations")
	f.BoolVar(&buildNoStandalone, "no-standalone", false, "do not copy runtime dependencies")
	f.BoolVar(&buildNoImporter, "no-import-build", false, "do not emit the import-build bootstrap")
	f.StringVar(&buildPageFiles, "page-files", "", "page files module added as an extra entry")
	f.StringVar(&buildTraceFile, "trace-file", "", "replay a recorded trace instead of resolving imports")
	f.BoolVar(&buildStrict, "strict", false, "fail on imports that cannot be resolved")
	f.BoolVar(&buildSourcemap, "sourcemap", false, "emit linked source maps")
	f.BoolVar(&buildClean, "clean", false, "remove the output directory first")
	f.StringVar(&buildMetricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	f.BoolVar(&buildAnalyze, "analyze", false, "print the size breakdown of the server entry")
}

// buildReport is the structured output of the build command
type buildReport struct {
	BuildID    string            `json:"build_id" yaml:"build_id"`
	Result     *buildhost.Result `json:"result" yaml:"result"`
	Standalone *standalone.Stats `json:"standalone,omitempty" yaml:"standalone,omitempty"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyBuildFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	buildID := uuid.New().String()
	log.Logger = log.With().Str("build_id", buildID).Logger()

	ctx := cmd.Context()
	tp, err := observability.NewTracer(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	metrics := observability.NewMetrics()
	plugins, sp := newPlugins(cfg, metrics)

	host := buildhost.New(buildhost.Options{
		Root:        cfg.Root,
		OutDir:      cfg.OutDir,
		ServerEntry: cfg.ServerEntry,
		Mode:        cfg.Mode,
		SSR:         cfg.SSR,
		Sourcemap:   cfg.Sourcemap,
	}, plugins, buildhost.WithMetrics(metrics))

	if buildClean {
		if err := host.Clean(); err != nil {
			return err
		}
	}

	result, buildErr := host.Build(ctx)
	if cfg.Metrics.File != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.File); err != nil {
			log.Warn().Err(err).Msg("Failed to write metrics")
		}
	}
	if buildErr != nil {
		return buildErr
	}

	report := buildReport{BuildID: buildID, Result: result}
	if sp != nil {
		stats := sp.Stats()
		report.Standalone = &stats
	}
	return printBuildReport(GetFormatter(), report)
}

// applyBuildFlags overrides configuration values with the flags that were
// set explicitly
func applyBuildFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = buildRoot
	}
	if flags.Changed("out-dir") {
		cfg.OutDir = buildOutDir
	}
	if flags.Changed("entry") {
		cfg.ServerEntry = buildEntry
	}
	if flags.Changed("mode") {
		cfg.Mode = buildMode
	}
	if flags.Changed("native") {
		cfg.Standalone.NativeDependencies = append(cfg.Standalone.NativeDependencies, buildNative...)
	}
	if flags.Changed("concurrency") {
		cfg.Standalone.Concurrency = buildConcurrency
	}
	if buildNoStandalone {
		cfg.Standalone.Enabled = false
	}
	if buildNoImporter {
		cfg.ImportBuild.Enabled = false
	}
	if flags.Changed("page-files") {
		cfg.ImportBuild.PageFilesSource = buildPageFiles
	}
	if flags.Changed("trace-file") {
		cfg.Standalone.TraceFile = buildTraceFile
	}
	if flags.Changed("strict") {
		cfg.Standalone.Strict = buildStrict
	}
	if flags.Changed("sourcemap") {
		cfg.Sourcemap = buildSourcemap
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.File = buildMetricsFile
	}
}

// newPlugins creates the plugins enabled by cfg. The standalone plugin is
// also returned on its own so its statistics can be reported.
func newPlugins(cfg *config.Config, metrics *observability.Metrics) ([]plugin.Plugin, *standalone.Plugin) {
	var plugins []plugin.Plugin
	var sp *standalone.Plugin

	if cfg.Standalone.Enabled {
		var t tracer.Tracer
		if cfg.Standalone.TraceFile != "" {
			t = tracer.NewStatic(nil, cfg.Standalone.TraceFile)
		} else {
			t = tracer.NewEsbuild(tracer.WithStrict(cfg.Standalone.Strict))
		}
		sp = standalone.New(standalone.Options{
			WorkspaceRoot:      cfg.WorkspaceRoot,
			Concurrency:        cfg.Standalone.Concurrency,
			NativeDependencies: cfg.Standalone.NativeDependencies,
		}, standalone.WithTracer(t), standalone.WithMetrics(metrics))
		plugins = append(plugins, sp)
	}

	if cfg.ImportBuild.Enabled {
		plugins = append(plugins, importbuild.New(importbuild.Options{
			PageFilesSource: cfg.ImportBuild.PageFilesSource,
			PageFilesEntry:  cfg.ImportBuild.PageFilesEntry,
			Generator: importbuild.Generator{
				LoaderModule: cfg.ImportBuild.LoaderModule,
				ClientDir:    cfg.ImportBuild.ClientDir,
			},
		}))
	}

	return plugins, sp
}

func printBuildReport(f *output.Formatter, report buildReport) error {
	if f.Structured() {
		return f.Print(report)
	}

	rows := make([][]string, 0, len(report.Result.Files))
	for _, file := range report.Result.Files {
		rows = append(rows, []string{file.FileName, file.Kind, util.FormatBytes(int64(file.Bytes))})
	}
	if err := f.PrintTable(output.TableData{Headers: []string{"FILE", "KIND", "SIZE"}, Rows: rows}); err != nil {
		return err
	}

	if s := report.Standalone; s != nil {
		f.PrintKeyValue("Dependencies", fmt.Sprintf("%d files (%d copied, %d symlinks, %s)",
			s.Files, s.Copied, s.Symlinks, util.FormatBytes(s.Bytes)))
	}
	if buildAnalyze && !f.Quiet {
		output.DisplayAnalysis(f.Writer, report.Result.Analysis, IsDebug())
	}
	f.PrintSuccess(fmt.Sprintf("Built %s in %s (%d files)",
		report.Result.OutDir, util.FormatDuration(report.Result.Duration), len(report.Result.Files)))
	return nil
}
