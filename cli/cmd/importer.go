package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/ssrpack/internal/importbuild"
)

var importerCmd = &cobra.Command{
	Use:   "importer [page-files-entry]",
	Short: "Print the import-build bootstrap",
	Long: `Print the importBuild.cjs bootstrap the build would emit. The page files
entry defaults to the configured import_build.page_files_entry inside the
server output directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		outDir := cfg.OutDir
		if !filepath.IsAbs(outDir) {
			root, err := filepath.Abs(cfg.Root)
			if err != nil {
				return err
			}
			outDir = filepath.Join(root, outDir)
		}

		entry := cfg.ImportBuild.PageFilesEntry + ".mjs"
		if len(args) == 1 {
			entry = args[0]
		}
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(outDir, filepath.FromSlash(entry))
		}

		gen := importbuild.Generator{
			LoaderModule: cfg.ImportBuild.LoaderModule,
			ClientDir:    cfg.ImportBuild.ClientDir,
		}
		code, err := gen.Generate(entry, outDir)
		if err != nil {
			return err
		}

		f := GetFormatter()
		if f.Structured() {
			return f.Print(map[string]string{"file": importbuild.FileName, "code": code})
		}
		f.PrintRaw(code)
		return nil
	},
}
