package cmd

import (
	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display the version, commit hash, and build date of ssrpack.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := GetFormatter()
		if f.Structured() {
			return f.Print(versionInfo{Version: Version, Commit: Commit, BuildDate: BuildDate})
		}
		f.PrintKeyValue("ssrpack", Version)
		f.PrintKeyValue("Commit", Commit)
		f.PrintKeyValue("Build Date", BuildDate)
		return nil
	},
}
