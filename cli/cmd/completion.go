package cmd

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for ssrpack.

To load completions:

Bash:
  $ source <(ssrpack completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ ssrpack completion bash > /etc/bash_completion.d/ssrpack
  # macOS:
  $ ssrpack completion bash > $(brew --prefix)/etc/bash_completion.d/ssrpack

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ ssrpack completion zsh > "${fpath[1]}/_ssrpack"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ ssrpack completion fish | source

  # To load completions for each session, execute once:
  $ ssrpack completion fish > ~/.config/fish/completions/ssrpack.fish

PowerShell:
  PS> ssrpack completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> ssrpack completion powershell > ssrpack.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
	},
}
