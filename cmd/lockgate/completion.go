package main

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(lockgate completion bash)

  # To load for each session (Linux):
  $ lockgate completion bash > ~/.local/share/bash-completion/completions/lockgate

  # To load for each session (macOS with Homebrew):
  $ lockgate completion bash > $(brew --prefix)/etc/bash_completion.d/lockgate

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # Generate completion:
  $ lockgate completion zsh > ~/.zsh/completions/_lockgate
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ lockgate completion fish > ~/.config/fish/completions/lockgate.fish

PowerShell:
  PS> lockgate completion powershell >> $PROFILE
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
