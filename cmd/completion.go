package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/trobanga/oaiharvest/internal/services"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate a shell completion script for oaiharvest.

Job IDs complete for harvest status, harvest resume and job delete.

Bash:
  $ source <(oaiharvest completion bash)

Zsh:
  $ oaiharvest completion zsh > "${fpath[1]}/_oaiharvest"

Fish:
  $ oaiharvest completion fish > ~/.config/fish/completions/oaiharvest.fish

PowerShell:
  PS> oaiharvest completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := cmd.Root()
		switch args[0] {
		case "bash":
			return root.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return root.GenZshCompletion(os.Stdout)
		case "fish":
			return root.GenFishCompletion(os.Stdout, true)
		default:
			return root.GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

// completeJobIDs offers the IDs of saved jobs for commands taking a job ID
func completeJobIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	config, err := services.LoadConfig(cfgFile)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	jobIDs, err := services.ListAllJobs(config.JobsDir)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	matches := make([]string, 0, len(jobIDs))
	for _, id := range jobIDs {
		if strings.HasPrefix(id, toComplete) {
			matches = append(matches, id)
		}
	}
	return matches, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
