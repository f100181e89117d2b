package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories",
	Long:  `List the repositories of a project`,
	Example: `% treeline repo list --project payment-platform
gateway , Alice , alice@example.com , 2026-05-11 09:16:33.98 +0000 UTC
meta , Alice , alice@example.com , 2026-05-11 09:15:04.123 +0000 UTC`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		repos, err := client.listRepositories(ctx, treelineFlags.project.name)
		if err != nil {
			wrapFatalln("download repo list", err)
			return
		}
		for _, rd := range repos {
			if err := applyRepoTemplate(rd); err != nil {
				wrapFatalln("render repo", err)
				return
			}
		}
	},
}

func init() {
	requiredFlags := []string{addProjectFlag(repoListCmd)}

	for _, flag := range requiredFlags {
		if err := repoListCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	repoCmd.AddCommand(repoListCmd)
}
