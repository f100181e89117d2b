package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/pkg/model"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List the commits of a repository",
	Long:  `List the commits of a repository, newest first.`,
	Example: `% treeline log --project payment-platform --repo gateway --max-commits 2
3 , raise upstream timeouts , Alice , alice@example.com , 2026-05-12 10:02:11.4 +0000 UTC
2 , seed gateway defaults , Alice , alice@example.com , 2026-05-11 09:20:55.71 +0000 UTC`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		commits, err := client.history(ctx,
			treelineFlags.project.name, treelineFlags.repo.name,
			model.Revision(treelineFlags.history.from), model.Revision(treelineFlags.history.to),
			treelineFlags.history.maxCommits)
		if err != nil {
			wrapFatalln("download commit log", err)
			return
		}
		for _, cd := range commits {
			if err := applyCommitTemplate(cd); err != nil {
				wrapFatalln("render commit", err)
				return
			}
		}
	},
}

func init() {
	requiredFlags := []string{addProjectFlag(logCmd)}
	requiredFlags = append(requiredFlags, addRepoFlag(logCmd))

	addFromFlag(logCmd, "The newest revision to list. 0 means the current head")
	addToFlag(logCmd, "The oldest revision to list. 0 means the first commit")
	addMaxCommitsFlag(logCmd)

	for _, flag := range requiredFlags {
		if err := logCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	rootCmd.AddCommand(logCmd)
}
