package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/pkg/model"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare two revisions of a repository",
	Long: `Compare two revisions of a repository and print the changes that
turn the older tree into the newer one.`,
	Example: `% treeline diff --project payment-platform --repo gateway --from 2 --to 3
UPSERT , /gateway/timeouts.json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		changes, err := client.compare(ctx,
			treelineFlags.project.name, treelineFlags.repo.name,
			model.Revision(treelineFlags.history.from), model.Revision(treelineFlags.history.to))
		if err != nil {
			wrapFatalln("compare revisions", err)
			return
		}
		for _, change := range changes {
			if err := applyChangeTemplate(change); err != nil {
				wrapFatalln("render change", err)
				return
			}
		}
	},
}

func init() {
	requiredFlags := []string{addProjectFlag(diffCmd)}
	requiredFlags = append(requiredFlags, addRepoFlag(diffCmd))

	addFromFlag(diffCmd, "The revision to compare from. 0 means the first commit")
	addToFlag(diffCmd, "The revision to compare to. 0 means the current head")

	for _, flag := range requiredFlags {
		if err := diffCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	rootCmd.AddCommand(diffCmd)
}
