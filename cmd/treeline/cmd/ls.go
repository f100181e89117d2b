package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/pkg/model"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the entries under a path",
	Long:  `List the file entries under a path at a given revision, in path order.`,
	Example: `% treeline ls --project payment-platform --repo gateway --path /gateway
FILE , /gateway/timeouts.json
FILE , /gateway/upstreams/payments.json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		pth := treelineFlags.entry.path
		if pth == "" {
			pth = "/"
		}
		entries, err := client.listEntries(ctx,
			treelineFlags.project.name, treelineFlags.repo.name,
			model.Revision(treelineFlags.entry.revision),
			ensureLeadingSlash(pth))
		if err != nil {
			wrapFatalln("list entries", err)
			return
		}
		for _, entry := range entries {
			if err := applyEntryTemplate(entry); err != nil {
				wrapFatalln("render entry", err)
				return
			}
		}
	},
}

func init() {
	requiredFlags := []string{addProjectFlag(lsCmd)}
	requiredFlags = append(requiredFlags, addRepoFlag(lsCmd))

	addPathFlag(lsCmd)
	addRevisionFlag(lsCmd)

	for _, flag := range requiredFlags {
		if err := lsCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	rootCmd.AddCommand(lsCmd)
}
