package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/pkg/model"
)

var catCmd = &cobra.Command{
	Use:   "cat",
	Short: "Print the content of an entry",
	Long:  `Print the raw content of one file entry at a given revision.`,
	Example: `% treeline cat --project payment-platform --repo gateway --path /gateway/timeouts.json
{"connect": "250ms", "read": "2s"}`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		entry, err := client.getEntry(ctx,
			treelineFlags.project.name, treelineFlags.repo.name,
			model.Revision(treelineFlags.entry.revision),
			ensureLeadingSlash(treelineFlags.entry.path))
		if err != nil {
			wrapFatalln("fetch entry", err)
			return
		}
		if entry.Kind != model.EntryKindFile {
			wrapFatalln(fmt.Sprintf("%s is a directory", entry.Path), nil)
			return
		}
		_, _ = logStdOut("%s", entry.Content)
	},
}

func init() {
	requiredFlags := []string{addProjectFlag(catCmd)}
	requiredFlags = append(requiredFlags, addRepoFlag(catCmd))
	requiredFlags = append(requiredFlags, addPathFlag(catCmd))

	addRevisionFlag(catCmd)

	for _, flag := range requiredFlags {
		if err := catCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	rootCmd.AddCommand(catCmd)
}
