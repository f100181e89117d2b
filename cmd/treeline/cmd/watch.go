package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/pkg/model"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Wait for the repository head to move",
	Long: `Block until the repository head moves past the last known revision,
then print the new head revision.

The server holds the request open for at most the requested timeout. When
the head does not move in time, the command reports the head unchanged and
exits cleanly, so pollers can loop on it.`,
	Example: `% treeline watch --project payment-platform --repo gateway --last-known 3 --timeout 30s
4`,
	Run: func(cmd *cobra.Command, args []string) {
		// leave the server room to answer before the client deadline
		deadline := 2 * time.Minute
		if treelineFlags.watch.timeout > 0 {
			deadline = treelineFlags.watch.timeout + defaultRequestTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), deadline)
		defer cancel()

		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		head, moved, err := client.watch(ctx,
			treelineFlags.project.name, treelineFlags.repo.name,
			model.Revision(treelineFlags.watch.lastKnown), treelineFlags.watch.timeout)
		if err != nil {
			wrapFatalln("watch", err)
			return
		}
		if !moved {
			infoLogger.Println("head unchanged")
			return
		}
		_, _ = logStdOut("%d\n", head)
	},
}

func init() {
	requiredFlags := []string{addProjectFlag(watchCmd)}
	requiredFlags = append(requiredFlags, addRepoFlag(watchCmd))

	addLastKnownFlag(watchCmd)
	addWatchTimeoutFlag(watchCmd)

	for _, flag := range requiredFlags {
		if err := watchCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	rootCmd.AddCommand(watchCmd)
}
