package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the availability of the server",
	Long: `Show the role of the node behind the remote, whether it sees a healthy
quorum, and the index of the last command it applied.

Only a healthy leader accepts writes. Followers and isolated nodes answer
reads from their own applied state.`,
	Example: `% treeline status
leader , quorum healthy: true , applied index: 42`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		health, err := client.health(ctx)
		if err != nil {
			wrapFatalln("fetch health", err)
			return
		}
		infoLogger.Printf("%s , quorum healthy: %t , applied index: %d",
			health.Role, health.QuorumHealthy, health.LastApplied)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
