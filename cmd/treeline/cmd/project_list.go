package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Long:  `List the projects known to the server`,
	Example: `% treeline project list
payment-platform , Alice , alice@example.com , 2026-05-11 09:15:04.123 +0000 UTC`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		projects, err := client.listProjects(ctx)
		if err != nil {
			wrapFatalln("download project list", err)
			return
		}
		for _, pd := range projects {
			if err := applyProjectTemplate(pd); err != nil {
				wrapFatalln("render project", err)
				return
			}
		}
	},
}

func init() {
	projectCmd.AddCommand(projectListCmd)
}
