package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a named project",
	Long: "Create a project. Project names start with a letter or digit and " +
		"may contain hyphens, underscores and dots. Example: payment-platform",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		author, err := resolveAuthor()
		if err != nil {
			wrapFatalln("resolve author", err)
			return
		}
		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		pd, err := client.createProject(ctx, treelineFlags.project.name, author)
		if err != nil {
			wrapFatalln("create project", err)
			return
		}
		infoLogger.Printf("created project %s", pd.Name)
	},
}

func init() {
	requiredFlags := []string{addProjectNameFlag(projectCreateCmd)}

	addAuthorNameFlag(projectCreateCmd)
	addAuthorEmailFlag(projectCreateCmd)

	for _, flag := range requiredFlags {
		if err := projectCreateCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	projectCmd.AddCommand(projectCreateCmd)
}
