package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var repoCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a named repository",
	Long: "Create a repository inside a project. Repository names follow the " +
		"same rules as project names, and \"meta\" is reserved.",
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
		rd, err := client.createRepository(ctx, treelineFlags.project.name, treelineFlags.repo.name, author)
		if err != nil {
			wrapFatalln("create repo", err)
			return
		}
		infoLogger.Printf("created repo %s/%s", rd.Project, rd.Name)
	},
}

func init() {
	requiredFlags := []string{addProjectFlag(repoCreateCmd)}
	requiredFlags = append(requiredFlags, addRepoNameFlag(repoCreateCmd))

	addAuthorNameFlag(repoCreateCmd)
	addAuthorEmailFlag(repoCreateCmd)

	for _, flag := range requiredFlags {
		if err := repoCreateCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	repoCmd.AddCommand(repoCreateCmd)
}
