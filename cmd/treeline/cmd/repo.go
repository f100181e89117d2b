package cmd

import (
	"github.com/spf13/cobra"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Commands to manage repositories",
	Long: `Commands to manage repositories.

A repository is an append-only sequence of commits over a tree of
configuration files, owned by a project.
`,
}

func init() {
	rootCmd.AddCommand(repoCmd)
}
