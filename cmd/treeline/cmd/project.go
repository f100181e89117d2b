package cmd

import (
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Commands to manage projects",
	Long: `Commands to manage projects.

A project owns repositories and is the unit of administrative grouping.
Every project also owns a reserved "meta" repository for administrative
documents such as mirror descriptors.
`,
}

func init() {
	rootCmd.AddCommand(projectCmd)
}
