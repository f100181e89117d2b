package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "treeline",
	Short: "Treeline versions structured configuration",
	Long: `Treeline is a centralized repository service for structured configuration.

Projects own repositories, and every repository is an append-only history of
atomic commits over a tree of configuration files. Commands other than
"server" talk to a running treeline server over its HTTP API.
`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	addRemoteFlag(rootCmd)
	addTemplateFlag(rootCmd)
	cobra.OnInitialize(initConfig)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("remote", "localhost:36462")
	if os.Getenv("TREELINE_CONFIG") != "" {
		// Use config file from the environment.
		viper.SetConfigFile(os.Getenv("TREELINE_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.treeline")
		viper.AddConfigPath("/etc/treeline")
		viper.SetConfigName("treeline")
	}

	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		infoLogger.Println("Using config file:", viper.ConfigFileUsed())
	}
}
