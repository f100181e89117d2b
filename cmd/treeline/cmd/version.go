package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, stamped through -ldflags.
var (
	Version   string
	BuildDate string
	GitCommit string
	GitState  string
)

// VersionInfo gathers the build metadata of this binary.
type VersionInfo struct {
	Version   string `json:"version,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
	GitState  string `json:"gitState,omitempty"`
}

// NewVersionInfo resolves the stamped metadata. An unstamped binary
// reports itself as a dev build.
func NewVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		GitCommit: GitCommit,
		GitState:  GitState,
	}
	if info.Version == "" {
		info.Version = "dev"
	} else if info.GitState == "" {
		info.GitState = "clean"
	}
	return info
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("Version: %s\nBuild date: %s\nCommit: %s\nWorking tree: %s\n",
		v.Version, v.BuildDate, v.GitCommit, v.GitState)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of treeline",
	Long: `Print the version of this binary: the semver tag it was built from,
the build date, the git commit, and whether the working tree was dirty.`,
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = logStdOut(NewVersionInfo().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
