package main

import (
	"github.com/treelinehq/treeline/cmd/treeline/cmd"
)

func main() {
	cmd.Execute()
}
