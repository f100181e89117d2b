// Package status exports errors produced by the cluster package.
package status

import (
	"github.com/treelinehq/treeline/pkg/errors"
)

var (
	// ErrRequestTimedOut indicates the client gave up before the command
	// was applied. The command may still exist in the log and take effect.
	ErrRequestTimedOut = errors.New("request already timed out")

	// ErrIsolated indicates this node contradicts the replicated history
	// and refuses to serve writes until an operator intervenes
	ErrIsolated = errors.New("node is isolated from the replicated history")

	// ErrStopped indicates the node is shutting down
	ErrStopped = errors.New("node is stopped")
)
