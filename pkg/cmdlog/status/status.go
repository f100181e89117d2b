// Package status exports errors produced by command log implementations.
package status

import (
	"github.com/treelinehq/treeline/pkg/errors"
)

var (
	// ErrClosed indicates the command log was closed
	ErrClosed = errors.New("command log is closed")

	// ErrReadOnly indicates this node may not append: only the cluster
	// leader extends the command log
	ErrReadOnly = errors.New("command log is read-only on this node")

	// ErrCorruptEntry indicates a persisted log entry cannot be decoded or
	// is out of sequence
	ErrCorruptEntry = errors.New("command log entry is corrupt")

	// ErrAppendRaced indicates an append kept losing the sequence
	// compare-and-swap against concurrent appenders
	ErrAppendRaced = errors.New("command log append kept racing")
)
