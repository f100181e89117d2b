// Package status exports errors produced by the tree package.
//
// NOTE: such constants are located in a separate package to avoid
// creating undue cyclical dependencies between pkg/tree and its consumers.
package status

import (
	"github.com/treelinehq/treeline/pkg/errors"
)

var (
	// ErrRevisionUnknown indicates a revision outside the repository history
	ErrRevisionUnknown = errors.New("revision outside repository history")

	// ErrPathNotFound indicates the change addresses a path absent from the tree
	ErrPathNotFound = errors.New("path not found in tree")

	// ErrPathExists indicates the change would overwrite an entry it has not seen
	ErrPathExists = errors.New("path already occupied in tree")

	// ErrPathThroughFile indicates the change addresses a path below a file entry
	ErrPathThroughFile = errors.New("path traverses a file entry")

	// ErrStaleCommit indicates the commit does not extend the current head
	ErrStaleCommit = errors.New("commit does not extend the current head")

	// ErrDivergedHistory indicates a commit at an already persisted revision
	// differs from the persisted one: local state no longer matches the
	// replicated history
	ErrDivergedHistory = errors.New("commit diverges from persisted history")

	// ErrCorruptDescriptor indicates a persisted descriptor cannot be decoded
	ErrCorruptDescriptor = errors.New("cannot decode persisted descriptor")
)
