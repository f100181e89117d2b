// Package status exports errors produced by the core package.
package status

import (
	"github.com/treelinehq/treeline/pkg/errors"
)

var (
	// ErrProjectNotFound indicates the addressed project does not exist
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists indicates a project with this name already exists
	ErrProjectExists = errors.New("project already exists")

	// ErrRepositoryNotFound indicates the addressed repository does not exist
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrRepositoryExists indicates a repository with this name already exists
	ErrRepositoryExists = errors.New("repository already exists")

	// ErrReservedRepository indicates the repository name is reserved for the project meta repository
	ErrReservedRepository = errors.New("repository name is reserved")

	// ErrRevisionNotFound indicates the addressed revision does not exist in the repository history
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrEntryNotFound indicates no entry lives at the addressed path
	ErrEntryNotFound = errors.New("entry not found")

	// ErrChangeConflict indicates a change touches history it has not seen,
	// or violates the structure of the current tree
	ErrChangeConflict = errors.New("change conflict")

	// ErrRedundantChange indicates the changes produce a tree identical to the current one
	ErrRedundantChange = errors.New("redundant change")

	// ErrInvalidChange indicates a malformed change (bad path, missing content, bad rename target)
	ErrInvalidChange = errors.New("invalid change")

	// ErrInvalidArgument indicates a malformed request (bad name, bad revision range)
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStateDiverged indicates the local state contradicts the replicated
	// command log: this node cannot safely apply further commands
	ErrStateDiverged = errors.New("local state diverges from the replicated log")
)
