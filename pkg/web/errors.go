package web

import (
	"net/http"

	clusterstatus "github.com/treelinehq/treeline/pkg/cluster/status"
	logstatus "github.com/treelinehq/treeline/pkg/cmdlog/status"
	corestatus "github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/errors"
)

// Kind classifies the errors surfaced by the API. The enum is closed:
// every sentinel the engine, the log and the cluster produce folds into
// one of these.
type Kind int

// The error kinds, from the client's point of view.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindConflict
	KindRedundant
	KindMalformed
	KindReadOnly
	KindTimedOut
)

// String names a kind in error bodies.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindAlreadyExists:
		return "already-exists"
	case KindConflict:
		return "conflict"
	case KindRedundant:
		return "redundant"
	case KindMalformed:
		return "malformed"
	case KindReadOnly:
		return "read-only"
	case KindTimedOut:
		return "timed-out"
	default:
		return "internal"
	}
}

// KindOf folds an error into its kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, corestatus.ErrProjectNotFound),
		errors.Is(err, corestatus.ErrRepositoryNotFound),
		errors.Is(err, corestatus.ErrRevisionNotFound),
		errors.Is(err, corestatus.ErrEntryNotFound):
		return KindNotFound
	case errors.Is(err, corestatus.ErrProjectExists),
		errors.Is(err, corestatus.ErrRepositoryExists):
		return KindAlreadyExists
	case errors.Is(err, corestatus.ErrChangeConflict):
		return KindConflict
	case errors.Is(err, corestatus.ErrRedundantChange):
		return KindRedundant
	case errors.Is(err, corestatus.ErrInvalidChange),
		errors.Is(err, corestatus.ErrInvalidArgument),
		errors.Is(err, corestatus.ErrReservedRepository):
		return KindMalformed
	case errors.Is(err, logstatus.ErrReadOnly):
		return KindReadOnly
	case errors.Is(err, clusterstatus.ErrRequestTimedOut):
		return KindTimedOut
	default:
		return KindUnknown
	}
}

// StatusOf maps an error kind to an HTTP status code. The mapping is
// built at startup and handed to the server, not looked up in any
// process-wide table.
type StatusOf func(Kind) int

// DefaultStatusOf is the canonical mapping.
func DefaultStatusOf(kind Kind) int {
	switch kind {
	case KindConflict, KindRedundant, KindAlreadyExists:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindMalformed:
		return http.StatusBadRequest
	case KindReadOnly, KindTimedOut:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
