package web

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	clusterstatus "github.com/treelinehq/treeline/pkg/cluster/status"
	logstatus "github.com/treelinehq/treeline/pkg/cmdlog/status"
	corestatus "github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/errors"
)

func TestKindMapping(t *testing.T) {
	t.Parallel()

	for _, toPin := range []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{name: "project not found", err: corestatus.ErrProjectNotFound, kind: KindNotFound, status: http.StatusNotFound},
		{name: "repository not found", err: corestatus.ErrRepositoryNotFound, kind: KindNotFound, status: http.StatusNotFound},
		{name: "revision not found", err: corestatus.ErrRevisionNotFound.WrapMessage("revision 9"), kind: KindNotFound, status: http.StatusNotFound},
		{name: "entry not found", err: corestatus.ErrEntryNotFound, kind: KindNotFound, status: http.StatusNotFound},
		{name: "project exists", err: corestatus.ErrProjectExists, kind: KindAlreadyExists, status: http.StatusConflict},
		{name: "repository exists", err: corestatus.ErrRepositoryExists, kind: KindAlreadyExists, status: http.StatusConflict},
		{name: "conflict", err: corestatus.ErrChangeConflict.WrapMessage("path /a"), kind: KindConflict, status: http.StatusConflict},
		{name: "redundant", err: corestatus.ErrRedundantChange, kind: KindRedundant, status: http.StatusConflict},
		{name: "invalid change", err: corestatus.ErrInvalidChange, kind: KindMalformed, status: http.StatusBadRequest},
		{name: "invalid argument", err: corestatus.ErrInvalidArgument, kind: KindMalformed, status: http.StatusBadRequest},
		{name: "reserved repository", err: corestatus.ErrReservedRepository, kind: KindMalformed, status: http.StatusBadRequest},
		{name: "read only", err: logstatus.ErrReadOnly, kind: KindReadOnly, status: http.StatusServiceUnavailable},
		{name: "read only because isolated", err: logstatus.ErrReadOnly.Wrap(clusterstatus.ErrIsolated), kind: KindReadOnly, status: http.StatusServiceUnavailable},
		{name: "timed out", err: clusterstatus.ErrRequestTimedOut, kind: KindTimedOut, status: http.StatusServiceUnavailable},
		{name: "divergence stays internal", err: corestatus.ErrStateDiverged, kind: KindUnknown, status: http.StatusInternalServerError},
		{name: "log corruption stays internal", err: logstatus.ErrCorruptEntry, kind: KindUnknown, status: http.StatusInternalServerError},
		{name: "plain error", err: assert.AnError, kind: KindUnknown, status: http.StatusInternalServerError},
	} {
		testcase := toPin
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			kind := KindOf(testcase.err)
			assert.Equal(t, testcase.kind, kind)
			assert.Equal(t, testcase.status, DefaultStatusOf(kind))
		})
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "not-found", KindNotFound.String())
	assert.Equal(t, "already-exists", KindAlreadyExists.String())
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "redundant", KindRedundant.String())
	assert.Equal(t, "malformed", KindMalformed.String())
	assert.Equal(t, "read-only", KindReadOnly.String())
	assert.Equal(t, "timed-out", KindTimedOut.String())
	assert.Equal(t, "internal", KindUnknown.String())
}

func TestChainMessage(t *testing.T) {
	t.Parallel()

	err := corestatus.ErrChangeConflict.WrapMessage("path %s changed in revision %d", "/a.json", 3)
	assert.Equal(t, "change conflict: path /a.json changed in revision 3", chainMessage(err))

	// fmt-wrapped parts already repeat their cause
	err = corestatus.ErrInvalidArgument.WrapMessage("cannot decode request body: %w", assert.AnError)
	assert.Equal(t,
		"invalid argument: cannot decode request body: "+assert.AnError.Error(),
		chainMessage(err))

	wrapped := logstatus.ErrReadOnly.Wrap(clusterstatus.ErrIsolated)
	assert.Equal(t,
		"command log is read-only on this node: node is isolated from the replicated history",
		chainMessage(wrapped))

	assert.Equal(t, "plain", chainMessage(errors.New("plain")))
}
