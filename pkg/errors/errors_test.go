package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestError(t *testing.T) {
	e1 := New("cause1")
	e2 := New("cause2").Wrap(e1)
	e := New("dummy").Wrap(e2)
	e3 := e.Unwrap()
	assert.True(t, Is(e, e1))
	assert.True(t, Is(e, e2))
	assert.True(t, e3 == e2)
}

func TestErrorSentinel(t *testing.T) {
	sentinel := New("something broke")

	wrapped := sentinel.Wrap(New("root cause"))
	assert.True(t, Is(wrapped, sentinel))

	// wrapping never mutates the sentinel itself
	assert.Nil(t, sentinel.Unwrap())
	assert.EqualError(t, wrapped, "something broke")
}

func TestWrapMessage(t *testing.T) {
	sentinel := New("invalid state")
	wrapped := sentinel.WrapMessage("repo: %s, revision: %d", "my-repo", 42)
	assert.True(t, Is(wrapped, sentinel))
	assert.EqualError(t, wrapped.Unwrap(), "repo: my-repo, revision: 42")
}

func TestWrapWithLog(t *testing.T) {
	sentinel := New("operation failed")
	wrapped := sentinel.WrapWithLog(zap.NewNop(), New("io error"), zap.String("key", "value"))
	assert.True(t, Is(wrapped, sentinel))

	// nil logger is tolerated
	wrapped = sentinel.WrapWithLog(nil, nil)
	assert.True(t, Is(wrapped, sentinel))
}
