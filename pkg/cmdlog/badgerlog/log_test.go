package badgerlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/pkg/cmdlog"
	"github.com/treelinehq/treeline/pkg/cmdlog/status"
	"github.com/treelinehq/treeline/pkg/model"
)

func testCommand(t *testing.T, name string) *model.Command {
	t.Helper()
	cmd, err := model.NewCommand(model.CommandCreateProject, "node-1",
		model.CreateProjectCommand{Name: name})
	require.NoError(t, err)
	return &cmd
}

func collect(t *testing.T, sub *cmdlog.Subscription, n int) []model.Command {
	t.Helper()
	out := make([]model.Command, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case cmd, ok := <-sub.C():
			if !ok {
				t.Fatalf("stream ended after %d of %d commands: %v", len(out), n, sub.Err())
			}
			out = append(out, cmd)
		case <-timeout:
			t.Fatalf("timed out waiting for %d commands, got %d", n, len(out))
		}
	}
	return out
}

func TestBadgerLogAppendAndSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log, err := Open("") // in memory
	require.NoError(t, err)
	defer func() { _ = log.Close() }()

	for i := 1; i <= 3; i++ {
		index, aerr := log.Append(ctx, testCommand(t, fmt.Sprintf("p%d", i)))
		require.NoError(t, aerr)
		assert.EqualValues(t, i, index)
	}
	last, err := log.LastIndex(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, last)

	// resume from the middle
	sub, err := log.Subscribe(ctx, 2)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()
	cmds := collect(t, sub, 2)
	assert.EqualValues(t, 2, cmds[0].Index)
	assert.EqualValues(t, 3, cmds[1].Index)

	// and block for the next append
	_, err = log.Append(ctx, testCommand(t, "p4"))
	require.NoError(t, err)
	cmds = collect(t, sub, 1)
	assert.EqualValues(t, 4, cmds[0].Index)
}

// The log survives a close and reopen with its sequence intact.
func TestBadgerLogReopen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)
	var ids []string
	for i := 1; i <= 3; i++ {
		cmd := testCommand(t, fmt.Sprintf("p%d", i))
		_, aerr := log.Append(ctx, cmd)
		require.NoError(t, aerr)
		ids = append(ids, cmd.ID)
	}
	require.NoError(t, log.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	last, err := reopened.LastIndex(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, last)

	index, err := reopened.Append(ctx, testCommand(t, "p4"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, index)

	sub, err := reopened.Subscribe(ctx, 1)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()
	cmds := collect(t, sub, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, ids[i], cmds[i].ID, "replayed command %d changed identity", i+1)
	}
	assert.EqualValues(t, 4, cmds[3].Index)
}

// The cursor shares the database and survives a reopen.
func TestBadgerLogCursor(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	log, err := Open(dir)
	require.NoError(t, err)

	cursor := log.Cursor("")
	index, err := cursor.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, index, "a fresh cursor starts at zero")

	require.NoError(t, cursor.Store(ctx, 7))
	index, err = cursor.Load(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 7, index)

	// named cursors do not collide
	other := log.Cursor("replica")
	index, err = other.Load(ctx)
	require.NoError(t, err)
	assert.Zero(t, index)

	require.NoError(t, log.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	index, err = reopened.Cursor("").Load(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 7, index)
}

func TestBadgerLogClosed(t *testing.T) {
	ctx := context.Background()
	log, err := Open("")
	require.NoError(t, err)
	require.NoError(t, log.Close())

	_, err = log.Append(ctx, testCommand(t, "late"))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrClosed)

	_, err = log.Subscribe(ctx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrClosed)

	require.NoError(t, log.Close())
}
