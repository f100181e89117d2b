package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/treelinehq/treeline/pkg/cluster/status"
	"github.com/treelinehq/treeline/pkg/cmdlog"
	"github.com/treelinehq/treeline/pkg/cmdlog/memlog"
	"github.com/treelinehq/treeline/pkg/core"
	"github.com/treelinehq/treeline/pkg/model"
	"github.com/treelinehq/treeline/pkg/storage/localfs"
	"github.com/treelinehq/treeline/pkg/tlogger"
)

var testAuthor = model.Contributor{Name: "ops", Email: "ops@example.org"}

const testWait = 3 * time.Second

func newTestEngine(t *testing.T) *core.Engine {
	t.Helper()
	return core.New(localfs.New(afero.NewMemMapFs()),
		core.WithLogger(tlogger.MustGetLogger(tlogger.LogLevelNone)),
	)
}

// testNode bundles the write path of one in-process cluster member.
type testNode struct {
	engine   *core.Engine
	state    *StateMachine
	applier  *Applier
	proposer *Proposer
}

func (n *testNode) stop() {
	n.applier.Stop()
}

func startTestNode(t *testing.T, id string, log cmdlog.Log, leader bool) *testNode {
	t.Helper()
	engine := newTestEngine(t)
	state := NewStateMachine()
	state.Apply(EventQuorumRestored)
	if leader {
		state.Apply(EventBecameLeader)
	}
	applier := NewApplier(log, engine, &MemCursor{}, state,
		ApplierWithRetryDelay(10*time.Millisecond),
	)
	require.NoError(t, applier.Start(context.Background()))
	proposer := NewProposer(id, log, engine, applier, state,
		ProposerWithTimeout(testWait),
	)
	return &testNode{engine: engine, state: state, applier: applier, proposer: proposer}
}

func pushReq(project, repo string, base model.Revision, changes ...model.Change) *core.PushRequest {
	return &core.PushRequest{
		Project:      project,
		Repository:   repo,
		BaseRevision: base,
		Author:       testAuthor,
		Summary:      "test push",
		Changes:      changes,
	}
}

func upsert(pth, content string) model.Change {
	return model.Change{Kind: model.ChangeKindUpsert, Path: pth, Content: []byte(content)}
}

// seedCommand appends a command to the log and executes it on the seeding
// engine, so later preparations validate against up-to-date state.
func seedCommand(t *testing.T, log cmdlog.Log, eng *core.Engine, cmd model.Command) uint64 {
	t.Helper()
	ctx := context.Background()
	index, err := log.Append(ctx, &cmd)
	require.NoError(t, err)
	require.NoError(t, eng.Execute(ctx, &cmd))
	return index
}

// seedCatalog creates a project and repository through the log, returning
// the last appended index.
func seedCatalog(t *testing.T, log cmdlog.Log, eng *core.Engine, project, repo string) uint64 {
	t.Helper()
	ctx := context.Background()
	cmd, err := eng.PrepareCreateProject(ctx, "seed", project, testAuthor)
	require.NoError(t, err)
	seedCommand(t, log, eng, cmd)

	cmd, err = eng.PrepareCreateRepository(ctx, "seed", project, repo, testAuthor)
	require.NoError(t, err)
	return seedCommand(t, log, eng, cmd)
}

func seedPush(t *testing.T, log cmdlog.Log, eng *core.Engine, project, repo string, changes ...model.Change) uint64 {
	t.Helper()
	cmd, _, err := eng.PreparePush(context.Background(), "seed", pushReq(project, repo, model.HeadRevision, changes...))
	require.NoError(t, err)
	return seedCommand(t, log, eng, cmd)
}

// requireSameState asserts two engines hold identical history and trees
// for a repository, at every revision.
func requireSameState(t *testing.T, a, b *core.Engine, project, repo string) {
	t.Helper()
	ctx := context.Background()

	headA, err := a.Head(ctx, project, repo)
	require.NoError(t, err)
	headB, err := b.Head(ctx, project, repo)
	require.NoError(t, err)
	require.Equal(t, headA, headB)

	for rev := model.InitialRevision; rev <= headA; rev++ {
		commitsA, err := a.History(ctx, project, repo, rev, rev, 0)
		require.NoError(t, err)
		commitsB, err := b.History(ctx, project, repo, rev, rev, 0)
		require.NoError(t, err)
		require.Len(t, commitsA, 1)
		require.Len(t, commitsB, 1)
		assert.Equal(t, commitsA[0].TreeHash, commitsB[0].TreeHash, "tree hash at revision %d", rev)
		assert.True(t, commitsA[0].Timestamp.Equal(commitsB[0].Timestamp), "timestamp at revision %d", rev)

		entriesA, err := a.ListEntries(ctx, project, repo, rev, "/")
		require.NoError(t, err)
		entriesB, err := b.ListEntries(ctx, project, repo, rev, "/")
		require.NoError(t, err)
		assert.Equal(t, entriesA, entriesB, "entries at revision %d", rev)
	}
}

func TestApplierConvergence(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	shared := memlog.New()
	defer func() { _ = shared.Close() }()

	leader := startTestNode(t, "node-a", shared, true)
	defer leader.stop()
	follower := startTestNode(t, "node-b", shared, false)
	defer follower.stop()

	require.NoError(t, leader.proposer.CreateProject(ctx, "acme", testAuthor))
	require.NoError(t, leader.proposer.CreateRepository(ctx, "acme", "main", testAuthor))

	first, err := leader.proposer.Push(ctx, pushReq("acme", "main", model.HeadRevision,
		upsert("/svc/a.json", `{"a":1}`),
	))
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.Revision)

	second, err := leader.proposer.Push(ctx, pushReq("acme", "main", model.HeadRevision,
		upsert("/svc/b.json", `{"b":2}`),
		upsert("/svc/a.json", `{"a":2}`),
	))
	require.NoError(t, err)
	assert.EqualValues(t, 3, second.Revision)

	last, err := shared.LastIndex(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, last)

	waitCtx, cancel := context.WithTimeout(ctx, testWait)
	defer cancel()
	require.NoError(t, follower.applier.WaitApplied(waitCtx, last))

	requireSameState(t, leader.engine, follower.engine, "acme", "main")
	requireSameState(t, leader.engine, follower.engine, "acme", model.MetaRepoName)

	// a node joining late converges from the log alone
	late := startTestNode(t, "node-c", shared, false)
	defer late.stop()
	require.NoError(t, late.applier.WaitApplied(waitCtx, last))
	requireSameState(t, leader.engine, late.engine, "acme", "main")
}

func TestApplierResume(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	log := memlog.New()
	defer func() { _ = log.Close() }()

	seeder := newTestEngine(t)
	seedCatalog(t, log, seeder, "acme", "main")
	seedPush(t, log, seeder, "acme", "main", upsert("/a.txt", "one"))

	engine := newTestEngine(t)
	cursorBacking := localfs.New(afero.NewMemMapFs())
	cursor := NewStoreCursor(cursorBacking, "")

	waitCtx, cancel := context.WithTimeout(ctx, testWait)
	defer cancel()

	first := NewApplier(log, engine, cursor, NewStateMachine())
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.WaitApplied(waitCtx, 3))
	first.Stop()

	persisted, err := cursor.Load(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, persisted)

	// restart with the persisted cursor: the applier resumes where it
	// left off and picks up new entries
	second := NewApplier(log, engine, cursor, NewStateMachine())
	require.NoError(t, second.Start(ctx))
	seedPush(t, log, seeder, "acme", "main", upsert("/b.txt", "two"))
	require.NoError(t, second.WaitApplied(waitCtx, 4))
	second.Stop()

	head, err := engine.Head(ctx, "acme", "main")
	require.NoError(t, err)
	assert.EqualValues(t, 3, head)

	// losing the cursor only costs a replay: execution is idempotent
	state := NewStateMachine()
	third := NewApplier(log, engine, &MemCursor{}, state)
	require.NoError(t, third.Start(ctx))
	require.NoError(t, third.WaitApplied(waitCtx, 4))
	third.Stop()

	require.NoError(t, third.Err())
	assert.NotEqual(t, RoleIsolated, state.Role())
	requireSameState(t, seeder, engine, "acme", "main")
}

func TestApplierIsolatesOnDivergence(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	log := memlog.New()
	defer func() { _ = log.Close() }()

	seeder := newTestEngine(t)
	cmd, err := seeder.PrepareCreateProject(ctx, "node-a", "acme", testAuthor)
	require.NoError(t, err)
	seedCommand(t, log, seeder, cmd)

	// the follower already holds a contradicting project descriptor
	follower := newTestEngine(t)
	rogue, err := follower.PrepareCreateProject(ctx, "node-b", "acme",
		model.Contributor{Name: "impostor", Email: "impostor@example.org"})
	require.NoError(t, err)
	require.NoError(t, follower.Execute(ctx, &rogue))

	state := NewStateMachine()
	state.Apply(EventQuorumRestored)
	applier := NewApplier(log, follower, &MemCursor{}, state)
	require.NoError(t, applier.Start(ctx))
	defer applier.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, testWait)
	defer cancel()
	err = applier.WaitApplied(waitCtx, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrIsolated)

	assert.Equal(t, RoleIsolated, state.Role())
	assert.ErrorIs(t, applier.Err(), status.ErrIsolated)
	assert.Zero(t, applier.AppliedIndex())

	// isolation is sticky: later waits fail immediately
	assert.ErrorIs(t, applier.WaitApplied(ctx, 2), status.ErrIsolated)
}

// flakyLog fails the first subscriptions to exercise the retry path.
type flakyLog struct {
	cmdlog.Log
	mu       sync.Mutex
	failures int
}

func (f *flakyLog) Subscribe(ctx context.Context, from uint64) (*cmdlog.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("transient subscribe outage")
	}
	return f.Log.Subscribe(ctx, from)
}

func TestApplierRetriesSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	backing := memlog.New()
	defer func() { _ = backing.Close() }()

	seeder := newTestEngine(t)
	last := seedCatalog(t, backing, seeder, "acme", "main")

	engine := newTestEngine(t)
	state := NewStateMachine()
	applier := NewApplier(&flakyLog{Log: backing, failures: 2}, engine, &MemCursor{}, state,
		ApplierWithRetryDelay(5*time.Millisecond),
	)
	require.NoError(t, applier.Start(ctx))
	defer applier.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, testWait)
	defer cancel()
	require.NoError(t, applier.WaitApplied(waitCtx, last))
	assert.NotEqual(t, RoleIsolated, state.Role())
	requireSameState(t, seeder, engine, "acme", "main")
}
