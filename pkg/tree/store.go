// Package tree persists commit descriptors and materializes immutable tree
// snapshots from them.
//
// The store never rewrites history: commit descriptors are written once with
// an overwrite guard, and replaying commits 1..N over the empty tree always
// reproduces the snapshot at revision N. Whoever calls ApplyCommit is
// expected to do so in revision order per repository.
package tree

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v2"

	"github.com/treelinehq/treeline/pkg/model"
	"github.com/treelinehq/treeline/pkg/storage"
	storagestatus "github.com/treelinehq/treeline/pkg/storage/status"
	"github.com/treelinehq/treeline/pkg/tree/status"
)

const (
	defaultSnapshotCache = 16
	defaultKeyPageSize   = 1024
)

// Option alters the behavior of a tree store.
type Option func(*Store)

// WithLogger sets a logger for the store (defaults to a no-op logger)
func WithLogger(l *zap.Logger) Option {
	return func(t *Store) {
		if l != nil {
			t.l = l
		}
	}
}

// WithSnapshotCache bounds how many non-head snapshots are retained per
// repository to shortcut replays of historical revisions
func WithSnapshotCache(size int) Option {
	return func(t *Store) {
		t.cacheSize = size
	}
}

// Store materializes repository trees from an archive of commit descriptors.
type Store struct {
	meta      storage.Store
	l         *zap.Logger
	cacheSize int
	pageSize  int

	mu    sync.Mutex
	repos map[string]*repoState
}

// repoState tracks what the store knows about one repository. All fields are
// guarded by the store mutex; snapshots themselves are immutable.
type repoState struct {
	head     model.Revision
	headSnap *Snapshot
	older    map[model.Revision]*Snapshot
	mru      []model.Revision
}

// New builds a tree store over an archive of descriptors.
func New(meta storage.Store, opts ...Option) *Store {
	t := &Store{
		meta:      meta,
		l:         zap.NewNop(),
		cacheSize: defaultSnapshotCache,
		pageSize:  defaultKeyPageSize,
		repos:     make(map[string]*repoState),
	}
	for _, apply := range opts {
		apply(t)
	}
	return t
}

// Head returns the current head revision of a repository, zero when the
// repository has no commits yet.
func (t *Store) Head(ctx context.Context, project, repo string) (model.Revision, error) {
	st, err := t.state(ctx, project, repo)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return st.head, nil
}

// Snapshot materializes the tree at a revision, replaying commits forward
// from the nearest retained snapshot.
func (t *Store) Snapshot(ctx context.Context, project, repo string, revision model.Revision) (*Snapshot, error) {
	st, err := t.state(ctx, project, repo)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if revision < model.InitialRevision || revision > st.head {
		head := st.head
		t.mu.Unlock()
		return nil, status.ErrRevisionUnknown.WrapMessage("revision %d not in [%d, %d] for %s/%s",
			revision, model.InitialRevision, head, project, repo)
	}
	snap := st.nearest(revision)
	t.mu.Unlock()

	if snap == nil {
		snap, err = newEmptySnapshot(project, repo)
		if err != nil {
			return nil, err
		}
	}
	for snap.revision < revision {
		commit, err := t.LoadCommit(ctx, project, repo, snap.revision+1)
		if err != nil {
			return nil, err
		}
		snap, err = advance(snap, &commit)
		if err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	st.remember(snap, t.cacheSize)
	t.mu.Unlock()
	return snap, nil
}

// ApplyCommit advances a repository head by one commit and persists its
// descriptor. Re-applying an already persisted commit is a no-op returning
// the snapshot it produced; a commit that contradicts persisted history
// fails with ErrDivergedHistory.
func (t *Store) ApplyCommit(ctx context.Context, commit *model.CommitDescriptor) (*Snapshot, error) {
	if commit == nil {
		return nil, status.ErrStaleCommit.WrapMessage("nil commit")
	}
	if err := commit.Validate(); err != nil {
		return nil, err
	}
	st, err := t.state(ctx, commit.Project, commit.Repository)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	head := st.head
	t.mu.Unlock()

	if commit.Revision <= head {
		return t.reconcile(ctx, commit)
	}
	if commit.Revision != head+1 {
		return nil, status.ErrStaleCommit.WrapMessage("commit %d of %s/%s does not extend head %d",
			commit.Revision, commit.Project, commit.Repository, head)
	}

	base, err := t.baseSnapshot(ctx, commit.Project, commit.Repository, head)
	if err != nil {
		return nil, err
	}
	next, err := advance(base, commit)
	if err != nil {
		return nil, err
	}

	persisted := *commit
	persisted.TreeHash = next.treeHash
	buffer, err := yaml.Marshal(persisted)
	if err != nil {
		return nil, err
	}
	dest := model.GetArchivePathToCommit(commit.Project, commit.Repository, commit.Revision)
	err = t.meta.Put(ctx, dest, bytes.NewReader(buffer), storage.NoOverWrite)
	switch {
	case err == nil:
	case errors.Is(err, storagestatus.ErrExists):
		// the archive already holds this revision, e.g. state rebuilt over
		// pre-existing storage: accept only an identical commit
		existing, lerr := t.LoadCommit(ctx, commit.Project, commit.Repository, commit.Revision)
		if lerr != nil {
			return nil, lerr
		}
		if !commitsEqual(&existing, &persisted) {
			return nil, status.ErrDivergedHistory.WrapMessage(
				"revision %d of %s/%s is already persisted with tree %s, not %s",
				commit.Revision, commit.Project, commit.Repository, existing.TreeHash, next.treeHash)
		}
	default:
		return nil, err
	}

	t.mu.Lock()
	prev := st.headSnap
	st.head = commit.Revision
	st.headSnap = next
	if prev != nil {
		st.remember(prev, t.cacheSize)
	}
	t.mu.Unlock()

	t.l.Debug("commit applied",
		zap.String("project", commit.Project),
		zap.String("repository", commit.Repository),
		zap.Int64("revision", int64(commit.Revision)),
		zap.String("tree", next.treeHash),
	)
	return next, nil
}

// reconcile handles a commit at or below the known head: a replay of history
// is accepted as a no-op, anything else diverges.
func (t *Store) reconcile(ctx context.Context, commit *model.CommitDescriptor) (*Snapshot, error) {
	base, err := t.baseSnapshot(ctx, commit.Project, commit.Repository, commit.Revision-1)
	if err != nil {
		return nil, err
	}
	next, err := advance(base, commit)
	if err != nil {
		return nil, status.ErrDivergedHistory.Wrap(err)
	}
	existing, err := t.LoadCommit(ctx, commit.Project, commit.Repository, commit.Revision)
	if err != nil {
		return nil, err
	}
	if existing.TreeHash != next.treeHash || existing.BaseRevision != commit.BaseRevision {
		return nil, status.ErrDivergedHistory.WrapMessage(
			"revision %d of %s/%s is already persisted with tree %s, not %s",
			commit.Revision, commit.Project, commit.Repository, existing.TreeHash, next.treeHash)
	}
	return next, nil
}

// LoadCommit reads one persisted commit descriptor.
func (t *Store) LoadCommit(ctx context.Context, project, repo string, revision model.Revision) (model.CommitDescriptor, error) {
	if revision < model.InitialRevision {
		return model.CommitDescriptor{}, status.ErrRevisionUnknown.WrapMessage("revision %d of %s/%s",
			revision, project, repo)
	}
	src := model.GetArchivePathToCommit(project, repo, revision)
	rdr, err := t.meta.Get(ctx, src)
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotFound) {
			return model.CommitDescriptor{}, status.ErrRevisionUnknown.WrapMessage("revision %d of %s/%s",
				revision, project, repo)
		}
		return model.CommitDescriptor{}, err
	}
	defer func() { _ = rdr.Close() }()
	buffer, err := io.ReadAll(rdr)
	if err != nil {
		return model.CommitDescriptor{}, err
	}
	var commit model.CommitDescriptor
	if err := yaml.Unmarshal(buffer, &commit); err != nil {
		return model.CommitDescriptor{}, status.ErrCorruptDescriptor.WrapMessage("commit %d of %s/%s: %v",
			revision, project, repo, err)
	}
	return commit, nil
}

// ListCommits loads the persisted commits of a revision range, inclusive on
// both ends, in revision order.
func (t *Store) ListCommits(ctx context.Context, project, repo string, from, to model.Revision) ([]model.CommitDescriptor, error) {
	if from < model.InitialRevision || to < from {
		return nil, status.ErrRevisionUnknown.WrapMessage("range [%d, %d] of %s/%s", from, to, project, repo)
	}
	commits := make([]model.CommitDescriptor, 0, to-from+1)
	for rev := from; rev <= to; rev++ {
		commit, err := t.LoadCommit(ctx, project, repo, rev)
		if err != nil {
			return nil, err
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

// state lazily loads what is known about a repository from the archive.
func (t *Store) state(ctx context.Context, project, repo string) (*repoState, error) {
	key := project + "/" + repo
	t.mu.Lock()
	if st, ok := t.repos[key]; ok {
		t.mu.Unlock()
		return st, nil
	}
	t.mu.Unlock()

	head, err := t.scanHead(ctx, project, repo)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.repos[key]; ok { // lost a scan race, keep the winner
		return st, nil
	}
	st := &repoState{
		head:  head,
		older: make(map[model.Revision]*Snapshot),
	}
	t.repos[key] = st
	return st, nil
}

// scanHead walks the commit archive of a repository to find its last
// revision.
func (t *Store) scanHead(ctx context.Context, project, repo string) (model.Revision, error) {
	prefix := model.GetArchivePathPrefixToCommits(project, repo)
	var (
		head  model.Revision
		count int
		token string
	)
	for {
		keys, next, err := t.meta.KeysPrefix(ctx, token, prefix, "", t.pageSize)
		if err != nil {
			return 0, err
		}
		for _, key := range keys {
			apc, err := model.GetArchivePathComponents(key)
			if err != nil {
				return 0, status.ErrCorruptDescriptor.WrapMessage("unexpected key %q: %v", key, err)
			}
			if apc.Revision > head {
				head = apc.Revision
			}
			count++
		}
		if next == "" {
			break
		}
		token = next
	}
	if model.Revision(count) != head {
		t.l.Warn("commit archive does not line up with its head revision",
			zap.String("project", project),
			zap.String("repository", repo),
			zap.Int64("head", int64(head)),
			zap.Int("descriptors", count),
		)
	}
	return head, nil
}

func (t *Store) baseSnapshot(ctx context.Context, project, repo string, base model.Revision) (*Snapshot, error) {
	if base < model.InitialRevision {
		return newEmptySnapshot(project, repo)
	}
	return t.Snapshot(ctx, project, repo, base)
}

// advance replays one commit on top of its base snapshot, cross-checking the
// declared tree hash when the descriptor carries one.
func advance(base *Snapshot, commit *model.CommitDescriptor) (*Snapshot, error) {
	if commit.Revision != base.revision+1 {
		return nil, status.ErrStaleCommit.WrapMessage("commit %d of %s/%s does not extend revision %d",
			commit.Revision, base.project, base.repo, base.revision)
	}
	changes, err := model.NormalizeChanges(commit.Changes)
	if err != nil {
		return nil, status.ErrCorruptDescriptor.WrapMessage("commit %d of %s/%s: %v",
			commit.Revision, base.project, base.repo, err)
	}
	next, err := base.Apply(changes)
	if err != nil {
		return nil, err
	}
	if commit.TreeHash != "" && commit.TreeHash != next.treeHash {
		return nil, status.ErrDivergedHistory.WrapMessage(
			"commit %d of %s/%s declares tree %s but replays to %s",
			commit.Revision, base.project, base.repo, commit.TreeHash, next.treeHash)
	}
	return next, nil
}

func commitsEqual(a, b *model.CommitDescriptor) bool {
	return a.Revision == b.Revision &&
		a.BaseRevision == b.BaseRevision &&
		a.TreeHash == b.TreeHash
}

func (st *repoState) nearest(revision model.Revision) *Snapshot {
	var best *Snapshot
	if st.headSnap != nil && st.headSnap.revision <= revision {
		best = st.headSnap
	}
	for rev, snap := range st.older {
		if rev <= revision && (best == nil || rev > best.revision) {
			best = snap
		}
	}
	return best
}

func (st *repoState) remember(snap *Snapshot, cacheSize int) {
	if snap.revision == st.head {
		st.headSnap = snap
		return
	}
	if cacheSize <= 0 {
		return
	}
	for i, rev := range st.mru {
		if rev == snap.revision {
			st.mru = append(st.mru[:i], st.mru[i+1:]...)
			break
		}
	}
	if _, ok := st.older[snap.revision]; !ok {
		for len(st.older) >= cacheSize && len(st.mru) > 0 {
			evict := st.mru[0]
			st.mru = st.mru[1:]
			delete(st.older, evict)
		}
	}
	st.older[snap.revision] = snap
	st.mru = append(st.mru, snap.revision)
}
