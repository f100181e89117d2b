package core

import (
	"context"
	"errors"

	"github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/model"
	"github.com/treelinehq/treeline/pkg/tree"
	treestatus "github.com/treelinehq/treeline/pkg/tree/status"
)

// Head returns the current head revision of a repository.
func (e *Engine) Head(ctx context.Context, project, repo string) (model.Revision, error) {
	if _, err := e.GetRepository(ctx, project, repo); err != nil {
		return 0, err
	}
	return e.trees.Head(ctx, project, repo)
}

// ResolveRevision normalizes a possibly relative revision against the
// repository head.
func (e *Engine) ResolveRevision(ctx context.Context, project, repo string, rev model.Revision) (model.Revision, error) {
	head, err := e.Head(ctx, project, repo)
	if err != nil {
		return 0, err
	}
	normalized, ok := rev.Normalize(head)
	if !ok {
		return 0, status.ErrRevisionNotFound.WrapMessage(
			"revision %d of %s/%s (head is %d)", rev, project, repo, head)
	}
	return normalized, nil
}

// GetEntry returns the entry at a path. Directory entries are synthesized
// from the files below them.
func (e *Engine) GetEntry(ctx context.Context, project, repo string, rev model.Revision, pth string) (model.Entry, error) {
	normalizedPath, err := model.NormalizePath(pth)
	if err != nil {
		return model.Entry{}, status.ErrInvalidArgument.Wrap(err)
	}
	snap, err := e.snapshotAt(ctx, project, repo, rev)
	if err != nil {
		return model.Entry{}, err
	}
	entry, ok := snap.Get(normalizedPath)
	if !ok {
		return model.Entry{}, status.ErrEntryNotFound.WrapMessage(
			"%s at revision %d of %s/%s", normalizedPath, snap.Revision(), project, repo)
	}
	return entry, nil
}

// ListEntries returns the file entries at or below a path prefix, in path
// order. An empty prefix or "/" lists the whole tree.
func (e *Engine) ListEntries(ctx context.Context, project, repo string, rev model.Revision, prefix string) (model.Entries, error) {
	normalizedPrefix := "/"
	if prefix != "" && prefix != "/" {
		var err error
		normalizedPrefix, err = model.NormalizePath(prefix)
		if err != nil {
			return nil, status.ErrInvalidArgument.Wrap(err)
		}
	}
	snap, err := e.snapshotAt(ctx, project, repo, rev)
	if err != nil {
		return nil, err
	}
	return snap.Files(normalizedPrefix), nil
}

// History lists commits between two revisions, inclusive. The order of the
// range is the order of the result, so from=HEAD to=1 walks backwards.
// maxCommits caps the result from the `from` end; zero means no cap.
func (e *Engine) History(ctx context.Context, project, repo string, from, to model.Revision, maxCommits int) ([]model.CommitDescriptor, error) {
	head, err := e.Head(ctx, project, repo)
	if err != nil {
		return nil, err
	}
	nFrom, ok := from.Normalize(head)
	if !ok {
		return nil, status.ErrRevisionNotFound.WrapMessage(
			"revision %d of %s/%s (head is %d)", from, project, repo, head)
	}
	nTo, ok := to.Normalize(head)
	if !ok {
		return nil, status.ErrRevisionNotFound.WrapMessage(
			"revision %d of %s/%s (head is %d)", to, project, repo, head)
	}
	lo, hi, descending := nFrom, nTo, false
	if lo > hi {
		lo, hi, descending = hi, lo, true
	}
	commits, err := e.trees.ListCommits(ctx, project, repo, lo, hi)
	if err != nil {
		return nil, err
	}
	if descending {
		for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
			commits[i], commits[j] = commits[j], commits[i]
		}
	}
	if maxCommits > 0 && len(commits) > maxCommits {
		commits = commits[:maxCommits]
	}
	return commits, nil
}

// Diff computes the changes that turn the tree at `from` into the tree at
// `to`. Moves come out as remove/upsert pairs.
func (e *Engine) Diff(ctx context.Context, project, repo string, from, to model.Revision) ([]model.Change, error) {
	fromSnap, err := e.snapshotAt(ctx, project, repo, from)
	if err != nil {
		return nil, err
	}
	toSnap, err := e.snapshotAt(ctx, project, repo, to)
	if err != nil {
		return nil, err
	}
	return diffSnapshots(fromSnap, toSnap), nil
}

// WatchHead blocks until the repository head moves past lastKnown, then
// returns the new head. It returns the context error when the caller gives
// up first; long-polling handlers turn that into "not modified".
func (e *Engine) WatchHead(ctx context.Context, project, repo string, lastKnown model.Revision) (model.Revision, error) {
	if _, err := e.GetRepository(ctx, project, repo); err != nil {
		return 0, err
	}
	key := repoKey(project, repo)
	for {
		// the channel is taken before the head it is compared against, so a
		// head move between the read and the wait still wakes us
		moved := e.signals.watch(key)
		head, err := e.trees.Head(ctx, project, repo)
		if err != nil {
			return 0, err
		}
		if head > lastKnown {
			return head, nil
		}
		select {
		case <-moved:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (e *Engine) snapshotAt(ctx context.Context, project, repo string, rev model.Revision) (*tree.Snapshot, error) {
	normalized, err := e.ResolveRevision(ctx, project, repo, rev)
	if err != nil {
		return nil, err
	}
	snap, err := e.trees.Snapshot(ctx, project, repo, normalized)
	if err != nil {
		if errors.Is(err, treestatus.ErrRevisionUnknown) {
			return nil, status.ErrRevisionNotFound.Wrap(err)
		}
		return nil, err
	}
	return snap, nil
}

func diffSnapshots(from, to *tree.Snapshot) []model.Change {
	a, b := from.Files("/"), to.Files("/")
	var changes []model.Change
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i].Path < b[j].Path):
			changes = append(changes, model.Change{Kind: model.ChangeKindRemove, Path: a[i].Path})
			i++
		case i == len(a) || a[i].Path > b[j].Path:
			changes = append(changes, model.Change{Kind: model.ChangeKindUpsert, Path: b[j].Path, Content: b[j].Content})
			j++
		default:
			if a[i].Hash != b[j].Hash {
				changes = append(changes, model.Change{Kind: model.ChangeKindUpsert, Path: b[j].Path, Content: b[j].Content})
			}
			i++
			j++
		}
	}
	return changes
}
