package core

import (
	"context"

	"github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/model"
)

// PushRequest is one requested push, before validation and rebasing. The
// base revision may be relative; it resolves against the head at prepare
// time.
type PushRequest struct {
	Project      string
	Repository   string
	BaseRevision model.Revision
	Author       model.Contributor
	Summary      string
	Detail       string
	Changes      []model.Change
	_            struct{}
}

// PrepareCreateProject validates a create-project request against current
// state and wraps it into a replicable command.
func (e *Engine) PrepareCreateProject(ctx context.Context, proposer, name string, author model.Contributor) (model.Command, error) {
	pd := model.ProjectDescriptor{Name: name, Creator: author}
	if err := pd.Validate(); err != nil {
		return model.Command{}, status.ErrInvalidArgument.Wrap(err)
	}
	has, err := e.meta.Has(ctx, model.GetArchivePathToProjectDescriptor(name))
	if err != nil {
		return model.Command{}, err
	}
	if has {
		return model.Command{}, status.ErrProjectExists.WrapMessage("project %q", name)
	}
	return model.NewCommand(model.CommandCreateProject, proposer,
		model.CreateProjectCommand{Name: name, Author: author})
}

// PrepareCreateRepository validates a create-repository request against
// current state and wraps it into a replicable command.
func (e *Engine) PrepareCreateRepository(ctx context.Context, proposer, project, name string, author model.Contributor) (model.Command, error) {
	rd := model.RepoDescriptor{Project: project, Name: name, Creator: author}
	if err := rd.Validate(); err != nil {
		return model.Command{}, status.ErrInvalidArgument.Wrap(err)
	}
	if name == model.MetaRepoName {
		return model.Command{}, status.ErrReservedRepository.WrapMessage("%q belongs to the project", name)
	}
	if _, err := e.GetProject(ctx, project); err != nil {
		return model.Command{}, err
	}
	has, err := e.meta.Has(ctx, model.GetArchivePathToRepoDescriptor(project, name))
	if err != nil {
		return model.Command{}, err
	}
	if has {
		return model.Command{}, status.ErrRepositoryExists.WrapMessage("repository %s/%s", project, name)
	}
	return model.NewCommand(model.CommandCreateRepository, proposer,
		model.CreateRepositoryCommand{Project: project, Name: name, Author: author})
}

// PreparePush runs the whole push pipeline short of persistence: changes are
// normalized, the base revision resolved, late commits checked for path
// conflicts, and the candidate tree built on top of the head. The returned
// command carries the fully resolved commit every node applies as is.
//
// The caller serializes pushes per repository between here and execution,
// otherwise two prepared commits could claim the same revision.
func (e *Engine) PreparePush(ctx context.Context, proposer string, req *PushRequest) (model.Command, *model.CommitDescriptor, error) {
	if req == nil {
		return model.Command{}, nil, status.ErrInvalidArgument.WrapMessage("nil push request")
	}
	if _, err := e.GetRepository(ctx, req.Project, req.Repository); err != nil {
		return model.Command{}, nil, err
	}
	changes, err := model.NormalizeChanges(req.Changes)
	if err != nil {
		return model.Command{}, nil, status.ErrInvalidChange.Wrap(err)
	}
	if len(changes) == 0 {
		// no changes cannot move the tree: same rejection as a no-op change set
		return model.Command{}, nil, status.ErrRedundantChange.WrapMessage(
			"a push without changes leaves %s/%s unchanged", req.Project, req.Repository)
	}
	if e.maxContentSize > 0 {
		for _, change := range changes {
			if int64(len(change.Content)) > e.maxContentSize {
				return model.Command{}, nil, status.ErrInvalidChange.WrapMessage(
					"content at %s exceeds the %d byte limit", change.Path, e.maxContentSize)
			}
		}
	}

	head, err := e.trees.Head(ctx, req.Project, req.Repository)
	if err != nil {
		return model.Command{}, nil, err
	}
	base, ok := req.BaseRevision.Normalize(head)
	if !ok {
		return model.Command{}, nil, status.ErrRevisionNotFound.WrapMessage(
			"base revision %d of %s/%s (head is %d)", req.BaseRevision, req.Project, req.Repository, head)
	}
	if base < head {
		// the client built its changes against an older revision: they
		// still go in, on top of the head, unless a commit it has not seen
		// touched one of the same paths
		if err := e.checkConflicts(ctx, req.Project, req.Repository, base, head, changes); err != nil {
			return model.Command{}, nil, err
		}
	}

	snap, err := e.trees.Snapshot(ctx, req.Project, req.Repository, head)
	if err != nil {
		return model.Command{}, nil, err
	}
	candidate, err := snap.Apply(changes)
	if err != nil {
		return model.Command{}, nil, status.ErrChangeConflict.Wrap(err)
	}
	if candidate.TreeHash() == snap.TreeHash() {
		return model.Command{}, nil, status.ErrRedundantChange.WrapMessage(
			"changes leave %s/%s at revision %d unchanged", req.Project, req.Repository, head)
	}

	commit := &model.CommitDescriptor{
		Project:      req.Project,
		Repository:   req.Repository,
		Revision:     head + 1,
		BaseRevision: head,
		Author:       req.Author,
		Summary:      req.Summary,
		Detail:       req.Detail,
		Timestamp:    e.clock().UTC(),
		Changes:      changes,
		TreeHash:     candidate.TreeHash(),
	}
	cmd, err := model.NewCommand(model.CommandPush, proposer, model.PushCommand{Commit: *commit})
	if err != nil {
		return model.Command{}, nil, err
	}
	return cmd, commit, nil
}

// checkConflicts rejects changes whose paths were touched between the
// revision the client based its changes on and the current head.
func (e *Engine) checkConflicts(ctx context.Context, project, repo string, base, head model.Revision, changes []model.Change) error {
	touched := make(map[string]struct{})
	for _, change := range changes {
		for _, pth := range change.Touches() {
			touched[pth] = struct{}{}
		}
	}
	late, err := e.trees.ListCommits(ctx, project, repo, base+1, head)
	if err != nil {
		return err
	}
	for _, commit := range late {
		for _, change := range commit.Changes {
			for _, pth := range change.Touches() {
				if _, ok := touched[pth]; ok {
					return status.ErrChangeConflict.WrapMessage(
						"path %s changed at revision %d, after base %d", pth, commit.Revision, base)
				}
			}
		}
	}
	return nil
}
