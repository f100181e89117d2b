package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/model"
)

// Execute applies one replicated command to local state.
//
// Commands must arrive in log order. Re-executing an already applied command
// is a no-op, so a crash between persisting state and recording progress
// heals on replay. An error other than that means local state contradicts
// the log: the caller must stop applying.
func (e *Engine) Execute(ctx context.Context, cmd *model.Command) error {
	if cmd == nil {
		return status.ErrInvalidArgument.WrapMessage("nil command")
	}
	switch cmd.Type {
	case model.CommandCreateProject:
		return e.executeCreateProject(ctx, cmd)
	case model.CommandCreateRepository:
		return e.executeCreateRepository(ctx, cmd)
	case model.CommandPush:
		return e.executePush(ctx, cmd)
	default:
		return status.ErrStateDiverged.WrapMessage("unknown command type %q at index %d", cmd.Type, cmd.Index)
	}
}

func (e *Engine) executeCreateProject(ctx context.Context, cmd *model.Command) error {
	var payload model.CreateProjectCommand
	if err := cmd.DecodePayload(&payload); err != nil {
		return status.ErrStateDiverged.Wrap(err)
	}
	stamp := time.UnixMilli(cmd.SubmittedAt).UTC()
	pd := model.ProjectDescriptor{Name: payload.Name, Timestamp: stamp, Creator: payload.Author}
	if err := pd.Validate(); err != nil {
		return status.ErrStateDiverged.Wrap(err)
	}
	if err := e.putDescriptorOnce(ctx, model.GetArchivePathToProjectDescriptor(pd.Name), pd); err != nil {
		return err
	}
	// every project owns a meta repository from birth
	if err := e.materializeRepo(ctx, payload.Name, model.MetaRepoName, payload.Author, stamp); err != nil {
		return err
	}
	e.l.Info("created project",
		zap.String("project", payload.Name),
		zap.String("creator", payload.Author.String()),
	)
	return nil
}

func (e *Engine) executeCreateRepository(ctx context.Context, cmd *model.Command) error {
	var payload model.CreateRepositoryCommand
	if err := cmd.DecodePayload(&payload); err != nil {
		return status.ErrStateDiverged.Wrap(err)
	}
	stamp := time.UnixMilli(cmd.SubmittedAt).UTC()
	if err := e.materializeRepo(ctx, payload.Project, payload.Name, payload.Author, stamp); err != nil {
		return err
	}
	e.l.Info("created repository",
		zap.String("project", payload.Project),
		zap.String("repository", payload.Name),
		zap.String("creator", payload.Author.String()),
	)
	return nil
}

// materializeRepo persists a repository descriptor and its initial empty
// commit at revision 1.
func (e *Engine) materializeRepo(ctx context.Context, project, name string, author model.Contributor, stamp time.Time) error {
	rd := model.RepoDescriptor{Project: project, Name: name, Timestamp: stamp, Creator: author}
	if err := rd.Validate(); err != nil {
		return status.ErrStateDiverged.Wrap(err)
	}
	if err := e.putDescriptorOnce(ctx, model.GetArchivePathToRepoDescriptor(project, name), rd); err != nil {
		return err
	}
	initial := &model.CommitDescriptor{
		Project:    project,
		Repository: name,
		Revision:   model.InitialRevision,
		Author:     author,
		Summary:    "initialize repository",
		Timestamp:  stamp,
	}
	if _, err := e.trees.ApplyCommit(ctx, initial); err != nil {
		return err
	}
	e.signals.bump(repoKey(project, name))
	return nil
}

func (e *Engine) executePush(ctx context.Context, cmd *model.Command) error {
	var payload model.PushCommand
	if err := cmd.DecodePayload(&payload); err != nil {
		return status.ErrStateDiverged.Wrap(err)
	}
	commit := payload.Commit
	if _, err := e.GetRepository(ctx, commit.Project, commit.Repository); err != nil {
		return status.ErrStateDiverged.Wrap(err)
	}
	snap, err := e.trees.ApplyCommit(ctx, &commit)
	if err != nil {
		return err
	}
	e.signals.bump(repoKey(commit.Project, commit.Repository))
	e.l.Info("pushed commit",
		zap.String("project", commit.Project),
		zap.String("repository", commit.Repository),
		zap.Int64("revision", int64(commit.Revision)),
		zap.String("author", commit.Author.String()),
		zap.String("tree", snap.TreeHash()),
	)
	return nil
}
