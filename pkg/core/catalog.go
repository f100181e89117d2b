package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	yaml "gopkg.in/yaml.v2"

	"github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/model"
	"github.com/treelinehq/treeline/pkg/storage"
	storagestatus "github.com/treelinehq/treeline/pkg/storage/status"
)

// GetProject loads a project descriptor.
func (e *Engine) GetProject(ctx context.Context, name string) (model.ProjectDescriptor, error) {
	var pd model.ProjectDescriptor
	err := e.getDescriptor(ctx, model.GetArchivePathToProjectDescriptor(name), &pd)
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotFound) {
			return model.ProjectDescriptor{}, status.ErrProjectNotFound.WrapMessage("project %q", name)
		}
		return model.ProjectDescriptor{}, err
	}
	return pd, nil
}

// GetRepository loads a repository descriptor.
func (e *Engine) GetRepository(ctx context.Context, project, repo string) (model.RepoDescriptor, error) {
	var rd model.RepoDescriptor
	err := e.getDescriptor(ctx, model.GetArchivePathToRepoDescriptor(project, repo), &rd)
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotFound) {
			return model.RepoDescriptor{}, status.ErrRepositoryNotFound.WrapMessage("repository %s/%s", project, repo)
		}
		return model.RepoDescriptor{}, err
	}
	return rd, nil
}

// ListProjects lists all project descriptors in name order.
func (e *Engine) ListProjects(ctx context.Context) ([]model.ProjectDescriptor, error) {
	keys, err := e.descriptorKeys(ctx, model.GetArchivePathPrefixToProjects())
	if err != nil {
		return nil, err
	}
	projects := make([]model.ProjectDescriptor, 0, len(keys))
	for _, key := range keys {
		var pd model.ProjectDescriptor
		if err := e.getDescriptor(ctx, key, &pd); err != nil {
			return nil, err
		}
		projects = append(projects, pd)
	}
	return projects, nil
}

// ListRepositories lists the repository descriptors of a project in name
// order.
func (e *Engine) ListRepositories(ctx context.Context, project string) ([]model.RepoDescriptor, error) {
	if _, err := e.GetProject(ctx, project); err != nil {
		return nil, err
	}
	keys, err := e.descriptorKeys(ctx, model.GetArchivePathPrefixToRepos(project))
	if err != nil {
		return nil, err
	}
	repos := make([]model.RepoDescriptor, 0, len(keys))
	for _, key := range keys {
		var rd model.RepoDescriptor
		if err := e.getDescriptor(ctx, key, &rd); err != nil {
			return nil, err
		}
		repos = append(repos, rd)
	}
	return repos, nil
}

// descriptorKeys pages through all archive keys under a prefix, in key order.
func (e *Engine) descriptorKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		token string
	)
	for {
		page, next, err := e.meta.KeysPrefix(ctx, token, prefix, "", e.pageSize)
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		if next == "" {
			return keys, nil
		}
		token = next
	}
}

func (e *Engine) getDescriptor(ctx context.Context, key string, into interface{}) error {
	rdr, err := e.meta.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rdr.Close() }()
	buffer, err := io.ReadAll(rdr)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(buffer, into); err != nil {
		return fmt.Errorf("corrupt descriptor at %s: %w", key, err)
	}
	return nil
}

// putDescriptorOnce persists a descriptor exactly once: re-persisting the
// identical descriptor is a no-op, anything else contradicts the log.
func (e *Engine) putDescriptorOnce(ctx context.Context, key string, desc interface{}) error {
	buffer, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}
	err = e.meta.Put(ctx, key, bytes.NewReader(buffer), storage.NoOverWrite)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storagestatus.ErrExists) {
		return err
	}
	rdr, err := e.meta.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rdr.Close() }()
	existing, err := io.ReadAll(rdr)
	if err != nil {
		return err
	}
	if !bytes.Equal(existing, buffer) {
		return status.ErrStateDiverged.WrapMessage("descriptor %s is already persisted differently", key)
	}
	return nil
}
