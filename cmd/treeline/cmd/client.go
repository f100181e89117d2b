package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/treelinehq/treeline/pkg/model"
	"github.com/treelinehq/treeline/pkg/web"
)

// defaultRequestTimeout bounds every API call except watch, which sets
// its own deadline from the requested watch timeout.
const defaultRequestTimeout = 30 * time.Second

// apiClient talks to a treeline server, sharing its wire types with pkg/web.
type apiClient struct {
	remote string
	http   *http.Client
}

func newAPIClient(remote string) (*apiClient, error) {
	if remote == "" {
		return nil, fmt.Errorf("no remote: pass --remote or set \"remote\" in the config file")
	}
	if !strings.Contains(remote, "://") {
		remote = "http://" + remote
	}
	return &apiClient{
		remote: strings.TrimRight(remote, "/"),
		http:   &http.Client{},
	}, nil
}

// remoteURL yields the server base URL from the flag or the config file.
func remoteURL() string {
	if treelineFlags.root.remote != "" {
		return treelineFlags.root.remote
	}
	return viper.GetString("remote")
}

// resolveAuthor builds the contributor from flags, falling back to the
// author.name and author.email keys of the config file.
func resolveAuthor() (model.Contributor, error) {
	name := treelineFlags.author.name
	if name == "" {
		name = viper.GetString("author.name")
	}
	email := treelineFlags.author.email
	if email == "" {
		email = viper.GetString("author.email")
	}
	if name == "" && email == "" {
		return model.Contributor{},
			fmt.Errorf("no author: pass --author-name or --author-email, or set author.name in the config file")
	}
	return model.Contributor{Name: name, Email: email}, nil
}

func (c *apiClient) projectPath(project string) string {
	return "/api/v1/projects/" + url.PathEscape(project)
}

func (c *apiClient) repoPath(project, repo string) string {
	return c.projectPath(project) + "/repos/" + url.PathEscape(repo)
}

// do sends one request and decodes the answer into `into` when not nil.
// Non-2xx answers come back as errors built from the server's error body.
func (c *apiClient) do(ctx context.Context, method, pth string, body, into interface{}) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.remote+pth, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drainBody(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if into == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// drainBody consumes what is left of a response so the connection can be
// reused.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// decodeAPIError turns the server's error body into an error. The kind is
// kept in the message so scripts can tell a conflict from a missing path.
func decodeAPIError(resp *http.Response) error {
	var apiErr web.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
		return fmt.Errorf("remote answered %s", resp.Status)
	}
	if apiErr.Kind == "" {
		return fmt.Errorf("%s", apiErr.Error)
	}
	return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Kind)
}

func (c *apiClient) createProject(ctx context.Context, name string, author model.Contributor) (model.ProjectDescriptor, error) {
	var pd model.ProjectDescriptor
	err := c.do(ctx, http.MethodPost, "/api/v1/projects", web.CreateRequest{Name: name, Author: author}, &pd)
	return pd, err
}

func (c *apiClient) listProjects(ctx context.Context) ([]model.ProjectDescriptor, error) {
	var projects []model.ProjectDescriptor
	err := c.do(ctx, http.MethodGet, "/api/v1/projects", nil, &projects)
	return projects, err
}

func (c *apiClient) createRepository(ctx context.Context, project, name string, author model.Contributor) (model.RepoDescriptor, error) {
	var rd model.RepoDescriptor
	err := c.do(ctx, http.MethodPost, c.projectPath(project)+"/repos", web.CreateRequest{Name: name, Author: author}, &rd)
	return rd, err
}

func (c *apiClient) listRepositories(ctx context.Context, project string) ([]model.RepoDescriptor, error) {
	var repos []model.RepoDescriptor
	err := c.do(ctx, http.MethodGet, c.projectPath(project)+"/repos", nil, &repos)
	return repos, err
}

func (c *apiClient) push(ctx context.Context, project, repo string, req web.PushRequest) (web.PushResponse, error) {
	var confirmed web.PushResponse
	err := c.do(ctx, http.MethodPost, c.repoPath(project, repo)+"/contents", req, &confirmed)
	return confirmed, err
}

func (c *apiClient) getEntry(ctx context.Context, project, repo string, rev model.Revision, pth string) (model.Entry, error) {
	var entry model.Entry
	err := c.do(ctx, http.MethodGet, c.repoPath(project, repo)+"/contents"+pth+revisionQuery(rev), nil, &entry)
	return entry, err
}

func (c *apiClient) listEntries(ctx context.Context, project, repo string, rev model.Revision, pth string) (model.Entries, error) {
	var entries model.Entries
	err := c.do(ctx, http.MethodGet, c.repoPath(project, repo)+"/list"+pth+revisionQuery(rev), nil, &entries)
	return entries, err
}

func (c *apiClient) history(ctx context.Context, project, repo string, from, to model.Revision, maxCommits int) ([]model.CommitDescriptor, error) {
	query := url.Values{}
	if from != 0 {
		query.Set("from", formatRevision(from))
	}
	if to != 0 {
		query.Set("to", formatRevision(to))
	}
	if maxCommits > 0 {
		query.Set("maxCommits", strconv.Itoa(maxCommits))
	}
	var commits []model.CommitDescriptor
	err := c.do(ctx, http.MethodGet, c.repoPath(project, repo)+"/commits"+encodeQuery(query), nil, &commits)
	return commits, err
}

func (c *apiClient) compare(ctx context.Context, project, repo string, from, to model.Revision) ([]model.Change, error) {
	query := url.Values{}
	if from != 0 {
		query.Set("from", formatRevision(from))
	}
	if to != 0 {
		query.Set("to", formatRevision(to))
	}
	var changes []model.Change
	err := c.do(ctx, http.MethodGet, c.repoPath(project, repo)+"/compare"+encodeQuery(query), nil, &changes)
	return changes, err
}

// watch long-polls the repository head. It reports false without error
// when the head did not move before the server's deadline.
func (c *apiClient) watch(ctx context.Context, project, repo string, lastKnown model.Revision, timeout time.Duration) (model.Revision, bool, error) {
	query := url.Values{}
	if lastKnown > 0 {
		query.Set("lastKnownRevision", formatRevision(lastKnown))
	}
	if timeout > 0 {
		query.Set("timeout", timeout.String())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.remote+c.repoPath(project, repo)+"/watch"+encodeQuery(query), nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer drainBody(resp)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return 0, false, nil
	case resp.StatusCode >= http.StatusBadRequest:
		return 0, false, decodeAPIError(resp)
	}
	var rev web.RevisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&rev); err != nil {
		return 0, false, err
	}
	return rev.Revision, true, nil
}

func (c *apiClient) health(ctx context.Context) (web.HealthResponse, error) {
	var health web.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &health)
	return health, err
}

func revisionQuery(rev model.Revision) string {
	if rev == 0 {
		return ""
	}
	return "?revision=" + formatRevision(rev)
}

func formatRevision(rev model.Revision) string {
	return strconv.FormatInt(int64(rev), 10)
}

func encodeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	return "?" + query.Encode()
}
