package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/pkg/cluster"
	"github.com/treelinehq/treeline/pkg/cmdlog/memlog"
	"github.com/treelinehq/treeline/pkg/core"
	"github.com/treelinehq/treeline/pkg/metrics"
	"github.com/treelinehq/treeline/pkg/model"
	"github.com/treelinehq/treeline/pkg/storage/localfs"
	"github.com/treelinehq/treeline/pkg/tlogger"
)

var testAuthor = model.Contributor{Name: "ops", Email: "ops@example.org"}

const testWait = 3 * time.Second

func newTestNode(t *testing.T) *cluster.Node {
	t.Helper()
	log := memlog.New()
	engine := core.New(localfs.New(afero.NewMemMapFs()),
		core.WithLogger(tlogger.MustGetLogger(tlogger.LogLevelNone)),
	)
	node := cluster.NewNode("api-test", engine, log,
		cluster.NodeWithStandaloneElection(),
		cluster.NodeWithProposalTimeout(testWait),
	)
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(func() {
		node.Stop()
		require.NoError(t, log.Close())
	})
	require.Eventually(t, func() bool { return node.Availability().Writable() },
		testWait, time.Millisecond)
	return node
}

func newTestRouter(t *testing.T, opts ...ServerOption) http.Handler {
	t.Helper()
	return InitRouter(NewServer(newTestNode(t), opts...))
}

func doJSON(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(buf)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, rdr))
	return w
}

func fromJSON(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), into),
		"body: %s", w.Body.String())
}

func requireErrorKind(t *testing.T, w *httptest.ResponseRecorder, code int, kind string) {
	t.Helper()
	require.Equal(t, code, w.Code, "body: %s", w.Body.String())
	var body ErrorResponse
	fromJSON(t, w, &body)
	assert.Equal(t, kind, body.Kind)
	assert.NotEmpty(t, body.Error)
}

func pushBody(base model.Revision, summary string, changes ...model.Change) PushRequest {
	return PushRequest{
		BaseRevision: base,
		Author:       testAuthor,
		Summary:      summary,
		Changes:      changes,
	}
}

func upsert(pth, content string) model.Change {
	return model.Change{Kind: model.ChangeKindUpsert, Path: pth, Content: []byte(content)}
}

func TestAPICatalog(t *testing.T) {
	h := newTestRouter(t)

	w := doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	var pd model.ProjectDescriptor
	fromJSON(t, w, &pd)
	assert.Equal(t, "acme", pd.Name)
	assert.Equal(t, testAuthor, pd.Creator)

	// creating it again conflicts
	w = doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})
	requireErrorKind(t, w, http.StatusConflict, "already-exists")

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var projects []model.ProjectDescriptor
	fromJSON(t, w, &projects)
	require.Len(t, projects, 1)
	assert.Equal(t, "acme", projects[0].Name)

	w = doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos", CreateRequest{Name: "main", Author: testAuthor})
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	var rd model.RepoDescriptor
	fromJSON(t, w, &rd)
	assert.Equal(t, "acme", rd.Project)
	assert.Equal(t, "main", rd.Name)

	// every project owns a meta repository from birth
	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var repos []model.RepoDescriptor
	fromJSON(t, w, &repos)
	names := make([]string, 0, len(repos))
	for _, repo := range repos {
		names = append(names, repo.Name)
	}
	assert.ElementsMatch(t, []string{"main", model.MetaRepoName}, names)

	w = doJSON(t, h, http.MethodPost, "/api/v1/projects/ghost/repos", CreateRequest{Name: "main", Author: testAuthor})
	requireErrorKind(t, w, http.StatusNotFound, "not-found")

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/ghost/repos", nil)
	requireErrorKind(t, w, http.StatusNotFound, "not-found")
}

func TestAPIPushAndRead(t *testing.T) {
	h := newTestRouter(t)
	doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})
	doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos", CreateRequest{Name: "main", Author: testAuthor})

	w := doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(model.HeadRevision, "add settings",
			upsert("/settings.json", `{"timeout": 3}`),
			upsert("/flags/beta.json", `true`),
		))
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var pushed PushResponse
	fromJSON(t, w, &pushed)
	assert.Equal(t, model.Revision(2), pushed.Revision)
	assert.NotEmpty(t, pushed.TreeHash)

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/contents/settings.json", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var entry model.Entry
	fromJSON(t, w, &entry)
	assert.Equal(t, "/settings.json", entry.Path)
	assert.Equal(t, `{"timeout": 3}`, string(entry.Content))

	// the initial revision is an empty tree
	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/contents/settings.json?revision=1", nil)
	requireErrorKind(t, w, http.StatusNotFound, "not-found")

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/contents/settings.json?revision=99", nil)
	requireErrorKind(t, w, http.StatusNotFound, "not-found")

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/contents/settings.json?revision=two", nil)
	requireErrorKind(t, w, http.StatusBadRequest, "malformed")

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries model.Entries
	fromJSON(t, w, &entries)
	require.Len(t, entries, 2)

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/list/flags", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries = nil
	fromJSON(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "/flags/beta.json", entries[0].Path)

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/ghost/list", nil)
	requireErrorKind(t, w, http.StatusNotFound, "not-found")
}

func TestAPIPushConflicts(t *testing.T) {
	h := newTestRouter(t)
	doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})
	doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos", CreateRequest{Name: "main", Author: testAuthor})
	doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(model.HeadRevision, "seed", upsert("/a.json", `1`)))
	doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(model.HeadRevision, "advance", upsert("/a.json", `2`)))

	// base 2 no longer owns /a.json: revision 3 touched it
	w := doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(2, "stale", upsert("/a.json", `3`)))
	requireErrorKind(t, w, http.StatusConflict, "conflict")

	// a non-overlapping change against the same stale base rebases
	w = doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(2, "unrelated", upsert("/b.json", `4`)))
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	var pushed PushResponse
	fromJSON(t, w, &pushed)
	assert.Equal(t, model.Revision(4), pushed.Revision)

	// pushing identical bytes changes nothing
	w = doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(model.HeadRevision, "noop", upsert("/b.json", `4`)))
	requireErrorKind(t, w, http.StatusConflict, "redundant")

	w = doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents", "not an object")
	requireErrorKind(t, w, http.StatusBadRequest, "malformed")
}

func TestAPIHistoryAndCompare(t *testing.T) {
	h := newTestRouter(t)
	doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})
	doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos", CreateRequest{Name: "main", Author: testAuthor})
	doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(model.HeadRevision, "first", upsert("/a.json", `1`)))
	doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(model.HeadRevision, "second", upsert("/b.json", `2`)))

	// default walk: head down to revision 1
	w := doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/commits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var commits []model.CommitDescriptor
	fromJSON(t, w, &commits)
	require.Len(t, commits, 3)
	assert.Equal(t, model.Revision(3), commits[0].Revision)
	assert.Equal(t, "second", commits[0].Summary)
	assert.Equal(t, model.Revision(1), commits[2].Revision)

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/commits?from=1&to=-1&maxCommits=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	commits = nil
	fromJSON(t, w, &commits)
	require.Len(t, commits, 2)
	assert.Equal(t, model.Revision(1), commits[0].Revision)
	assert.Equal(t, model.Revision(2), commits[1].Revision)

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/commits?from=9", nil)
	requireErrorKind(t, w, http.StatusNotFound, "not-found")

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/compare?from=2&to=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var changes []model.Change
	fromJSON(t, w, &changes)
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeKindUpsert, changes[0].Kind)
	assert.Equal(t, "/b.json", changes[0].Path)

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/compare?from=x", nil)
	requireErrorKind(t, w, http.StatusBadRequest, "malformed")
}

func TestAPIWatch(t *testing.T) {
	node := newTestNode(t)
	h := InitRouter(NewServer(node))
	doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})
	doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos", CreateRequest{Name: "main", Author: testAuthor})

	// nothing moves: the long poll times out into 304
	w := doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/watch?lastKnownRevision=1&timeout=50ms", nil)
	require.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	// a push wakes the watcher before its deadline
	type result struct {
		code int
		body []byte
	}
	watchDone := make(chan result, 1)
	go func() {
		w := doJSON(t, h, http.MethodGet,
			"/api/v1/projects/acme/repos/main/watch?lastKnownRevision=1&timeout=3s", nil)
		watchDone <- result{code: w.Code, body: w.Body.Bytes()}
	}()

	// give the watcher a moment to park
	time.Sleep(20 * time.Millisecond)
	w = doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/main/contents",
		pushBody(model.HeadRevision, "wake up", upsert("/a.json", `1`)))
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	select {
	case got := <-watchDone:
		require.Equal(t, http.StatusOK, got.code, "body: %s", got.body)
		var rev RevisionResponse
		require.NoError(t, json.Unmarshal(got.body, &rev))
		assert.Equal(t, model.Revision(2), rev.Revision)
	case <-time.After(testWait):
		t.Fatal("watcher never woke up")
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/projects/acme/repos/main/watch?timeout=bogus", nil)
	requireErrorKind(t, w, http.StatusBadRequest, "malformed")
}

func TestAPIReadOnlyFollower(t *testing.T) {
	// a node that never started an election stays a follower
	log := memlog.New()
	engine := core.New(localfs.New(afero.NewMemMapFs()),
		core.WithLogger(tlogger.MustGetLogger(tlogger.LogLevelNone)),
	)
	node := cluster.NewNode("follower", engine, log)
	t.Cleanup(func() { require.NoError(t, log.Close()) })
	h := InitRouter(NewServer(node))

	w := doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})
	requireErrorKind(t, w, http.StatusServiceUnavailable, "read-only")

	// reads still work
	w = doJSON(t, h, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	fromJSON(t, w, &health)
	assert.Equal(t, "follower", health.Role)
	assert.False(t, health.QuorumHealthy)
	assert.Zero(t, health.LastApplied)
}

func TestAPIHealthAndMetrics(t *testing.T) {
	m := metrics.New("")
	h := newTestRouter(t, ServerWithMetrics(m))

	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	fromJSON(t, w, &health)
	assert.Equal(t, "leader", health.Role)
	assert.True(t, health.QuorumHealthy)

	doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})

	w = doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "treeline_http_requests_total"), "missing request counter")
	assert.True(t, strings.Contains(body, `route="/healthz"`), "missing healthz route label")
}

func TestAPIBodyLimit(t *testing.T) {
	h := newTestRouter(t, ServerWithMaxBodyBytes(64))
	doJSON(t, h, http.MethodPost, "/api/v1/projects", CreateRequest{Name: "acme", Author: testAuthor})

	w := doJSON(t, h, http.MethodPost, "/api/v1/projects/acme/repos/meta/contents",
		pushBody(model.HeadRevision, "too big", upsert("/big.json", strings.Repeat("x", 1024))))
	requireErrorKind(t, w, http.StatusBadRequest, "malformed")
}
