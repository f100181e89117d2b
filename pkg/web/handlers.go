package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/treelinehq/treeline/pkg/core"
	corestatus "github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/errors"
	"github.com/treelinehq/treeline/pkg/metrics"
	"github.com/treelinehq/treeline/pkg/model"
)

// CreateRequest names a project or repository to create.
type CreateRequest struct {
	Name   string            `json:"name"`
	Author model.Contributor `json:"author"`
}

// PushRequest carries one commit proposal. A zero BaseRevision means the
// current head.
type PushRequest struct {
	BaseRevision model.Revision    `json:"baseRevision"`
	Author       model.Contributor `json:"author"`
	Summary      string            `json:"summary"`
	Detail       string            `json:"detail,omitempty"`
	Changes      []model.Change    `json:"changes"`
}

// PushResponse confirms a commit without echoing its changes back.
type PushResponse struct {
	Revision  model.Revision `json:"revision"`
	TreeHash  string         `json:"treeHash,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RevisionResponse is the body of watch answers.
type RevisionResponse struct {
	Revision model.Revision `json:"revision"`
}

// HealthResponse describes the node behind /healthz.
type HealthResponse struct {
	Role          string `json:"role"`
	QuorumHealthy bool   `json:"quorumHealthy"`
	LastApplied   uint64 `json:"lastApplied"`
}

// HandleHealth reports the node's availability. It always answers 200:
// an isolated node still serves reads, and the body says so.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		avail := s.node.Availability()
		s.writeJSON(w, http.StatusOK, HealthResponse{
			Role:          avail.Role.String(),
			QuorumHealthy: avail.Healthy,
			LastApplied:   s.node.Applier().AppliedIndex(),
		})
	}
}

func (s *Server) HandleCreateProject() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.node.Proposer().CreateProject(r.Context(), req.Name, req.Author); err != nil {
			s.writeError(w, r, err)
			return
		}
		// the proposer waited for local application, so the descriptor
		// is already readable
		pd, err := s.node.Engine().GetProject(r.Context(), req.Name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, pd)
	}
}

func (s *Server) HandleListProjects() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := s.node.Engine().ListProjects(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if projects == nil {
			projects = []model.ProjectDescriptor{}
		}
		s.writeJSON(w, http.StatusOK, projects)
	}
}

func (s *Server) HandleCreateRepository() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := s.decode(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		project := chi.URLParam(r, "project")
		if err := s.node.Proposer().CreateRepository(r.Context(), project, req.Name, req.Author); err != nil {
			s.writeError(w, r, err)
			return
		}
		rd, err := s.node.Engine().GetRepository(r.Context(), project, req.Name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, rd)
	}
}

func (s *Server) HandleListRepositories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repos, err := s.node.Engine().ListRepositories(r.Context(), chi.URLParam(r, "project"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if repos == nil {
			repos = []model.RepoDescriptor{}
		}
		s.writeJSON(w, http.StatusOK, repos)
	}
}

func (s *Server) HandlePush() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PushRequest
		if err := s.decode(w, r, &req); err != nil {
			s.observePush(err)
			s.writeError(w, r, err)
			return
		}
		base := req.BaseRevision
		if base == 0 {
			// absent means head
			base = model.HeadRevision
		}
		commit, err := s.node.Proposer().Push(r.Context(), &core.PushRequest{
			Project:      chi.URLParam(r, "project"),
			Repository:   chi.URLParam(r, "repo"),
			BaseRevision: base,
			Author:       req.Author,
			Summary:      req.Summary,
			Detail:       req.Detail,
			Changes:      req.Changes,
		})
		s.observePush(err)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, PushResponse{
			Revision:  commit.Revision,
			TreeHash:  commit.TreeHash,
			Timestamp: commit.Timestamp,
		})
	}
}

func (s *Server) HandleGetEntry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rev, err := revisionParam(r, "revision", model.HeadRevision)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		entry, err := s.node.Engine().GetEntry(r.Context(),
			chi.URLParam(r, "project"), chi.URLParam(r, "repo"), rev, wildcardPath(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) HandleListEntries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rev, err := revisionParam(r, "revision", model.HeadRevision)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		entries, err := s.node.Engine().ListEntries(r.Context(),
			chi.URLParam(r, "project"), chi.URLParam(r, "repo"), rev, wildcardPath(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if entries == nil {
			entries = model.Entries{}
		}
		s.writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) HandleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := revisionParam(r, "from", model.HeadRevision)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		to, err := revisionParam(r, "to", model.InitialRevision)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		maxCommits, err := intParam(r, "maxCommits", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		commits, err := s.node.Engine().History(r.Context(),
			chi.URLParam(r, "project"), chi.URLParam(r, "repo"), from, to, maxCommits)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if commits == nil {
			commits = []model.CommitDescriptor{}
		}
		s.writeJSON(w, http.StatusOK, commits)
	}
}

func (s *Server) HandleDiff() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := revisionParam(r, "from", model.InitialRevision)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		to, err := revisionParam(r, "to", model.HeadRevision)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		changes, err := s.node.Engine().Diff(r.Context(),
			chi.URLParam(r, "project"), chi.URLParam(r, "repo"), from, to)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if changes == nil {
			changes = []model.Change{}
		}
		s.writeJSON(w, http.StatusOK, changes)
	}
}

// HandleWatch long-polls the repository head. When the head moves past
// lastKnownRevision before the timeout, it answers 200 with the new head,
// otherwise 304.
func (s *Server) HandleWatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lastKnown, err := revisionParam(r, "lastKnownRevision", model.InitialRevision)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		timeout := defaultWatchTimeout
		if raw := r.URL.Query().Get("timeout"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				s.writeError(w, r, corestatus.ErrInvalidArgument.WrapMessage("timeout: invalid duration %q", raw))
				return
			}
			timeout = parsed
		}
		if timeout > maxWatchTimeout {
			timeout = maxWatchTimeout
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		head, err := s.node.Engine().WatchHead(ctx,
			chi.URLParam(r, "project"), chi.URLParam(r, "repo"), lastKnown)
		switch {
		case err == nil:
			s.writeJSON(w, http.StatusOK, RevisionResponse{Revision: head})
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			w.WriteHeader(http.StatusNotModified)
		default:
			s.writeError(w, r, err)
		}
	}
}

// observePush counts a push by its outcome.
func (s *Server) observePush(err error) {
	if s.metrics == nil {
		return
	}
	switch KindOf(err) {
	case KindUnknown:
		if err == nil {
			s.metrics.ObservePush(metrics.PushCommitted)
		} else {
			s.metrics.ObservePush(metrics.PushFailed)
		}
	case KindConflict:
		s.metrics.ObservePush(metrics.PushConflict)
	case KindRedundant:
		s.metrics.ObservePush(metrics.PushRedundant)
	default:
		s.metrics.ObservePush(metrics.PushRejected)
	}
}

// wildcardPath rebuilds the tree path captured by a chi wildcard.
func wildcardPath(r *http.Request) string {
	pth := chi.URLParam(r, "*")
	if !strings.HasPrefix(pth, "/") {
		pth = "/" + pth
	}
	return pth
}

func revisionParam(r *http.Request, name string, fallback model.Revision) (model.Revision, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, corestatus.ErrInvalidArgument.WrapMessage("%s: not a revision: %q", name, raw)
	}
	return model.Revision(parsed), nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, corestatus.ErrInvalidArgument.WrapMessage("%s: not a count: %q", name, raw)
	}
	return parsed, nil
}
