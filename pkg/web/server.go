// Package web serves the HTTP API of a node: catalog and repository
// operations under /api/v1, a health summary and prometheus metrics.
//
// Handlers read through the node's engine and write through its proposer,
// so every response reflects locally applied replicated state. Errors fold
// into a closed Kind enum; the kind-to-status mapping is injected at
// construction.
package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/cluster"
	corestatus "github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/errors"
	"github.com/treelinehq/treeline/pkg/metrics"
)

const (
	// DefaultMaxBodyBytes caps request bodies. Individual file contents
	// are bounded separately by the engine's content size limit.
	DefaultMaxBodyBytes = 8 << 20

	defaultWatchTimeout = time.Minute
	maxWatchTimeout     = 5 * time.Minute
)

// Server owns the HTTP handlers of one node.
type Server struct {
	node         *cluster.Node
	metrics      *metrics.Metrics
	statusOf     StatusOf
	maxBodyBytes int64
	l            *zap.Logger
}

// ServerOption alters the construction of a server.
type ServerOption func(*Server)

// ServerWithLogger sets a logger on the server.
func ServerWithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.l = l
		}
	}
}

// ServerWithMetrics publishes request, push and scrape metrics.
func ServerWithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// ServerWithStatusMapper substitutes the kind-to-status mapping.
func ServerWithStatusMapper(statusOf StatusOf) ServerOption {
	return func(s *Server) {
		if statusOf != nil {
			s.statusOf = statusOf
		}
	}
}

// ServerWithMaxBodyBytes caps request bodies.
func ServerWithMaxBodyBytes(limit int64) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.maxBodyBytes = limit
		}
	}
}

// NewServer builds the API server of a node.
func NewServer(node *cluster.Node, opts ...ServerOption) *Server {
	s := &Server{
		node:         node,
		statusOf:     DefaultStatusOf,
		maxBodyBytes: DefaultMaxBodyBytes,
		l:            zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.l.Warn("cannot write response body", zap.Error(err))
	}
}

// ErrorResponse is the body of every non-2xx answer: the full error chain
// and the kind that selected the status code.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	code := s.statusOf(kind)
	if code >= http.StatusInternalServerError {
		s.l.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	s.writeJSON(w, code, ErrorResponse{Error: chainMessage(err), Kind: kind.String()})
}

// decode reads a JSON request body, bounded by the server's body limit.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, into interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return corestatus.ErrInvalidArgument.WrapMessage("cannot decode request body: %w", err)
	}
	return nil
}

// chainMessage joins the messages along an error chain. Sentinel errors
// carry their detail in the nested error, while fmt-wrapped errors repeat
// it, so a part already present is not appended again.
func chainMessage(err error) string {
	msg := err.Error()
	for nested := errors.Unwrap(err); nested != nil; nested = errors.Unwrap(nested) {
		part := nested.Error()
		if part == "" || strings.Contains(msg, part) {
			continue
		}
		msg += ": " + part
	}
	return msg
}
