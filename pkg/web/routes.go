package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// InitRouter assembles the routes of a server.
func InitRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HandleHealth())
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1/projects", func(r chi.Router) {
		r.Post("/", s.HandleCreateProject())
		r.Get("/", s.HandleListProjects())
		r.Route("/{project}/repos", func(r chi.Router) {
			r.Post("/", s.HandleCreateRepository())
			r.Get("/", s.HandleListRepositories())
			r.Route("/{repo}", func(r chi.Router) {
				r.Post("/contents", s.HandlePush())
				r.Get("/contents/*", s.HandleGetEntry())
				r.Get("/list", s.HandleListEntries())
				r.Get("/list/*", s.HandleListEntries())
				r.Get("/commits", s.HandleHistory())
				r.Get("/compare", s.HandleDiff())
				r.Get("/watch", s.HandleWatch())
			})
		})
	})
	return r
}

// instrument wraps every request with logging and, when configured,
// metrics keyed by the chi route pattern rather than the raw path.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unrouted"
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, ww.Status(), elapsed)
		}
		s.l.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
		)
	})
}
