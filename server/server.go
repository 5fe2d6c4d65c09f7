// Package server exposes a sessionmesh.Mesh as a JSON-over-HTTP RPC surface.
// Every route maps to exactly one component operation; error kinds map to
// status codes via StatusFor.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/sessionmesh"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// DefaultStaleAfter is the lease timeout used by reclaim requests that do not
// name one.
const DefaultStaleAfter = 5 * time.Minute

// Options configures the HTTP handler.
type Options struct {
	// Logger receives one record per request and recovered panics.
	Logger logging.Logger

	// StaleAfter is the default lease timeout for POST .../tasks/reclaim.
	StaleAfter time.Duration

	// DefaultStyle is used by POST .../report when the request names no
	// style. Empty leaves the choice to the report component.
	DefaultStyle core.ReportStyle
}

// Server routes HTTP requests to a Mesh.
type Server struct {
	mesh         *sessionmesh.Mesh
	logger       logging.Logger
	staleAfter   time.Duration
	defaultStyle core.ReportStyle
	router       chi.Router
}

// New builds the router for mesh.
func New(mesh *sessionmesh.Mesh, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:     logging.NoOpLogger{},
		StaleAfter: DefaultStaleAfter,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	s := &Server{mesh: mesh, logger: opts.Logger, staleAfter: opts.StaleAfter, defaultStyle: opts.DefaultStyle}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))

	r.Get("/health", s.health)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.openSession)
			r.Delete("/", s.deleteSession)
			r.Get("/summary", s.summary)
			r.Post("/complete", s.completeSession)
			r.Post("/fail", s.failSession)

			r.Post("/findings", s.addFinding)
			r.Post("/findings/merge", s.mergeFindings)
			r.Post("/processed", s.markProcessed)
			r.Get("/processed", s.processedFiles)
			r.Get("/files/context", s.fileContext)
			r.Get("/files/summary", s.fileSummary)

			r.Get("/cache", s.cacheStats)
			r.Put("/cache/{tier}/*", s.cachePut)
			r.Get("/cache/{tier}/*", s.cacheGet)
			r.Delete("/cache/{tier}/*", s.cacheInvalidate)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.listTasks)
				r.Post("/", s.createTask)
				r.Get("/ready", s.readyTasks)
				r.Get("/progress", s.taskProgress)
				r.Post("/reclaim", s.reclaimTasks)
				r.Get("/{task}", s.getTask)
				r.Post("/{task}/claim", s.claimTask)
				r.Post("/{task}/heartbeat", s.heartbeatTask)
				r.Post("/{task}/status", s.updateTaskStatus)
			})

			r.Route("/report", func(r chi.Router) {
				r.Get("/", s.finalizeReport)
				r.Post("/", s.initializeReport)
				r.Get("/sections", s.reportSections)
				r.Post("/{section}", s.updateReport)
			})
		})
	})

	return r
}
