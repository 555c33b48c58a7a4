// Package api serves the HTTP interface under /api/v1.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/lifecycle"
	"github.com/contractr/contractr/internal/outreach"
	"github.com/contractr/contractr/internal/store"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators behind the API.
type Deps struct {
	Store     store.Store
	Lifecycle *lifecycle.Controller
	Outreach  *outreach.Orchestrator
	// AllowedOrigins for CORS. Empty allows any origin.
	AllowedOrigins []string
}

// Server holds the API handlers.
type Server struct {
	store     store.Store
	lifecycle *lifecycle.Controller
	outreach  *outreach.Orchestrator
	origins   []string
}

// New creates a Server.
func New(d Deps) *Server {
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{store: d.Store, lifecycle: d.Lifecycle, outreach: d.Outreach, origins: origins}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(limitBody)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.health)

		api.Route("/projects", func(pr chi.Router) {
			pr.Post("/", s.createProject)
			pr.Get("/", s.listProjects)
			pr.Route("/{id}", func(p chi.Router) {
				p.Get("/", s.getProject)
				p.Get("/events", s.listEvents)
				p.Get("/candidates", s.listCandidates)
				p.Get("/quotes.xlsx", s.exportQuotes)
				p.Post("/close", s.closeProject)
				p.Post("/sourcing/start", s.startSourcing)
				p.Post("/outreach/start", s.startOutreach)
			})
		})
		api.Post("/providers/{id}/outreach/init", s.initOutreach)
		api.Get("/threads/{id}/messages", s.listMessages)
		api.Post("/threads/{id}/messages", s.appendMessage)

		api.Post("/webhooks/email", s.emailWebhook)
		api.Post("/webhooks/sms", s.smsWebhook)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
