// Package worker provides the HTTP service exposing the template library,
// settings, and prompt optimization to local clients.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/promptshelf/internal/config"
	"github.com/thebtf/promptshelf/internal/kv"
	"github.com/thebtf/promptshelf/internal/rewrite"
	"github.com/thebtf/promptshelf/internal/store"
	"github.com/thebtf/promptshelf/internal/worker/sse"
	"github.com/thebtf/promptshelf/pkg/models"
)

// maxBodyBytes caps request bodies. Imports are the largest legitimate payload.
const maxBodyBytes = 2 << 20

// Optimizer rewrites prompts.
type Optimizer interface {
	Optimize(ctx context.Context, req rewrite.Request) models.OptimizationResult
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Version   string
	Config    *config.Config
	Store     *store.Store
	Settings  *store.SettingsStore
	Optimizer Optimizer
	Now       func() time.Time
}

// Service is the worker HTTP service.
type Service struct {
	version        string
	config         *config.Config
	store          *store.Store
	settings       *store.SettingsStore
	optimizer      Optimizer
	sseBroadcaster *sse.Broadcaster
	router         chi.Router
	server         *http.Server
	now            func() time.Time
	startTime      time.Time
	ready          atomic.Bool
}

// NewService wires a Service and its routes. Storage changes reported by a
// notifying backend are relayed to SSE clients.
func NewService(deps Deps) *Service {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	svc := &Service{
		version:        deps.Version,
		config:         cfg,
		store:          deps.Store,
		settings:       deps.Settings,
		optimizer:      deps.Optimizer,
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		now:            now,
		startTime:      now(),
	}
	svc.setupRoutes()
	svc.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.WorkerHost, strconv.Itoa(cfg.WorkerPort)),
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if n, ok := deps.Store.Backend().(kv.Notifier); ok {
		n.OnChange(svc.publishChange)
	}
	return svc
}

func (s *Service) publishChange(keys []string) {
	s.sseBroadcaster.Publish(sse.Event{
		Type: "storage",
		Keys: keys,
		Time: models.Timestamp(s.now()),
	})
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/version", s.handleVersion)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(middleware.RequestSize(maxBodyBytes))

		r.Route("/api/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTemplate)
				r.Put("/", s.handleUpdateTemplate)
				r.Delete("/", s.handleDeleteTemplate)
				r.Post("/usage", s.handleIncrementUsage)
				r.Post("/favorite", s.handleToggleFavorite)
				r.Post("/render", s.handleRenderTemplate)
			})
		})

		r.Post("/api/optimize", s.handleOptimize)
		r.Get("/api/settings", s.handleGetSettings)
		r.Patch("/api/settings", s.handleUpdateSettings)
		r.Get("/api/metadata", s.handleGetMetadata)
		r.Get("/api/export", s.handleExport)
		r.Post("/api/import", s.handleImport)
		r.Post("/api/reset", s.handleReset)
		r.Get("/api/events", s.sseBroadcaster.HandleSSE)
	})
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Broadcaster returns the SSE broadcaster.
func (s *Service) Broadcaster() *sse.Broadcaster {
	return s.sseBroadcaster
}

// SetReady marks the service as able to serve API requests.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start serves on the configured address until Shutdown.
func (s *Service) Start() error {
	log.Info().Str("addr", s.server.Addr).Str("version", s.version).Msg("Worker listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.server.Shutdown(ctx)
}

// requireReady rejects API calls until the store is initialized.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service is starting")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors allows the configured origins, typically the browser extension.
func (s *Service) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.config.CORSOrigins))
	for _, o := range s.config.CORSOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
