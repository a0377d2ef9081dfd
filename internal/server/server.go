// Package server hosts the HTTP API: optimization routes, system status
// and the websocket event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/events"
	"github.com/aristath/opticut/internal/resilience"
	"github.com/aristath/opticut/internal/tenant"
	"github.com/aristath/opticut/internal/workpool"
)

// Config holds server configuration.
type Config struct {
	Port     int
	Log      zerolog.Logger
	Bus      *events.Bus
	Pool     *workpool.Pool
	Breakers []*resilience.Breaker
	DevMode  bool
}

// Server is the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	bus      *events.Bus
	pool     *workpool.Pool
	breakers []*resilience.Breaker
	stream   *eventStream
	log      zerolog.Logger
}

// New creates the server. Module routes are mounted afterwards with Mount.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		bus:      cfg.Bus,
		pool:     cfg.Pool,
		breakers: cfg.Breakers,
		stream:   newEventStream(cfg.Bus),
		log:      cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Mount attaches a module's routes under /api/<prefix>.
func (s *Server) Mount(prefix string, register func(chi.Router)) {
	s.router.Route("/api"+prefix, register)
}

// Router exposes the mux. Used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(tenantMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-Id", "X-Correlation-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api/system", func(r chi.Router) {
		r.Get("/status", s.handleSystemStatus)
	})
	s.router.Get("/ws/events", s.handleEventStream)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// tenantMiddleware scopes the request to the tenant named in X-Tenant-Id.
func tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID := r.Header.Get("X-Tenant-Id"); tenantID != "" {
			r = r.WithContext(tenant.WithTenant(r.Context(), tenantID))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
