// Package server provides the HTTP server and routing for Sentinel Invest.
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

	"github.com/aristath/sentinel-invest/internal/config"
)

// requestTimeout bounds ordinary API requests. Task routes and the event
// stream run without it.
const requestTimeout = 60 * time.Second

// RouteRegistrar mounts a module's routes
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Middleware wraps a handler
type Middleware func(http.Handler) http.Handler

// Config holds server dependencies
type Config struct {
	Log    zerolog.Logger
	Config *config.Config

	// Idempotency runs before Authenticate so it can reject a missing key
	// before the token is checked.
	Idempotency  Middleware
	Authenticate Middleware

	// Routes are mounted under the API prefix behind both middlewares
	Routes []RouteRegistrar
	// Tasks are mounted like Routes but without the request timeout
	Tasks []RouteRegistrar
	// Stream serves the websocket event stream; optional
	Stream http.Handler

	System *SystemHandlers
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Idempotency-Replayed", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if s.cfg.Config.RateLimitRPS > 0 {
		limiter := NewIPRateLimiter(s.cfg.Config.RateLimitRPS, s.cfg.Config.RateLimitBurst, s.log)
		s.router.Use(limiter.Handler)
	}
}

func (s *Server) setupRoutes() {
	if s.cfg.System != nil {
		s.router.Get("/health", s.cfg.System.HandleHealth)
	}

	s.router.Route(s.cfg.Config.APIPrefix, func(r chi.Router) {
		if s.cfg.Idempotency != nil {
			r.Use(s.cfg.Idempotency)
		}
		if s.cfg.Authenticate != nil {
			r.Use(s.cfg.Authenticate)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			for _, reg := range s.cfg.Routes {
				reg.RegisterRoutes(r)
			}
			if s.cfg.System != nil {
				r.Get("/system/status", s.cfg.System.HandleSystemStatus)
			}
		})

		r.Group(func(r chi.Router) {
			for _, reg := range s.cfg.Tasks {
				reg.RegisterRoutes(r)
			}
			if s.cfg.Stream != nil {
				r.Get("/stream", s.cfg.Stream.ServeHTTP)
			}
		})
	})
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Config.Port).Str("prefix", s.cfg.Config.APIPrefix).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		event := s.log.Info()
		if ww.Status() >= http.StatusInternalServerError {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
