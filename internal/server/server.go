// Package server implements the HTTP pricing API: a JSON endpoint over
// internal/pricing, a websocket that streams batch progress for a large
// Monte Carlo run, and a health endpoint, built on a chi router with
// the usual Recoverer/RequestID/CORS middleware stack.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/derivscript/internal/archive"
	"github.com/aristath/derivscript/internal/config"
	"github.com/aristath/derivscript/internal/pricing"
	"github.com/aristath/derivscript/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Config holds everything the server needs to construct its routes.
type Config struct {
	Port    int
	DevMode bool
	Log     zerolog.Logger
	Cfg     *config.Config
	Store   *store.Store
	// Archive is optional: nil when no S3 bucket is configured, in which
	// case the archive-on-price-call hook is skipped entirely.
	Archive *archive.Service
}

// Server is the HTTP pricing API.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     *config.Config
	store   *store.Store
	archive *archive.Service
	port    int
}

// New builds a Server with routes and middleware installed but not yet
// listening.
func New(c Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     c.Log.With().Str("component", "server").Logger(),
		cfg:     c.Cfg,
		store:   c.Store,
		archive: c.Archive,
		port:    c.Port,
	}

	s.setupMiddleware(c.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", c.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
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
	s.router.Get("/ws/progress", s.handleProgressWebSocket)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/price", s.handlePrice)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
}

// Start begins serving, blocking until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusForError maps a pricing.Error's Kind to an HTTP status the way
// spec §7's error kinds naturally split between client mistakes (a
// malformed script, an unknown variable) and server-side numeric
// failure.
func statusForError(err error) (int, errorBody) {
	var pErr *pricing.Error
	if errors.As(err, &pErr) {
		body := errorBody{Kind: string(pErr.Kind), Message: pErr.Error()}
		switch pErr.Kind {
		case pricing.NotFound:
			return http.StatusNotFound, body
		case pricing.SyntaxError, pricing.UnexpectedToken, pricing.InvalidOperation:
			return http.StatusBadRequest, body
		default:
			return http.StatusUnprocessableEntity, body
		}
	}
	return http.StatusInternalServerError, errorBody{Kind: "internal_error", Message: err.Error()}
}
