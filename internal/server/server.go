package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/oncallhq/mmbridge/internal/handler"
	"github.com/oncallhq/mmbridge/internal/server/middleware"
	"github.com/oncallhq/mmbridge/internal/store"
	"github.com/oncallhq/mmbridge/internal/token"
)

// webhookRateLimit caps unauthenticated-facing webhook endpoints per IP.
const webhookRateLimit = 120

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// WebhookHost is the public root URL embedded in the app manifest.
	WebhookHost string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
	}
}

// Server is the bridge's HTTP server. It owns the Chi router and wires the
// Mattermost-facing webhook endpoints and the host-session API.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	codec      *token.Codec
	queue      handler.Enqueuer
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes and middleware wired. Call
// ListenAndServe to start accepting connections.
func New(cfg Config, s *store.Store, codec *token.Codec, queue handler.Enqueuer, logger *slog.Logger) *Server {
	srv := &Server{
		cfg:    cfg,
		store:  s,
		codec:  codec,
		queue:  queue,
		logger: logger,
	}
	srv.setupRouter()
	return srv
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	manifestHandler := handler.NewManifestHandler(s.cfg.WebhookHost)
	appHandler := handler.NewAppHandler(s.store)
	channelHandler := handler.NewChannelHandler(s.store, s.queue)

	r.Route("/mattermost", func(r chi.Router) {
		// Mattermost-facing callbacks, authenticated by app verification
		// token. Each endpoint reads the token from a different place.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(webhookRateLimit))

			r.With(middleware.AppToken(s.codec, token.QueryToken{})).
				Get("/manifest", manifestHandler.GetManifest)
			r.With(middleware.AppToken(s.codec, token.StateToken{})).
				Post("/install", appHandler.Install)
			r.With(middleware.AppToken(s.codec, token.StateToken{})).
				Post("/bindings", appHandler.Bindings)
		})

		// Internal endpoints, authenticated by the host system's session
		// (an organization-scoped API key).
		r.Group(func(r chi.Router) {
			r.Use(middleware.HostSession(s.store))

			r.Post("/connect", channelHandler.Connect)
			r.Post("/disconnect", channelHandler.Disconnect)
			r.Get("/channels", channelHandler.ListChannels)
			r.Get("/channels/{channelID}", channelHandler.GetChannel)
		})
	})

	s.router = r
}

// Router exposes the configured router, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server and blocks until SIGINT/SIGTERM,
// then drains connections within the shutdown timeout.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.CountChannels(r.Context(), 0); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}
