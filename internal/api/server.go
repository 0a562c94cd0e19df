// Package api exposes a dispatchd node's Core over HTTP: command
// submission, status polling, and a server-sent-events stream of
// quarantine and role-change notifications.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/dispatchd/internal/command"
	"github.com/mattjoyce/dispatchd/internal/events"
)

// core is the subset of dispatch.Core the HTTP ingress needs. Declared as
// an interface so handler tests can substitute a fake instead of wiring a
// real queue/pool/coordinator.
type core interface {
	Submit(cmd *command.Command) error
	Responses() <-chan *command.Command
	Status() (json.RawMessage, error)
	Events() *events.Hub
}

// Server is the HTTP ingress in front of one dispatch.Core.
type Server struct {
	config Config
	core   core
	logger *slog.Logger
	server *http.Server

	mu      sync.Mutex
	waiters map[string]chan *command.Command
}

// New builds a Server bound to c. It does not start listening.
func New(config Config, c core, logger *slog.Logger) *Server {
	if config.ResponseWait <= 0 {
		config.ResponseWait = 30 * time.Second
	}
	return &Server{
		config:  config,
		core:    c,
		logger:  logger,
		waiters: make(map[string]chan *command.Command),
	}
}

// Start runs the response pump and the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	go s.pump(ctx)

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.ResponseWait + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("api server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// pump drains core.Responses() and routes each finished command to
// whichever handler goroutine is waiting on its ID. A response for a
// command nobody is waiting on (the waiter already timed out and walked
// away) is logged and dropped.
func (s *Server) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-s.core.Responses():
			if !ok {
				return
			}
			s.mu.Lock()
			ch, found := s.waiters[cmd.ID]
			if found {
				delete(s.waiters, cmd.ID)
			}
			s.mu.Unlock()

			if !found {
				s.logger.Warn("response for unknown or abandoned waiter", "command_id", cmd.ID)
				continue
			}
			ch <- cmd
		}
	}
}

func (s *Server) register(id string) chan *command.Command {
	ch := make(chan *command.Command, 1)
	s.mu.Lock()
	s.waiters[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *Server) abandon(id string) {
	s.mu.Lock()
	delete(s.waiters, id)
	s.mu.Unlock()
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Post("/commands", s.handleSubmit)
	r.Get("/events", s.handleEvents)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
