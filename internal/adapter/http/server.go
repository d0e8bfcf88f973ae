package http

import (
	"context"
	"net/http"
	"time"

	"github.com/bnema/vidpipe/internal/adapter/http/middleware"
	"github.com/bnema/vidpipe/internal/adapter/http/ratelimit"
)

type Server struct {
	mux         *http.ServeMux
	handlers    *Handlers
	sseHandler  *SSEHandler
	authSvc     AuthService
	limiter     *ratelimit.FailureLimiter
	backoff     *ratelimit.Backoff
	behindProxy bool
}

// NewServer builds the control API. Passes started through it run under
// runCtx rather than the request context.
func NewServer(runCtx context.Context, pipeline Pipeline, authSvc AuthService, events EventSource, behindProxy bool) *Server {
	limiter := ratelimit.NewFailureLimiter(
		5,
		15*time.Minute,
		30*time.Minute,
	)

	backoff := ratelimit.NewBackoff(
		500*time.Millisecond,
		10*time.Second,
		2.0,
	)

	s := &Server{
		mux:         http.NewServeMux(),
		handlers:    NewHandlers(runCtx, pipeline),
		sseHandler:  NewSSEHandler(events),
		authSvc:     authSvc,
		limiter:     limiter,
		backoff:     backoff,
		behindProxy: behindProxy,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/items", s.requireToken(s.handlers.AddItem()))
	s.mux.HandleFunc("GET /api/items", s.requireToken(s.handlers.ListItems()))
	s.mux.HandleFunc("GET /api/items/{id}", s.requireToken(s.handlers.GetItem()))

	s.mux.HandleFunc("POST /api/playlists", s.requireToken(s.handlers.AddPlaylist()))

	s.mux.HandleFunc("POST /api/pipeline/{action}", s.requireToken(s.handlers.Control()))

	s.mux.HandleFunc("POST /api/tickets", s.requireToken(s.handlers.IssueTicket(s.authSvc)))
	s.mux.HandleFunc("GET /api/events", s.requireTicket(s.sseHandler.Events()))

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.RequestLogger(middleware.SecurityHeaders(s.mux)).ServeHTTP(w, r)
}

// Close stops background housekeeping.
func (s *Server) Close() {
	s.limiter.Stop()
}
