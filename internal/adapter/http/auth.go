package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/vidpipe/internal/infrastructure/logger"
)

type AuthService interface {
	Enabled() bool
	ValidateToken(token string) error
	IssueTicket() string
	ValidateTicket(ticket string) error
}

// requireToken guards next with the bearer token.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return s.guard(next, false)
}

// requireTicket guards the event stream, which also accepts a ticket query
// parameter since EventSource cannot set headers.
func (s *Server) requireTicket(next http.HandlerFunc) http.HandlerFunc {
	return s.guard(next, true)
}

func (s *Server) guard(next http.HandlerFunc, allowTicket bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authSvc.Enabled() {
			next(w, r)
			return
		}

		clientID := clientIP(r, s.behindProxy)
		if blocked, remaining := s.limiter.Blocked(clientID); blocked {
			tooManyAttempts(w, remaining)
			return
		}

		if s.authorized(r, allowTicket) {
			s.limiter.Reset(clientID)
			next(w, r)
			return
		}

		blocked, remaining := s.limiter.RecordFailure(clientID)
		logger.Warn.Printf("rejected request from %s to %s", clientID, logger.SanitizeForLog(r.URL.Path))

		delay := s.backoff.Duration(s.limiter.Failures(clientID))
		if !sleepCtx(r.Context(), delay) {
			return
		}
		if blocked {
			tooManyAttempts(w, remaining)
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
	}
}

func (s *Server) authorized(r *http.Request, allowTicket bool) bool {
	if token, ok := bearerToken(r); ok {
		return s.authSvc.ValidateToken(token) == nil
	}
	if allowTicket {
		if ticket := r.URL.Query().Get("ticket"); ticket != "" {
			return s.authSvc.ValidateTicket(ticket) == nil
		}
	}
	return false
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func tooManyAttempts(w http.ResponseWriter, remaining time.Duration) {
	secs := int(remaining.Round(time.Second) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	writeError(w, http.StatusTooManyRequests, "too many failed attempts")
}

// clientIP identifies the caller for rate limiting. Behind a proxy the first
// X-Forwarded-For hop is trusted.
func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
