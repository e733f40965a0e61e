// Package api exposes the interview relay over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/interviewd/internal/auth"
	"github.com/MikeSquared-Agency/interviewd/internal/extractor"
	"github.com/MikeSquared-Agency/interviewd/internal/interview"
	"github.com/MikeSquared-Agency/interviewd/internal/session"
)

// Interviews is the session-facing service the handlers drive.
type Interviews interface {
	StartSession(ctx context.Context, owner string, req interview.StartRequest) (string, extractor.TurnRecord, error)
	Chat(ctx context.Context, owner, sessionID, message string) (extractor.TurnRecord, error)
	ListSessions(ctx context.Context, owner string) ([]session.Summary, error)
	SessionCount(ctx context.Context) (int, error)
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, style string) ([]byte, error)
}

type Options struct {
	Port               int
	AllowedOrigins     []string
	RateLimitPerMinute int
}

type Server struct {
	router     *chi.Mux
	port       int
	interviews Interviews
	speech     Synthesizer
	limiter    *RateLimiter
	logger     *slog.Logger
	http       *http.Server
}

func NewServer(opts Options, interviews Interviews, speech Synthesizer, verifier auth.Verifier, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(recoverJSON(logger))
	router.Use(CORS(opts.AllowedOrigins))
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s := &Server{
		router:     router,
		port:       opts.Port,
		interviews: interviews,
		speech:     speech,
		limiter:    NewRateLimiter(opts.RateLimitPerMinute, time.Minute),
		logger:     logger,
	}

	routes := func(r chi.Router) {
		r.Get("/health", s.health)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier, logger))
			r.Post("/start-session", s.startSession)
			r.With(s.rateLimit).Post("/chat", s.chat)
			r.With(s.rateLimit).Post("/tts", s.tts)
			r.Get("/sessions", s.listSessions)
		})
	}

	router.Get("/", s.index)
	router.Group(routes)
	router.Route("/api", routes)

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		if !s.limiter.Allow(id.Subject) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverJSON turns a handler panic into a JSON 500.
func recoverJSON(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
