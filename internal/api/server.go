package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-insights/internal/id/uuid"
	"github.com/JakeFAU/page-insights/internal/insights"
	"github.com/JakeFAU/page-insights/internal/metrics"
)

// Listing caps.
const (
	MaxPostLimit     = 100
	MaxFollowerLimit = 1000
	MaxCommentLimit  = 100
)

// PageService is the pipeline surface the handlers depend on.
type PageService interface {
	GetPage(ctx context.Context, username string) (insights.PageDocument, error)
	ListPages(ctx context.Context, filter insights.PageFilter) ([]insights.Page, error)
	ListPosts(ctx context.Context, username string, limit int) ([]insights.Post, error)
	ListFollowers(ctx context.Context, username string, limit int) ([]insights.Follower, error)
	ListComments(ctx context.Context, postID string, limit int) ([]insights.Comment, error)
	Ready() bool
}

// Config tunes the HTTP layer.
type Config struct {
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the page service.
type Server struct {
	router chi.Router
	svc    PageService
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc PageService, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	metrics.Init()

	s := &Server{svc: svc, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/pages", s.listPages)
		r.Route("/page/{username}", func(r chi.Router) {
			r.Get("/", s.getPage)
			r.Get("/posts", s.listPosts)
			r.Get("/followers", s.listFollowers)
		})
		r.Get("/posts/{post_id}/comments", s.listComments)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	doc, err := s.svc.GetPage(r.Context(), username)
	if err != nil {
		s.writeServiceError(w, r, err, "invalid username")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	filter, msg := parsePageFilter(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	pages, err := s.svc.ListPages(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err, "invalid filter")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": nonNil(pages)})
}

func (s *Server) listPosts(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, insights.DefaultPostLimit, MaxPostLimit)
	if !ok {
		return
	}
	posts, err := s.svc.ListPosts(r.Context(), chi.URLParam(r, "username"), limit)
	if err != nil {
		s.writeServiceError(w, r, err, "invalid username")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": nonNil(posts)})
}

func (s *Server) listFollowers(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, insights.DefaultFollowerLimit, MaxFollowerLimit)
	if !ok {
		return
	}
	followers, err := s.svc.ListFollowers(r.Context(), chi.URLParam(r, "username"), limit)
	if err != nil {
		s.writeServiceError(w, r, err, "invalid username")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"followers": nonNil(followers)})
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r, insights.DefaultCommentLimit, MaxCommentLimit)
	if !ok {
		return
	}
	comments, err := s.svc.ListComments(r.Context(), chi.URLParam(r, "post_id"), limit)
	if err != nil {
		s.writeServiceError(w, r, err, "invalid post id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": nonNil(comments)})
}

// writeServiceError maps pipeline errors to responses without exposing their text.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, invalidMsg string) {
	switch {
	case errors.Is(err, insights.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, invalidMsg)
	case errors.Is(err, insights.ErrNotFound):
		writeError(w, http.StatusNotFound, "Page not found")
	case errors.Is(err, insights.ErrDuplicateKey):
		writeError(w, http.StatusConflict, "conflict")
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parsePageFilter(r *http.Request) (insights.PageFilter, string) {
	q := r.URL.Query()
	filter := insights.PageFilter{
		Name:     q.Get("name"),
		Category: q.Get("category"),
	}
	var err error
	if filter.MinFollowers, err = optionalInt64(q.Get("min_followers")); err != nil {
		return filter, "invalid min_followers"
	}
	if filter.MaxFollowers, err = optionalInt64(q.Get("max_followers")); err != nil {
		return filter, "invalid max_followers"
	}
	if filter.Page, err = intOr(q.Get("page"), 1); err != nil {
		return filter, "invalid page"
	}
	if filter.PerPage, err = intOr(q.Get("per_page"), insights.DefaultPerPage); err != nil {
		return filter, "invalid per_page"
	}
	return filter.Normalized(), ""
}

// limitParam parses ?limit=, writing a 400 itself when it is malformed.
func limitParam(w http.ResponseWriter, r *http.Request, def, maxLimit int) (int, bool) {
	limit, err := intOr(r.URL.Query().Get("limit"), def)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	if limit <= 0 {
		limit = def
	}
	return min(limit, maxLimit), true
}

func optionalInt64(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func intOr(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error": "request timed out"}`)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
