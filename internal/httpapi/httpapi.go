// Package httpapi exposes the joke service over HTTP with JSON responses.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"jokeapi/internal/filter"
	"jokeapi/internal/models"
	"jokeapi/internal/search"
	"jokeapi/internal/service"
	"jokeapi/pkg/logger"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// JokeService is the part of *service.Service the handlers use.
type JokeService interface {
	GetJokes(ctx context.Context, req service.Request) (*service.Result, error)
	ClearHistory(ctx context.Context, clientHash string) (int64, error)
	Info() service.Info
}

type Options struct {
	HealthEndpoint  string
	MetricsEndpoint string
	Metrics         http.Handler
	TrustProxy      bool
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	svc   JokeService
	opts  Options
	clock func() time.Time
}

func New(svc JokeService, opts Options) *Server {
	if opts.HealthEndpoint == "" {
		opts.HealthEndpoint = "/healthz"
	}
	return &Server{svc: svc, opts: opts, clock: time.Now}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /joke/{categories}", s.handleJoke)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("POST /clearcache", s.handleClearCache)
	mux.HandleFunc("GET "+s.opts.HealthEndpoint, s.handleHealth)
	if s.opts.Metrics != nil && s.opts.MetricsEndpoint != "" {
		mux.Handle("GET "+s.opts.MetricsEndpoint, s.opts.Metrics)
	}
	return s.withRequestLog(mux)
}

type errorResponse struct {
	Error         bool     `json:"error"`
	InternalError bool     `json:"internalError"`
	Code          int      `json:"code"`
	Message       string   `json:"message"`
	CausedBy      []string `json:"causedBy"`
	RequestID     string   `json:"requestId,omitempty"`
	Timestamp     int64    `json:"timestamp"`
}

type jokesResponse struct {
	Error  bool          `json:"error"`
	Amount int           `json:"amount"`
	Jokes  []models.Joke `json:"jokes"`
}

type clearResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

type infoResponse struct {
	Error bool `json:"error"`
	service.Info
	Timestamp int64 `json:"timestamp"`
}

func (s *Server) handleJoke(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := service.Request{
		ClientHash:     service.ClientHash(s.clientIdentity(r)),
		Categories:     splitList(r.PathValue("categories"), ",+"),
		Type:           q.Get("type"),
		Contains:       q.Get("contains"),
		IDRange:        q.Get("idRange"),
		BlacklistFlags: splitList(q.Get("blacklistFlags"), ",+ "),
		Lang:           q.Get("lang"),
		SafeMode:       q.Has("safe-mode"),
		Amount:         q.Get("amount"),
	}

	res, err := s.svc.GetJokes(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, jokesResponse{Amount: len(res.Jokes), Jokes: res.Jokes})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{Info: s.svc.Info(), Timestamp: s.clock().UnixMilli()})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.svc.ClearHistory(r.Context(), service.ClientHash(s.clientIdentity(r)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Message: "Served joke history cleared", Deleted: deleted})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			logger.Warn("Health check failed", logger.Err(err))
			http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{
		Error:     true,
		Code:      http.StatusBadRequest,
		CausedBy:  []string{},
		RequestID: w.Header().Get(requestIDHeader),
		Timestamp: s.clock().UnixMilli(),
	}

	var filterErrs *filter.FilterErrors
	switch {
	case errors.As(err, &filterErrs):
		resp.Message = "The request contains invalid parameters"
		resp.CausedBy = filterErrs.Messages
	case errors.Is(err, filter.ErrNoMatchingJoke):
		resp.Message = filter.ErrNoMatchingJoke.Error()
		resp.CausedBy = []string{"No jokes were found that match your provided filter(s)."}
	case errors.Is(err, search.ErrPatternTooComplex), errors.Is(err, search.ErrInvalidPattern):
		resp.Message = "The search string was rejected"
		resp.CausedBy = []string{err.Error()}
	default:
		resp.Code = http.StatusInternalServerError
		resp.InternalError = true
		resp.Message = "Internal error"
		logger.Error("Request failed",
			logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.String("request_id", resp.RequestID),
		)
	}

	writeJSON(w, resp.Code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response", logger.Err(err))
	}
}

// clientIdentity is the remote IP, or the first X-Forwarded-For hop behind a trusted proxy.
func (s *Server) clientIdentity(r *http.Request) string {
	if s.opts.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitList(s, seps string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return strings.ContainsRune(seps, r) })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := s.clock()
		next.ServeHTTP(rec, r)

		logger.Info("HTTP request",
			logger.String("request_id", id),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Duration("duration", s.clock().Sub(start)),
		)
	})
}
