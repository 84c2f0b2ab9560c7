package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pbaille/lens/internal/aggregate"
	"github.com/pbaille/lens/internal/answer"
	"github.com/pbaille/lens/internal/autofetch"
	"github.com/pbaille/lens/internal/domain"
	"github.com/pbaille/lens/internal/knowledge"
	"github.com/pbaille/lens/internal/market"
)

// Knowledge serves the current record snapshot and accepts writes
type Knowledge interface {
	Snapshot() (knowledge.Snapshot, error)
	Get(id string) (domain.KnowledgeRecord, error)
	Write(ctx context.Context, raws []json.RawMessage) (knowledge.WriteResult, error)
}

// Market serves the current quote snapshot
type Market interface {
	Snapshot() market.Snapshot
	Coins() []string
	Refresh(ctx context.Context, coins []string) error
}

// Answerer answers FAQ questions
type Answerer interface {
	Ask(ctx context.Context, question string) (*answer.Result, error)
}

// Autofetcher triggers channel ingestion
type Autofetcher interface {
	Start(ctx context.Context, channel string, start time.Time) (autofetch.Request, error)
}

// Config wires a Server to its collaborators. Answer, Autofetch and Events may be nil.
type Config struct {
	Knowledge Knowledge
	Market    Market
	Answer    Answerer
	Autofetch Autofetcher
	Events    http.Handler

	Aggregate  aggregate.Options
	CORSOrigin string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server handles HTTP requests for the dashboard API
type Server struct {
	knowledge Knowledge
	market    Market
	answer    Answerer
	autofetch Autofetcher
	events    http.Handler

	opts   aggregate.Options
	origin string
	logger *slog.Logger
	now    func() time.Time
	router chi.Router
}

// New creates a new API server
func New(cfg Config) *Server {
	s := &Server{
		knowledge: cfg.Knowledge,
		market:    cfg.Market,
		answer:    cfg.Answer,
		autofetch: cfg.Autofetch,
		events:    cfg.Events,
		opts:      cfg.Aggregate,
		origin:    cfg.CORSOrigin,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.origin == "" {
		s.origin = "*"
	}
	s.router = s.routes()
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.withCORS)

	r.Get("/health", s.health)

	r.Route("/knowledge", func(r chi.Router) {
		r.Get("/", s.listKnowledge)
		r.Post("/", s.writeKnowledge)
		r.Get("/{id}", s.getKnowledge)
	})

	r.Route("/analytics", func(r chi.Router) {
		r.Get("/", s.analytics)
		r.Get("/projects", s.projectShares)
		r.Get("/categories", s.categoryShares)
		r.Get("/trends/{project}", s.projectTrend)
		r.Get("/coins", s.coinTable)
	})

	r.Get("/categories", s.categories)
	r.Get("/channels", s.channels)
	r.Get("/channels/rollup", s.channelRollup)

	r.Get("/market", s.marketTable)
	r.Post("/market/refresh", s.refreshMarket)

	r.Post("/faq", s.faq)
	r.Post("/autofetch", s.startAutofetch)

	if s.events != nil {
		r.Handle("/ws", s.events)
	}
	return r
}

// withCORS adds CORS headers for the dashboard frontend
func (s *Server) withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if snap, err := s.knowledge.Snapshot(); err == nil {
		status["records"] = len(snap.Records)
		status["knowledge_stale"] = snap.Stale
	} else {
		status["status"] = "degraded"
		status["knowledge"] = err.Error()
	}
	if s.market != nil {
		status["market_stale"] = s.market.Snapshot().Stale
	}
	writeJSON(w, http.StatusOK, status)
}

// statusFor maps domain errors to HTTP statuses. Anything unknown came from a
// collaborator and is reported as a bad gateway.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEmptyQuestion), errors.Is(err, autofetch.ErrChannelRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoSnapshot), errors.Is(err, domain.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
