package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/trendx/internal/scheduler"
	"github.com/elonfeng/trendx/internal/store"
	"github.com/elonfeng/trendx/pkg/source"
	"github.com/elonfeng/trendx/pkg/trend"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	CollectCycle(ctx context.Context) (*scheduler.CycleResult, error)
	State() scheduler.State
}

// Deps are the server's collaborators. Scheduler may be nil, in which case
// POST /api/collect answers 503.
type Deps struct {
	Store      store.Store
	Aggregator *trend.Aggregator
	Scheduler  Scheduler
	Logger     zerolog.Logger
}

// Server provides the dashboard and the HTTP API.
type Server struct {
	deps   Deps
	router *chi.Mux
	server *http.Server
}

// New creates a new HTTP server listening on addr.
func New(deps Deps, addr string, corsOrigins []string) *Server {
	s := &Server{deps: deps}
	s.router = s.routes(corsOrigins)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.deps.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleDashboard)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/trends", s.handleTrends)
		r.Get("/queue", s.handleQueue)
		r.Get("/sources", s.handleSources)
		r.Get("/status", s.handleStatus)
		r.Post("/collect", s.handleCollect)
		r.Post("/dedup/clear", s.handleDedupClear)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info().Str("addr", s.server.Addr).Msg("trendx server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOpts{Limit: queryInt(q.Get("limit"), 50)}
	if src := q.Get("source"); src != "" {
		kind, ok := source.ParseKind(src)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown source " + strconv.Quote(src)})
			return
		}
		opts.Source = kind
	}
	if v := q.Get("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid min_score"})
			return
		}
		opts.MinScore = f
	}

	records, err := s.deps.Store.ListRecords(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"count": len(records),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.QueueOpts{Status: q.Get("status"), Limit: queryInt(q.Get("limit"), 100)}
	switch opts.Status {
	case "", store.StatusPending, store.StatusPosted, store.StatusFailed:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	entries, err := s.deps.Store.ListQueue(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"count": len(entries),
	})
}

type sourceInfo struct {
	Name      source.Kind `json:"name"`
	Authority float64     `json:"authority"`
	Records   int         `json:"records"`
}

func (s *Server) sourceInfos(ctx context.Context) ([]sourceInfo, error) {
	counts, err := s.deps.Store.CountRecordsBySource(ctx)
	if err != nil {
		return nil, err
	}
	var infos []sourceInfo
	for _, src := range s.deps.Aggregator.Sources().List() {
		infos = append(infos, sourceInfo{
			Name:      src.Name(),
			Authority: src.AuthorityScore(),
			Records:   counts[src.Name()],
		})
	}
	return infos, nil
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	infos, err := s.sourceInfos(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

type status struct {
	Queue     store.QueueStats `json:"queue"`
	DedupSize int              `json:"dedup_size"`
	Sources   int              `json:"sources"`
	Scheduler *scheduler.State `json:"scheduler,omitempty"`
}

func (s *Server) status(ctx context.Context) (*status, error) {
	stats, err := s.deps.Store.QueueStats(ctx)
	if err != nil {
		return nil, err
	}
	st := &status{
		Queue:     stats,
		DedupSize: s.deps.Aggregator.Deduplicator().Len(),
		Sources:   s.deps.Aggregator.Sources().Len(),
	}
	if s.deps.Scheduler != nil {
		state := s.deps.Scheduler.State()
		st.Scheduler = &state
	}
	return st, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"})
		return
	}

	res, err := s.deps.Scheduler.CollectCycle(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrCycleRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("manual collect failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleDedupClear(w http.ResponseWriter, r *http.Request) {
	dedup := s.deps.Aggregator.Deduplicator()
	cleared := dedup.Len()
	dedup.Clear()
	hlog.FromRequest(r).Info().Int("cleared", cleared).Msg("deduplicator cleared")
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func queryInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, 500)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
