// Package stub is an in-memory remote for development and tests.
//
// It serves the same POST /actions/{name} protocol as a real server,
// keeps records per entity in memory, and can be told to fail named
// actions to exercise retries and drops.
package stub

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/10d3/nexora/internal/engine"
	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

type failure struct {
	remaining int // <0 fails forever
	status    int
	message   string
}

// Server holds the stub's state.
type Server struct {
	registry *schema.Registry
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	records  map[string]map[string]record.Record
	failures map[string]*failure
	calls    map[string]int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides server-side timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New returns an empty stub server.
func New(reg *schema.Registry, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		logger:   zap.NewNop(),
		now:      time.Now,
		records:  make(map[string]map[string]record.Record),
		failures: make(map[string]*failure),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(requestLogging(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))
		r.Post("/actions/{name}", s.handleAction)
	})
	return r
}

// Fail makes the next times calls of the named action answer status.
// A negative times fails until Heal.
func (s *Server) Fail(name string, times, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = &failure{remaining: times, status: status, message: message}
}

// Heal clears injected failures for name.
func (s *Server) Heal(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, name)
}

// Calls returns how many times the named action was requested.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Seed stores records for an entity as if they had been created.
func (s *Server) Seed(entity string, recs ...record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.table(entity)[rec.ID] = rec
	}
}

// Records returns an entity's records for a tenant ordered by id. An empty
// tenant returns all records.
func (s *Server) Records(entity, tenantID string) []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(entity, tenantID)
}

func (s *Server) table(entity string) map[string]record.Record {
	t, ok := s.records[entity]
	if !ok {
		t = make(map[string]record.Record)
		s.records[entity] = t
	}
	return t
}

func (s *Server) list(entity, tenantID string) []record.Record {
	out := make([]record.Record, 0, len(s.records[entity]))
	for _, rec := range s.records[entity] {
		if tenantID == "" || rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b record.Record) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// injected consumes one injected failure for name, if any.
func (s *Server) injected(name string) *failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	f, ok := s.failures[name]
	if !ok {
		return nil
	}
	if f.remaining == 0 {
		delete(s.failures, name)
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if f := s.injected(name); f != nil {
		writeError(w, f.status, f.message)
		return
	}

	op, err := engine.ParseOp(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	coll, ok := s.registry.ByEntity(op.Entity)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown entity "+op.Entity)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	params, err := record.FromJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch op.Verb {
	case engine.VerbFetch:
		s.mu.Lock()
		out := s.list(op.Entity, params.TenantID)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)

	case engine.VerbGet:
		s.mu.Lock()
		rec, ok := s.records[op.Entity][params.ID]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, op.Entity+" "+params.ID+" not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case engine.VerbCreate, engine.VerbUpdate:
		if err := s.registry.Validate(coll.Kind, params); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		now := s.now().UTC()
		s.mu.Lock()
		prev, exists := s.records[op.Entity][params.ID]
		if op.Verb == engine.VerbUpdate && !exists {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, op.Entity+" "+params.ID+" not found")
			return
		}
		if params.ID == "" {
			params.ID = uuid.NewString()
		}
		switch {
		case exists && prev.CreatedAt != nil:
			params.CreatedAt = prev.CreatedAt
		case params.CreatedAt == nil:
			params.CreatedAt = &now
		}
		params.UpdatedAt = &now
		s.table(op.Entity)[params.ID] = params
		s.mu.Unlock()
		status := http.StatusOK
		if op.Verb == engine.VerbCreate && !exists {
			status = http.StatusCreated
		}
		writeJSON(w, status, params)

	case engine.VerbDelete:
		s.mu.Lock()
		delete(s.records[op.Entity], params.ID)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"id": params.ID})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogging logs one line per request.
func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
