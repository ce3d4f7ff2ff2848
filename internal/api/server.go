// Package api exposes the lending, catalog and reporting services over a
// JSON REST interface.
package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"biblio/internal/catalog"
	"biblio/internal/lending"
	"biblio/internal/reporting"
)

const (
	defaultLimit = 50
	maxLimit     = 100
	maxBodyBytes = 1 << 20
	version      = "1.0.0"
)

// Pinger reports whether the storage backend is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server routes HTTP requests to the services
type Server struct {
	lending *lending.Engine
	catalog *catalog.Service
	reports *reporting.Service
	pinger  Pinger
	logger  *zap.Logger

	defaultLimit int
	maxLimit     int
	corsOrigin   string
	environment  string
	started      time.Time
}

// Option configures Server
type Option func(*Server)

// WithLimits overrides the pagination default and cap
func WithLimits(def, max int) Option {
	return func(s *Server) {
		if def > 0 {
			s.defaultLimit = def
		}
		if max > 0 {
			s.maxLimit = max
		}
		if s.defaultLimit > s.maxLimit {
			s.defaultLimit = s.maxLimit
		}
	}
}

// WithCORSOrigin sets the Access-Control-Allow-Origin value
func WithCORSOrigin(origin string) Option {
	return func(s *Server) {
		if origin != "" {
			s.corsOrigin = origin
		}
	}
}

// WithEnvironment sets the environment name reported by /api/status
func WithEnvironment(env string) Option {
	return func(s *Server) {
		s.environment = env
	}
}

// NewServer creates the HTTP API
func NewServer(engine *lending.Engine, cat *catalog.Service, reports *reporting.Service, pinger Pinger, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		lending:      engine,
		catalog:      cat,
		reports:      reports,
		pinger:       pinger,
		logger:       logger,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		corsOrigin:   "*",
		environment:  "development",
		started:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers all API routes on the given mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api", s.handleInfo)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	// Loans
	mux.HandleFunc("GET /api/prestiti", s.handleListLoans)
	mux.HandleFunc("POST /api/prestiti", s.handleCreateLoan)
	mux.HandleFunc("GET /api/prestiti/scaduti", s.handleOverdue)
	mux.HandleFunc("GET /api/prestiti/stats", s.handleStats)
	mux.HandleFunc("GET /api/prestiti/top", s.handleTopBooks)
	mux.HandleFunc("GET /api/prestiti/attivita", s.handleActivity)
	mux.HandleFunc("GET /api/prestiti/libro/{id}", s.handleLoansByBook)
	mux.HandleFunc("GET /api/prestiti/{id}", s.handleGetLoan)
	mux.HandleFunc("PUT /api/prestiti/{id}/restituisci", s.handleReturnLoan)
	mux.HandleFunc("DELETE /api/prestiti/{id}", s.handleDeleteLoan)

	// Books
	mux.HandleFunc("GET /api/libri", s.handleListBooks)
	mux.HandleFunc("POST /api/libri", s.handleCreateBook)
	mux.HandleFunc("GET /api/libri/search", s.handleSearchBooks)
	mux.HandleFunc("GET /api/libri/{id}", s.handleGetBook)
	mux.HandleFunc("PUT /api/libri/{id}", s.handleUpdateBook)
	mux.HandleFunc("DELETE /api/libri/{id}", s.handleDeleteBook)

	// Members
	mux.HandleFunc("GET /api/utenti", s.handleListMembers)
	mux.HandleFunc("POST /api/utenti", s.handleCreateMember)
	mux.HandleFunc("GET /api/utenti/search", s.handleSearchMembers)
	mux.HandleFunc("GET /api/utenti/{id}", s.handleGetMember)
	mux.HandleFunc("PUT /api/utenti/{id}", s.handleUpdateMember)
	mux.HandleFunc("DELETE /api/utenti/{id}", s.handleDeleteMember)
	mux.HandleFunc("GET /api/utenti/{id}/prestiti", s.handleMemberLoans)
}

// Handler returns the routed mux wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.recoverer(s.requestID(s.logRequests(s.cors(s.unmatched(mux)))))
}

// unmatched answers requests no route matches with a JSON error: 405 with
// the Allow header when the path exists under other methods, 404 otherwise
func (s *Server) unmatched(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := mux.Handler(r)
		if pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}

		fallback := &headerOnlyWriter{header: make(http.Header)}
		h.ServeHTTP(fallback, r)
		if fallback.status == http.StatusMethodNotAllowed {
			w.Header().Set("Allow", fallback.header.Get("Allow"))
			writeError(w, r, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed on "+r.URL.Path, nil)
			return
		}
		s.handleNotFound(w, r)
	})
}

// headerOnlyWriter records the status and headers of the mux's plain-text
// fallback and drops its body
type headerOnlyWriter struct {
	header http.Header
	status int
}

func (w *headerOnlyWriter) Header() http.Header { return w.header }

func (w *headerOnlyWriter) WriteHeader(status int) { w.status = status }

func (w *headerOnlyWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return len(b), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"service":   "biblio",
		"version":   version,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"version": version,
		"endpoints": map[string]string{
			"libri":    "/api/libri",
			"utenti":   "/api/utenti",
			"prestiti": "/api/prestiti",
			"health":   "/health",
		},
	}, "Library lending API")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Error("Storage ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success":   false,
			"status":    "ERROR",
			"timestamp": time.Now().UTC(),
			"services":  map[string]string{"api": "OK", "database": "ERROR"},
			"error":     "storage unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"status":      "OK",
		"timestamp":   time.Now().UTC(),
		"services":    map[string]string{"api": "OK", "database": "OK"},
		"version":     version,
		"environment": s.environment,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "route "+r.Method+" "+r.URL.Path+" not found", nil)
}
