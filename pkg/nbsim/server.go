// Package nbsim simulates the part of the NetBox REST API the seeder talks
// to. Objects live in SQLite; natural keys are enforced by a UNIQUE index and
// violations are reported with NetBox's own wording, so client code sees the
// same failures it would against a real instance.
package nbsim

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/nbseed/pkg/netbox"
	"github.com/newtron-network/nbseed/pkg/util"
)

// DefaultVersion is reported by /api/status/.
const DefaultVersion = "4.1.0-nbsim"

// Config configures a simulator.
type Config struct {
	DSN     string // SQLite DSN; empty means a private in-memory database
	Token   string // required API token; empty disables auth
	Version string
}

// Stats counts write outcomes per endpoint.
type Stats struct {
	Creates   map[string]int
	Conflicts map[string]int
}

// TotalCreates sums creates over all endpoints.
func (st Stats) TotalCreates() int {
	n := 0
	for _, c := range st.Creates {
		n += c
	}
	return n
}

// Server is a simulated NetBox instance.
type Server struct {
	db      *sql.DB
	store   *store
	token   string
	version string
	handler http.Handler

	mu    sync.Mutex
	stats Stats
}

// New opens the database, applies the schema and builds the handler.
func New(ctx context.Context, cfg Config) (*Server, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = MemoryDSN
	}
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Server{
		db:      db,
		store:   &store{db: db},
		token:   cfg.Token,
		version: cfg.Version,
	}
	if s.version == "" {
		s.version = DefaultVersion
	}
	s.ResetStats()

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = chain(mux, recovery(), logging(), auth(s.token))
	return s, nil
}

// Handler returns the HTTP handler serving /api/.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Stats returns a snapshot of the write counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{Creates: map[string]int{}, Conflicts: map[string]int{}}
	for k, v := range s.stats.Creates {
		out.Creates[k] = v
	}
	for k, v := range s.stats.Conflicts {
		out.Conflicts[k] = v
	}
	return out
}

// ResetStats zeroes the write counters.
func (s *Server) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = Stats{Creates: map[string]int{}, Conflicts: map[string]int{}}
}

func (s *Server) countCreate(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Creates[endpoint]++
}

func (s *Server) countConflict(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Conflicts[endpoint]++
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status/{$}", s.handleStatus)

	for _, k := range kinds {
		base := "/api/" + k.endpoint + "/"
		mux.HandleFunc("GET "+base+"{$}", s.handleList(k))
		mux.HandleFunc("POST "+base+"{$}", s.handleCreate(k))
		mux.HandleFunc("GET "+base+"{id}/{$}", s.handleGet(k))
		mux.HandleFunc("PATCH "+base+"{id}/{$}", s.handlePatch(k))
		mux.HandleFunc("DELETE "+base+"{id}/{$}", s.handleDelete(k))
	}

	prefixes := "/api/" + netbox.EndpointPrefixes + "/{id}/"
	mux.HandleFunc("POST "+prefixes+"available-prefixes/{$}", s.handleAvailablePrefixes)
	mux.HandleFunc("POST "+prefixes+"available-ips/{$}", s.handleAvailableIPs)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"netbox-version": s.version,
		"plugins":        map[string]string{"netbox_bgp": "0.14.0"},
	})
}

// ============================================================================
// Responses and errors
// ============================================================================

// httpError is a response the handler writes as-is.
type httpError struct {
	status int
	body   any
}

func (e *httpError) Error() string {
	data, _ := json.Marshal(e.body)
	return fmt.Sprintf("HTTP %d: %s", e.status, data)
}

func badRequest(fields map[string][]string) *httpError {
	return &httpError{status: http.StatusBadRequest, body: fields}
}

func fieldError(field, msg string) *httpError {
	return badRequest(map[string][]string{field: {msg}})
}

func notFound() *httpError {
	return &httpError{status: http.StatusNotFound, body: map[string]string{"detail": "Not found."}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Warnf("nbsim: writing response: %v", err)
	}
}

// writeError writes err as NetBox would and counts conflicts.
func (s *Server) writeError(w http.ResponseWriter, k *kind, err error) {
	var kc *keyConflict
	if errors.As(err, &kc) {
		s.countConflict(k.endpoint)
		writeJSON(w, http.StatusBadRequest, kc.fields())
		return
	}
	var he *httpError
	if errors.As(err, &he) {
		writeJSON(w, he.status, he.body)
		return
	}
	util.Errorf("nbsim: %s: %v", k.endpoint, err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
}

// ============================================================================
// Middleware
// ============================================================================

func chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recovery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					util.WithFields(map[string]interface{}{
						"method": r.Method,
						"path":   r.URL.Path,
					}).Errorf("nbsim: panic: %v", rec)
					writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Server Error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.code = code
	sw.ResponseWriter.WriteHeader(code)
}

func logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)
			util.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sw.code,
				"duration": time.Since(start).String(),
			}).Debug("nbsim request")
		})
	}
}

// auth enforces "Authorization: Token <t>" when token is set.
func auth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Authentication credentials were not provided."})
				return
			}
			if strings.TrimPrefix(header, "Token ") != token {
				writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
