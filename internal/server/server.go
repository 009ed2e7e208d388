// Package server exposes the HTTP surface: health, metrics, resource reads and invalidation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/resilience"
)

// Status values reported by the health endpoints.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// Fetcher serves resource reads.
type Fetcher interface {
	GetBytes(ctx context.Context, uri string, opts domain.FetchOptions, custom ...resilience.Policy) (domain.ResourceResult, error)
}

// Invalidator serves invalidation requests.
type Invalidator interface {
	InvalidateByParentID(ctx context.Context, parentID, scope string) (int, error)
	InvalidateByKeys(ctx context.Context, keys []string, scope string) (int, error)
}

// TaskReporter lists background task states.
type TaskReporter interface {
	Snapshot() []domain.TaskSnapshot
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Deps are the collaborators behind the endpoints. Nil fields disable their endpoints.
type Deps struct {
	Fetcher     Fetcher
	Invalidator Invalidator
	Tasks       TaskReporter
	Checks      map[string]Check
	Logger      *slog.Logger
}

// Server provides the HTTP endpoints.
type Server struct {
	deps   Deps
	log    *slog.Logger
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a new server listening on port.
func NewServer(deps Deps, port int) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		deps: deps,
		log:  deps.Logger.With("component", "server"),
		mux:  mux,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.Handle("GET /metrics", promhttp.Handler())
	if deps.Fetcher != nil {
		mux.HandleFunc("GET /v1/resource", s.handleResource)
	}
	if deps.Invalidator != nil {
		mux.HandleFunc("POST /v1/invalidate", s.handleInvalidate)
	}

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server. It returns nil after a graceful Stop.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthReport struct {
	Status       string                `json:"status"`
	Dependencies map[string]string     `json:"dependencies,omitempty"`
	Tasks        []domain.TaskSnapshot `json:"tasks,omitempty"`
}

func (s *Server) check(ctx context.Context) healthReport {
	report := healthReport{Status: StatusHealthy}
	if len(s.deps.Checks) > 0 {
		report.Dependencies = make(map[string]string, len(s.deps.Checks))
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			report.Dependencies[name] = err.Error()
			report.Status = StatusCritical
			continue
		}
		report.Dependencies[name] = "ok"
	}

	if s.deps.Tasks != nil {
		report.Tasks = s.deps.Tasks.Snapshot()
		// A failing prefetch degrades the service but never makes it critical.
		for _, t := range report.Tasks {
			if t.Status == domain.TaskStatusFailed && report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.check(r.Context())

	code := http.StatusOK
	if report.Status == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": report.Status})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.check(r.Context()))
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uri := q.Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, errors.New("uri is required"))
		return
	}
	opts := domain.FetchOptions{ParentID: q.Get("parent_id")}
	if v := q.Get("permanent"); v != "" {
		permanent, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid permanent: %w", err))
			return
		}
		opts.Permanent = permanent
	}

	res, err := s.deps.Fetcher.GetBytes(r.Context(), uri, opts)
	if err != nil {
		s.log.Warn("Resource fetch failed", "uri", uri, "error", err)
		writeError(w, statusFor(err), err)
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Fetch-Origin", string(res.Origin))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

// InvalidateRequest is the body of POST /v1/invalidate. Exactly one of ParentID and Keys must be set.
type InvalidateRequest struct {
	Scope    string   `json:"scope"`
	ParentID string   `json:"parent_id,omitempty"`
	Keys     []string `json:"keys,omitempty"`
}

// InvalidateResponse reports how many entries were removed. Error is set when the
// invalidation partly failed; Removed still counts what was removed.
type InvalidateResponse struct {
	Scope   string `json:"scope"`
	Removed int    `json:"removed"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if (req.ParentID == "") == (len(req.Keys) == 0) {
		writeError(w, http.StatusBadRequest, errors.New("exactly one of parent_id and keys is required"))
		return
	}

	var (
		removed int
		err     error
	)
	if req.ParentID != "" {
		removed, err = s.deps.Invalidator.InvalidateByParentID(r.Context(), req.ParentID, req.Scope)
	} else {
		removed, err = s.deps.Invalidator.InvalidateByKeys(r.Context(), req.Keys, req.Scope)
	}
	if err != nil {
		s.log.Error("Invalidation failed", "scope", req.Scope, "removed", removed, "error", err)
		writeJSON(w, http.StatusInternalServerError, InvalidateResponse{
			Scope:   req.Scope,
			Removed: removed,
			Error:   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, InvalidateResponse{Scope: req.Scope, Removed: removed})
}

// statusFor maps a fetch failure to a response code.
func statusFor(err error) int {
	var sc interface{ HTTPStatus() int }
	switch {
	case errors.As(err, &sc) && sc.HTTPStatus() == http.StatusNotFound:
		return http.StatusNotFound
	case resilience.IsDeadlineExceeded(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
