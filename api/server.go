// Package api provides the HTTP API server for the grid simulator
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gridsim/db/ingestion"
	"gridsim/internal/pattern"
	"gridsim/internal/timeseries"
	"gridsim/internal/topology"
	gsapi "gridsim/pkg/api"
	gserrors "gridsim/pkg/errors"
	"gridsim/pkg/platform"
)

// Simulator runs the bill simulation of one run
type Simulator interface {
	Run(ctx context.Context, runID uuid.UUID) (*gsapi.RunResult, error)
}

// BillLister lists the bills of a run
type BillLister interface {
	ListBillsByRun(ctx context.Context, runID uuid.UUID) ([]*gsapi.HouseBill, error)
}

// Summarizer aggregates energy over whole days
type Summarizer interface {
	HouseSummary(ctx context.Context, houseID uuid.UUID, startDate, endDate time.Time) (gsapi.EnergySummary, error)
	NodeSummary(ctx context.Context, nodeID uuid.UUID, startDate, endDate time.Time) (gsapi.EnergySummary, error)
}

// TreeLoader snapshots a topology subtree
type TreeLoader interface {
	LoadSubtree(ctx context.Context, rootID uuid.UUID) (*topology.Graph, error)
}

// PatternGenerator regenerates a template's pattern
type PatternGenerator interface {
	Generate(ctx context.Context, templateID int64, items []gsapi.PersonProfileItem) (*pattern.Result, error)
}

// Uploader stores an uploaded meter file
type Uploader interface {
	IngestReader(ctx context.Context, req ingestion.Request, r io.Reader) (*ingestion.Result, error)
}

// Pinger reports backend readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the engines behind the routes. A nil dependency disables its routes.
type Deps struct {
	Simulator Simulator
	Bills     BillLister
	Summaries Summarizer
	Topology  TreeLoader
	Patterns  PatternGenerator
	Uploads   Uploader
	Backends  map[string]Pinger
	// Metrics serves /metrics and instruments every route when set
	Metrics MetricsHandler
}

// MetricsHandler exposes collectors and instruments handlers
type MetricsHandler interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Server is the HTTP API server
type Server struct {
	httpServer *http.Server
	deps       Deps
	config     *Config
	logger     zerolog.Logger
}

// Config holds server configuration
type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
	CORSOrigins    []string
	APIKey         string
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:           platform.GetEnvInt("PORT", 8080),
		ReadTimeout:    platform.GetEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   platform.GetEnvDuration("HTTP_WRITE_TIMEOUT", 5*time.Minute),
		MaxRequestSize: 32 * 1024 * 1024, // 32MB
		CORSOrigins:    []string{"*"},
		APIKey:         platform.GetEnv("API_KEY", ""),
	}
}

// NewServer creates a new API server
func NewServer(deps Deps, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		deps:   deps,
		config: config,
		logger: zerolog.Nop(),
	}
}

// WithLogger sets the logger
func (s *Server) WithLogger(l zerolog.Logger) *Server {
	s.logger = l
	return s
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Middleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(platform.APIKeyMiddleware(s.config.APIKey))

		if s.deps.Simulator != nil {
			r.Post("/runs/{id}/simulate", s.handleSimulate)
		}
		if s.deps.Bills != nil {
			r.Get("/runs/{id}/bills", s.handleListBills)
		}
		if s.deps.Summaries != nil {
			r.Get("/houses/{id}/energy-summary", s.handleHouseSummary)
			r.Get("/nodes/{id}/energy-summary", s.handleNodeSummary)
		}
		if s.deps.Topology != nil {
			r.Get("/nodes/{id}/tree", s.handleTree)
		}
		if s.deps.Patterns != nil {
			r.Post("/templates/{id}/patterns", s.handleGeneratePattern)
		}
		if s.deps.Uploads != nil {
			r.Post("/houses/{id}/load-profile", s.handleUpload)
		}
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.config.Port).Msg("API server starting")
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		allowed := false
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// HEALTH ENDPOINTS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "gridsim",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, backend := range s.deps.Backends {
		if err := backend.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Str("backend", name).Msg("readiness check failed")
			s.jsonError(w, http.StatusServiceUnavailable, "", fmt.Sprintf("%s not ready", name))
			return
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// =============================================================================
// SIMULATION ENDPOINTS
// =============================================================================

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	result, err := s.deps.Simulator.Run(r.Context(), runID)
	if err != nil {
		status := statusFor(err)
		if result == nil {
			s.writeError(w, err)
			return
		}
		s.jsonResponse(w, status, map[string]any{
			"error": err.Error(),
			"code":  gserrors.CodeOf(err),
			"run":   result,
		})
		return
	}

	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	bills, err := s.deps.Bills.ListBillsByRun(r.Context(), runID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, bills)
}

// =============================================================================
// ENERGY ENDPOINTS
// =============================================================================

// SummaryResponse is an energy summary over whole days
type SummaryResponse struct {
	NodeID    string  `json:"node_id"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
	Imported  float64 `json:"total_energy_imported_kwh"`
	Exported  float64 `json:"total_energy_exported_kwh"`
	Net       float64 `json:"net_energy_balance_kwh"`
}

func (s *Server) handleHouseSummary(w http.ResponseWriter, r *http.Request) {
	s.summary(w, r, s.deps.Summaries.HouseSummary)
}

func (s *Server) handleNodeSummary(w http.ResponseWriter, r *http.Request) {
	s.summary(w, r, s.deps.Summaries.NodeSummary)
}

type summaryFunc func(ctx context.Context, id uuid.UUID, startDate, endDate time.Time) (gsapi.EnergySummary, error)

func (s *Server) summary(w http.ResponseWriter, r *http.Request, fn summaryFunc) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}
	start, end, err := dateRange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sum, err := fn(r.Context(), id, start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, SummaryResponse{
		NodeID:    id.String(),
		StartDate: start.Format(time.DateOnly),
		EndDate:   end.Format(time.DateOnly),
		Imported:  sum.ImportedKWh,
		Exported:  sum.ExportedKWh,
		Net:       sum.ImportedKWh - sum.ExportedKWh,
	})
}

// dateRange reads start_date and end_date as YYYY-MM-DD
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	start, err := time.Parse(time.DateOnly, q.Get("start_date"))
	if err != nil {
		return time.Time{}, time.Time{}, gserrors.NewValidationError("", "start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(time.DateOnly, q.Get("end_date"))
	if err != nil {
		return time.Time{}, time.Time{}, gserrors.NewValidationError("", "end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, gserrors.NewValidationError("", "end_date is before start_date")
	}
	return start, end, nil
}

// TreeNode is a node with its children inlined
type TreeNode struct {
	gsapi.Node
	Children []*TreeNode `json:"children,omitempty"`
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	id, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	g, err := s.deps.Topology.LoadSubtree(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, found := g.Nodes[id]; !found {
		s.writeError(w, gserrors.NewNotFoundError("node", id.String()))
		return
	}
	s.jsonResponse(w, http.StatusOK, buildTree(g, id))
}

func buildTree(g *topology.Graph, id uuid.UUID) *TreeNode {
	n := g.Nodes[id]
	out := &TreeNode{Node: n.Node}
	for _, child := range n.Children {
		out.Children = append(out.Children, buildTree(g, child))
	}
	return out
}

// =============================================================================
// TEMPLATE AND PROFILE ENDPOINTS
// =============================================================================

// GeneratePatternRequest lists the template's occupants
type GeneratePatternRequest struct {
	Occupants []gsapi.PersonProfileItem `json:"occupants"`
}

func (s *Server) handleGeneratePattern(w http.ResponseWriter, r *http.Request) {
	templateID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, gserrors.ErrCodeValidation, "template id must be an integer")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	var req GeneratePatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, gserrors.ErrCodeValidation, fmt.Sprintf("invalid request: %v", err))
		return
	}
	for i, item := range req.Occupants {
		pt, err := gsapi.ParseWorkProfileType(string(item.ProfileType))
		if err != nil {
			s.writeError(w, gserrors.NewValidationError("", "%v", err))
			return
		}
		req.Occupants[i].ProfileType = pt
	}

	result, err := s.deps.Patterns.Generate(r.Context(), templateID, req.Occupants)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// handleUpload accepts a meter CSV either as the raw body or as the "file"
// part of a multipart form
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	houseID, ok := s.uuidParam(w, r, "id")
	if !ok {
		return
	}

	q := r.URL.Query()
	req := ingestion.Request{
		HouseID:       houseID,
		Name:          q.Get("name"),
		FifteenMinute: q.Get("fifteen_minute") == "true",
	}
	if raw := q.Get("strategy"); raw != "" {
		st, err := timeseries.ParseStrategy(raw)
		if err != nil {
			s.writeError(w, gserrors.NewValidationError("", "%v", err))
			return
		}
		req.Strategy = st
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	var body io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); strings.HasPrefix(mt, "multipart/") {
		file, header, err := r.FormFile("file")
		if err != nil {
			s.jsonError(w, http.StatusBadRequest, gserrors.ErrCodeValidation, "multipart upload needs a file part")
			return
		}
		defer file.Close()
		if req.Name == "" {
			req.Name = header.Filename
		}
		body = file
	}

	result, err := s.deps.Uploads.IngestReader(r.Context(), req, body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, result)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, gserrors.ErrCodeValidation, fmt.Sprintf("%s must be a uuid", name))
		return uuid.Nil, false
	}
	return id, true
}

// statusFor maps the error taxonomy onto HTTP statuses
func statusFor(err error) int {
	switch gserrors.CodeOf(err) {
	case gserrors.ErrCodeValidation:
		return http.StatusBadRequest
	case gserrors.ErrCodeNotFound:
		return http.StatusNotFound
	case gserrors.ErrCodeDataMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	s.jsonError(w, status, gserrors.CodeOf(err), err.Error())
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{
		"error": message,
	}
	if code != "" {
		body["code"] = code
	}
	s.jsonResponse(w, status, body)
}
