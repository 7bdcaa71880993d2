package chi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/policy"
	"github.com/kailas-cloud/ms2rank/internal/ingest"
	logpkg "github.com/kailas-cloud/ms2rank/internal/logger"
	healthuc "github.com/kailas-cloud/ms2rank/internal/usecase/health"
	"github.com/kailas-cloud/ms2rank/internal/version"
)

// Default request limits.
const (
	DefaultMaxQueries   = 1000
	DefaultMaxBodyBytes = 32 << 20
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Limits bounds the size of rank requests.
type Limits struct {
	MaxQueries   int
	MaxBodyBytes int64
}

// Server serves the ranking API.
type Server struct {
	library       Library
	limits        Limits
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. Zero limits fall back to the defaults.
func NewServer(library Library, limits Limits, logger *zap.Logger) *Server {
	if limits.MaxQueries <= 0 {
		limits.MaxQueries = DefaultMaxQueries
	}
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		library: library,
		limits:  limits,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrConfiguration, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, ErrorCodeDimensionMismatch),
		sentinelHandler(domain.ErrInsufficientLibrary, http.StatusServiceUnavailable, ErrorCodeInsufficientLibrary),
	}
	return s
}

// Rank handles POST /v1/rank.
func (s *Server) Rank(w http.ResponseWriter, r *http.Request) {
	tables, _, ok := s.rank(w, r)
	if !ok {
		return
	}

	resp := RankResponse{Results: make([]QueryResult, len(tables))}
	for i := range tables {
		resp.Results[i] = tableToResponse(&tables[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// RankCSV handles POST /v1/rank.csv.
func (s *Server) RankCSV(w http.ResponseWriter, r *http.Request) {
	tables, cfg, ok := s.rank(w, r)
	if !ok {
		return
	}

	// Buffered so an export failure can still become a JSON error.
	var buf bytes.Buffer
	if err := s.library.ExportCSV(r.Context(), &buf, tables, cfg); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// rank decodes, validates and ranks a request, writing the error response
// itself when it returns false.
func (s *Server) rank(w http.ResponseWriter, r *http.Request) ([]ms2rank.ResultTable, ms2rank.RankConfig, bool) {
	params, err := bindRankParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid query parameter: "+err.Error())
		return nil, ms2rank.RankConfig{}, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.limits.MaxBodyBytes)
	var req RankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrorCodeBadRequest, "request body too large")
			return nil, ms2rank.RankConfig{}, false
		}
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return nil, ms2rank.RankConfig{}, false
	}
	if len(req.Spectra) == 0 {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, "at least one spectrum is required")
		return nil, ms2rank.RankConfig{}, false
	}
	if len(req.Spectra) > s.limits.MaxQueries {
		writeError(w, http.StatusBadRequest, ErrorCodeTooManyQueries, "too many spectra in one request")
		return nil, ms2rank.RankConfig{}, false
	}

	queries, rejected := ingest.Spectra(req.Spectra)
	if len(rejected) > 0 {
		details := make([]RejectedQuery, len(rejected))
		for i, rj := range rejected {
			details[i] = RejectedQuery{Index: rj.Index, ID: rj.ID, Message: rj.Err.Error()}
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:    ErrorCodeInvalidSpectrum,
			Message: "invalid spectra in request",
			Details: details,
		})
		return nil, ms2rank.RankConfig{}, false
	}

	size, cfg := s.applyParams(params)
	tables, err := s.library.RankCandidates(r.Context(), queries, size, cfg)
	if err != nil {
		s.handleDomainError(w, r, err)
		return nil, ms2rank.RankConfig{}, false
	}
	return tables, cfg, true
}

// applyParams overlays query parameters on the library defaults.
func (s *Server) applyParams(params RankParams) (int, ms2rank.RankConfig) {
	size := s.library.DefaultPreselectionSize()
	if params.PreselectionSize != nil {
		size = *params.PreselectionSize
	}
	cfg := s.library.DefaultRankConfig()
	if params.Cutoff != nil {
		cfg.Cutoff = *params.Cutoff
	}
	if params.OnQueryError != nil {
		cfg.OnQueryError = policy.QueryError(*params.OnQueryError)
	}
	if params.KeepPreselectionScores != nil {
		cfg.KeepPreselectionScores = *params.KeepPreselectionScores
	}
	if params.ExtraColumns != nil {
		cfg.ExtraColumns = splitColumns(*params.ExtraColumns)
	}
	return size, cfg
}

func bindRankParams(r *http.Request) (RankParams, error) {
	var params RankParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "preselection_size", q, &params.PreselectionSize); err != nil {
		return params, err //nolint:wrapcheck // runtime errors name the parameter
	}
	if err := runtime.BindQueryParameter("form", true, false, "cutoff", q, &params.Cutoff); err != nil {
		return params, err //nolint:wrapcheck // runtime errors name the parameter
	}
	if err := runtime.BindQueryParameter("form", true, false, "on_query_error", q, &params.OnQueryError); err != nil {
		return params, err //nolint:wrapcheck // runtime errors name the parameter
	}
	err := runtime.BindQueryParameter("form", true, false, "keep_preselection_scores", q, &params.KeepPreselectionScores)
	if err != nil {
		return params, err //nolint:wrapcheck // runtime errors name the parameter
	}
	if err := runtime.BindQueryParameter("form", true, false, "extra_columns", q, &params.ExtraColumns); err != nil {
		return params, err //nolint:wrapcheck // runtime errors name the parameter
	}
	return params, nil
}

func splitColumns(s string) []string {
	var out []string
	for _, col := range strings.Split(s, ",") {
		if col = strings.TrimSpace(col); col != "" {
			out = append(out, col)
		}
	}
	return out
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.library.Health(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:      string(report.Status),
		Checks:      checks,
		LibrarySize: report.LibrarySize,
		Version:     version.Version,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func tableToResponse(t *ms2rank.ResultTable) QueryResult {
	out := QueryResult{
		QueryNumber:        t.QueryIndex + 1,
		QueryID:            t.QueryID,
		ParentMass:         t.QueryParentMass,
		Candidates:         make([]Candidate, len(t.Rows)),
		PreselectionScores: t.PreselectionScores,
	}
	if t.Err != nil {
		out.Error = safeDomainMessage(t.Err)
	}
	for i := range t.Rows {
		row := &t.Rows[i]
		values := row.Values()
		features := make(map[string]float64, len(values))
		for j, col := range feature.Columns {
			features[col] = values[j]
		}
		out.Candidates[i] = Candidate{
			SpectrumID:  row.SpectrumID,
			StructureID: row.StructureID,
			ParentMass:  row.ParentMass,
			Score:       row.Score,
			Features:    features,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a client-facing message without exposing internals.
// Configuration errors name the rejected option and are returned whole.
func safeDomainMessage(err error) string {
	var ce *domain.ConfigurationError
	if errors.As(err, &ce) {
		return ce.Error()
	}
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrDimensionMismatch,
		domain.ErrInsufficientLibrary,
		domain.ErrConfiguration,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContext(r.Context(), s.logger)
	logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
