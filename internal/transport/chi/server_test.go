package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/ms2rank"
	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/feature"
	"github.com/kailas-cloud/ms2rank/internal/domain/policy"
	"github.com/kailas-cloud/ms2rank/internal/domain/result"
	"github.com/kailas-cloud/ms2rank/internal/metrics"
	healthuc "github.com/kailas-cloud/ms2rank/internal/usecase/health"
)

// --- mock ---

type mockLibrary struct {
	rankErr   error
	exportErr error
	queryErr  error
	health    ms2rank.HealthReport

	gotSize    int
	gotCfg     ms2rank.RankConfig
	gotQueries []ms2rank.Spectrum
}

func (m *mockLibrary) RankCandidates(
	_ context.Context, queries []ms2rank.Spectrum, size int, cfg ms2rank.RankConfig,
) ([]ms2rank.ResultTable, error) {
	m.gotSize, m.gotCfg, m.gotQueries = size, cfg, queries
	if m.rankErr != nil {
		return nil, m.rankErr
	}
	tables := make([]ms2rank.ResultTable, len(queries))
	for i := range queries {
		tables[i] = ms2rank.ResultTable{
			QueryIndex:      i,
			QueryID:         queries[i].ID(),
			QueryParentMass: queries[i].ParentMass(),
			Rows: []result.Row{{
				Row: feature.Row{
					SpectrumID:        "lib-1",
					StructureID:       "AAAAAAAAAAAAAA",
					ParentMass:        250,
					QueryParentMass:   queries[i].ParentMass(),
					PreselectionScore: 0.9,
					StructureCount:    50,
				},
				Score: 0.75,
			}},
			Err: m.queryErr,
		}
	}
	return tables, nil
}

func (m *mockLibrary) ExportCSV(_ context.Context, w io.Writer, tables []ms2rank.ResultTable, _ ms2rank.RankConfig) error {
	if m.exportErr != nil {
		return m.exportErr
	}
	_, _ = fmt.Fprintf(w, "query_number,spectrum_id\n")
	for _, t := range tables {
		for _, row := range t.Rows {
			_, _ = fmt.Fprintf(w, "%d,%s\n", t.QueryIndex+1, row.SpectrumID)
		}
	}
	return nil
}

func (m *mockLibrary) DefaultRankConfig() ms2rank.RankConfig {
	return ms2rank.RankConfig{Cutoff: 20, OnQueryError: policy.AbortBatch}
}

func (m *mockLibrary) DefaultPreselectionSize() int { return 2000 }

func (m *mockLibrary) Health(context.Context) ms2rank.HealthReport { return m.health }

// --- helpers ---

const twoSpectra = `{"spectra": [
	{"spectrum_id": "q1", "parent_mass": "250.1", "peaks": [[100.0, 1.0], [150.5, 0.3]]},
	{"spectrum_id": "q2", "precursor_mz": 300, "peaks_json": "[[120.0, 0.5]]"}
]}`

func newTestRouter(lib Library, limits Limits) http.Handler {
	m, err := metrics.NewHTTP(prometheus.NewRegistry())
	if err != nil {
		panic(err)
	}
	return NewRouter(NewServer(lib, limits, zap.NewNop()), nil, m, zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

// --- tests ---

func TestRank_Defaults(t *testing.T) {
	lib := &mockLibrary{}
	rr := do(t, newTestRouter(lib, Limits{}), http.MethodPost, "/v1/rank", twoSpectra)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if lib.gotSize != 2000 {
		t.Errorf("preselection size: got %d, want 2000", lib.gotSize)
	}
	if lib.gotCfg.Cutoff != 20 || lib.gotCfg.OnQueryError != policy.AbortBatch {
		t.Errorf("rank config: got %+v", lib.gotCfg)
	}
	if len(lib.gotQueries) != 2 || lib.gotQueries[1].ParentMass() != 300 {
		t.Fatalf("queries not decoded: %+v", lib.gotQueries)
	}

	var resp RankResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results: got %d, want 2", len(resp.Results))
	}
	first := resp.Results[0]
	if first.QueryNumber != 1 || first.QueryID != "q1" || first.ParentMass != 250.1 {
		t.Errorf("query fields: got %+v", first)
	}
	if len(first.Candidates) != 1 {
		t.Fatalf("candidates: got %d, want 1", len(first.Candidates))
	}
	c := first.Candidates[0]
	if c.SpectrumID != "lib-1" || c.Score != 0.75 {
		t.Errorf("candidate: got %+v", c)
	}
	if len(c.Features) != feature.NumColumns {
		t.Errorf("features: got %d columns, want %d", len(c.Features), feature.NumColumns)
	}
	if got := c.Features[feature.ColStructureCount]; got != 0.5 {
		t.Errorf("structure count feature: got %v, want 0.5", got)
	}
	if first.Error != "" {
		t.Errorf("unexpected query error %q", first.Error)
	}
}

func TestRank_QueryParams(t *testing.T) {
	lib := &mockLibrary{}
	target := "/v1/rank?preselection_size=50&cutoff=3&on_query_error=skip&keep_preselection_scores=true&extra_columns=compound_name,%20smiles"
	rr := do(t, newTestRouter(lib, Limits{}), http.MethodPost, target, twoSpectra)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if lib.gotSize != 50 {
		t.Errorf("preselection size: got %d, want 50", lib.gotSize)
	}
	want := ms2rank.RankConfig{
		Cutoff:                 3,
		OnQueryError:           policy.SkipQuery,
		KeepPreselectionScores: true,
	}
	got := lib.gotCfg
	if got.Cutoff != want.Cutoff || got.OnQueryError != want.OnQueryError ||
		got.KeepPreselectionScores != want.KeepPreselectionScores {
		t.Errorf("rank config: got %+v, want %+v", got, want)
	}
	if len(got.ExtraColumns) != 2 || got.ExtraColumns[0] != "compound_name" || got.ExtraColumns[1] != "smiles" {
		t.Errorf("extra columns: got %v", got.ExtraColumns)
	}
}

func TestRank_InvalidQueryParam(t *testing.T) {
	rr := do(t, newTestRouter(&mockLibrary{}, Limits{}), http.MethodPost, "/v1/rank?cutoff=many", twoSpectra)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrorCodeBadRequest {
		t.Errorf("code: got %s, want %s", resp.Code, ErrorCodeBadRequest)
	}
}

func TestRank_RequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
		body   string
		status int
		code   ErrorCode
	}{
		{"malformed json", Limits{}, `{"spectra": [`, http.StatusBadRequest, ErrorCodeBadRequest},
		{"no spectra", Limits{}, `{"spectra": []}`, http.StatusBadRequest, ErrorCodeValidationFailed},
		{"too many spectra", Limits{MaxQueries: 1}, twoSpectra, http.StatusBadRequest, ErrorCodeTooManyQueries},
		{"body too large", Limits{MaxBodyBytes: 16}, twoSpectra, http.StatusRequestEntityTooLarge, ErrorCodeBadRequest},
		{
			"missing spectrum id", Limits{},
			`{"spectra": [{"peaks": [[100, 1]]}]}`,
			http.StatusBadRequest, ErrorCodeInvalidSpectrum,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := &mockLibrary{}
			rr := do(t, newTestRouter(lib, tt.limits), http.MethodPost, "/v1/rank", tt.body)

			if rr.Code != tt.status {
				t.Fatalf("status: got %d, want %d (body %s)", rr.Code, tt.status, rr.Body.String())
			}
			if resp := decodeError(t, rr); resp.Code != tt.code {
				t.Errorf("code: got %s, want %s", resp.Code, tt.code)
			}
			if lib.gotQueries != nil {
				t.Error("library must not be called for a rejected request")
			}
		})
	}
}

func TestRank_InvalidSpectrumDetails(t *testing.T) {
	body := `{"spectra": [
		{"spectrum_id": "ok", "peaks": [[100, 1]]},
		{"spectrum_id": "bad", "peaks": [[-5, 1]]}
	]}`
	rr := do(t, newTestRouter(&mockLibrary{}, Limits{}), http.MethodPost, "/v1/rank", body)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	resp := decodeError(t, rr)
	if len(resp.Details) != 1 {
		t.Fatalf("details: got %d, want 1", len(resp.Details))
	}
	if resp.Details[0].Index != 1 || resp.Details[0].ID != "bad" {
		t.Errorf("detail: got %+v", resp.Details[0])
	}
}

func TestRank_DomainErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    ErrorCode
		message string
	}{
		{
			"configuration", domain.Configf("preselection_size", "must be positive, got 0"),
			http.StatusBadRequest, ErrorCodeValidationFailed,
			"invalid configuration: preselection_size: must be positive, got 0",
		},
		{
			"insufficient library", fmt.Errorf("rank: %w", domain.NewInsufficientLibrary(0, 1)),
			http.StatusServiceUnavailable, ErrorCodeInsufficientLibrary, "insufficient library",
		},
		{
			"dimension mismatch", domain.NewDimensionMismatch("spec2vec", "q1", 300, 2),
			http.StatusBadRequest, ErrorCodeDimensionMismatch, "embedding dimension mismatch",
		},
		{
			"not found", domain.NewNotFound("structure", "AAAAAAAAAAAAAA"),
			http.StatusNotFound, ErrorCodeNotFound, "not found",
		},
		{
			"internal", errors.New("connection reset by peer"),
			http.StatusInternalServerError, ErrorCodeInternalError, "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := &mockLibrary{rankErr: tt.err}
			rr := do(t, newTestRouter(lib, Limits{}), http.MethodPost, "/v1/rank", twoSpectra)

			if rr.Code != tt.status {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.status)
			}
			resp := decodeError(t, rr)
			if resp.Code != tt.code {
				t.Errorf("code: got %s, want %s", resp.Code, tt.code)
			}
			if resp.Message != tt.message {
				t.Errorf("message: got %q, want %q", resp.Message, tt.message)
			}
		})
	}
}

func TestRank_SkippedQueryError(t *testing.T) {
	lib := &mockLibrary{queryErr: domain.NewNotFound("spectrum", "lib-1")}
	rr := do(t, newTestRouter(lib, Limits{}), http.MethodPost, "/v1/rank?on_query_error=skip", twoSpectra)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp RankResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Results[0].Error != "not found" {
		t.Errorf("query error: got %q, want %q", resp.Results[0].Error, "not found")
	}
}

func TestRankCSV(t *testing.T) {
	rr := do(t, newTestRouter(&mockLibrary{}, Limits{}), http.MethodPost, "/v1/rank.csv", twoSpectra)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type: got %q", ct)
	}
	want := "query_number,spectrum_id\n1,lib-1\n2,lib-1\n"
	if rr.Body.String() != want {
		t.Errorf("body: got %q, want %q", rr.Body.String(), want)
	}
}

func TestRankCSV_ExportError(t *testing.T) {
	lib := &mockLibrary{exportErr: domain.Configf("extra_columns", "column 0 is empty")}
	rr := do(t, newTestRouter(lib, Limits{}), http.MethodPost, "/v1/rank.csv", twoSpectra)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		status healthuc.Status
		want   int
	}{
		{"healthy", healthuc.Healthy, http.StatusOK},
		{"degraded", healthuc.Degraded, http.StatusServiceUnavailable},
		{"unhealthy", healthuc.Unhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lib := &mockLibrary{health: ms2rank.HealthReport{
				Status:      tt.status,
				Checks:      map[string]healthuc.CheckResult{"database": healthuc.CheckOK},
				LibrarySize: 42,
			}}
			rr := do(t, newTestRouter(lib, Limits{}), http.MethodGet, "/health", "")

			if rr.Code != tt.want {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.want)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Status != string(tt.status) || resp.LibrarySize != 42 || resp.Checks["database"] != "ok" {
				t.Errorf("health response: got %+v", resp)
			}
		})
	}
}

func TestRouter_MetricsAndUnknownRoute(t *testing.T) {
	h := newTestRouter(&mockLibrary{}, Limits{})

	if rr := do(t, h, http.MethodGet, "/metrics", ""); rr.Code != http.StatusOK {
		t.Errorf("metrics: got %d, want 200", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/v1/unknown", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route: got %d, want 404", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrorCodeNotFound {
		t.Errorf("code: got %s, want %s", resp.Code, ErrorCodeNotFound)
	}
	if rr := do(t, h, http.MethodGet, "/v1/rank", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong method: got %d, want 405", rr.Code)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := jsonRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrorCodeInternalError {
		t.Errorf("code: got %s, want %s", resp.Code, ErrorCodeInternalError)
	}
}

func TestWideEventMiddleware_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	h := NewRouter(NewServer(&mockLibrary{}, Limits{}, logger), nil, nil, logger)

	do(t, h, http.MethodPost, "/v1/rank", twoSpectra)
	do(t, h, http.MethodGet, "/v1/unknown", "")

	entries := logs.FilterMessage("http_request").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 canonical lines, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Errorf("levels: got %s, %s", entries[0].Level, entries[1].Level)
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/v1/rank" || fields["status"] != int64(http.StatusOK) {
		t.Errorf("fields: got %v", fields)
	}
	if id, _ := fields["request_id"].(string); id == "" {
		t.Error("expected request_id field")
	}
}
