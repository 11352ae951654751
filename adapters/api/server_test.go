package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"patchcert/adapters/bounds"
	"patchcert/adapters/sqlstore"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal"
	"patchcert/internal/errors"
	"patchcert/internal/metrics"
	"patchcert/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// 4x4 grid voting 1 everywhere except two cells.
var mostlyOnes = [][][]float64{
	{{0, 1}, {0, 1}, {0, 1}, {0, 1}},
	{{0, 1}, {1, 0}, {0, 1}, {0, 1}},
	{{0, 1}, {0, 1}, {0, 1}, {0, 1}},
	{{0, 1}, {0, 1}, {0, 1}, {1, 0}},
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	opts = append([]Option{
		WithMetrics(m, reg),
		WithLogger(internal.NewLoggerTo(io.Discard, internal.LogLevelError)),
	}, opts...)
	return NewServer(Defaults{
		Params: bounds.Params{Model: verdict.ModelMasking},
		Window: grid.Square(2),
	}, opts...)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCertifyEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/v1/certify", map[string]interface{}{"grid": mostlyOnes, "label": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CertifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Certified)
	assert.Equal(t, verdict.StatusCertifiedRobust, resp.Verdict.Status)
	assert.Equal(t, 1, resp.Predicted)
	assert.Equal(t, 10.0, resp.Verdict.Lower)
	assert.Equal(t, 6.0, resp.Verdict.Upper)
}

func TestCertifyEndpoint_Overrides(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{
		"grid":       mostlyOnes,
		"label":      1,
		"model":      "clipping",
		"clip_bound": 1,
		"window":     map[string]int{"height": 3, "width": 3},
	}
	rec := do(t, s, http.MethodPost, "/v1/certify", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CertifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, verdict.ModelClipping, resp.Verdict.Bounds.Model)
	assert.Equal(t, grid.Square(3), resp.Verdict.Bounds.Window)
	assert.False(t, resp.Certified)
}

func TestCertifyEndpoint_Errors(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name string
		body interface{}
		code string
	}{
		{"missing label", map[string]interface{}{"grid": mostlyOnes}, errors.CodeInvalidInput},
		{"label out of range", map[string]interface{}{"grid": mostlyOnes, "label": 2}, errors.CodeConfigInvalid},
		{"window too large", map[string]interface{}{"grid": mostlyOnes, "label": 0, "window": map[string]int{"height": 5, "width": 1}}, errors.CodeConfigInvalid},
		{"unknown model", map[string]interface{}{"grid": mostlyOnes, "label": 0, "model": "median"}, errors.CodeConfigInvalid},
		{"score above clip", map[string]interface{}{"grid": [][][]float64{{{0, 2}}}, "label": 0, "model": "clipping", "clip_bound": 1, "window": map[string]int{"height": 1, "width": 1}}, errors.CodeNumericError},
		{"ragged grid", map[string]interface{}{"grid": [][][]float64{{{0, 1}, {1}}}, "label": 0}, errors.CodeConfigInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/certify", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}

	metricsRec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), `patchcert_failures_total{code="NUMERIC_ERROR",model="clipping"} 1`)
}

func TestPredictEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/v1/predict", map[string]interface{}{"grid": mostlyOnes})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Predicted)
	assert.Equal(t, 1, resp.Clean)
	assert.Equal(t, []float64{2, 14}, resp.Bounds.Clean)
}

func TestWindowEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/v1/window", WindowRequest{PatchSize: 32, ReceptiveField: 17, Stride: 8})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp WindowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Cells)

	rec = do(t, s, http.MethodPost, "/v1/window", map[string]int{"patch_size": 32})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"window":"2x2"`)

	do(t, s, http.MethodPost, "/v1/certify", map[string]interface{}{"grid": mostlyOnes, "label": 1})
	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `patchcert_verdicts_total{model="masking",status="certified_robust"} 1`)
}

func TestRunsEndpoints(t *testing.T) {
	ctx := context.Background()
	repo, err := sqlstore.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer repo.Close()

	started := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveRun(ctx, &ports.RunRecord{
		ID: "run-x", Model: verdict.ModelMasking, WindowH: 2, WindowW: 2, Fingerprint: "f",
		Samples: 2, Certified: 1, Incorrect: 1, StartedAt: started, FinishedAt: started,
	}, []ports.ResultRecord{
		{RunID: "run-x", Position: 0, SampleID: "a", Status: verdict.StatusCertifiedRobust},
		{RunID: "run-x", Position: 1, SampleID: "b", Status: verdict.StatusIncorrect, Label: 1},
	}))

	s := newTestServer(t, WithRepository(repo))

	rec := do(t, s, http.MethodGet, "/v1/runs/run-x", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"certified":1`)

	rec = do(t, s, http.MethodGet, "/v1/runs/run-x/results?status=incorrect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []ports.ResultRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].SampleID.String())

	rec = do(t, s, http.MethodGet, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"id":"run-x"`))

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/runs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/runs/nope/results", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/runs/run-x/results?status=bogus", nil).Code)
}

func TestRunsEndpointsDisabledWithoutRepository(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/runs", nil).Code)
}
