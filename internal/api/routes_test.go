package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regimen-risk/backend/internal/model"
	"regimen-risk/backend/internal/scoring"
	"regimen-risk/backend/internal/store"
)

// newTestServer builds a knowledge base of five drugs and a model where
// anticoagulant+nsaid is severe, anticoagulant+statin moderate and
// nsaid+statin unknown.
func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	dbPath := filepath.Join(dir, "kb.db")
	db, err := store.Open(dbPath, true)
	require.NoError(t, err)
	require.NoError(t, db.UpsertDrugs([]store.Drug{
		{DrugID: "D1", Name: "Warfarin", DrugClass: "anticoagulant", Position: 1},
		{DrugID: "D2", Name: "Ibuprofen", DrugClass: "nsaid", Position: 2},
		{DrugID: "D3", Name: "Atorvastatin", DrugClass: "statin", Position: 3},
		{DrugID: "D4", Name: "Naproxen", DrugClass: "nsaid", Position: 4},
		{DrugID: "D5", Name: "Diclofenac", DrugClass: "nsaid", Position: 5},
	}))
	require.NoError(t, db.ReplaceInteractions([]store.Interaction{
		{Drug1ID: "D1", Drug2ID: "D2", Severity: "severe"},
		{Drug1ID: "D2", Drug2ID: "D3", Severity: "minor"},
	}))
	require.NoError(t, db.Close())

	artifact := model.Artifact{
		Classes: []string{"anticoagulant", "nsaid", "statin"},
		Labels:  []string{"moderate", "severe", "unknown"},
		Prior:   []float64{0.2, 0.2, 0.6},
		Cells: []model.Cell{
			{Class1: "anticoagulant", Class2: "nsaid", Probabilities: []float64{0.1, 0.8, 0.1}},
			{Class1: "statin", Class2: "anticoagulant", Probabilities: []float64{0.7, 0.2, 0.1}},
			{Class1: "nsaid", Class2: "statin", Probabilities: []float64{0.1, 0.1, 0.8}},
		},
	}
	payload, err := json.Marshal(artifact)
	require.NoError(t, err)
	modelPath := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(modelPath, payload, 0o600))

	server, err := NewServer(Config{DBPath: dbPath, ModelPath: modelPath, SilentDB: true, Workers: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	router, err := server.Router()
	require.NoError(t, err)
	return server, router
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestNewServerRequiresPaths(t *testing.T) {
	_, err := NewServer(Config{ModelPath: "model.json"})
	assert.Error(t, err)
	_, err = NewServer(Config{DBPath: filepath.Join(t.TempDir(), "kb.db")})
	assert.Error(t, err)
}

func TestNewServerFailsOnMissingModel(t *testing.T) {
	dir := t.TempDir()
	_, err := NewServer(Config{DBPath: filepath.Join(dir, "kb.db"), ModelPath: filepath.Join(dir, "missing.json"), SilentDB: true})
	assert.Error(t, err)
}

func TestRootAndHealth(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"API is running"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = doJSON(t, router, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, router := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestRiskScore(t *testing.T) {
	_, router := newTestServer(t)

	tests := []struct {
		name    string
		path    string
		body    string
		risk    float64
		total   int
		severe  int
		details int
	}{
		{"no profile", "/api/risk_score", `{"drug_ids":["D1","D2","D3"]}`, 66.67, 3, 1, 3},
		{"elderly", "/api/risk_score", `{"drug_ids":["D1","D2","D3"],"age":70}`, 80, 3, 1, 3},
		{"elderly female string age", "/api/risk_score", `{"drug_ids":["D1","D2","D3"],"age":"70","sex":"F"}`, 84, 3, 1, 3},
		{"non numeric age ignored", "/api/risk_score", `{"drug_ids":["D1","D2","D3"],"age":"old"}`, 66.67, 3, 1, 3},
		{"single drug", "/risk_score", `{"drug_ids":["D1"]}`, 0, 0, 0, 0},
		{"empty regimen", "/risk_score", `{"drug_ids":[]}`, 0, 0, 0, 0},
		{"duplicates collapse", "/risk_score", `{"drug_ids":["D1","D2","D1"]}`, 100, 1, 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, tc.path, tc.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp RiskResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.InDelta(t, tc.risk, resp.Risk.RiskScore, 1e-9)
			assert.Equal(t, tc.total, resp.Risk.TotalPairs)
			assert.Equal(t, tc.severe, resp.Risk.SeverePairs)
			assert.Len(t, resp.Risk.Details, tc.details)
		})
	}
}

func TestRiskScoreRejectsBadInput(t *testing.T) {
	_, router := newTestServer(t)

	for _, body := range []string{`{}`, `{"drug_ids":"D1"}`, `not json`} {
		rec := doJSON(t, router, http.MethodPost, "/api/risk_score", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestRiskScoreRejectsOversizedBody(t *testing.T) {
	_, router := newTestServer(t)
	ids := strings.Repeat(`"D1",`, maxBodyBytes/4)
	body := `{"drug_ids":[` + ids + `"D2"]}`
	rec := doJSON(t, router, http.MethodPost, "/api/risk_score", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecommend(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/recommend_drug", `{"drug_ids":["D2","D3"],"target_drug":"D2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp RecommendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Recommendations, 2)
	assert.Equal(t, "D4", resp.Recommendations[0].AlternativeDrugID)
	assert.Equal(t, "D5", resp.Recommendations[1].AlternativeDrugID)
	assert.InDelta(t, 33.33, resp.Recommendations[0].RiskScore, 1e-9)
	assert.Equal(t, 1, resp.Recommendations[0].UnknownPairs)
}

func TestRecommendTopKAndAlias(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, http.MethodPost, "/recommend_drug", `{"drug_ids":["D2","D3"],"target_drug":"D2","top_k":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RecommendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "D4", resp.Recommendations[0].AlternativeDrugID)
}

func TestRecommendTargetOutsideRegimen(t *testing.T) {
	_, router := newTestServer(t)
	rec := doJSON(t, router, http.MethodPost, "/api/recommend_drug", `{"drug_ids":["D1","D3"],"target_drug":"D2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recommendations":[]}`, rec.Body.String())
}

func TestRecommendValidation(t *testing.T) {
	_, router := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing target", `{"drug_ids":["D1","D2"]}`},
		{"missing drugs", `{"target_drug":"D1"}`},
		{"blank target", `{"drug_ids":["D1"],"target_drug":"  "}`},
		{"negative top k", `{"drug_ids":["D1"],"target_drug":"D1","top_k":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/recommend_drug", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRecommendErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
		{"wrapped deadline", fmt.Errorf("search: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"other failure", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, recommendErrorStatus(tc.err))
		})
	}
}

func TestRecommendCancelledRequest(t *testing.T) {
	_, router := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/recommend_drug",
		strings.NewReader(`{"drug_ids":["D2","D3"],"target_drug":"D2"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInteractionGraph(t *testing.T) {
	_, router := newTestServer(t)
	for _, path := range []string{"/api/interaction_graph", "/interaction_graph"} {
		rec := doJSON(t, router, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp GraphResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Nodes, 5)
		assert.Equal(t, GraphNode{ID: "D1", Label: "Warfarin"}, resp.Nodes[0])
		require.Len(t, resp.Edges, 2)
		assert.Equal(t, GraphEdge{Source: "D1", Target: "D2", Severity: "severe"}, resp.Edges[0])
	}
}

func TestDrugsAndConfig(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/drugs?class=nsaid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var drugs DrugsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drugs))
	assert.Equal(t, 3, drugs.Total)
	assert.Equal(t, "D2", drugs.Items[0].ID)

	rec = doJSON(t, router, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.EqualValues(t, 3, cfg["model_classes"])
	assert.EqualValues(t, 5, cfg["drug_count"])
	assert.EqualValues(t, scoring.DefaultTopK, cfg["default_top_k"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := newTestServer(t)
	doJSON(t, router, http.MethodPost, "/api/risk_score", `{"drug_ids":["D1","D2"]}`)

	rec := doJSON(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "regimen_risk_regimen_assessments_total 1")
}

func TestRecommendStream(t *testing.T) {
	_, router := newTestServer(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/recommend/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(RecommendRequest{DrugIDs: []string{"D2", "D3"}, TargetDrug: "D2"}))

	candidates := 0
	for {
		var event StreamEvent
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == "candidate" {
			candidates++
			require.NotNil(t, event.Candidate)
			continue
		}
		require.Equal(t, "complete", event.Type, event.Message)
		assert.Equal(t, 2, event.Processed)
		require.Len(t, event.Recommendations, 2)
		assert.Equal(t, "D4", event.Recommendations[0].AlternativeDrugID)
		break
	}
	assert.Equal(t, 2, candidates)
}

func TestRecommendStreamRejectsInvalidRequest(t *testing.T) {
	_, router := newTestServer(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/recommend/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"drug_ids": []string{"D1"}}))
	var event StreamEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "error", event.Type)
	assert.Contains(t, event.Message, "target_drug")
}
