package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/medrag/internal/core"
	"github.com/agenthands/medrag/internal/core/lexicon"
	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/driver"
	"github.com/agenthands/medrag/internal/llm"
	"github.com/agenthands/medrag/internal/refresh"
)

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return s.response, s.err
}

func setup(t *testing.T, gen *stubLLM) (*gin.Engine, *Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := driver.NewMemoryStore()
	store.Link(model.KindDisease, "感冒", model.RelHasSymptom, model.KindSymptom, "发热", 0.9)
	store.Link(model.KindDisease, "感冒", model.RelHasSymptom, model.KindSymptom, "头痛", 0.8)
	store.Link(model.KindDisease, "感冒", model.RelRecommendDrug, model.KindDrug, "布洛芬", 1)
	store.Link(model.KindDisease, "偏头痛", model.RelHasSymptom, model.KindSymptom, "头痛", 0.95)

	holder := lexicon.NewHolder(nil)
	r := refresh.New(store, holder, nil)
	_, err := r.Reindex(context.Background())
	require.NoError(t, err)

	engine := core.NewEngine(store, holder, gen, nil, core.DefaultSettings(), nil)
	srv := NewServer(engine, r, nil)
	return srv.SetupRouter(), srv
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAsk(t *testing.T) {
	router, _ := setup(t, &stubLLM{response: "感冒常见发热，可以服用布洛芬。"})

	w := do(t, router, http.MethodPost, "/ask", AskRequest{Question: "感冒怎么办"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ans model.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ans))
	assert.NotEmpty(t, ans.QueryID)
	assert.Equal(t, "感冒常见发热，可以服用布洛芬。", ans.Answer)
	require.NotEmpty(t, ans.RelatedEntities)
	assert.Equal(t, "Disease:感冒", ans.RelatedEntities[0].NodeID)

	names := make([]string, 0, len(ans.Citations))
	for _, c := range ans.Citations {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"感冒", "发热", "布洛芬"}, names)
}

func TestAskValidation(t *testing.T) {
	router, _ := setup(t, &stubLLM{response: "ok"})

	w := do(t, router, http.MethodPost, "/ask", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/ask", AskRequest{
		Question: "感冒怎么办",
		Options:  core.Options{KindHints: []model.Kind{"Planet"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAskLowercaseHint(t *testing.T) {
	router, _ := setup(t, &stubLLM{response: "ok"})
	w := do(t, router, http.MethodPost, "/ask", AskRequest{
		Question: "感冒怎么办",
		Options:  core.Options{KindHints: []model.Kind{"disease"}},
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAskInvalidWeights(t *testing.T) {
	router, _ := setup(t, &stubLLM{response: "ok"})
	body := map[string]interface{}{
		"question": "感冒怎么办",
		"options":  map[string]interface{}{"weights": map[string]float64{"edge_weight": -1}},
	}
	w := do(t, router, http.MethodPost, "/ask", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestAskGenerationFailure(t *testing.T) {
	router, _ := setup(t, &stubLLM{err: errors.New("boom")})

	w := do(t, router, http.MethodPost, "/ask", AskRequest{Question: "感冒怎么办"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body struct {
		Code   string       `json:"code"`
		Answer model.Answer `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "GenerationFailed", body.Code)
	assert.NotNil(t, body.Answer.Context, "context is attached on generation failure")
}

func TestAskNothingLinked(t *testing.T) {
	router, _ := setup(t, &stubLLM{response: "unused"})

	w := do(t, router, http.MethodPost, "/ask", AskRequest{Question: "今天天气怎么样"})
	require.Equal(t, http.StatusOK, w.Code)

	var ans model.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ans))
	assert.Zero(t, ans.Confidence)
	require.NotEmpty(t, ans.Diagnostics)
	assert.Equal(t, "LinkingEmpty", ans.Diagnostics[len(ans.Diagnostics)-1].Code)
}

func TestLink(t *testing.T) {
	router, _ := setup(t, &stubLLM{})

	w := do(t, router, http.MethodPost, "/link", LinkRequest{Question: "头痛发热"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Entities []model.LinkedEntity `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	ids := make([]string, 0, len(body.Entities))
	for _, e := range body.Entities {
		ids = append(ids, e.NodeID)
	}
	assert.Equal(t, []string{"Symptom:头痛", "Symptom:发热"}, ids)
}

func TestDiagnose(t *testing.T) {
	router, _ := setup(t, &stubLLM{})

	w := do(t, router, http.MethodPost, "/diagnose", DiagnoseRequest{Symptoms: []string{"头痛", "发热"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Diseases []driver.DiseaseMatch `json:"diseases"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Diseases, 2)
	assert.Equal(t, "感冒", body.Diseases[0].Node.Name)
	assert.Equal(t, 2, body.Diseases[0].Matched)

	w = do(t, router, http.MethodPost, "/diagnose", DiagnoseRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiseaseContext(t *testing.T) {
	router, _ := setup(t, &stubLLM{})

	w := do(t, router, http.MethodGet, "/diseases/"+url.PathEscape("感冒")+"/context", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rc model.RankedContext
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rc))
	assert.Len(t, rc.Symptoms, 2)
	assert.Len(t, rc.Drugs, 1)

	w = do(t, router, http.MethodGet, "/diseases/"+url.PathEscape("不存在")+"/context", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReindexAndHealth(t *testing.T) {
	router, srv := setup(t, &stubLLM{})

	w := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/admin/reindex", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rep refresh.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 5, rep.Nodes)

	srv.Refresher = nil
	w = do(t, router, http.MethodPost, "/admin/reindex", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHealthEmptyIndex(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := core.NewEngine(driver.NewMemoryStore(), lexicon.NewHolder(nil), &stubLLM{}, nil, core.DefaultSettings(), nil)
	router := NewServer(engine, nil, nil).SetupRouter()

	w := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
