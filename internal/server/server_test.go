package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monitorai/internal/evaluation"
	"monitorai/internal/integrations/llm"
	"monitorai/internal/rubric"
	"monitorai/internal/storage/sqlite"
)

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	_, _ = io.ReadAll(audio)
	return s.text, nil
}

type stubJudge struct {
	text string
	err  error
}

func (s *stubJudge) Score(_ context.Context, _ *rubric.Rubric, _ string) (llm.Judgment, error) {
	if s.err != nil {
		return llm.Judgment{}, s.err
	}
	return llm.Judgment{Text: s.text, Provider: "openai", Model: "gpt-4-turbo"}, nil
}

func allPassed(t *testing.T, r *rubric.Rubric) string {
	t.Helper()
	var groups []any
	for _, g := range r.Groups {
		var items []any
		for _, it := range g.Items {
			items = append(items, map[string]any{"id": it.ID, "atendido": "sim"})
		}
		groups = append(groups, map[string]any{"id": g.ID, "itens": items})
	}
	b, err := json.Marshal(map[string]any{
		"grupos":          groups,
		"pontuacao_total": map[string]any{"maxima": r.MaxScore},
		"resumo_geral":    "Excelente.",
	})
	require.NoError(t, err)
	return string(b)
}

func newTestServer(t *testing.T, token string, judge *stubJudge) *Server {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog, err := rubric.LoadCatalog("", rubric.DefaultID)
	require.NoError(t, err)
	if judge.text == "" && judge.err == nil {
		judge.text = allPassed(t, catalog.Default())
	}

	svc := evaluation.NewService(catalog, stubTranscriber{text: "Atendente: bom dia."}, judge, db)
	svc.Logger = log.New(io.Discard, "", 0)
	return New(svc, db, token, 1024)
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var jsonHeader = map[string]string{"Content-Type": "application/json"}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, "secret", &stubJudge{}).Routes()
	rec := do(t, h, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestAPITokenRequired(t *testing.T) {
	h := newTestServer(t, "secret", &stubJudge{}).Routes()

	rec := do(t, h, http.MethodGet, "/rubrics", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec)["error"])

	rec = do(t, h, http.MethodGet, "/rubrics", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/rubrics", nil, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRubricRoutes(t *testing.T) {
	h := newTestServer(t, "", &stubJudge{}).Routes()

	rec := do(t, h, http.MethodGet, "/rubrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []rubricSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	for _, r := range list {
		assert.Equal(t, r.ID == rubric.DefaultID, r.IsDefault, r.ID)
	}

	rec = do(t, h, http.MethodGet, "/rubrics/carglass-100", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "percent", decode(t, rec)["scale"])

	rec = do(t, h, http.MethodGet, "/rubrics/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEvaluationFromTranscript(t *testing.T) {
	h := newTestServer(t, "", &stubJudge{}).Routes()

	rec := do(t, h, http.MethodPost, "/evaluations", strings.NewReader(`{"transcript":"Atendente: bom dia.","submitted_by":"qa"}`), jsonHeader)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "scored", body["status"])
	assert.EqualValues(t, 100, body["percentage"])
	report := body["report"].(map[string]any)
	assert.EqualValues(t, 86, report["total_obtained"])
	id := body["id"].(string)

	rec = do(t, h, http.MethodGet, "/evaluations/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "qa", decode(t, rec)["submitted_by"])

	rec = do(t, h, http.MethodGet, "/evaluations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Nil(t, list[0]["report"])

	rec = do(t, h, http.MethodGet, "/evaluations/"+id+"/report.md", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "86 de 86 pontos")

	rec = do(t, h, http.MethodGet, "/evaluations/"+id+"/report.html", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<html")

	rec = do(t, h, http.MethodGet, "/evaluations/"+id+"/report.pdf", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "MonitorAI_Relatorio_")

	rec = do(t, h, http.MethodGet, "/evaluations/export.xlsx?days=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestCreateEvaluationFromAudio(t *testing.T) {
	h := newTestServer(t, "", &stubJudge{}).Routes()

	upload := func(name string, size int) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("rubric", "carglass-86"))
		fw, err := mw.CreateFormFile("audio", name)
		require.NoError(t, err)
		_, err = fw.Write(bytes.Repeat([]byte{1}, size))
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		return do(t, h, http.MethodPost, "/evaluations", &buf, map[string]string{"Content-Type": mw.FormDataContentType()})
	}

	rec := upload("ligacao.mp3", 64)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "ligacao.mp3", body["filename"])
	assert.Equal(t, "Atendente: bom dia.", body["transcript"])

	rec = upload("ligacao.mp3", 4096)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = upload("ata.docx", 64)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "unsupported audio format")
}

func TestScoreFailureIsUnprocessable(t *testing.T) {
	h := newTestServer(t, "", &stubJudge{}).Routes()

	rec := do(t, h, http.MethodPost, "/score", strings.NewReader(`{"response":"Desculpe, não consigo."}`), jsonHeader)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "MalformedResponse", body["kind"])
	assert.Equal(t, "Desculpe, não consigo.", body["raw_response"])
	assert.NotEmpty(t, body["evaluation_id"])

	rec = do(t, h, http.MethodPost, "/score", strings.NewReader(`{"response":"{\"grupos\":[]}"}`), jsonHeader)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "MissingField", body["kind"])
	assert.Equal(t, "pontuacao_total", body["field"])

	id := body["evaluation_id"].(string)
	rec = do(t, h, http.MethodGet, "/evaluations/"+id+"/report.pdf", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScoreSuccess(t *testing.T) {
	s := newTestServer(t, "", &stubJudge{})
	raw, err := json.Marshal(map[string]string{"rubric": "carglass-86", "response": allPassed(t, s.Rubrics.Default())})
	require.NoError(t, err)

	rec := do(t, s.Routes(), http.MethodPost, "/score", bytes.NewReader(raw), jsonHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rescore", decode(t, rec)["source"])
}

func TestErrorMapping(t *testing.T) {
	judge := &stubJudge{err: errors.New("rate limited")}
	h := newTestServer(t, "", judge).Routes()

	rec := do(t, h, http.MethodPost, "/evaluations", strings.NewReader(`{"transcript":"x"}`), jsonHeader)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, h, http.MethodPost, "/evaluations", strings.NewReader(`{"rubric":"nope","transcript":"x"}`), jsonHeader)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/evaluations", strings.NewReader(`{"transcript":"  "}`), jsonHeader)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/evaluations", strings.NewReader(`{`), jsonHeader)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/evaluations?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/evaluations/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
