package batch

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monitorai/internal/domain"
	"monitorai/internal/evaluation"
	"monitorai/internal/integrations/llm"
	"monitorai/internal/rubric"
)

type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	b, err := io.ReadAll(audio)
	return string(b), err
}

// transcriptJudge returns the canned response keyed by the transcript text.
type transcriptJudge struct {
	mu        sync.Mutex
	responses map[string]string
	seen      []string
}

func (j *transcriptJudge) Score(_ context.Context, _ *rubric.Rubric, transcript string) (llm.Judgment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seen = append(j.seen, transcript)
	return llm.Judgment{Text: j.responses[transcript], Model: "test"}, nil
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
		"resumo_geral":    "ok",
	})
	require.NoError(t, err)
	return string(b)
}

func newService(t *testing.T, judge evaluation.Judge) *evaluation.Service {
	t.Helper()
	catalog, err := rubric.LoadCatalog("", rubric.DefaultID)
	require.NoError(t, err)
	svc := evaluation.NewService(catalog, echoTranscriber{}, judge, nil)
	svc.Logger = log.New(io.Discard, "", 0)
	return svc
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.mp3", "x")
	writeFile(t, dir, "sub/a.txt", "x")
	writeFile(t, dir, "notes.pdf", "x")
	writeFile(t, dir, "resp.json", "{}")

	calls, err := CollectInputs([]string{dir}, ModeCalls)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.mp3"), filepath.Join(dir, "sub/a.txt")}, calls)

	responses, err := CollectInputs([]string{dir, filepath.Join(dir, "resp.json")}, ModeResponses)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "resp.json"), filepath.Join(dir, "sub/a.txt")}, responses)

	_, err = CollectInputs([]string{filepath.Join(dir, "notes.pdf")}, ModeCalls)
	assert.ErrorContains(t, err, "unsupported input")

	_, err = CollectInputs([]string{filepath.Join(dir, "missing")}, ModeCalls)
	assert.Error(t, err)
}

func TestRunCallsKeepsInputOrder(t *testing.T) {
	judge := &transcriptJudge{responses: map[string]string{}}
	svc := newService(t, judge)
	good := allPassed(t, svc.Rubrics.Default())
	judge.responses["audio-1"] = good
	judge.responses["texto-2"] = good
	judge.responses["texto-3"] = "sem json"

	dir := t.TempDir()
	inputs := []string{
		writeFile(t, dir, "1.mp3", "audio-1"),
		writeFile(t, dir, "2.txt", "  texto-2\n"),
		writeFile(t, dir, "3.txt", "texto-3"),
	}

	outcomes := Run(context.Background(), svc, inputs, Options{Workers: 2})
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, inputs[i], o.Path)
	}

	assert.True(t, outcomes[0].OK())
	assert.Equal(t, "1.mp3", outcomes[0].Evaluation.Filename)
	assert.Equal(t, domain.SourceBatch, outcomes[0].Evaluation.Source)
	assert.Equal(t, 100, outcomes[1].Evaluation.Percentage())

	assert.False(t, outcomes[2].OK())
	require.NotNil(t, outcomes[2].Evaluation)
	assert.Equal(t, "MalformedResponse", outcomes[2].Evaluation.ErrorKind)

	assert.Len(t, Evaluations(outcomes), 3)
	assert.Equal(t, 1, Failures(outcomes))
	assert.ElementsMatch(t, []string{"audio-1", "texto-2", "texto-3"}, judge.seen)
}

func TestRunResponsesNeverCallsJudge(t *testing.T) {
	judge := &transcriptJudge{}
	svc := newService(t, judge)
	dir := t.TempDir()
	inputs := []string{
		writeFile(t, dir, "ok.json", allPassed(t, svc.Rubrics.Default())),
		writeFile(t, dir, "bad.json", `{"grupos": []}`),
	}

	outcomes := Run(context.Background(), svc, inputs, Options{Mode: ModeResponses, RubricID: "carglass-86"})
	require.Len(t, outcomes, 2)
	assert.Empty(t, judge.seen)

	assert.True(t, outcomes[0].OK())
	assert.Equal(t, "ok.json", outcomes[0].Evaluation.Filename)
	assert.Equal(t, domain.SourceRescore, outcomes[0].Evaluation.Source)
	assert.Equal(t, "MissingField", outcomes[1].Evaluation.ErrorKind)
	assert.Equal(t, 1, Failures(outcomes))
}

func TestRunUnknownRubricFailsEveryInput(t *testing.T) {
	svc := newService(t, &transcriptJudge{})
	dir := t.TempDir()
	inputs := []string{writeFile(t, dir, "a.json", "{}"), writeFile(t, dir, "b.json", "{}")}

	outcomes := Run(context.Background(), svc, inputs, Options{Mode: ModeResponses, RubricID: "nope"})
	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, evaluation.ErrUnknownRubric)
		assert.Nil(t, o.Evaluation)
	}
	assert.Empty(t, Evaluations(outcomes))
	assert.Equal(t, 2, Failures(outcomes))
	assert.True(t, strings.HasSuffix(outcomes[1].Path, "b.json"))
}
