package scoring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"monitorai/internal/rubric"
)

func builtin(t *testing.T, id string) *rubric.Rubric {
	t.Helper()
	all, err := rubric.Builtin()
	require.NoError(t, err)
	for _, r := range all {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("builtin rubric %q not found", id)
	return nil
}

// judgeRecord builds a well-formed judge response for r. Every item answers
// "sim" (or "não" for inverted groups) unless answers overrides it by item id.
func judgeRecord(r *rubric.Rubric, answers map[string]any) map[string]any {
	groups := make([]any, 0, len(r.Groups))
	for _, g := range r.Groups {
		items := make([]any, 0, len(g.Items))
		for _, it := range g.Items {
			var verdict any = "sim"
			if g.Inverted {
				verdict = "não"
			}
			if v, ok := answers[it.ID]; ok {
				verdict = v
			}
			items = append(items, map[string]any{
				"id":            it.ID,
				"descricao":     it.Description,
				"peso":          it.Weight,
				"atendido":      verdict,
				"justificativa": "item " + it.ID,
			})
		}
		groups = append(groups, map[string]any{
			"nome":          g.Name,
			"peso_grupo":    g.GroupWeight,
			"itens":         items,
			"justificativa": "grupo " + g.ID,
		})
	}
	rec := map[string]any{
		"grupos": groups,
		"pontuacao_total": map[string]any{
			"maxima": r.MaxScore,
		},
		"resumo_geral":     "Atendimento cordial.",
		"pontos_positivos": []any{"Saudação correta"},
		"pontos_melhoria":  []any{"Confirmar telefones"},
	}
	if len(r.Eliminatory) > 0 {
		crit := make([]any, 0, len(r.Eliminatory))
		for _, e := range r.Eliminatory {
			crit = append(crit, map[string]any{"id": e.ID, "ocorreu": false, "justificativa": ""})
		}
		rec["criterios_eliminatorios"] = crit
	}
	return rec
}

func judgeText(t *testing.T, rec map[string]any) string {
	t.Helper()
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(b)
}
