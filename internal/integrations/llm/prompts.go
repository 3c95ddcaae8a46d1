package llm

import (
	"fmt"
	"strconv"
	"strings"

	"monitorai/internal/rubric"
)

const systemPrompt = "Você é um analista especializado em monitoria de atendimento. Responda APENAS com JSON, sem texto adicional."

// BuildPrompts renders the rubric and the expected JSON contract for one
// transcript. The response keys match what the scoring validator reads.
func BuildPrompts(r *rubric.Rubric, transcript string) (string, string) {
	var b strings.Builder
	unit := "pontos"
	if r.Scale == rubric.ScalePercent {
		unit = "%"
	}

	fmt.Fprintf(&b, "Avalie a transcrição de uma ligação usando a rubrica \"%s\" (%s), organizada em GRUPOS.\n\n", r.Name, r.ID)
	b.WriteString("TRANSCRIÇÃO:\n\"\"\"\n")
	b.WriteString(strings.TrimSpace(transcript))
	b.WriteString("\n\"\"\"\n\n")

	b.WriteString("ESTRUTURA DE AVALIAÇÃO POR GRUPOS:\n\n")
	b.WriteString("REGRA CRÍTICA: se qualquer item de um grupo falhar, TODO O GRUPO recebe 0.\n\n")
	for i, g := range r.Groups {
		fmt.Fprintf(&b, "GRUPO %d [id=%s]: %s (%s %s)\n", i+1, g.ID, g.Name, formatWeight(g.GroupWeight), unit)
		if g.Inverted {
			b.WriteString("  ATENÇÃO: grupo invertido. O item descreve uma ação INDESEJADA; responda true somente se a ação OCORREU.\n")
		}
		for _, it := range g.Items {
			fmt.Fprintf(&b, "- Item %s (%s): %s\n", it.ID, formatWeight(it.Weight), it.Description)
		}
		b.WriteString("\n")
	}

	if len(r.Eliminatory) > 0 {
		b.WriteString("CRITÉRIOS ELIMINATÓRIOS (não alteram a pontuação, devem ser sinalizados):\n")
		for _, e := range r.Eliminatory {
			fmt.Fprintf(&b, "- [id=%s] %s\n", e.ID, e.Name)
		}
		b.WriteString("\n")
	}

	if guidance := strings.TrimSpace(r.Guidance); guidance != "" {
		b.WriteString("INSTRUÇÕES DETALHADAS:\n")
		b.WriteString(guidance)
		b.WriteString("\n\n")
	}

	b.WriteString("REGRAS DE RESPOSTA:\n")
	b.WriteString("- \"atendido\" deve ser true, false ou null. Use null apenas quando o item não puder ser avaliado pela transcrição.\n")
	b.WriteString("- Inclua TODOS os grupos e TODOS os itens, usando os ids informados.\n")
	b.WriteString("- Toda justificativa deve citar evidências da transcrição.\n\n")

	b.WriteString("Retorne APENAS JSON no formato:\n\n")
	b.WriteString(responseContract(r))
	b.WriteString("\n\nIMPORTANTE: seja rigoroso. Um item não atendido reprova todo o grupo!\n")

	return systemPrompt, b.String()
}

func responseContract(r *rubric.Rubric) string {
	var b strings.Builder
	b.WriteString("{\n  \"grupos\": [\n")
	g := r.Groups[0]
	it := g.Items[0]
	fmt.Fprintf(&b, "    {\n      \"id\": %q,\n      \"nome\": %q,\n      \"peso_grupo\": %s,\n      \"aprovado\": true/false/null,\n      \"pontos_obtidos\": %s ou 0,\n",
		g.ID, g.Name, formatWeight(g.GroupWeight), formatWeight(g.GroupWeight))
	b.WriteString("      \"itens\": [\n")
	fmt.Fprintf(&b, "        {\n          \"id\": %q,\n          \"descricao\": %q,\n          \"peso\": %s,\n          \"atendido\": true/false/null,\n          \"pontos_obtidos\": %s ou 0,\n          \"justificativa\": \"Explicação com evidências da transcrição\"\n        }\n",
		it.ID, it.Description, formatWeight(it.Weight), formatWeight(it.Weight))
	b.WriteString("      ]\n    }\n  ],\n")
	fmt.Fprintf(&b, "  \"pontuacao_total\": {\n    \"obtida\": 0-%s,\n    \"maxima\": %s,\n    \"percentual\": 0-100\n  },\n",
		formatWeight(r.MaxScore), formatWeight(r.MaxScore))
	if len(r.Eliminatory) > 0 {
		fmt.Fprintf(&b, "  \"criterios_eliminatorios\": [\n    {\"id\": %q, \"ocorreu\": true/false, \"justificativa\": \"...\"}\n  ],\n", r.Eliminatory[0].ID)
	}
	b.WriteString("  \"resumo_geral\": \"Análise geral focando grupos aprovados/reprovados\",\n")
	b.WriteString("  \"pontos_positivos\": [\"lista de pontos fortes\"],\n")
	b.WriteString("  \"pontos_melhoria\": [\"lista de melhorias necessárias\"]\n}")
	return b.String()
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}
