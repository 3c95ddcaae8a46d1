// Package export renders scored calls for people: Markdown and HTML for chat
// and browsers, PDF for the operator file, XLSX for batches.
package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"monitorai/internal/domain"
	"monitorai/internal/rubric"
	"monitorai/internal/scoring"
)

// Meta is the evaluation context printed around a report.
type Meta struct {
	EvaluationID string
	Filename     string
	Model        string
	CreatedAt    time.Time
	Transcript   string
}

func MetaFor(ev domain.Evaluation) Meta {
	return Meta{
		EvaluationID: ev.ID,
		Filename:     ev.Filename,
		Model:        ev.LLMModel,
		CreatedAt:    ev.CreatedAt,
		Transcript:   ev.Transcript,
	}
}

const justificationRunes = 280

func Markdown(rep scoring.Report, meta Meta) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# MonitorAI - Relatório de Atendimento\n\n")
	fmt.Fprintf(&b, "**Rubrica:** %s (%s)", rep.RubricName, rep.RubricID)
	if rep.RubricVersion != "" {
		fmt.Fprintf(&b, " v%s", rep.RubricVersion)
	}
	b.WriteString("  \n")
	if !meta.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "**Data da análise:** %s  \n", meta.CreatedAt.Format("02/01/2006 15:04"))
	}
	if meta.Filename != "" {
		fmt.Fprintf(&b, "**Arquivo:** %s  \n", meta.Filename)
	}
	if meta.Model != "" {
		fmt.Fprintf(&b, "**Modelo utilizado:** %s  \n", meta.Model)
	}
	b.WriteString("\n## Pontuação Total\n\n")
	fmt.Fprintf(&b, "**%s** (%d%%) %s\n", TotalLine(rep), rep.TotalPercentage, bandLabel(rep.Band))

	if flagged := rep.OccurredEliminatory(); len(flagged) > 0 {
		b.WriteString("\n## Critérios Eliminatórios\n\n")
		for _, f := range flagged {
			fmt.Fprintf(&b, "- :rotating_light: **%s**", f.Name)
			if f.Justification != "" {
				fmt.Fprintf(&b, ": %s", f.Justification)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n## Avaliação por Grupos\n\n")
	for _, g := range rep.Groups {
		fmt.Fprintf(&b, "### %s %s\n\n", statusMark(g.Status), g.Name)
		fmt.Fprintf(&b, "Pontos: %s de %s\n\n", points(g.PointsAwarded), formatNumber(g.Weight))
		for _, it := range g.Items {
			fmt.Fprintf(&b, "- %s **Item %s** (%s): %s\n", itemMark(it.Passed), it.ID, formatNumber(it.Weight), it.Description)
			if it.Justification != "" {
				fmt.Fprintf(&b, "  - _%s_\n", truncate(it.Justification, justificationRunes))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Resumo Geral\n\n")
	if rep.Summary != "" {
		b.WriteString(rep.Summary)
	} else {
		b.WriteString("N/A")
	}
	b.WriteString("\n")
	writeList(&b, "Pontos Positivos", "+", rep.Strengths)
	writeList(&b, "Pontos de Melhoria", "-", rep.Improvements)
	return b.String()
}

// HTML renders the Markdown report as a standalone page.
func HTML(rep scoring.Report, meta Meta) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage | html.HrefTargetBlank,
		Title: "MonitorAI - " + rep.RubricName,
	})
	return markdown.ToHTML([]byte(Markdown(rep, meta)), p, renderer)
}

// TotalLine is "60 de 86 pontos" or "95% de 100%".
func TotalLine(rep scoring.Report) string {
	if rep.Scale == rubric.ScalePercent {
		return fmt.Sprintf("%s%% de %s%%", formatNumber(rep.TotalObtained), formatNumber(rep.TotalMaximum))
	}
	return fmt.Sprintf("%s de %s pontos", formatNumber(rep.TotalObtained), formatNumber(rep.TotalMaximum))
}

func writeList(b *strings.Builder, title, bullet string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, s := range items {
		fmt.Fprintf(b, "%s %s\n", bullet, s)
	}
}

func statusMark(s scoring.GroupStatus) string {
	switch s {
	case scoring.StatusPassed:
		return "[OK]"
	case scoring.StatusFailed:
		return "[FALHOU]"
	default:
		return "[N/A]"
	}
}

func itemMark(passed *bool) string {
	switch {
	case passed == nil:
		return "[N/A]"
	case *passed:
		return "[OK]"
	default:
		return "[X]"
	}
}

func bandLabel(b scoring.Band) string {
	switch b {
	case scoring.BandHigh:
		return "- desempenho alto"
	case scoring.BandMedium:
		return "- desempenho médio"
	default:
		return "- desempenho baixo"
	}
}

func points(p *float64) string {
	if p == nil {
		return "N/A"
	}
	return formatNumber(*p)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
