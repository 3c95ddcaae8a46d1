package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"monitorai/internal/scoring"
)

// PDF writes the operator report: header, totals, groups with their items,
// narrative and the transcript on its own page. Core fonts only cover
// Windows-1252, so text is transcoded and unsupported runes are replaced.
func PDF(rep scoring.Report, meta Meta, w io.Writer) error {
	enc := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())
	tr := func(s string) string {
		out, err := enc.String(s)
		if err != nil {
			return s
		}
		return out
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetFillColor(193, 0, 0)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(0, 10, tr("MonitorAI - Relatório de Atendimento"), "1", 1, "C", true, 0, "")
	pdf.Ln(5)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("Rubrica: %s (%s)", rep.RubricName, rep.RubricID)), "", 1, "", false, 0, "")
	if !meta.CreatedAt.IsZero() {
		pdf.CellFormat(0, 8, tr("Data da análise: "+meta.CreatedAt.Format("02/01/2006 15:04")), "", 1, "", false, 0, "")
	}
	if meta.Model != "" {
		pdf.CellFormat(0, 8, tr("Modelo utilizado: "+meta.Model), "", 1, "", false, 0, "")
	}
	if meta.Filename != "" {
		pdf.CellFormat(0, 8, tr("Arquivo: "+meta.Filename), "", 1, "", false, 0, "")
	}
	pdf.Ln(5)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, tr("Pontuação Total"), "", 1, "", false, 0, "")
	pdf.SetFont("Helvetica", "B", 12)
	r, g, b := bandColor(rep.Band)
	pdf.SetTextColor(r, g, b)
	pdf.CellFormat(0, 10, tr(fmt.Sprintf("%s (%d%%)", TotalLine(rep), rep.TotalPercentage)), "", 1, "", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(5)

	if flagged := rep.OccurredEliminatory(); len(flagged) > 0 {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.SetTextColor(193, 0, 0)
		pdf.CellFormat(0, 10, tr("Critérios Eliminatórios"), "", 1, "", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, f := range flagged {
			line := "! " + f.Name
			if f.Justification != "" {
				line += ": " + f.Justification
			}
			pdf.MultiCell(0, 6, tr(line), "", "", false)
		}
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(3)
	}

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, tr("Avaliação por Grupos"), "", 1, "", false, 0, "")
	pdf.Ln(3)
	for _, grp := range rep.Groups {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 8, tr(statusMark(grp.Status)+" "+grp.Name), "", "", false)
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("Pontos: %s de %s", points(grp.PointsAwarded), formatNumber(grp.Weight))), "", 1, "", false, 0, "")
		for _, it := range grp.Items {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 6, tr(fmt.Sprintf("  %s Item %s: %s", itemMark(it.Passed), it.ID, it.Description)), "", "", false)
			if it.Justification != "" {
				pdf.SetFont("Helvetica", "I", 8)
				pdf.MultiCell(0, 5, tr("       "+truncate(it.Justification, justificationRunes)), "", "", false)
			}
		}
		pdf.Ln(3)
	}

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, tr("Resumo Geral"), "", 1, "", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	summary := rep.Summary
	if summary == "" {
		summary = "N/A"
	}
	pdf.MultiCell(0, 8, tr(summary), "", "", false)
	pdf.Ln(5)
	pdfList(pdf, tr, "Pontos Positivos", "+", rep.Strengths)
	pdfList(pdf, tr, "Pontos de Melhoria", "-", rep.Improvements)

	if transcript := strings.TrimSpace(meta.Transcript); transcript != "" {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 10, tr("Transcrição da Ligação"), "", 1, "", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 5, tr(transcript), "", "", false)
	}

	return pdf.Output(w)
}

func pdfList(pdf *fpdf.Fpdf, tr func(string) string, title, bullet string, items []string) {
	if len(items) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 10, tr(title), "", 1, "", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, s := range items {
		pdf.MultiCell(0, 6, tr(bullet+" "+s), "", "", false)
	}
	pdf.Ln(3)
}

func bandColor(b scoring.Band) (int, int, int) {
	switch b {
	case scoring.BandHigh:
		return 0, 128, 0
	case scoring.BandMedium:
		return 230, 140, 0
	default:
		return 193, 0, 0
	}
}
