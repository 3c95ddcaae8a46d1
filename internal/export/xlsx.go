package export

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"monitorai/internal/domain"
)

const sheetName = "Avaliacoes"

// XLSX writes one row per evaluation. Group columns are the union of the
// group ids seen, in first-seen order; a group a rubric lacks stays blank.
func XLSX(evs []domain.Evaluation, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	var groupIDs []string
	seen := map[string]bool{}
	for _, ev := range evs {
		if ev.Report == nil {
			continue
		}
		for _, g := range ev.Report.Groups {
			if !seen[g.ID] {
				seen[g.ID] = true
				groupIDs = append(groupIDs, g.ID)
			}
		}
	}

	headers := []any{"ID", "Data", "Rubrica", "Arquivo", "Status", "Obtido", "Maximo", "Percentual", "Faixa"}
	for _, id := range groupIDs {
		headers = append(headers, "Grupo "+id)
	}
	headers = append(headers, "Eliminatorios", "Erro")
	if err := f.SetSheetRow(sheetName, "A1", &headers); err != nil {
		return err
	}

	for i, ev := range evs {
		row := []any{ev.ID, ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.RubricID, ev.Filename, string(ev.Status)}
		if rep := ev.Report; rep != nil {
			row = append(row, rep.TotalObtained, rep.TotalMaximum, rep.TotalPercentage, string(rep.Band))
			byID := map[string]string{}
			for _, g := range rep.Groups {
				byID[g.ID] = groupCell(g.Passed, g.PointsAwarded)
			}
			for _, id := range groupIDs {
				row = append(row, byID[id])
			}
			var flagged []string
			for _, fl := range rep.OccurredEliminatory() {
				flagged = append(flagged, fl.Name)
			}
			row = append(row, strings.Join(flagged, "; "), "")
		} else {
			row = append(row, nil, nil, nil, "")
			for range groupIDs {
				row = append(row, "")
			}
			row = append(row, "", ev.ErrorKind+": "+ev.ErrorDetail)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	return f.Write(w)
}

func groupCell(passed *bool, pts *float64) string {
	switch {
	case passed == nil:
		return "N/A"
	case *passed:
		return "OK " + points(pts)
	default:
		return "FALHOU"
	}
}
