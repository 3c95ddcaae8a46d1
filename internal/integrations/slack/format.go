package slackbot

import (
	"fmt"
	"strings"
	"time"

	"monitorai/internal/domain"
	"monitorai/internal/export"
	"monitorai/internal/rubric"
	"monitorai/internal/scoring"
)

func bandEmoji(b scoring.Band) string {
	switch b {
	case scoring.BandHigh:
		return ":large_green_circle:"
	case scoring.BandMedium:
		return ":large_yellow_circle:"
	default:
		return ":red_circle:"
	}
}

// formatSummary is the channel message posted for a scored call. Failed
// evaluations get a one-line notice with the error kind.
func formatSummary(ev domain.Evaluation) string {
	if !ev.Scored() {
		return fmt.Sprintf(":warning: Avaliação %s não pontuada (%s).", ev.ID, ev.ErrorKind)
	}
	rep := ev.Report

	var sb strings.Builder
	title := ev.Filename
	if title == "" {
		title = ev.ID
	}
	sb.WriteString(fmt.Sprintf("*Avaliação de atendimento* - %s\n", title))
	if ev.SubmittedBy != "" {
		sb.WriteString(fmt.Sprintf("Enviado por <@%s>\n", ev.SubmittedBy))
	}
	sb.WriteString(fmt.Sprintf("%s *%s* (%d%%) - %s\n", bandEmoji(rep.Band), export.TotalLine(*rep), rep.TotalPercentage, rep.RubricName))

	if flagged := rep.OccurredEliminatory(); len(flagged) > 0 {
		sb.WriteString("\n:rotating_light: *Critérios eliminatórios*\n")
		for _, f := range flagged {
			sb.WriteString(fmt.Sprintf("- %s\n", f.Name))
		}
	}
	if failed := rep.GroupsWithStatus(scoring.StatusFailed); len(failed) > 0 {
		sb.WriteString("\n*Grupos não atendidos*\n")
		for _, g := range failed {
			sb.WriteString(fmt.Sprintf("- %s\n", g.Name))
		}
	}
	if pending := rep.GroupsWithStatus(scoring.StatusNotEvaluated); len(pending) > 0 {
		sb.WriteString("\n*Grupos não avaliados*\n")
		for _, g := range pending {
			sb.WriteString(fmt.Sprintf("- %s\n", g.Name))
		}
	}
	if rep.Summary != "" {
		sb.WriteString(fmt.Sprintf("\n>%s\n", rep.Summary))
	}
	sb.WriteString(fmt.Sprintf("\n_ID: %s_", ev.ID))
	return sb.String()
}

func formatHistory(evs []domain.Evaluation, loc *time.Location) string {
	if len(evs) == 0 {
		return "Nenhuma avaliação encontrada."
	}
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Últimas %d avaliações*\n", len(evs)))
	for _, ev := range evs {
		name := ev.Filename
		if name == "" {
			name = ev.Source
		}
		when := ev.CreatedAt.In(loc).Format("02/01 15:04")
		if ev.Scored() {
			sb.WriteString(fmt.Sprintf("%s %s - %s %d%% (%s) `%s`\n", bandEmoji(ev.Report.Band), when, name, ev.Percentage(), ev.RubricID, ev.ID))
		} else {
			sb.WriteString(fmt.Sprintf(":warning: %s - %s falhou: %s `%s`\n", when, name, ev.ErrorKind, ev.ID))
		}
	}
	return sb.String()
}

func formatRubrics(c *rubric.Catalog) string {
	var sb strings.Builder
	sb.WriteString("*Rubricas disponíveis*\n")
	for _, r := range c.List() {
		marker := ""
		if r.ID == c.DefaultID() {
			marker = " (padrão)"
		}
		sb.WriteString(fmt.Sprintf("- `%s`%s: %s, %d grupos, máximo %v %s\n", r.ID, marker, r.Name, len(r.Groups), r.MaxScore, r.Unit()))
	}
	return sb.String()
}
