// Package digest summarises the calls scored over a period and posts the
// summary to the report channel on a cron schedule.
package digest

import (
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/slack-go/slack"

	"monitorai/internal/config"
	"monitorai/internal/domain"
	"monitorai/internal/scoring"
	"monitorai/internal/storage/sqlite"
)

const weakestGroupCount = 3

type Digest struct {
	From, To time.Time

	Total  int
	Scored int
	Failed int

	Mean   float64
	Median float64
	StdDev float64
	P25    float64
	Min    float64
	Max    float64

	Bands            map[scoring.Band]int
	FailureKinds     map[string]int
	EliminatoryCalls int
	WeakestGroups    []domain.GroupPassRate
}

// BuildDigest computes the period statistics. Percentages come from the
// recomputed reports; failed evaluations only count towards Failed.
func BuildDigest(evs []domain.Evaluation, rates []domain.GroupPassRate, from, to time.Time) Digest {
	d := Digest{
		From:         from,
		To:           to,
		Total:        len(evs),
		Bands:        map[scoring.Band]int{},
		FailureKinds: map[string]int{},
	}

	var pcts stats.Float64Data
	for _, ev := range evs {
		if !ev.Scored() {
			d.Failed++
			kind := ev.ErrorKind
			if kind == "" {
				kind = "unknown"
			}
			d.FailureKinds[kind]++
			continue
		}
		d.Scored++
		pcts = append(pcts, float64(ev.Report.TotalPercentage))
		d.Bands[ev.Report.Band]++
		if len(ev.Report.OccurredEliminatory()) > 0 {
			d.EliminatoryCalls++
		}
	}

	if len(pcts) > 0 {
		d.Mean, _ = stats.Mean(pcts)
		d.Median, _ = stats.Median(pcts)
		d.StdDev, _ = stats.StandardDeviation(pcts)
		d.P25, _ = stats.Percentile(pcts, 25)
		d.Min, _ = stats.Min(pcts)
		d.Max, _ = stats.Max(pcts)
	}

	d.WeakestGroups = weakest(rates, weakestGroupCount)
	return d
}

// weakest returns the n decided groups with the lowest pass rate.
func weakest(rates []domain.GroupPassRate, n int) []domain.GroupPassRate {
	var decided []domain.GroupPassRate
	for _, r := range rates {
		if r.Passed+r.Failed > 0 {
			decided = append(decided, r)
		}
	}
	sort.SliceStable(decided, func(i, j int) bool {
		if decided[i].Rate() != decided[j].Rate() {
			return decided[i].Rate() < decided[j].Rate()
		}
		if decided[i].RubricID != decided[j].RubricID {
			return decided[i].RubricID < decided[j].RubricID
		}
		return decided[i].GroupID < decided[j].GroupID
	})
	if len(decided) > n {
		decided = decided[:n]
	}
	return decided
}

func Format(d Digest, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Resumo de monitoria* (%s a %s)\n\n",
		d.From.In(loc).Format("02/01 15:04"), d.To.In(loc).Format("02/01 15:04")))

	if d.Total == 0 {
		sb.WriteString("Nenhuma ligação avaliada no período.")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("- Avaliações: %d (%d pontuadas, %d com falha)\n", d.Total, d.Scored, d.Failed))
	if d.Scored > 0 {
		sb.WriteString(fmt.Sprintf("- Média: %.1f%% | Mediana: %.1f%% | Desvio: %.1f\n", d.Mean, d.Median, d.StdDev))
		sb.WriteString(fmt.Sprintf("- Faixa: %.0f%% a %.0f%% | P25: %.1f%%\n", d.Min, d.Max, d.P25))
		sb.WriteString(fmt.Sprintf("- Alta: %d | Média: %d | Baixa: %d\n",
			d.Bands[scoring.BandHigh], d.Bands[scoring.BandMedium], d.Bands[scoring.BandLow]))
	}
	if d.EliminatoryCalls > 0 {
		sb.WriteString(fmt.Sprintf("- :rotating_light: Ligações com critério eliminatório: %d\n", d.EliminatoryCalls))
	}
	if len(d.FailureKinds) > 0 {
		kinds := make([]string, 0, len(d.FailureKinds))
		for k := range d.FailureKinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, k := range kinds {
			parts = append(parts, fmt.Sprintf("%s=%d", k, d.FailureKinds[k]))
		}
		sb.WriteString(fmt.Sprintf("- Falhas: %s\n", strings.Join(parts, ", ")))
	}
	if len(d.WeakestGroups) > 0 {
		sb.WriteString("\n*Grupos com menor aprovação*\n")
		for _, g := range d.WeakestGroups {
			sb.WriteString(fmt.Sprintf("- %s/%s: %.0f%% (%d de %d)\n",
				g.RubricID, g.GroupID, 100*g.Rate(), g.Passed, g.Passed+g.Failed))
		}
	}
	return sb.String()
}

// Collect loads the evaluations and group counts of [from, to).
func Collect(db *sql.DB, from, to time.Time) (Digest, error) {
	evs, err := sqlite.ListEvaluationsByDateRange(db, from, to)
	if err != nil {
		return Digest{}, fmt.Errorf("load evaluations: %w", err)
	}
	rates, err := sqlite.GroupPassRates(db, from, to)
	if err != nil {
		return Digest{}, fmt.Errorf("load group rates: %w", err)
	}
	return BuildDigest(evs, rates, from, to), nil
}

// StartScheduler posts a digest to the report channel on cfg.DigestSchedule,
// a standard 5-field cron expression. Each digest covers the time since the
// previous one; the first covers one schedule interval.
func StartScheduler(cfg config.Config, db *sql.DB, api *slack.Client) {
	schedule := strings.TrimSpace(cfg.DigestSchedule)
	if schedule == "" {
		log.Println("Digest disabled (digest_schedule not set)")
		return
	}
	if cfg.ReportChannelID == "" {
		log.Println("Digest disabled: report_channel_id not set")
		return
	}
	sched, err := config.ParseSchedule(schedule)
	if err != nil {
		log.Printf("Invalid digest_schedule '%s': %v, digest disabled", schedule, err)
		return
	}
	log.Printf("Digest scheduled (cron: %s) to channel=%s", schedule, cfg.ReportChannelID)

	r := &runner{db: db, api: api, channel: cfg.ReportChannelID, loc: cfg.Location}
	go func() {
		for {
			now := time.Now().In(cfg.Location)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next digest at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			d, err := r.run(next.Add(-sched.Next(next).Sub(next)), next)
			if err != nil {
				log.Printf("Digest error: %v", err)
				continue
			}
			log.Printf("Digest posted total=%d scored=%d failed=%d mean=%.1f", d.Total, d.Scored, d.Failed, d.Mean)
		}
	}()
}

type poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// runner remembers where the last posted digest ended.
type runner struct {
	db      *sql.DB
	api     poster
	channel string
	loc     *time.Location
	last    time.Time
}

// run posts the digest for the window ending at end. The window starts where
// the last posted digest ended, or at first when none was posted yet. The
// start only advances after a successful post, so a failed run is folded
// into the next digest.
func (r *runner) run(first, end time.Time) (Digest, error) {
	from := r.last
	if from.IsZero() {
		from = first
	}
	d, err := Collect(r.db, from, end)
	if err != nil {
		return Digest{}, err
	}
	if _, _, err := r.api.PostMessage(r.channel, slack.MsgOptionText(Format(d, r.loc), false)); err != nil {
		return Digest{}, fmt.Errorf("post digest: %w", err)
	}
	r.last = end
	return d, nil
}
