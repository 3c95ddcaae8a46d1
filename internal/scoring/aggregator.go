package scoring

import (
	"log"
	"math"

	"monitorai/internal/rubric"
)

const pointsTolerance = 1e-6

// Aggregate recomputes every score from the item verdicts. Numbers reported
// by the judge are advisory: disagreements are logged and the recomputed
// value is kept.
//
// Per group, after inverting the answers of inverted groups: any failed item
// fails the group with 0 points; otherwise any unevaluated item leaves the
// group undecided (nil) and it contributes nothing; otherwise the group earns
// its full weight. The maximum is always the rubric's max score.
func Aggregate(sk *Skeleton, r *rubric.Rubric, logger *log.Logger) *AnalysisResult {
	if logger == nil {
		logger = log.Default()
	}
	res := &AnalysisResult{
		RubricID:         r.ID,
		TotalMaximum:     r.MaxScore,
		NarrativeSummary: sk.Summary,
		Strengths:        append([]string{}, sk.Strengths...),
		Improvements:     append([]string{}, sk.Improvements...),
		EliminatoryFlags: append([]EliminatoryFlag{}, sk.Eliminatory...),
	}

	for i, g := range r.Groups {
		entry := sk.Groups[i]
		gr := aggregateGroup(g, entry)
		if gr.PointsAwarded != nil {
			res.TotalObtained += *gr.PointsAwarded
		}
		reportGroupDiscrepancies(logger, r.ID, g, entry, gr)
		res.GroupResults = append(res.GroupResults, gr)
	}

	res.TotalPercentage = percentage(res.TotalObtained, res.TotalMaximum)
	reportTotalDiscrepancies(logger, r.ID, sk.Reported, res)
	return res
}

func aggregateGroup(g rubric.Group, entry GroupEntry) GroupResult {
	gr := GroupResult{GroupID: g.ID, Justification: entry.Justification}
	anyFailed := false
	anyUnevaluated := false
	for j, it := range g.Items {
		ie := entry.Items[j]
		v := ItemVerdict{ItemID: it.ID, Answer: ie.Answer, Justification: ie.Justification}
		if ie.Answer != nil {
			passed := *ie.Answer
			if g.Inverted {
				passed = !passed
			}
			v.Passed = boolPtr(passed)
			if passed {
				v.PointsAwarded = floatPtr(it.Weight)
			} else {
				v.PointsAwarded = floatPtr(0)
				anyFailed = true
			}
		} else {
			anyUnevaluated = true
		}
		gr.ItemVerdicts = append(gr.ItemVerdicts, v)
	}

	switch {
	case anyFailed:
		gr.Passed = boolPtr(false)
		gr.PointsAwarded = floatPtr(0)
	case anyUnevaluated:
	default:
		gr.Passed = boolPtr(true)
		gr.PointsAwarded = floatPtr(g.GroupWeight)
	}
	return gr
}

func percentage(obtained, maximum float64) int {
	if maximum <= 0 {
		return 0
	}
	p := math.Round(100 * obtained / maximum)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}

func reportGroupDiscrepancies(logger *log.Logger, rubricID string, g rubric.Group, entry GroupEntry, gr GroupResult) {
	for j, v := range gr.ItemVerdicts {
		reported := entry.Items[j].ReportedPoints
		if reported != nil && v.PointsAwarded != nil && !sameNumber(*reported, *v.PointsAwarded) {
			logger.Printf("scoring discrepancy rubric=%s group=%s item=%s reported_points=%v recomputed_points=%v", rubricID, g.ID, v.ItemID, *reported, *v.PointsAwarded)
		}
		if w := entry.Items[j].ReportedWeight; w != nil && !sameNumber(*w, g.Items[j].Weight) {
			logger.Printf("scoring discrepancy rubric=%s group=%s item=%s reported_weight=%v rubric_weight=%v", rubricID, g.ID, v.ItemID, *w, g.Items[j].Weight)
		}
	}
	if entry.ReportedPassed != nil && gr.Passed != nil && *entry.ReportedPassed != *gr.Passed {
		logger.Printf("scoring discrepancy rubric=%s group=%s reported_passed=%t recomputed_passed=%t", rubricID, g.ID, *entry.ReportedPassed, *gr.Passed)
	}
	if entry.ReportedPoints != nil && gr.PointsAwarded != nil && !sameNumber(*entry.ReportedPoints, *gr.PointsAwarded) {
		logger.Printf("scoring discrepancy rubric=%s group=%s reported_points=%v recomputed_points=%v", rubricID, g.ID, *entry.ReportedPoints, *gr.PointsAwarded)
	}
	if entry.ReportedWeight != nil && !sameNumber(*entry.ReportedWeight, g.GroupWeight) {
		logger.Printf("scoring discrepancy rubric=%s group=%s reported_weight=%v rubric_weight=%v", rubricID, g.ID, *entry.ReportedWeight, g.GroupWeight)
	}
}

func reportTotalDiscrepancies(logger *log.Logger, rubricID string, rep ReportedTotals, res *AnalysisResult) {
	if rep.Obtained != nil && !sameNumber(*rep.Obtained, res.TotalObtained) {
		logger.Printf("scoring discrepancy rubric=%s total=obtained reported=%v recomputed=%v", rubricID, *rep.Obtained, res.TotalObtained)
	}
	if rep.Maximum != nil && !sameNumber(*rep.Maximum, res.TotalMaximum) {
		logger.Printf("scoring discrepancy rubric=%s total=maximum reported=%v recomputed=%v", rubricID, *rep.Maximum, res.TotalMaximum)
	}
	if rep.Percentage != nil && !sameNumber(*rep.Percentage, float64(res.TotalPercentage)) {
		logger.Printf("scoring discrepancy rubric=%s total=percentage reported=%v recomputed=%d", rubricID, *rep.Percentage, res.TotalPercentage)
	}
}

func sameNumber(a, b float64) bool {
	return math.Abs(a-b) <= pointsTolerance
}
