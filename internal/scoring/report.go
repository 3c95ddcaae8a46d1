package scoring

import (
	"monitorai/internal/rubric"
)

type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

type GroupStatus string

const (
	StatusPassed       GroupStatus = "passed"
	StatusFailed       GroupStatus = "failed"
	StatusNotEvaluated GroupStatus = "not_evaluated"
)

// Report is what renderers and exporters consume. BuildReport returns a deep
// copy, so holding a Report never aliases the analysis it came from.
type Report struct {
	RubricID        string            `json:"rubric_id"`
	RubricName      string            `json:"rubric_name"`
	RubricVersion   string            `json:"rubric_version,omitempty"`
	Scale           rubric.Scale      `json:"scale"`
	Groups          []GroupReport     `json:"groups"`
	Eliminatory     []EliminatoryFlag `json:"eliminatory"`
	TotalObtained   float64           `json:"total_obtained"`
	TotalMaximum    float64           `json:"total_maximum"`
	TotalPercentage int               `json:"total_percentage"`
	Band            Band              `json:"band"`
	Summary         string            `json:"summary"`
	Strengths       []string          `json:"strengths"`
	Improvements    []string          `json:"improvements"`
}

type GroupReport struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Weight        float64      `json:"weight"`
	Inverted      bool         `json:"inverted,omitempty"`
	Status        GroupStatus  `json:"status"`
	Passed        *bool        `json:"passed"`
	PointsAwarded *float64     `json:"points_awarded"`
	Justification string       `json:"justification,omitempty"`
	Items         []ItemReport `json:"items"`
}

type ItemReport struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Weight        float64  `json:"weight"`
	Answer        *bool    `json:"answer"`
	Passed        *bool    `json:"passed"`
	PointsAwarded *float64 `json:"points_awarded"`
	Justification string   `json:"justification"`
}

// BuildReport joins the recomputed result with the rubric texts. Narrative
// fields pass through as the judge wrote them.
func BuildReport(res *AnalysisResult, r *rubric.Rubric) Report {
	rep := Report{
		RubricID:        r.ID,
		RubricName:      r.Name,
		RubricVersion:   r.Version,
		Scale:           r.Scale,
		TotalObtained:   res.TotalObtained,
		TotalMaximum:    res.TotalMaximum,
		TotalPercentage: res.TotalPercentage,
		Band:            BandFor(res.TotalPercentage),
		Summary:         res.NarrativeSummary,
		Strengths:       append([]string{}, res.Strengths...),
		Improvements:    append([]string{}, res.Improvements...),
		Eliminatory:     make([]EliminatoryFlag, 0, len(res.EliminatoryFlags)),
		Groups:          make([]GroupReport, 0, len(r.Groups)),
	}
	for _, f := range res.EliminatoryFlags {
		f.Occurred = copyBool(f.Occurred)
		rep.Eliminatory = append(rep.Eliminatory, f)
	}

	for i, g := range r.Groups {
		gr := res.GroupResults[i]
		out := GroupReport{
			ID:            g.ID,
			Name:          g.Name,
			Weight:        g.GroupWeight,
			Inverted:      g.Inverted,
			Status:        statusOf(gr.Passed),
			Passed:        copyBool(gr.Passed),
			PointsAwarded: copyFloat(gr.PointsAwarded),
			Justification: gr.Justification,
			Items:         make([]ItemReport, 0, len(g.Items)),
		}
		for j, it := range g.Items {
			v := gr.ItemVerdicts[j]
			out.Items = append(out.Items, ItemReport{
				ID:            it.ID,
				Description:   it.Description,
				Weight:        it.Weight,
				Answer:        copyBool(v.Answer),
				Passed:        copyBool(v.Passed),
				PointsAwarded: copyFloat(v.PointsAwarded),
				Justification: v.Justification,
			})
		}
		rep.Groups = append(rep.Groups, out)
	}
	return rep
}

// BandFor classifies a percentage the way the scorecard colours it.
func BandFor(pct int) Band {
	switch {
	case pct >= 70:
		return BandHigh
	case pct >= 50:
		return BandMedium
	default:
		return BandLow
	}
}

// OccurredEliminatory lists the red flags the judge reported as present.
func (r Report) OccurredEliminatory() []EliminatoryFlag {
	var out []EliminatoryFlag
	for _, f := range r.Eliminatory {
		if f.Occurred != nil && *f.Occurred {
			out = append(out, f)
		}
	}
	return out
}

func (r Report) GroupsWithStatus(s GroupStatus) []GroupReport {
	var out []GroupReport
	for _, g := range r.Groups {
		if g.Status == s {
			out = append(out, g)
		}
	}
	return out
}

func statusOf(passed *bool) GroupStatus {
	switch {
	case passed == nil:
		return StatusNotEvaluated
	case *passed:
		return StatusPassed
	default:
		return StatusFailed
	}
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	return boolPtr(*b)
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	return floatPtr(*f)
}
