package scoring

// Skeleton is the typed form of a judge response after validation. Verdicts
// are trusted as data; every number in it is what the judge claimed and is
// only used to cross-check the recomputation.
type Skeleton struct {
	Groups       []GroupEntry
	Reported     ReportedTotals
	Summary      string
	Strengths    []string
	Improvements []string
	Eliminatory  []EliminatoryFlag
}

// GroupEntry holds the verdicts of one rubric group, in rubric order.
type GroupEntry struct {
	GroupID        string
	Justification  string
	ReportedPassed *bool
	ReportedPoints *float64
	ReportedWeight *float64
	Items          []ItemEntry
}

type ItemEntry struct {
	ItemID         string
	Answer         *bool
	Justification  string
	ReportedPoints *float64
	ReportedWeight *float64
}

type ReportedTotals struct {
	Obtained   *float64
	Maximum    *float64
	Percentage *float64
}

// ItemVerdict is one judged checklist item. Answer is the judge's reply to
// the item question; Passed is the same reply after the group inversion.
// A nil Answer means the item was not evaluated.
type ItemVerdict struct {
	ItemID        string   `json:"item_id"`
	Answer        *bool    `json:"answer"`
	Passed        *bool    `json:"passed"`
	PointsAwarded *float64 `json:"points_awarded"`
	Justification string   `json:"justification"`
}

// GroupResult is nil-passed when the group could not be decided.
type GroupResult struct {
	GroupID       string        `json:"group_id"`
	Passed        *bool         `json:"passed"`
	PointsAwarded *float64      `json:"points_awarded"`
	Justification string        `json:"justification,omitempty"`
	ItemVerdicts  []ItemVerdict `json:"items"`
}

type EliminatoryFlag struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Occurred      *bool  `json:"occurred"`
	Justification string `json:"justification"`
}

// AnalysisResult is the recomputed, internally consistent score of one call.
type AnalysisResult struct {
	RubricID         string            `json:"rubric_id"`
	GroupResults     []GroupResult     `json:"groups"`
	TotalObtained    float64           `json:"total_obtained"`
	TotalMaximum     float64           `json:"total_maximum"`
	TotalPercentage  int               `json:"total_percentage"`
	EliminatoryFlags []EliminatoryFlag `json:"eliminatory"`
	NarrativeSummary string            `json:"summary"`
	Strengths        []string          `json:"strengths"`
	Improvements     []string          `json:"improvements"`
}
