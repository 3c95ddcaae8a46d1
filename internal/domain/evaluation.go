package domain

import (
	"time"

	"monitorai/internal/scoring"
)

type EvaluationStatus string

const (
	StatusScored EvaluationStatus = "scored"
	StatusFailed EvaluationStatus = "failed"
)

// Sources of a submission.
const (
	SourceAPI     = "api"
	SourceSlack   = "slack"
	SourceBatch   = "batch"
	SourceRescore = "rescore"
)

// Evaluation is one scored (or failed) call. Report is nil when Status is
// failed; RawResponse is kept either way for auditing.
type Evaluation struct {
	ID            string
	RubricID      string
	RubricVersion string
	Status        EvaluationStatus
	ErrorKind     string
	ErrorField    string
	ErrorDetail   string
	Source        string
	SubmittedBy   string
	Filename      string
	Transcript    string
	RawResponse   string
	Report        *scoring.Report
	LLMProvider   string
	LLMModel      string
	TokensIn      int64
	TokensOut     int64
	CreatedAt     time.Time
}

func (e Evaluation) Scored() bool {
	return e.Status == StatusScored && e.Report != nil
}

// Percentage is the recomputed score, or -1 when the call was not scored.
func (e Evaluation) Percentage() int {
	if !e.Scored() {
		return -1
	}
	return e.Report.TotalPercentage
}

type GroupPassRate struct {
	RubricID  string
	GroupID   string
	Passed    int
	Failed    int
	Undecided int
}

// Rate is the share of decided results that passed.
func (g GroupPassRate) Rate() float64 {
	decided := g.Passed + g.Failed
	if decided == 0 {
		return 0
	}
	return float64(g.Passed) / float64(decided)
}
