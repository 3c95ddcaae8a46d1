// Package evaluation runs one submission end to end: transcribe, judge,
// score, persist.
package evaluation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"monitorai/internal/domain"
	"monitorai/internal/integrations/llm"
	"monitorai/internal/integrations/transcribe"
	"monitorai/internal/rubric"
	"monitorai/internal/scoring"
	"monitorai/internal/storage/sqlite"
)

var (
	ErrUnknownRubric         = errors.New("unknown rubric")
	ErrNoInput               = errors.New("either audio or transcript is required")
	ErrTranscriptionDisabled = errors.New("transcription is not configured")
	ErrUnsupportedAudio      = errors.New("unsupported audio format")
)

// FailedError is returned when the judge answered but the answer could not
// be scored. The evaluation, raw response included, has been stored.
type FailedError struct {
	Evaluation *domain.Evaluation
	Err        error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("evaluation %s failed: %v", e.Evaluation.ID, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

type Judge interface {
	Score(ctx context.Context, r *rubric.Rubric, transcript string) (llm.Judgment, error)
}

// Submission is one call to evaluate. Audio wins over Transcript when both
// are set.
type Submission struct {
	RubricID    string
	Filename    string
	Audio       io.Reader
	Transcript  string
	Source      string
	SubmittedBy string
}

type Service struct {
	Rubrics     *rubric.Catalog
	Transcriber Transcriber
	Judge       Judge
	DB          *sql.DB
	Logger      *log.Logger

	now   func() time.Time
	newID func() string
}

func NewService(rubrics *rubric.Catalog, tr Transcriber, judge Judge, db *sql.DB) *Service {
	return &Service{Rubrics: rubrics, Transcriber: tr, Judge: judge, DB: db}
}

func (s *Service) Evaluate(ctx context.Context, sub Submission) (*domain.Evaluation, error) {
	r, err := s.rubric(sub.RubricID)
	if err != nil {
		return nil, err
	}

	transcript := strings.TrimSpace(sub.Transcript)
	if sub.Audio != nil {
		if s.Transcriber == nil {
			return nil, ErrTranscriptionDisabled
		}
		if !transcribe.IsSupported(sub.Filename) {
			return nil, fmt.Errorf("%w %q", ErrUnsupportedAudio, filepath.Ext(sub.Filename))
		}
		transcript, err = s.Transcriber.Transcribe(ctx, sub.Filename, sub.Audio)
		if err != nil {
			return nil, fmt.Errorf("transcribe %s: %w", sub.Filename, err)
		}
	}
	if transcript == "" {
		return nil, ErrNoInput
	}

	judgment, err := s.Judge.Score(ctx, r, transcript)
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}

	ev := s.newEvaluation(r, sub)
	ev.Transcript = transcript
	ev.LLMProvider = judgment.Provider
	ev.LLMModel = judgment.Model
	ev.TokensIn = judgment.Usage.InputTokens
	ev.TokensOut = judgment.Usage.OutputTokens
	return s.finish(ev, r, judgment.Text)
}

// Rescore scores an already obtained judge response without calling any
// external service.
func (s *Service) Rescore(ctx context.Context, rubricID, raw string) (*domain.Evaluation, error) {
	return s.RescoreSubmission(ctx, Submission{RubricID: rubricID}, raw)
}

// RescoreSubmission is Rescore with the submission metadata (file name,
// submitter, source) recorded on the stored evaluation. Audio and Transcript
// are ignored.
func (s *Service) RescoreSubmission(ctx context.Context, sub Submission, raw string) (*domain.Evaluation, error) {
	r, err := s.rubric(sub.RubricID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sub.Source == "" {
		sub.Source = domain.SourceRescore
	}
	ev := s.newEvaluation(r, sub)
	return s.finish(ev, r, raw)
}

func (s *Service) Get(id string) (*domain.Evaluation, error) {
	ev, err := sqlite.GetEvaluation(s.DB, id)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Service) rubric(id string) (*rubric.Rubric, error) {
	r, ok := s.Rubrics.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRubric, id)
	}
	return r, nil
}

func (s *Service) newEvaluation(r *rubric.Rubric, sub Submission) *domain.Evaluation {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	newID := uuid.NewString
	if s.newID != nil {
		newID = s.newID
	}
	source := sub.Source
	if source == "" {
		source = domain.SourceAPI
	}
	return &domain.Evaluation{
		ID:            newID(),
		RubricID:      r.ID,
		RubricVersion: r.Version,
		Source:        source,
		SubmittedBy:   sub.SubmittedBy,
		Filename:      sub.Filename,
		CreatedAt:     now().UTC(),
	}
}

func (s *Service) finish(ev *domain.Evaluation, r *rubric.Rubric, raw string) (*domain.Evaluation, error) {
	ev.RawResponse = raw
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}

	report, scoreErr := scoring.Evaluate(raw, r, scoring.WithLogger(logger))
	if scoreErr != nil {
		ev.Status = domain.StatusFailed
		ev.ErrorKind = scoring.KindName(scoreErr)
		ev.ErrorDetail = scoreErr.Error()
		var se *scoring.Error
		if errors.As(scoreErr, &se) {
			ev.ErrorField = se.Field
		}
		logger.Printf("evaluation failed id=%s rubric=%s kind=%s detail=%s", ev.ID, r.ID, ev.ErrorKind, ev.ErrorDetail)
	} else {
		ev.Status = domain.StatusScored
		ev.Report = &report
		logger.Printf("evaluation scored id=%s rubric=%s obtained=%v max=%v pct=%d", ev.ID, r.ID, report.TotalObtained, report.TotalMaximum, report.TotalPercentage)
	}

	if s.DB != nil {
		if err := sqlite.InsertEvaluation(s.DB, *ev); err != nil {
			logger.Printf("evaluation store error id=%s (non-fatal): %v", ev.ID, err)
		}
	}

	if scoreErr != nil {
		return ev, &FailedError{Evaluation: ev, Err: scoreErr}
	}
	return ev, nil
}
