package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"monitorai/internal/domain"
	"monitorai/internal/evaluation"
	"monitorai/internal/export"
	"monitorai/internal/rubric"
	"monitorai/internal/scoring"
	"monitorai/internal/storage/sqlite"
)

const (
	defaultListLimit  = 20
	maxListLimit      = 200
	defaultExportDays = 7
	maxJSONBody       = 1 << 20
)

type rubricSummary struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Version   string       `json:"version"`
	Scale     rubric.Scale `json:"scale"`
	MaxScore  float64      `json:"max_score"`
	Groups    int          `json:"groups"`
	Items     int          `json:"items"`
	IsDefault bool         `json:"default"`
}

type evaluationView struct {
	ID            string          `json:"id"`
	RubricID      string          `json:"rubric_id"`
	RubricVersion string          `json:"rubric_version,omitempty"`
	Status        string          `json:"status"`
	Source        string          `json:"source"`
	SubmittedBy   string          `json:"submitted_by,omitempty"`
	Filename      string          `json:"filename,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	LLMProvider   string          `json:"llm_provider,omitempty"`
	LLMModel      string          `json:"llm_model,omitempty"`
	TokensIn      int64           `json:"tokens_in,omitempty"`
	TokensOut     int64           `json:"tokens_out,omitempty"`
	Percentage    *int            `json:"percentage,omitempty"`
	Error         *errorView      `json:"error,omitempty"`
	Report        *scoring.Report `json:"report,omitempty"`
	Transcript    string          `json:"transcript,omitempty"`
	RawResponse   string          `json:"raw_response,omitempty"`
}

type errorView struct {
	Kind   string `json:"kind"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail"`
}

// scoringFailure is the 422 body: the judge answered, the answer was unusable.
type scoringFailure struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	Field        string `json:"field,omitempty"`
	Value        string `json:"value,omitempty"`
	Excerpt      string `json:"excerpt,omitempty"`
	EvaluationID string `json:"evaluation_id"`
	RawResponse  string `json:"raw_response"`
}

func viewOf(ev domain.Evaluation, full bool) evaluationView {
	v := evaluationView{
		ID:            ev.ID,
		RubricID:      ev.RubricID,
		RubricVersion: ev.RubricVersion,
		Status:        string(ev.Status),
		Source:        ev.Source,
		SubmittedBy:   ev.SubmittedBy,
		Filename:      ev.Filename,
		CreatedAt:     ev.CreatedAt,
		LLMProvider:   ev.LLMProvider,
		LLMModel:      ev.LLMModel,
		TokensIn:      ev.TokensIn,
		TokensOut:     ev.TokensOut,
	}
	if ev.Scored() {
		pct := ev.Percentage()
		v.Percentage = &pct
	} else if ev.ErrorKind != "" {
		v.Error = &errorView{Kind: ev.ErrorKind, Field: ev.ErrorField, Detail: ev.ErrorDetail}
	}
	if full {
		v.Report = ev.Report
		v.Transcript = ev.Transcript
		v.RawResponse = ev.RawResponse
	}
	return v
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errResp{Error: "db unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listRubrics(w http.ResponseWriter, r *http.Request) {
	out := []rubricSummary{}
	for _, rb := range s.Rubrics.List() {
		out = append(out, rubricSummary{
			ID:        rb.ID,
			Name:      rb.Name,
			Version:   rb.Version,
			Scale:     rb.Scale,
			MaxScore:  rb.MaxScore,
			Groups:    len(rb.Groups),
			Items:     rb.ItemCount(),
			IsDefault: rb.ID == s.Rubrics.DefaultID(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRubric(w http.ResponseWriter, r *http.Request) {
	rb, ok := s.Rubrics.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errResp{Error: "rubric not found"})
		return
	}
	writeJSON(w, http.StatusOK, rb)
}

// createEvaluation accepts either a multipart upload (fields audio, rubric,
// submitted_by) or a JSON body with a transcript.
func (s *Server) createEvaluation(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var sub evaluation.Submission

	switch mediaType {
	case "multipart/form-data":
		limit := s.MaxAudioBytes
		if limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit+maxJSONBody)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errResp{Error: "audio file too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errResp{Error: "invalid multipart body"})
			return
		}
		defer r.MultipartForm.RemoveAll()

		sub.RubricID = r.FormValue("rubric")
		sub.SubmittedBy = r.FormValue("submitted_by")
		sub.Transcript = r.FormValue("transcript")
		file, header, err := r.FormFile("audio")
		switch {
		case err == nil:
			defer file.Close()
			if limit > 0 && header.Size > limit {
				writeJSON(w, http.StatusRequestEntityTooLarge, errResp{Error: "audio file too large"})
				return
			}
			sub.Filename = header.Filename
			sub.Audio = file
		case errors.Is(err, http.ErrMissingFile):
		default:
			writeJSON(w, http.StatusBadRequest, errResp{Error: "invalid audio part"})
			return
		}
	default:
		var body struct {
			Rubric      string `json:"rubric"`
			Transcript  string `json:"transcript"`
			SubmittedBy string `json:"submitted_by"`
			Filename    string `json:"filename"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errResp{Error: "invalid json"})
			return
		}
		sub.RubricID = body.Rubric
		sub.Transcript = body.Transcript
		sub.SubmittedBy = body.SubmittedBy
		sub.Filename = body.Filename
	}
	sub.Source = domain.SourceAPI

	ev, err := s.Service.Evaluate(r.Context(), sub)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(*ev, true))
}

// score rescores a judge response that was obtained elsewhere.
func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rubric   string `json:"rubric"`
		Response string `json:"response"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Error: "invalid json"})
		return
	}
	if strings.TrimSpace(body.Response) == "" {
		writeJSON(w, http.StatusBadRequest, errResp{Error: "response is required"})
		return
	}
	ev, err := s.Service.Rescore(r.Context(), body.Rubric, body.Response)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*ev, true))
}

func (s *Server) listEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errResp{Error: "invalid limit"})
			return
		}
		limit = min(n, maxListLimit)
	}
	evs, err := sqlite.ListRecentEvaluations(s.DB, limit)
	if err != nil {
		log.Printf("http list evaluations error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errResp{Error: "internal error"})
		return
	}
	out := make([]evaluationView, 0, len(evs))
	for _, ev := range evs {
		out = append(out, viewOf(ev, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEvaluation(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadEvaluation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*ev, true))
}

func (s *Server) reportPDF(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadScored(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.PDF(*ev.Report, export.MetaFor(*ev), &buf); err != nil {
		log.Printf("http pdf render error id=%s: %v", ev.ID, err)
		writeJSON(w, http.StatusInternalServerError, errResp{Error: "internal error"})
		return
	}
	writeAttachment(w, "application/pdf", export.Filename("", ev.CreatedAt, "pdf"), buf.Bytes())
}

func (s *Server) reportHTML(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadScored(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.HTML(*ev.Report, export.MetaFor(*ev)))
}

func (s *Server) reportMarkdown(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.loadScored(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(export.Markdown(*ev.Report, export.MetaFor(*ev))))
}

func (s *Server) exportXLSX(w http.ResponseWriter, r *http.Request) {
	days := defaultExportDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errResp{Error: "invalid days"})
			return
		}
		days = n
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	to := now().UTC()
	from := to.AddDate(0, 0, -days)
	evs, err := sqlite.ListEvaluationsByDateRange(s.DB, from, to)
	if err != nil {
		log.Printf("http export query error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errResp{Error: "internal error"})
		return
	}
	var buf bytes.Buffer
	if err := export.XLSX(evs, &buf); err != nil {
		log.Printf("http export render error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errResp{Error: "internal error"})
		return
	}
	writeAttachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", export.Filename("", to, "xlsx"), buf.Bytes())
}

func (s *Server) loadEvaluation(w http.ResponseWriter, r *http.Request) (*domain.Evaluation, bool) {
	ev, err := s.Service.Get(chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, errResp{Error: "evaluation not found"})
		return nil, false
	}
	if err != nil {
		log.Printf("http get evaluation error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errResp{Error: "internal error"})
		return nil, false
	}
	return ev, true
}

func (s *Server) loadScored(w http.ResponseWriter, r *http.Request) (*domain.Evaluation, bool) {
	ev, ok := s.loadEvaluation(w, r)
	if !ok {
		return nil, false
	}
	if !ev.Scored() {
		writeJSON(w, http.StatusConflict, errResp{Error: "evaluation has no report"})
		return nil, false
	}
	return ev, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var failed *evaluation.FailedError
	switch {
	case errors.As(err, &failed):
		body := scoringFailure{
			Error:        err.Error(),
			Kind:         scoring.KindName(failed.Err),
			EvaluationID: failed.Evaluation.ID,
			RawResponse:  failed.Evaluation.RawResponse,
		}
		var se *scoring.Error
		if errors.As(failed.Err, &se) {
			body.Field = se.Field
			body.Value = se.Value
			body.Excerpt = se.Excerpt
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, evaluation.ErrUnknownRubric):
		writeJSON(w, http.StatusNotFound, errResp{Error: err.Error()})
	case errors.Is(err, evaluation.ErrNoInput):
		writeJSON(w, http.StatusBadRequest, errResp{Error: err.Error()})
	case errors.Is(err, evaluation.ErrTranscriptionDisabled):
		writeJSON(w, http.StatusServiceUnavailable, errResp{Error: err.Error()})
	case errors.Is(err, evaluation.ErrUnsupportedAudio):
		writeJSON(w, http.StatusUnsupportedMediaType, errResp{Error: err.Error()})
	default:
		log.Printf("http evaluation upstream error: %v", err)
		writeJSON(w, http.StatusBadGateway, errResp{Error: "upstream failure"})
	}
}

func writeAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
