// Package server exposes evaluations over HTTP.
package server

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"

	"monitorai/internal/evaluation"
	"monitorai/internal/rubric"
)

const multipartMemory = 32 << 20

type Server struct {
	Service       *evaluation.Service
	Rubrics       *rubric.Catalog
	DB            *sql.DB
	APIToken      string
	MaxAudioBytes int64

	now func() time.Time
}

func New(svc *evaluation.Service, db *sql.DB, apiToken string, maxAudioBytes int64) *Server {
	return &Server{
		Service:       svc,
		Rubrics:       svc.Rubrics,
		DB:            db,
		APIToken:      apiToken,
		MaxAudioBytes: maxAudioBytes,
		now:           time.Now,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, m.Logger, m.Recoverer)

	r.Get("/healthz", s.healthz)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIToken)
		r.Get("/rubrics", s.listRubrics)
		r.Get("/rubrics/{id}", s.getRubric)
		r.Post("/evaluations", s.createEvaluation)
		r.Post("/score", s.score)
		r.Get("/evaluations", s.listEvaluations)
		r.Get("/evaluations/export.xlsx", s.exportXLSX)
		r.Get("/evaluations/{id}", s.getEvaluation)
		r.Get("/evaluations/{id}/report.pdf", s.reportPDF)
		r.Get("/evaluations/{id}/report.html", s.reportHTML)
		r.Get("/evaluations/{id}/report.md", s.reportMarkdown)
	})
	return r
}

// HTTPServer wraps Routes with the timeouts used in production.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// requireAPIToken enforces "Authorization: Bearer <token>" when a token is
// configured.
func (s *Server) requireAPIToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if len(got) < 8 || got[:7] != "Bearer " || subtle.ConstantTimeCompare([]byte(got[7:]), []byte(s.APIToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errResp{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
