package sqlite

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"monitorai/internal/domain"
	"monitorai/internal/scoring"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "monitorai-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func scoredEvaluation(id string, at time.Time, pct int, g1 *bool) domain.Evaluation {
	var g1Points *float64
	if g1 != nil {
		g1Points = floatPtr(0)
		if *g1 {
			g1Points = floatPtr(26)
		}
	}
	return domain.Evaluation{
		ID:          id,
		RubricID:    "carglass-86",
		Status:      domain.StatusScored,
		Source:      domain.SourceAPI,
		Filename:    "ligacao.mp3",
		Transcript:  "Atendente: Carglass, bom dia.",
		RawResponse: `{"grupos": []}`,
		LLMProvider: "openai",
		LLMModel:    "gpt-4-turbo",
		TokensIn:    1200,
		TokensOut:   300,
		CreatedAt:   at,
		Report: &scoring.Report{
			RubricID:        "carglass-86",
			TotalObtained:   60,
			TotalMaximum:    86,
			TotalPercentage: pct,
			Band:            scoring.BandFor(pct),
			Summary:         "ok",
			Groups: []scoring.GroupReport{
				{ID: "g1", Passed: g1, PointsAwarded: g1Points},
				{ID: "g2", Passed: boolPtr(true), PointsAwarded: floatPtr(30)},
			},
		},
	}
}

func TestInitDBAddsErrorFieldColumn(t *testing.T) {
	db := newTestDB(t)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('evaluations') WHERE name = 'error_field'`).Scan(&count); err != nil {
		t.Fatalf("query pragma_table_info failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected error_field column to exist, count=%d", count)
	}
}

func TestInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "again.db")
	for i := 0; i < 2; i++ {
		db, err := InitDB(path)
		if err != nil {
			t.Fatalf("InitDB run %d failed: %v", i, err)
		}
		db.Close()
	}
}

func TestInsertAndGetEvaluation(t *testing.T) {
	db := newTestDB(t)
	at := time.Date(2026, 10, 12, 14, 30, 0, 0, time.UTC)
	ev := scoredEvaluation("e-1", at, 70, boolPtr(false))

	if err := InsertEvaluation(db, ev); err != nil {
		t.Fatalf("InsertEvaluation failed: %v", err)
	}
	got, err := GetEvaluation(db, "e-1")
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if !got.Scored() || got.Percentage() != 70 {
		t.Fatalf("unexpected evaluation: %+v", got)
	}
	if got.Report.Groups[0].Passed == nil || *got.Report.Groups[0].Passed {
		t.Fatalf("expected g1 failed after round trip, got %+v", got.Report.Groups[0])
	}
	if !got.CreatedAt.Equal(at) {
		t.Fatalf("created_at = %s, want %s", got.CreatedAt, at)
	}
	if got.TokensIn != 1200 || got.LLMModel != "gpt-4-turbo" || got.Transcript != ev.Transcript {
		t.Fatalf("metadata not preserved: %+v", got)
	}

	if _, err := GetEvaluation(db, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestInsertFailedEvaluation(t *testing.T) {
	db := newTestDB(t)
	ev := domain.Evaluation{
		ID:          "f-1",
		RubricID:    "carglass-86",
		Status:      domain.StatusFailed,
		ErrorKind:   "MissingField",
		ErrorField:  "grupos[g1].itens[4]",
		ErrorDetail: "missing field field=grupos[g1].itens[4]",
		Source:      domain.SourceSlack,
		RawResponse: "Desculpe",
		CreatedAt:   time.Now(),
	}
	if err := InsertEvaluation(db, ev); err != nil {
		t.Fatalf("InsertEvaluation failed: %v", err)
	}
	got, err := GetEvaluation(db, "f-1")
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if got.Scored() || got.Report != nil || got.Percentage() != -1 {
		t.Fatalf("failed evaluation must not carry a report: %+v", got)
	}
	if got.ErrorKind != "MissingField" || got.ErrorField != "grupos[g1].itens[4]" || got.RawResponse != "Desculpe" {
		t.Fatalf("error details not preserved: %+v", got)
	}

	var groups int
	if err := db.QueryRow(`SELECT COUNT(*) FROM group_results WHERE evaluation_id = 'f-1'`).Scan(&groups); err != nil {
		t.Fatalf("count group_results: %v", err)
	}
	if groups != 0 {
		t.Fatalf("expected no group rows for failed evaluation, got %d", groups)
	}
}

func TestListAndRangeQueries(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)
	evs := []domain.Evaluation{
		scoredEvaluation("a", base, 100, boolPtr(true)),
		scoredEvaluation("b", base.Add(24*time.Hour), 70, boolPtr(false)),
		scoredEvaluation("c", base.Add(48*time.Hour), 40, nil),
		scoredEvaluation("d", base.Add(10*24*time.Hour), 90, boolPtr(true)),
	}
	for _, ev := range evs {
		if err := InsertEvaluation(db, ev); err != nil {
			t.Fatalf("InsertEvaluation(%s) failed: %v", ev.ID, err)
		}
	}

	recent, err := ListRecentEvaluations(db, 2)
	if err != nil {
		t.Fatalf("ListRecentEvaluations failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "d" || recent[1].ID != "c" {
		t.Fatalf("unexpected recent evaluations: %v", ids(recent))
	}

	week, err := ListEvaluationsByDateRange(db, base, base.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("ListEvaluationsByDateRange failed: %v", err)
	}
	if got := ids(week); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected range result: %v", got)
	}

	rates, err := GroupPassRates(db, base, base.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("GroupPassRates failed: %v", err)
	}
	if len(rates) != 2 {
		t.Fatalf("expected 2 groups, got %+v", rates)
	}
	g1 := rates[0]
	if g1.GroupID != "g1" || g1.Passed != 1 || g1.Failed != 1 || g1.Undecided != 1 {
		t.Fatalf("unexpected g1 counts: %+v", g1)
	}
	if g1.Rate() != 0.5 {
		t.Fatalf("unexpected g1 rate: %f", g1.Rate())
	}
	if rates[1].Passed != 3 {
		t.Fatalf("unexpected g2 counts: %+v", rates[1])
	}
}

func TestListRecentEvaluationsBySubmitter(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC)
	for i, who := range []string{"U111", "U222", "U111", "U333"} {
		ev := scoredEvaluation(string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), 80, boolPtr(true))
		ev.SubmittedBy = who
		if err := InsertEvaluation(db, ev); err != nil {
			t.Fatalf("InsertEvaluation failed: %v", err)
		}
	}

	got, err := ListRecentEvaluationsBySubmitter(db, []string{"U111", "U333"}, 10)
	if err != nil {
		t.Fatalf("ListRecentEvaluationsBySubmitter failed: %v", err)
	}
	if g := ids(got); len(g) != 3 || g[0] != "d" || g[1] != "c" || g[2] != "a" {
		t.Fatalf("unexpected evaluations: %v", g)
	}

	none, err := ListRecentEvaluationsBySubmitter(db, nil, 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no evaluations for empty submitters, got %v (%v)", ids(none), err)
	}
}

func ids(evs []domain.Evaluation) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.ID)
	}
	return out
}
