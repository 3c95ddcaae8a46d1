package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"monitorai/internal/domain"
	"monitorai/internal/scoring"
)

// Concurrent writers wait up to 5s for the lock.
const busyTimeout = "_busy_timeout=5000"

func InitDB(path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?" + busyTimeout
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id               TEXT PRIMARY KEY,
		rubric_id        TEXT NOT NULL,
		rubric_version   TEXT DEFAULT '',
		status           TEXT NOT NULL,
		error_kind       TEXT DEFAULT '',
		error_detail     TEXT DEFAULT '',
		source           TEXT NOT NULL DEFAULT 'api',
		submitted_by     TEXT DEFAULT '',
		filename         TEXT DEFAULT '',
		transcript       TEXT DEFAULT '',
		raw_response     TEXT DEFAULT '',
		report_json      TEXT DEFAULT '',
		total_obtained   REAL,
		total_maximum    REAL,
		total_percentage INTEGER,
		llm_provider     TEXT DEFAULT '',
		llm_model        TEXT DEFAULT '',
		tokens_in        INTEGER DEFAULT 0,
		tokens_out       INTEGER DEFAULT 0,
		created_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evaluations_created_at ON evaluations(created_at);
	CREATE INDEX IF NOT EXISTS idx_evaluations_rubric ON evaluations(rubric_id);

	CREATE TABLE IF NOT EXISTS group_results (
		evaluation_id TEXT NOT NULL,
		rubric_id     TEXT NOT NULL,
		group_id      TEXT NOT NULL,
		passed        INTEGER,
		points        REAL,
		PRIMARY KEY (evaluation_id, group_id)
	);
	CREATE INDEX IF NOT EXISTS idx_group_results_group ON group_results(rubric_id, group_id);
	`
	if _, err = db.Exec(schema); err != nil {
		return nil, err
	}

	// Migration: add error_field column if missing.
	var colCount int
	_ = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('evaluations') WHERE name = 'error_field'`).Scan(&colCount)
	if colCount == 0 {
		_, _ = db.Exec(`ALTER TABLE evaluations ADD COLUMN error_field TEXT DEFAULT ''`)
	}

	return db, nil
}

const evaluationColumns = `id, rubric_id, rubric_version, status, error_kind, error_field, error_detail, source, submitted_by,
	filename, transcript, raw_response, report_json, llm_provider, llm_model, tokens_in, tokens_out, created_at`

// InsertEvaluation stores the evaluation and, when it was scored, one row per
// group result.
func InsertEvaluation(db *sql.DB, ev domain.Evaluation) error {
	var (
		reportJSON string
		obtained   sql.NullFloat64
		maximum    sql.NullFloat64
		percentage sql.NullInt64
	)
	if ev.Report != nil {
		data, err := json.Marshal(ev.Report)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		reportJSON = string(data)
		obtained = sql.NullFloat64{Float64: ev.Report.TotalObtained, Valid: true}
		maximum = sql.NullFloat64{Float64: ev.Report.TotalMaximum, Valid: true}
		percentage = sql.NullInt64{Int64: int64(ev.Report.TotalPercentage), Valid: true}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO evaluations (id, rubric_id, rubric_version, status, error_kind, error_field, error_detail, source, submitted_by,
		   filename, transcript, raw_response, report_json, total_obtained, total_maximum, total_percentage,
		   llm_provider, llm_model, tokens_in, tokens_out, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RubricID, ev.RubricVersion, string(ev.Status), ev.ErrorKind, ev.ErrorField, ev.ErrorDetail,
		ev.Source, ev.SubmittedBy, ev.Filename, ev.Transcript, ev.RawResponse, reportJSON,
		obtained, maximum, percentage, ev.LLMProvider, ev.LLMModel, ev.TokensIn, ev.TokensOut,
		ev.CreatedAt.UTC(),
	)
	if err != nil {
		return err
	}

	if ev.Report != nil {
		stmt, err := tx.Prepare(
			`INSERT INTO group_results (evaluation_id, rubric_id, group_id, passed, points) VALUES (?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, g := range ev.Report.Groups {
			var passed sql.NullBool
			var points sql.NullFloat64
			if g.Passed != nil {
				passed = sql.NullBool{Bool: *g.Passed, Valid: true}
			}
			if g.PointsAwarded != nil {
				points = sql.NullFloat64{Float64: *g.PointsAwarded, Valid: true}
			}
			if _, err := stmt.Exec(ev.ID, ev.RubricID, g.ID, passed, points); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// GetEvaluation returns sql.ErrNoRows when id is unknown.
func GetEvaluation(db *sql.DB, id string) (domain.Evaluation, error) {
	row := db.QueryRow(`SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`, id)
	return scanEvaluation(row)
}

func ListRecentEvaluations(db *sql.DB, limit int) ([]domain.Evaluation, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := db.Query(
		`SELECT `+evaluationColumns+` FROM evaluations ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return collectEvaluations(rows)
}

// ListRecentEvaluationsBySubmitter is ListRecentEvaluations restricted to
// the given submitters.
func ListRecentEvaluationsBySubmitter(db *sql.DB, submitters []string, limit int) ([]domain.Evaluation, error) {
	if len(submitters) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 10
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(submitters)), ",")
	args := make([]any, 0, len(submitters)+1)
	for _, s := range submitters {
		args = append(args, s)
	}
	args = append(args, limit)
	rows, err := db.Query(
		`SELECT `+evaluationColumns+` FROM evaluations
		 WHERE submitted_by IN (`+placeholders+`)
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectEvaluations(rows)
}

func ListEvaluationsByDateRange(db *sql.DB, from, to time.Time) ([]domain.Evaluation, error) {
	rows, err := db.Query(
		`SELECT `+evaluationColumns+` FROM evaluations
		 WHERE created_at >= ? AND created_at < ?
		 ORDER BY created_at, id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return collectEvaluations(rows)
}

// GroupPassRates counts passed, failed and undecided results per rubric group
// for scored evaluations created in [from, to).
func GroupPassRates(db *sql.DB, from, to time.Time) ([]domain.GroupPassRate, error) {
	rows, err := db.Query(
		`SELECT g.rubric_id, g.group_id,
		        SUM(CASE WHEN g.passed = 1 THEN 1 ELSE 0 END),
		        SUM(CASE WHEN g.passed = 0 THEN 1 ELSE 0 END),
		        SUM(CASE WHEN g.passed IS NULL THEN 1 ELSE 0 END)
		 FROM group_results g
		 JOIN evaluations e ON e.id = g.evaluation_id
		 WHERE e.created_at >= ? AND e.created_at < ?
		 GROUP BY g.rubric_id, g.group_id
		 ORDER BY g.rubric_id, g.group_id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GroupPassRate
	for rows.Next() {
		var r domain.GroupPassRate
		if err := rows.Scan(&r.RubricID, &r.GroupID, &r.Passed, &r.Failed, &r.Undecided); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (domain.Evaluation, error) {
	var (
		ev         domain.Evaluation
		status     string
		reportJSON string
	)
	err := row.Scan(
		&ev.ID, &ev.RubricID, &ev.RubricVersion, &status, &ev.ErrorKind, &ev.ErrorField, &ev.ErrorDetail,
		&ev.Source, &ev.SubmittedBy, &ev.Filename, &ev.Transcript, &ev.RawResponse, &reportJSON,
		&ev.LLMProvider, &ev.LLMModel, &ev.TokensIn, &ev.TokensOut, &ev.CreatedAt,
	)
	if err != nil {
		return ev, err
	}
	ev.Status = domain.EvaluationStatus(status)
	if reportJSON != "" {
		var rep scoring.Report
		if err := json.Unmarshal([]byte(reportJSON), &rep); err != nil {
			return ev, fmt.Errorf("decode report of %s: %w", ev.ID, err)
		}
		ev.Report = &rep
	}
	return ev, nil
}

func collectEvaluations(rows *sql.Rows) ([]domain.Evaluation, error) {
	defer rows.Close()
	var out []domain.Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
