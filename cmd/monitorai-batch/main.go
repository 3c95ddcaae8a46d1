// Command monitorai-batch scores a folder of call recordings, transcripts or
// saved judge responses and writes the results to a spreadsheet.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"monitorai/internal/batch"
	"monitorai/internal/config"
	"monitorai/internal/digest"
	"monitorai/internal/domain"
	"monitorai/internal/evaluation"
	"monitorai/internal/export"
	"monitorai/internal/httpx"
	"monitorai/internal/integrations/llm"
	"monitorai/internal/integrations/transcribe"
	"monitorai/internal/rubric"
	"monitorai/internal/storage/sqlite"
)

func main() {
	rubricID := flag.String("rubric", "", "rubric id (default: configured default rubric)")
	out := flag.String("out", "", "xlsx output path (default MonitorAI_Lote_<timestamp>.xlsx)")
	responses := flag.Bool("responses", false, "inputs are saved judge responses; rescore them without calling any API")
	workers := flag.Int("workers", batch.DefaultWorkers, "concurrent evaluations")
	pdfDir := flag.String("pdf-dir", "", "also write one PDF report per scored call into this directory")
	rubricDir := flag.String("rubric-dir", os.Getenv("RUBRIC_DIR"), "extra rubric directory (with -responses)")
	dbPath := flag.String("db", "", "sqlite database to store evaluations (with -responses; otherwise db_path is used)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file or dir>...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if *workers <= 0 {
		fmt.Fprintln(os.Stderr, "workers must be > 0")
		os.Exit(2)
	}

	mode := batch.ModeCalls
	if *responses {
		mode = batch.ModeResponses
	}
	inputs, err := batch.CollectInputs(flag.Args(), mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error reading inputs:", err)
		os.Exit(2)
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "no supported input files found")
		os.Exit(2)
	}

	var (
		svc *evaluation.Service
		db  *sql.DB
	)
	if *responses {
		svc, db = rescoreService(*rubricDir, *dbPath)
	} else {
		svc, db = callService()
	}
	if db != nil {
		defer db.Close()
	}
	if _, ok := svc.Rubrics.Get(*rubricID); !ok {
		fmt.Fprintf(os.Stderr, "unknown rubric %q\n", *rubricID)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	started := time.Now()
	outcomes := batch.Run(ctx, svc, inputs, batch.Options{RubricID: *rubricID, Mode: mode, Workers: *workers})
	for _, o := range outcomes {
		fmt.Println(outcomeLine(o))
	}

	evs := batch.Evaluations(outcomes)
	xlsxPath := *out
	if xlsxPath == "" {
		xlsxPath = export.Filename("MonitorAI_Lote", started, "xlsx")
	}
	if err := writeXLSX(xlsxPath, evs); err != nil {
		fmt.Fprintln(os.Stderr, "error writing xlsx:", err)
		os.Exit(1)
	}
	fmt.Printf("Planilha: %s\n", xlsxPath)

	if *pdfDir != "" {
		if err := writePDFs(*pdfDir, evs); err != nil {
			fmt.Fprintln(os.Stderr, "error writing pdf reports:", err)
			os.Exit(1)
		}
	}

	d := digest.BuildDigest(evs, nil, started, time.Now())
	failures := batch.Failures(outcomes)
	fmt.Printf("Arquivos: %d | Pontuados: %d | Falhas: %d", len(outcomes), d.Scored, failures)
	if d.Scored > 0 {
		fmt.Printf(" | Média: %.1f%% | Mediana: %.1f%% | Mín: %.0f%% | Máx: %.0f%%", d.Mean, d.Median, d.Min, d.Max)
	}
	fmt.Println()

	if failures > 0 {
		os.Exit(1)
	}
}

func callService() (*evaluation.Service, *sql.DB) {
	cfg := config.LoadConfig()
	httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	catalog, err := rubric.LoadCatalog(cfg.RubricDir, cfg.DefaultRubric)
	if err != nil {
		log.Fatalf("Failed to load rubrics: %v", err)
	}
	svc := evaluation.NewService(catalog, nil, llm.New(cfg), db)
	if cfg.TranscriptionConfigured() {
		svc.Transcriber = transcribe.NewWhisper(cfg)
	}
	return svc, db
}

func rescoreService(rubricDir, dbPath string) (*evaluation.Service, *sql.DB) {
	catalog, err := rubric.LoadCatalog(rubricDir, os.Getenv("DEFAULT_RUBRIC"))
	if err != nil {
		log.Fatalf("Failed to load rubrics: %v", err)
	}
	var db *sql.DB
	if dbPath != "" {
		if db, err = sqlite.InitDB(dbPath); err != nil {
			log.Fatalf("Failed to init database: %v", err)
		}
	}
	return evaluation.NewService(catalog, nil, nil, db), db
}

func outcomeLine(o batch.Outcome) string {
	name := filepath.Base(o.Path)
	switch {
	case o.OK():
		rep := o.Evaluation.Report
		return fmt.Sprintf("OK     %s  %s (%d%%)", name, export.TotalLine(*rep), rep.TotalPercentage)
	case o.Evaluation != nil:
		return fmt.Sprintf("FALHA  %s  %s: %s", name, o.Evaluation.ErrorKind, o.Evaluation.ErrorDetail)
	default:
		return fmt.Sprintf("ERRO   %s  %v", name, o.Err)
	}
}

func writeXLSX(path string, evs []domain.Evaluation) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.XLSX(evs, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writePDFs(dir string, evs []domain.Evaluation) error {
	for _, ev := range evs {
		if !ev.Scored() {
			continue
		}
		var buf bytes.Buffer
		if err := export.PDF(*ev.Report, export.MetaFor(ev), &buf); err != nil {
			return fmt.Errorf("%s: %w", ev.Filename, err)
		}
		if _, err := export.WriteFile(dir, export.ReportFilename(ev, nil, "pdf"), buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
