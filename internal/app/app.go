package app

import (
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/slack-go/slack"

	"monitorai/internal/config"
	"monitorai/internal/digest"
	"monitorai/internal/evaluation"
	"monitorai/internal/httpx"
	"monitorai/internal/integrations/llm"
	slackbot "monitorai/internal/integrations/slack"
	"monitorai/internal/integrations/transcribe"
	"monitorai/internal/rubric"
	"monitorai/internal/server"
	"monitorai/internal/storage/sqlite"
)

func Main() {
	cfg := config.LoadConfig()
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Provider=%s Model=%s Temperature=%.2f DefaultRubric=%s RubricDir=%s Transcription=%t Slack=%t HTTPAddr=%s Timezone=%s ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.LLMTemperature,
		cfg.DefaultRubric,
		cfg.RubricDir,
		cfg.TranscriptionConfigured(),
		cfg.SlackConfigured(),
		cfg.HTTPAddr,
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	defer db.Close()

	if err := os.MkdirAll(cfg.ReportOutputDir, 0755); err != nil {
		log.Fatalf("Failed to create report dir: %v", err)
	}
	log.Printf("Report output dir: %s", cfg.ReportOutputDir)

	catalog, err := rubric.LoadCatalog(cfg.RubricDir, cfg.DefaultRubric)
	if err != nil {
		log.Fatalf("Failed to load rubrics: %v", err)
	}
	log.Printf("Rubrics loaded count=%d default=%s", len(catalog.List()), catalog.DefaultID())

	svc := evaluation.NewService(catalog, nil, llm.New(cfg), db)
	if cfg.TranscriptionConfigured() {
		svc.Transcriber = transcribe.NewWhisper(cfg)
	}

	srv := server.New(svc, db, cfg.APIToken, cfg.MaxAudioBytes()).HTTPServer(cfg.HTTPAddr)
	if !cfg.SlackConfigured() {
		log.Printf("Slack disabled; serving HTTP on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
		return
	}

	go func() {
		log.Printf("Serving HTTP on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	api := slack.New(
		cfg.SlackBotToken,
		slack.OptionAppLevelToken(cfg.SlackAppToken),
		slack.OptionHTTPClient(httpx.ExternalHTTPClient()),
	)

	digest.StartScheduler(cfg, db, api)

	log.Println("Starting MonitorAI Slack bot...")
	if err := slackbot.New(cfg, api, db, svc).Run(); err != nil {
		log.Fatalf("Slack bot error: %v", err)
	}
}
