// Package slackbot scores call recordings shared in Slack and answers the
// monitor slash commands over Socket Mode.
package slackbot

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"monitorai/internal/config"
	"monitorai/internal/domain"
	"monitorai/internal/evaluation"
	"monitorai/internal/export"
	"monitorai/internal/integrations/transcribe"
	"monitorai/internal/rubric"
	"monitorai/internal/scoring"
	"monitorai/internal/storage/sqlite"
)

const (
	evaluationTimeout   = 5 * time.Minute
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

type Bot struct {
	cfg config.Config
	api *slack.Client
	db  *sql.DB
	svc *evaluation.Service
}

func New(cfg config.Config, api *slack.Client, db *sql.DB, svc *evaluation.Service) *Bot {
	return &Bot{cfg: cfg, api: api, db: db, svc: svc}
}

// Run blocks until the Socket Mode connection ends.
func (b *Bot) Run() error {
	client := socketmode.New(b.api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Printf("Slash command received: %s from user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
				go b.handleSlashCommand(cmd)
			case socketmode.EventTypeEventsAPI:
				client.Ack(*evt.Request)
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				go b.handleEventsAPI(eventsAPIEvent)
			}
		}
	}()

	log.Println("Slack bot connected via Socket Mode")
	return client.Run()
}

func (b *Bot) handleSlashCommand(cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/monitor-history":
		b.handleHistory(cmd)
	case "/monitor-rubrics":
		b.handleRubrics(cmd)
	case "/monitor-score":
		b.handleScore(cmd)
	case "/monitor-report":
		b.handleReport(cmd)
	case "/monitor-help":
		b.handleHelp(cmd)
	}
}

func (b *Bot) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.FileSharedEvent:
		b.handleFileShared(ev)
	}
}

// handleFileShared scores audio files dropped in a channel. Anything that is
// not a supported recording (including the bot's own PDFs) is ignored.
func (b *Bot) handleFileShared(ev *slackevents.FileSharedEvent) {
	file, _, _, err := b.api.GetFileInfo(ev.FileID, 0, 0)
	if err != nil {
		log.Printf("file-shared info error file=%s: %v", ev.FileID, err)
		return
	}
	if !transcribe.IsSupported(file.Name) {
		return
	}
	channelID := ev.ChannelID
	log.Printf("file-shared audio file=%s name=%s size=%d user=%s channel=%s", file.ID, file.Name, file.Size, ev.UserID, channelID)

	if limit := b.cfg.MaxAudioBytes(); limit > 0 && int64(file.Size) > limit {
		b.postEphemeralTo(channelID, ev.UserID, fmt.Sprintf("O arquivo %s excede o limite de %d MB.", file.Name, b.cfg.MaxAudioMB))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), evaluationTimeout)
	defer cancel()

	var audio bytes.Buffer
	if err := b.api.GetFileContext(ctx, file.URLPrivateDownload, &audio); err != nil {
		log.Printf("file-shared download error file=%s: %v", file.ID, err)
		b.postEphemeralTo(channelID, ev.UserID, "Não foi possível baixar o áudio. Verifique as permissões do bot.")
		return
	}

	b.postEphemeralTo(channelID, ev.UserID, fmt.Sprintf("Analisando %s...", file.Name))
	evl, err := b.svc.Evaluate(ctx, evaluation.Submission{
		RubricID:    b.cfg.DefaultRubric,
		Filename:    file.Name,
		Audio:       &audio,
		Source:      domain.SourceSlack,
		SubmittedBy: ev.UserID,
	})
	if err != nil {
		log.Printf("file-shared evaluation error file=%s: %v", file.ID, err)
		b.postEphemeralTo(channelID, ev.UserID, failureMessage(err))
		return
	}

	b.postEvaluation(channelID, evl)
}

func (b *Bot) postEvaluation(channelID string, evl *domain.Evaluation) {
	if _, _, err := b.api.PostMessage(channelID, slack.MsgOptionText(formatSummary(*evl), false)); err != nil {
		log.Printf("post evaluation summary error id=%s: %v", evl.ID, err)
	}
	if err := b.uploadPDF(channelID, evl); err != nil {
		log.Printf("upload evaluation pdf error id=%s: %v", evl.ID, err)
	}
}

func (b *Bot) uploadPDF(channelID string, evl *domain.Evaluation) error {
	var buf bytes.Buffer
	if err := export.PDF(*evl.Report, export.MetaFor(*evl), &buf); err != nil {
		return err
	}
	filePath, err := export.WriteFile(b.cfg.ReportOutputDir, export.ReportFilename(*evl, b.cfg.Location, "pdf"), buf.Bytes())
	if err != nil {
		return err
	}
	fi, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	if fi.Size() <= 0 {
		return fmt.Errorf("generated file is empty path=%s", filePath)
	}
	_, err = b.api.UploadFileV2(slack.UploadFileV2Parameters{
		File:     filePath,
		FileSize: int(fi.Size()),
		Filename: filepath.Base(filePath),
		Channel:  channelID,
		Title:    fmt.Sprintf("Relatório %s", evl.Filename),
	})
	return err
}

func (b *Bot) handleHistory(cmd slack.SlashCommand) {
	args, err := parseHistoryArgs(cmd.Text)
	if err != nil {
		b.postEphemeral(cmd, err.Error())
		return
	}

	var evs []domain.Evaluation
	if len(args.Users) > 0 {
		ids, unresolved, resolveErr := resolveUserIDs(b.api, args.Users)
		if resolveErr != nil {
			log.Printf("history resolve users error (non-fatal): %v", resolveErr)
		}
		if len(unresolved) > 0 {
			b.postEphemeral(cmd, fmt.Sprintf("Usuários não encontrados: %s", strings.Join(unresolved, ", ")))
		}
		if len(ids) == 0 {
			return
		}
		evs, err = sqlite.ListRecentEvaluationsBySubmitter(b.db, ids, args.Limit)
	} else {
		evs, err = sqlite.ListRecentEvaluations(b.db, args.Limit)
	}
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Erro ao carregar o histórico: %v", err))
		log.Printf("history load error: %v", err)
		return
	}
	b.postEphemeral(cmd, formatHistory(evs, b.cfg.Location))
	log.Printf("history sent user=%s count=%d", cmd.UserID, len(evs))
}

func (b *Bot) handleRubrics(cmd slack.SlashCommand) {
	b.postEphemeral(cmd, formatRubrics(b.svc.Rubrics))
}

func (b *Bot) handleScore(cmd slack.SlashCommand) {
	rubricID, raw := parseScoreArgs(cmd.Text, b.svc.Rubrics)
	if raw == "" {
		b.postEphemeral(cmd, "Uso: `/monitor-score [rubrica] <resposta JSON do avaliador>`")
		return
	}
	evl, err := b.svc.Rescore(context.Background(), rubricID, raw)
	if err != nil {
		log.Printf("score error user=%s: %v", cmd.UserID, err)
		b.postEphemeral(cmd, failureMessage(err))
		return
	}
	b.postEphemeral(cmd, formatSummary(*evl))
}

func (b *Bot) handleReport(cmd slack.SlashCommand) {
	id := strings.TrimSpace(cmd.Text)
	if id == "" {
		b.postEphemeral(cmd, "Uso: `/monitor-report <id da avaliação>`")
		return
	}
	evl, err := b.svc.Get(id)
	if errors.Is(err, sql.ErrNoRows) {
		b.postEphemeral(cmd, fmt.Sprintf("Avaliação %s não encontrada.", id))
		return
	}
	if err != nil {
		b.postEphemeral(cmd, fmt.Sprintf("Erro ao carregar a avaliação: %v", err))
		log.Printf("report load error id=%s: %v", id, err)
		return
	}
	if !evl.Scored() {
		b.postEphemeral(cmd, fmt.Sprintf("A avaliação %s não possui relatório (%s).", id, evl.ErrorKind))
		return
	}
	if err := b.uploadPDF(cmd.ChannelID, evl); err != nil {
		log.Printf("report upload error id=%s: %v", id, err)
		b.postEphemeral(cmd, "Erro ao enviar o relatório. Verifique as permissões do bot.")
	}
}

func (b *Bot) handleHelp(cmd slack.SlashCommand) {
	lines := []string{
		"*MonitorAI*",
		"",
		"Envie um áudio de ligação (" + strings.Join(transcribe.SupportedExtensions, ", ") + ") no canal para receber a avaliação.",
		"",
		"`/monitor-history [n] [@agente]` - Últimas avaliações, opcionalmente de um agente.",
		"`/monitor-rubrics` - Rubricas disponíveis.",
		"`/monitor-score [rubrica] <json>` - Recalcula uma resposta do avaliador.",
		"`/monitor-report <id>` - Envia o PDF de uma avaliação.",
		"`/monitor-help` - Esta ajuda.",
	}
	b.postEphemeral(cmd, strings.Join(lines, "\n"))
}

func (b *Bot) postEphemeral(cmd slack.SlashCommand, text string) {
	b.postEphemeralTo(cmd.ChannelID, cmd.UserID, text)
}

func (b *Bot) postEphemeralTo(channelID, userID, text string) {
	_, err := b.api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("Error posting ephemeral: %v", err)
	}
}

type errInvalidCount string

func (e errInvalidCount) Error() string {
	return fmt.Sprintf("Quantidade inválida: %q", string(e))
}

// parseScoreArgs splits an optional leading rubric id from the judge
// response. A first token that is not a known rubric belongs to the response.
func parseScoreArgs(text string, catalog *rubric.Catalog) (string, string) {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i > 0 && !strings.HasPrefix(text, "{") {
		if _, ok := catalog.Get(text[:i]); ok {
			return text[:i], strings.TrimSpace(text[i:])
		}
	}
	return "", text
}

const failureExcerptRunes = 100

func failureMessage(err error) string {
	var failed *evaluation.FailedError
	switch {
	case errors.As(err, &failed):
		msg := fmt.Sprintf("A resposta do avaliador não pôde ser pontuada (%s).", scoring.KindName(failed.Err))
		excerpt := ""
		var se *scoring.Error
		if errors.As(failed.Err, &se) {
			if se.Field != "" {
				msg += fmt.Sprintf(" Campo: `%s`.", se.Field)
			}
			if se.Value != "" {
				msg += fmt.Sprintf(" Valor: `%s`.", se.Value)
			}
			excerpt = se.Excerpt
		}
		if excerpt == "" {
			excerpt = scoring.Excerpt(strings.TrimSpace(failed.Evaluation.RawResponse), failureExcerptRunes)
		}
		// One quoted line; Slack only quotes up to the first newline.
		if excerpt = strings.Join(strings.Fields(excerpt), " "); excerpt != "" {
			msg += fmt.Sprintf("\n>%s", excerpt)
		}
		return msg + fmt.Sprintf("\nID: %s", failed.Evaluation.ID)
	case errors.Is(err, evaluation.ErrUnknownRubric):
		return "Rubrica desconhecida. Use `/monitor-rubrics` para ver as opções."
	case errors.Is(err, evaluation.ErrTranscriptionDisabled):
		return "A transcrição de áudio não está configurada."
	case errors.Is(err, evaluation.ErrUnsupportedAudio):
		return "Formato de áudio não suportado."
	case errors.Is(err, evaluation.ErrNoInput):
		return "A transcrição ficou vazia; nada para avaliar."
	default:
		return "Erro ao avaliar a ligação. Tente novamente em instantes."
	}
}
