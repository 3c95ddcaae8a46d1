// Package transcribe turns call recordings into text with OpenAI's speech
// models.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"monitorai/internal/config"
	"monitorai/internal/httpx"
)

var ErrEmptyTranscript = errors.New("empty transcript")

// SupportedExtensions lists the audio containers accepted for upload.
var SupportedExtensions = []string{".mp3", ".m4a", ".wav", ".ogg", ".webm", ".mp4", ".mpeg", ".mpga"}

func IsSupported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

type Whisper struct {
	client openai.Client
	model  string
}

func NewWhisper(cfg config.Config) *Whisper {
	opts := []openaiopt.RequestOption{
		openaiopt.WithAPIKey(cfg.OpenAIAPIKey),
		openaiopt.WithHTTPClient(httpx.ExternalHTTPClient()),
		openaiopt.WithMaxRetries(cfg.LLMMaxRetries),
	}
	if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
		opts = append(opts, openaiopt.WithBaseURL(base))
	}
	model := cfg.TranscriptionModel
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &Whisper{client: openai.NewClient(opts...), model: model}
}

func (w *Whisper) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if !IsSupported(filename) {
		return "", fmt.Errorf("unsupported audio format %q", filepath.Ext(filename))
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filepath.Base(filename), contentType),
		Model: openai.AudioModel(w.model),
	})
	if err != nil {
		log.Printf("transcribe error file=%s: %v", filename, err)
		return "", fmt.Errorf("transcription API error: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	log.Printf("transcribe done file=%s model=%s chars=%d", filename, w.model, len([]rune(text)))
	return text, nil
}
