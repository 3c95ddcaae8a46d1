package config

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing-config.yaml"))
	t.Setenv("DOTENV_PATH", filepath.Join(dir, "missing.env"))
	for _, k := range []string{
		"SLACK_BOT_TOKEN", "SLACK_APP_TOKEN", "REPORT_CHANNEL_ID", "LLM_PROVIDER", "LLM_MODEL",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "DIGEST_SCHEDULE", "API_TOKEN", "RUBRIC_DIR",
	} {
		t.Setenv(k, "")
	}
}

func setMinimalValidConfigEnv(t *testing.T) {
	t.Helper()
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TIMEZONE", "UTC")
}

func TestLoadConfigFromEnvWithDefaults(t *testing.T) {
	setMinimalValidConfigEnv(t)

	cfg := LoadConfig()

	if cfg.LLMProvider != ProviderOpenAI {
		t.Fatalf("unexpected provider: %q", cfg.LLMProvider)
	}
	if cfg.LLMModel != "gpt-4-turbo" {
		t.Fatalf("unexpected model default: %q", cfg.LLMModel)
	}
	if cfg.LLMTemperature != 0.3 {
		t.Fatalf("unexpected temperature default: %v", cfg.LLMTemperature)
	}
	if cfg.TranscriptionModel != "whisper-1" {
		t.Fatalf("unexpected transcription model default: %q", cfg.TranscriptionModel)
	}
	if cfg.DBPath != "./monitorai.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr default: %q", cfg.HTTPAddr)
	}
	if cfg.ExternalHTTPTimeoutSeconds != int(defaultExternalHTTPTimeout/time.Second) {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.MaxAudioBytes() != 25<<20 {
		t.Fatalf("unexpected max audio bytes: %d", cfg.MaxAudioBytes())
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if cfg.SlackConfigured() {
		t.Fatal("slack must not be configured without tokens")
	}
	if !cfg.TranscriptionConfigured() {
		t.Fatal("transcription should be available with an OpenAI key")
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := `
slack_bot_token: "yaml-bot"
slack_app_token: "yaml-app"
report_channel_id: "C123"
llm_provider: "anthropic"
anthropic_api_key: "yaml-anthropic"
timezone: "America/Sao_Paulo"
db_path: "/tmp/yaml.db"
report_output_dir: "/tmp/yaml-reports"
external_http_timeout_seconds: 75
digest_schedule: "0 9 * * 1"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("EXTERNAL_HTTP_TIMEOUT_SECONDS", "120")

	cfg := LoadConfig()

	if cfg.LLMProvider != ProviderOpenAI {
		t.Fatalf("expected provider from env override, got %q", cfg.LLMProvider)
	}
	if cfg.OpenAIAPIKey != "sk-env" {
		t.Fatalf("expected openai key from env override")
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected db path from env override, got %q", cfg.DBPath)
	}
	if cfg.ReportOutputDir != "/tmp/yaml-reports" {
		t.Fatalf("expected report output dir from yaml, got %q", cfg.ReportOutputDir)
	}
	if cfg.ExternalHTTPTimeoutSeconds != 120 {
		t.Fatalf("expected external HTTP timeout from env override, got %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if !cfg.SlackConfigured() || cfg.ReportChannelID != "C123" {
		t.Fatalf("expected slack config from yaml, got %+v", cfg)
	}
	if cfg.Location.String() != "America/Sao_Paulo" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	isolate(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("MONITORAI_DOTENV_PROBE=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("DOTENV_PATH", envPath)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Cleanup(func() { os.Unsetenv("MONITORAI_DOTENV_PROBE") })

	LoadConfig()

	if got := os.Getenv("MONITORAI_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("expected .env value to be loaded, got %q", got)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Config{
		SlackBotToken:  "xoxb",
		LLMProvider:    "gemini",
		LLMTemperature: 3,
		DigestSchedule: "every monday",
		Timezone:       "Mars/Colony",
	}
	applyDefaults(&cfg)
	problems := cfg.validate()

	want := []string{
		"partial Slack config",
		"llm_provider must be",
		"invalid llm_temperature",
		"invalid digest_schedule",
		"digest_schedule needs Slack tokens",
		"invalid timezone",
	}
	joined := strings.Join(problems, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Fatalf("expected problem %q in:\n%s", w, joined)
		}
	}
}

func TestProviderKeyRequired(t *testing.T) {
	cfg := Config{LLMProvider: "anthropic", OpenAIAPIKey: "sk"}
	applyDefaults(&cfg)
	problems := cfg.validate()
	if len(problems) != 1 || !strings.Contains(problems[0], "anthropic_api_key") {
		t.Fatalf("unexpected problems: %v", problems)
	}
	if cfg.LLMModel != "claude-sonnet-4-5-20250929" {
		t.Fatalf("unexpected anthropic model default: %q", cfg.LLMModel)
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("0 9 * * 1")
	if err != nil {
		t.Fatalf("ParseSchedule returned error: %v", err)
	}
	from := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC) // Wednesday
	next := sched.Next(from)
	if next.Weekday() != time.Monday || next.Hour() != 9 {
		t.Fatalf("unexpected next run: %s", next)
	}
	if _, err := ParseSchedule("0 9 * *"); err == nil {
		t.Fatal("expected ParseSchedule to fail for 4 fields")
	}
}

func TestEnvOverrideHelpers(t *testing.T) {
	s := "initial"
	t.Setenv("MA_TEST_STR", "value")
	envOverride(&s, "MA_TEST_STR")
	if s != "value" {
		t.Fatalf("envOverride failed, got %q", s)
	}

	empty := "keep"
	t.Setenv("MA_TEST_EMPTY", "")
	envOverride(&empty, "MA_TEST_EMPTY")
	if empty != "keep" {
		t.Fatalf("envOverride must ignore empty values, got %q", empty)
	}
	envOverrideAllowEmpty(&empty, "MA_TEST_EMPTY")
	if empty != "" {
		t.Fatalf("envOverrideAllowEmpty failed, got %q", empty)
	}

	i := 1
	t.Setenv("MA_TEST_INT", "42")
	envOverrideInt(&i, "MA_TEST_INT")
	if i != 42 {
		t.Fatalf("envOverrideInt failed, got %d", i)
	}

	f := 0.1
	t.Setenv("MA_TEST_FLOAT", "0.75")
	envOverrideFloat(&f, "MA_TEST_FLOAT")
	if f != 0.75 {
		t.Fatalf("envOverrideFloat failed, got %f", f)
	}
}

func TestLoadConfigInvalidProviderFatal(t *testing.T) {
	if os.Getenv("TEST_INVALID_PROVIDER_FATAL") == "1" {
		_ = os.Setenv("CONFIG_PATH", filepath.Join(os.TempDir(), "no-config.yaml"))
		_ = os.Setenv("DOTENV_PATH", filepath.Join(os.TempDir(), "no.env"))
		_ = os.Setenv("LLM_PROVIDER", "gemini")
		LoadConfig()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestLoadConfigInvalidProviderFatal")
	cmd.Env = append(os.Environ(), "TEST_INVALID_PROVIDER_FATAL=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with failure")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got: %v", err)
	}
}
