package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackAppToken   string `yaml:"slack_app_token"`
	ReportChannelID string `yaml:"report_channel_id"`

	LLMProvider      string  `yaml:"llm_provider"`
	LLMModel         string  `yaml:"llm_model"`
	LLMTemperature   float64 `yaml:"llm_temperature"`
	LLMMaxTokens     int     `yaml:"llm_max_tokens"`
	LLMMaxRetries    int     `yaml:"llm_max_retries"`
	OpenAIAPIKey     string  `yaml:"openai_api_key"`
	OpenAIBaseURL    string  `yaml:"openai_base_url"`
	AnthropicAPIKey  string  `yaml:"anthropic_api_key"`
	AnthropicBaseURL string  `yaml:"anthropic_base_url"`

	TranscriptionModel string `yaml:"transcription_model"`
	MaxAudioMB         int    `yaml:"max_audio_mb"`

	RubricDir     string `yaml:"rubric_dir"`
	DefaultRubric string `yaml:"default_rubric"`

	DBPath                     string `yaml:"db_path"`
	ReportOutputDir            string `yaml:"report_output_dir"`
	HTTPAddr                   string `yaml:"http_addr"`
	APIToken                   string `yaml:"api_token"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	DigestSchedule string `yaml:"digest_schedule"`
	Timezone       string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// LoadConfig reads .env, then config.yaml (or CONFIG_PATH), then environment
// overrides, fills defaults and exits on invalid settings.
func LoadConfig() Config {
	envFile := ".env"
	if p := os.Getenv("DOTENV_PATH"); p != "" {
		envFile = p
	}
	if err := godotenv.Load(envFile); err == nil {
		log.Printf("Loaded environment from %s", envFile)
	}

	var cfg Config
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if problems := cfg.validate(); len(problems) > 0 {
		for _, p := range problems {
			log.Printf("config error: %s", p)
		}
		log.Fatalf("invalid configuration (%d problems)", len(problems))
	}
	return cfg
}

func applyEnv(cfg *Config) {
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideFloat(&cfg.LLMTemperature, "LLM_TEMPERATURE")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverrideInt(&cfg.LLMMaxRetries, "LLM_MAX_RETRIES")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideAllowEmpty(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverrideAllowEmpty(&cfg.AnthropicBaseURL, "ANTHROPIC_BASE_URL")
	envOverride(&cfg.TranscriptionModel, "TRANSCRIPTION_MODEL")
	envOverrideInt(&cfg.MaxAudioMB, "MAX_AUDIO_MB")
	envOverride(&cfg.RubricDir, "RUBRIC_DIR")
	envOverride(&cfg.DefaultRubric, "DEFAULT_RUBRIC")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverrideAllowEmpty(&cfg.APIToken, "API_TOKEN")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverrideAllowEmpty(&cfg.DigestSchedule, "DIGEST_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
}

func applyDefaults(cfg *Config) {
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderOpenAI
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMModel == "" {
		switch cfg.LLMProvider {
		case ProviderAnthropic:
			cfg.LLMModel = "claude-sonnet-4-5-20250929"
		default:
			cfg.LLMModel = "gpt-4-turbo"
		}
	}
	if cfg.LLMTemperature == 0 {
		cfg.LLMTemperature = 0.3
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 4096
	}
	if cfg.LLMMaxRetries == 0 {
		cfg.LLMMaxRetries = 2
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.MaxAudioMB == 0 {
		cfg.MaxAudioMB = 25
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./monitorai.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

// validate returns every problem at once so a broken deployment is fixed in
// one round. It also resolves Location.
func (c *Config) validate() []string {
	var problems []string

	if (c.SlackBotToken == "") != (c.SlackAppToken == "") {
		problems = append(problems, "partial Slack config: slack_bot_token and slack_app_token are required together")
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			problems = append(problems, "openai_api_key is required when llm_provider=openai")
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			problems = append(problems, "anthropic_api_key is required when llm_provider=anthropic")
		}
	default:
		problems = append(problems, fmt.Sprintf("llm_provider must be 'openai' or 'anthropic', got '%s'", c.LLMProvider))
	}

	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		problems = append(problems, fmt.Sprintf("invalid llm_temperature '%g': must be between 0 and 2", c.LLMTemperature))
	}
	if c.LLMMaxTokens < 256 {
		problems = append(problems, fmt.Sprintf("invalid llm_max_tokens '%d': must be >= 256", c.LLMMaxTokens))
	}
	if c.LLMMaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("invalid llm_max_retries '%d': must be >= 0", c.LLMMaxRetries))
	}
	if c.MaxAudioMB < 1 {
		problems = append(problems, fmt.Sprintf("invalid max_audio_mb '%d': must be >= 1", c.MaxAudioMB))
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		problems = append(problems, fmt.Sprintf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds))
	}
	if c.RubricDir != "" {
		if st, err := os.Stat(c.RubricDir); err != nil || !st.IsDir() {
			problems = append(problems, fmt.Sprintf("invalid rubric_dir '%s': not a directory", c.RubricDir))
		}
	}
	if c.DigestSchedule != "" {
		if _, err := ParseSchedule(c.DigestSchedule); err != nil {
			problems = append(problems, fmt.Sprintf("invalid digest_schedule '%s': %v", c.DigestSchedule, err))
		}
		if c.ReportChannelID == "" || !c.SlackConfigured() {
			problems = append(problems, "digest_schedule needs Slack tokens and report_channel_id")
		}
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			problems = append(problems, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
		} else {
			c.Location = loc
		}
	}
	return problems
}

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// TranscriptionConfigured reports whether audio can be turned into text.
// Whisper is only reachable with an OpenAI key, whatever the judge provider.
func (c Config) TranscriptionConfigured() bool {
	return c.OpenAIAPIKey != ""
}

func (c Config) MaxAudioBytes() int64 {
	return int64(c.MaxAudioMB) << 20
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
