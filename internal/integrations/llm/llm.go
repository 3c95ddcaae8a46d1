package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"monitorai/internal/config"
	"monitorai/internal/httpx"
	"monitorai/internal/rubric"
)

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
}

// Judgment is the raw text returned by the model plus call metadata. The text
// is not interpreted here.
type Judgment struct {
	Text     string
	Provider string
	Model    string
	Usage    Usage
}

// Client calls the configured chat model. It holds no per-call state and is
// safe for concurrent use.
type Client struct {
	provider    string
	model       string
	temperature float64
	maxTokens   int64

	openai    openai.Client
	anthropic anthropic.Client
}

func New(cfg config.Config) *Client {
	c := &Client{
		provider:    cfg.LLMProvider,
		model:       cfg.LLMModel,
		temperature: cfg.LLMTemperature,
		maxTokens:   int64(cfg.LLMMaxTokens),
	}
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		opts := []anthropicopt.RequestOption{
			anthropicopt.WithAPIKey(cfg.AnthropicAPIKey),
			anthropicopt.WithHTTPClient(httpx.ExternalHTTPClient()),
			anthropicopt.WithMaxRetries(cfg.LLMMaxRetries),
		}
		if base := strings.TrimSpace(cfg.AnthropicBaseURL); base != "" {
			opts = append(opts, anthropicopt.WithBaseURL(base))
		}
		c.anthropic = anthropic.NewClient(opts...)
	default:
		opts := []openaiopt.RequestOption{
			openaiopt.WithAPIKey(cfg.OpenAIAPIKey),
			openaiopt.WithHTTPClient(httpx.ExternalHTTPClient()),
			openaiopt.WithMaxRetries(cfg.LLMMaxRetries),
		}
		if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
			opts = append(opts, openaiopt.WithBaseURL(base))
		}
		c.openai = openai.NewClient(opts...)
	}
	return c
}

func (c *Client) Provider() string { return c.provider }
func (c *Client) Model() string    { return c.model }

// Score asks the model to judge one transcript against r.
func (c *Client) Score(ctx context.Context, r *rubric.Rubric, transcript string) (Judgment, error) {
	if strings.TrimSpace(transcript) == "" {
		return Judgment{}, fmt.Errorf("empty transcript")
	}
	system, user := BuildPrompts(r, transcript)
	log.Printf("llm score provider=%s model=%s rubric=%s transcript_chars=%d", c.provider, c.model, r.ID, len([]rune(transcript)))

	var (
		text  string
		usage Usage
		err   error
	)
	switch c.provider {
	case config.ProviderAnthropic:
		text, usage, err = c.callAnthropic(ctx, system, user)
	default:
		text, usage, err = c.callOpenAI(ctx, system, user)
	}
	if err != nil {
		return Judgment{}, err
	}
	return Judgment{Text: text, Provider: c.provider, Model: c.model, Usage: usage}, nil
}

// --- Anthropic ---

func (c *Client) callAnthropic(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	message, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d cache_create=%d cache_read=%d", len(block.Text), usage.InputTokens, usage.OutputTokens, usage.CacheCreationInputTokens, usage.CacheReadInputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

func (c *Client) callOpenAI(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	completion, err := c.openai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", Usage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in OpenAI response")
	}
	usage := Usage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}
	content := completion.Choices[0].Message.Content
	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(content), usage.InputTokens, usage.OutputTokens)
	return content, usage, nil
}
