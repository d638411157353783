package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aminparva84/InsightShop-sub000/internal/telemetry"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAISummarizer implements Summarizer with an OpenAI chat model.
type OpenAISummarizer struct {
	client       openai.Client
	model        string
	systemPrompt string
	maxTokens    int64
}

// OpenAIConfig holds configuration for the OpenAI summarizer.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional, for compatible gateways and tests
	Model        string // e.g., "gpt-4o-mini"
	SystemPrompt string // Optional custom system prompt
	MaxTokens    int64
}

// NewOpenAISummarizer creates a new OpenAI-backed summarizer.
func NewOpenAISummarizer(cfg OpenAIConfig) (*OpenAISummarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = SummaryPromptEnglish
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 150
	}

	return &OpenAISummarizer{
		client:       openai.NewClient(opts...),
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}, nil
}

// Summarize asks the model for a short spoken version of text.
func (s *OpenAISummarizer) Summarize(ctx context.Context, text string) (string, error) {
	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(s.systemPrompt),
			openai.UserMessage(text),
		},
		MaxTokens:   openai.Int(s.maxTokens),
		Temperature: openai.Float(0.3),
	})
	telemetry.ObserveCollaborator("summarize_openai", start, err)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoSummary
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", ErrNoSummary
	}
	return summary, nil
}
