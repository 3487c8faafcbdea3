package llm

import (
	"github.com/comigor/chatd/internal/config"
	"github.com/sashabaranov/go-openai"
)

// NewClient creates a client for an OpenAI-compatible chat completions backend.
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL

	return openai.NewClientWithConfig(config)
}

// Request builds a completion request carrying the configured model and
// sampling parameters.
func Request(cfg config.LLMConfig, messages []openai.ChatCompletionMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
}
