package agent

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatd/internal/history"
	"github.com/comigor/chatd/internal/llm"
	"github.com/comigor/chatd/internal/logger"
)

const (
	defaultSystemPrompt = "You are a helpful assistant."
	titleInstruction    = "Give a short, descriptive title for this conversation in not more than 5 words."
	titleFallbackRunes  = 50
)

// Assemble maps a transcript to completion messages in order. When no entry
// carries the system role, one systemPrompt message is placed first.
func Assemble(transcript []history.Message, systemPrompt string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	hasSystem := false
	for _, m := range transcript {
		if m.Role == openai.ChatMessageRoleSystem {
			hasSystem = true
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if hasSystem {
		return out
	}
	return append([]openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	}}, out...)
}

// titleOutcome is the result of the best-effort title call. It is never
// surfaced as an error; resolve always yields a usable title.
type titleOutcome struct {
	title string
	err   error
}

func (o titleOutcome) resolve(message string) string {
	if o.err != nil || o.title == "" {
		return fallbackTitle(message)
	}
	return o.title
}

// fallbackTitle is the first 50 characters of the message, uncut otherwise.
func fallbackTitle(message string) string {
	runes := []rune(message)
	if len(runes) > titleFallbackRunes {
		runes = runes[:titleFallbackRunes]
	}
	return string(runes)
}

// generateTitle asks the backend for a short label for message.
func (a *Agent) generateTitle(ctx context.Context, message string) titleOutcome {
	resp, err := a.llmClient.CreateChatCompletion(ctx, llm.Request(a.cfg, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: titleInstruction},
		{Role: openai.ChatMessageRoleUser, Content: message},
	}))
	if err != nil {
		logger.L.Warn("title generation failed; using fallback", "error", err)
		return titleOutcome{err: err}
	}
	text, err := llm.ReplyText(resp)
	if err != nil {
		logger.L.Warn("title reply unusable; using fallback", "error", err)
		return titleOutcome{err: err}
	}
	return titleOutcome{title: strings.TrimSpace(text)}
}
