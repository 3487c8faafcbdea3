package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatd/internal/history"
	"github.com/comigor/chatd/internal/llm"
	"github.com/comigor/chatd/internal/logger"
	"github.com/comigor/chatd/internal/session"
)

const (
	summaryInstruction = "You summarize chat conversations. Reply with a concise summary (2-3 bullet points) followed by a single-line key takeaway."
	summaryPrefix      = "Summary:\n"

	// NoMessagesSummary is the summary of a chat that never had a turn.
	NoMessagesSummary = "No messages were exchanged in this chat."
	// AlreadyEndedSummary is returned when ending a chat that is already ended.
	AlreadyEndedSummary = "This chat has already ended."
)

// EndResult is the outcome of ending a chat.
type EndResult struct {
	Status  history.Status `json:"status"`
	Summary string         `json:"summary"`
}

// EndChat summarizes an active chat, records the summary as an assistant
// turn and moves the chat to ended. Ending an ended chat changes nothing and
// returns AlreadyEndedSummary. If summarization fails the chat stays active
// and nothing is written.
func (a *Agent) EndChat(ctx context.Context, chatID string) (*EndResult, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat_id is required", ErrValidation)
	}

	sess, err := a.store.GetSession(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if sess.Status == history.StatusEnded {
		return &EndResult{Status: history.StatusEnded, Summary: AlreadyEndedSummary}, nil
	}

	transcript, err := a.store.List(ctx, chatID)
	if err != nil {
		return nil, err
	}

	summary := NoMessagesSummary
	if len(transcript) > 0 {
		summary, err = a.summarize(ctx, transcript)
		if err != nil {
			logger.L.Error("summarization failed", "chat_id", chatID, "error", err)
			return nil, err
		}
	}

	machine := session.New(sess.Status, func(ctx context.Context, text string) error {
		_, err := a.store.EndSession(ctx, chatID, text)
		return err
	})
	if err := machine.End(ctx, summaryPrefix+summary); err != nil {
		if errors.Is(err, history.ErrSessionEnded) {
			// Another request ended the chat first.
			return &EndResult{Status: history.StatusEnded, Summary: AlreadyEndedSummary}, nil
		}
		return nil, err
	}

	logger.L.Info("chat ended", "chat_id", chatID, "turns", len(transcript))
	return &EndResult{Status: machine.Status(), Summary: summary}, nil
}

// summarize makes the single summarization call. Unlike titles, any failure
// here is returned as ErrSummarizationFailed.
func (a *Agent) summarize(ctx context.Context, transcript []history.Message) (string, error) {
	lines := make([]string, len(transcript))
	for i, m := range transcript {
		lines[i] = strings.ToUpper(m.Role) + ": " + m.Content
	}

	resp, err := a.llmClient.CreateChatCompletion(ctx, llm.Request(a.cfg, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: summaryInstruction},
		{Role: openai.ChatMessageRoleUser, Content: strings.Join(lines, "\n")},
	}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}
	text, err := llm.ReplyText(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSummarizationFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty summary", ErrSummarizationFailed)
	}
	return text, nil
}
