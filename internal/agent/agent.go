package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comigor/chatd/internal/config"
	"github.com/comigor/chatd/internal/history"
	"github.com/comigor/chatd/internal/llm"
	"github.com/comigor/chatd/internal/logger"
	"github.com/comigor/chatd/internal/search"
	"github.com/comigor/chatd/internal/session"
)

// Agent runs chat turns against the inference backend and keeps the chat
// history in the store.
type Agent struct {
	llmClient    llm.Client
	cfg          config.LLMConfig
	store        *history.Store
	ranker       *search.Ranker
	systemPrompt string
	now          func() time.Time
}

// New creates a new agent.
func New(llmClient llm.Client, store *history.Store, appCfg config.Config) *Agent {
	systemPrompt := appCfg.LLM.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &Agent{
		llmClient:    llmClient,
		cfg:          appCfg.LLM,
		store:        store,
		ranker:       search.NewRanker(store, appCfg.Search.DefaultLimit),
		systemPrompt: systemPrompt,
		now:          time.Now,
	}
}

// PromptResult is the reply to one user turn.
type PromptResult struct {
	Reply  string         `json:"reply"`
	Status history.Status `json:"status"`
}

// Prompt records a user turn in chatID (creating the chat on first use),
// refreshes the chat title, sends the whole transcript to the backend and
// records the reply. The user turn is kept even when the backend fails.
func (a *Agent) Prompt(ctx context.Context, chatID, content string) (*PromptResult, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat_id is required", ErrValidation)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrInvalidContent
	}

	sess, created, err := a.store.GetOrCreateSession(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if created {
		logger.L.Info("chat created", "chat_id", chatID)
	}

	machine := session.New(sess.Status, nil)
	if err := machine.Admit(ctx); err != nil {
		logger.L.Info("turn rejected", "chat_id", chatID, "status", sess.Status)
		return nil, err
	}

	title := a.generateTitle(ctx, content).resolve(content)
	if err := a.store.SetTitle(ctx, chatID, title); err != nil {
		return nil, closedIfEnded(chatID, err)
	}

	if _, err := a.store.Append(ctx, chatID, history.RoleUser, content); err != nil {
		return nil, closedIfEnded(chatID, err)
	}

	transcript, err := a.store.List(ctx, chatID)
	if err != nil {
		return nil, err
	}

	resp, err := a.llmClient.CreateChatCompletion(ctx, llm.Request(a.cfg, Assemble(transcript, a.systemPrompt)))
	if err != nil {
		logger.L.Error("LLM call failed", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	reply, err := llm.ReplyText(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, fmt.Errorf("%w: backend returned an empty reply", ErrInference)
	}

	if _, err := a.store.Append(ctx, chatID, history.RoleAssistant, reply); err != nil {
		return nil, closedIfEnded(chatID, err)
	}
	logger.L.Debug("turn completed", "chat_id", chatID, "turns", len(transcript)+1)

	sess, err = a.store.GetSession(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &PromptResult{Reply: reply, Status: sess.Status}, nil
}

// closedIfEnded reports a chat ended by a concurrent EndChat as closed, the
// same way a turn against an already ended chat is rejected.
func closedIfEnded(chatID string, err error) error {
	if errors.Is(err, history.ErrSessionEnded) {
		logger.L.Info("turn rejected", "chat_id", chatID, "status", history.StatusEnded)
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	return err
}

// Turn is a message as shown to clients.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatMessages is a chat's status and ordered transcript.
type ChatMessages struct {
	Status   history.Status `json:"status"`
	Messages []Turn         `json:"messages"`
}

// Messages returns the transcript of chatID.
func (a *Agent) Messages(ctx context.Context, chatID string) (*ChatMessages, error) {
	sess, err := a.store.GetSession(ctx, chatID)
	if err != nil {
		return nil, err
	}
	transcript, err := a.store.List(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := &ChatMessages{Status: sess.Status, Messages: make([]Turn, len(transcript))}
	for i, m := range transcript {
		out.Messages[i] = Turn{Role: m.Role, Content: m.Content}
	}
	return out, nil
}

// RecentChats lists chats created today (local time), newest first.
func (a *Agent) RecentChats(ctx context.Context) ([]history.Session, error) {
	now := a.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return a.store.SessionsCreatedBetween(ctx, start, start.AddDate(0, 0, 1))
}

// Search ranks chats against query. A non-positive limit uses the configured
// default.
func (a *Agent) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	return a.ranker.Search(ctx, query, limit)
}
