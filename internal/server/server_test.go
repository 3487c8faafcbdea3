package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatd/internal/agent"
	"github.com/comigor/chatd/internal/config"
	"github.com/comigor/chatd/internal/history"
	"github.com/comigor/chatd/internal/search"
)

type mockLLM struct {
	replies []string
	err     error
	calls   int
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.calls++
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	if len(m.replies) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("mockLLM: no replies left")
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: next}},
	}}, nil
}

func newTestServer(t *testing.T, mock *mockLLM) (*echo.Echo, *history.Store) {
	t.Helper()
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Config{LLM: config.LLMConfig{Model: "gpt", Temperature: 0.7, MaxTokens: 500}}
	return New(agent.New(mock, store, cfg)), store
}

func do(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPromptThenMessages(t *testing.T) {
	mock := &mockLLM{replies: []string{"Greeting", "Hi there"}}
	e, _ := newTestServer(t, mock)

	rec := do(t, e, http.MethodPost, "/prompt_gpt/", `{"chat_id":"s1","content":"Hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, map[string]string{"reply": "Hi there", "status": "active"}, decode[map[string]string](t, rec))
	require.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = do(t, e, http.MethodGet, "/get_chat_messages/s1/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[agent.ChatMessages](t, rec)
	require.Equal(t, history.StatusActive, got.Status)
	require.Equal(t, []agent.Turn{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there"},
	}, got.Messages)
}

func TestEndThenPromptIsRejected(t *testing.T) {
	mock := &mockLLM{replies: []string{"Greeting", "Hi there", "Point A. Point B. Takeaway."}}
	e, _ := newTestServer(t, mock)

	rec := do(t, e, http.MethodPost, "/prompt_gpt/", `{"chat_id":"s1","content":"Hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, e, http.MethodPost, "/end_chat/", `{"chat_id":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, map[string]string{
		"status":  "ended",
		"summary": "Point A. Point B. Takeaway.",
	}, decode[map[string]string](t, rec))

	calls := mock.calls
	rec = do(t, e, http.MethodPost, "/prompt_gpt/", `{"chat_id":"s1","content":"More?"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode[map[string]string](t, rec)["error"], "closed")
	require.Equal(t, calls, mock.calls)

	rec = do(t, e, http.MethodPost, "/end_chat/", `{"chat_id":"s1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, agent.AlreadyEndedSummary, decode[map[string]string](t, rec)["summary"])
}

func TestTrailingSlashIsOptional(t *testing.T) {
	e, _ := newTestServer(t, &mockLLM{})

	rec := do(t, e, http.MethodGet, "/recent_chat", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestRecentChat(t *testing.T) {
	mock := &mockLLM{replies: []string{"Alpha", "r"}}
	e, _ := newTestServer(t, mock)

	rec := do(t, e, http.MethodPost, "/prompt_gpt/", `{"chat_id":"a","content":"one"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, e, http.MethodGet, "/recent_chat/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	chats := decode[[]history.Session](t, rec)
	require.Len(t, chats, 1)
	require.Equal(t, "a", chats[0].ID)
	require.Equal(t, "Alpha", chats[0].Title)
	require.Equal(t, history.StatusActive, chats[0].Status)
}

func TestSearchChats(t *testing.T) {
	mock := &mockLLM{replies: []string{"Sourdough", "Feed the starter.", "Goroutines", "Use channels."}}
	e, _ := newTestServer(t, mock)

	for _, body := range []string{
		`{"chat_id":"bread","content":"How do I bake sourdough bread?"}`,
		`{"chat_id":"go","content":"Explain goroutines"}`,
	} {
		rec := do(t, e, http.MethodPost, "/prompt_gpt/", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, e, http.MethodPost, "/search_chats/", `{"query":"sourdough bread","limit":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[struct {
		Results []search.Result `json:"results"`
	}](t, rec)
	require.Len(t, got.Results, 1)
	require.Equal(t, "bread", got.Results[0].ChatID)
	require.Equal(t, "Sourdough", got.Results[0].Title)
	require.Greater(t, got.Results[0].Score, 0.0)

	rec = do(t, e, http.MethodPost, "/search_chats/", `{"query":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchChats_EmptyCorpus(t *testing.T) {
	e, _ := newTestServer(t, &mockLLM{})

	rec := do(t, e, http.MethodPost, "/search_chats/", `{"query":"anything"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"results":[]}`, rec.Body.String())
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		mock   *mockLLM
		want   int
	}{
		{"missing content", http.MethodPost, "/prompt_gpt/", `{"chat_id":"s1"}`, &mockLLM{}, http.StatusBadRequest},
		{"blank content", http.MethodPost, "/prompt_gpt/", `{"chat_id":"s1","content":"  "}`, &mockLLM{}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/prompt_gpt/", `{"chat_id":`, &mockLLM{}, http.StatusBadRequest},
		{"inference down", http.MethodPost, "/prompt_gpt/", `{"chat_id":"s1","content":"Hi"}`, &mockLLM{err: fmt.Errorf("status code: 503")}, http.StatusInternalServerError},
		{"unknown chat messages", http.MethodGet, "/get_chat_messages/nope/", "", &mockLLM{}, http.StatusNotFound},
		{"end missing id", http.MethodPost, "/end_chat/", `{}`, &mockLLM{}, http.StatusBadRequest},
		{"end unknown chat", http.MethodPost, "/end_chat/", `{"chat_id":"nope"}`, &mockLLM{}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestServer(t, tt.mock)
			rec := do(t, e, tt.method, tt.path, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			require.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestEndChat_SummarizationFailure(t *testing.T) {
	mock := &mockLLM{replies: []string{"Greeting", "Hi there"}}
	e, store := newTestServer(t, mock)

	rec := do(t, e, http.MethodPost, "/prompt_gpt/", `{"chat_id":"s1","content":"Hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	mock.err = errors.New("backend timeout")
	rec = do(t, e, http.MethodPost, "/end_chat/", `{"chat_id":"s1"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	sess, err := store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, history.StatusActive, sess.Status)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("wrap: %w", agent.ErrSessionClosed)))
	require.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("%w: %w", agent.ErrSummarizationFailed, context.Canceled)))
	require.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}
