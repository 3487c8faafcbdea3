// Package mcpserver serves read-only chat tools over the Model Context
// Protocol so other agents can look up past conversations.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/chatd/internal/agent"
	"github.com/comigor/chatd/internal/logger"
	"github.com/comigor/chatd/internal/search"
)

const (
	serverName    = "chatd"
	serverVersion = "0.1.0"
)

// Chats is the part of the engine the tools need.
type Chats interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
	Messages(ctx context.Context, chatID string) (*agent.ChatMessages, error)
}

// Tools holds the tool handlers.
type Tools struct {
	chats Chats
}

// New returns an MCP server with every chat tool registered.
func New(chats Chats) *server.MCPServer {
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))
	t := &Tools{chats: chats}

	s.AddTool(mcp.NewTool("search_chats",
		mcp.WithDescription("Rank past chats by relevance to a free-text query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Words to look for")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
	), t.SearchChats)

	s.AddTool(mcp.NewTool("get_chat_messages",
		mcp.WithDescription("Return the status and ordered transcript of a chat."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), t.GetChatMessages)

	return s
}

// Serve runs the server on stdin/stdout until the input closes.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// SearchChats handles the search_chats tool.
func (t *Tools) SearchChats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := t.chats.Search(ctx, query, request.GetInt("limit", 0))
	if err != nil {
		return toolError("search_chats", err), nil
	}
	return jsonResult(map[string]any{"results": results})
}

// GetChatMessages handles the get_chat_messages tool.
func (t *Tools) GetChatMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := request.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgs, err := t.chats.Messages(ctx, chatID)
	if err != nil {
		return toolError("get_chat_messages", err), nil
	}
	return jsonResult(msgs)
}

func toolError(tool string, err error) *mcp.CallToolResult {
	if errors.Is(err, agent.ErrNotFound) || errors.Is(err, agent.ErrEmptyQuery) {
		logger.L.Debug("tool rejected request", "tool", tool, "error", err)
	} else {
		logger.L.Error("tool failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
