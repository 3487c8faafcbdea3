// Package search ranks past chats against a free-text query. Every request
// rebuilds the corpus from storage and fits TF-IDF weights over the corpus and
// the query together, then orders chats by cosine similarity.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/comigor/chatd/internal/history"
	"github.com/comigor/chatd/internal/logger"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("search query must not be empty")

// DefaultLimit caps results when neither the caller nor config sets a limit.
const DefaultLimit = 10

const (
	snippetLimit = 160
	ellipsis     = "..."
)

// Source supplies the searchable chats: sessions with at least one message,
// newest first.
type Source interface {
	Transcripts(ctx context.Context) ([]history.Transcript, error)
}

// Result is one ranked chat.
type Result struct {
	ChatID  string         `json:"chat_id"`
	Title   string         `json:"title"`
	Status  history.Status `json:"status"`
	Score   float64        `json:"score"`
	Snippet string         `json:"snippet"`
}

// Ranker scores chats from a Source.
type Ranker struct {
	src          Source
	defaultLimit int
}

// NewRanker returns a Ranker that falls back to defaultLimit when a search
// does not ask for a positive limit.
func NewRanker(src Source, defaultLimit int) *Ranker {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Ranker{src: src, defaultLimit: defaultLimit}
}

// Search returns up to limit chats ordered by similarity to query. Ties keep
// corpus order, so the newer chat wins.
func (r *Ranker) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = r.defaultLimit
	}

	transcripts, err := r.src.Transcripts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	if len(transcripts) == 0 {
		return []Result{}, nil
	}

	texts := make([]string, 0, len(transcripts)+1)
	for _, t := range transcripts {
		texts = append(texts, Document(t))
	}
	texts = append(texts, query)

	vectors := fitTransform(texts)
	queryVec := vectors[len(vectors)-1]

	results := make([]Result, len(transcripts))
	for i, t := range transcripts {
		snippetSource := texts[i]
		if n := len(t.Messages); n > 0 {
			snippetSource = t.Messages[n-1].Content
		}
		results[i] = Result{
			ChatID:  t.Session.ID,
			Title:   t.Session.DisplayTitle(),
			Status:  t.Session.Status,
			Score:   cosine(queryVec, vectors[i]),
			Snippet: Snippet(snippetSource),
		}
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Score = round4(results[i].Score)
	}

	logger.L.Debug("search ranked", "query", query, "corpus", len(transcripts), "returned", len(results))
	return results, nil
}

// Document renders a chat for indexing: the title if set, then one
// "role: content" line per message.
func Document(t history.Transcript) string {
	parts := make([]string, 0, len(t.Messages)+1)
	if t.Session.Title != "" {
		parts = append(parts, t.Session.Title)
	}
	for _, m := range t.Messages {
		parts = append(parts, m.Role+": "+m.Content)
	}
	return strings.Join(parts, "\n")
}

// Snippet shortens text to at most 160 characters, marking the cut with "...".
func Snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLimit {
		return text
	}
	cut := strings.TrimRightFunc(string(runes[:snippetLimit-len(ellipsis)]), unicode.IsSpace)
	return cut + ellipsis
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
