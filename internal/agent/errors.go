package agent

import (
	"errors"

	"github.com/comigor/chatd/internal/history"
	"github.com/comigor/chatd/internal/search"
	"github.com/comigor/chatd/internal/session"
)

// Errors returned by Agent operations. Callers classify them with errors.Is.
var (
	ErrValidation          = errors.New("invalid request")
	ErrNotFound            = history.ErrNotFound
	ErrInvalidContent      = history.ErrInvalidContent
	ErrSessionClosed       = session.ErrClosed
	ErrEmptyQuery          = search.ErrEmptyQuery
	ErrInference           = errors.New("inference failed")
	ErrSummarizationFailed = errors.New("summarization failed")
)
