package llm

import (
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the backend answers without any choice.
var ErrNoChoices = errors.New("llm response has no choices")

// ReplyContent is the content of a model reply. Backends answer either with a
// plain string or with a list of typed parts; both are represented here and
// flattened by Text.
type ReplyContent interface {
	isReplyContent()
}

// PlainText is a reply whose content was a single string.
type PlainText string

// Parts is a reply whose content was a list of typed parts.
type Parts []Part

// Part is one typed fragment of a multi-part reply. Text is empty for parts
// that carry no text (images, audio, unknown types).
type Part struct {
	Type string
	Text string
}

func (PlainText) isReplyContent() {}
func (Parts) isReplyContent()     {}

// ContentOf returns the content of the first choice in resp.
func ContentOf(resp openai.ChatCompletionResponse) (ReplyContent, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	msg := resp.Choices[0].Message
	if msg.MultiContent != nil {
		parts := make(Parts, 0, len(msg.MultiContent))
		for _, p := range msg.MultiContent {
			parts = append(parts, Part{Type: string(p.Type), Text: p.Text})
		}
		return parts, nil
	}
	return PlainText(msg.Content), nil
}

// Text flattens reply content: plain text is returned as is, and for parts the
// text of every "text" part is concatenated in order. Other part types add
// nothing.
func Text(content ReplyContent) string {
	switch c := content.(type) {
	case PlainText:
		return string(c)
	case Parts:
		var b strings.Builder
		for _, p := range c {
			if p.Type == string(openai.ChatMessagePartTypeText) {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

// ReplyText is ContentOf followed by Text.
func ReplyText(resp openai.ChatCompletionResponse) (string, error) {
	content, err := ContentOf(resp)
	if err != nil {
		return "", err
	}
	return Text(content), nil
}
