package model

import (
	"errors"
	"io"
	"strings"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

// FullMessage drains s and returns the aggregated assistant message.
func FullMessage(s ModelStream) (Message, error) {
	var text strings.Builder
	var calls []Content
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Message{}, err
		}
		switch c.Type {
		case ChunkText:
			text.WriteString(c.Text)
		case ChunkToolCall:
			calls = append(calls, Content{Type: domain.ContentTypeToolCall, ToolCall: c.ToolCall, ThoughtSignature: c.ThoughtSignature})
		}
	}
	var content []Content
	if text.Len() > 0 {
		content = append(content, Content{Type: domain.ContentTypeText, Text: text.String()})
	}
	content = append(content, calls...)
	return Message{Role: domain.RoleAssistant, Content: content}, nil
}
