package orchestrator

import (
	"log/slog"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

// ConvertMessages converts conversation messages to provider-neutral model
// messages. Assistant messages with completed tool invocations become an
// assistant tool-call message followed by one tool message carrying the
// results. Invocations without a result are dropped.
func ConvertMessages(messages []domain.Message) []model.Message {
	var out []model.Message
	for _, m := range messages {
		switch m.Role {
		case domain.RoleUser:
			var content []model.Content
			if m.Content != "" {
				content = append(content, model.Content{Type: domain.ContentTypeText, Text: m.Content})
			}
			for _, a := range m.Attachments {
				img, ok := attachmentImage(a)
				if !ok {
					continue
				}
				content = append(content, model.Content{Type: domain.ContentTypeImage, Image: img})
			}
			if len(content) > 0 {
				out = append(out, model.Message{Role: domain.RoleUser, Content: content})
			}

		case domain.RoleAssistant:
			var content, results []model.Content
			if m.Content != "" {
				content = append(content, model.Content{Type: domain.ContentTypeText, Text: m.Content})
			}
			for _, inv := range m.ToolInvocations {
				if inv.State != domain.StateCompleted {
					continue
				}
				args := inv.Args
				if args == nil {
					args = map[string]any{}
				}
				content = append(content, model.Content{
					Type:     domain.ContentTypeToolCall,
					ToolCall: &domain.ToolCall{ID: inv.ToolCallID, Name: string(inv.ToolName), Input: args},
				})
				results = append(results, model.Content{
					Type: domain.ContentTypeToolResult,
					ToolResult: &domain.ToolResult{
						ToolCallID: inv.ToolCallID,
						Name:       string(inv.ToolName),
						Content:    inv.Result,
						IsError:    inv.IsError,
					},
				})
			}
			if len(content) > 0 {
				out = append(out, model.Message{Role: domain.RoleAssistant, Content: content})
			}
			if len(results) > 0 {
				out = append(out, model.Message{Role: domain.RoleTool, Content: results})
			}

		default:
			slog.Debug("Skipping message with unsupported role", "role", m.Role)
		}
	}
	return out
}

// attachmentImage converts an image attachment. Data URLs are decoded so
// backends can inline the bytes.
func attachmentImage(a domain.Attachment) (*model.Image, bool) {
	if !a.IsImage() {
		slog.Debug("Skipping non-image attachment", "name", a.Name, "contentType", a.ContentType)
		return nil, false
	}
	mediaType, data, err := domain.DecodeDataURL(a.URL)
	if err != nil {
		return &model.Image{MIMEType: a.ContentType, URL: a.URL}, true
	}
	return &model.Image{MIMEType: mediaType, Data: data}, true
}
