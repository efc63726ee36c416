package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ToolName identifies one of the tools the orchestrator registers.
type ToolName string

const (
	ToolWeather   ToolName = "weatherTool"
	ToolWebSearch ToolName = "web_search"
)

// InvocationState is the lifecycle state of a tool invocation.
type InvocationState string

const (
	// StatePartialCall means the tool arguments are still streaming in.
	StatePartialCall InvocationState = "partial-call"
	// StatePending means the call is complete and waiting for its result.
	StatePending InvocationState = "pending"
	// StateCompleted means the result (or an error payload) is attached.
	StateCompleted InvocationState = "completed"
)

// Attachment is an opaque file reference sent along with a user message.
type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// IsImage reports whether the attachment carries an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.ContentType, "image/")
}

// ToolInvocation tracks one provider-initiated tool call inside an
// assistant message.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   ToolName        `json:"toolName"`
	Args       map[string]any  `json:"args,omitempty"`
	ArgsText   string          `json:"argsText,omitempty"`
	State      InvocationState `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// Message is one entry of a conversation.
type Message struct {
	ID              string           `json:"id,omitempty"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	Attachments     []Attachment     `json:"attachments,omitempty"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
	CreatedAt       time.Time        `json:"createdAt,omitzero"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ToolInvocations != nil {
		out.ToolInvocations = make([]ToolInvocation, len(m.ToolInvocations))
		for i, inv := range m.ToolInvocations {
			if inv.Args != nil {
				args := make(map[string]any, len(inv.Args))
				for k, v := range inv.Args {
					args[k] = v
				}
				inv.Args = args
			}
			if inv.Result != nil {
				inv.Result = append(json.RawMessage(nil), inv.Result...)
			}
			out.ToolInvocations[i] = inv
		}
	}
	return out
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult represents the outcome of a tool call execution. Content is
// the JSON-encoded result payload.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Content    json.RawMessage `json:"content"`
	IsError    bool            `json:"is_error"`
}

// Location is the caller's best-effort geolocation. Any field may be empty.
type Location struct {
	City      string `json:"city,omitempty"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
	IP        string `json:"ip,omitempty"`
}

var errNotDataURL = errors.New("not a data URL")

// DecodeDataURL decodes a "data:" URI into its media type and bytes.
func DecodeDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, errNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decoding data URL: %w", err)
		}
		return mediaType, data, nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding data URL: %w", err)
	}
	return mediaType, []byte(data), nil
}

// EncodeDataURL builds a base64 "data:" URI.
func EncodeDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
