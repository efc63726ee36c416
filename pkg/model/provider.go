package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user, assistant, tool).
	Role domain.Role
	// Content holds the message parts.
	Content []Content
}

// Content represents a single component of a message.
type Content struct {
	Type string // "text", "image", "tool_call", "tool_result"

	// Text content (when Type == "text").
	Text string `json:"text,omitempty"`

	// Image content (when Type == "image").
	Image *Image `json:"image,omitempty"`

	// Tool call (when Type == "tool_call").
	ToolCall *domain.ToolCall `json:"tool_call,omitempty"`

	// Tool result (when Type == "tool_result").
	ToolResult *domain.ToolResult `json:"tool_result,omitempty"`

	// ThoughtSignature is an opaque signature for the model's internal state.
	// Must be round-tripped back to the model on the next request.
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

// Image is an image part. Either Data or URL is set.
type Image struct {
	MIMEType string
	Data     []byte
	URL      string
}

// Schema is a provider-neutral JSON schema subset used for tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
}

// Map returns the schema as a generic JSON object.
func (s *Schema) Map() map[string]any {
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.Map()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// ToolSpec declares a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Request is one streaming generation call.
type Request struct {
	// Model is the upstream model name (e.g. "claude-3-haiku-20240307").
	Model string
	// Instructions is the system prompt.
	Instructions string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
}

// ChunkType enumerates the incremental outputs of a model stream.
type ChunkType int

const (
	ChunkText ChunkType = iota
	// ChunkToolCallStart announces a tool call whose arguments will stream.
	ChunkToolCallStart
	ChunkToolCallDelta
	// ChunkToolCall carries a complete tool call.
	ChunkToolCall
	// ChunkFinish ends the step; FinishReason is set.
	ChunkFinish
)

// Chunk is one incremental output of a model stream.
type Chunk struct {
	Type         ChunkType
	Text         string
	ToolCallID   string
	ToolName     string
	ArgsDelta    string
	ToolCall     *domain.ToolCall
	FinishReason string
	// ThoughtSignature accompanies text or tool calls from some backends.
	ThoughtSignature []byte
}

// Provider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "openai").
	Name() string

	// Stream sends a conversation context to the LLM and returns a stream of
	// incremental chunks. Errors that occur before any output is produced may
	// surface either here or from the first call to Next.
	Stream(ctx context.Context, req Request) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// Next blocks until the next chunk is available. It returns io.EOF after
	// the final chunk.
	Next() (Chunk, error)

	// Close releases resources associated with this stream and aborts the
	// upstream connection if it is still open.
	Close() error
}

// ParseArgs decodes streamed tool arguments. Empty input yields an empty
// object.
func ParseArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decoding tool arguments: %w", err)
	}
	return args, nil
}
