// Package openai implements the chat backend for OpenAI models.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

// UpstreamModel is the OpenAI model served for "gpt-4o-mini".
const UpstreamModel = "gpt-4o-mini"

// Config configures the OpenAI provider. BaseURL and HTTPClient are optional.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider implements model.Provider on the OpenAI chat completions API.
type Provider struct {
	client openai.Client
}

var _ model.Provider = (*Provider)(nil)

// New creates a new OpenAI provider.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Provider{client: openai.NewClient(opts...)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

// Stream starts a streaming chat completion. Tool call arguments arrive as
// deltas and are emitted complete once the upstream stream ends.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	slog.Debug("OpenAI.Stream", "model", req.Model, "messageCount", len(req.Messages))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    convertMessages(req.Instructions, req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, t := range req.Tools {
		fn := openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
		}
		if t.Parameters != nil {
			fn.Parameters = openai.FunctionParameters(t.Parameters.Map())
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := p.client.Chat.Completions.NewStreaming(streamCtx, params)
	return &openaiStream{
		stream: s,
		cancel: cancel,
		calls:  make(map[int64]*pendingCall),
	}, nil
}

func convertMessages(instructions string, messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if instructions != "" {
		out = append(out, openai.SystemMessage(instructions))
	}
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleUser:
			var parts []openai.ChatCompletionContentPartUnionParam
			for _, c := range msg.Content {
				switch c.Type {
				case domain.ContentTypeText:
					parts = append(parts, openai.TextContentPart(c.Text))
				case domain.ContentTypeImage:
					if c.Image == nil {
						continue
					}
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: imageURL(c.Image),
					}))
				}
			}
			if len(parts) > 0 {
				out = append(out, openai.UserMessage(parts))
			}
		case domain.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			for _, c := range msg.Content {
				switch c.Type {
				case domain.ContentTypeText:
					assistant.Content.OfString = openai.String(c.Text)
				case domain.ContentTypeToolCall:
					if c.ToolCall == nil {
						continue
					}
					assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
						ID: c.ToolCall.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      c.ToolCall.Name,
							Arguments: argumentsJSON(c.ToolCall.Input),
						},
					})
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case domain.RoleTool:
			for _, c := range msg.Content {
				if c.Type == domain.ContentTypeToolResult && c.ToolResult != nil {
					out = append(out, openai.ToolMessage(string(c.ToolResult.Content), c.ToolResult.ToolCallID))
				}
			}
		}
	}
	return out
}

func argumentsJSON(input map[string]any) string {
	if input == nil {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func imageURL(img *model.Image) string {
	if len(img.Data) > 0 {
		return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	}
	return img.URL
}

// pendingCall accumulates a tool call streamed across chunks.
type pendingCall struct {
	id   string
	name string
	args string
}

type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cancel context.CancelFunc

	queue        []model.Chunk
	calls        map[int64]*pendingCall
	finishReason string
	done         bool
}

func (s *openaiStream) Next() (model.Chunk, error) {
	for len(s.queue) == 0 {
		if s.done {
			return model.Chunk{}, io.EOF
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return model.Chunk{}, fmt.Errorf("openai stream: %w", err)
			}
			s.done = true
			s.flushCalls()
			reason := s.finishReason
			if reason == "" {
				reason = domain.FinishStop
			}
			s.queue = append(s.queue, model.Chunk{Type: model.ChunkFinish, FinishReason: reason})
			break
		}
		s.collect(s.stream.Current())
	}
	c := s.queue[0]
	s.queue = s.queue[1:]
	return c, nil
}

func (s *openaiStream) collect(chunk openai.ChatCompletionChunk) {
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			s.queue = append(s.queue, model.Chunk{Type: model.ChunkText, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			call, ok := s.calls[tc.Index]
			if !ok {
				call = &pendingCall{id: tc.ID, name: tc.Function.Name}
				s.calls[tc.Index] = call
				s.queue = append(s.queue, model.Chunk{
					Type:       model.ChunkToolCallStart,
					ToolCallID: call.id,
					ToolName:   call.name,
				})
			}
			if tc.Function.Arguments != "" {
				call.args += tc.Function.Arguments
				s.queue = append(s.queue, model.Chunk{
					Type:       model.ChunkToolCallDelta,
					ToolCallID: call.id,
					ToolName:   call.name,
					ArgsDelta:  tc.Function.Arguments,
				})
			}
		}
		if choice.FinishReason != "" {
			s.finishReason = finishReason(choice.FinishReason)
		}
	}
}

// flushCalls emits the accumulated tool calls in index order.
func (s *openaiStream) flushCalls() {
	indexes := make([]int64, 0, len(s.calls))
	for i := range s.calls {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	for _, i := range indexes {
		call := s.calls[i]
		input, err := model.ParseArgs(call.args)
		if err != nil {
			slog.Warn("Malformed tool arguments", "toolCallID", call.id, "tool", call.name, "error", err)
		}
		s.queue = append(s.queue, model.Chunk{
			Type:       model.ChunkToolCall,
			ToolCallID: call.id,
			ToolName:   call.name,
			ToolCall:   &domain.ToolCall{ID: call.id, Name: call.name, Input: input},
		})
	}
	if len(s.calls) > 0 {
		s.finishReason = domain.FinishToolCalls
	}
	s.calls = map[int64]*pendingCall{}
}

func finishReason(r string) string {
	switch r {
	case "stop":
		return domain.FinishStop
	case "length":
		return domain.FinishLength
	case "tool_calls", "function_call":
		return domain.FinishToolCalls
	default:
		return r
	}
}

func (s *openaiStream) Close() error {
	s.cancel()
	return s.stream.Close()
}
