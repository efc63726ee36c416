// Package anthropic implements the chat backend for Claude models.
package anthropic

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

// UpstreamModel is the Claude model served for "claude-3-haiku" and for
// unrecognized model ids.
const UpstreamModel = "claude-3-haiku-20240307"

// Config configures the Anthropic provider. BaseURL and HTTPClient are
// optional.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider implements model.Provider on the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
}

var _ model.Provider = (*Provider)(nil)

// New creates a new Anthropic provider.
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
	return &Provider{client: anthropic.NewClient(opts...)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "anthropic" }

// Stream starts a streaming Messages request. MaxTokens defaults to 500 when
// unset, since the API requires it.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	slog.Debug("Anthropic.Stream", "model", req.Model, "messageCount", len(req.Messages))

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 500
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   maxTokens,
		Messages:    convertMessages(req.Messages),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	for _, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{}
		if t.Parameters != nil {
			if props, ok := t.Parameters.Map()["properties"]; ok {
				schema.Properties = props
			}
			schema.Required = t.Parameters.Required
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := p.client.Messages.NewStreaming(streamCtx, params)
	return &anthropicStream{
		stream: s,
		cancel: cancel,
		blocks: make(map[int64]*toolBlock),
	}, nil
}

// convertMessages maps messages to Anthropic turns. Tool results travel in
// user turns and adjacent turns of the same role are merged.
func convertMessages(messages []model.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range msg.Content {
			switch c.Type {
			case domain.ContentTypeText:
				if c.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(c.Text))
				}
			case domain.ContentTypeImage:
				if c.Image == nil {
					continue
				}
				if len(c.Image.Data) > 0 {
					blocks = append(blocks, anthropic.NewImageBlockBase64(c.Image.MIMEType, base64.StdEncoding.EncodeToString(c.Image.Data)))
				} else {
					blocks = append(blocks, anthropic.NewTextBlock("[image: "+c.Image.URL+"]"))
				}
			case domain.ContentTypeToolCall:
				if c.ToolCall != nil {
					input := c.ToolCall.Input
					if input == nil {
						input = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolCall.ID, input, c.ToolCall.Name))
				}
			case domain.ContentTypeToolResult:
				if c.ToolResult != nil {
					blocks = append(blocks, anthropic.NewToolResultBlock(c.ToolResult.ToolCallID, string(c.ToolResult.Content), c.ToolResult.IsError))
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if msg.Role == domain.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

type toolBlock struct {
	id   string
	name string
	args string
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cancel context.CancelFunc

	queue        []model.Chunk
	blocks       map[int64]*toolBlock
	finishReason string
	done         bool
}

func (s *anthropicStream) Next() (model.Chunk, error) {
	for len(s.queue) == 0 {
		if s.done {
			return model.Chunk{}, io.EOF
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return model.Chunk{}, fmt.Errorf("anthropic stream: %w", err)
			}
			s.finish()
			break
		}
		s.collect(s.stream.Current())
	}
	c := s.queue[0]
	s.queue = s.queue[1:]
	return c, nil
}

func (s *anthropicStream) collect(event anthropic.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if ev.ContentBlock.Type == "tool_use" {
			b := &toolBlock{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			s.blocks[ev.Index] = b
			s.queue = append(s.queue, model.Chunk{Type: model.ChunkToolCallStart, ToolCallID: b.id, ToolName: b.name})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text != "" {
				s.queue = append(s.queue, model.Chunk{Type: model.ChunkText, Text: ev.Delta.Text})
			}
		case "input_json_delta":
			b, ok := s.blocks[ev.Index]
			if !ok || ev.Delta.PartialJSON == "" {
				return
			}
			b.args += ev.Delta.PartialJSON
			s.queue = append(s.queue, model.Chunk{
				Type:       model.ChunkToolCallDelta,
				ToolCallID: b.id,
				ToolName:   b.name,
				ArgsDelta:  ev.Delta.PartialJSON,
			})
		}
	case anthropic.ContentBlockStopEvent:
		b, ok := s.blocks[ev.Index]
		if !ok {
			return
		}
		delete(s.blocks, ev.Index)
		input, err := model.ParseArgs(b.args)
		if err != nil {
			slog.Warn("Malformed tool arguments", "toolCallID", b.id, "tool", b.name, "error", err)
		}
		s.finishReason = domain.FinishToolCalls
		s.queue = append(s.queue, model.Chunk{
			Type:       model.ChunkToolCall,
			ToolCallID: b.id,
			ToolName:   b.name,
			ToolCall:   &domain.ToolCall{ID: b.id, Name: b.name, Input: input},
		})
	case anthropic.MessageDeltaEvent:
		if ev.Delta.StopReason != "" {
			s.finishReason = stopReason(ev.Delta.StopReason)
		}
	case anthropic.MessageStopEvent:
		s.finish()
	}
}

func (s *anthropicStream) finish() {
	if s.done {
		return
	}
	s.done = true
	reason := s.finishReason
	if reason == "" {
		reason = domain.FinishStop
	}
	s.queue = append(s.queue, model.Chunk{Type: model.ChunkFinish, FinishReason: reason})
}

func stopReason(r anthropic.StopReason) string {
	switch r {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return domain.FinishStop
	case anthropic.StopReasonMaxTokens:
		return domain.FinishLength
	case anthropic.StopReasonToolUse:
		return domain.FinishToolCalls
	default:
		return string(r)
	}
}

func (s *anthropicStream) Close() error {
	s.cancel()
	return s.stream.Close()
}
