package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

// UpstreamModel is the Gemini model served for "gemini-1.5-flash".
const UpstreamModel = "models/gemini-1.5-flash-latest"

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// Config configures the Gemini provider. BaseURL and HTTPClient are optional.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a new Gemini provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// safetySettings disables blocking for every adjustable harm category.
func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		out = append(out, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return out
}

// Stream sends a conversation context to the LLM and returns a stream.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	slog.Debug("Gemini.Stream", "model", req.Model, "messageCount", len(req.Messages))

	config := &genai.GenerateContentConfig{
		Tools:           buildToolDeclarations(req.Tools),
		SafetySettings:  safetySettings(),
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	seq := p.client.Models.GenerateContentStream(streamCtx, req.Model, convertMessages(req.Messages), config)
	next, stop := iter.Pull2(seq)

	return &geminiStream{
		next:   next,
		stop:   stop,
		cancel: cancel,
	}, nil
}

// convertMessages maps provider-neutral messages to genai contents.
func convertMessages(messages []model.Message) []*genai.Content {
	var contents []*genai.Content
	toolNameMap := make(map[string]string) // tool call ID -> name

	for _, msg := range messages {
		var parts []*genai.Part
		for _, c := range msg.Content {
			switch c.Type {
			case domain.ContentTypeText:
				parts = append(parts, &genai.Part{
					Text:             c.Text,
					ThoughtSignature: c.ThoughtSignature,
				})
			case domain.ContentTypeImage:
				if c.Image == nil {
					continue
				}
				if len(c.Image.Data) > 0 {
					parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: c.Image.MIMEType, Data: c.Image.Data}})
				} else {
					parts = append(parts, &genai.Part{FileData: &genai.FileData{MIMEType: c.Image.MIMEType, FileURI: c.Image.URL}})
				}
			case domain.ContentTypeToolCall:
				if c.ToolCall != nil {
					toolNameMap[c.ToolCall.ID] = c.ToolCall.Name
					parts = append(parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							Name: c.ToolCall.Name,
							Args: c.ToolCall.Input,
							ID:   c.ToolCall.ID,
						},
						ThoughtSignature: c.ThoughtSignature,
					})
				}
			case domain.ContentTypeToolResult:
				if c.ToolResult != nil {
					name := c.ToolResult.Name
					if name == "" {
						name = toolNameMap[c.ToolResult.ToolCallID]
					}
					key := "result"
					if c.ToolResult.IsError {
						key = "error"
					}
					var payload any
					if err := json.Unmarshal(c.ToolResult.Content, &payload); err != nil {
						payload = string(c.ToolResult.Content)
					}
					parts = append(parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{
							Name:     name,
							ID:       c.ToolResult.ToolCallID,
							Response: map[string]any{key: payload},
						},
					})
				}
			}
		}

		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}
	return contents
}

func buildToolDeclarations(specs []model.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  toGenaiSchema(s.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGenaiSchema(s *model.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGenaiSchema(p)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}

// geminiStream wraps the Gemini streaming iterator.
type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc

	queue        []model.Chunk
	finishReason string
	sawToolCall  bool
	done         bool
}

func (s *geminiStream) Next() (model.Chunk, error) {
	for len(s.queue) == 0 {
		if s.done {
			return model.Chunk{}, io.EOF
		}
		resp, err, ok := s.next()
		if !ok {
			s.done = true
			reason := s.finishReason
			if s.sawToolCall {
				reason = domain.FinishToolCalls
			}
			if reason == "" {
				reason = domain.FinishStop
			}
			s.queue = append(s.queue, model.Chunk{Type: model.ChunkFinish, FinishReason: reason})
			break
		}
		if err != nil {
			return model.Chunk{}, err
		}
		if resp != nil {
			s.collect(resp)
		}
	}
	c := s.queue[0]
	s.queue = s.queue[1:]
	return c, nil
}

func (s *geminiStream) collect(resp *genai.GenerateContentResponse) {
	for _, cand := range resp.Candidates {
		if cand.FinishReason != "" {
			s.finishReason = finishReason(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				s.queue = append(s.queue, model.Chunk{
					Type:             model.ChunkText,
					Text:             part.Text,
					ThoughtSignature: part.ThoughtSignature,
				})
			}
			if fc := part.FunctionCall; fc != nil {
				id := fc.ID
				if id == "" {
					id = "call-" + uuid.New().String()
				}
				s.sawToolCall = true
				s.queue = append(s.queue, model.Chunk{
					Type:       model.ChunkToolCall,
					ToolCallID: id,
					ToolName:   fc.Name,
					ToolCall: &domain.ToolCall{
						ID:    id,
						Name:  fc.Name,
						Input: fc.Args,
					},
					ThoughtSignature: part.ThoughtSignature,
				})
			}
		}
	}
}

func finishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return domain.FinishStop
	case genai.FinishReasonMaxTokens:
		return domain.FinishLength
	default:
		return string(r)
	}
}

func (s *geminiStream) Close() error {
	s.cancel()
	s.stop()
	return nil
}
