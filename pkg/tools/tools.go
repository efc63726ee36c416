package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

// Tool defines the interface that all chat tools must implement.
type Tool interface {
	Name() domain.ToolName
	Description() string
	Schema() *model.Schema
	Execute(ctx context.Context, args Args) (any, error)
}

// Registry manages the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[domain.ToolName]Tool
}

// NewRegistry creates a new registry holding ts.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[domain.ToolName]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name domain.ToolName) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Definitions returns the tool declarations sent to the model.
func (r *Registry) Definitions() []model.ToolSpec {
	var specs []model.ToolSpec
	for _, t := range r.List() {
		specs = append(specs, model.ToolSpec{
			Name:        string(t.Name()),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return specs
}

// Run validates and executes one tool call. Failures are reported in the
// result with IsError set and an {"error": ...} payload.
func (r *Registry) Run(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	name := domain.ToolName(call.Name)
	result := domain.ToolResult{ToolCallID: call.ID, Name: call.Name}

	out, err := r.execute(ctx, name, call.Input)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			slog.Warn("Rejected tool call", "toolCallId", call.ID, "tool", call.Name, "error", err)
		default:
			slog.Error("Tool execution failed", "toolCallId", call.ID, "tool", call.Name, "error", err)
		}
		result.IsError = true
		result.Content = errorPayload(err)
		return result
	}

	b, err := json.Marshal(out)
	if err != nil {
		result.IsError = true
		result.Content = errorPayload(fmt.Errorf("encoding result: %w", err))
		return result
	}
	result.Content = b
	return result
}

func (r *Registry) execute(ctx context.Context, name domain.ToolName, input map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	args, err := DecodeArgs(name, input)
	if err != nil {
		return nil, err
	}
	slog.Debug("Executing tool", "tool", name, "args", args)
	return t.Execute(ctx, args)
}

func errorPayload(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
