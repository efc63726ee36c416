package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
	"github.com/zaidmukaddam/openlord.ai/pkg/tools"
)

// step scripts one model call. A nil chunk list with block set makes the
// stream wait for its context.
type step struct {
	chunks   []model.Chunk
	err      error // returned after chunks
	startErr error // returned from Stream
	block    bool
}

// MockProvider replays scripted steps and records every request.
type MockProvider struct {
	name  string
	mu    sync.Mutex
	steps []step
	reqs  []model.Request
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Stream(ctx context.Context, req model.Request) (model.ModelStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	var s step
	if len(p.steps) > 0 {
		s, p.steps = p.steps[0], p.steps[1:]
	}
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &MockStream{ctx: ctx, step: s}, nil
}

func (p *MockProvider) requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Request(nil), p.reqs...)
}

type MockStream struct {
	ctx  context.Context
	step step
}

func (s *MockStream) Next() (model.Chunk, error) {
	if len(s.step.chunks) > 0 {
		c := s.step.chunks[0]
		s.step.chunks = s.step.chunks[1:]
		return c, nil
	}
	if s.step.block {
		<-s.ctx.Done()
		return model.Chunk{}, s.ctx.Err()
	}
	if s.step.err != nil {
		return model.Chunk{}, s.step.err
	}
	return model.Chunk{}, io.EOF
}

func (s *MockStream) Close() error { return nil }

// fakeTool answers with a fixed payload after delay.
type fakeTool struct {
	name   domain.ToolName
	delay  time.Duration
	result any
	err    error
	mu     sync.Mutex
	calls  int
}

func (f *fakeTool) Name() domain.ToolName { return f.name }
func (f *fakeTool) Description() string { return string(f.name) }
func (f *fakeTool) Schema() *model.Schema { return &model.Schema{Type: "object"} }

func (f *fakeTool) Execute(ctx context.Context, args tools.Args) (any, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func text(s string) model.Chunk { return model.Chunk{Type: model.ChunkText, Text: s} }

func finish(reason string) model.Chunk {
	return model.Chunk{Type: model.ChunkFinish, FinishReason: reason}
}

func toolCall(id, name string, input map[string]any) model.Chunk {
	return model.Chunk{Type: model.ChunkToolCall, ToolCallID: id, ToolName: name, ToolCall: &domain.ToolCall{ID: id, Name: name, Input: input}}
}

var parisArgs = map[string]any{"city": "Paris", "latitude": 48.86, "longitude": 2.35}

func newOrchestrator(p *MockProvider, opts Options, ts ...tools.Tool) *Orchestrator {
	models := model.NewRegistry(domain.ModelClaude3Haiku, false)
	models.Register(domain.ModelGPT4oMini, "gpt-4o-mini", p)
	models.Register(domain.ModelClaude3Haiku, "claude-3-haiku-20240307", &MockProvider{name: "anthropic", steps: []step{{chunks: []model.Chunk{text("hi"), finish("stop")}}}})
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	}
	return New(models, tools.NewRegistry(ts...), opts)
}

func userTurn(text string) Turn {
	return Turn{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: text}},
		Config:   domain.GenerationConfig{Model: domain.ModelGPT4oMini, Temperature: 0.5},
	}
}

func collect(t *testing.T, ch <-chan domain.Event) []domain.Event {
	t.Helper()
	var out []domain.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func requireWellFormed(t *testing.T, events []domain.Event) {
	t.Helper()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].Seq, events[i-1].Seq)
	}
	last := events[len(events)-1]
	require.True(t, last.IsTerminal(), "stream must end with finish, got %s", last.Type)
	for _, ev := range events[:len(events)-1] {
		require.False(t, ev.IsTerminal())
	}
}

func types(events []domain.Event) []domain.EventType {
	var out []domain.EventType
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestTextOnlyTurn(t *testing.T) {
	p := &MockProvider{name: "openai", steps: []step{{chunks: []model.Chunk{text("Hello"), text(", world"), finish(domain.FinishStop)}}}}
	o := newOrchestrator(p, Options{}, &fakeTool{name: domain.ToolWeather}, &fakeTool{name: domain.ToolWebSearch})

	resp, err := o.Start(t.Context(), userTurn("hi"))
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Backend.Provider.Name())

	events := collect(t, resp.Events)
	requireWellFormed(t, events)
	assert.Equal(t, []domain.EventType{domain.EventTextDelta, domain.EventTextDelta, domain.EventStepFinish, domain.EventFinish}, types(events))
	assert.Equal(t, domain.FinishStop, events[3].FinishReason)

	reqs := p.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o-mini", reqs[0].Model)
	assert.Equal(t, 500, reqs[0].MaxTokens)
	assert.Equal(t, 0.5, reqs[0].Temperature)
	assert.Len(t, reqs[0].Tools, 2)
	assert.Contains(t, reqs[0].Instructions, "Saturday, June 1, 2024")
}

func TestToolResultsMatchedByCallID(t *testing.T) {
	p := &MockProvider{name: "openai", steps: []step{
		{chunks: []model.Chunk{
			toolCall("search-1", "web_search", map[string]any{"query": "paris events", "maxResults": 5.0, "searchDepth": "basic"}),
			toolCall("weather-1", "weatherTool", parisArgs),
			finish(domain.FinishToolCalls),
		}},
		{chunks: []model.Chunk{text("It is sunny and there is a festival."), finish(domain.FinishStop)}},
	}}
	slow := &fakeTool{name: domain.ToolWebSearch, delay: 100 * time.Millisecond, result: map[string]any{"results": []any{}}}
	fast := &fakeTool{name: domain.ToolWeather, result: map[string]any{"temperature": 21.0}}
	o := newOrchestrator(p, Options{}, slow, fast)

	resp, err := o.Start(t.Context(), userTurn("weather and events in Paris?"))
	require.NoError(t, err)
	events := collect(t, resp.Events)
	requireWellFormed(t, events)

	var results []domain.Event
	for _, ev := range events {
		if ev.Type == domain.EventToolResult {
			results = append(results, ev)
		}
	}
	require.Len(t, results, 2)
	assert.Equal(t, "weather-1", results[0].ToolCallID, "faster tool reports first")
	assert.JSONEq(t, `{"temperature":21}`, string(results[0].Result))
	assert.Equal(t, "search-1", results[1].ToolCallID)
	assert.JSONEq(t, `{"results":[]}`, string(results[1].Result))

	reqs := p.requests()
	require.Len(t, reqs, 2)
	history := reqs[1].Messages
	require.Len(t, history, 3)
	assert.Equal(t, domain.RoleAssistant, history[1].Role)
	assert.Len(t, history[1].Content, 2)
	assert.Equal(t, domain.RoleTool, history[2].Role)
	assert.Equal(t, "search-1", history[2].Content[0].ToolResult.ToolCallID, "history keeps call order")
	assert.Equal(t, "weather-1", history[2].Content[1].ToolResult.ToolCallID)
}

func TestToolFailureIsIsolated(t *testing.T) {
	p := &MockProvider{name: "openai", steps: []step{
		{chunks: []model.Chunk{text("Checking."), toolCall("w1", "weatherTool", parisArgs), finish(domain.FinishToolCalls)}},
		{chunks: []model.Chunk{text("The weather service is down."), finish(domain.FinishStop)}},
	}}
	o := newOrchestrator(p, Options{}, &fakeTool{name: domain.ToolWeather, err: errors.New("service unavailable")})

	resp, err := o.Start(t.Context(), userTurn("weather?"))
	require.NoError(t, err)
	events := collect(t, resp.Events)
	requireWellFormed(t, events)

	assert.Equal(t, []domain.EventType{
		domain.EventTextDelta, domain.EventToolCall, domain.EventToolResult, domain.EventStepFinish,
		domain.EventTextDelta, domain.EventStepFinish, domain.EventFinish,
	}, types(events))
	assert.True(t, events[2].IsError)
	assert.JSONEq(t, `{"error":"service unavailable"}`, string(events[2].Result))
	assert.True(t, events[3].IsContinued)
	assert.Equal(t, domain.FinishStop, events[6].FinishReason)
}

func TestMalformedArgumentsNotExecuted(t *testing.T) {
	p := &MockProvider{name: "openai", steps: []step{
		{chunks: []model.Chunk{toolCall("w1", "weatherTool", map[string]any{"city": "Paris", "latitude": "north"}), finish(domain.FinishToolCalls)}},
		{chunks: []model.Chunk{text("Sorry."), finish(domain.FinishStop)}},
	}}
	weather := &fakeTool{name: domain.ToolWeather}
	o := newOrchestrator(p, Options{}, weather)

	resp, err := o.Start(t.Context(), userTurn("weather?"))
	require.NoError(t, err)
	events := collect(t, resp.Events)
	requireWellFormed(t, events)

	require.Equal(t, domain.EventToolResult, events[1].Type)
	assert.True(t, events[1].IsError)
	assert.Contains(t, string(events[1].Result), "latitude")
	assert.Zero(t, weather.calls)
}

func TestRoundTripLimit(t *testing.T) {
	var steps []step
	for range 10 {
		steps = append(steps, step{chunks: []model.Chunk{toolCall("", "weatherTool", parisArgs), finish(domain.FinishToolCalls)}})
	}
	p := &MockProvider{name: "openai", steps: steps}
	o := newOrchestrator(p, Options{MaxRoundTrips: 4}, &fakeTool{name: domain.ToolWeather, result: "ok"})

	resp, err := o.Start(t.Context(), userTurn("loop"))
	require.NoError(t, err)
	events := collect(t, resp.Events)
	requireWellFormed(t, events)

	assert.Len(t, p.requests(), 5, "one initial call plus four round trips")
	var stepFinishes []domain.Event
	ids := map[string]bool{}
	for _, ev := range events {
		switch ev.Type {
		case domain.EventStepFinish:
			stepFinishes = append(stepFinishes, ev)
		case domain.EventToolCall:
			assert.NotEmpty(t, ev.ToolCallID)
			ids[ev.ToolCallID] = true
		}
	}
	require.Len(t, stepFinishes, 5)
	assert.True(t, stepFinishes[3].IsContinued)
	assert.False(t, stepFinishes[4].IsContinued)
	assert.Len(t, ids, 5, "generated call ids are unique")
	assert.Equal(t, domain.FinishToolCalls, events[len(events)-1].FinishReason)
}

func TestMidStreamError(t *testing.T) {
	p := &MockProvider{name: "openai", steps: []step{{chunks: []model.Chunk{text("partial")}, err: errors.New("connection reset")}}}
	o := newOrchestrator(p, Options{})

	resp, err := o.Start(t.Context(), userTurn("hi"))
	require.NoError(t, err)
	events := collect(t, resp.Events)
	requireWellFormed(t, events)

	assert.Equal(t, []domain.EventType{domain.EventTextDelta, domain.EventError, domain.EventFinish}, types(events))
	assert.Contains(t, events[1].Error, "connection reset")
	assert.Equal(t, domain.FinishError, events[2].FinishReason)
}

func TestTimeout(t *testing.T) {
	p := &MockProvider{name: "openai", steps: []step{{chunks: []model.Chunk{text("thinking")}, block: true}}}
	o := newOrchestrator(p, Options{Timeout: 50 * time.Millisecond})

	resp, err := o.Start(t.Context(), userTurn("hi"))
	require.NoError(t, err)
	events := collect(t, resp.Events)
	requireWellFormed(t, events)

	require.Len(t, events, 3)
	assert.Equal(t, TimeoutMessage, events[1].Error)
	assert.Equal(t, domain.FinishError, events[2].FinishReason)
}

func TestClientCancellation(t *testing.T) {
	p := &MockProvider{name: "openai", steps: []step{{chunks: []model.Chunk{text("thinking")}, block: true}}}
	o := newOrchestrator(p, Options{})

	ctx, cancel := context.WithCancel(t.Context())
	resp, err := o.Start(ctx, userTurn("hi"))
	require.NoError(t, err)
	<-resp.Events
	cancel()
	for range resp.Events {
	}
}

func TestUpstreamFailures(t *testing.T) {
	t.Run("stream open", func(t *testing.T) {
		p := &MockProvider{name: "openai", steps: []step{{startErr: errors.New("401 unauthorized")}}}
		_, err := newOrchestrator(p, Options{}).Start(t.Context(), userTurn("hi"))
		assert.ErrorIs(t, err, ErrUpstream)
	})
	t.Run("first chunk", func(t *testing.T) {
		p := &MockProvider{name: "openai", steps: []step{{err: errors.New("500 internal")}}}
		_, err := newOrchestrator(p, Options{}).Start(t.Context(), userTurn("hi"))
		assert.ErrorIs(t, err, ErrUpstream)
		assert.NotErrorIs(t, err, context.Canceled)
		assert.Contains(t, err.Error(), "500 internal")
	})
	t.Run("deadline before first chunk", func(t *testing.T) {
		p := &MockProvider{name: "openai", steps: []step{{block: true}}}
		_, err := newOrchestrator(p, Options{Timeout: 20 * time.Millisecond}).Start(t.Context(), userTurn("hi"))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrUpstream)
	})
	t.Run("backend not configured", func(t *testing.T) {
		turn := userTurn("hi")
		turn.Config.Model = domain.ModelGemini15Flash
		_, err := newOrchestrator(&MockProvider{name: "openai"}, Options{}).Start(t.Context(), turn)
		assert.ErrorIs(t, err, model.ErrBackendUnavailable)
	})
}

func TestUnknownModelFallsBack(t *testing.T) {
	turn := userTurn("hi")
	turn.Config.Model = "gpt-5-ultra"
	resp, err := newOrchestrator(&MockProvider{name: "openai"}, Options{}).Start(t.Context(), turn)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Backend.Provider.Name())
	assert.True(t, resp.Backend.Fallback)
	events := collect(t, resp.Events)
	assert.Equal(t, "hi", events[0].Text)
}

func TestEventJSON(t *testing.T) {
	b, err := json.Marshal(domain.Event{Seq: 3, Type: domain.EventToolResult, ToolCallID: "c1", Result: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":3,"type":"tool-result","toolCallId":"c1","result":{"a":1}}`, string(b))
}
