// Package orchestrator runs one chat turn: it selects the model backend,
// streams generation, executes tool calls and re-prompts the model with
// their results, and emits everything as a single ordered event stream.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
	"github.com/zaidmukaddam/openlord.ai/pkg/tools"
)

// ErrUpstream is returned by Start when the model backend fails before any
// output is produced.
var ErrUpstream = errors.New("upstream model request failed")

// TimeoutMessage is the error event text emitted when the turn budget expires.
const TimeoutMessage = "timeout"

// Options tunes the orchestrator. Zero values select the defaults.
type Options struct {
	MaxTokens     int
	MaxRoundTrips int
	// Timeout bounds the whole turn including tool execution.
	Timeout time.Duration
	Persona string
	Now     func() time.Time
}

// Turn is one client request.
type Turn struct {
	Messages []domain.Message
	Config   domain.GenerationConfig
	Location domain.Location
}

// Response is a started turn.
type Response struct {
	Backend model.Backend
	// Events is closed after the finish event, or early if the caller's
	// context is canceled.
	Events <-chan domain.Event
}

// Orchestrator is the server-side turn executor.
type Orchestrator struct {
	models *model.Registry
	tools  *tools.Registry
	opts   Options
}

// New creates a new Orchestrator.
func New(models *model.Registry, tools *tools.Registry, opts Options) *Orchestrator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	if opts.MaxRoundTrips <= 0 {
		opts.MaxRoundTrips = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{models: models, tools: tools, opts: opts}
}

// Start resolves the backend and opens the first model stream. Errors before
// the first chunk are returned directly; later failures are reported in the
// event stream, which always ends with a finish event unless ctx is canceled.
func (o *Orchestrator) Start(ctx context.Context, turn Turn) (*Response, error) {
	backend, err := o.models.Resolve(turn.Config.Model)
	if err != nil {
		return nil, err
	}
	slog.Debug("Starting chat turn",
		"model", turn.Config.Model,
		"backend", backend.Provider.Name(),
		"temperature", turn.Config.Temperature,
		"messageCount", len(turn.Messages))

	runCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)

	req := model.Request{
		Model:        backend.UpstreamModel,
		Instructions: BuildInstructions(o.opts.Persona, turn.Location, o.opts.Now()),
		Messages:     ConvertMessages(turn.Messages),
		Tools:        o.tools.Definitions(),
		Temperature:  turn.Config.Temperature,
		MaxTokens:    o.opts.MaxTokens,
	}

	stream, err := backend.Provider.Stream(runCtx, req)
	if err != nil {
		err = startError(runCtx, err)
		cancel()
		return nil, err
	}
	first, err := stream.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		err = startError(runCtx, err)
		stream.Close()
		cancel()
		return nil, err
	}

	events := make(chan domain.Event, 64)
	r := &run{
		parent:   ctx,
		ctx:      runCtx,
		cancel:   cancel,
		backend:  backend,
		tools:    o.tools,
		maxTrips: o.opts.MaxRoundTrips,
		events:   events,
	}
	var pending *model.Chunk
	if err == nil {
		pending = &first
	}
	go r.loop(req, stream, pending)

	return &Response{Backend: backend, Events: events}, nil
}

// startError classifies a failure before the first chunk. It must run before
// the turn context is canceled.
func startError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("starting model stream: %w", context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// errStopped signals that the consumer went away.
var errStopped = errors.New("event consumer stopped")

// run is the state of one in-progress turn.
type run struct {
	// parent is the caller's context; ctx additionally carries the turn budget.
	parent   context.Context
	ctx      context.Context
	cancel   context.CancelFunc
	backend  model.Backend
	tools    *tools.Registry
	maxTrips int

	mu     sync.Mutex
	seq    int64
	events chan<- domain.Event
}

// emit delivers ev unless the caller has gone away.
func (r *run) emit(ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ev.Seq = r.seq
	select {
	case r.events <- ev:
		return nil
	case <-r.parent.Done():
		return errStopped
	}
}

func (r *run) loop(req model.Request, stream model.ModelStream, first *model.Chunk) {
	defer close(r.events)
	defer r.cancel()

	reason, err := r.rounds(req, stream, first)
	if err == nil {
		r.emit(domain.Event{Type: domain.EventFinish, FinishReason: reason})
		return
	}
	if errors.Is(err, errStopped) || r.parent.Err() != nil {
		slog.Debug("Chat turn abandoned by client", "error", err)
		return
	}

	msg := err.Error()
	if errors.Is(r.ctx.Err(), context.DeadlineExceeded) {
		msg = TimeoutMessage
	}
	slog.Error("Chat turn failed", "backend", r.backend.Provider.Name(), "error", err)
	if r.emit(domain.Event{Type: domain.EventError, Error: msg}) != nil {
		return
	}
	r.emit(domain.Event{Type: domain.EventFinish, FinishReason: domain.FinishError})
}

// rounds drives the model/tool loop and returns the final finish reason.
func (r *run) rounds(req model.Request, stream model.ModelStream, first *model.Chunk) (string, error) {
	history := req.Messages
	for trip := 0; ; trip++ {
		assistant, calls, reason, err := r.pump(stream, first)
		stream.Close()
		if err != nil {
			return "", err
		}
		if len(calls) == 0 {
			return reason, r.emit(domain.Event{Type: domain.EventStepFinish, FinishReason: reason})
		}

		results, err := r.runTools(calls)
		if err != nil {
			return "", err
		}
		if err := r.ctx.Err(); err != nil {
			return "", err
		}

		continued := trip < r.maxTrips
		if err := r.emit(domain.Event{Type: domain.EventStepFinish, FinishReason: reason, IsContinued: continued}); err != nil {
			return "", err
		}
		if !continued {
			slog.Warn("Round trip limit reached", "limit", r.maxTrips)
			return reason, nil
		}

		history = append(history, assistant, toolMessage(results))
		next := req
		next.Messages = history
		stream, err = r.backend.Provider.Stream(r.ctx, next)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		first = nil
	}
}

// pump forwards one model step to the event stream and collects its output.
func (r *run) pump(stream model.ModelStream, first *model.Chunk) (model.Message, []domain.ToolCall, string, error) {
	var (
		text      strings.Builder
		signature []byte
		calls     []domain.ToolCall
		content   []model.Content
		reason    = domain.FinishStop
	)
	for {
		var c model.Chunk
		if first != nil {
			c, first = *first, nil
		} else {
			var err error
			c, err = stream.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return model.Message{}, nil, "", err
			}
		}

		var ev *domain.Event
		switch c.Type {
		case model.ChunkText:
			if c.Text == "" {
				continue
			}
			text.WriteString(c.Text)
			if len(c.ThoughtSignature) > 0 {
				signature = c.ThoughtSignature
			}
			ev = &domain.Event{Type: domain.EventTextDelta, Text: c.Text}
		case model.ChunkToolCallStart:
			ev = &domain.Event{Type: domain.EventToolCallStreamingStart, ToolCallID: c.ToolCallID, ToolName: domain.ToolName(c.ToolName)}
		case model.ChunkToolCallDelta:
			ev = &domain.Event{Type: domain.EventToolCallDelta, ToolCallID: c.ToolCallID, ToolName: domain.ToolName(c.ToolName), ArgsDelta: c.ArgsDelta}
		case model.ChunkToolCall:
			if c.ToolCall == nil {
				continue
			}
			call := *c.ToolCall
			if call.ID == "" {
				call.ID = "call-" + uuid.New().String()
			}
			calls = append(calls, call)
			content = append(content, model.Content{Type: domain.ContentTypeToolCall, ToolCall: &call, ThoughtSignature: c.ThoughtSignature})
			ev = &domain.Event{Type: domain.EventToolCall, ToolCallID: call.ID, ToolName: domain.ToolName(call.Name), Args: call.Input}
		case model.ChunkFinish:
			if c.FinishReason != "" {
				reason = c.FinishReason
			}
		}
		if ev != nil {
			if err := r.emit(*ev); err != nil {
				return model.Message{}, nil, "", err
			}
		}
	}

	if text.Len() > 0 {
		content = append([]model.Content{{Type: domain.ContentTypeText, Text: text.String(), ThoughtSignature: signature}}, content...)
	}
	return model.Message{Role: domain.RoleAssistant, Content: content}, calls, reason, nil
}

// runTools executes the calls of one step concurrently. Each result is
// emitted as soon as it is ready; the returned slice is in call order.
func (r *run) runTools(calls []domain.ToolCall) ([]domain.ToolResult, error) {
	results := make([]domain.ToolResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			res := r.tools.Run(r.ctx, call)
			results[i] = res
			return r.emit(domain.Event{
				Type:       domain.EventToolResult,
				ToolCallID: res.ToolCallID,
				ToolName:   domain.ToolName(call.Name),
				Args:       call.Input,
				Result:     res.Content,
				IsError:    res.IsError,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func toolMessage(results []domain.ToolResult) model.Message {
	msg := model.Message{Role: domain.RoleTool}
	for i := range results {
		msg.Content = append(msg.Content, model.Content{Type: domain.ContentTypeToolResult, ToolResult: &results[i]})
	}
	return msg
}
