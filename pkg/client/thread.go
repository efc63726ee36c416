package client

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

// FailureNotice is shown when a turn fails or its stream is interrupted.
const FailureNotice = "Oops, something went wrong! Please try again later."

// Thread folds a chat event stream into conversation messages. It is not
// safe for concurrent use.
type Thread struct {
	messages []domain.Message
	// open is the index of the assistant message receiving events, or -1.
	open   int
	closed bool
	notice string
	err    string

	now   func() time.Time
	newID func() string
}

// NewThread starts a thread on top of history. history is copied.
func NewThread(history []domain.Message) *Thread {
	t := &Thread{
		open:  -1,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, m := range history {
		t.messages = append(t.messages, m.Clone())
	}
	return t
}

// Messages returns a deep copy of the current messages.
func (t *Thread) Messages() []domain.Message {
	out := make([]domain.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

// Closed reports whether the terminal event has been applied.
func (t *Thread) Closed() bool { return t.closed }

// Notice is the user-facing failure message, empty when the turn succeeded.
func (t *Thread) Notice() string { return t.notice }

// Err is the error text reported by the server, if any.
func (t *Thread) Err() string { return t.err }

// Apply folds one event. Events after the terminal event are ignored.
func (t *Thread) Apply(ev domain.Event) {
	if t.closed {
		return
	}
	switch ev.Type {
	case domain.EventTextDelta:
		if ev.Text == "" {
			return
		}
		t.assistant().Content += ev.Text

	case domain.EventToolCallStreamingStart:
		msg := t.assistant()
		if findInvocation(msg, ev.ToolCallID) == nil {
			msg.ToolInvocations = append(msg.ToolInvocations, domain.ToolInvocation{
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
				State:      domain.StatePartialCall,
			})
		}

	case domain.EventToolCallDelta:
		if inv := findInvocation(t.assistant(), ev.ToolCallID); inv != nil && inv.State == domain.StatePartialCall {
			inv.ArgsText += ev.ArgsDelta
		}

	case domain.EventToolCall:
		msg := t.assistant()
		inv := findInvocation(msg, ev.ToolCallID)
		if inv == nil {
			msg.ToolInvocations = append(msg.ToolInvocations, domain.ToolInvocation{ToolCallID: ev.ToolCallID})
			inv = &msg.ToolInvocations[len(msg.ToolInvocations)-1]
		}
		if inv.State == domain.StateCompleted {
			return
		}
		inv.ToolName = ev.ToolName
		inv.Args = ev.Args
		inv.State = domain.StatePending

	case domain.EventToolResult:
		inv := t.lookup(ev.ToolCallID)
		if inv == nil || inv.State == domain.StateCompleted {
			return
		}
		if inv.Args == nil {
			inv.Args = ev.Args
		}
		inv.Result = append([]byte(nil), ev.Result...)
		inv.IsError = ev.IsError
		inv.State = domain.StateCompleted

	case domain.EventError:
		t.err = ev.Error
		t.notice = FailureNotice

	case domain.EventFinish:
		t.close()
	}
}

// Interrupt closes the thread after the stream ended without a terminal
// event. Partial content is kept.
func (t *Thread) Interrupt() {
	if t.closed {
		return
	}
	t.notice = FailureNotice
	t.close()
}

func (t *Thread) close() {
	t.closed = true
	if t.open >= 0 {
		m := &t.messages[t.open]
		if t.notice != "" {
			t.failOpenInvocations(m)
		}
		if m.Content == "" && len(m.ToolInvocations) == 0 {
			t.messages = append(t.messages[:t.open], t.messages[t.open+1:]...)
		}
	}
	t.open = -1
}

// failOpenInvocations completes invocations left without a result by a
// failed or interrupted turn.
func (t *Thread) failOpenInvocations(m *domain.Message) {
	reason := t.err
	if reason == "" {
		reason = ErrStreamInterrupted.Error()
	}
	payload, _ := json.Marshal(map[string]string{"error": reason})
	for i := range m.ToolInvocations {
		inv := &m.ToolInvocations[i]
		if inv.State == domain.StateCompleted {
			continue
		}
		inv.State = domain.StateCompleted
		inv.IsError = true
		inv.Result = payload
	}
}

// assistant returns the open assistant message, creating it if needed.
func (t *Thread) assistant() *domain.Message {
	if t.open < 0 {
		t.messages = append(t.messages, domain.Message{
			ID:        t.newID(),
			Role:      domain.RoleAssistant,
			CreatedAt: t.now(),
		})
		t.open = len(t.messages) - 1
	}
	return &t.messages[t.open]
}

// lookup finds an invocation by call id in the open assistant message.
func (t *Thread) lookup(id string) *domain.ToolInvocation {
	if t.open < 0 {
		return nil
	}
	return findInvocation(&t.messages[t.open], id)
}

func findInvocation(m *domain.Message, id string) *domain.ToolInvocation {
	for i := range m.ToolInvocations {
		if m.ToolInvocations[i].ToolCallID == id {
			return &m.ToolInvocations[i]
		}
	}
	return nil
}
