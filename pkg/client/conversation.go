package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

// MaxImages is the attachment limit of one user message.
const MaxImages = 5

var (
	// ErrTurnInFlight is returned when a turn is submitted while another one
	// is still streaming.
	ErrTurnInFlight = errors.New("a response is still being generated")
	// ErrStreamInterrupted is returned when the stream ended without a
	// terminal event. Partial content is kept.
	ErrStreamInterrupted = errors.New("response stream interrupted")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrTooManyImages     = fmt.Errorf("at most %d images can be attached", MaxImages)
	ErrNotAnImage        = errors.New("only image attachments are supported")
	ErrUnknownModel      = errors.New("unknown model")
)

// Settings holds the generation settings chosen in the UI.
type Settings struct {
	mu          sync.RWMutex
	model       domain.ModelID
	temperature float64
}

// NewSettings returns settings with the default model and temperature.
func NewSettings() *Settings {
	return &Settings{model: domain.DefaultModel, temperature: domain.DefaultTemperature}
}

// SetModel selects one of the supported models.
func (s *Settings) SetModel(id domain.ModelID) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = id
	return nil
}

// SetTemperature clamps t to [0, 1] with two decimals and returns the value
// stored.
func (s *Settings) SetTemperature(t float64) float64 {
	t = domain.ClampTemperature(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = t
	return t
}

// Config returns a snapshot of the settings.
func (s *Settings) Config() domain.GenerationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.GenerationConfig{Model: s.model, Temperature: s.temperature}
}

// Conversation is the client-side state of one chat: its messages and at
// most one in-flight turn.
type Conversation struct {
	streamer Streamer

	mu       sync.Mutex
	messages []domain.Message
	inFlight bool
	notice   string
}

// NewConversation creates an empty conversation.
func NewConversation(s Streamer) *Conversation {
	return &Conversation{streamer: s}
}

// Messages returns a copy of the messages.
func (c *Conversation) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Clone()
	}
	return out
}

// Notice returns the failure notice of the last turn.
func (c *Conversation) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// Busy reports whether a turn is in flight.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Clear drops all messages.
func (c *Conversation) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrTurnInFlight
	}
	c.messages = nil
	c.notice = ""
	return nil
}

// Submit appends a user message and streams the reply, calling onUpdate with
// a snapshot of the messages after every change. It returns once the turn is
// over.
func (c *Conversation) Submit(ctx context.Context, cfg domain.GenerationConfig, text string, attachments []domain.Attachment, onUpdate func([]domain.Message)) error {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}
	if err := ValidateAttachments(attachments); err != nil {
		return err
	}
	if onUpdate == nil {
		onUpdate = func([]domain.Message) {}
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.inFlight = true
	c.notice = ""
	c.messages = append(c.messages, domain.Message{
		ID:          uuid.NewString(),
		Role:        domain.RoleUser,
		Content:     text,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	})
	thread := NewThread(c.messages)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()
	onUpdate(thread.Messages())

	temperature := cfg.Temperature
	events, err := c.streamer.Stream(ctx, domain.ChatRequest{
		Messages:    thread.Messages(),
		Model:       cfg.Model,
		Temperature: &temperature,
	})
	if err != nil {
		c.setNotice(FailureNotice)
		onUpdate(thread.Messages())
		return fmt.Errorf("starting turn: %w", err)
	}

	for ev := range events {
		thread.Apply(ev)
		c.sync(thread)
		onUpdate(thread.Messages())
	}

	if !thread.Closed() {
		thread.Interrupt()
		c.sync(thread)
		onUpdate(thread.Messages())
		return ErrStreamInterrupted
	}
	if thread.Err() != "" {
		slog.Warn("Turn failed", "error", thread.Err())
	}
	return nil
}

func (c *Conversation) sync(t *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = t.Messages()
	c.notice = t.Notice()
}

func (c *Conversation) setNotice(n string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice = n
}

// ValidateAttachments enforces the image-only and count limits.
func ValidateAttachments(attachments []domain.Attachment) error {
	if len(attachments) > MaxImages {
		return ErrTooManyImages
	}
	for _, a := range attachments {
		if !a.IsImage() {
			return fmt.Errorf("%w: %s (%s)", ErrNotAnImage, a.Name, a.ContentType)
		}
	}
	return nil
}

// AttachmentFromFile reads an image file into a data URL attachment.
func AttachmentFromFile(path string) (domain.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("reading attachment: %w", err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	contentType, _, _ = strings.Cut(contentType, ";")
	a := domain.Attachment{
		Name:        filepath.Base(path),
		ContentType: contentType,
		URL:         domain.EncodeDataURL(contentType, data),
	}
	if !a.IsImage() {
		return domain.Attachment{}, fmt.Errorf("%w: %s (%s)", ErrNotAnImage, a.Name, contentType)
	}
	return a, nil
}
