// Package stream encodes chat events as Server-Sent Events and decodes them
// on the client side.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// DefaultKeepalive is the idle interval between keepalive comments.
const DefaultKeepalive = 15 * time.Second

// Writer writes domain events as SSE frames, flushing after each one.
type Writer struct {
	mu        sync.Mutex
	w         io.Writer
	flush     func()
	keepalive time.Duration
}

// NewWriter sets the SSE response headers on w and returns a Writer.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	sw := &Writer{w: w, keepalive: DefaultKeepalive}
	if f, ok := w.(http.Flusher); ok {
		sw.flush = f.Flush
	}
	return sw
}

// SetKeepalive changes the keepalive interval; d <= 0 disables it.
func (s *Writer) SetKeepalive(d time.Duration) {
	s.keepalive = d
}

// WriteEvent writes one frame and flushes it.
func (s *Writer) WriteEvent(ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.write(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data))
}

func (s *Writer) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}

// Stream copies events to the response until the channel closes, sending a
// keepalive comment whenever the stream has been idle.
func (s *Writer) Stream(ctx context.Context, events <-chan domain.Event) error {
	var tick <-chan time.Time
	if s.keepalive > 0 {
		ticker := time.NewTicker(s.keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := s.write(": keepalive\n\n"); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.WriteEvent(ev); err != nil {
				return err
			}
		}
	}
}

// MaxFrameSize bounds a single SSE line.
const MaxFrameSize = 1 << 20

// Reader decodes domain events from an SSE stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &Reader{scanner: sc}
}

// Next returns the next event. Comments and unknown fields are skipped. It
// returns io.EOF when the stream ends cleanly between frames and
// io.ErrUnexpectedEOF when it ends inside a frame.
func (r *Reader) Next() (domain.Event, error) {
	var data bytes.Buffer
	inFrame := false
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if data.Len() == 0 {
				inFrame = false
				continue
			}
			var ev domain.Event
			if err := json.Unmarshal(data.Bytes(), &ev); err != nil {
				return domain.Event{}, fmt.Errorf("decoding event: %w", err)
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		inFrame = true
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return domain.Event{}, err
	}
	if inFrame {
		return domain.Event{}, io.ErrUnexpectedEOF
	}
	return domain.Event{}, io.EOF
}

// ErrNoTerminal is returned by Collect when the stream ends without a finish
// event.
var ErrNoTerminal = errors.New("event stream ended without finish")

// Collect reads every event until finish.
func Collect(r *Reader) ([]domain.Event, error) {
	var out []domain.Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, ErrNoTerminal
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
		if ev.IsTerminal() {
			return out, nil
		}
	}
}
