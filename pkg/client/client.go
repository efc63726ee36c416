// Package client consumes the chat event stream: it posts turns to the
// server, folds events into messages and holds per-conversation state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/stream"
)

// APIError is a non-2xx response to a chat request.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat request failed (%d): %s", e.StatusCode, e.Message)
}

// Streamer opens a chat turn and returns its events. The channel closes after
// the terminal event, or earlier if the stream is interrupted.
type Streamer interface {
	Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.Event, error)
}

// Client talks to the chat server over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ Streamer = (*Client)(nil)

// New creates a Client for baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: httpClient}
}

// Stream posts req to /api/chat. Errors before the stream starts are returned
// directly; a later interruption closes the channel without a finish event.
func (c *Client) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.Event, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", stream.ContentType)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending chat request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	slog.Debug("Chat stream opened", "backend", resp.Header.Get("X-Model-Backend"))

	events := make(chan domain.Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		r := stream.NewReader(resp.Body)
		for {
			ev, err := r.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Warn("Chat stream interrupted", "error", err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.IsTerminal() {
				return
			}
		}
	}()
	return events, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
