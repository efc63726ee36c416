// Package httplog provides the outbound HTTP client shared by the model
// backends and tools. At trace level it dumps requests and responses.
package httplog

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"
)

const (
	// LevelTrace is a custom log level for detailed HTTP traffic.
	LevelTrace = slog.Level(-8)
)

// secretHeaders are redacted from dumps.
var secretHeaders = []string{"Authorization", "X-Api-Key", "X-Goog-Api-Key"}

// NewClient returns an http.Client that logs traffic at LevelTrace.
// A zero timeout leaves the deadline to the request context.
func NewClient(name string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &Transport{
			Name: name,
			Base: http.DefaultTransport,
		},
	}
}

// Transport is an http.RoundTripper that dumps traffic when the default
// logger is enabled at LevelTrace.
type Transport struct {
	Name string
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if !slog.Default().Enabled(req.Context(), LevelTrace) {
		return base.RoundTrip(req)
	}

	dumpReq := req.Clone(req.Context())
	for _, h := range secretHeaders {
		if dumpReq.Header.Get(h) != "" {
			dumpReq.Header.Set(h, "REDACTED")
		}
	}
	// Dumping the body would consume it; headers are enough to correlate.
	reqDump, err := httputil.DumpRequestOut(dumpReq, false)
	if err != nil {
		slog.Debug("Failed to dump request", "client", t.Name, "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "HTTP request", "client", t.Name, "url", req.URL.Redacted(), "dump", string(reqDump))
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		slog.Log(req.Context(), LevelTrace, "HTTP request failed", "client", t.Name, "error", err)
		return nil, err
	}

	// For streaming, don't dump body to avoid consuming it/blocking.
	isStream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		strings.Contains(req.URL.Query().Get("alt"), "sse")

	respDump, err := httputil.DumpResponse(resp, !isStream)
	if err != nil {
		slog.Debug("Failed to dump response", "client", t.Name, "error", err)
	} else {
		slog.Log(req.Context(), LevelTrace, "HTTP response", "client", t.Name, "isStream", isStream,
			"elapsed", time.Since(start), "dump", string(respDump))
	}
	return resp, nil
}

// ParseLevel maps a level name to a slog level. Unknown names yield INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
