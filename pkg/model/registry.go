package model

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
)

var (
	// ErrBackendUnavailable is returned when the selected backend has no
	// configured provider.
	ErrBackendUnavailable = errors.New("model backend not configured")
	// ErrUnsupportedModel is returned in strict mode for unknown model ids.
	ErrUnsupportedModel = errors.New("unsupported model")
)

// Backend binds a client-facing model id to a provider and upstream model.
type Backend struct {
	ID            domain.ModelID
	UpstreamModel string
	Provider      Provider
	// Fallback is set when the requested id did not match and the default
	// backend was selected instead.
	Fallback bool
}

// Registry maps model ids to backends by exact string match.
type Registry struct {
	mu       sync.RWMutex
	backends map[domain.ModelID]Backend
	fallback domain.ModelID
	strict   bool
}

// NewRegistry creates a registry that resolves unknown ids to fallback.
// In strict mode unknown ids are rejected instead.
func NewRegistry(fallback domain.ModelID, strict bool) *Registry {
	return &Registry{
		backends: make(map[domain.ModelID]Backend),
		fallback: fallback,
		strict:   strict,
	}
}

// Register binds id to provider p serving upstreamModel.
func (r *Registry) Register(id domain.ModelID, upstreamModel string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[id] = Backend{ID: id, UpstreamModel: upstreamModel, Provider: p}
}

// Configured reports whether id has a registered provider.
func (r *Registry) Configured(id domain.ModelID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[id]
	return ok
}

// Resolve selects the backend for id.
func (r *Registry) Resolve(id domain.ModelID) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fallback := false
	if !id.Valid() {
		if r.strict {
			return Backend{}, fmt.Errorf("%w: %q", ErrUnsupportedModel, id)
		}
		slog.Warn("Unknown model id, using fallback backend", "model", id, "fallback", r.fallback)
		id = r.fallback
		fallback = true
	}
	b, ok := r.backends[id]
	if !ok {
		return Backend{}, fmt.Errorf("%w: %s", ErrBackendUnavailable, id)
	}
	b.Fallback = fallback
	return b, nil
}
