package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
	"github.com/zaidmukaddam/openlord.ai/pkg/orchestrator"
	"github.com/zaidmukaddam/openlord.ai/pkg/stream"
)

// BackendHeader names the backend that serves a chat response.
const BackendHeader = "X-Model-Backend"

var errNoMessages = errors.New("messages must not be empty")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	infos := make([]domain.ModelInfo, 0, len(domain.SupportedModels))
	for _, id := range domain.SupportedModels {
		infos = append(infos, domain.ModelInfo{
			ID:         id,
			Name:       id.DisplayName(),
			Configured: s.models.Configured(id),
			Default:    id == domain.DefaultModel,
		})
	}
	jsonResponse(w, http.StatusOK, infos)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes)).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.Messages) == 0 {
		errorResponse(w, http.StatusBadRequest, errNoMessages)
		return
	}

	resp, err := s.orch.Start(r.Context(), s.turn(r, req))
	if err != nil {
		errorResponse(w, statusFor(err), err)
		return
	}

	w.Header().Set(BackendHeader, resp.Backend.Provider.Name())
	sw := stream.NewWriter(w)
	w.WriteHeader(http.StatusOK)
	if err := sw.Stream(r.Context(), resp.Events); err != nil {
		slog.Debug("Chat stream ended early", "error", err)
	}
}

func (s *Server) turn(r *http.Request, req domain.ChatRequest) orchestrator.Turn {
	return orchestrator.Turn{
		Messages: req.Messages,
		Config:   req.Config(),
		Location: s.geo.FromRequest(r),
	}
}

// statusFor maps errors returned before streaming starts to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnsupportedModel):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, orchestrator.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
