package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/famcare-ai/famcare/internal/api"
	"github.com/famcare-ai/famcare/internal/inference"
	"github.com/famcare-ai/famcare/internal/memory"
	"github.com/famcare-ai/famcare/internal/personas"
)

// Handler handles chat HTTP endpoints.
type Handler struct {
	orch        *Orchestrator
	registry    *inference.Registry
	memoryRepo  memory.Repository
	personaRepo personas.Repository
	validate    *validator.Validate
}

// NewHandler creates a new chat handler.
func NewHandler(orch *Orchestrator, registry *inference.Registry, memoryRepo memory.Repository, personaRepo personas.Repository) *Handler {
	return &Handler{
		orch:        orch,
		registry:    registry,
		memoryRepo:  memoryRepo,
		personaRepo: personaRepo,
		validate:    validator.New(),
	}
}

// ChatRequest is the body for POST /api/v1/chat and /api/v1/chat/stream.
type ChatRequest struct {
	Message       string   `json:"message" validate:"required,max=8000"`
	Model         string   `json:"model" validate:"required"`
	SessionID     *string  `json:"session_id,omitempty" validate:"omitempty,uuid"`
	PersonaID     *string  `json:"persona_id,omitempty" validate:"omitempty,uuid"`
	CustomPrompt  string   `json:"custom_prompt,omitempty" validate:"omitempty,max=4000"`
	Temperature   *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens     *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	TopP          *float64 `json:"top_p,omitempty" validate:"omitempty,gt=0,lte=1"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty" validate:"omitempty,gt=0"`
}

func (h *Handler) parseTurnRequest(w http.ResponseWriter, r *http.Request) (TurnRequest, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return TurnRequest{}, false
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return TurnRequest{}, false
	}

	turn := TurnRequest{
		Input:        req.Message,
		ModelID:      req.Model,
		CustomPrompt: req.CustomPrompt,
		Settings: inference.Settings{
			Temperature:   req.Temperature,
			MaxTokens:     req.MaxTokens,
			TopP:          req.TopP,
			RepeatPenalty: req.RepeatPenalty,
		},
	}
	if req.SessionID != nil {
		id, err := uuid.Parse(*req.SessionID)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid session_id"))
			return TurnRequest{}, false
		}
		turn.SessionID = &id
	}
	if req.PersonaID != nil {
		id, err := uuid.Parse(*req.PersonaID)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid persona_id"))
			return TurnRequest{}, false
		}
		turn.PersonaID = &id
	}
	return turn, true
}

func handleTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAdapterNotFound):
		api.HandleError(w, api.NewNotFoundError(err.Error()))
	case errors.Is(err, ErrStreamingUnsupported):
		api.HandleError(w, api.NewBadRequestError(err.Error()))
	default:
		slog.Error("chat turn failed", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

// Chat runs a one-shot turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	turn, ok := h.parseTurnRequest(w, r)
	if !ok {
		return
	}

	res, err := h.orch.Run(r.Context(), turn)
	if err != nil {
		handleTurnError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, res)
}

// streamEvent is one SSE data payload.
type streamEvent struct {
	Delta string                `json:"delta,omitempty"`
	Done  bool                  `json:"done,omitempty"`
	Usage *inference.TokenUsage `json:"usage,omitempty"`
	Error string                `json:"error,omitempty"`
}

// ChatStream runs a streaming turn over server-sent events.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	turn, ok := h.parseTurnRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	stream, err := h.orch.RunStream(r.Context(), turn)
	if err != nil {
		handleTurnError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for chunk := range stream {
		event := streamEvent{Delta: chunk.Delta, Done: chunk.Done, Usage: chunk.Usage}
		if chunk.Err != nil {
			event.Error = chunk.Err.Error()
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if err := enc.Encode(event); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// ListModels returns the registered adapters.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.registry.ListUnique())
}

// ListPersonas returns all personas.
func (h *Handler) ListPersonas(w http.ResponseWriter, r *http.Request) {
	list, err := h.personaRepo.List(r.Context())
	if err != nil {
		slog.Error("listing personas", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, list)
}

// CreateSessionRequest is the body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	Title     string  `json:"title" validate:"omitempty,max=200"`
	PersonaID *string `json:"persona_id,omitempty" validate:"omitempty,uuid"`
}

// CreateSession starts a new conversation session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	s := &memory.Session{
		ID:        uuid.New(),
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
	}
	if req.PersonaID != nil {
		id, err := uuid.Parse(*req.PersonaID)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid persona_id"))
			return
		}
		s.PersonaID = &id
	}

	if err := h.memoryRepo.CreateSession(r.Context(), s); err != nil {
		slog.Error("creating session", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusCreated, s)
}

// ListSessionMessages returns the message history for a session.
func (h *Handler) ListSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid session id"))
		return
	}

	session, err := h.memoryRepo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("loading session", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if session == nil {
		api.HandleError(w, api.NewNotFoundError("session not found"))
		return
	}

	msgs, err := h.memoryRepo.RecentMessages(r.Context(), sessionID, 200)
	if err != nil {
		slog.Error("listing session messages", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, msgs)
}
