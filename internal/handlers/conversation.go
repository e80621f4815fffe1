package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"portfolio-backend/internal/models"
	"portfolio-backend/internal/repository"
)

type conversationAccess interface {
	GetBySessionID(ctx context.Context, sessionID string) (*models.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConversationHandler serves transcript rehydration and whole-conversation
// deletion.
type ConversationHandler struct {
	conversations conversationAccess
}

func NewConversationHandler(conversations conversationAccess) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

func (h *ConversationHandler) GetBySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Session ID is required", r))
		return
	}

	conv, err := h.conversations.GetBySessionID(r.Context(), sessionID)
	if errors.Is(err, repository.ErrConversationNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "No conversation for this session", r))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load conversation", r))
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid conversation ID", r))
		return
	}

	if err := h.conversations.Delete(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to delete conversation", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
}
