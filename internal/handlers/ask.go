package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"portfolio-backend/internal/models"
	"portfolio-backend/internal/repository"
	"portfolio-backend/internal/services"
)

type conversationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Conversation, error)
	Create(ctx context.Context, sessionID string, initialMessages []models.Message) (*models.Conversation, error)
	AppendMessages(ctx context.Context, id uuid.UUID, newMessages []models.Message) (*models.Conversation, error)
}

type contextBuilder interface {
	BuildContext(ctx context.Context) (*models.SiteContext, error)
}

type answerStreamer interface {
	StreamAnswer(ctx context.Context, req services.AnswerRequest, onDelta func(delta string) error) (*services.StreamResult, error)
}

// AskHandler drives one question-answering exchange: validate, load history,
// aggregate context, relay the model stream, persist the transcript
// best-effort, then emit follow-ups and the terminal sentinel.
type AskHandler struct {
	conversations conversationStore
	aggregator    contextBuilder
	assistant     answerStreamer
}

func NewAskHandler(conversations conversationStore, aggregator contextBuilder, assistant answerStreamer) *AskHandler {
	return &AskHandler{
		conversations: conversations,
		aggregator:    aggregator,
		assistant:     assistant,
	}
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Question is required", r))
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Session ID is required", r))
		return
	}

	conv, err := h.loadConversation(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load conversation history", r))
		return
	}

	siteCtx, err := h.aggregator.BuildContext(r.Context())
	if err != nil {
		log.Printf("Context aggregation failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResp("CONTEXT_UNAVAILABLE", "Failed to assemble site context", r))
		return
	}

	var history []models.Message
	if conv != nil {
		history = conv.Messages
	}

	sw := newStreamWriter(w)
	result, err := h.assistant.StreamAnswer(r.Context(), services.AnswerRequest{
		ContextBlob: siteCtx.Blob,
		History:     history,
		Question:    question,
	}, func(delta string) error {
		return sw.writeEvent(models.ContentEvent{Type: models.EventContent, Content: delta})
	})
	if err != nil {
		h.writeStreamFailure(w, r, sw, err)
		return
	}

	// A cancelled exchange is not saved and gets no terminal events.
	if r.Context().Err() != nil {
		return
	}

	convID := h.persist(r.Context(), conv, req.SessionID, question, result.FullAnswer)

	followUps := result.FollowUps
	if followUps == nil {
		followUps = []string{}
	}
	sw.writeEvent(models.FollowUpsEvent{
		Type:           models.EventFollowUps,
		Questions:      followUps,
		ConversationID: convID,
	})
	sw.writeDone()
}

// loadConversation resolves prior history. A stale conversation id falls back
// to the session lookup; a session with no conversation yet yields nil.
func (h *AskHandler) loadConversation(ctx context.Context, req models.AskRequest) (*models.Conversation, error) {
	if req.ConversationID != nil {
		conv, err := h.conversations.GetByID(ctx, *req.ConversationID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repository.ErrConversationNotFound) {
			return nil, err
		}
	}

	conv, err := h.conversations.GetBySessionID(ctx, req.SessionID)
	if errors.Is(err, repository.ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// persist appends the completed exchange, creating the conversation on first
// use. Persistence failure is logged and swallowed: the visitor already has
// the answer.
func (h *AskHandler) persist(ctx context.Context, conv *models.Conversation, sessionID, question, answer string) *uuid.UUID {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	exchange := []models.Message{
		{Role: models.RoleUser, Content: question, Timestamp: now},
		{Role: models.RoleAssistant, Content: answer, Timestamp: now},
	}

	if conv == nil {
		created, err := h.conversations.Create(persistCtx, sessionID, exchange)
		if err != nil {
			log.Printf("Failed to create conversation for session %s: %v", sessionID, err)
			return nil
		}
		return &created.ID
	}

	if _, err := h.conversations.AppendMessages(persistCtx, conv.ID, exchange); err != nil {
		log.Printf("Failed to append to conversation %s: %v", conv.ID, err)
	}
	return &conv.ID
}

// writeStreamFailure maps an upstream failure to a plain status response when
// the stream has not started, or to one in-band error event when it has.
func (h *AskHandler) writeStreamFailure(w http.ResponseWriter, r *http.Request, sw *streamWriter, err error) {
	if r.Context().Err() != nil {
		// Client-initiated abort is a normal terminal transition, not a failure.
		return
	}

	var code string
	var status int
	var message string

	switch e := err.(type) {
	case *services.ThrottledError:
		code, status, message = "UPSTREAM_THROTTLED", http.StatusTooManyRequests, "Too many requests. Please try again later."
	case *services.QuotaExhaustedError:
		code, status, message = "UPSTREAM_UNAVAILABLE", http.StatusPaymentRequired, "The assistant is temporarily unavailable. Please contact the site operator."
	case *services.UpstreamError:
		code, status, message = "UPSTREAM_ERROR", http.StatusBadGateway, "Failed to get an answer. Please try again."
		_ = e
	default:
		code, status, message = "UPSTREAM_ERROR", http.StatusBadGateway, "Failed to get an answer. Please try again."
	}
	log.Printf("Answer stream failed: %v", err)

	if !sw.started {
		writeJSON(w, status, errorResp(code, message, r))
		return
	}

	sw.writeEvent(models.ErrorEvent{Type: models.EventError, Code: code, Message: message})
}

// streamWriter frames events as `data: ` lines, deferring headers until the
// first event so pre-stream failures can still use a plain status response.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: flusher}
}

func (sw *streamWriter) start() {
	if sw.started {
		return
	}
	sw.w.Header().Set("Content-Type", "text/event-stream")
	sw.w.Header().Set("Cache-Control", "no-cache")
	sw.w.Header().Set("Connection", "keep-alive")
	sw.w.WriteHeader(http.StatusOK)
	sw.started = true
}

func (sw *streamWriter) writeEvent(event interface{}) error {
	sw.start()
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n", data); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

func (sw *streamWriter) writeDone() {
	sw.start()
	fmt.Fprintf(sw.w, "data: %s\n", models.StreamDone)
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}
