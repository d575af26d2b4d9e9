package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/repository"
	"github.com/rs/zerolog"
)

const maxBodySize = 1 << 20

type handler struct {
	repo    repository.Repository
	metrics *Metrics
	logger  zerolog.Logger
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}

// fail maps repository errors onto status codes. Internal errors are logged
// and counted, and their details stay on the server.
func (h *handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case stderrors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case stderrors.Is(err, conversation.ErrInvalidRole), stderrors.Is(err, conversation.ErrInvalidContent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.metrics.RepositoryErrors.WithLabelValues(op).Inc()
		h.logger.Error().Err(err).Str("op", op).Msg("repository operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListConversations(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	if list == nil {
		list = []*conversation.Conversation{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createConversation(w http.ResponseWriter, r *http.Request) {
	req := api.CreateConversationRequest{}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	c, err := h.repo.CreateConversation(r.Context(), userFromContext(r.Context()), req.Title)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	h.metrics.ConversationsCreated.Inc()
	writeJSON(w, http.StatusCreated, c)
}

func (h *handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := conversation.ID(chi.URLParam(r, "id"))
	if err := h.repo.DeleteConversation(r.Context(), userFromContext(r.Context()), id); err != nil {
		h.fail(w, "delete", err)
		return
	}
	h.metrics.ConversationsDeleted.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) appendMessage(w http.ResponseWriter, r *http.Request) {
	req := api.AppendMessageRequest{}
	if !decode(w, r, &req) {
		return
	}
	role, err := conversation.ParseRole(string(req.Role))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := conversation.ValidateContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := conversation.ID(chi.URLParam(r, "id"))
	msg, err := h.repo.AppendMessage(r.Context(), userFromContext(r.Context()), id, role, req.Content)
	if err != nil {
		h.fail(w, "append", err)
		return
	}
	h.metrics.MessagesAppended.WithLabelValues(role.String()).Inc()
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}
