package handlers

import (
	"net/http"
	"strconv"

	"chat-server/internal/models"
	"chat-server/internal/services"

	"github.com/go-chi/chi/v5"
)

type MessageHandlers struct {
	chatService *services.ChatService
}

func NewMessageHandlers(chatService *services.ChatService) *MessageHandlers {
	return &MessageHandlers{chatService: chatService}
}

func (h *MessageHandlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := userAndChat(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, total, err := h.chatService.ListMessages(r.Context(), userID, chatID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    total,
	})
}

func (h *MessageHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := userAndChat(w, r)
	if !ok {
		return
	}

	var req models.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.SendMessage(r.Context(), userID, chatID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandlers) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userAndChat(w, r)
	if !ok {
		return
	}
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message ID", http.StatusBadRequest)
		return
	}

	var req models.EditMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	msg, err := h.chatService.EditMessage(r.Context(), userID, messageID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandlers) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userAndChat(w, r)
	if !ok {
		return
	}
	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message ID", http.StatusBadRequest)
		return
	}

	if err := h.chatService.DeleteMessage(r.Context(), userID, messageID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := userAndChat(w, r)
	if !ok {
		return
	}

	var req models.MarkReadRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.chatService.MarkRead(r.Context(), userID, chatID, req.MessageIDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
