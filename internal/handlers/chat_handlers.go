package handlers

import (
	"net/http"

	"chat-server/internal/middleware"
	"chat-server/internal/models"
	"chat-server/internal/services"
	"chat-server/pkg/logger"
)

type ChatHandlers struct {
	chatService *services.ChatService
}

func NewChatHandlers(chatService *services.ChatService) *ChatHandlers {
	return &ChatHandlers{chatService: chatService}
}

func (h *ChatHandlers) ListChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chats, err := h.chatService.ListChats(r.Context(), userID)
	if err != nil {
		logger.Error("List chats error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandlers) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.CreateChatRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	chat, err := h.chatService.CreateChat(r.Context(), userID, &req)
	if err != nil {
		logger.Error("Create chat error: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *ChatHandlers) SearchChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chats, err := h.chatService.SearchChats(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandlers) DeleteChat(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := userAndChat(w, r)
	if !ok {
		return
	}

	if err := h.chatService.DeleteChat(r.Context(), userID, chatID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandlers) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := userAndChat(w, r)
	if !ok {
		return
	}

	chat, err := h.chatService.GetChat(r.Context(), userID, chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandlers) UpdateChat(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := userAndChat(w, r)
	if !ok {
		return
	}

	var req models.UpdateChatRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	chat, err := h.chatService.UpdateChat(r.Context(), userID, chatID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandlers) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := userAndChat(w, r)
	if !ok {
		return
	}

	var req models.AddParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.chatService.AddParticipant(r.Context(), userID, chatID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := userAndChat(w, r)
	if !ok {
		return
	}

	n, err := h.chatService.UnreadCount(r.Context(), userID, chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": n})
}
