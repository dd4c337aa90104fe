package handlers

import (
	"net/http"
	"strconv"

	"chat-server/internal/database"
	"chat-server/internal/middleware"
	"chat-server/pkg/logger"

	"github.com/go-chi/chi/v5"
)

type UserHandlers struct {
	db database.UserRepository
}

func NewUserHandlers(db database.UserRepository) *UserHandlers {
	return &UserHandlers{db: db}
}

func (h *UserHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	users, err := h.db.SearchUsers(r.Context(), r.URL.Query().Get("search"), userID)
	if err != nil {
		logger.Error("Search users error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	user, err := h.db.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
