package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"chat-server/internal/database"
	"chat-server/internal/middleware"
	"chat-server/internal/realtime"
	"chat-server/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// userAndChat pulls the authenticated user from the context and the
// chat ID from the route.
func userAndChat(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return 0, 0, false
	}
	chatID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid chat ID", http.StatusBadRequest)
		return 0, 0, false
	}
	return userID, chatID, true
}

// writeError maps the error taxonomy onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, realtime.ErrAuth):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, realtime.ErrNotAParticipant):
		http.Error(w, "not a participant of this chat", http.StatusForbidden)
	case errors.Is(err, realtime.ErrNotFound), errors.Is(err, database.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, realtime.ErrNotOwner):
		http.Error(w, "not the message sender", http.StatusForbidden)
	case errors.Is(err, realtime.ErrAlreadyDeleted):
		http.Error(w, "message already deleted", http.StatusConflict)
	case errors.Is(err, realtime.ErrEmptyMessage), errors.Is(err, realtime.ErrInvalidType),
		errors.Is(err, services.ErrParticipantsNotFound), errors.Is(err, services.ErrInvalidParticipants),
		errors.Is(err, services.ErrEmptyQuery):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
