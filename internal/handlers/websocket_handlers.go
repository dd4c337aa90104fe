package handlers

import (
	"net/http"

	"chat-server/internal/database"
	"chat-server/internal/middleware"
	"chat-server/internal/realtime"
	"chat-server/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	rt       *realtime.Server
	db       database.UserRepository
	upgrader websocket.Upgrader
}

func NewWebSocketHandlers(rt *realtime.Server, db database.UserRepository) *WebSocketHandlers {
	return &WebSocketHandlers{
		rt: rt,
		db: db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket runs behind the auth middleware, so a request that
// reaches it carries a verified identity; a bad credential was already
// rejected with nothing registered.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		writeError(w, realtime.ErrAuth)
		return
	}

	// Fetch the user record for the sender snapshot fields.
	user, err := h.db.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, realtime.ErrAuth)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	identity := realtime.Identity{ID: user.ID, Username: user.Username, Avatar: user.Avatar}
	if err := h.rt.HandleConnection(r.Context(), identity, conn); err != nil {
		logger.Error("Error registering connection for user %d: %v", user.ID, err)
		conn.Close()
	}
}
