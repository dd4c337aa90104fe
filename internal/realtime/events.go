package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names shared with the client. Inbound and outbound frames are
// JSON envelopes: {"event": <name>, "data": {...}}.
const (
	EventJoin              = "join"
	EventLeave             = "leave"
	EventMessage           = "message"
	EventUserJoined        = "userJoined"
	EventUserLeft          = "userLeft"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
	EventError             = "error"
)

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound commands, one per event.

type JoinCommand struct {
	RoomID int `json:"roomId"`
}

type LeaveCommand struct {
	RoomID int `json:"roomId"`
}

type MessageCommand struct {
	ChatID  int    `json:"chatId"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type TypingCommand struct {
	ChatID int `json:"chatId"`
}

// Outbound notifications.

type SenderSnapshot struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type MessageEvent struct {
	ID        int64          `json:"id"`
	ChatID    int            `json:"chatId"`
	Sender    SenderSnapshot `json:"sender"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
}

// PresenceEvent carries userJoined, userLeft, userTyping and
// userStoppedTyping notifications.
type PresenceEvent struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	ChatID   int    `json:"chatId"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}
