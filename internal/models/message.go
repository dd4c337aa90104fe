package models

import "time"

const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

type Message struct {
	ID        int64      `json:"id"`
	ChatID    int        `json:"chat_id"`
	SenderID  int        `json:"sender_id"`
	Body      string     `json:"message"`
	Type      string     `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Attached explicitly, point-in-time snapshot rather than a live join.
	Sender *User         `json:"sender,omitempty"`
	ReadBy []ReadReceipt `json:"read_by,omitempty"`
}

// ReadReceipt records that a reader observed a message. At most one
// entry exists per (message, reader) pair.
type ReadReceipt struct {
	UserID int       `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type SendMessageRequest struct {
	Message string `json:"message" validate:"required,max=4096"`
	Type    string `json:"type" validate:"omitempty,oneof=text image file system"`
}

type EditMessageRequest struct {
	Message string `json:"message" validate:"required,max=4096"`
}

type MarkReadRequest struct {
	MessageIDs []int64 `json:"message_ids,omitempty"`
}
