package models

import "time"

const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
)

type Chat struct {
	ID            int       `json:"id"`
	Name          string    `json:"name,omitempty"`
	Type          string    `json:"type"`
	Avatar        string    `json:"avatar,omitempty"`
	CreatedBy     int       `json:"created_by"`
	LastMessageID *int64    `json:"last_message_id,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`

	// Attached explicitly by the service layer, never joined at query time.
	Participants []*User  `json:"participants,omitempty"`
	LastMessage  *Message `json:"last_message,omitempty"`
	UnreadCount  int      `json:"unread_count"`
}

type CreateChatRequest struct {
	Name         string `json:"name,omitempty" validate:"omitempty,max=100"`
	Type         string `json:"type" validate:"omitempty,oneof=private group"`
	Participants []int  `json:"participants" validate:"required,min=1,dive,gt=0"`
}

type UpdateChatRequest struct {
	Name   string `json:"name,omitempty" validate:"omitempty,max=100"`
	Avatar string `json:"avatar,omitempty" validate:"omitempty,url"`
}

type AddParticipantRequest struct {
	UserID int `json:"user_id" validate:"required,gt=0"`
}
