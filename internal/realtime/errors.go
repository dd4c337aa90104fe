package realtime

import "errors"

var (
	ErrAuth            = errors.New("authentication failed")
	ErrNotAParticipant = errors.New("not a participant of this chat")
	ErrNotFound        = errors.New("not found")
	ErrNotOwner        = errors.New("not the message sender")
	ErrAlreadyDeleted  = errors.New("message already deleted")
	ErrPersistence     = errors.New("persistence failure")
	ErrEmptyMessage    = errors.New("chat ID and message are required")
	ErrInvalidType     = errors.New("invalid message type")
)
