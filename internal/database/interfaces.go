package database

import (
	"context"
	"errors"
	"time"

	"chat-server/internal/models"
)

// ErrNotFound is returned by every repository when the requested row does
// not exist, so callers never depend on driver-specific errors.
var ErrNotFound = errors.New("record not found")

type UserRepository interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []int) ([]*models.User, error)
	SearchUsers(ctx context.Context, search string, excludeID int) ([]*models.User, error)
	UpdateProfile(ctx context.Context, id int, username, avatar string) (*models.User, error)
	SetOnline(ctx context.Context, id int, online bool, lastSeen time.Time) error
}

type ChatRepository interface {
	CreateChat(ctx context.Context, name, chatType string, createdBy int, participantIDs []int) (*models.Chat, error)
	GetChatByID(ctx context.Context, id int) (*models.Chat, error)
	FindPrivateChat(ctx context.Context, userA, userB int) (*models.Chat, error)
	ListUserChats(ctx context.Context, userID int) ([]*models.Chat, error)
	ListUserChatIDs(ctx context.Context, userID int) ([]int, error)
	ListParticipantIDs(ctx context.Context, chatID int) ([]int, error)
	IsParticipant(ctx context.Context, chatID, userID int) (bool, error)
	AddParticipant(ctx context.Context, chatID, userID int) error
	UpdateChat(ctx context.Context, id int, name, avatar string) (*models.Chat, error)
	UpdateLastMessage(ctx context.Context, chatID int, messageID int64, at time.Time) error
	DeleteChat(ctx context.Context, id int) error
	SearchUserChats(ctx context.Context, userID int, query string) ([]*models.Chat, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID, senderID int, body, msgType string) (*models.Message, error)
	GetMessageByID(ctx context.Context, id int64) (*models.Message, error)
	UpdateMessageBody(ctx context.Context, id int64, body string) error
	SoftDeleteMessage(ctx context.Context, id int64, at time.Time) error
	ListMessages(ctx context.Context, chatID, page, limit int) ([]*models.Message, int, error)
	MarkRead(ctx context.Context, messageID int64, readerID int, at time.Time) (bool, error)
	ListUnreadIDs(ctx context.Context, chatID, readerID int) ([]int64, error)
	CountUnread(ctx context.Context, chatID, readerID int) (int, error)
}

type Database interface {
	UserRepository
	ChatRepository
	MessageRepository
	Close() error
}
