package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-server/internal/database"
	"chat-server/internal/models"
	"chat-server/pkg/logger"

	"github.com/samber/lo"
)

type chatSummaryStore interface {
	ListParticipantIDs(ctx context.Context, chatID int) ([]int, error)
	UpdateLastMessage(ctx context.Context, chatID int, messageID int64, at time.Time) error
}

type messageStore interface {
	CreateMessage(ctx context.Context, chatID, senderID int, body, msgType string) (*models.Message, error)
	GetMessageByID(ctx context.Context, id int64) (*models.Message, error)
	UpdateMessageBody(ctx context.Context, id int64, body string) error
	SoftDeleteMessage(ctx context.Context, id int64, at time.Time) error
}

var validMessageTypes = []string{
	models.MessageTypeText,
	models.MessageTypeImage,
	models.MessageTypeFile,
	models.MessageTypeSystem,
}

// MessageDispatcher orchestrates validate → persist → summarize → fan
// out for sends, and owns edits and soft deletes. Persistence is the
// durability boundary: nothing is delivered that was not stored first,
// and a storage failure leaves no partial state behind. It performs no
// deduplication across calls; every accepted call is one persisted row.
type MessageDispatcher struct {
	chats    chatSummaryStore
	messages messageStore
	registry *ConnectionRegistry
	receipts *ReadReceiptTracker
	timeout  time.Duration
}

func NewMessageDispatcher(chats chatSummaryStore, messages messageStore, registry *ConnectionRegistry, receipts *ReadReceiptTracker, storeTimeout time.Duration) *MessageDispatcher {
	return &MessageDispatcher{
		chats:    chats,
		messages: messages,
		registry: registry,
		receipts: receipts,
		timeout:  storeTimeout,
	}
}

// Send validates the sender against the persisted participant list,
// persists the message, updates the room summary best-effort and fans
// the message out to every subscribed connection, the sender's other
// devices included. The sender snapshot in the event is taken now, not
// looked up live at delivery time.
func (d *MessageDispatcher) Send(ctx context.Context, sender Identity, roomID int, body, msgType string) (*models.Message, error) {
	if roomID <= 0 || strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !lo.Contains(validMessageTypes, msgType) {
		return nil, ErrInvalidType
	}

	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	participants, err := d.chats.ListParticipantIDs(tctx, roomID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !lo.Contains(participants, sender.ID) {
		return nil, ErrNotAParticipant
	}

	msg, err := d.messages.CreateMessage(tctx, roomID, sender.ID, body, msgType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	d.receipts.OnMessageSent(roomID, sender.ID, participants)

	// Summary is eventually consistent; delivery is not. A failure here
	// is logged and never blocks fan-out.
	if err := d.chats.UpdateLastMessage(tctx, roomID, msg.ID, msg.CreatedAt); err != nil {
		logger.Error("Updating last message for chat %d: %v", roomID, err)
	}

	msg.Sender = &models.User{ID: sender.ID, Username: sender.Username, Avatar: sender.Avatar}
	d.registry.SendToRoom(roomID, EventMessage, MessageEvent{
		ID:     msg.ID,
		ChatID: roomID,
		Sender: SenderSnapshot{
			ID:       sender.ID,
			Username: sender.Username,
			Avatar:   sender.Avatar,
		},
		Message:   msg.Body,
		Type:      msg.Type,
		Timestamp: msg.CreatedAt,
	}, "")

	return msg, nil
}

// Edit replaces a message body. Only the original sender may edit, and
// only while the message is not deleted.
func (d *MessageDispatcher) Edit(ctx context.Context, actor Identity, messageID int64, newBody string) (*models.Message, error) {
	if strings.TrimSpace(newBody) == "" {
		return nil, ErrEmptyMessage
	}

	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := d.loadOwned(tctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, ErrAlreadyDeleted
	}

	if err := d.messages.UpdateMessageBody(tctx, messageID, newBody); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	msg.Body = newBody
	return msg, nil
}

// SoftDelete marks a message deleted. The row is retained so read-state
// history stays consistent; it only disappears from listings and unread
// counts.
func (d *MessageDispatcher) SoftDelete(ctx context.Context, actor Identity, messageID int64) error {
	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := d.loadOwned(tctx, actor, messageID)
	if err != nil {
		return err
	}
	if msg.Deleted {
		return ErrAlreadyDeleted
	}

	if err := d.messages.SoftDeleteMessage(tctx, messageID, time.Now()); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	d.receipts.OnMessageDeleted(msg.ChatID)
	return nil
}

func (d *MessageDispatcher) loadOwned(ctx context.Context, actor Identity, messageID int64) (*models.Message, error) {
	msg, err := d.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if msg.SenderID != actor.ID {
		return nil, ErrNotOwner
	}
	return msg, nil
}
