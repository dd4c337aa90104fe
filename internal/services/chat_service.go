package services

import (
	"context"
	"errors"
	"strings"

	"chat-server/internal/database"
	"chat-server/internal/models"
	"chat-server/internal/realtime"
	"chat-server/pkg/logger"

	"github.com/samber/lo"
)

var (
	ErrParticipantsNotFound = errors.New("one or more participants not found")
	ErrInvalidParticipants  = errors.New("private chat must have exactly one other participant")
	ErrEmptyQuery           = errors.New("search query is required")
)

// ChatService is the synchronous request/response entry into the chat
// core. Sends, edits, deletes and read marks go through the exact same
// dispatcher and tracker as the websocket path, so persisted state is
// identical regardless of which path a client used.
type ChatService struct {
	db database.Database
	rt *realtime.Server
}

func NewChatService(db database.Database, rt *realtime.Server) *ChatService {
	return &ChatService{db: db, rt: rt}
}

func (s *ChatService) CreateChat(ctx context.Context, creatorID int, req *models.CreateChatRequest) (*models.Chat, error) {
	chatType := req.Type
	if chatType == "" {
		chatType = models.ChatTypePrivate
	}

	if chatType == models.ChatTypePrivate {
		if len(req.Participants) != 1 {
			return nil, ErrInvalidParticipants
		}
		// An existing private chat between the two users is returned
		// instead of creating a duplicate.
		existing, err := s.db.FindPrivateChat(ctx, creatorID, req.Participants[0])
		if err == nil {
			return s.attachChatDetails(ctx, creatorID, existing)
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	}

	participantIDs := lo.Uniq(append([]int{creatorID}, req.Participants...))
	users, err := s.db.GetUsersByIDs(ctx, participantIDs)
	if err != nil {
		return nil, err
	}
	if len(users) != len(participantIDs) {
		return nil, ErrParticipantsNotFound
	}

	chat, err := s.db.CreateChat(ctx, req.Name, chatType, creatorID, participantIDs)
	if err != nil {
		return nil, err
	}
	chat.Participants = users

	// Push the new membership into the live layer for anyone already
	// connected; the room manager is never polled.
	for _, id := range participantIDs {
		s.rt.AddParticipant(id, chat.ID)
	}
	return chat, nil
}

func (s *ChatService) GetChat(ctx context.Context, userID, chatID int) (*models.Chat, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	chat, err := s.db.GetChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, realtime.ErrNotFound
		}
		return nil, err
	}
	return s.attachChatDetails(ctx, userID, chat)
}

func (s *ChatService) ListChats(ctx context.Context, userID int) ([]*models.Chat, error) {
	chats, err := s.db.ListUserChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, chat := range chats {
		if _, err := s.attachChatDetails(ctx, userID, chat); err != nil {
			logger.Error("Attaching details for chat %d: %v", chat.ID, err)
		}
	}
	return chats, nil
}

func (s *ChatService) UpdateChat(ctx context.Context, userID, chatID int, req *models.UpdateChatRequest) (*models.Chat, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	chat, err := s.db.UpdateChat(ctx, chatID, req.Name, req.Avatar)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, realtime.ErrNotFound
		}
		return nil, err
	}
	return s.attachChatDetails(ctx, userID, chat)
}

// DeleteChat removes the chat and its messages for good. Any
// participant may delete; the live layer is told immediately so no
// session keeps a subscription to a room that is gone.
func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID int) error {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if err := s.db.DeleteChat(ctx, chatID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return realtime.ErrNotFound
		}
		return err
	}
	s.rt.RemoveChat(chatID)
	return nil
}

// SearchChats finds the caller's chats whose name matches the query.
func (s *ChatService) SearchChats(ctx context.Context, userID int, query string) ([]*models.Chat, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	chats, err := s.db.SearchUserChats(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	for _, chat := range chats {
		if _, err := s.attachChatDetails(ctx, userID, chat); err != nil {
			logger.Error("Attaching details for chat %d: %v", chat.ID, err)
		}
	}
	return chats, nil
}

func (s *ChatService) AddParticipant(ctx context.Context, actorID, chatID, userID int) error {
	if err := s.requireParticipant(ctx, chatID, actorID); err != nil {
		return err
	}
	if _, err := s.db.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrParticipantsNotFound
		}
		return err
	}
	if err := s.db.AddParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	s.rt.AddParticipant(userID, chatID)
	return nil
}

// ListMessages returns one page oldest-first and marks the fetched
// messages read for the caller, mirroring what a client rendering the
// page would report anyway.
func (s *ChatService) ListMessages(ctx context.Context, userID, chatID, page, limit int) ([]*models.Message, int, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, 0, err
	}

	messages, total, err := s.db.ListMessages(ctx, chatID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachSenders(ctx, messages); err != nil {
		return nil, 0, err
	}

	for _, msg := range messages {
		if msg.SenderID == userID || isReadBy(msg, userID) {
			continue
		}
		if _, err := s.rt.Receipts().MarkRead(ctx, userID, msg.ID); err != nil {
			logger.Error("Marking message %d read for user %d: %v", msg.ID, userID, err)
		}
	}
	return messages, total, nil
}

func (s *ChatService) SendMessage(ctx context.Context, userID, chatID int, req *models.SendMessageRequest) (*models.Message, error) {
	identity, err := s.identityOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.rt.Dispatcher().Send(ctx, identity, chatID, req.Message, req.Type)
}

func (s *ChatService) EditMessage(ctx context.Context, userID int, messageID int64, newBody string) (*models.Message, error) {
	identity, err := s.identityOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.rt.Dispatcher().Edit(ctx, identity, messageID, newBody)
}

func (s *ChatService) DeleteMessage(ctx context.Context, userID int, messageID int64) error {
	identity, err := s.identityOf(ctx, userID)
	if err != nil {
		return err
	}
	return s.rt.Dispatcher().SoftDelete(ctx, identity, messageID)
}

func (s *ChatService) MarkRead(ctx context.Context, userID, chatID int, messageIDs []int64) error {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return err
	}
	if len(messageIDs) == 0 {
		_, err := s.rt.Receipts().MarkAllRead(ctx, userID, chatID)
		return err
	}
	for _, id := range messageIDs {
		if _, err := s.rt.Receipts().MarkRead(ctx, userID, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChatService) UnreadCount(ctx context.Context, userID, chatID int) (int, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return 0, err
	}
	return s.rt.Receipts().UnreadCount(ctx, userID, chatID)
}

func (s *ChatService) requireParticipant(ctx context.Context, chatID, userID int) error {
	ok, err := s.db.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return realtime.ErrNotAParticipant
	}
	return nil
}

func (s *ChatService) identityOf(ctx context.Context, userID int) (realtime.Identity, error) {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return realtime.Identity{}, err
	}
	return realtime.Identity{ID: user.ID, Username: user.Username, Avatar: user.Avatar}, nil
}

func (s *ChatService) attachChatDetails(ctx context.Context, userID int, chat *models.Chat) (*models.Chat, error) {
	ids, err := s.db.ListParticipantIDs(ctx, chat.ID)
	if err != nil {
		return chat, err
	}
	if chat.Participants, err = s.db.GetUsersByIDs(ctx, ids); err != nil {
		return chat, err
	}

	if chat.LastMessageID != nil {
		msg, err := s.db.GetMessageByID(ctx, *chat.LastMessageID)
		if err == nil && !msg.Deleted {
			chat.LastMessage = msg
		}
	}

	n, err := s.rt.Receipts().UnreadCount(ctx, userID, chat.ID)
	if err != nil {
		return chat, err
	}
	chat.UnreadCount = n
	return chat, nil
}

func (s *ChatService) attachSenders(ctx context.Context, messages []*models.Message) error {
	senderIDs := lo.Uniq(lo.Map(messages, func(m *models.Message, _ int) int { return m.SenderID }))
	if len(senderIDs) == 0 {
		return nil
	}
	users, err := s.db.GetUsersByIDs(ctx, senderIDs)
	if err != nil {
		return err
	}
	byID := lo.KeyBy(users, func(u *models.User) int { return u.ID })
	for _, msg := range messages {
		msg.Sender = byID[msg.SenderID]
	}
	return nil
}

func isReadBy(msg *models.Message, userID int) bool {
	for _, r := range msg.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
