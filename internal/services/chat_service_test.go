package services

import (
	"context"
	"testing"
	"time"

	"chat-server/internal/database"
	"chat-server/internal/models"
	"chat-server/internal/realtime"

	"github.com/stretchr/testify/require"
)

// stubDB overrides only what the test under it touches; calling
// anything else panics through the embedded nil interface.
type stubDB struct {
	database.Database

	participants map[int][]int
	users        map[int]*models.User
	chats        map[int]*models.Chat
	deleted      []int
}

func newStubDB() *stubDB {
	return &stubDB{
		participants: make(map[int][]int),
		users:        make(map[int]*models.User),
		chats:        make(map[int]*models.Chat),
	}
}

func (d *stubDB) IsParticipant(_ context.Context, chatID, userID int) (bool, error) {
	for _, id := range d.participants[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *stubDB) ListParticipantIDs(_ context.Context, chatID int) ([]int, error) {
	ids, ok := d.participants[chatID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return ids, nil
}

func (d *stubDB) GetUsersByIDs(_ context.Context, ids []int) ([]*models.User, error) {
	var users []*models.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (d *stubDB) CountUnread(_ context.Context, _, _ int) (int, error) { return 0, nil }

func (d *stubDB) DeleteChat(_ context.Context, id int) error {
	if _, ok := d.chats[id]; !ok {
		return database.ErrNotFound
	}
	delete(d.chats, id)
	delete(d.participants, id)
	d.deleted = append(d.deleted, id)
	return nil
}

func (d *stubDB) SearchUserChats(_ context.Context, userID int, _ string) ([]*models.Chat, error) {
	var chats []*models.Chat
	for chatID, chat := range d.chats {
		for _, id := range d.participants[chatID] {
			if id == userID {
				chats = append(chats, chat)
			}
		}
	}
	return chats, nil
}

func newTestService(db *stubDB) *ChatService {
	rt := realtime.NewServer(db, realtime.Config{
		StoreTimeout: time.Second,
		TypingTTL:    time.Second,
		SendBuffer:   8,
	})
	return NewChatService(db, rt)
}

func TestChatService_DeleteChat(t *testing.T) {
	db := newStubDB()
	db.chats[1] = &models.Chat{ID: 1, Type: models.ChatTypeGroup}
	db.participants[1] = []int{10, 20}
	svc := newTestService(db)
	ctx := context.Background()

	err := svc.DeleteChat(ctx, 30, 1)
	require.ErrorIs(t, err, realtime.ErrNotAParticipant)
	require.Empty(t, db.deleted)

	require.NoError(t, svc.DeleteChat(ctx, 10, 1))
	require.Equal(t, []int{1}, db.deleted)

	err = svc.DeleteChat(ctx, 10, 1)
	require.ErrorIs(t, err, realtime.ErrNotAParticipant, "a deleted chat has no participants")
}

func TestChatService_SearchChats(t *testing.T) {
	db := newStubDB()
	db.users[10] = &models.User{ID: 10, Username: "alice"}
	db.users[20] = &models.User{ID: 20, Username: "bob"}
	db.chats[1] = &models.Chat{ID: 1, Name: "golang", Type: models.ChatTypeGroup}
	db.participants[1] = []int{10, 20}
	svc := newTestService(db)
	ctx := context.Background()

	_, err := svc.SearchChats(ctx, 10, "   ")
	require.ErrorIs(t, err, ErrEmptyQuery)

	chats, err := svc.SearchChats(ctx, 10, "go")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Len(t, chats[0].Participants, 2, "participant snapshots attached")
}

func TestChatService_CreateChatValidatesParticipants(t *testing.T) {
	db := newStubDB()
	svc := newTestService(db)

	_, err := svc.CreateChat(context.Background(), 10, &models.CreateChatRequest{
		Type:         models.ChatTypePrivate,
		Participants: []int{20, 30},
	})
	require.ErrorIs(t, err, ErrInvalidParticipants)
}
