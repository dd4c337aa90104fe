package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-server/internal/database"
	"chat-server/internal/models"

	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory stand-in for the external stores the core
// talks to. Failure toggles let tests exercise the partial-failure
// paths without a real database.
type fakeStore struct {
	mu           sync.Mutex
	participants map[int][]int // chatID -> userIDs
	messages     map[int64]*models.Message
	reads        map[int64]map[int]time.Time
	nextID       int64

	online   map[int]bool
	lastSeen map[int]time.Time

	failCreate   bool
	failSummary  bool
	summaryCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants: make(map[int][]int),
		messages:     make(map[int64]*models.Message),
		reads:        make(map[int64]map[int]time.Time),
		online:       make(map[int]bool),
		lastSeen:     make(map[int]time.Time),
	}
}

func (f *fakeStore) addChat(chatID int, userIDs ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[chatID] = userIDs
}

func (f *fakeStore) ListUserChatIDs(_ context.Context, userID int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int
	for chatID, users := range f.participants {
		for _, id := range users {
			if id == userID {
				ids = append(ids, chatID)
			}
		}
	}
	return ids, nil
}

func (f *fakeStore) IsParticipant(_ context.Context, chatID, userID int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.participants[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListParticipantIDs(_ context.Context, chatID int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users, ok := f.participants[chatID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return append([]int(nil), users...), nil
}

func (f *fakeStore) UpdateLastMessage(_ context.Context, chatID int, messageID int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	if f.failSummary {
		return errors.New("summary store down")
	}
	return nil
}

func (f *fakeStore) SetOnline(_ context.Context, id int, online bool, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[id] = online
	f.lastSeen[id] = lastSeen
	return nil
}

func (f *fakeStore) CreateMessage(_ context.Context, chatID, senderID int, body, msgType string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, errors.New("storage down")
	}
	f.nextID++
	msg := &models.Message{
		ID:        f.nextID,
		ChatID:    chatID,
		SenderID:  senderID,
		Body:      body,
		Type:      msgType,
		CreatedAt: time.Now(),
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeStore) GetMessageByID(_ context.Context, id int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeStore) UpdateMessageBody(_ context.Context, id int64, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return database.ErrNotFound
	}
	msg.Body = body
	return nil
}

func (f *fakeStore) SoftDeleteMessage(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return database.ErrNotFound
	}
	msg.Deleted = true
	msg.DeletedAt = &at
	return nil
}

func (f *fakeStore) MarkRead(_ context.Context, messageID int64, readerID int, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return false, database.ErrNotFound
	}
	if f.reads[messageID] == nil {
		f.reads[messageID] = make(map[int]time.Time)
	}
	if _, ok := f.reads[messageID][readerID]; ok {
		return false, nil
	}
	f.reads[messageID][readerID] = at
	return true, nil
}

func (f *fakeStore) ListUnreadIDs(_ context.Context, chatID, readerID int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, msg := range f.messages {
		if msg.ChatID != chatID || msg.Deleted {
			continue
		}
		if _, ok := f.reads[msg.ID][readerID]; !ok {
			ids = append(ids, msg.ID)
		}
	}
	return ids, nil
}

func (f *fakeStore) CountUnread(_ context.Context, chatID, readerID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.messages {
		if msg.ChatID != chatID || msg.Deleted || msg.SenderID == readerID {
			continue
		}
		if _, ok := f.reads[msg.ID][readerID]; !ok {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStore) readEntries(messageID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads[messageID])
}

const testTypingTTL = 100 * time.Millisecond

func newTestServer(store *fakeStore) *Server {
	rooms := NewRoomMembershipManager(store, time.Second)
	registry := NewConnectionRegistry(rooms)
	receipts := NewReadReceiptTracker(store, time.Second)
	return &Server{
		registry:   registry,
		presence:   NewPresenceTracker(registry, store, time.Second),
		rooms:      rooms,
		receipts:   receipts,
		typing:     NewTypingIndicatorBroadcaster(registry, testTypingTTL),
		dispatcher: NewMessageDispatcher(store, store, registry, receipts, time.Second),
		sendBuffer: 32,
	}
}

// connect attaches a transport-less client, running the same sequence a
// real websocket connection goes through.
func connect(t *testing.T, s *Server, identity Identity) *Client {
	t.Helper()
	c := newClient(s, nil, identity, s.sendBuffer)
	require.NoError(t, s.attach(context.Background(), c))
	return c
}

func recvEvent(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case data := <-c.send:
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return Frame{}
}

func recvNamed(t *testing.T, c *Client, event string) Frame {
	t.Helper()
	f := recvEvent(t, c)
	require.Equal(t, event, f.Event)
	return f
}

func tryRecv(c *Client) (Frame, bool) {
	select {
	case data := <-c.send:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return Frame{}, false
		}
		return f, true
	default:
		return Frame{}, false
	}
}

func decodeData[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}
