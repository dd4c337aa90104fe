package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// chatDirectory is the persisted participant store. It is the source of
// truth for who may subscribe to a room; live subscriptions are only
// ever a subset of it.
type chatDirectory interface {
	ListUserChatIDs(ctx context.Context, userID int) ([]int, error)
	IsParticipant(ctx context.Context, chatID, userID int) (bool, error)
}

// RoomMembershipManager tracks which sessions are subscribed to which
// rooms. Joins are always re-verified against the persisted participant
// list; a previous subscription is never taken as proof of membership.
type RoomMembershipManager struct {
	mu        sync.Mutex
	byRoom    map[int]map[string]struct{}
	bySession map[string]map[int]struct{}

	chats   chatDirectory
	timeout time.Duration
}

func NewRoomMembershipManager(chats chatDirectory, storeTimeout time.Duration) *RoomMembershipManager {
	return &RoomMembershipManager{
		byRoom:    make(map[int]map[string]struct{}),
		bySession: make(map[string]map[int]struct{}),
		chats:     chats,
		timeout:   storeTimeout,
	}
}

// PersistedRooms returns the identity's persisted chat list.
func (m *RoomMembershipManager) PersistedRooms(ctx context.Context, identityID int) ([]int, error) {
	tctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.chats.ListUserChatIDs(tctx, identityID)
}

// OnConnect loads the identity's persisted chat list and subscribes the
// new session to each room. Returns the room IDs subscribed.
func (m *RoomMembershipManager) OnConnect(ctx context.Context, sessionID string, identityID int) ([]int, error) {
	chatIDs, err := m.PersistedRooms(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("loading chats for user %d: %w", identityID, err)
	}

	m.mu.Lock()
	for _, chatID := range chatIDs {
		m.subscribeLocked(sessionID, chatID)
	}
	m.mu.Unlock()
	return chatIDs, nil
}

// Join subscribes one session to a room after re-verifying persisted
// participation.
func (m *RoomMembershipManager) Join(ctx context.Context, sessionID string, identityID, roomID int) error {
	tctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	ok, err := m.chats.IsParticipant(tctx, roomID, identityID)
	if err != nil {
		return fmt.Errorf("verifying participation in chat %d: %w", roomID, err)
	}
	if !ok {
		return ErrNotAParticipant
	}

	m.mu.Lock()
	m.subscribeLocked(sessionID, roomID)
	m.mu.Unlock()
	return nil
}

// Leave unsubscribes only this session; other connections of the same
// identity keep their subscriptions.
func (m *RoomMembershipManager) Leave(sessionID string, roomID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms, ok := m.bySession[sessionID]
	if !ok {
		return false
	}
	if _, ok := rooms[roomID]; !ok {
		return false
	}
	delete(rooms, roomID)
	m.removeFromRoomLocked(sessionID, roomID)
	return true
}

// Subscribe adds a session to a room without re-checking the store. It
// is the push entry point for external chat mutation (a user added as a
// participant) where the caller has just written the membership fact.
func (m *RoomMembershipManager) Subscribe(sessionID string, roomID int) {
	m.mu.Lock()
	m.subscribeLocked(sessionID, roomID)
	m.mu.Unlock()
}

// OnDisconnect drops every subscription of the session and returns the
// rooms it was in.
func (m *RoomMembershipManager) OnDisconnect(sessionID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms := m.bySession[sessionID]
	delete(m.bySession, sessionID)

	roomIDs := make([]int, 0, len(rooms))
	for roomID := range rooms {
		m.removeFromRoomLocked(sessionID, roomID)
		roomIDs = append(roomIDs, roomID)
	}
	return roomIDs
}

// DropRoom removes every session's subscription to a room that no
// longer exists.
func (m *RoomMembershipManager) DropRoom(roomID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID := range m.byRoom[roomID] {
		delete(m.bySession[sessionID], roomID)
	}
	delete(m.byRoom, roomID)
}

func (m *RoomMembershipManager) Sessions(roomID int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]string, 0, len(m.byRoom[roomID]))
	for sessionID := range m.byRoom[roomID] {
		sessions = append(sessions, sessionID)
	}
	return sessions
}

func (m *RoomMembershipManager) IsSubscribed(sessionID string, roomID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bySession[sessionID][roomID]
	return ok
}

func (m *RoomMembershipManager) subscribeLocked(sessionID string, roomID int) {
	if m.byRoom[roomID] == nil {
		m.byRoom[roomID] = make(map[string]struct{})
	}
	m.byRoom[roomID][sessionID] = struct{}{}
	if m.bySession[sessionID] == nil {
		m.bySession[sessionID] = make(map[int]struct{})
	}
	m.bySession[sessionID][roomID] = struct{}{}
}

func (m *RoomMembershipManager) removeFromRoomLocked(sessionID string, roomID int) {
	if members := m.byRoom[roomID]; members != nil {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(m.byRoom, roomID)
		}
	}
}
