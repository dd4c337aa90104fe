package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRooms_OnConnectSubscribesPersistedChats(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	store.addChat(2, 10)
	store.addChat(3, 20)
	s := newTestServer(store)

	c := connect(t, s, Identity{ID: 10, Username: "alice"})

	require.True(t, s.rooms.IsSubscribed(c.SessionID(), 1))
	require.True(t, s.rooms.IsSubscribed(c.SessionID(), 2))
	require.False(t, s.rooms.IsSubscribed(c.SessionID(), 3))
}

func TestRooms_JoinRequiresPersistedParticipation(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 20)
	s := newTestServer(store)

	c := connect(t, s, Identity{ID: 10, Username: "alice"})

	err := s.rooms.Join(context.Background(), c.SessionID(), 10, 1)
	require.ErrorIs(t, err, ErrNotAParticipant)
	require.False(t, s.rooms.IsSubscribed(c.SessionID(), 1))

	// Becoming a persisted participant makes the same join succeed.
	store.addChat(1, 20, 10)
	require.NoError(t, s.rooms.Join(context.Background(), c.SessionID(), 10, 1))
	require.True(t, s.rooms.IsSubscribed(c.SessionID(), 1))
}

// A previous subscription is never proof of membership: once the
// persisted participant list no longer has the user, a fresh join is
// rejected even though an earlier one succeeded.
func TestRooms_JoinReverifiesEveryTime(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10)
	s := newTestServer(store)

	c := connect(t, s, Identity{ID: 10, Username: "alice"})
	require.NoError(t, s.rooms.Join(context.Background(), c.SessionID(), 10, 1))

	store.addChat(1, 20) // user 10 removed from the persisted list

	err := s.rooms.Join(context.Background(), c.SessionID(), 10, 1)
	require.ErrorIs(t, err, ErrNotAParticipant)
}

func TestRooms_LeaveAffectsOnlyThatSession(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10)
	s := newTestServer(store)
	alice := Identity{ID: 10, Username: "alice"}

	phone := connect(t, s, alice)
	laptop := connect(t, s, alice)

	require.True(t, s.rooms.Leave(phone.SessionID(), 1))
	require.False(t, s.rooms.IsSubscribed(phone.SessionID(), 1))
	require.True(t, s.rooms.IsSubscribed(laptop.SessionID(), 1))

	// Leaving a room the session is not in reports false.
	require.False(t, s.rooms.Leave(phone.SessionID(), 1))
}

func TestRooms_DisconnectRemovesAllSubscriptions(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10)
	store.addChat(2, 10)
	s := newTestServer(store)

	c := connect(t, s, Identity{ID: 10, Username: "alice"})
	sessionID := c.SessionID()
	s.disconnect(c)

	require.False(t, s.rooms.IsSubscribed(sessionID, 1))
	require.False(t, s.rooms.IsSubscribed(sessionID, 2))
	require.Empty(t, s.rooms.Sessions(1))
	require.Empty(t, s.rooms.Sessions(2))
}

func TestRooms_RemoveChatDropsSubscriptionsAndCounters(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	store.addChat(2, 10)
	s := newTestServer(store)
	ctx := context.Background()

	alice := connect(t, s, Identity{ID: 10, Username: "alice"})
	bob := connect(t, s, Identity{ID: 20, Username: "bob"})

	_, err := s.dispatcher.Send(ctx, Identity{ID: 10, Username: "alice"}, 1, "hi", "text")
	require.NoError(t, err)
	n, err := s.receipts.UnreadCount(ctx, 20, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	s.RemoveChat(1)

	require.False(t, s.rooms.IsSubscribed(alice.SessionID(), 1))
	require.False(t, s.rooms.IsSubscribed(bob.SessionID(), 1))
	require.Empty(t, s.rooms.Sessions(1))
	require.True(t, s.rooms.IsSubscribed(alice.SessionID(), 2), "other rooms untouched")

	s.receipts.mu.Lock()
	_, cached := s.receipts.counts[countKey{readerID: 20, chatID: 1}]
	s.receipts.mu.Unlock()
	require.False(t, cached, "counter for the removed chat must be dropped")
}

func TestRooms_PushedMembershipSubscribesLiveSessions(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 20)
	s := newTestServer(store)
	alice := Identity{ID: 10, Username: "alice"}

	phone := connect(t, s, alice)
	laptop := connect(t, s, alice)

	// External chat mutation: user 10 becomes a participant of chat 1
	// and the change is pushed in, not polled.
	store.addChat(1, 20, 10)
	s.AddParticipant(10, 1)

	require.True(t, s.rooms.IsSubscribed(phone.SessionID(), 1))
	require.True(t, s.rooms.IsSubscribed(laptop.SessionID(), 1))
}
