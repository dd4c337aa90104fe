package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresence_OnlineIffConnected(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	s := newTestServer(store)
	alice := Identity{ID: 10, Username: "alice"}

	require.False(t, s.presence.IsOnline(10))

	c1 := connect(t, s, alice)
	require.True(t, s.presence.IsOnline(10))

	c2 := connect(t, s, alice)
	require.True(t, s.presence.IsOnline(10))

	s.disconnect(c1)
	require.True(t, s.presence.IsOnline(10), "still one connection registered")

	s.disconnect(c2)
	require.False(t, s.presence.IsOnline(10))
	require.False(t, s.presence.State(10).LastSeen.IsZero())
}

func TestPresence_OnlineIffConnected_Interleaved(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10)
	s := newTestServer(store)
	alice := Identity{ID: 10, Username: "alice"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := connect(t, s, alice)
			s.disconnect(c)
		}()
	}
	wg.Wait()

	require.False(t, s.presence.IsOnline(10))
	require.Zero(t, s.presence.State(10).ConnectionCount)
	require.Zero(t, s.registry.ConnectionCount(10))
}

// A rapid disconnect-then-reconnect must not leave the identity marked
// offline: the decrement and the following increment are serialized,
// so the offline transition only fires when the count truly reaches
// zero and stays there.
func TestPresence_RapidReconnect(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	s := newTestServer(store)
	alice := Identity{ID: 10, Username: "alice"}
	bob := Identity{ID: 20, Username: "bob"}

	observer := connect(t, s, bob)

	c1 := connect(t, s, alice)
	recvNamed(t, observer, EventUserJoined)

	c2 := connect(t, s, alice) // reconnect lands before the old session dies
	s.disconnect(c1)

	require.True(t, s.presence.IsOnline(10))
	_, got := tryRecv(observer)
	require.False(t, got, "no offline broadcast while a connection remains")

	s.disconnect(c2)
	require.False(t, s.presence.IsOnline(10))
	left := recvNamed(t, observer, EventUserLeft)
	require.Equal(t, 10, decodeData[PresenceEvent](t, left).UserID)
}

func TestPresence_BroadcastsToRooms(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	store.addChat(2, 10, 30)
	s := newTestServer(store)

	bob := connect(t, s, Identity{ID: 20, Username: "bob"})
	carol := connect(t, s, Identity{ID: 30, Username: "carol"})

	connect(t, s, Identity{ID: 10, Username: "alice"})

	joinedBob := recvNamed(t, bob, EventUserJoined)
	require.Equal(t, 1, decodeData[PresenceEvent](t, joinedBob).ChatID)

	joinedCarol := recvNamed(t, carol, EventUserJoined)
	require.Equal(t, 2, decodeData[PresenceEvent](t, joinedCarol).ChatID)
}

// Leaving a room stops the session's live subscription but not its
// persisted membership, so the offline broadcast still reaches that
// room.
func TestPresence_OfflineBroadcastCoversPersistedRooms(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	store.addChat(2, 10, 20)
	s := newTestServer(store)

	alice := connect(t, s, Identity{ID: 10, Username: "alice"})
	bob := connect(t, s, Identity{ID: 20, Username: "bob"})
	recvNamed(t, alice, EventUserJoined)
	recvNamed(t, alice, EventUserJoined)

	require.True(t, s.rooms.Leave(alice.SessionID(), 1))
	s.disconnect(alice)

	left := map[int]bool{}
	for i := 0; i < 2; i++ {
		event := decodeData[PresenceEvent](t, recvNamed(t, bob, EventUserLeft))
		require.Equal(t, 10, event.UserID)
		left[event.ChatID] = true
	}
	require.True(t, left[1], "offline missed the room left earlier in the session")
	require.True(t, left[2])
}

func TestPresence_MirrorsIntoStore(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10)
	s := newTestServer(store)
	alice := Identity{ID: 10, Username: "alice"}

	c := connect(t, s, alice)
	require.True(t, store.online[10])

	s.disconnect(c)
	require.False(t, store.online[10])
	require.False(t, store.lastSeen[10].IsZero())
}
