package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTyping_BroadcastExcludesTyper(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	s := newTestServer(store)

	alice := connect(t, s, Identity{ID: 10, Username: "alice"})
	bob := connect(t, s, Identity{ID: 20, Username: "bob"})
	recvNamed(t, alice, EventUserJoined)

	s.typing.Start(alice.Identity(), 1, alice.SessionID())

	event := decodeData[PresenceEvent](t, recvNamed(t, bob, EventUserTyping))
	require.Equal(t, 10, event.UserID)
	require.Equal(t, "alice", event.Username)
	require.Equal(t, 1, event.ChatID)

	_, got := tryRecv(alice)
	require.False(t, got, "typer must not see their own indicator")
	require.True(t, s.typing.IsTyping(10, 1))
}

func TestTyping_ExplicitStop(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	s := newTestServer(store)

	alice := connect(t, s, Identity{ID: 10, Username: "alice"})
	bob := connect(t, s, Identity{ID: 20, Username: "bob"})
	recvNamed(t, alice, EventUserJoined)

	s.typing.Start(alice.Identity(), 1, alice.SessionID())
	recvNamed(t, bob, EventUserTyping)

	s.typing.Stop(alice.Identity(), 1, alice.SessionID())
	recvNamed(t, bob, EventUserStoppedTyping)
	require.False(t, s.typing.IsTyping(10, 1))

	// A second stop is a no-op, no duplicate broadcast.
	s.typing.Stop(alice.Identity(), 1, alice.SessionID())
	_, got := tryRecv(bob)
	require.False(t, got)
}

// Absence of an explicit stop expires the indicator on the server.
func TestTyping_TTLExpiry(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	s := newTestServer(store)

	alice := connect(t, s, Identity{ID: 10, Username: "alice"})
	bob := connect(t, s, Identity{ID: 20, Username: "bob"})
	recvNamed(t, alice, EventUserJoined)

	s.typing.Start(alice.Identity(), 1, alice.SessionID())
	recvNamed(t, bob, EventUserTyping)

	stopped := decodeData[PresenceEvent](t, recvNamed(t, bob, EventUserStoppedTyping))
	require.Equal(t, 10, stopped.UserID)
	require.False(t, s.typing.IsTyping(10, 1))
}

func TestTyping_RestartResetsTTL(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	s := newTestServer(store)

	alice := connect(t, s, Identity{ID: 10, Username: "alice"})
	bob := connect(t, s, Identity{ID: 20, Username: "bob"})
	recvNamed(t, alice, EventUserJoined)

	s.typing.Start(alice.Identity(), 1, alice.SessionID())
	recvNamed(t, bob, EventUserTyping)

	// Keep typing faster than the TTL; the indicator must stay alive.
	for i := 0; i < 4; i++ {
		time.Sleep(testTypingTTL / 2)
		s.typing.Start(alice.Identity(), 1, alice.SessionID())
		recvNamed(t, bob, EventUserTyping)
		_, expired := tryRecv(bob)
		require.False(t, expired, "TTL fired despite continuous typing")
	}
	require.True(t, s.typing.IsTyping(10, 1))
}

// A timer that fires at the same moment the typer restarts must not
// broadcast: the pending callback carries the old generation and is
// discarded, and only the restarted timer's own expiry ends the
// indicator.
func TestTyping_StaleExpiryIgnoredAfterRestart(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	s := newTestServer(store)

	alice := connect(t, s, Identity{ID: 10, Username: "alice"})
	bob := connect(t, s, Identity{ID: 20, Username: "bob"})
	recvNamed(t, alice, EventUserJoined)

	s.typing.Start(alice.Identity(), 1, alice.SessionID())
	recvNamed(t, bob, EventUserTyping)

	s.typing.Start(alice.Identity(), 1, alice.SessionID())
	recvNamed(t, bob, EventUserTyping)

	// The first timer fired before the restart and its callback ran
	// late, after the key was re-armed under generation 1.
	s.typing.expire(alice.Identity(), 1, 0)

	_, got := tryRecv(bob)
	require.False(t, got, "stale expiry must not broadcast")
	require.True(t, s.typing.IsTyping(10, 1))

	// The restarted timer's own expiry still ends the indicator.
	stopped := decodeData[PresenceEvent](t, recvNamed(t, bob, EventUserStoppedTyping))
	require.Equal(t, 10, stopped.UserID)
	require.False(t, s.typing.IsTyping(10, 1))
}

func TestTyping_ClearedWhenIdentityGoesOffline(t *testing.T) {
	store := newFakeStore()
	store.addChat(1, 10, 20)
	s := newTestServer(store)

	alice := connect(t, s, Identity{ID: 10, Username: "alice"})
	bob := connect(t, s, Identity{ID: 20, Username: "bob"})
	recvNamed(t, alice, EventUserJoined)

	s.typing.Start(alice.Identity(), 1, alice.SessionID())
	recvNamed(t, bob, EventUserTyping)

	s.disconnect(alice)

	events := map[string]bool{}
	events[recvEvent(t, bob).Event] = true
	events[recvEvent(t, bob).Event] = true
	require.True(t, events[EventUserLeft])
	require.True(t, events[EventUserStoppedTyping])
	require.False(t, s.typing.IsTyping(10, 1))
}
