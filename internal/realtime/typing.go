package realtime

import (
	"sync"
	"time"
)

type typingKey struct {
	identityID int
	roomID     int
}

// typingState is one armed indicator. gen changes on every restart; an
// expiry callback carrying an older gen lost a race with a restart and
// must not broadcast.
type typingState struct {
	timer *time.Timer
	gen   uint64
}

// TypingIndicatorBroadcaster holds ephemeral per-room typing state. The
// server enforces expiry itself: if no further start or an explicit
// stop arrives within the TTL, userStoppedTyping is broadcast anyway.
// Nothing here survives a restart.
type TypingIndicatorBroadcaster struct {
	mu     sync.Mutex
	active map[typingKey]*typingState

	registry *ConnectionRegistry
	ttl      time.Duration
}

func NewTypingIndicatorBroadcaster(registry *ConnectionRegistry, ttl time.Duration) *TypingIndicatorBroadcaster {
	return &TypingIndicatorBroadcaster{
		active:   make(map[typingKey]*typingState),
		registry: registry,
		ttl:      ttl,
	}
}

// Start broadcasts userTyping to the room excluding the typer's session
// and arms the expiry timer for the (identity, room) pair. A restart
// arms a fresh timer under a new generation: a fired timer's callback
// may already be pending and cannot be recalled, so it is invalidated
// instead.
func (b *TypingIndicatorBroadcaster) Start(identity Identity, roomID int, sessionID string) {
	key := typingKey{identityID: identity.ID, roomID: roomID}

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.active[key]
	if ok {
		st.timer.Stop()
		st.gen++
	} else {
		st = &typingState{}
		b.active[key] = st
	}
	gen := st.gen
	st.timer = time.AfterFunc(b.ttl, func() {
		b.expire(identity, roomID, gen)
	})

	b.registry.SendToRoom(roomID, EventUserTyping, PresenceEvent{
		UserID:   identity.ID,
		Username: identity.Username,
		ChatID:   roomID,
	}, sessionID)
}

// Stop cancels the timer and broadcasts userStoppedTyping, excluding
// the typer's own session.
func (b *TypingIndicatorBroadcaster) Stop(identity Identity, roomID int, sessionID string) {
	key := typingKey{identityID: identity.ID, roomID: roomID}

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.active[key]
	if !ok {
		return
	}
	st.timer.Stop()
	delete(b.active, key)

	b.registry.SendToRoom(roomID, EventUserStoppedTyping, PresenceEvent{
		UserID:   identity.ID,
		Username: identity.Username,
		ChatID:   roomID,
	}, sessionID)
}

// ClearIdentity stops any active indicators for an identity that went
// offline in the given rooms.
func (b *TypingIndicatorBroadcaster) ClearIdentity(identity Identity, roomIDs []int) {
	for _, roomID := range roomIDs {
		b.Stop(identity, roomID, "")
	}
}

func (b *TypingIndicatorBroadcaster) IsTyping(identityID, roomID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[typingKey{identityID: identityID, roomID: roomID}]
	return ok
}

func (b *TypingIndicatorBroadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, st := range b.active {
		st.timer.Stop()
		delete(b.active, key)
	}
}

// expire runs from the timer goroutine. The generation check and the
// stop broadcast happen in one critical section, so a restart cannot
// interleave between them.
func (b *TypingIndicatorBroadcaster) expire(identity Identity, roomID int, gen uint64) {
	key := typingKey{identityID: identity.ID, roomID: roomID}

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.active[key]
	if !ok || st.gen != gen {
		// An explicit stop or a restart won the race.
		return
	}
	delete(b.active, key)

	b.registry.SendToRoom(roomID, EventUserStoppedTyping, PresenceEvent{
		UserID:   identity.ID,
		Username: identity.Username,
		ChatID:   roomID,
	}, "")
}
