package realtime

import (
	"context"
	"sync"
	"time"

	"chat-server/pkg/logger"
)

// presenceStore mirrors online state into the external identity store.
// Mirror writes are best effort; the in-memory counters stay the source
// of truth.
type presenceStore interface {
	SetOnline(ctx context.Context, id int, online bool, lastSeen time.Time) error
}

type PresenceState struct {
	ConnectionCount int
	Online          bool
	LastSeen        time.Time
}

// PresenceTracker derives online/offline from per-identity connection
// counts. Count transitions happen under one mutex so a rapid
// disconnect-then-reconnect can never interleave into a spurious
// offline broadcast after the reconnect.
type PresenceTracker struct {
	mu     sync.Mutex
	states map[int]*PresenceState

	registry *ConnectionRegistry
	store    presenceStore
	timeout  time.Duration
}

func NewPresenceTracker(registry *ConnectionRegistry, store presenceStore, storeTimeout time.Duration) *PresenceTracker {
	return &PresenceTracker{
		states:   make(map[int]*PresenceState),
		registry: registry,
		store:    store,
		timeout:  storeTimeout,
	}
}

// ConnectionAdded increments the identity's connection count. On the
// 0→1 transition it broadcasts userJoined to every room the identity
// belongs to, excluding the session that just connected.
func (p *PresenceTracker) ConnectionAdded(ctx context.Context, identity Identity, sessionID string, roomIDs []int) {
	p.mu.Lock()
	s := p.states[identity.ID]
	if s == nil {
		s = &PresenceState{}
		p.states[identity.ID] = s
	}
	s.ConnectionCount++
	wentOnline := s.ConnectionCount == 1
	s.Online = true

	if wentOnline {
		for _, roomID := range roomIDs {
			p.registry.SendToRoom(roomID, EventUserJoined, PresenceEvent{
				UserID:   identity.ID,
				Username: identity.Username,
				ChatID:   roomID,
			}, sessionID)
		}
	}
	p.mu.Unlock()

	if wentOnline {
		p.mirror(ctx, identity.ID, true, time.Now())
	}
}

// ConnectionRemoved decrements the count. On the transition to zero it
// stamps lastSeen, broadcasts userLeft to the identity's rooms and
// reports true so the caller can clear dependent ephemeral state.
func (p *PresenceTracker) ConnectionRemoved(ctx context.Context, identity Identity, roomIDs []int) bool {
	now := time.Now()

	p.mu.Lock()
	s := p.states[identity.ID]
	if s == nil {
		p.mu.Unlock()
		return false
	}
	if s.ConnectionCount > 0 {
		s.ConnectionCount--
	}
	wentOffline := s.ConnectionCount == 0 && s.Online
	if wentOffline {
		s.Online = false
		s.LastSeen = now
		for _, roomID := range roomIDs {
			p.registry.SendToRoom(roomID, EventUserLeft, PresenceEvent{
				UserID:   identity.ID,
				Username: identity.Username,
				ChatID:   roomID,
			}, "")
		}
	}
	p.mu.Unlock()

	if wentOffline {
		p.mirror(ctx, identity.ID, false, now)
	}
	return wentOffline
}

func (p *PresenceTracker) IsOnline(identityID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.states[identityID]
	return s != nil && s.Online
}

func (p *PresenceTracker) State(identityID int) PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.states[identityID]; s != nil {
		return *s
	}
	return PresenceState{}
}

func (p *PresenceTracker) mirror(ctx context.Context, identityID int, online bool, lastSeen time.Time) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.store.SetOnline(tctx, identityID, online, lastSeen); err != nil {
		logger.Error("Mirroring presence for user %d: %v", identityID, err)
	}
}
