package realtime

import (
	"sync"

	"chat-server/pkg/logger"

	"github.com/google/uuid"
)

// roomIndex resolves a room to the sessions currently subscribed to it.
// Implemented by RoomMembershipManager.
type roomIndex interface {
	Sessions(roomID int) []string
}

// ConnectionRegistry owns every live connection. It is the only place a
// connection is added or removed, and its contents are what presence is
// derived from. A connection leaves the maps only through Deregister.
type ConnectionRegistry struct {
	mu         sync.RWMutex
	sessions   map[string]*Client
	byIdentity map[int]map[string]*Client
	rooms      roomIndex
}

func NewConnectionRegistry(rooms roomIndex) *ConnectionRegistry {
	return &ConnectionRegistry{
		sessions:   make(map[string]*Client),
		byIdentity: make(map[int]map[string]*Client),
		rooms:      rooms,
	}
}

// Register adds a client and assigns its session ID.
func (r *ConnectionRegistry) Register(c *Client) string {
	sessionID := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	c.sessionID = sessionID
	r.sessions[sessionID] = c
	if r.byIdentity[c.identity.ID] == nil {
		r.byIdentity[c.identity.ID] = make(map[string]*Client)
	}
	r.byIdentity[c.identity.ID][sessionID] = c
	return sessionID
}

func (r *ConnectionRegistry) Deregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	if peers := r.byIdentity[c.identity.ID]; peers != nil {
		delete(peers, sessionID)
		if len(peers) == 0 {
			delete(r.byIdentity, c.identity.ID)
		}
	}
	c.closeSend()
}

func (r *ConnectionRegistry) Client(sessionID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[sessionID]
	return c, ok
}

func (r *ConnectionRegistry) SessionsOf(identityID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byIdentity[identityID]))
	for id := range r.byIdentity[identityID] {
		ids = append(ids, id)
	}
	return ids
}

func (r *ConnectionRegistry) allClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.sessions))
	for _, c := range r.sessions {
		clients = append(clients, c)
	}
	return clients
}

func (r *ConnectionRegistry) ConnectionCount(identityID int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identityID])
}

// SendToIdentity fans an event out to every live connection of one
// identity, covering multiple simultaneous devices.
func (r *ConnectionRegistry) SendToIdentity(identityID int, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		logger.Error("Encoding %s event: %v", event, err)
		return
	}

	r.mu.RLock()
	clients := make([]*Client, 0, len(r.byIdentity[identityID]))
	for _, c := range r.byIdentity[identityID] {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		r.deliver(c, frame)
	}
}

// SendToRoom fans an event out to every connection subscribed to the
// room, optionally excluding one session (typically the originator).
func (r *ConnectionRegistry) SendToRoom(roomID int, event string, payload any, excludeSession string) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		logger.Error("Encoding %s event: %v", event, err)
		return
	}

	for _, sessionID := range r.rooms.Sessions(roomID) {
		if sessionID == excludeSession {
			continue
		}
		c, ok := r.Client(sessionID)
		if !ok {
			// Session vanished between the room snapshot and delivery;
			// skip it, delivery to the rest proceeds.
			continue
		}
		r.deliver(c, frame)
	}
}

// deliver is non-blocking. A subscriber whose buffer is full gets its
// transport closed so its read pump unwinds through the normal
// disconnect path; it is never yanked from the maps here.
func (r *ConnectionRegistry) deliver(c *Client, frame []byte) {
	if !c.trySend(frame) {
		logger.Warn("Send buffer full for user %d session %s, closing connection", c.identity.ID, c.sessionID)
		c.close()
	}
}
