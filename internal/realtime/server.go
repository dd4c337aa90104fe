// Package realtime is the delivery and presence core: live websocket
// sessions, room subscriptions, online state, message fan-out, read
// receipts and typing indicators, kept consistent under concurrent
// connects, disconnects, sends and reads. Everything here runs in a
// single process; persistence and authorization facts live behind the
// store interfaces.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"chat-server/internal/database"
	"chat-server/pkg/logger"

	"github.com/gorilla/websocket"
)

type Config struct {
	StoreTimeout time.Duration
	TypingTTL    time.Duration
	SendBuffer   int
}

// Server wires the core components together and routes inbound events
// to them. It is constructed once at startup and shut down with the
// process; nothing in this package is reachable through globals.
type Server struct {
	registry   *ConnectionRegistry
	presence   *PresenceTracker
	rooms      *RoomMembershipManager
	receipts   *ReadReceiptTracker
	typing     *TypingIndicatorBroadcaster
	dispatcher *MessageDispatcher

	sendBuffer int
}

func NewServer(db database.Database, cfg Config) *Server {
	rooms := NewRoomMembershipManager(db, cfg.StoreTimeout)
	registry := NewConnectionRegistry(rooms)
	receipts := NewReadReceiptTracker(db, cfg.StoreTimeout)

	return &Server{
		registry:   registry,
		presence:   NewPresenceTracker(registry, db, cfg.StoreTimeout),
		rooms:      rooms,
		receipts:   receipts,
		typing:     NewTypingIndicatorBroadcaster(registry, cfg.TypingTTL),
		dispatcher: NewMessageDispatcher(db, db, registry, receipts, cfg.StoreTimeout),
		sendBuffer: cfg.SendBuffer,
	}
}

func (s *Server) Registry() *ConnectionRegistry       { return s.registry }
func (s *Server) Presence() *PresenceTracker          { return s.presence }
func (s *Server) Receipts() *ReadReceiptTracker       { return s.receipts }
func (s *Server) Dispatcher() *MessageDispatcher      { return s.dispatcher }
func (s *Server) Typing() *TypingIndicatorBroadcaster { return s.typing }

// HandleConnection takes an already-authenticated upgraded connection
// through registration: register with the registry, subscribe to every
// persisted chat, flip presence online, then start the pumps.
func (s *Server) HandleConnection(ctx context.Context, identity Identity, conn *websocket.Conn) error {
	client := newClient(s, conn, identity, s.sendBuffer)
	if err := s.attach(ctx, client); err != nil {
		return err
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// attach runs the registration sequence: register with the registry,
// subscribe to every persisted chat, flip presence online.
func (s *Server) attach(ctx context.Context, client *Client) error {
	sessionID := s.registry.Register(client)

	roomIDs, err := s.rooms.OnConnect(ctx, sessionID, client.identity.ID)
	if err != nil {
		s.registry.Deregister(sessionID)
		client.close()
		return err
	}

	s.presence.ConnectionAdded(ctx, client.identity, sessionID, roomIDs)
	logger.Info("User %s (%d) connected, session %s, %d rooms", client.identity.Username, client.identity.ID, sessionID, len(roomIDs))
	return nil
}

// AddParticipant is the push entry point for external chat mutation:
// after the store gains a participant, their live sessions are
// subscribed here. The room manager is never polled for this.
func (s *Server) AddParticipant(identityID, roomID int) {
	for _, sessionID := range s.registry.SessionsOf(identityID) {
		s.rooms.Subscribe(sessionID, roomID)
	}
}

// RemoveChat is the push entry point for chat deletion: live
// subscriptions and cached unread counters for the room are dropped.
func (s *Server) RemoveChat(roomID int) {
	s.rooms.DropRoom(roomID)
	s.receipts.OnChatDeleted(roomID)
}

func (s *Server) Shutdown() {
	s.typing.Shutdown()
	for _, c := range s.registry.allClients() {
		c.close()
	}
}

// disconnect runs synchronously with transport close: subscriptions,
// registration and presence are reversed before the read pump returns.
func (s *Server) disconnect(c *Client) {
	ctx := context.Background()

	roomIDs := s.rooms.OnDisconnect(c.sessionID)
	s.registry.Deregister(c.sessionID)

	// The session's own subscriptions understate the identity's rooms
	// after a per-session leave; the offline broadcast covers the
	// persisted chat list, same as the online one does.
	if s.registry.ConnectionCount(c.identity.ID) == 0 {
		if persisted, err := s.rooms.PersistedRooms(ctx, c.identity.ID); err != nil {
			logger.Error("Loading chats for user %d on disconnect: %v", c.identity.ID, err)
		} else {
			roomIDs = persisted
		}
	}

	if wentOffline := s.presence.ConnectionRemoved(ctx, c.identity, roomIDs); wentOffline {
		s.typing.ClearIdentity(c.identity, roomIDs)
	}
	logger.Info("User %s (%d) disconnected, session %s", c.identity.Username, c.identity.ID, c.sessionID)
}

func (s *Server) handleFrame(c *Client, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError("invalid frame")
		return
	}

	ctx := context.Background()
	logger.Debug("Frame %s from user %d session %s", frame.Event, c.identity.ID, c.sessionID)

	switch frame.Event {
	case EventJoin:
		var cmd JoinCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil || cmd.RoomID <= 0 {
			c.sendError("invalid join payload")
			return
		}
		s.handleJoin(ctx, c, cmd)

	case EventLeave:
		var cmd LeaveCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil || cmd.RoomID <= 0 {
			c.sendError("invalid leave payload")
			return
		}
		s.handleLeave(c, cmd)

	case EventMessage:
		var cmd MessageCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil {
			c.sendError("invalid message payload")
			return
		}
		s.handleMessage(ctx, c, cmd)

	case EventUserTyping:
		var cmd TypingCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil || cmd.ChatID <= 0 {
			c.sendError("invalid typing payload")
			return
		}
		s.typing.Start(c.identity, cmd.ChatID, c.sessionID)

	case EventUserStoppedTyping:
		var cmd TypingCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil || cmd.ChatID <= 0 {
			c.sendError("invalid typing payload")
			return
		}
		s.typing.Stop(c.identity, cmd.ChatID, c.sessionID)

	default:
		c.sendError("unknown event")
	}
}

func (s *Server) handleJoin(ctx context.Context, c *Client, cmd JoinCommand) {
	if err := s.rooms.Join(ctx, c.sessionID, c.identity.ID, cmd.RoomID); err != nil {
		c.sendError(userMessage(err))
		return
	}
	s.registry.SendToRoom(cmd.RoomID, EventUserJoined, PresenceEvent{
		UserID:   c.identity.ID,
		Username: c.identity.Username,
		ChatID:   cmd.RoomID,
	}, c.sessionID)
}

func (s *Server) handleLeave(c *Client, cmd LeaveCommand) {
	if !s.rooms.Leave(c.sessionID, cmd.RoomID) {
		return
	}
	s.registry.SendToRoom(cmd.RoomID, EventUserLeft, PresenceEvent{
		UserID:   c.identity.ID,
		Username: c.identity.Username,
		ChatID:   cmd.RoomID,
	}, c.sessionID)
}

func (s *Server) handleMessage(ctx context.Context, c *Client, cmd MessageCommand) {
	if _, err := s.dispatcher.Send(ctx, c.identity, cmd.ChatID, cmd.Message, cmd.Type); err != nil {
		logger.Error("Send from user %d to chat %d: %v", c.identity.ID, cmd.ChatID, err)
		c.sendError(userMessage(err))
	}
}

// userMessage maps the error taxonomy onto client-facing text without
// leaking storage details.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "Chat ID and message are required"
	case errors.Is(err, ErrInvalidType):
		return "Invalid message type"
	case errors.Is(err, ErrNotAParticipant), errors.Is(err, ErrNotFound):
		return "Chat not found"
	case errors.Is(err, ErrNotOwner):
		return "Not allowed"
	case errors.Is(err, ErrAlreadyDeleted):
		return "Message already deleted"
	default:
		return "Failed to send message"
	}
}
