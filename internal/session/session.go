// Package session implements per-connection lifecycle from handshake
// through active relay to teardown. The pumps talk to a narrow wsConn
// interface rather than *websocket.Conn directly, so tests can drive the
// state machine with a fake socket.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabhub/backend/internal/auth"
	"github.com/collabhub/backend/internal/bus"
	"github.com/collabhub/backend/internal/herrors"
	"github.com/collabhub/backend/internal/logging"
	"github.com/collabhub/backend/internal/metrics"
	"github.com/collabhub/backend/internal/models"
	"github.com/collabhub/backend/internal/registry"
	"github.com/collabhub/backend/internal/roomcache"
	"github.com/collabhub/backend/internal/store"
	"github.com/collabhub/backend/internal/wire"
)

// State is one of the four states in a session's lifecycle.
type State int

const (
	Pending State = iota
	Active
	Closing
	Closed
)

// wsConn is the subset of *websocket.Conn the pumps use — it lets tests
// drive the state machine with a fake socket instead of a real one.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Config carries the runtime tunables that govern one session.
type Config struct {
	OutboundQueue     int
	MaxFrameBytes     int64
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	WriteWait         time.Duration
	JWTSecret         string
}

// Deps are the collaborators a Session needs to execute its transition
// table; all are process-wide singletons owned by the Hub.
type Deps struct {
	Repo     store.Repository
	Cache    *roomcache.Cache
	Registry *registry.Registry
	Bus      *bus.Bus
}

// Session is one socket's state machine instance.
type Session struct {
	clientID string
	conn     wsConn
	cfg      Config
	deps     Deps

	mu       sync.RWMutex
	state    State
	roomID   string
	user     models.User
	joinedAt time.Time

	outbound   chan []byte
	closeOnce  sync.Once
	unsubBus   func()
}

// New constructs a Pending session wrapping conn. clientID is the
// server-minted id from the Hub.
func New(clientID string, conn wsConn, cfg Config, deps Deps) *Session {
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = 256
	}
	return &Session{
		clientID: clientID,
		conn:     conn,
		cfg:      cfg,
		deps:     deps,
		state:    Pending,
		outbound: make(chan []byte, cfg.OutboundQueue),
	}
}

// --- registry.Session interface ---

func (s *Session) ClientID() string       { return s.clientID }
func (s *Session) JoinedAt() time.Time    { s.mu.RLock(); defer s.mu.RUnlock(); return s.joinedAt }
func (s *Session) User() models.User      { s.mu.RLock(); defer s.mu.RUnlock(); return s.user }

// Enqueue offers frame to the outbound queue without blocking. Overflow (a
// full queue, or a session already past Active) returns false.
func (s *Session) Enqueue(frame []byte) bool {
	s.mu.RLock()
	closing := s.state == Closing || s.state == Closed
	s.mu.RUnlock()
	if closing {
		return false
	}
	select {
	case s.outbound <- frame:
		return true
	default:
		return false
	}
}

// Teardown is called by the Registry (on overflow) or by the Hub (when
// force-closing sessions at shutdown) to begin Closing.
func (s *Session) Teardown(reason string) {
	s.beginClosing(context.Background(), reason)
}

func (s *Session) getState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run drives the session to completion: starts the writer pump, reads
// frames until the socket closes or the state machine transitions to
// Closing, then tears down exactly once. It blocks until the session is
// fully Closed.
func (s *Session) Run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	s.readPump(ctx)

	s.beginClosing(ctx, "socket closed")
	<-writerDone
}

func (s *Session) readPump(ctx context.Context) {
	// gorilla/websocket enforces this at the frame-read level: exceeding it
	// fails ReadMessage outright, which this loop treats like any other
	// socket error and closes the session.
	s.conn.SetReadLimit(s.cfg.MaxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if s.getState() == Closing || s.getState() == Closed {
			return
		}

		s.handle(ctx, data)

		if s.getState() == Closing {
			return
		}
	}
}

func (s *Session) writePump() {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	defer s.conn.Close()

	for {
		select {
		case frame, ok := <-s.outbound:
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-heartbeat.C:
			hb, _ := wire.Encode(wire.HeartbeatFrame{Type: wire.TypeHeartbeat, Timestamp: time.Now().UnixMilli()})
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, hb); err != nil {
				return
			}
		}
	}
}

// handle dispatches one decoded inbound frame per the session's state.
func (s *Session) handle(ctx context.Context, raw []byte) {
	in, err := wire.Decode(raw)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("unknown", "invalid").Inc()
		s.sendError(wire.CodeInvalidMessage, err.Error())
		return
	}

	state := s.getState()

	switch {
	case in.Type == wire.TypeConnect:
		if state != Pending {
			s.sendError(wire.CodeAlreadyConnected, "already connected")
			metrics.WebsocketEvents.WithLabelValues(in.Type, "rejected").Inc()
			return
		}
		s.handleConnect(ctx, in.Connect)
		return
	case state == Pending:
		s.sendError(wire.CodeNotConnected, "connect required first")
		metrics.WebsocketEvents.WithLabelValues(in.Type, "rejected").Inc()
		s.beginClosing(ctx, "not connected")
		return
	}

	metrics.WebsocketEvents.WithLabelValues(in.Type, "ok").Inc()
	switch in.Type {
	case wire.TypeUpdate:
		s.handleUpdate(ctx, in.Update)
	case wire.TypePresence:
		s.handlePresence(ctx, in.Presence)
	case wire.TypeChat:
		s.handleChat(ctx, in.Chat)
	case wire.TypeHeartbeat:
		hb, _ := wire.Encode(wire.HeartbeatFrame{Type: wire.TypeHeartbeat, Timestamp: in.Heartbeat.Timestamp})
		s.Enqueue(hb)
	case wire.TypeLeave:
		s.beginClosing(ctx, "leave")
	default:
		s.sendError(wire.CodeInvalidMessage, "unsupported frame type")
	}
}

func (s *Session) handleConnect(ctx context.Context, f *wire.ConnectFrame) {
	if f.RoomID == "" {
		s.sendError(wire.CodeInvalidMessage, "roomId is required")
		s.beginClosing(ctx, "invalid connect")
		return
	}
	if err := auth.ValidateConnectToken(f.Token, s.cfg.JWTSecret); err != nil {
		s.sendError(wire.CodeUnauthorized, err.Error())
		s.beginClosing(ctx, "unauthorized")
		return
	}

	ctx = logging.WithRoom(logging.WithClient(ctx, s.clientID), f.RoomID)

	room, err := s.deps.Repo.FindRoom(ctx, f.RoomID)
	if err != nil {
		s.failHandshake(ctx, err)
		return
	}
	if room == nil {
		room, err = s.deps.Repo.CreateRoom(ctx, f.RoomID, f.RoomID, f.User.ID, models.VisibilityPublic)
		if err != nil && !errors.Is(err, herrors.ErrAlreadyExists) {
			s.failHandshake(ctx, err)
			return
		}
	}

	now := time.Now()
	store.RetryTouchRoom(ctx, s.deps.Repo, f.RoomID, now)

	if _, err := s.deps.Repo.RecordJoin(ctx, f.RoomID, f.User.ID, s.clientID, f.User.Name, f.User.Color, models.RoleEditor); err != nil {
		s.failHandshake(ctx, err)
		return
	}

	if _, err := s.deps.Cache.Acquire(ctx, f.RoomID); err != nil {
		s.failHandshake(ctx, err)
		return
	}

	s.mu.Lock()
	s.roomID = f.RoomID
	s.user = f.User
	s.joinedAt = now
	s.state = Active
	s.mu.Unlock()

	// Build and enqueue this session's own sync-response before Attach makes
	// it visible to Registry.Broadcast, so no peer frame can land on this
	// session's outbound queue ahead of its own sync-response.
	full := s.deps.Cache.EncodeFull(f.RoomID)
	members := s.deps.Registry.RoomMembers(f.RoomID)
	resp := wire.SyncResponseFrame{
		Type:         wire.TypeSyncResponse,
		SnapshotData: wire.EncodeDelta(full),
		Participants: members,
	}
	if data, err := wire.Encode(resp); err == nil {
		s.Enqueue(data)
	}

	if err := s.deps.Registry.Attach(s, f.RoomID); err != nil {
		s.failHandshake(ctx, err)
		return
	}

	metrics.IncConnection()

	s.unsubBus = s.deps.Bus.Subscribe(ctx, f.RoomID, s.onBusMessage)

	join := wire.JoinFrame{Type: wire.TypeJoin, User: f.User, ClientID: s.clientID, RoomID: f.RoomID}
	if data, err := wire.Encode(join); err == nil {
		s.deps.Registry.Broadcast(f.RoomID, data, s.clientID)
	}
}

// failHandshake handles a fatal Repository error at handshake time: fatal
// for this session, never for peers.
func (s *Session) failHandshake(ctx context.Context, err error) {
	logging.Error(ctx, "handshake failed", zap.Error(err))
	s.sendError(wire.CodeInternal, "failed to join room")
	s.beginClosing(ctx, "handshake failure")
}

func (s *Session) handleUpdate(ctx context.Context, f *wire.UpdateFrame) {
	delta, err := wire.DecodeDelta(f.Delta)
	if err != nil {
		s.sendError(wire.CodeInvalidMessage, "delta must be base64")
		return
	}

	roomID := s.currentRoom()
	switch s.deps.Cache.ApplyUpdate(roomID, delta) {
	case roomcache.ApplyFlooded:
		s.sendError(wire.CodeFlood, "too many updates")
		s.beginClosing(ctx, "flood")
		return
	case roomcache.ApplyNoDocument:
		s.sendError(wire.CodeInternal, "room document unavailable")
		return
	}

	out := wire.OutUpdateFrame{Type: wire.TypeUpdate, Delta: f.Delta, From: s.clientID}
	data, err := wire.Encode(out)
	if err != nil {
		return
	}
	s.deps.Registry.Broadcast(roomID, data, s.clientID)

	raw, _ := json.Marshal(out)
	s.deps.Bus.Publish(ctx, roomID, "update", s.clientID, raw)
}

func (s *Session) handlePresence(ctx context.Context, f *wire.PresenceFrame) {
	f.ClientID = s.clientID
	data, err := wire.Encode(f)
	if err != nil {
		return
	}
	roomID := s.currentRoom()
	s.deps.Registry.Broadcast(roomID, data, s.clientID)
	s.deps.Bus.Publish(ctx, roomID, "presence", s.clientID, data)
}

// handleChat broadcasts to every member including the sender. Chat is
// relayed live only and never persisted.
func (s *Session) handleChat(ctx context.Context, f *wire.ChatFrame) {
	f.ClientID = s.clientID
	data, err := wire.Encode(f)
	if err != nil {
		return
	}
	roomID := s.currentRoom()
	s.Enqueue(data)
	s.deps.Registry.Broadcast(roomID, data, s.clientID)
	s.deps.Bus.Publish(ctx, roomID, "chat", s.clientID, data)
}

// onBusMessage relays a cross-instance update/presence/chat into this
// instance's local broadcast, skipping re-publish. For "update" messages it
// also applies the delta to this instance's own Document copy first, so a
// room's state stays complete here even if every local session only ever
// saw the update via the bus, never via a local handleUpdate call.
func (s *Session) onBusMessage(ctx context.Context, msg bus.RoomMessage) {
	roomID := s.currentRoom()
	if msg.Kind == "update" {
		var out wire.OutUpdateFrame
		if err := json.Unmarshal(msg.Payload, &out); err != nil {
			logging.Warn(ctx, "bus: malformed update payload", zap.Error(err))
		} else if delta, err := wire.DecodeDelta(out.Delta); err != nil {
			logging.Warn(ctx, "bus: update delta not base64", zap.Error(err))
		} else {
			s.deps.Cache.ApplyUpdate(roomID, delta)
		}
	}
	s.deps.Registry.Broadcast(roomID, msg.Payload, "")
}

func (s *Session) currentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) sendError(code, message string) {
	frame, err := wire.Encode(wire.NewError(code, message))
	if err != nil {
		return
	}
	s.Enqueue(frame)
}

// beginClosing runs the Closing -> Closed side effects exactly once: detach,
// broadcast leave, record_leave, release, close socket. Safe to call from
// multiple goroutines/paths (overflow teardown, leave frame, socket error).
func (s *Session) beginClosing(ctx context.Context, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasActive := s.state == Active
		s.state = Closing
		roomID := s.roomID
		userID := s.user.ID
		s.mu.Unlock()

		if s.unsubBus != nil {
			s.unsubBus()
		}

		if wasActive && roomID != "" {
			s.deps.Registry.Detach(s.clientID)

			leave := wire.OutLeaveFrame{Type: wire.TypeLeave, ClientID: s.clientID, UserID: userID}
			if data, err := wire.Encode(leave); err == nil {
				s.deps.Registry.Broadcast(roomID, data, "")
			}

			store.RetryRecordLeave(ctx, s.deps.Repo, s.clientID, time.Now())
			s.deps.Cache.Release(ctx, roomID)
			metrics.DecConnection()
		}

		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()

		close(s.outbound)
		logging.Info(ctx, "session closed", zap.String("client_id", s.clientID), zap.String("reason", reason))
	})
}
