// Package registry tracks live sessions, indexes them by room, and fans
// broadcasts out without ever blocking on a slow receiver.
package registry

import (
	"sync"
	"time"

	"github.com/collabhub/backend/internal/metrics"
	"github.com/collabhub/backend/internal/models"
)

// Session is the minimal surface the Registry needs from a live connection.
// internal/session.Session implements this; the interface exists so
// registry never imports session, avoiding a cycle (Hub wires both).
type Session interface {
	ClientID() string
	User() models.User
	JoinedAt() time.Time
	// Enqueue offers frame to the session's bounded outbound queue.
	// Non-blocking: returns false if the queue is full or already closed.
	Enqueue(frame []byte) bool
	// Teardown is invoked by the registry when Enqueue fails, asking the
	// session to close itself with the given reason (e.g. "Overflow").
	Teardown(reason string)
}

// AlreadyAttachedError is returned by Attach when the session is already in a
// room: a client_id may appear in at most one room.
type AlreadyAttachedError struct{ ClientID string }

func (e *AlreadyAttachedError) Error() string { return "already attached: " + e.ClientID }

// Registry is the process-wide singleton mapping client_id -> Session and
// room_id -> set of client_ids. Reader-preferring: broadcast/room_members
// are frequent, attach/detach rare.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]Session
	room    map[string]string          // client_id -> room_id
	members map[string]map[string]bool // room_id -> set of client_id
}

func New() *Registry {
	return &Registry{
		byID:    make(map[string]Session),
		room:    make(map[string]string),
		members: make(map[string]map[string]bool),
	}
}

// Attach inserts session into both indexes.
func (r *Registry) Attach(session Session, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := session.ClientID()
	if _, ok := r.room[id]; ok {
		return &AlreadyAttachedError{ClientID: id}
	}

	r.byID[id] = session
	r.room[id] = roomID
	if r.members[roomID] == nil {
		r.members[roomID] = make(map[string]bool)
	}
	r.members[roomID][id] = true

	metrics.RoomParticipants.WithLabelValues(roomID).Set(float64(len(r.members[roomID])))
	return nil
}

// Detach removes client_id from both indexes. Idempotent: detaching an
// unknown client_id is a no-op, ok=false.
func (r *Registry) Detach(clientID string) (roomID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok = r.room[clientID]
	if !ok {
		return "", false
	}
	delete(r.room, clientID)
	delete(r.byID, clientID)

	if set, ok := r.members[roomID]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(r.members, roomID)
			metrics.RoomParticipants.DeleteLabelValues(roomID)
		} else {
			metrics.RoomParticipants.WithLabelValues(roomID).Set(float64(len(set)))
		}
	}
	return roomID, true
}

// Broadcast enqueues frame to every session attached to roomID except
// `except` (if non-empty). Non-blocking with respect to slow receivers: a
// full or closed queue schedules that session for teardown with reason
// "Overflow", but never blocks this call or the other recipients.
func (r *Registry) Broadcast(roomID string, frame []byte, except string) {
	r.mu.RLock()
	set := r.members[roomID]
	targets := make([]Session, 0, len(set))
	for id := range set {
		if id == except {
			continue
		}
		targets = append(targets, r.byID[id])
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if s == nil {
			continue
		}
		if !s.Enqueue(frame) {
			metrics.BroadcastOverflows.WithLabelValues("overflow").Inc()
			s.Teardown("Overflow")
		}
	}
}

// RoomMembers returns a point-in-time snapshot of (client_id, user,
// joined_at) for the room, used to synthesize sync-response's participant
// list.
func (r *Registry) RoomMembers(roomID string) []models.ParticipantView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[roomID]
	out := make([]models.ParticipantView, 0, len(set))
	for id := range set {
		s := r.byID[id]
		if s == nil {
			continue
		}
		out = append(out, models.ParticipantView{ClientID: id, User: s.User(), JoinedAt: s.JoinedAt()})
	}
	return out
}

// RoomOf returns the room a client is currently attached to, if any.
func (r *Registry) RoomOf(clientID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.room[clientID]
	return roomID, ok
}

// Stats returns (active sessions, active rooms) for the periodic stats
// emitter / GET /api/stats.
func (r *Registry) Stats() (sessions int, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID), len(r.members)
}
