// Package models holds the durable data types shared across the hub: rooms,
// participants, and snapshots. Document state itself is opaque CRDT bytes
// and lives behind internal/roomcache, never as a field here.
package models

import "time"

// Visibility is the access scope of a Room.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Role is a participant's stored permission level. Every connected client
// is assigned RoleEditor on join and it never transitions; Owner and
// Viewer exist for schema completeness but no code path assigns them yet.
type Role string

const (
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
	RoleViewer Role = "viewer"
)

// Room is the persistent, durable scope containing one Document and the
// participants currently attached to it.
type Room struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	CreatorID  string     `json:"creatorId" db:"creator_id"`
	Visibility Visibility `json:"visibility" db:"visibility"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	LastActive time.Time  `json:"lastActive" db:"last_active"`
}

// User is the identity a client presents at connect time. It is not a
// durable account record — the hub does not own user identity, only a
// per-session reference to one.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Participant is one append-only row recording a session's attachment to a
// room. LeftAt is nil while the session is live in this process; on clean
// shutdown every open row must be closed.
type Participant struct {
	ID        int64      `json:"id" db:"id"`
	RoomID    string     `json:"roomId" db:"room_id"`
	UserID    string     `json:"userId" db:"user_id"`
	ClientID  string     `json:"clientId" db:"client_id"`
	UserName  string     `json:"userName" db:"user_name"`
	UserColor string     `json:"userColor" db:"user_color"`
	Role      Role       `json:"role" db:"role"`
	JoinedAt  time.Time  `json:"joinedAt" db:"joined_at"`
	LeftAt    *time.Time `json:"leftAt,omitempty" db:"left_at"`
}

// ParticipantView is the trimmed shape sent to clients in sync-response and
// as the result of Registry.RoomMembers.
type ParticipantView struct {
	ClientID string    `json:"clientId"`
	User     User      `json:"user"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Snapshot is a versioned, serialized Document used as a resume point.
// Payload and StateVector are opaque CRDT byte strings, never inspected
// outside internal/roomcache.
type Snapshot struct {
	ID          int64     `db:"id"`
	RoomID      string    `db:"room_id"`
	Payload     []byte    `db:"payload"`
	StateVector []byte    `db:"state_vector"`
	Version     int64     `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
}

// SnapshotView is what the REST surface returns for GET .../snapshots,
// omitting the raw payload bytes.
type SnapshotView struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"roomId"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s Snapshot) View() SnapshotView {
	return SnapshotView{ID: s.ID, RoomID: s.RoomID, Version: s.Version, CreatedAt: s.CreatedAt}
}

// CreateRoomRequest is the REST payload for POST /api/rooms.
type CreateRoomRequest struct {
	ID         string     `json:"id" binding:"required"`
	Name       string     `json:"name" binding:"required"`
	CreatorID  string     `json:"creatorId" binding:"required"`
	Visibility Visibility `json:"visibility"`
}

// PatchRoomRequest is the REST payload for PATCH /api/rooms/{id}.
type PatchRoomRequest struct {
	Name       *string     `json:"name,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
}
