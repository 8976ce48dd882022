// Package wire parses an inbound frame into one variant of a sealed tagged
// union and serializes outbound variants, each frame carrying a flat
// `{type, ...fields}` shape.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/collabhub/backend/internal/models"
)

// Inbound frame type discriminators.
const (
	TypeConnect   = "connect"
	TypeUpdate    = "update"
	TypePresence  = "presence"
	TypeChat      = "chat"
	TypeHeartbeat = "heartbeat"
	TypeLeave     = "leave"
)

// Outbound-only frame type discriminators.
const (
	TypeSyncResponse = "sync-response"
	TypeJoin         = "join"
	TypeError        = "error"
)

// Wire error codes.
const (
	CodeInvalidMessage    = "INVALID_MESSAGE"
	CodeNotConnected      = "NOT_CONNECTED"
	CodeAlreadyConnected  = "ALREADY_CONNECTED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRoomNotFound      = "ROOM_NOT_FOUND"
	CodeFlood             = "FLOOD"
	CodeInternal          = "INTERNAL"
)

// envelope is used only to sniff the `type` discriminator before decoding
// into a concrete variant.
type envelope struct {
	Type string `json:"type"`
}

// Cursor, Viewport are the optional presence sub-objects.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// Inbound variants.

type ConnectFrame struct {
	Type   string      `json:"type"`
	RoomID string      `json:"roomId"`
	User   models.User `json:"user"`
	Token  string      `json:"token,omitempty"`
}

type UpdateFrame struct {
	Type  string `json:"type"`
	Delta string `json:"delta"` // base64(opaque)
}

type PresenceFrame struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"clientId,omitempty"`
	Cursor    *Cursor   `json:"cursor,omitempty"`
	Selection []string  `json:"selection,omitempty"`
	Viewport  *Viewport `json:"viewport,omitempty"`
}

type ChatFrame struct {
	Type      string `json:"type"`
	UserName  string `json:"userName"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"clientId,omitempty"`
}

type HeartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type LeaveFrame struct {
	Type string `json:"type"`
}

// Outbound-only variants.

type SyncResponseFrame struct {
	Type         string                    `json:"type"`
	SnapshotData string                    `json:"snapshotData"`
	Participants []models.ParticipantView  `json:"participants"`
}

type JoinFrame struct {
	Type     string      `json:"type"`
	User     models.User `json:"user"`
	ClientID string      `json:"clientId"`
	RoomID   string      `json:"roomId"`
}

type OutLeaveFrame struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
}

type OutUpdateFrame struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	From  string `json:"from"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Inbound is the decoded sealed union: exactly one field is non-nil,
// selected by Type.
type Inbound struct {
	Type      string
	Connect   *ConnectFrame
	Update    *UpdateFrame
	Presence  *PresenceFrame
	Chat      *ChatFrame
	Heartbeat *HeartbeatFrame
	Leave     *LeaveFrame
}

// Decode is a total function from bytes to (Inbound, error): it never
// panics on malformed JSON, returning a protocol error the caller maps to
// an INVALID_MESSAGE frame instead.
func Decode(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("invalid frame: %w", err)
	}

	switch env.Type {
	case TypeConnect:
		var f ConnectFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: env.Type, Connect: &f}, nil
	case TypeUpdate:
		var f UpdateFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: env.Type, Update: &f}, nil
	case TypePresence:
		var f PresenceFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: env.Type, Presence: &f}, nil
	case TypeChat:
		var f ChatFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: env.Type, Chat: &f}, nil
	case TypeHeartbeat:
		var f HeartbeatFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: env.Type, Heartbeat: &f}, nil
	case TypeLeave:
		var f LeaveFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: env.Type, Leave: &f}, nil
	default:
		return Inbound{}, fmt.Errorf("unknown frame type %q", env.Type)
	}
}

// Encode serializes any outbound variant struct to JSON bytes.
func Encode(frame interface{}) ([]byte, error) {
	return json.Marshal(frame)
}

// DecodeDelta base64-decodes an inbound update's delta field before it is
// handed to the Document Cache.
func DecodeDelta(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

// EncodeDelta base64-encodes opaque bytes for an outbound delta field.
func EncodeDelta(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}
