package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabhub/backend/internal/models"
)

// mockSession is a minimal Session fake: a plain struct recording what was
// sent instead of a real socket.
type mockSession struct {
	id       string
	user     models.User
	joinedAt time.Time

	mu       sync.Mutex
	received [][]byte
	full     bool
	torndown string
}

func newMockSession(id string) *mockSession {
	return &mockSession{id: id, user: models.User{ID: id}, joinedAt: time.Now()}
}

func (m *mockSession) ClientID() string    { return m.id }
func (m *mockSession) User() models.User   { return m.user }
func (m *mockSession) JoinedAt() time.Time { return m.joinedAt }

func (m *mockSession) Enqueue(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.received = append(m.received, frame)
	return true
}

func (m *mockSession) Teardown(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.torndown = reason
}

func (m *mockSession) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func TestAttach_RejectsDoubleAttach(t *testing.T) {
	r := New()
	s := newMockSession("c1")

	require.NoError(t, r.Attach(s, "room-1"))
	err := r.Attach(s, "room-1")
	assert.Error(t, err)

	var already *AlreadyAttachedError
	assert.ErrorAs(t, err, &already)
}

func TestBroadcast_ExcludesSender(t *testing.T) {
	r := New()
	a := newMockSession("a")
	b := newMockSession("b")
	require.NoError(t, r.Attach(a, "room-1"))
	require.NoError(t, r.Attach(b, "room-1"))

	r.Broadcast("room-1", []byte("frame"), "a")

	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())
}

func TestBroadcast_OverflowTearsDownOnlyThatSession(t *testing.T) {
	r := New()
	a := newMockSession("a")
	b := newMockSession("b")
	a.full = true
	require.NoError(t, r.Attach(a, "room-1"))
	require.NoError(t, r.Attach(b, "room-1"))

	r.Broadcast("room-1", []byte("frame"), "")

	assert.Equal(t, "Overflow", a.torndown)
	assert.Empty(t, b.torndown)
	assert.Equal(t, 1, b.count())
}

func TestDetach_IsIdempotent(t *testing.T) {
	r := New()
	s := newMockSession("c1")
	require.NoError(t, r.Attach(s, "room-1"))

	roomID, ok := r.Detach("c1")
	assert.True(t, ok)
	assert.Equal(t, "room-1", roomID)

	_, ok = r.Detach("c1")
	assert.False(t, ok)
}

func TestDetach_EmptiesRoomFromStats(t *testing.T) {
	r := New()
	s := newMockSession("c1")
	require.NoError(t, r.Attach(s, "room-1"))

	sessions, rooms := r.Stats()
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, rooms)

	r.Detach("c1")
	sessions, rooms = r.Stats()
	assert.Equal(t, 0, sessions)
	assert.Equal(t, 0, rooms)
}

func TestRoomMembers_ReflectsAttachedSessions(t *testing.T) {
	r := New()
	a := newMockSession("a")
	require.NoError(t, r.Attach(a, "room-1"))

	members := r.RoomMembers("room-1")
	require.Len(t, members, 1)
	assert.Equal(t, "a", members[0].ClientID)
}
