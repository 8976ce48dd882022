package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabhub/backend/internal/bus"
	"github.com/collabhub/backend/internal/models"
	"github.com/collabhub/backend/internal/registry"
	"github.com/collabhub/backend/internal/roomcache"
)

// fakeConn is a wsConn stand-in: session's pumps only ever see this
// interface, never *websocket.Conn, so a channel pair is enough to drive
// the state machine without a real socket.
type fakeConn struct {
	in  chan []byte
	mu  sync.Mutex
	out [][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{in: make(chan []byte, 16)} }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.in
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error                             { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error         { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error        { return nil }
func (c *fakeConn) SetReadLimit(limit int64)                  {}
func (c *fakeConn) SetPongHandler(h func(string) error)       {}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.out))
	copy(out, c.out)
	return out
}

// fakeRepo is an in-memory store.Repository, just enough of one for a
// connect/update/leave cycle; every call succeeds.
type fakeRepo struct {
	mu   sync.Mutex
	rooms map[string]*models.Room
}

func newFakeRepo() *fakeRepo { return &fakeRepo{rooms: make(map[string]*models.Room)} }

func (f *fakeRepo) FindRoom(ctx context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[id], nil
}

func (f *fakeRepo) CreateRoom(ctx context.Context, id, name, creatorID string, visibility models.Visibility) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &models.Room{ID: id, Name: name, CreatorID: creatorID, Visibility: visibility}
	f.rooms[id] = r
	return r, nil
}

func (f *fakeRepo) TouchRoom(ctx context.Context, id string, now time.Time) error { return nil }
func (f *fakeRepo) PatchRoom(ctx context.Context, id string, name *string, visibility *models.Visibility) (*models.Room, error) {
	return nil, nil
}
func (f *fakeRepo) DeleteRoom(ctx context.Context, id string) error { return nil }
func (f *fakeRepo) RecordJoin(ctx context.Context, roomID, userID, clientID, userName, userColor string, role models.Role) (int64, error) {
	return 1, nil
}
func (f *fakeRepo) RecordLeave(ctx context.Context, clientID string, now time.Time) error { return nil }
func (f *fakeRepo) NewestSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	return nil, nil
}
func (f *fakeRepo) WriteSnapshot(ctx context.Context, roomID string, payload, stateVector []byte) (int64, error) {
	return 1, nil
}
func (f *fakeRepo) PruneSnapshots(ctx context.Context, roomID string, keep int) error { return nil }
func (f *fakeRepo) ListSnapshots(ctx context.Context, roomID string, limit int) ([]models.Snapshot, error) {
	return nil, nil
}
func (f *fakeRepo) Close() {}

func newTestDeps() (Deps, *fakeRepo) {
	repo := newFakeRepo()
	cache := roomcache.New(repo, roomcache.Config{SnapshotInterval: time.Hour, SnapshotKeep: 10, IdleDestroyGrace: time.Hour, ApplyQueue: 64})
	noopBus, _ := bus.New("", "test-instance")
	return Deps{Repo: repo, Cache: cache, Registry: registry.New(), Bus: noopBus}, repo
}

func testSessionConfig() Config {
	return Config{
		OutboundQueue:     16,
		MaxFrameBytes:     1 << 20,
		HeartbeatInterval: time.Hour,
		IdleTimeout:       time.Hour,
		WriteWait:         time.Second,
	}
}

func TestSession_ConnectSendsSyncResponseBeforeAnythingElse(t *testing.T) {
	conn := newFakeConn()
	deps, _ := newTestDeps()
	s := New("client-1", conn, testSessionConfig(), deps)

	go s.Run(context.Background())

	conn.in <- []byte(`{"type":"connect","roomId":"room-1","user":{"id":"u1","name":"Ada","color":"#fff"}}`)

	require.Eventually(t, func() bool { return len(conn.frames()) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, string(conn.frames()[0]), `"sync-response"`)

	close(conn.in)
}

func TestSession_UpdateBeforeConnectIsRejectedAndCloses(t *testing.T) {
	conn := newFakeConn()
	deps, _ := newTestDeps()
	s := New("client-1", conn, testSessionConfig(), deps)

	done := make(chan struct{})
	go func() { s.Run(context.Background()); close(done) }()

	conn.in <- []byte(`{"type":"update","delta":"AAAA"}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session should close after a pre-handshake frame")
	}

	frames := conn.frames()
	require.NotEmpty(t, frames)
	assert.Contains(t, string(frames[0]), "NOT_CONNECTED")
}

func TestSession_DoubleConnectIsRejected(t *testing.T) {
	conn := newFakeConn()
	deps, _ := newTestDeps()
	s := New("client-1", conn, testSessionConfig(), deps)

	go s.Run(context.Background())

	conn.in <- []byte(`{"type":"connect","roomId":"room-1","user":{"id":"u1","name":"Ada","color":"#fff"}}`)
	require.Eventually(t, func() bool { return len(conn.frames()) >= 1 }, time.Second, 5*time.Millisecond)

	conn.in <- []byte(`{"type":"connect","roomId":"room-1","user":{"id":"u1","name":"Ada","color":"#fff"}}`)
	require.Eventually(t, func() bool { return len(conn.frames()) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, string(conn.frames()[1]), "ALREADY_CONNECTED")

	close(conn.in)
}

func TestSession_LeaveFrameClosesCleanly(t *testing.T) {
	conn := newFakeConn()
	deps, _ := newTestDeps()
	s := New("client-1", conn, testSessionConfig(), deps)

	done := make(chan struct{})
	go func() { s.Run(context.Background()); close(done) }()

	conn.in <- []byte(`{"type":"connect","roomId":"room-1","user":{"id":"u1","name":"Ada","color":"#fff"}}`)
	require.Eventually(t, func() bool { return len(conn.frames()) >= 1 }, time.Second, 5*time.Millisecond)

	conn.in <- []byte(`{"type":"leave"}`)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session should close after a leave frame")
	}
}
