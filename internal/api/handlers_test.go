package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabhub/backend/internal/herrors"
	"github.com/collabhub/backend/internal/models"
)

type fakeRepo struct {
	rooms map[string]*models.Room
}

func newFakeRepo() *fakeRepo { return &fakeRepo{rooms: make(map[string]*models.Room)} }

func (f *fakeRepo) FindRoom(ctx context.Context, id string) (*models.Room, error) { return f.rooms[id], nil }

func (f *fakeRepo) CreateRoom(ctx context.Context, id, name, creatorID string, visibility models.Visibility) (*models.Room, error) {
	if _, exists := f.rooms[id]; exists {
		return nil, herrors.ErrAlreadyExists
	}
	r := &models.Room{ID: id, Name: name, CreatorID: creatorID, Visibility: visibility}
	f.rooms[id] = r
	return r, nil
}

func (f *fakeRepo) TouchRoom(ctx context.Context, id string, now time.Time) error { return nil }
func (f *fakeRepo) PatchRoom(ctx context.Context, id string, name *string, visibility *models.Visibility) (*models.Room, error) {
	r, ok := f.rooms[id]
	if !ok {
		return nil, nil
	}
	return r, nil
}
func (f *fakeRepo) DeleteRoom(ctx context.Context, id string) error { delete(f.rooms, id); return nil }
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

type fakeStats struct{}

func (fakeStats) Stats() (int, int) { return 3, 1 }

func newTestRouter() (*gin.Engine, *fakeRepo) {
	gin.SetMode(gin.TestMode)
	repo := newFakeRepo()
	r := gin.New()
	NewHandler(repo, fakeStats{}).RegisterRoutes(r)
	return r, repo
}

func TestCreateRoom_ConflictMapsTo409(t *testing.T) {
	r, repo := newTestRouter()
	repo.rooms["room-1"] = &models.Room{ID: "room-1"}

	body := bytes.NewBufferString(`{"id":"room-1","name":"Room","creatorId":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/rooms", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetRoom_NotFoundMapsTo404(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/missing", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStats_ReflectsStatsProvider(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"activeSessions":3`)
}

func TestParsePositiveInt(t *testing.T) {
	n, err := parsePositiveInt("42")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = parsePositiveInt("0")
	assert.Error(t, err)

	_, err = parsePositiveInt("abc")
	assert.Error(t, err)
}
