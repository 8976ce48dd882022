// Package api is the REST thin wrapper: room CRUD over the same Repository
// the WebSocket hub uses, plus health/stats/metrics.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/collabhub/backend/internal/herrors"
	"github.com/collabhub/backend/internal/models"
	"github.com/collabhub/backend/internal/store"
)

// StatsProvider is implemented by internal/hub.Hub; kept as a narrow
// interface here so api never imports hub (hub already imports api's
// sibling packages, avoiding a cycle).
type StatsProvider interface {
	Stats() (sessions, rooms int)
}

type Handler struct {
	repo  store.Repository
	stats StatsProvider
}

func NewHandler(repo store.Repository, stats StatsProvider) *Handler {
	return &Handler{repo: repo, stats: stats}
}

// RegisterRoutes wires the room CRUD surface plus health/stats/metrics.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/api/stats", h.getStats)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rooms := r.Group("/api/rooms")
	{
		rooms.POST("", h.createRoom)
		rooms.GET("/:id", h.getRoom)
		rooms.GET("/:id/exists", h.roomExists)
		rooms.PATCH("/:id", h.patchRoom)
		rooms.DELETE("/:id", h.deleteRoom)
		rooms.GET("/:id/snapshots", h.listSnapshots)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getStats(c *gin.Context) {
	sessions, rooms := h.stats.Stats()
	c.JSON(http.StatusOK, gin.H{"activeSessions": sessions, "activeRooms": rooms})
}

func (h *Handler) createRoom(c *gin.Context) {
	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.repo.CreateRoom(c.Request.Context(), req.ID, req.Name, req.CreatorID, req.Visibility)
	if err != nil {
		if errors.Is(err, herrors.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "room already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) getRoom(c *gin.Context) {
	room, err := h.repo.FindRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) roomExists(c *gin.Context) {
	room, err := h.repo.FindRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": room != nil})
}

func (h *Handler) patchRoom(c *gin.Context) {
	var req models.PatchRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := h.repo.PatchRoom(c.Request.Context(), c.Param("id"), req.Name, req.Visibility)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) deleteRoom(c *gin.Context) {
	if err := h.repo.DeleteRoom(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listSnapshots(c *gin.Context) {
	limit := 20
	if q := c.Query("limit"); q != "" {
		if n, err := parsePositiveInt(q); err == nil {
			limit = n
		}
	}

	snaps, err := h.repo.ListSnapshots(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	views := make([]models.SnapshotView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, s.View())
	}
	c.JSON(http.StatusOK, views)
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, errors.New("not positive")
	}
	return n, nil
}
