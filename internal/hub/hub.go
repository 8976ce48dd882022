// Package hub is the composition root: it owns the Repository, Document
// Cache, Connection Registry, and Bus, accepts new WebSocket sockets, mints
// client ids, and drives graceful shutdown.
package hub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/collabhub/backend/internal/bus"
	"github.com/collabhub/backend/internal/logging"
	"github.com/collabhub/backend/internal/registry"
	"github.com/collabhub/backend/internal/roomcache"
	"github.com/collabhub/backend/internal/session"
	"github.com/collabhub/backend/internal/store"
)

// Config is the subset of runtime tunables the Hub itself needs (the rest
// is forwarded into session.Config and roomcache.Config at construction).
type Config struct {
	CORSOrigin    string
	ShutdownDrain time.Duration
	Session       session.Config
}

type Hub struct {
	repo     store.Repository
	cache    *roomcache.Cache
	registry *registry.Registry
	bus      *bus.Bus
	cfg      Config

	upgrader websocket.Upgrader

	mu       sync.Mutex
	draining bool
	sessions map[string]*session.Session
	wg       sync.WaitGroup
}

func New(repo store.Repository, cache *roomcache.Cache, reg *registry.Registry, b *bus.Bus, cfg Config) *Hub {
	return &Hub{
		repo:     repo,
		cache:    cache,
		registry: reg,
		bus:      b,
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.CORSOrigin == "*" || cfg.CORSOrigin == "" || r.Header.Get("Origin") == cfg.CORSOrigin
			},
		},
	}
}

// ServeWS upgrades the request to a WebSocket and runs a new session to
// completion. Refuses new sockets while draining (graceful shutdown).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(r.Context(), "ws upgrade failed")
		return
	}

	clientID := uuid.NewString()
	sess := session.New(clientID, conn, h.cfg.Session, session.Deps{
		Repo:     h.repo,
		Cache:    h.cache,
		Registry: h.registry,
		Bus:      h.bus,
	})

	h.mu.Lock()
	h.sessions[clientID] = sess
	h.wg.Add(1)
	h.mu.Unlock()

	defer h.wg.Done()
	sess.Run(r.Context())
	h.mu.Lock()
	delete(h.sessions, clientID)
	h.mu.Unlock()
}

// Stats returns the live session/room counts for GET /api/stats.
func (h *Hub) Stats() (sessions, rooms int) {
	return h.registry.Stats()
}

// RunStatsEmitter periodically logs session/room counts until ctx is
// cancelled. One instance runs for the Hub's lifetime.
func (h *Hub) RunStatsEmitter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, rooms := h.Stats()
			logging.Info(ctx, "hub stats", zap.Int("sessions", sessions), zap.Int("rooms", rooms))
		}
	}
}

// Shutdown refuses new sockets and waits up to ShutdownDrain for sessions to
// close on their own (clients observing the drain via their own `leave` or
// disconnect). Whatever sessions remain past that deadline are force-closed
// directly, so every room is released and every open participant record
// gets its record_leave, and every dirty Document still held in the cache is
// flushed to a snapshot before Shutdown returns.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	var drainErr error
	select {
	case <-done:
		drainErr = nil
	case <-ctx.Done():
		drainErr = ctx.Err()
	case <-time.After(h.cfg.ShutdownDrain):
		drainErr = errShutdownTimeout
	}

	if drainErr != nil {
		h.forceCloseRemaining(ctx)
	}

	if err := h.cache.SaveAll(ctx); err != nil {
		logging.Error(ctx, "hub: shutdown snapshot flush failed", zap.Error(err))
		if drainErr == nil {
			drainErr = err
		}
	}

	return drainErr
}

// forceCloseRemaining tears down every session still tracked after the
// drain deadline, then waits (bounded, since Teardown's side effects are
// synchronous aside from the backgrounded record_leave retry) for them to
// finish detaching so SaveAll observes an accurate dirty set.
func (h *Hub) forceCloseRemaining(ctx context.Context) {
	h.mu.Lock()
	remaining := make([]*session.Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		remaining = append(remaining, sess)
	}
	h.mu.Unlock()

	if len(remaining) == 0 {
		return
	}
	logging.Warn(ctx, "hub: force-closing sessions past shutdown drain deadline", zap.Int("count", len(remaining)))
	for _, sess := range remaining {
		sess.Teardown("server shutdown")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logging.Error(ctx, "hub: sessions still open after force-close")
	}
}

var errShutdownTimeout = errors.New("hub: shutdown drain deadline exceeded")
