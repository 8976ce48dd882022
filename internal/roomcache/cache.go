// Package roomcache is the Document Cache: in-memory CRDT documents keyed
// by room, with load-on-first-join, save-on-interval, save-on-last-leave,
// and idle-destroy-grace lifecycle. Each room is guarded by its own mutex
// rather than run as a goroutine-per-room actor, since nothing here needs
// per-room scheduling fairness a dedicated goroutine would buy.
package roomcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/collabhub/backend/internal/crdt"
	"github.com/collabhub/backend/internal/logging"
	"github.com/collabhub/backend/internal/metrics"
	"github.com/collabhub/backend/internal/store"
)

// Config bundles the cache's runtime tunables.
type Config struct {
	SnapshotInterval time.Duration
	SnapshotKeep     int
	IdleDestroyGrace time.Duration
	ApplyQueue       int // hard cap on in-flight ApplyUpdate callers per room, default 1024
}

func (c *Cache) applyQueueCap() int {
	if c.cfg.ApplyQueue <= 0 {
		return 1024
	}
	return c.cfg.ApplyQueue
}

type entry struct {
	mu            sync.Mutex // serializes apply/encode/save/destroy for this room
	doc           *crdt.Document
	attachedCount int
	dirty         bool
	lastSaveAt    time.Time
	saveStop      chan struct{}
	destroyTimer  *time.Timer
	destroyGen    int // invalidates a stale destroy callback after re-acquire

	// applyTokens bounds the number of in-flight ApplyUpdate callers
	// (queued waiting on mu); a reservation failure means the mailbox is
	// full and the caller must disconnect the offending session with FLOOD.
	applyTokens chan struct{}
}

// Cache owns at most one Document per room_id in the process.
type Cache struct {
	mu     sync.Mutex
	rooms  map[string]*entry
	repo   store.Repository
	cfg    Config
	onSave func(roomID string) // hook for cross-instance/test observation, optional
}

func New(repo store.Repository, cfg Config) *Cache {
	return &Cache{rooms: make(map[string]*entry), repo: repo, cfg: cfg}
}

// Acquire loads or creates the room's Document and increments its attached
// count. Idempotent per caller: calling it N times requires N matching
// Release calls.
func (c *Cache) Acquire(ctx context.Context, roomID string) (*crdt.Document, error) {
	c.mu.Lock()
	e, existed := c.rooms[roomID]
	if !existed {
		e = &entry{}
		c.rooms[roomID] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.doc == nil {
		snap, err := c.repo.NewestSnapshot(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			e.doc = crdt.New(snap.Payload)
		} else {
			e.doc = crdt.New(nil)
		}
		e.lastSaveAt = time.Now()
		e.applyTokens = make(chan struct{}, c.applyQueueCap())
		metrics.ActiveRooms.Inc()
	}

	if e.destroyTimer != nil {
		e.destroyTimer.Stop()
		e.destroyTimer = nil
		e.destroyGen++
	}

	e.attachedCount++
	if e.attachedCount == 1 && e.saveStop == nil {
		e.saveStop = make(chan struct{})
		go c.runPeriodicSave(roomID, e, e.saveStop)
	}

	return e.doc, nil
}

// Release decrements the attached count. At zero it schedules a final save
// and destroy after IdleDestroyGrace; a concurrent Acquire before the grace
// elapses cancels the destroy (handled via destroyGen).
func (c *Cache) Release(ctx context.Context, roomID string) {
	c.mu.Lock()
	e, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.attachedCount > 0 {
		e.attachedCount--
	}
	if e.attachedCount == 0 {
		gen := e.destroyGen
		if e.saveStop != nil {
			close(e.saveStop)
			e.saveStop = nil
		}
		destroyCtx := context.WithoutCancel(ctx)
		e.destroyTimer = time.AfterFunc(c.cfg.IdleDestroyGrace, func() {
			c.destroy(destroyCtx, roomID, gen)
		})
	}
	e.mu.Unlock()
}

func (c *Cache) destroy(ctx context.Context, roomID string, gen int) {
	c.mu.Lock()
	e, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.destroyGen != gen || e.attachedCount != 0 {
		e.mu.Unlock()
		return // superseded by a re-acquire
	}
	c.saveLocked(ctx, roomID, e, "destroy")
	e.doc = nil
	e.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
	metrics.ActiveRooms.Dec()
}

// ApplyResult distinguishes "no document" from "mailbox full" so the caller
// (internal/session) can pick the right error: a missing document means the
// room was torn down mid-flight, a full mailbox means FLOOD.
type ApplyResult int

const (
	ApplyOK ApplyResult = iota
	ApplyNoDocument
	ApplyFlooded
)

// ApplyUpdate feeds an opaque update into the room's Document, reserving a
// mailbox slot first so a room that cannot keep up rejects new updates
// instead of piling up unboundedly.
func (c *Cache) ApplyUpdate(roomID string, payload []byte) ApplyResult {
	c.mu.Lock()
	e, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return ApplyNoDocument
	}

	select {
	case e.applyTokens <- struct{}{}:
	default:
		return ApplyFlooded
	}
	defer func() { <-e.applyTokens }()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return ApplyNoDocument
	}
	e.doc.Apply(payload)
	e.dirty = true
	return ApplyOK
}

// EncodeFull serializes the room's current Document state, or nil if the
// room has no live Document.
func (c *Cache) EncodeFull(roomID string) []byte {
	c.mu.Lock()
	e, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return nil
	}
	return e.doc.EncodeFull()
}

// SaveAll flushes every currently-loaded room with dirty state, for use
// during process shutdown after sessions have been force-closed. Errors are
// collected and returned together rather than aborting the sweep early.
func (c *Cache) SaveAll(ctx context.Context) error {
	c.mu.Lock()
	roomIDs := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		roomIDs = append(roomIDs, id)
	}
	c.mu.Unlock()

	var errs []error
	for _, id := range roomIDs {
		if err := c.Save(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Save writes a new snapshot if the room is dirty, then prunes to
// SnapshotKeep versions, clearing dirty on success.
func (c *Cache) Save(ctx context.Context, roomID string) error {
	c.mu.Lock()
	e, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.saveLocked(ctx, roomID, e, "interval")
}

// saveLocked assumes e.mu is held.
func (c *Cache) saveLocked(ctx context.Context, roomID string, e *entry, trigger string) error {
	if e.doc == nil || !e.dirty {
		return nil
	}
	payload := e.doc.EncodeFull()
	sv := e.doc.EncodeStateVector()

	if _, err := c.repo.WriteSnapshot(ctx, roomID, payload, sv); err != nil {
		logging.Error(logging.WithRoom(ctx, roomID), "roomcache: write_snapshot failed", zap.Error(err))
		return err
	}
	if err := c.repo.PruneSnapshots(ctx, roomID, c.cfg.SnapshotKeep); err != nil {
		return err
	}

	e.doc.Compact()
	e.dirty = false
	e.lastSaveAt = time.Now()
	metrics.SnapshotsWritten.WithLabelValues(trigger).Inc()
	if c.onSave != nil {
		c.onSave(roomID)
	}
	return nil
}

// runPeriodicSave ticks Save every SnapshotInterval until stop is closed.
// Saves of one room never overlap, since each holds e.mu. A tick that lands
// while another save holds e.mu is not skipped: its Save waits for the lock
// and then writes a snapshot only if the room became dirty again meanwhile.
func (c *Cache) runPeriodicSave(roomID string, e *entry, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = c.Save(context.Background(), roomID)
		}
	}
}

// AttachedCount reports the live attach count for a room, for tests/stats.
func (c *Cache) AttachedCount(roomID string) int {
	c.mu.Lock()
	e, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attachedCount
}
