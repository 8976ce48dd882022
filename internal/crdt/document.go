// Package crdt holds the Document type: the hub's only contact with CRDT
// state, handled strictly as an opaque (apply(bytes), encode()->bytes)
// contract. The algorithm itself — how updates merge — is out of scope and
// not implemented here; this package only accumulates and replays the byte
// log the algorithm would consume.
package crdt

import "sync"

// Document is one room's in-memory CRDT state. All merges are assumed
// commutative, associative, and idempotent by the opaque algorithm; this
// type never inspects update contents.
type Document struct {
	mu      sync.RWMutex
	base    []byte   // decoded payload of the snapshot this Document was seeded from, if any
	updates [][]byte // update log applied since the base was loaded
}

// New returns an empty Document, optionally seeded from a snapshot payload.
// A nil/empty seed is a brand-new room with no history.
func New(seed []byte) *Document {
	d := &Document{}
	if len(seed) > 0 {
		d.base = append([]byte(nil), seed...)
	}
	return d
}

// Apply feeds one opaque update into the Document. Callers must serialize
// calls to Apply/EncodeFull/EncodeStateVector per room — see
// internal/roomcache, which is the sole caller and owns that serialization.
func (d *Document) Apply(update []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(update))
	copy(cp, update)
	d.updates = append(d.updates, cp)
}

// EncodeFull serializes the current full state: the seed payload followed
// by every applied update, length-prefixed so a fresh Document reloaded
// from this byte string reproduces an equivalent state.
func (d *Document) EncodeFull() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return encodeFrames(d.base, d.updates)
}

// EncodeStateVector serializes a compact summary of what has been applied,
// used by peers to compute a minimal diff on reconnect. In this opaque
// stand-in it is the count of update frames applied since the Document was
// seeded or last compacted (Compact resets it to zero) — a real CRDT engine
// would replace this with a proper per-actor version vector.
func (d *Document) EncodeStateVector() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.updates)
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

// Compact folds the current state into a single base frame, discarding the
// update log. Called after a successful save so the in-memory log does not
// grow unbounded for long-lived rooms.
func (d *Document) Compact() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base = encodeFrames(d.base, d.updates)
	d.updates = nil
}

func encodeFrames(base []byte, updates [][]byte) []byte {
	total := len(base)
	for _, u := range updates {
		total += 4 + len(u)
	}
	out := make([]byte, 0, total)
	out = append(out, base...)
	for _, u := range updates {
		n := len(u)
		out = append(out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		out = append(out, u...)
	}
	return out
}
