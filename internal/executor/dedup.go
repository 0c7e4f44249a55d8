package executor

import (
	"sync"
	"time"
)

// Dedup ensures a source trade fires at most one pretend trade within a
// time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[int64]time.Time // source trade id -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that remembers source trade ids for ttl. A
// non-positive ttl keeps ids until Reset.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[int64]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether id already fired. The first call for an id
// records it and returns false.
func (d *Dedup) IsDuplicate(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if firstSeen, ok := d.seen[id]; ok {
		if d.ttl <= 0 || now.Sub(firstSeen) < d.ttl {
			return true
		}
	}

	d.seen[id] = now
	return false
}

// Cleanup removes expired entries. Call it periodically on long sessions.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ttl <= 0 {
		return 0
	}
	now := d.now()
	removed := 0
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len is the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Reset forgets every id.
func (d *Dedup) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[int64]time.Time)
}
