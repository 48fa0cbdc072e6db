package journal

import (
	"sync"
	"time"

	"github.com/rustyguts/clasp/internal/address"
	"github.com/rustyguts/clasp/internal/router"
)

// MemoryJournal is an in-memory ring buffer journal: useful for development,
// tests, and short-lived routers that don't need persistence across
// restarts (spec.md §1 "persistent storage backends" is an external
// collaborator; this is the non-durable implementation of it).
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
	nextSeq uint64
	cap     int
}

// DefaultMemoryCapacity matches the original relay's default ring size.
const DefaultMemoryCapacity = 10_000

// NewMemoryJournal creates a journal holding at most capacity entries,
// evicting the oldest once full.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryJournal{
		entries: make([]Entry, 0, capacity),
		nextSeq: 1,
		cap:     capacity,
	}
}

// Append assigns the next sequence number, evicting the oldest entry if the
// ring is full, and satisfies router.Journal.
func (j *MemoryJournal) Append(re router.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e := fromRouterEntry(re)
	e.Seq = j.nextSeq
	j.nextSeq++
	if len(j.entries) >= j.cap {
		j.entries = j.entries[1:]
	}
	j.entries = append(j.entries, e)
	return nil
}

// Replay returns entries matching pattern, the [from, to] time window (zero
// values meaning unbounded), limit (0 meaning unbounded), and signalTypes
// (empty meaning all), satisfying router.Journal.
func (j *MemoryJournal) Replay(pattern string, from, to time.Time, limit int, signalTypes []string) ([]router.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	pat := address.Compile(pattern)

	out := make([]router.JournalEntry, 0)
	for _, e := range j.entries {
		if !matchesFilter(e, pat.Matches, from, to, signalTypes) {
			continue
		}
		out = append(out, e.toRouterEntry())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Since returns every entry with seq strictly greater than seq, oldest
// first, bounded by limit (0 meaning unbounded).
func (j *MemoryJournal) Since(seq uint64, limit int) []router.JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]router.JournalEntry, 0)
	for _, e := range j.entries {
		if e.Seq <= seq {
			continue
		}
		out = append(out, e.toRouterEntry())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// LatestSeq returns the most recently assigned sequence number, or 0 if the
// journal is empty.
func (j *MemoryJournal) LatestSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.nextSeq == 0 {
		return 0
	}
	return j.nextSeq - 1
}

// Compact discards every entry with seq < beforeSeq and returns the count
// removed.
func (j *MemoryJournal) Compact(beforeSeq uint64) uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	before := len(j.entries)
	kept := j.entries[:0]
	for _, e := range j.entries {
		if e.Seq >= beforeSeq {
			kept = append(kept, e)
		}
	}
	j.entries = kept
	return uint64(before - len(j.entries))
}

// Len reports the number of entries currently retained.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

var _ router.Journal = (*MemoryJournal)(nil)
