// Package journal implements the persisted mutation log and periodic state
// snapshot that back REPLAY and router restarts: an in-memory ring buffer
// for development and short-lived routers, a modernc.org/sqlite-backed
// store for durability across restarts, and a SnapshotStore that writes the
// full parameter table to disk atomically.
package journal

import (
	"time"

	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/wire"
)

// Entry is the journal package's own record shape; ToRouterEntry/fromEntry
// convert to and from router.JournalEntry at the package boundary so this
// package stays independent of the router's internal types.
type Entry struct {
	Seq        uint64
	Timestamp  time.Time
	Author     string
	Address    string
	SignalType string
	Value      wire.Value
	Revision   *uint64
	MsgType    wire.Type
}

func fromRouterEntry(e router.JournalEntry) Entry {
	return Entry{
		Seq:        e.Seq,
		Timestamp:  e.Timestamp,
		Author:     e.Author,
		Address:    e.Address,
		SignalType: e.SignalType,
		Value:      e.Value,
		Revision:   e.Revision,
		MsgType:    e.MsgType,
	}
}

func (e Entry) toRouterEntry() router.JournalEntry {
	return router.JournalEntry{
		Seq:        e.Seq,
		Timestamp:  e.Timestamp,
		Author:     e.Author,
		Address:    e.Address,
		SignalType: e.SignalType,
		Value:      e.Value,
		Revision:   e.Revision,
		MsgType:    e.MsgType,
	}
}

// matchesFilter applies the same from/to/signal-type/pattern filter both
// backends use; the SQLite backend narrows with SQL first, then still runs
// this since the address pattern glob isn't expressible in SQL (mirrors
// clasp-journal's sqlite.rs applying pattern matching in Rust post-query).
func matchesFilter(e Entry, matches func(address string) bool, from, to time.Time, signalTypes []string) bool {
	if !from.IsZero() && e.Timestamp.Before(from) {
		return false
	}
	if !to.IsZero() && e.Timestamp.After(to) {
		return false
	}
	if len(signalTypes) > 0 {
		found := false
		for _, st := range signalTypes {
			if st == e.SignalType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return matches(e.Address)
}
