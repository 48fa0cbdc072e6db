package journal

import (
	"testing"
	"time"

	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/wire"
)

func newMemSQLiteJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSQLiteJournalAppendAndReplay(t *testing.T) {
	j := newMemSQLiteJournal(t)

	if err := j.Append(router.JournalEntry{
		Address: "/test/value", Value: wire.FloatV(0.5), Author: "session1",
		SignalType: "param", Timestamp: time.UnixMicro(1000000), MsgType: wire.TypeSet,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := j.Replay("/**", time.Time{}, time.Time{}, 0, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(entries) != 1 || entries[0].Address != "/test/value" || entries[0].Seq != 1 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if !entries[0].Value.Equal(wire.FloatV(0.5)) {
		t.Fatalf("expected value to round-trip through value_json, got %+v", entries[0].Value)
	}
}

func TestSQLiteJournalSince(t *testing.T) {
	j := newMemSQLiteJournal(t)
	for i := 0; i < 5; i++ {
		j.Append(router.JournalEntry{
			Address: "/test/x", Value: wire.IntV(int64(i)), Author: "s1",
			SignalType: "param", Timestamp: time.UnixMicro(int64(1000 * i)), MsgType: wire.TypeSet,
		})
	}
	results, err := j.Since(3, 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(results) != 2 || results[0].Seq != 4 || results[1].Seq != 5 {
		t.Fatalf("unexpected since results: %+v", results)
	}
}

func TestSQLiteJournalCompact(t *testing.T) {
	j := newMemSQLiteJournal(t)
	for i := 0; i < 10; i++ {
		j.Append(router.JournalEntry{
			Address: "/test/x", Value: wire.IntV(int64(i)), Author: "s1",
			SignalType: "param", Timestamp: time.UnixMicro(int64(1000 * i)), MsgType: wire.TypeSet,
		})
	}
	removed, err := j.Compact(6)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if removed != 5 {
		t.Fatalf("expected 5 removed, got %d", removed)
	}
	length, _ := j.Len()
	if length != 5 {
		t.Fatalf("expected 5 remaining, got %d", length)
	}
}

func TestSQLiteJournalSignalTypeFilter(t *testing.T) {
	j := newMemSQLiteJournal(t)
	j.Append(router.JournalEntry{Address: "/test/param", Value: wire.FloatV(1), Author: "s1", SignalType: "param", Timestamp: time.UnixMicro(1000), MsgType: wire.TypeSet})
	j.Append(router.JournalEntry{Address: "/test/event", Value: wire.BoolV(true), Author: "s1", SignalType: "event", Timestamp: time.UnixMicro(2000), MsgType: wire.TypePublish})

	params, err := j.Replay("/**", time.Time{}, time.Time{}, 0, []string{"param"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(params) != 1 || params[0].Address != "/test/param" {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestSQLiteJournalLatestSeqEmpty(t *testing.T) {
	j := newMemSQLiteJournal(t)
	seq, err := j.LatestSeq()
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected 0 for empty journal, got %d", seq)
	}
}

func TestSQLiteJournalMigrationsIdempotent(t *testing.T) {
	j := newMemSQLiteJournal(t)
	if err := j.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var count int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}
