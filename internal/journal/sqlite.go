package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rustyguts/clasp/internal/address"
	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/wire"
)

// migrations holds the ordered list of DDL statements that bring the
// journal schema up to date. Index i corresponds to version i+1; append,
// never edit or reorder existing entries.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS journal_entries (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp   INTEGER NOT NULL,
		author      TEXT NOT NULL,
		address     TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		value_json  TEXT NOT NULL,
		revision    INTEGER,
		msg_type    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_address ON journal_entries(address)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON journal_entries(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_signal_type ON journal_entries(signal_type)`,
	`PRAGMA journal_mode=WAL`,
}

// SQLiteJournal is a modernc.org/sqlite-backed router.Journal: durable
// across restarts, unlike MemoryJournal's ring buffer.
type SQLiteJournal struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite journal at path and applies any
// pending migrations. Use ":memory:" for an ephemeral in-process journal.
func Open(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[journal] busy_timeout: %v (non-fatal)", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := j.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := j.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}
	return nil
}

// Close releases the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Append inserts one entry, assigning its seq from SQLite's rowid, and
// satisfies router.Journal.
func (j *SQLiteJournal) Append(re router.JournalEntry) error {
	e := fromRouterEntry(re)
	valueJSON, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("marshal journal value: %w", err)
	}

	var revision sql.NullInt64
	if e.Revision != nil {
		revision = sql.NullInt64{Int64: int64(*e.Revision), Valid: true}
	}

	_, err = j.db.Exec(
		`INSERT INTO journal_entries (timestamp, author, address, signal_type, value_json, revision, msg_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMicro(), e.Author, e.Address, e.SignalType, string(valueJSON), revision, int(e.MsgType),
	)
	return err
}

// Replay satisfies router.Journal: pattern matching happens in Go after a
// broad SQL query, since the address glob isn't expressible in SQL (mirrors
// clasp-journal's sqlite.rs doing the same for the same reason).
func (j *SQLiteJournal) Replay(pattern string, from, to time.Time, limit int, signalTypes []string) ([]router.JournalEntry, error) {
	sqlStr := `SELECT seq, timestamp, author, address, signal_type, value_json, revision, msg_type
	           FROM journal_entries WHERE 1=1`
	args := make([]any, 0, 4)
	if !from.IsZero() {
		sqlStr += ` AND timestamp >= ?`
		args = append(args, from.UnixMicro())
	}
	if !to.IsZero() {
		sqlStr += ` AND timestamp <= ?`
		args = append(args, to.UnixMicro())
	}
	if len(signalTypes) > 0 {
		placeholders := ""
		for i, st := range signalTypes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, st)
		}
		sqlStr += ` AND signal_type IN (` + placeholders + `)`
	}
	sqlStr += ` ORDER BY seq ASC`

	rows, err := j.db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pat := address.Compile(pattern)
	out := make([]router.JournalEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if !pat.Matches(e.Address) {
			continue
		}
		out = append(out, e.toRouterEntry())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// Since returns entries with seq > seq, oldest first, bounded by limit (0
// meaning unbounded).
func (j *SQLiteJournal) Since(seq uint64, limit int) ([]router.JournalEntry, error) {
	sqlStr := `SELECT seq, timestamp, author, address, signal_type, value_json, revision, msg_type
	           FROM journal_entries WHERE seq > ? ORDER BY seq ASC`
	if limit > 0 {
		sqlStr += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := j.db.Query(sqlStr, int64(seq))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]router.JournalEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e.toRouterEntry())
	}
	return out, rows.Err()
}

// LatestSeq returns the highest assigned sequence number, or 0 if empty.
func (j *SQLiteJournal) LatestSeq() (uint64, error) {
	var seq int64
	err := j.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM journal_entries`).Scan(&seq)
	return uint64(seq), err
}

// Compact deletes every entry with seq < beforeSeq and returns the count
// removed.
func (j *SQLiteJournal) Compact(beforeSeq uint64) (uint64, error) {
	res, err := j.db.Exec(`DELETE FROM journal_entries WHERE seq < ?`, int64(beforeSeq))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return uint64(n), err
}

// Len returns the number of entries currently stored.
func (j *SQLiteJournal) Len() (int, error) {
	var count int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM journal_entries`).Scan(&count)
	return count, err
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e            Entry
		timestampUs  int64
		revision     sql.NullInt64
		msgType      int
		valueJSONStr string
	)
	if err := rows.Scan(&e.Seq, &timestampUs, &e.Author, &e.Address, &e.SignalType, &valueJSONStr, &revision, &msgType); err != nil {
		return Entry{}, err
	}
	e.Timestamp = time.UnixMicro(timestampUs)
	e.MsgType = wire.Type(msgType)
	if revision.Valid {
		r := uint64(revision.Int64)
		e.Revision = &r
	}
	if err := json.Unmarshal([]byte(valueJSONStr), &e.Value); err != nil {
		return Entry{}, fmt.Errorf("unmarshal journal value: %w", err)
	}
	return e, nil
}

var _ router.Journal = (*SQLiteJournal)(nil)
