package registry

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id          TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		name        TEXT NOT NULL,
		public_key  BLOB NOT NULL,
		created_at  INTEGER NOT NULL,
		metadata    TEXT NOT NULL DEFAULT '{}',
		tags        TEXT NOT NULL DEFAULT '[]',
		namespaces  TEXT NOT NULL DEFAULT '[]',
		scopes      TEXT NOT NULL DEFAULT '[]',
		status      TEXT NOT NULL DEFAULT 'active'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_public_key ON entities(public_key)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status)`,
	`PRAGMA journal_mode=WAL`,
}

// SQLiteStore is the durable EntityStore: a single SQLite file holding
// every device/user/service/router entity the router's authorization model
// consults (CPSK tokens via Entity.Metadata, trust anchors via
// Entity.PublicKey, federation peer declarations via Entity.Namespaces).
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite registry at path. Use ":memory:" for an
// ephemeral in-process store.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("busy_timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(e *Entity) error {
	metadata, tags, namespaces, scopes, err := marshalEntityColumns(e)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO entities (id, entity_type, name, public_key, created_at, metadata, tags, namespaces, scopes, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type.String(), e.Name, e.PublicKey, e.CreatedAt.Unix(), metadata, tags, namespaces, scopes, e.Status.String(),
	)
	if err != nil {
		if isUniqueConstraint(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

const entityColumns = `id, entity_type, name, public_key, created_at, metadata, tags, namespaces, scopes, status`

func (s *SQLiteStore) Get(id string) (*Entity, bool, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *SQLiteStore) FindByPublicKey(key []byte) (*Entity, bool, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE public_key = ?`, key)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// FindByTag mirrors sqlite.rs's own `tags LIKE '%"tag"%'` approach: tags are
// stored as a JSON array and matched with a substring LIKE rather than a
// join table, since the registry never needs more than a handful of tags
// per entity.
func (s *SQLiteStore) FindByTag(tag string) ([]*Entity, error) {
	pattern := `%"` + tag + `"%`
	rows, err := s.db.Query(`SELECT `+entityColumns+` FROM entities WHERE tags LIKE ?`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *SQLiteStore) FindByNamespace(namespace string) ([]*Entity, error) {
	pattern := `%"` + namespace + `"%`
	rows, err := s.db.Query(`SELECT `+entityColumns+` FROM entities WHERE namespaces LIKE ?`, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *SQLiteStore) List(offset, limit int) ([]*Entity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+entityColumns+` FROM entities ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

func (s *SQLiteStore) Update(e *Entity) error {
	metadata, tags, namespaces, scopes, err := marshalEntityColumns(e)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE entities SET name = ?, metadata = ?, tags = ?, namespaces = ?, scopes = ?, status = ? WHERE id = ?`,
		e.Name, metadata, tags, namespaces, scopes, e.Status.String(), e.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(id string, status EntityStatus) error {
	res, err := s.db.Exec(`UPDATE entities SET status = ? WHERE id = ?`, status.String(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&count)
	return count, err
}

func marshalEntityColumns(e *Entity) (metadata, tags, namespaces, scopes string, err error) {
	m, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal metadata: %w", err)
	}
	t, err := json.Marshal(e.Tags)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal tags: %w", err)
	}
	n, err := json.Marshal(e.Namespaces)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal namespaces: %w", err)
	}
	sc, err := json.Marshal(e.Scopes)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal scopes: %w", err)
	}
	return string(m), string(t), string(n), string(sc), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		id, entityType, name, statusStr string
		publicKey                       []byte
		createdAtSecs                   int64
		metadataJSON, tagsJSON          string
		namespacesJSON, scopesJSON      string
	)
	if err := row.Scan(&id, &entityType, &name, &publicKey, &createdAtSecs, &metadataJSON, &tagsJSON, &namespacesJSON, &scopesJSON, &statusStr); err != nil {
		return nil, err
	}

	e := &Entity{
		ID:        id,
		Type:      parseEntityType(entityType),
		Name:      name,
		PublicKey: publicKey,
		CreatedAt: time.Unix(createdAtSecs, 0),
		Status:    parseEntityStatus(statusStr),
	}
	if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(namespacesJSON), &e.Namespaces); err != nil {
		return nil, fmt.Errorf("unmarshal namespaces: %w", err)
	}
	if err := json.Unmarshal([]byte(scopesJSON), &e.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return e, nil
}

func scanEntities(rows *sql.Rows) ([]*Entity, error) {
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

var _ EntityStore = (*SQLiteStore)(nil)
