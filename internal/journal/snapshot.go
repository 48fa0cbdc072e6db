package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rustyguts/clasp/internal/wire"
)

// snapshotFile is the on-disk shape written by SnapshotStore, mirroring the
// original relay's SnapshotMessage: the full parameter table at the time of
// the write.
type snapshotFile struct {
	Params []wire.ParamEntry `json:"params"`
}

// SnapshotStore persists the router's full parameter table to a JSON file
// on disk and restores it on startup, written atomically (temp file then
// rename) to avoid a partial write surviving a crash mid-save (spec §6,
// "Persisted snapshot restore on startup").
type SnapshotStore struct {
	path string
}

// NewSnapshotStore binds a store to path; the file is not touched until
// Save or Load is called.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Load reads the snapshot file, returning (nil, nil) if it does not exist
// yet so a router can start fresh on first boot.
func (s *SnapshotStore) Load() ([]wire.ParamEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	var sf snapshotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}
	return sf.Params, nil
}

// Save writes params to the snapshot file by writing to a temp file in the
// same directory and renaming over the target, so a reader never observes
// a partially-written file.
func (s *SnapshotStore) Save(params []wire.ParamEntry) error {
	data, err := json.Marshal(snapshotFile{Params: params})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.ensureDir(); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot tmp %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename snapshot %s -> %s: %w", tmpPath, s.path, err)
	}
	return nil
}

// ensureDir creates the snapshot file's parent directory if missing, used
// by callers that accept a configurable journal_path that may not exist yet.
func (s *SnapshotStore) ensureDir() error {
	dir := filepath.Dir(s.path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
