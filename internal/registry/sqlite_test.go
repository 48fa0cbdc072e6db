package registry

import (
	"testing"
)

func newMemSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreCreateGet(t *testing.T) {
	s := newMemSQLiteStore(t)
	e := testEntity("clasp:device1", "test-device")

	if err := s.Create(e); err != nil {
		t.Fatalf("create: %v", err)
	}
	found, ok, err := s.Get(e.ID)
	if err != nil || !ok {
		t.Fatalf("get: found=%v err=%v", ok, err)
	}
	if found.Name != "test-device" || found.Type != EntityDevice || !found.IsActive() {
		t.Fatalf("unexpected entity: %+v", found)
	}
}

func TestSQLiteStoreDuplicateCreateFails(t *testing.T) {
	s := newMemSQLiteStore(t)
	e := testEntity("clasp:device1", "test-device")
	if err := s.Create(e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(e); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSQLiteStoreFindByPublicKey(t *testing.T) {
	s := newMemSQLiteStore(t)
	e := testEntity("clasp:device1", "test-device")
	s.Create(e)

	found, ok, err := s.FindByPublicKey(e.PublicKey)
	if err != nil || !ok {
		t.Fatalf("find by public key: ok=%v err=%v", ok, err)
	}
	if found.ID != e.ID {
		t.Fatalf("unexpected entity: %+v", found)
	}
}

func TestSQLiteStoreFindByTag(t *testing.T) {
	s := newMemSQLiteStore(t)
	s.Create(testEntity("clasp:device1", "test-device"))

	found, err := s.FindByTag("test")
	if err != nil {
		t.Fatalf("find by tag: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 match, got %d", len(found))
	}

	found, _ = s.FindByTag("other")
	if len(found) != 0 {
		t.Fatalf("expected no matches, got %d", len(found))
	}
}

func TestSQLiteStoreUpdateStatus(t *testing.T) {
	s := newMemSQLiteStore(t)
	e := testEntity("clasp:device1", "test-device")
	s.Create(e)

	if err := s.UpdateStatus(e.ID, StatusRevoked); err != nil {
		t.Fatalf("update status: %v", err)
	}
	found, _, _ := s.Get(e.ID)
	if found.Status != StatusRevoked {
		t.Fatalf("expected revoked, got %v", found.Status)
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	s := newMemSQLiteStore(t)
	e := testEntity("clasp:device1", "test-device")
	s.Create(e)

	ok, err := s.Delete(e.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	_, found, _ := s.Get(e.ID)
	if found {
		t.Fatal("expected entity to be gone")
	}
}

func TestSQLiteStoreListCount(t *testing.T) {
	s := newMemSQLiteStore(t)
	for i := 0; i < 5; i++ {
		e := testEntity(string(rune('a'+i)), "device")
		s.Create(e)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected count 5, got %d", count)
	}

	page, err := s.List(0, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("expected page of 3, got %d", len(page))
	}
}

func TestSQLiteStoreMigrationsIdempotent(t *testing.T) {
	s := newMemSQLiteStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}
