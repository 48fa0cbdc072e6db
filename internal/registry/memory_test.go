package registry

import (
	"testing"
	"time"
)

func testEntity(id, name string) *Entity {
	return &Entity{
		ID:         id,
		Type:       EntityDevice,
		Name:       name,
		PublicKey:  []byte(id + "-pubkey"),
		CreatedAt:  time.Now(),
		Metadata:   map[string]string{},
		Tags:       []string{"test"},
		Namespaces: []string{"/test"},
		Scopes:     []string{"admin:/**"},
		Status:     StatusActive,
	}
}

func TestMemoryStoreCreateGet(t *testing.T) {
	s := NewMemoryStore()
	e := testEntity("clasp:device1", "test-device")

	if err := s.Create(e); err != nil {
		t.Fatalf("create: %v", err)
	}
	found, ok, err := s.Get(e.ID)
	if err != nil || !ok {
		t.Fatalf("get: found=%v err=%v", ok, err)
	}
	if found.Name != "test-device" || !found.IsActive() {
		t.Fatalf("unexpected entity: %+v", found)
	}
}

func TestMemoryStoreDuplicateCreateFails(t *testing.T) {
	s := NewMemoryStore()
	e := testEntity("clasp:device1", "test-device")
	s.Create(e)
	if err := s.Create(e); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStoreFindByPublicKey(t *testing.T) {
	s := NewMemoryStore()
	e := testEntity("clasp:device1", "test-device")
	s.Create(e)

	found, ok, err := s.FindByPublicKey(e.PublicKey)
	if err != nil || !ok || found.ID != e.ID {
		t.Fatalf("unexpected result: found=%v ok=%v err=%v", found, ok, err)
	}
}

func TestMemoryStoreFindByTag(t *testing.T) {
	s := NewMemoryStore()
	s.Create(testEntity("clasp:device1", "test-device"))

	found, _ := s.FindByTag("test")
	if len(found) != 1 {
		t.Fatalf("expected 1 match, got %d", len(found))
	}
	found, _ = s.FindByTag("other")
	if len(found) != 0 {
		t.Fatalf("expected no matches, got %d", len(found))
	}
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	s := NewMemoryStore()
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

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
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

func TestMemoryStoreListCount(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		s.Create(testEntity(string(rune('a'+i)), "device"))
	}
	count, _ := s.Count()
	if count != 5 {
		t.Fatalf("expected count 5, got %d", count)
	}
	page, _ := s.List(0, 3)
	if len(page) != 3 {
		t.Fatalf("expected page of 3, got %d", len(page))
	}
}
