package registry

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func TestLoadCpskValidatorSkipsInactiveAndUntokened(t *testing.T) {
	s := NewMemoryStore()
	s.Create(&Entity{
		ID: "svc1", Type: EntityService, Name: "svc1", CreatedAt: time.Now(),
		Metadata: map[string]string{"cpsk_token": "cpsk_abcdef"},
		Scopes:   []string{"read:/lights/**"},
		Status:   StatusActive,
	})
	s.Create(&Entity{
		ID: "svc2", Type: EntityService, Name: "svc2", CreatedAt: time.Now(),
		Metadata: map[string]string{"cpsk_token": "cpsk_revoked"},
		Status:   StatusRevoked,
	})
	s.Create(&Entity{ID: "svc3", Type: EntityService, Name: "svc3", CreatedAt: time.Now(), Status: StatusActive})

	v, err := LoadCpskValidator(s)
	if err != nil {
		t.Fatalf("load validator: %v", err)
	}
	info, err := v.Validate("cpsk_abcdef", time.Now())
	if err != nil {
		t.Fatalf("validate active token: %v", err)
	}
	if info.Subject != "svc1" {
		t.Fatalf("unexpected subject: %+v", info)
	}
	if _, err := v.Validate("cpsk_revoked", time.Now()); err == nil {
		t.Fatal("expected revoked entity's token to be excluded")
	}
}

func TestLoadTrustAnchorsFiltersInactiveAndBadKeys(t *testing.T) {
	s := NewMemoryStore()
	_, pub1, _ := ed25519.GenerateKey(nil)
	_, pub2, _ := ed25519.GenerateKey(nil)

	s.Create(&Entity{ID: "r1", Type: EntityRouter, Name: "r1", PublicKey: pub1, CreatedAt: time.Now(), Status: StatusActive})
	s.Create(&Entity{ID: "r2", Type: EntityRouter, Name: "r2", PublicKey: pub2, CreatedAt: time.Now(), Status: StatusRevoked})
	s.Create(&Entity{ID: "r3", Type: EntityRouter, Name: "r3", PublicKey: []byte("too-short"), CreatedAt: time.Now(), Status: StatusActive})

	anchors, err := LoadTrustAnchors(s)
	if err != nil {
		t.Fatalf("load trust anchors: %v", err)
	}
	if _, ok := anchors[string(pub1)]; !ok {
		t.Fatal("expected active router's key to be a trust anchor")
	}
	if _, ok := anchors[string(pub2)]; ok {
		t.Fatal("revoked router's key must not be a trust anchor")
	}
	if len(anchors) != 1 {
		t.Fatalf("expected exactly 1 trust anchor, got %d", len(anchors))
	}
}

func TestLoadPeerNamespaces(t *testing.T) {
	s := NewMemoryStore()
	s.Create(&Entity{
		ID: "r2", Type: EntityRouter, Name: "r2", CreatedAt: time.Now(),
		Namespaces: []string{"/audio/**", "/lights/**"}, Status: StatusActive,
	})

	ns, err := LoadPeerNamespaces(s, "r2")
	if err != nil {
		t.Fatalf("load peer namespaces: %v", err)
	}
	if len(ns) != 2 {
		t.Fatalf("expected 2 namespaces, got %+v", ns)
	}

	ns, err = LoadPeerNamespaces(s, "unknown")
	if err != nil || ns != nil {
		t.Fatalf("expected nil for unknown router, got ns=%+v err=%v", ns, err)
	}
}
