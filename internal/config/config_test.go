package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.WSPort = 9443
	cfg.QUICPort = 9444
	cfg.TrustAnchor = []string{"deadbeef"}
	cfg.SessionTimeout = Duration(42 * time.Second)

	path := filepath.Join(t.TempDir(), "claspd.json")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.WSPort != 9443 || loaded.QUICPort != 9444 {
		t.Fatalf("unexpected ports: %+v", loaded)
	}
	if len(loaded.TrustAnchor) != 1 || loaded.TrustAnchor[0] != "deadbeef" {
		t.Fatalf("unexpected trust anchors: %+v", loaded.TrustAnchor)
	}
	if time.Duration(loaded.SessionTimeout) != 42*time.Second {
		t.Fatalf("unexpected session timeout: %v", loaded.SessionTimeout)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error loading a nonexistent config file")
	}
}

func TestLoadPartialFilePreservesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := Save(Config{WSPort: 7000, MaxSessions: 50, TrustAnchor: []string{}}, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.WSPort != 7000 {
		t.Fatalf("expected overridden ws_port, got %d", loaded.WSPort)
	}
	if time.Duration(loaded.ParamTTL) != time.Hour {
		t.Fatalf("expected default param_ttl to survive, got %v", loaded.ParamTTL)
	}
}
