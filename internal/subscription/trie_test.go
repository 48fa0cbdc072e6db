package subscription

import (
	"sort"
	"testing"

	"github.com/rustyguts/clasp/internal/address"
)

func ids(entries []SubscriberEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.SessionID)
	}
	sort.Strings(out)
	return out
}

func TestTrieExactMatch(t *testing.T) {
	m := NewManager()
	m.Insert(address.Compile("/lights/room1"), SubscriberEntry{SessionID: "s1", SubID: 1})
	got := m.Match("/lights/room1", "event")
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("expected s1, got %+v", got)
	}
	if len(m.Match("/lights/room2", "event")) != 0 {
		t.Fatal("expected no match for a different literal address")
	}
}

func TestTrieSingleWildcard(t *testing.T) {
	m := NewManager()
	m.Insert(address.Compile("/lights/*"), SubscriberEntry{SessionID: "s1", SubID: 1})
	if len(m.Match("/lights/room1", "event")) != 1 {
		t.Fatal("expected single wildcard match")
	}
	if len(m.Match("/lights/room1/brightness", "event")) != 0 {
		t.Fatal("single wildcard must not cross a segment boundary")
	}
}

func TestTrieMultiWildcard(t *testing.T) {
	m := NewManager()
	m.Insert(address.Compile("/lights/**"), SubscriberEntry{SessionID: "s1", SubID: 1})
	for _, addr := range []string{"/lights", "/lights/room1", "/lights/room1/brightness"} {
		if len(m.Match(addr, "event")) != 1 {
			t.Errorf("expected match for %q", addr)
		}
	}
}

func TestTriePubSubScenario(t *testing.T) {
	// spec §8 end-to-end scenario 1.
	m := NewManager()
	m.Insert(address.Compile("/lights/**"), SubscriberEntry{SessionID: "A", SubID: 1})
	got := m.Match("/lights/room1", "event")
	if len(got) != 1 || got[0].SessionID != "A" {
		t.Fatalf("expected exactly one delivery to A, got %+v", got)
	}
}

func TestTrieDeduplicatesMultiplePatternsForSameSession(t *testing.T) {
	m := NewManager()
	m.Insert(address.Compile("/lights/**"), SubscriberEntry{SessionID: "s1", SubID: 1})
	m.Insert(address.Compile("/lights/room1"), SubscriberEntry{SessionID: "s1", SubID: 2})
	got := m.Match("/lights/room1", "event")
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery despite two matching subs, got %d", len(got))
	}
}

func TestTrieTypeFilter(t *testing.T) {
	m := NewManager()
	m.Insert(address.Compile("/lights/room1"), SubscriberEntry{
		SessionID:  "s1",
		SubID:      1,
		TypeFilter: map[string]struct{}{"event": {}},
	})
	if len(m.Match("/lights/room1", "event")) != 1 {
		t.Fatal("expected type filter to accept matching type")
	}
	if len(m.Match("/lights/room1", "stream")) != 0 {
		t.Fatal("expected type filter to reject non-matching type")
	}
}

func TestTriePartialWildcardVerification(t *testing.T) {
	m := NewManager()
	p := address.Compile("/zone5*/temp")
	m.Insert(p, SubscriberEntry{SessionID: "s1", SubID: 1, VerifyPattern: p})
	if len(m.Match("/zone5a/temp", "param")) != 1 {
		t.Fatal("expected partial wildcard match to verify true")
	}
	if len(m.Match("/zone6/temp", "param")) != 0 {
		t.Fatal("expected partial wildcard verification to reject non-prefix literal")
	}
}

func TestTrieNestedMultiWildcard(t *testing.T) {
	m := NewManager()
	m.Insert(address.Compile("/**/x/**"), SubscriberEntry{SessionID: "s1", SubID: 1})
	for _, addr := range []string{"/x", "/a/x", "/a/x/b", "/a/b/x/c/d"} {
		if len(m.Match(addr, "event")) != 1 {
			t.Errorf("expected match for %q", addr)
		}
	}
	if len(m.Match("/a/y/b", "event")) != 0 {
		t.Fatal("expected no match without literal x segment")
	}
}

func TestTrieInsertThenRemoveRestoresEmptyTrie(t *testing.T) {
	m := NewManager()
	pattern := address.Compile("/lights/room1")
	entry := SubscriberEntry{SessionID: "s1", SubID: 1}
	m.Insert(pattern, entry)
	if m.Count() != 1 {
		t.Fatalf("expected 1 entry after insert, got %d", m.Count())
	}
	m.Remove("s1", 1)
	if m.Count() != 0 {
		t.Fatalf("expected 0 entries after remove, got %d", m.Count())
	}
	if len(m.root.children) != 0 {
		t.Fatalf("expected no leaked trie nodes, got %d children", len(m.root.children))
	}
}

func TestTrieRemoveSessionPrunesAllEntries(t *testing.T) {
	m := NewManager()
	m.Insert(address.Compile("/a"), SubscriberEntry{SessionID: "s1", SubID: 1})
	m.Insert(address.Compile("/b"), SubscriberEntry{SessionID: "s1", SubID: 2})
	m.Insert(address.Compile("/a"), SubscriberEntry{SessionID: "s2", SubID: 1})
	m.RemoveSession("s1")
	if m.Count() != 1 {
		t.Fatalf("expected only s2's subscription to remain, got %d", m.Count())
	}
	got := m.Match("/a", "event")
	if len(got) != 1 || got[0].SessionID != "s2" {
		t.Fatalf("expected s2 to still be subscribed to /a, got %+v", got)
	}
}
