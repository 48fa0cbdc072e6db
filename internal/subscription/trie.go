// Package subscription implements the segment-trie subscription matcher
// described in spec §4.3: O(segments) fan-out lookup across many patterns,
// including single- and multi-segment wildcards and partial-wildcard
// post-match verification.
package subscription

import (
	"sync"

	"github.com/rustyguts/clasp/internal/address"
)

// SessionID identifies the owning session of a subscriber entry. Kept as a
// string here so this package has no dependency on the session package.
type SessionID string

// SubscriberEntry is one subscription's leaf record (spec §3/§4.3).
type SubscriberEntry struct {
	SessionID    SessionID
	SubID        uint32
	TypeFilter   map[string]struct{} // empty/nil = no filter
	VerifyPattern *address.Pattern    // set iff the pattern has a partial wildcard
}

type node struct {
	children       map[string]*node
	singleWildcard *node
	multiWildcard  *node
	subscribers    []SubscriberEntry
}

func newNode() *node { return &node{children: make(map[string]*node)} }

// Manager owns the trie and the reverse index from session to its
// subscriptions, used to prune all of a session's entries in one pass.
type Manager struct {
	mu   sync.RWMutex
	root *node
	// bySession maps a session to the set of (subID -> pattern segments) it
	// registered, so RemoveSession can walk and prune without a full scan.
	bySession map[SessionID]map[uint32][]string
}

func NewManager() *Manager {
	return &Manager{root: newNode(), bySession: make(map[SessionID]map[uint32][]string)}
}

// Insert registers a subscriber at the compiled pattern.
func (m *Manager) Insert(pattern *address.Pattern, entry SubscriberEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	segs := pattern.Segments()
	n := m.root
	for _, seg := range segs {
		switch {
		case seg == "**":
			if n.multiWildcard == nil {
				n.multiWildcard = newNode()
			}
			n = n.multiWildcard
		case seg == "*" || isPartialWildcard(seg):
			if n.singleWildcard == nil {
				n.singleWildcard = newNode()
			}
			n = n.singleWildcard
		default:
			child, ok := n.children[seg]
			if !ok {
				child = newNode()
				n.children[seg] = child
			}
			n = child
		}
	}
	n.subscribers = append(n.subscribers, entry)

	bySub, ok := m.bySession[entry.SessionID]
	if !ok {
		bySub = make(map[uint32][]string)
		m.bySession[entry.SessionID] = bySub
	}
	bySub[entry.SubID] = segs
}

func isPartialWildcard(seg string) bool {
	if seg == "*" || seg == "**" {
		return false
	}
	for _, c := range seg {
		if c == '*' {
			return true
		}
	}
	return false
}

// Remove deletes one subscriber entry by (session, subID); no-op if absent.
func (m *Manager) Remove(session SessionID, subID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySub, ok := m.bySession[session]
	if !ok {
		return
	}
	segs, ok := bySub[subID]
	if !ok {
		return
	}
	delete(bySub, subID)
	if len(bySub) == 0 {
		delete(m.bySession, session)
	}
	removeAlongPath(m.root, segs, 0, session, subID)
}

// RemoveSession deletes every subscriber entry owned by session.
func (m *Manager) RemoveSession(session SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySub, ok := m.bySession[session]
	if !ok {
		return
	}
	for subID, segs := range bySub {
		removeAlongPath(m.root, segs, 0, session, subID)
	}
	delete(m.bySession, session)
}

// removeAlongPath walks to the terminal node for segs, removes the matching
// subscriber entry, and prunes empty nodes bottom-up on the way back out.
func removeAlongPath(n *node, segs []string, i int, session SessionID, subID uint32) (prune bool) {
	if i == len(segs) {
		out := n.subscribers[:0]
		for _, e := range n.subscribers {
			if e.SessionID == session && e.SubID == subID {
				continue
			}
			out = append(out, e)
		}
		n.subscribers = out
		return len(n.subscribers) == 0 && len(n.children) == 0 && n.singleWildcard == nil && n.multiWildcard == nil
	}
	seg := segs[i]
	switch {
	case seg == "**":
		if n.multiWildcard == nil {
			return false
		}
		if removeAlongPath(n.multiWildcard, segs, i+1, session, subID) {
			n.multiWildcard = nil
		}
	case seg == "*" || isPartialWildcard(seg):
		if n.singleWildcard == nil {
			return false
		}
		if removeAlongPath(n.singleWildcard, segs, i+1, session, subID) {
			n.singleWildcard = nil
		}
	default:
		child, ok := n.children[seg]
		if !ok {
			return false
		}
		if removeAlongPath(child, segs, i+1, session, subID) {
			delete(n.children, seg)
		}
	}
	return len(n.subscribers) == 0 && len(n.children) == 0 && n.singleWildcard == nil && n.multiWildcard == nil
}

// Match returns the deduplicated set of subscriber entries whose pattern
// matches address and whose type filter accepts signalType (empty filter
// accepts everything). See spec §4.3.
func (m *Manager) Match(addr string, signalType string) []SubscriberEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	segs := address.Segments(addr)
	var candidates []SubscriberEntry
	collect(m.root, segs, 0, &candidates)

	seen := make(map[SessionID]struct{}, len(candidates))
	var out []SubscriberEntry
	for _, e := range candidates {
		if len(e.TypeFilter) > 0 {
			if _, ok := e.TypeFilter[signalType]; !ok {
				continue
			}
		}
		if e.VerifyPattern != nil && !e.VerifyPattern.Matches(addr) {
			continue
		}
		if _, dup := seen[e.SessionID]; dup {
			continue
		}
		seen[e.SessionID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func collect(n *node, segs []string, i int, out *[]SubscriberEntry) {
	if i == len(segs) {
		*out = append(*out, n.subscribers...)
	}
	if i < len(segs) {
		if child, ok := n.children[segs[i]]; ok {
			collect(child, segs, i+1, out)
		}
		if n.singleWildcard != nil {
			collect(n.singleWildcard, segs, i+1, out)
		}
	}
	if n.multiWildcard != nil {
		// ** may consume zero or more of the remaining segments, including
		// recursing into a nested ** further down the pattern.
		for k := i; k <= len(segs); k++ {
			collect(n.multiWildcard, segs, k, out)
		}
	}
}

// Count reports the total number of live subscriber entries (test/metrics use).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, bySub := range m.bySession {
		total += len(bySub)
	}
	return total
}
