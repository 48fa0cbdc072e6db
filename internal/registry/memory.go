package registry

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process EntityStore, useful for development and
// tests where a SQLite file isn't warranted.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]*Entity)}
}

func (s *MemoryStore) Create(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[e.ID]; exists {
		return ErrAlreadyExists
	}
	cp := *e
	s.entities[e.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(id string) (*Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

func (s *MemoryStore) FindByPublicKey(key []byte) (*Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entities {
		if string(e.PublicKey) == string(key) {
			cp := *e
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *MemoryStore) FindByTag(tag string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entity
	for _, e := range s.entities {
		if containsString(e.Tags, tag) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByNamespace(namespace string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entity
	for _, e := range s.entities {
		if containsString(e.Namespaces, namespace) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) List(offset, limit int) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		cp := *e
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (s *MemoryStore) Update(e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	s.entities[e.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateStatus(id string, status EntityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	return nil
}

func (s *MemoryStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return false, nil
	}
	delete(s.entities, id)
	return true, nil
}

func (s *MemoryStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}

var _ EntityStore = (*MemoryStore)(nil)
