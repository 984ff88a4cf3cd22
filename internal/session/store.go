package session

import (
	"cmp"
	"slices"
)

// Store holds sessions by ID. The Registry serialises access, so
// implementations need not lock.
type Store interface {
	Load(id string) (*Session, bool)
	Save(s *Session)
	Remove(id string)
	// Sessions returns every session, oldest first. Sessions created at the
	// same instant are ordered by ID.
	Sessions() []*Session
}

// InMemoryStore keeps sessions in a map.
type InMemoryStore struct {
	byID map[string]*Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]*Session)}
}

func (m *InMemoryStore) Load(id string) (*Session, bool) {
	s, ok := m.byID[id]
	return s, ok
}

// Save inserts s or replaces the session with the same ID.
func (m *InMemoryStore) Save(s *Session) { m.byID[s.ID] = s }

func (m *InMemoryStore) Remove(id string) { delete(m.byID, id) }

func (m *InMemoryStore) Sessions() []*Session {
	out := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
