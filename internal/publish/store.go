package publish

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ACLPublicRead is the canned ACL applied to every object.
const ACLPublicRead = "public-read"

// PutInput is one object write.
type PutInput struct {
	Bucket       string
	Key          string
	Body         []byte
	ContentType  string
	CacheControl string
	ACL          string
}

// ObjectStore is the storage backend the publisher writes to.
type ObjectStore interface {
	Put(ctx context.Context, in PutInput) error
}

// StoredObject is a MemoryStore entry.
type StoredObject struct {
	PutInput
	StoredAt time.Time
	Puts     int
}

// MemoryStore is an in-process ObjectStore used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*StoredObject
	order   []string
	// Fail, when set, is consulted before each Put.
	Fail func(PutInput) error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*StoredObject)}
}

// Put implements ObjectStore.
func (s *MemoryStore) Put(ctx context.Context, in PutInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Fail != nil {
		if err := s.Fail(in); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	in.Body = append([]byte(nil), in.Body...)
	obj, ok := s.objects[in.Key]
	if !ok {
		obj = &StoredObject{}
		s.objects[in.Key] = obj
	}
	obj.PutInput = in
	obj.StoredAt = time.Now()
	obj.Puts++
	s.order = append(s.order, in.Key)
	return nil
}

// Get returns a copy of the object stored under key.
func (s *MemoryStore) Get(key string) (StoredObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return StoredObject{}, false
	}
	return *obj, true
}

// Keys returns the stored keys, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutOrder returns every Put key in call order, including repeats.
func (s *MemoryStore) PutOrder() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}
