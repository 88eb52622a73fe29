package session

import (
	"context"
	"time"

	"gas_oracle/internal/storage"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in a process-local LRU. Expired entries are dropped
// lazily on Touch and in bulk by Sweep.
type MemoryStore struct {
	cache *storage.LRUCache[Session]
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore creates a store holding at most capacity sessions.
func NewMemoryStore(capacity int, idleTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: storage.NewLRUCache[Session](capacity, idleTTL),
		ttl:   idleTTL,
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context) (*Session, error) {
	now := s.now()
	sess := Session{ID: uuid.NewString(), CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	s.cache.Set(sess.ID, sess)
	return &sess, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string) (*Session, error) {
	sess, ok := s.cache.Get(id)
	if !ok || !s.cache.Touch(id, s.ttl) {
		return nil, ErrSessionNotFound
	}
	sess.ExpiresAt = s.now().Add(s.ttl)
	return &sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	return s.cache.CleanupExpired(), nil
}
