package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InMemoryStore keeps entries in process memory only.
type InMemoryStore struct {
	mu     sync.RWMutex
	index  *entryIndex
	closed bool

	now    func() time.Time
	logger *zap.Logger
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty store.
func NewInMemoryStore(cfg Config, opts ...Option) *InMemoryStore {
	cfg.applyDefaults()
	o := buildOptions(opts)
	return &InMemoryStore{
		index:  newEntryIndex(cfg.DefaultTTL, cfg.MaxEntries),
		now:    o.now,
		logger: o.logger.Named("memory"),
	}
}

func (s *InMemoryStore) Index(_ context.Context, req *IndexRequest) (*Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, swept := s.index.put(req, s.now())
	if len(swept) > 0 {
		s.logger.Debug("swept expired entries at capacity", zap.Int("count", len(swept)))
	}
	return e, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.index.get(key, s.now())
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.index.remove(key)
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, q Query) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.index.search(q, s.now()), nil
}

func (s *InMemoryStore) TaskMemories(ctx context.Context, taskID string) ([]*Entry, error) {
	return s.Search(ctx, Query{TaskID: taskID, Limit: s.maxEntries()})
}

func (s *InMemoryStore) maxEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.maxEntries
}

func (s *InMemoryStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.index.sweep(s.now())), nil
}

func (s *InMemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.index.stats(s.now()), nil
}

func (s *InMemoryStore) Snapshot(_ context.Context, ownerID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := s.now()
	return &Snapshot{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Entries:   s.index.active(now),
		CreatedAt: now,
	}, nil
}

func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.index.reset()
	return nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
