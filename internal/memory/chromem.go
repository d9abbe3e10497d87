package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/config"
)

// unitEmbedding is stored with every document. Retrieval never compares
// vectors, but chromem requires one per document.
var unitEmbedding = []float32{1}

func constantEmbedding(context.Context, string) ([]float32, error) {
	return unitEmbedding, nil
}

// ChromemStore is a write-through store: reads are served from the in-memory
// index and every mutation is persisted as a chromem-go document.
type ChromemStore struct {
	mu         sync.RWMutex
	index      *entryIndex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	closed     bool

	now    func() time.Time
	logger *zap.Logger
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens (or creates) the persistent DB at cfg.Chromem.Path and
// reloads every stored entry.
func NewChromemStore(cfg Config, opts ...Option) (*ChromemStore, error) {
	cfg.applyDefaults()
	o := buildOptions(opts)

	if cfg.Chromem.Path == "" {
		return nil, errors.New("chromem path is required")
	}
	path := config.ExpandHome(cfg.Chromem.Path)

	db, err := chromem.NewPersistentDB(path, cfg.Chromem.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
	}
	col, err := db.GetOrCreateCollection(cfg.Chromem.Collection, nil, constantEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", cfg.Chromem.Collection, err)
	}

	s := &ChromemStore{
		index:      newEntryIndex(cfg.DefaultTTL, cfg.MaxEntries),
		db:         db,
		collection: col,
		name:       cfg.Chromem.Collection,
		now:        o.now,
		logger:     o.logger.Named("memory.chromem"),
	}
	if err := s.reload(context.Background()); err != nil {
		return nil, err
	}
	s.logger.Info("memory store opened",
		zap.String("path", path),
		zap.String("collection", s.name),
		zap.Int("entries", len(s.index.entries)))
	return s, nil
}

// reload rebuilds the index from the persisted collection. Expired entries
// are loaded too; they are invisible to reads and removed by the next sweep.
func (s *ChromemStore) reload(ctx context.Context) error {
	n := s.collection.Count()
	if n == 0 {
		return nil
	}
	docs, err := s.collection.QueryEmbedding(ctx, unitEmbedding, n, nil, nil)
	if err != nil {
		return fmt.Errorf("loading memory entries: %w", err)
	}
	for _, doc := range docs {
		var e Entry
		if err := json.Unmarshal([]byte(doc.Content), &e); err != nil {
			s.logger.Warn("skipping unreadable memory document", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		s.index.load(&e)
	}
	return nil
}

func (s *ChromemStore) persist(ctx context.Context, e *Entry) error {
	content, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry %s: %w", e.Key, err)
	}
	doc := chromem.Document{
		ID: e.Key,
		Metadata: map[string]string{
			"category": string(e.Category),
			"task_id":  e.TaskID,
		},
		Embedding: unitEmbedding,
		Content:   string(content),
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("persisting entry %s: %w", e.Key, err)
	}
	return nil
}

func (s *ChromemStore) unpersist(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, keys...); err != nil {
		return fmt.Errorf("removing %d persisted entries: %w", len(keys), err)
	}
	return nil
}

func (s *ChromemStore) Index(ctx context.Context, req *IndexRequest) (*Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	prev, hadPrev := s.index.entries[req.Key]
	e, swept := s.index.put(req, s.now())
	if err := s.unpersist(ctx, swept...); err != nil {
		s.logger.Warn("failed to remove swept entries", zap.Error(err))
	}
	if err := s.persist(ctx, e); err != nil {
		if hadPrev {
			s.index.entries[req.Key] = prev
		} else {
			s.index.remove(req.Key)
		}
		return nil, err
	}
	return e, nil
}

func (s *ChromemStore) Get(_ context.Context, key string) (*Entry, error) {
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

func (s *ChromemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.index.remove(key) {
		return nil
	}
	return s.unpersist(ctx, key)
}

func (s *ChromemStore) Search(_ context.Context, q Query) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.index.search(q, s.now()), nil
}

func (s *ChromemStore) TaskMemories(_ context.Context, taskID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.index.search(Query{TaskID: taskID, Limit: s.index.maxEntries}, s.now()), nil
}

func (s *ChromemStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	swept := s.index.sweep(s.now())
	if err := s.unpersist(ctx, swept...); err != nil {
		return len(swept), err
	}
	return len(swept), nil
}

func (s *ChromemStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.index.stats(s.now()), nil
}

func (s *ChromemStore) Snapshot(_ context.Context, ownerID string) (*Snapshot, error) {
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

// Clear drops the collection directory and starts a fresh one.
func (s *ChromemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("clearing collection %s: %w", s.name, err)
	}
	col, err := s.db.CreateCollection(s.name, nil, constantEmbedding)
	if err != nil {
		return fmt.Errorf("recreating collection %s: %w", s.name, err)
	}
	s.collection = col
	s.index.reset()
	return nil
}

// Close marks the store closed. Documents are already on disk.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
