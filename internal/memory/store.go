// Package memory provides the short-lived keyword-indexed store that carries
// context between task executions.
//
// Entries are keyed, categorised and expire after a TTL. Retrieval is plain
// substring matching; no embeddings are computed. Two backends share one
// index implementation: InMemoryStore and the persisted ChromemStore.
package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/config"
)

const (
	BackendMemory  = "memory"
	BackendChromem = "chromem"

	// DefaultTTL applies when neither the request nor the config sets one.
	DefaultTTL = time.Hour

	// DefaultMaxEntries is the soft cap before an expiry sweep.
	DefaultMaxEntries = 10000
)

// Store is the memory capability surface.
type Store interface {
	// Index upserts an entry and returns the stored copy.
	Index(ctx context.Context, req *IndexRequest) (*Entry, error)

	// Get returns ErrNotFound when key is absent or expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Search returns active entries matching q, newest first.
	Search(ctx context.Context, q Query) ([]*Entry, error)

	// TaskMemories returns the active entries recorded for taskID.
	TaskMemories(ctx context.Context, taskID string) ([]*Entry, error)

	// CleanupExpired removes expired entries and returns how many it removed.
	CleanupExpired(ctx context.Context) (int, error)

	Stats(ctx context.Context) (*Stats, error)

	// Snapshot copies the active entries under a fresh id.
	Snapshot(ctx context.Context, ownerID string) (*Snapshot, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	Close() error
}

// Config selects and sizes a backend.
type Config struct {
	Backend    string
	DefaultTTL time.Duration
	MaxEntries int
	Chromem    ChromemConfig
}

// ChromemConfig configures the persisted backend.
type ChromemConfig struct {
	Path       string
	Compress   bool
	Collection string
}

// FromAppConfig converts the application memory section.
func FromAppConfig(c config.MemoryConfig) Config {
	return Config{
		Backend:    c.Backend,
		DefaultTTL: c.DefaultTTL.Duration(),
		MaxEntries: c.MaxEntries,
		Chromem: ChromemConfig{
			Path:       c.Chromem.Path,
			Compress:   c.Chromem.Compress,
			Collection: c.Chromem.Collection,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.Chromem.Collection == "" {
		c.Chromem.Collection = "agentflow_memory"
	}
}

// Option configures a store.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open builds the backend named by cfg.Backend.
func Open(cfg Config, opts ...Option) (Store, error) {
	cfg.applyDefaults()
	switch cfg.Backend {
	case BackendMemory:
		return NewInMemoryStore(cfg, opts...), nil
	case BackendChromem:
		return NewChromemStore(cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}
