package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultSearchLimit caps Search results when Query.Limit is unset.
const DefaultSearchLimit = 100

var (
	// ErrNotFound is returned for absent or expired keys.
	ErrNotFound = errors.New("memory: entry not found")

	// ErrInvalidEntry is returned for entries that cannot be indexed.
	ErrInvalidEntry = errors.New("memory: invalid entry")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("memory: store closed")
)

// Category classifies an entry.
type Category string

const (
	CategoryExecution  Category = "execution"
	CategoryContext    Category = "context"
	CategoryResult     Category = "result"
	CategoryError      Category = "error"
	CategoryCheckpoint Category = "checkpoint"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryExecution,
	CategoryContext,
	CategoryResult,
	CategoryError,
	CategoryCheckpoint,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Entry is one keyed memory record.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Category  Category        `json:"category"`
	TaskID    string          `json:"task_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether e is logically absent at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

func (e *Entry) clone() *Entry {
	c := *e
	if e.Value != nil {
		c.Value = append(json.RawMessage(nil), e.Value...)
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// IndexRequest describes an upsert.
type IndexRequest struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Category Category        `json:"category"`
	TaskID   string          `json:"task_id,omitempty"`
	// TTL overrides the store default. Negative means never expire.
	TTL time.Duration `json:"ttl,omitempty"`
}

// Validate checks the request shape.
func (r *IndexRequest) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidEntry)
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidEntry, r.Category)
	}
	if len(r.Value) > 0 && !json.Valid(r.Value) {
		return fmt.Errorf("%w: value is not valid JSON", ErrInvalidEntry)
	}
	return nil
}

// Query filters Search.
type Query struct {
	// Text is matched case-sensitively against the key and the value's JSON
	// text. Empty matches everything.
	Text     string   `json:"query"`
	Category Category `json:"category,omitempty"`
	TaskID   string   `json:"task_id,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Stats summarises the store.
type Stats struct {
	Total      int              `json:"total"`
	Active     int              `json:"active"`
	Expired    int              `json:"expired"`
	ByCategory map[Category]int `json:"by_category"`
}

// Snapshot is a point-in-time copy of the active entries.
type Snapshot struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Entries   []*Entry  `json:"entries"`
	CreatedAt time.Time `json:"created_at"`
}
