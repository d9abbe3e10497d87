package memory

import (
	"sort"
	"strings"
	"time"
)

// entryIndex is the keyed entry map shared by every backend. It is not
// synchronized; the owning store guards it.
type entryIndex struct {
	entries    map[string]*Entry
	defaultTTL time.Duration
	maxEntries int
}

func newEntryIndex(defaultTTL time.Duration, maxEntries int) *entryIndex {
	return &entryIndex{
		entries:    make(map[string]*Entry),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
	}
}

// put upserts req. A new key at capacity sweeps expired entries first and
// returns the swept keys; the insert happens regardless.
func (ix *entryIndex) put(req *IndexRequest, now time.Time) (*Entry, []string) {
	var swept []string
	if _, exists := ix.entries[req.Key]; !exists && ix.maxEntries > 0 && len(ix.entries) >= ix.maxEntries {
		swept = ix.sweep(now)
	}

	value := req.Value
	if len(value) == 0 {
		value = []byte("null")
	}
	e := &Entry{
		Key:       req.Key,
		Value:     append([]byte(nil), value...),
		Category:  req.Category,
		TaskID:    req.TaskID,
		Timestamp: now,
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = ix.defaultTTL
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		e.ExpiresAt = &exp
	}

	ix.entries[e.Key] = e
	return e.clone(), swept
}

// load inserts e as-is, used when rehydrating a persisted store.
func (ix *entryIndex) load(e *Entry) {
	ix.entries[e.Key] = e.clone()
}

func (ix *entryIndex) get(key string, now time.Time) (*Entry, bool) {
	e, ok := ix.entries[key]
	if !ok || e.Expired(now) {
		return nil, false
	}
	return e.clone(), true
}

func (ix *entryIndex) remove(key string) bool {
	if _, ok := ix.entries[key]; !ok {
		return false
	}
	delete(ix.entries, key)
	return true
}

func (ix *entryIndex) search(q Query, now time.Time) []*Entry {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var out []*Entry
	for _, e := range ix.entries {
		if e.Expired(now) {
			continue
		}
		if q.Category != "" && e.Category != q.Category {
			continue
		}
		if q.TaskID != "" && e.TaskID != q.TaskID {
			continue
		}
		if q.Text != "" && !strings.Contains(e.Key, q.Text) && !strings.Contains(string(e.Value), q.Text) {
			continue
		}
		out = append(out, e.clone())
	}

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// sweep drops expired entries and returns their keys.
func (ix *entryIndex) sweep(now time.Time) []string {
	var keys []string
	for k, e := range ix.entries {
		if e.Expired(now) {
			delete(ix.entries, k)
			keys = append(keys, k)
		}
	}
	return keys
}

func (ix *entryIndex) stats(now time.Time) *Stats {
	s := &Stats{
		Total:      len(ix.entries),
		ByCategory: make(map[Category]int),
	}
	for _, e := range ix.entries {
		if e.Expired(now) {
			s.Expired++
			continue
		}
		s.Active++
		s.ByCategory[e.Category]++
	}
	return s
}

func (ix *entryIndex) active(now time.Time) []*Entry {
	out := make([]*Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		if !e.Expired(now) {
			out = append(out, e.clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func (ix *entryIndex) keys() []string {
	out := make([]string, 0, len(ix.entries))
	for k := range ix.entries {
		out = append(out, k)
	}
	return out
}

func (ix *entryIndex) reset() {
	ix.entries = make(map[string]*Entry)
}

func sortNewestFirst(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].Key < entries[j].Key
	})
}
