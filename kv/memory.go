package kv

import (
	"context"
	"sync"
	"time"

	"github.com/petar/GoLLRB/llrb"
)

// entry is the LLRB item stored for each key: ordered by Key so range scans
// can seed FindKeys/DeleteByPattern from a glob's literal prefix instead of
// a full table scan.
type entry struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time // zero means no expiry
}

func (e *entry) Less(than llrb.Item) bool {
	return e.Key < than.(*entry).Key
}

func (e *entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// MemoryStore is the in-memory fallback Store used when no native backend
// (Redis) is configured, per the design's "falls back to an in-memory map
// with regex-translated patterns" rule. Backed by an ordered tree rather
// than a plain map so prefix-style pattern deletes (the common case —
// "cloud:list:{owner}:*") don't require scanning every key.
type MemoryStore struct {
	mu   sync.Mutex
	tree *llrb.LLRB
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tree: llrb.New()}
}

func (m *MemoryStore) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.tree.Get(&entry{Key: key})
	if item == nil {
		return false, nil
	}

	e := item.(*entry)
	if e.expired(time.Now()) {
		m.tree.Delete(e)
		return false, nil
	}

	if err := decode(e.Value, dst); err != nil {
		return false, err
	}

	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	e := &entry{Key: key, Value: data}
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.tree.ReplaceOrInsert(e)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	m.tree.Delete(&entry{Key: key})
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) FindKeys(_ context.Context, glob string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	m.scanMatching(glob, func(e *entry) {
		keys = append(keys, e.Key)
	})

	return keys, nil
}

func (m *MemoryStore) DeleteByPattern(_ context.Context, glob string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toDelete []*entry
	m.scanMatching(glob, func(e *entry) {
		toDelete = append(toDelete, e)
	})

	for _, e := range toDelete {
		m.tree.Delete(e)
	}

	return len(toDelete), nil
}

// scanMatching walks every live (non-expired) entry whose key could match
// glob, starting from glob's literal prefix, and invokes fn for each entry
// whose key actually matches the translated pattern. Caller holds m.mu.
func (m *MemoryStore) scanMatching(glob string, fn func(*entry)) {
	prefix := globPrefix(glob)
	bound := upperBound(prefix)
	re := globToRegexp(glob)
	now := time.Now()

	var expired []*entry

	m.tree.AscendGreaterOrEqual(&entry{Key: prefix}, func(i llrb.Item) bool {
		e := i.(*entry)
		if bound != "" && e.Key >= bound {
			return false
		}

		if e.expired(now) {
			expired = append(expired, e)
			return true
		}

		if re.MatchString(e.Key) {
			fn(e)
		}

		return true
	})

	for _, e := range expired {
		m.tree.Delete(e)
	}
}
