package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tuborlabs/tyield/internal/errors"
)

// MemoryStore is an in-process EntityStore with compare-and-set semantics.
// Suitable for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Get returns the current record for key.
func (m *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return Record{}, errors.NotFound(storeComponent, "get", key)
	}
	return cloneRecord(rec), nil
}

// Put writes data iff the stored version equals expectedVersion.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, expectedVersion uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.records[key]
	switch {
	case !exists && expectedVersion != CreateVersion:
		return 0, errors.NotFound(storeComponent, "put", key)
	case exists && current.Version != expectedVersion:
		return 0, errors.Conflict(storeComponent, "put", key)
	}

	next := expectedVersion + 1
	m.records[key] = Record{
		Key:     key,
		Version: next,
		Data:    append([]byte(nil), data...),
	}
	return next, nil
}

// List returns all records under prefix, ordered by key.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for key, rec := range m.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes a key iff the stored version matches.
func (m *MemoryStore) Delete(_ context.Context, key string, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.records[key]
	if !exists {
		return errors.NotFound(storeComponent, "delete", key)
	}
	if current.Version != expectedVersion {
		return errors.Conflict(storeComponent, "delete", key)
	}
	delete(m.records, key)
	return nil
}

func cloneRecord(rec Record) Record {
	rec.Data = append([]byte(nil), rec.Data...)
	return rec
}
