package store

import (
	"sync"

	"trackd/internal/model"
	"trackd/internal/tracking"
)

// MemoryStore is an in-memory implementation of the RecordStore interface,
// useful for tests and single-process development setups. It is safe for
// concurrent use; conditional puts are checked under the store mutex.
type MemoryStore struct {
	name    string
	mu      sync.RWMutex
	records map[model.TrackingKey]*versionedRecord
	legacy  map[model.TrackingKey]*model.TrackedContent
}

type versionedRecord struct {
	version uint64
	record  *model.TrackedContent
}

// NewMemoryStore creates a new in-memory record store with the given name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:    name,
		records: make(map[model.TrackingKey]*versionedRecord),
		legacy:  make(map[model.TrackingKey]*model.TrackedContent),
	}
}

func (m *MemoryStore) Get(key model.TrackingKey) (*model.TrackedContent, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vr, ok := m.records[key]
	if !ok {
		return nil, 0, tracking.ErrNotFound
	}
	return vr.record.Clone(), vr.version, nil
}

func (m *MemoryStore) Put(key model.TrackingKey, record *model.TrackedContent, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.records[key]
	if expectedVersion == 0 {
		if exists {
			return tracking.ErrConflict
		}
	} else {
		if !exists || current.version != expectedVersion {
			return tracking.ErrConflict
		}
	}

	m.records[key] = &versionedRecord{
		version: expectedVersion + 1,
		record:  record.Clone(),
	}
	return nil
}

func (m *MemoryStore) Delete(key model.TrackingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryStore) ListKeys(state model.RecordState) ([]model.TrackingKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []model.TrackingKey
	for key, vr := range m.records {
		if vr.record.State == state {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemoryStore) GetLegacy(key model.TrackingKey) (*model.TrackedContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.legacy[key]
	if !ok {
		return nil, tracking.ErrNotFound
	}
	return record.Clone(), nil
}

func (m *MemoryStore) PutLegacy(key model.TrackingKey, record *model.TrackedContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legacy[key] = record.Clone()
	return nil
}

func (m *MemoryStore) ListLegacyKeys() ([]model.TrackingKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []model.TrackingKey
	for key := range m.legacy {
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *MemoryStore) Close() error { return nil }

// Compile-time check that MemoryStore implements the RecordStore interface
var _ tracking.RecordStore = (*MemoryStore)(nil)
