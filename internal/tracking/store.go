package tracking

import (
	"errors"

	"trackd/internal/model"
)

// ErrNotFound is returned by RecordStore implementations when no record
// exists for a key.
var ErrNotFound = errors.New("tracking record not found")

// ErrConflict is returned by RecordStore.Put when the expected version does
// not match the stored one, i.e. another writer got there first.
var ErrConflict = errors.New("tracking record version conflict")

// RecordStore provides keyed persistence for tracking records. It is the
// single shared mutable resource of the system; all per-key serialization is
// expressed through the optimistic-concurrency token returned by Get and
// checked by Put, never through locks held by callers.
type RecordStore interface {
	// Get returns the record for the key together with its concurrency
	// token. Returns ErrNotFound when no record exists.
	Get(key model.TrackingKey) (*model.TrackedContent, uint64, error)

	// Put stores the record if the stored version still equals
	// expectedVersion. expectedVersion 0 means "create": the put fails with
	// ErrConflict if any record already exists for the key.
	Put(key model.TrackingKey, record *model.TrackedContent, expectedVersion uint64) error

	// Delete removes the record for the key. Deleting an absent key is a
	// no-op.
	Delete(key model.TrackingKey) error

	// ListKeys returns the keys of all records in the given state.
	ListKeys(state model.RecordState) ([]model.TrackingKey, error)

	// GetLegacy returns a record from the legacy area, populated only by
	// migration imports. Returns ErrNotFound when absent.
	GetLegacy(key model.TrackingKey) (*model.TrackedContent, error)

	// PutLegacy stores a record in the legacy area, overwriting any
	// previous one.
	PutLegacy(key model.TrackingKey, record *model.TrackedContent) error

	// ListLegacyKeys returns the keys of all legacy records.
	ListLegacyKeys() ([]model.TrackingKey, error)

	// Close releases any resources held by the store.
	Close() error
}
