package tracking

import (
	"errors"
	"fmt"

	"trackd/internal/model"
)

// adminAPIPrefix marks requests the service proxied to itself. File events
// whose origin path contains it are the service's own tracking-admin
// traffic and must not be recorded a second time.
const adminAPIPrefix = "api/track"

// maxUpdateAttempts bounds the optimistic-concurrency retry loop. Contention
// is scoped to one tracking key, so a handful of retries is plenty.
const maxUpdateAttempts = 10

// errUnchanged is returned by mutate functions to signal that the record
// needs no write; the update loop then returns the loaded record as-is.
var errUnchanged = errors.New("record unchanged")

// TrackingService coordinates the tracked-content record lifecycle: event
// ingestion into open records, sealing, promotion reconciliation on sealed
// records, report projection and bulk export/import.
type TrackingService struct {
	store       RecordStore
	maintenance MaintenanceService
	promote     PromoteService
	logger      Logger
	clock       Clock
	idgen       IDGenerator

	trackGroupContent  bool
	deletionGuardCheck bool
}

// NewTrackingService creates a TrackingService with the provided
// dependencies. maintenance and promote may be nil when batch deletion is
// not exposed (e.g. local CLI use).
func NewTrackingService(store RecordStore, maintenance MaintenanceService, promote PromoteService,
	logger Logger, clock Clock, idgen IDGenerator, trackGroupContent, deletionGuardCheck bool) *TrackingService {
	return &TrackingService{
		store:              store,
		maintenance:        maintenance,
		promote:            promote,
		logger:             logger,
		clock:              clock,
		idgen:              idgen,
		trackGroupContent:  trackGroupContent,
		deletionGuardCheck: deletionGuardCheck,
	}
}

// update runs a per-key read-modify-write through the store's conditional
// put. mutate receives the current record (nil when absent) and returns the
// record to persist; returning errUnchanged skips the write. On version
// conflict the loop reloads and reapplies, so concurrent writers for the
// same key never lose updates.
func (s *TrackingService) update(key model.TrackingKey, mutate func(current *model.TrackedContent) (*model.TrackedContent, error)) (*model.TrackedContent, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		current, version, err := s.store.Get(key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("loading record %q: %w", key, err)
		}

		next, err := mutate(current)
		if errors.Is(err, errUnchanged) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}

		err = s.store.Put(key, next, version)
		if errors.Is(err, ErrConflict) {
			s.logger.Debug("record update conflict, retrying", "key", key, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storing record %q: %w", key, err)
		}
		return next, nil
	}
	return nil, fmt.Errorf("updating record %q: %w", key, ErrConflict)
}
