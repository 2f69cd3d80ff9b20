package tracking

import (
	"errors"
	"fmt"

	"trackd/internal/model"
)

// Seal freezes the record for the given key, transitioning it OPEN→SEALED
// exactly once. Sealing an already-sealed key returns the existing sealed
// snapshot unchanged; an unknown key returns ErrNotFound. The conditional
// put guarantees that of two racing seals exactly one performs the
// transition and the other observes it.
func (s *TrackingService) Seal(id string) (*model.TrackedContent, error) {
	key := model.TrackingKey(id)

	record, err := s.update(key, func(current *model.TrackedContent) (*model.TrackedContent, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		if current.Sealed() {
			return nil, errUnchanged
		}
		next := current.Clone()
		next.State = model.StateSealed
		return next, nil
	})
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("seal requested for unknown record", "key", key)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sealing record %q: %w", key, err)
	}

	s.logger.Info("record sealed", "key", key,
		"uploads", len(record.Uploads), "downloads", len(record.Downloads))
	return record, nil
}
