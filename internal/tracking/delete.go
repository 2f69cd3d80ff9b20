package tracking

import (
	"context"
	"errors"
	"fmt"

	"trackd/internal/model"
)

// BatchDeleteRequest asks for deletion of content uploaded under one
// tracking session into one store. When Paths is empty every upload
// recorded under the store qualifies.
type BatchDeleteRequest struct {
	TrackingID string         `json:"trackingID"`
	StoreKey   model.StoreKey `json:"storeKey"`
	Paths      []string       `json:"paths,omitempty"`
}

// BatchDeleteResult reports which tracked paths were handed to the
// maintenance collaborator and which were withheld by the promotion guard.
type BatchDeleteResult struct {
	TrackingID string         `json:"trackingID"`
	StoreKey   model.StoreKey `json:"storeKey"`
	Deleted    []string       `json:"deleted"`
	Skipped    []string       `json:"skipped,omitempty"`
}

// BatchDelete resolves which tracked upload paths qualify for deletion and
// delegates the actual content deletion to the maintenance collaborator.
// Only sealed records qualify: deleting out of a still-open session would
// race its own uploads.
func (s *TrackingService) BatchDelete(ctx context.Context, req BatchDeleteRequest) (*BatchDeleteResult, error) {
	if s.maintenance == nil {
		return nil, fmt.Errorf("no maintenance service configured")
	}
	if req.TrackingID == "" || req.StoreKey.IsZero() {
		return nil, fmt.Errorf("batch delete requires trackingID and storeKey")
	}

	key := model.TrackingKey(req.TrackingID)
	record, _, err := s.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("no record for %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %q: %w", key, err)
	}
	if !record.Sealed() {
		return nil, fmt.Errorf("record %q is not sealed; seal before deleting", key)
	}

	requested := make(map[string]struct{}, len(req.Paths))
	for _, p := range req.Paths {
		requested[p] = struct{}{}
	}

	var candidates []string
	for _, entry := range record.Uploads {
		if entry.StoreKey != req.StoreKey {
			continue
		}
		if len(requested) > 0 {
			if _, ok := requested[entry.Path]; !ok {
				continue
			}
		}
		candidates = append(candidates, entry.Path)
	}

	result := &BatchDeleteResult{TrackingID: req.TrackingID, StoreKey: req.StoreKey}
	if len(candidates) == 0 {
		s.logger.Info("batch delete matched no tracked uploads", "key", key, "store", req.StoreKey)
		result.Deleted = []string{}
		return result, nil
	}

	if s.deletionGuardCheck {
		candidates, result.Skipped, err = s.filterPromoted(ctx, req.TrackingID, candidates)
		if err != nil {
			return nil, fmt.Errorf("promotion guard check for %q: %w", key, err)
		}
	}
	result.Deleted = candidates

	if len(candidates) > 0 {
		if err := s.maintenance.DeleteFiles(ctx, req.StoreKey, candidates); err != nil {
			return nil, fmt.Errorf("delegating deletion to maintenance: %w", err)
		}
	}

	s.logger.Info("batch delete finished", "key", key, "store", req.StoreKey,
		"deleted", len(result.Deleted), "skipped", len(result.Skipped))
	return result, nil
}

// filterPromoted withholds paths that promotion records show were copied
// onward; deleting them would orphan the promoted artifacts' provenance.
func (s *TrackingService) filterPromoted(ctx context.Context, trackingID string, paths []string) (keep, skipped []string, err error) {
	if s.promote == nil {
		return paths, nil, nil
	}
	promoted, err := s.promote.PromotedPaths(ctx, trackingID)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range paths {
		if _, ok := promoted[p]; ok {
			skipped = append(skipped, p)
		} else {
			keep = append(keep, p)
		}
	}
	return keep, skipped, nil
}
