package tracking

import (
	"fmt"
	"strings"
	"time"

	"trackd/internal/model"
)

// Ingest merges one file event into the open record for its session.
// Business-rule skips (no session, group-content gate, loopback traffic,
// sealed record) return nil; only store I/O failures propagate, and the
// consumer swallows even those after logging.
func (s *TrackingService) Ingest(event FileEvent) error {
	// A build calling the tracking-admin API through the generic proxy gets
	// tracked once by the proxy and again here. Drop the second observation.
	if event.OriginPath != "" && strings.Contains(event.OriginPath, adminAPIPrefix) {
		s.logger.Debug("not tracking the service's own admin traffic", "path", event.OriginPath)
		return nil
	}

	if strings.TrimSpace(event.SessionID) == "" {
		s.logger.Debug("no tracking key, not recording", "path", event.TargetPath)
		return nil
	}
	key := model.TrackingKey(event.SessionID)

	storeKey, err := model.ParseStoreKey(event.StoreKey)
	if err != nil {
		s.logger.Warn("dropping event with unparsable store key",
			"key", key, "storeKey", event.StoreKey, "error", err)
		return nil
	}

	// Content stored directly in a group is aggregated metadata and can be
	// recalculated; groups may not be stable across build environments.
	if !s.trackGroupContent && storeKey.Type == model.StoreTypeGroup {
		s.logger.Debug("not tracking group content", "key", key, "store", storeKey)
		return nil
	}

	channel := model.ParseAccessChannel(event.AccessChannel)

	// The origin path preserves the logical request path when the content
	// layer retargeted the request internally.
	path := event.TargetPath
	if event.OriginPath != "" {
		path = event.OriginPath
	}

	effect := model.EffectDownload
	if event.EventType == FileEventStorage {
		effect = model.EffectUpload
	}

	s.logger.Debug("tracking report", "key", key, "path", path, "store", storeKey, "effect", effect)

	observed := s.clock.Now()
	_, err = s.update(key, func(current *model.TrackedContent) (*model.TrackedContent, error) {
		if current == nil {
			current = model.NewTrackedContent(key)
		} else {
			if current.Sealed() {
				s.logger.Warn("dropping event for sealed record", "key", key, "path", path)
				return nil, errUnchanged
			}
			current = current.Clone()
		}

		if existing := current.FindEntry(storeKey, path, effect); existing != nil {
			s.mergeObservation(existing, event)
			existing.Timestamps = append(existing.Timestamps, observed)
			return current, nil
		}

		current.AddEntry(&model.TrackedContentEntry{
			TrackingKey:   key,
			StoreKey:      storeKey,
			AccessChannel: channel,
			Path:          path,
			OriginURL:     event.OriginURL,
			Effect:        effect,
			Size:          event.Size,
			MD5:           event.MD5,
			SHA1:          event.SHA1,
			SHA256:        event.SHA256,
			Timestamps:    []time.Time{observed},
		})
		return current, nil
	})
	if err != nil {
		return fmt.Errorf("recording %s for %q: %w", effect, key, err)
	}
	return nil
}

// mergeObservation reconciles a repeated observation with the existing
// entry. Checksums and size are expected to be consistent across
// observations of the same composite key; on mismatch the first-observed
// values win, so a sealed report stays internally consistent.
func (s *TrackingService) mergeObservation(entry *model.TrackedContentEntry, event FileEvent) {
	if entry.SHA256 != "" && event.SHA256 != "" && entry.SHA256 != event.SHA256 {
		s.logger.Warn("checksum mismatch on repeated observation, keeping first",
			"key", entry.TrackingKey, "store", entry.StoreKey, "path", entry.Path,
			"recorded", entry.SHA256, "observed", event.SHA256)
		return
	}
	// Backfill fields the first observation may have lacked.
	if entry.MD5 == "" {
		entry.MD5 = event.MD5
	}
	if entry.SHA1 == "" {
		entry.SHA1 = event.SHA1
	}
	if entry.SHA256 == "" {
		entry.SHA256 = event.SHA256
	}
	if entry.OriginURL == "" {
		entry.OriginURL = event.OriginURL
	}
	if entry.Size == 0 {
		entry.Size = event.Size
	}
}
