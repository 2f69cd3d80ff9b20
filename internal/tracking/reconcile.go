package tracking

import (
	"context"
	"errors"

	"trackd/internal/model"
)

// HandlePromoteComplete rewrites the recorded store of promoted upload
// entries in the sealed record that produced them. All failures are
// swallowed here after logging: losing one reconciliation update is
// recoverable (the data stays valid under its original store reference),
// blocking the event pipeline is not. The caller acknowledges the message
// unconditionally.
func (s *TrackingService) HandlePromoteComplete(ctx context.Context, event PromoteCompleteEvent) {
	s.logger.Info("promote complete", "source", event.SourceStore, "target", event.TargetStore,
		"paths", len(event.CompletedPaths))

	if len(event.CompletedPaths) == 0 {
		s.logger.Debug("no completed paths, skipping adjustment")
		return
	}

	source, err := model.ParseStoreKey(event.SourceStore)
	if err != nil {
		s.logger.Error("unparsable promotion source store", "source", event.SourceStore, "error", err)
		return
	}
	target, err := model.ParseStoreKey(event.TargetStore)
	if err != nil {
		s.logger.Error("unparsable promotion target store", "target", event.TargetStore, "error", err)
		return
	}

	key, ok := trackingKeyForSource(source)
	if !ok {
		// A remote store's artifacts may have been tracked under any number
		// of sessions, so the key cannot be derived from the store name.
		// Operators promoting from remote stores either accept that the
		// original tracking paths stay authoritative, or avoid such
		// promotions when source fidelity matters.
		s.logger.Warn("cannot derive tracking key from promotion source, skipping adjustment",
			"source", source)
		return
	}

	promoted := make(map[string]struct{}, len(event.CompletedPaths))
	for _, p := range event.CompletedPaths {
		promoted[p] = struct{}{}
	}

	_, err = s.update(key, func(current *model.TrackedContent) (*model.TrackedContent, error) {
		if current == nil {
			return nil, ErrNotFound
		}
		// Clients must seal before promoting; reconciliation never creates
		// or re-opens a record.
		if !current.Sealed() {
			s.logger.Warn("record not sealed, skipping adjustment", "key", key)
			return nil, errUnchanged
		}

		next := current.Clone()
		adjusted := 0
		for _, entry := range next.Uploads {
			if _, ok := promoted[entry.Path]; ok && entry.StoreKey == source {
				entry.StoreKey = target
				adjusted++
			}
		}
		if adjusted == 0 {
			return nil, errUnchanged
		}
		s.logger.Info("adjusted promoted upload entries", "key", key, "count", adjusted,
			"source", source, "target", target)
		return next, nil
	})
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("no sealed record found for promotion", "key", key, "source", source)
		return
	}
	if err != nil {
		s.logger.Error("failed to adjust tracking record",
			"key", key, "source", source, "target", target, "error", err)
	}
}

// trackingKeyForSource derives the tracking key from the promotion source
// store. Defined only for hosted sources, where the session's uploads land
// in a hosted store named after the tracking key.
func trackingKeyForSource(source model.StoreKey) (model.TrackingKey, bool) {
	if source.Type == model.StoreTypeHosted {
		return model.TrackingKey(source.Name), true
	}
	return "", false
}
