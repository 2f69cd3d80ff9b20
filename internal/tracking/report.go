package tracking

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"trackd/internal/model"
)

// Tracking id listing kinds accepted by ListIds.
const (
	IdsInProgress = "in_progress"
	IdsSealed     = "sealed"
	IdsAll        = "all"
	IdsLegacy     = "legacy"
)

// GetRecord returns the report projection for the given id. Unknown ids
// fall back to the legacy record area, and failing that an empty report is
// returned rather than an error: clients poll records that may never have
// been used.
func (s *TrackingService) GetRecord(id, baseURL string) (*model.TrackedContentDTO, error) {
	dto, err := s.GetExistingRecord(id, baseURL)
	if errors.Is(err, ErrNotFound) {
		return &model.TrackedContentDTO{
			Key:       model.TrackingKey(id),
			Uploads:   []model.TrackedContentEntryDTO{},
			Downloads: []model.TrackedContentEntryDTO{},
		}, nil
	}
	return dto, err
}

// GetExistingRecord is like GetRecord but returns ErrNotFound for an id
// with no record in either the live or the legacy area.
func (s *TrackingService) GetExistingRecord(id, baseURL string) (*model.TrackedContentDTO, error) {
	key := model.TrackingKey(id)

	record, _, err := s.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		record, err = s.store.GetLegacy(key)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("loading record %q: %w", key, err)
	}

	return s.ProjectRecord(record, baseURL), nil
}

// ProjectRecord projects an internal record into its externally consumable
// form. Both entry sets come out in the canonical sort order so identical
// inputs always serialize identically.
func (s *TrackingService) ProjectRecord(record *model.TrackedContent, baseURL string) *model.TrackedContentDTO {
	dto := &model.TrackedContentDTO{
		Key:       record.Key,
		Uploads:   make([]model.TrackedContentEntryDTO, 0, len(record.Uploads)),
		Downloads: make([]model.TrackedContentEntryDTO, 0, len(record.Downloads)),
	}
	for _, entry := range record.Uploads {
		dto.Uploads = append(dto.Uploads, s.projectEntry(entry, baseURL))
	}
	for _, entry := range record.Downloads {
		dto.Downloads = append(dto.Downloads, s.projectEntry(entry, baseURL))
	}
	model.SortEntryDTOs(dto.Uploads)
	model.SortEntryDTOs(dto.Downloads)
	return dto
}

// projectEntry builds the DTO for one entry. A malformed URL leaves
// LocalURL unset with a warning; one bad entry must not fail the whole
// projection.
func (s *TrackingService) projectEntry(entry *model.TrackedContentEntry, baseURL string) model.TrackedContentEntryDTO {
	dto := model.TrackedContentEntryDTO{
		StoreKey:      entry.StoreKey,
		AccessChannel: entry.AccessChannel,
		Path:          entry.Path,
		OriginURL:     entry.OriginURL,
		MD5:           entry.MD5,
		SHA1:          entry.SHA1,
		SHA256:        entry.SHA256,
		Size:          entry.Size,
		Timestamps:    entry.Timestamps,
	}

	localURL, err := buildURL(baseURL, "content", entry.StoreKey.PackageType,
		entry.StoreKey.Type.EndpointName(), entry.StoreKey.Name, entry.Path)
	if err != nil {
		s.logger.Warn("cannot formulate local URL",
			"baseUrl", baseURL, "store", entry.StoreKey, "path", entry.Path,
			"key", entry.TrackingKey, "error", err)
	} else {
		dto.LocalURL = localURL
	}
	return dto
}

// buildURL joins the base URL and path segments, rejecting inputs that
// cannot form a valid URL. Components containing whitespace or control
// characters are refused rather than silently mangled.
func buildURL(base string, parts ...string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base URL %q: %w", base, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base URL %q is not absolute", base)
	}

	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		for _, r := range part {
			if r < 0x20 || r == 0x7f || r == ' ' {
				return "", fmt.Errorf("invalid character %q in URL component %q", r, part)
			}
		}
		segments = append(segments, strings.Trim(part, "/"))
	}

	joined := strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
	if _, err := url.Parse(joined); err != nil {
		return "", fmt.Errorf("composed URL is invalid: %w", err)
	}
	return joined, nil
}

// ListIds returns the tracking ids for the requested kind. ALL unions
// in-progress and sealed. Returns ErrNotFound when the result would be
// empty.
func (s *TrackingService) ListIds(kind string) (*model.TrackingIdsDTO, error) {
	dto := &model.TrackingIdsDTO{}

	switch kind {
	case IdsLegacy:
		keys, err := s.store.ListLegacyKeys()
		if err != nil {
			return nil, fmt.Errorf("listing legacy ids: %w", err)
		}
		dto.Sealed = keysToStrings(keys)
	case IdsInProgress, IdsSealed, IdsAll:
		if kind == IdsInProgress || kind == IdsAll {
			keys, err := s.store.ListKeys(model.StateOpen)
			if err != nil {
				return nil, fmt.Errorf("listing in-progress ids: %w", err)
			}
			dto.InProgress = keysToStrings(keys)
		}
		if kind == IdsSealed || kind == IdsAll {
			keys, err := s.store.ListKeys(model.StateSealed)
			if err != nil {
				return nil, fmt.Errorf("listing sealed ids: %w", err)
			}
			dto.Sealed = keysToStrings(keys)
		}
	default:
		return nil, fmt.Errorf("unknown tracking id kind: %q", kind)
	}

	if dto.Empty() {
		return nil, ErrNotFound
	}
	return dto, nil
}

// ClearRecord deletes the record for the given id. Clearing an unknown id
// is a no-op.
func (s *TrackingService) ClearRecord(id string) error {
	key := model.TrackingKey(id)
	if err := s.store.Delete(key); err != nil {
		return fmt.Errorf("clearing record %q: %w", key, err)
	}
	s.logger.Info("record cleared", "key", key)
	return nil
}

// InitRecord is an explicit no-op that exists so clients can "touch" a key
// before any content flows; records are created lazily on first event.
func (s *TrackingService) InitRecord(id string) {
	s.logger.Debug("record init requested", "key", id)
}

func keysToStrings(keys []model.TrackingKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, string(k))
	}
	return out
}
