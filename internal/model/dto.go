package model

import (
	"sort"
	"time"
)

// TrackedContentEntryDTO is the externally-facing projection of one tracked
// entry. LocalUrl is derived at projection time from the serving base URL;
// it is omitted when URL composition fails.
type TrackedContentEntryDTO struct {
	StoreKey      StoreKey      `json:"storeKey"`
	AccessChannel AccessChannel `json:"accessChannel"`
	Path          string        `json:"path"`
	OriginURL     string        `json:"originUrl,omitempty"`
	LocalURL      string        `json:"localUrl,omitempty"`
	MD5           string        `json:"md5,omitempty"`
	SHA1          string        `json:"sha1,omitempty"`
	SHA256        string        `json:"sha256,omitempty"`
	Size          int64         `json:"size"`
	Timestamps    []time.Time   `json:"timestamps,omitempty"`
}

// TrackedContentDTO is the externally-facing projection of a tracking
// record. Entry slices are kept in the canonical sort order so identical
// records always serialize identically.
type TrackedContentDTO struct {
	Key       TrackingKey              `json:"key"`
	Uploads   []TrackedContentEntryDTO `json:"uploads"`
	Downloads []TrackedContentEntryDTO `json:"downloads"`
}

// TrackingIdsDTO lists tracking session ids by lifecycle bucket.
type TrackingIdsDTO struct {
	InProgress []string `json:"inProgress,omitempty"`
	Sealed     []string `json:"sealed,omitempty"`
}

// Empty reports whether the DTO carries no ids at all.
func (d *TrackingIdsDTO) Empty() bool {
	return len(d.InProgress) == 0 && len(d.Sealed) == 0
}

// SortEntryDTOs orders entries by the canonical total order: store key
// string form, then access channel, then path.
func SortEntryDTOs(entries []TrackedContentEntryDTO) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if ak, bk := a.StoreKey.String(), b.StoreKey.String(); ak != bk {
			return ak < bk
		}
		if a.AccessChannel != b.AccessChannel {
			return a.AccessChannel < b.AccessChannel
		}
		return a.Path < b.Path
	})
}
