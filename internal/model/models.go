package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TrackingKey identifies one build/tracking session. It is an opaque,
// case-sensitive, client-chosen string and acts as the partition key for
// all tracking records.
type TrackingKey string

// StoreType classifies an artifact store.
type StoreType string

const (
	StoreTypeHosted StoreType = "hosted"
	StoreTypeGroup  StoreType = "group"
	StoreTypeRemote StoreType = "remote"
)

// ParseStoreType validates a raw store type string.
func ParseStoreType(raw string) (StoreType, error) {
	switch t := StoreType(raw); t {
	case StoreTypeHosted, StoreTypeGroup, StoreTypeRemote:
		return t, nil
	default:
		return "", fmt.Errorf("unknown store type: %q", raw)
	}
}

// EndpointName returns the singular path segment used for this store type
// in content URLs (e.g. /maven/hosted/build-1/...).
func (t StoreType) EndpointName() string {
	return string(t)
}

// StoreKey identifies an artifact store: a package ecosystem, a store type
// and a name. It is an immutable value, comparable with ==, with the
// canonical string form "packageType:type:name".
type StoreKey struct {
	PackageType string
	Type        StoreType
	Name        string
}

// ParseStoreKey parses the "packageType:type:name" form.
func ParseStoreKey(raw string) (StoreKey, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return StoreKey{}, fmt.Errorf("invalid store key: %q", raw)
	}
	t, err := ParseStoreType(parts[1])
	if err != nil {
		return StoreKey{}, fmt.Errorf("invalid store key %q: %w", raw, err)
	}
	return StoreKey{PackageType: parts[0], Type: t, Name: parts[2]}, nil
}

func (k StoreKey) String() string {
	return k.PackageType + ":" + string(k.Type) + ":" + k.Name
}

// IsZero reports whether the key is the empty value.
func (k StoreKey) IsZero() bool {
	return k == StoreKey{}
}

// MarshalJSON serializes the key in its canonical string form, which is the
// wire format used by events and reports.
func (k StoreKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *StoreKey) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStoreKey(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// AccessChannel is the origin of a tracked request. It is informational and
// carried through to reports unchanged.
type AccessChannel string

const (
	ChannelNative       AccessChannel = "NATIVE"
	ChannelGenericProxy AccessChannel = "GENERIC_PROXY"
)

// ParseAccessChannel resolves a raw channel string, defaulting to NATIVE
// when the event carries no channel metadata.
func ParseAccessChannel(raw string) AccessChannel {
	if raw == "" {
		return ChannelNative
	}
	return AccessChannel(raw)
}

// StoreEffect is the direction of an access relative to the store.
type StoreEffect string

const (
	EffectDownload StoreEffect = "DOWNLOAD"
	EffectUpload   StoreEffect = "UPLOAD"
)

// RecordState is the lifecycle state of a tracking record.
type RecordState string

const (
	StateOpen   RecordState = "OPEN"
	StateSealed RecordState = "SEALED"
)

// TrackedContentEntry is the atomic tracked fact: under tracking key K,
// store S, path P, effect E was observed. Entries are unique per record by
// the composite key (StoreKey, Path, Effect); re-observation appends a
// timestamp instead of creating a duplicate entry.
type TrackedContentEntry struct {
	TrackingKey   TrackingKey   `json:"trackingKey"`
	StoreKey      StoreKey      `json:"storeKey"`
	AccessChannel AccessChannel `json:"accessChannel"`
	Path          string        `json:"path"`
	OriginURL     string        `json:"originUrl,omitempty"`
	Effect        StoreEffect   `json:"effect"`
	Size          int64         `json:"size"`
	MD5           string        `json:"md5,omitempty"`
	SHA1          string        `json:"sha1,omitempty"`
	SHA256        string        `json:"sha256,omitempty"`
	Timestamps    []time.Time   `json:"timestamps"`
}

// Matches reports whether the entry has the given composite key. Checksums
// and size are deliberately excluded: repeated observations of the same key
// merge into one entry.
func (e *TrackedContentEntry) Matches(store StoreKey, path string, effect StoreEffect) bool {
	return e.StoreKey == store && e.Path == path && e.Effect == effect
}

// Clone returns a deep copy of the entry.
func (e *TrackedContentEntry) Clone() *TrackedContentEntry {
	c := *e
	c.Timestamps = append([]time.Time(nil), e.Timestamps...)
	return &c
}

// TrackedContent is the aggregate tracking record for one TrackingKey.
// While OPEN only ingestion may mutate it; once SEALED only promotion
// reconciliation may, and then only the StoreKey of upload entries.
type TrackedContent struct {
	Key       TrackingKey            `json:"key"`
	State     RecordState            `json:"state"`
	Uploads   []*TrackedContentEntry `json:"uploads"`
	Downloads []*TrackedContentEntry `json:"downloads"`
}

// NewTrackedContent creates an empty OPEN record for the given key.
func NewTrackedContent(key TrackingKey) *TrackedContent {
	return &TrackedContent{Key: key, State: StateOpen}
}

// Sealed reports whether the record has been sealed.
func (c *TrackedContent) Sealed() bool {
	return c.State == StateSealed
}

// Entries returns the entry set for the given effect.
func (c *TrackedContent) Entries(effect StoreEffect) []*TrackedContentEntry {
	if effect == EffectUpload {
		return c.Uploads
	}
	return c.Downloads
}

// FindEntry returns the entry matching the composite key, or nil.
func (c *TrackedContent) FindEntry(store StoreKey, path string, effect StoreEffect) *TrackedContentEntry {
	for _, e := range c.Entries(effect) {
		if e.Matches(store, path, effect) {
			return e
		}
	}
	return nil
}

// AddEntry appends a new entry to the set for its effect. The caller is
// responsible for the composite-key uniqueness invariant.
func (c *TrackedContent) AddEntry(e *TrackedContentEntry) {
	if e.Effect == EffectUpload {
		c.Uploads = append(c.Uploads, e)
	} else {
		c.Downloads = append(c.Downloads, e)
	}
}

// Clone returns a deep copy of the record. Mutating code must clone before
// modifying so a failed conditional put never leaves a half-mutated record
// visible to other readers.
func (c *TrackedContent) Clone() *TrackedContent {
	clone := &TrackedContent{Key: c.Key, State: c.State}
	for _, e := range c.Uploads {
		clone.Uploads = append(clone.Uploads, e.Clone())
	}
	for _, e := range c.Downloads {
		clone.Downloads = append(clone.Downloads, e.Clone())
	}
	return clone
}
