package tracking_test

import (
	"errors"
	"testing"
	"time"

	"trackd/internal/model"
	"trackd/internal/store"
	"trackd/internal/testutil"
	"trackd/internal/tracking"
)

func newTestService(st tracking.RecordStore) *tracking.TrackingService {
	return tracking.NewTrackingService(st, nil, nil, tracking.NewNopLogger(),
		testutil.FixedClock(), testutil.NewStubIDGenerator(), true, false)
}

func accessEvent(session, storeKey, path string) tracking.FileEvent {
	return tracking.FileEvent{
		EventType:  tracking.FileEventAccess,
		SessionID:  session,
		StoreKey:   storeKey,
		TargetPath: path,
		OriginURL:  "https://repo.example.com" + path,
		Size:       1024,
		MD5:        "d41d8cd98f00b204e9800998ecf8427e",
		SHA1:       "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		SHA256:     "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
}

func TestIngestRecordsDownload(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)

	if err := svc.Ingest(accessEvent("build-1", "maven:remote:central", "/org/foo/foo-1.0.jar")); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.State != model.StateOpen {
		t.Errorf("expected OPEN state, got %s", record.State)
	}
	if len(record.Downloads) != 1 || len(record.Uploads) != 0 {
		t.Fatalf("expected 1 download and 0 uploads, got %d/%d", len(record.Downloads), len(record.Uploads))
	}

	entry := record.Downloads[0]
	if entry.Path != "/org/foo/foo-1.0.jar" {
		t.Errorf("unexpected path: %s", entry.Path)
	}
	if entry.Effect != model.EffectDownload {
		t.Errorf("expected DOWNLOAD effect, got %s", entry.Effect)
	}
	if entry.AccessChannel != model.ChannelNative {
		t.Errorf("expected NATIVE channel, got %s", entry.AccessChannel)
	}
	if len(entry.Timestamps) != 1 {
		t.Errorf("expected 1 timestamp, got %d", len(entry.Timestamps))
	}
}

func TestIngestStorageRecordsUpload(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)

	event := accessEvent("build-1", "maven:hosted:build-1", "/org/foo/foo-1.0.jar")
	event.EventType = tracking.FileEventStorage
	if err := svc.Ingest(event); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(record.Uploads) != 1 || len(record.Downloads) != 0 {
		t.Fatalf("expected 1 upload and 0 downloads, got %d/%d", len(record.Uploads), len(record.Downloads))
	}
	if record.Uploads[0].Effect != model.EffectUpload {
		t.Errorf("expected UPLOAD effect, got %s", record.Uploads[0].Effect)
	}
}

func TestIngestRepeatedObservationAppendsTimestamp(t *testing.T) {
	st := store.NewMemoryStore("test")
	clk := testutil.FixedClock()
	svc := tracking.NewTrackingService(st, nil, nil, tracking.NewNopLogger(),
		clk, testutil.NewStubIDGenerator(), true, false)

	event := accessEvent("build-1", "maven:remote:central", "/org/foo/foo-1.0.jar")
	if err := svc.Ingest(event); err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	clk.Advance(5 * time.Minute)
	if err := svc.Ingest(event); err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(record.Downloads) != 1 {
		t.Fatalf("expected a single merged entry, got %d", len(record.Downloads))
	}
	ts := record.Downloads[0].Timestamps
	if len(ts) != 2 {
		t.Fatalf("expected 2 timestamps, got %d", len(ts))
	}
	if !ts[1].After(ts[0]) {
		t.Errorf("timestamps not in observation order: %v", ts)
	}
}

func TestIngestSkips(t *testing.T) {
	tests := []struct {
		name              string
		event             tracking.FileEvent
		trackGroupContent bool
	}{
		{
			name:              "blank session id",
			event:             accessEvent("   ", "maven:remote:central", "/a.jar"),
			trackGroupContent: true,
		},
		{
			name: "loopback admin traffic",
			event: func() tracking.FileEvent {
				e := accessEvent("build-1", "maven:remote:central", "/a.jar")
				e.OriginPath = "/api/track/admin/build-1/record"
				return e
			}(),
			trackGroupContent: true,
		},
		{
			name:              "unparsable store key",
			event:             accessEvent("build-1", "not-a-store-key", "/a.jar"),
			trackGroupContent: true,
		},
		{
			name:              "group content with tracking disabled",
			event:             accessEvent("build-1", "maven:group:public", "/a.jar"),
			trackGroupContent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore("test")
			svc := tracking.NewTrackingService(st, nil, nil, tracking.NewNopLogger(),
				testutil.FixedClock(), testutil.NewStubIDGenerator(), tt.trackGroupContent, false)

			if err := svc.Ingest(tt.event); err != nil {
				t.Fatalf("Ingest returned error for skipped event: %v", err)
			}
			if _, _, err := st.Get("build-1"); !errors.Is(err, tracking.ErrNotFound) {
				t.Errorf("expected no record, got err=%v", err)
			}
		})
	}
}

func TestIngestGroupContentTrackedByDefault(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)

	if err := svc.Ingest(accessEvent("build-1", "maven:group:public", "/a.jar")); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(record.Downloads) != 1 {
		t.Fatalf("expected group download to be tracked, got %d entries", len(record.Downloads))
	}
}

func TestIngestPrefersOriginPath(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)

	event := accessEvent("build-1", "npm:remote:npmjs", "/lodash/4.17.21")
	event.OriginPath = "/lodash"
	if err := svc.Ingest(event); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Downloads[0].Path != "/lodash" {
		t.Errorf("expected origin path to win, got %s", record.Downloads[0].Path)
	}
}

func TestIngestSealedRecordDropsEvent(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)

	if err := svc.Ingest(accessEvent("build-1", "maven:remote:central", "/a.jar")); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if _, err := svc.Seal("build-1"); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if err := svc.Ingest(accessEvent("build-1", "maven:remote:central", "/b.jar")); err != nil {
		t.Fatalf("Ingest on sealed record returned error: %v", err)
	}

	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(record.Downloads) != 1 {
		t.Errorf("sealed record gained an entry: %d downloads", len(record.Downloads))
	}
}

func TestIngestChecksumMismatchKeepsFirst(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)

	event := accessEvent("build-1", "maven:remote:central", "/a.jar")
	if err := svc.Ingest(event); err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}

	conflicting := event
	conflicting.SHA256 = "0000000000000000000000000000000000000000000000000000000000000000"
	conflicting.MD5 = "00000000000000000000000000000000"
	if err := svc.Ingest(conflicting); err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	entry := record.Downloads[0]
	if entry.SHA256 != event.SHA256 {
		t.Errorf("first-observed sha256 was overwritten: %s", entry.SHA256)
	}
	if entry.MD5 != event.MD5 {
		t.Errorf("first-observed md5 was overwritten: %s", entry.MD5)
	}
	if len(entry.Timestamps) != 2 {
		t.Errorf("expected the repeat observation to still append a timestamp, got %d", len(entry.Timestamps))
	}
}

func TestIngestBackfillsMissingFields(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)

	sparse := tracking.FileEvent{
		EventType:  tracking.FileEventAccess,
		SessionID:  "build-1",
		StoreKey:   "maven:remote:central",
		TargetPath: "/a.jar",
	}
	if err := svc.Ingest(sparse); err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}

	full := accessEvent("build-1", "maven:remote:central", "/a.jar")
	if err := svc.Ingest(full); err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	entry := record.Downloads[0]
	if entry.SHA256 != full.SHA256 || entry.MD5 != full.MD5 || entry.SHA1 != full.SHA1 {
		t.Errorf("checksums not backfilled: %+v", entry)
	}
	if entry.Size != full.Size {
		t.Errorf("size not backfilled: %d", entry.Size)
	}
	if entry.OriginURL != full.OriginURL {
		t.Errorf("origin URL not backfilled: %s", entry.OriginURL)
	}
}

// conflictStore wraps a RecordStore and fails the first n conditional puts
// with ErrConflict.
type conflictStore struct {
	tracking.RecordStore
	remaining int
}

func (c *conflictStore) Put(key model.TrackingKey, record *model.TrackedContent, expectedVersion uint64) error {
	if c.remaining > 0 {
		c.remaining--
		return tracking.ErrConflict
	}
	return c.RecordStore.Put(key, record, expectedVersion)
}

func TestIngestRetriesOnConflict(t *testing.T) {
	st := &conflictStore{RecordStore: store.NewMemoryStore("test"), remaining: 3}
	svc := newTestService(st)

	if err := svc.Ingest(accessEvent("build-1", "maven:remote:central", "/a.jar")); err != nil {
		t.Fatalf("Ingest did not survive transient conflicts: %v", err)
	}

	record, _, err := st.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(record.Downloads) != 1 {
		t.Errorf("expected the entry to land after retries, got %d entries", len(record.Downloads))
	}
}

func TestIngestGivesUpAfterPersistentConflict(t *testing.T) {
	st := &conflictStore{RecordStore: store.NewMemoryStore("test"), remaining: 1000}
	svc := newTestService(st)

	err := svc.Ingest(accessEvent("build-1", "maven:remote:central", "/a.jar"))
	if !errors.Is(err, tracking.ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausting retries, got %v", err)
	}
}
