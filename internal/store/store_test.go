package store

import (
	"errors"
	"testing"

	"trackd/internal/model"
	"trackd/internal/tracking"
)

func testRecord(key model.TrackingKey, state model.RecordState) *model.TrackedContent {
	record := model.NewTrackedContent(key)
	record.State = state
	record.AddEntry(&model.TrackedContentEntry{
		TrackingKey: key,
		StoreKey:    model.StoreKey{PackageType: "maven", Type: model.StoreTypeRemote, Name: "central"},
		Path:        "/org/foo/foo-1.0.jar",
		Effect:      model.EffectDownload,
		Size:        1024,
		SHA256:      "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	})
	return record
}

// runRecordStoreTests exercises the RecordStore contract against any backend.
func runRecordStoreTests(t *testing.T, st tracking.RecordStore) {
	t.Run("GetMissing", func(t *testing.T) {
		if _, _, err := st.Get("missing"); !errors.Is(err, tracking.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		record := testRecord("create-1", model.StateOpen)
		if err := st.Put("create-1", record, 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, version, err := st.Get("create-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if version != 1 {
			t.Errorf("expected version 1, got %d", version)
		}
		if got.Key != "create-1" || len(got.Downloads) != 1 {
			t.Errorf("record came back wrong: %+v", got)
		}
		if got.Downloads[0].SHA256 != record.Downloads[0].SHA256 {
			t.Errorf("entry fields lost: %+v", got.Downloads[0])
		}
	})

	t.Run("CreateConflictsWithExisting", func(t *testing.T) {
		if err := st.Put("create-2", testRecord("create-2", model.StateOpen), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := st.Put("create-2", testRecord("create-2", model.StateOpen), 0); !errors.Is(err, tracking.ErrConflict) {
			t.Fatalf("expected ErrConflict on duplicate create, got %v", err)
		}
	})

	t.Run("VersionedUpdate", func(t *testing.T) {
		if err := st.Put("update-1", testRecord("update-1", model.StateOpen), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		record, version, err := st.Get("update-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		record.State = model.StateSealed
		if err := st.Put("update-1", record, version); err != nil {
			t.Fatalf("versioned Put failed: %v", err)
		}

		got, newVersion, err := st.Get("update-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if newVersion != version+1 {
			t.Errorf("expected version %d, got %d", version+1, newVersion)
		}
		if got.State != model.StateSealed {
			t.Errorf("update lost: state is %s", got.State)
		}

		// A writer with the old version loses.
		if err := st.Put("update-1", record, version); !errors.Is(err, tracking.ErrConflict) {
			t.Fatalf("expected ErrConflict for stale version, got %v", err)
		}
	})

	t.Run("UpdateMissingConflicts", func(t *testing.T) {
		if err := st.Put("never-created", testRecord("never-created", model.StateOpen), 7); !errors.Is(err, tracking.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := st.Put("delete-1", testRecord("delete-1", model.StateOpen), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := st.Delete("delete-1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, _, err := st.Get("delete-1"); !errors.Is(err, tracking.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		// Deleting a missing record is a no-op.
		if err := st.Delete("delete-1"); err != nil {
			t.Fatalf("repeat Delete failed: %v", err)
		}
	})

	t.Run("ListKeysByState", func(t *testing.T) {
		if err := st.Put("list-open", testRecord("list-open", model.StateOpen), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := st.Put("list-sealed", testRecord("list-sealed", model.StateSealed), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		sealed, err := st.ListKeys(model.StateSealed)
		if err != nil {
			t.Fatalf("ListKeys failed: %v", err)
		}
		if !containsKey(sealed, "list-sealed") {
			t.Errorf("sealed listing missing key: %v", sealed)
		}
		if containsKey(sealed, "list-open") {
			t.Errorf("sealed listing contains open key: %v", sealed)
		}
	})

	t.Run("EscapedKeys", func(t *testing.T) {
		key := model.TrackingKey("build/with:odd chars?")
		if err := st.Put(key, testRecord(key, model.StateSealed), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, _, err := st.Get(key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Key != key {
			t.Errorf("key mangled: %q", got.Key)
		}
		keys, err := st.ListKeys(model.StateSealed)
		if err != nil {
			t.Fatalf("ListKeys failed: %v", err)
		}
		if !containsKey(keys, key) {
			t.Errorf("listing missing escaped key: %v", keys)
		}
	})

	t.Run("Legacy", func(t *testing.T) {
		if _, err := st.GetLegacy("legacy-missing"); !errors.Is(err, tracking.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		record := testRecord("legacy-1", model.StateSealed)
		if err := st.PutLegacy("legacy-1", record); err != nil {
			t.Fatalf("PutLegacy failed: %v", err)
		}
		got, err := st.GetLegacy("legacy-1")
		if err != nil {
			t.Fatalf("GetLegacy failed: %v", err)
		}
		if got.Key != "legacy-1" || len(got.Downloads) != 1 {
			t.Errorf("legacy record came back wrong: %+v", got)
		}

		keys, err := st.ListLegacyKeys()
		if err != nil {
			t.Fatalf("ListLegacyKeys failed: %v", err)
		}
		if !containsKey(keys, "legacy-1") {
			t.Errorf("legacy listing missing key: %v", keys)
		}
	})
}

func containsKey(keys []model.TrackingKey, want model.TrackingKey) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}
