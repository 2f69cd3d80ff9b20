package tracking_test

import (
	"bytes"
	"testing"

	"trackd/internal/model"
	"trackd/internal/store"
	"trackd/internal/tracking"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := store.NewMemoryStore("src")
	svc := newTestService(src)

	sealedRecordWithUploads(t, svc, "build-1", "/org/foo/foo-1.0.jar")
	sealedRecordWithUploads(t, svc, "build/with:odd chars", "/org/bar/bar-2.0.jar")

	var buf bytes.Buffer
	if err := svc.ExportSealed(&buf); err != nil {
		t.Fatalf("ExportSealed failed: %v", err)
	}

	dst := store.NewMemoryStore("dst")
	dstSvc := newTestService(dst)
	count, err := dstSvc.ImportArchive(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportArchive failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 imported records, got %d", count)
	}

	for _, id := range []string{"build-1", "build/with:odd chars"} {
		record, _, err := dst.Get(model.TrackingKey(id))
		if err != nil {
			t.Fatalf("imported record %q missing: %v", id, err)
		}
		if record.State != model.StateSealed {
			t.Errorf("imported record %q not sealed: %s", id, record.State)
		}
		if len(record.Uploads) != 1 {
			t.Errorf("imported record %q lost entries: %d uploads", id, len(record.Uploads))
		}
	}
}

func TestExportSkipsOpenRecords(t *testing.T) {
	src := store.NewMemoryStore("src")
	svc := newTestService(src)

	sealedRecordWithUploads(t, svc, "sealed-build", "/a.jar")
	if err := svc.Ingest(accessEvent("open-build", "maven:remote:central", "/b.jar")); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.ExportSealed(&buf); err != nil {
		t.Fatalf("ExportSealed failed: %v", err)
	}

	dst := store.NewMemoryStore("dst")
	dstSvc := newTestService(dst)
	count, err := dstSvc.ImportArchive(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportArchive failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the sealed record, got %d", count)
	}
	if _, _, err := dst.Get("open-build"); err == nil {
		t.Error("open record leaked into the archive")
	}
}

func TestImportOverwritesExistingRecord(t *testing.T) {
	src := store.NewMemoryStore("src")
	svc := newTestService(src)
	sealedRecordWithUploads(t, svc, "build-1", "/a.jar", "/b.jar")

	var buf bytes.Buffer
	if err := svc.ExportSealed(&buf); err != nil {
		t.Fatalf("ExportSealed failed: %v", err)
	}

	dst := store.NewMemoryStore("dst")
	dstSvc := newTestService(dst)
	// Pre-existing record with the same key but different content.
	if err := dstSvc.Ingest(accessEvent("build-1", "maven:remote:central", "/stale.jar")); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if _, err := dstSvc.ImportArchive(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("ImportArchive failed: %v", err)
	}

	record, _, err := dst.Get("build-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(record.Uploads) != 2 || len(record.Downloads) != 0 {
		t.Errorf("import did not replace the record: %d uploads, %d downloads",
			len(record.Uploads), len(record.Downloads))
	}
}

// vanishingStore lists a key whose record is gone by the time it is read,
// as happens when a record is cleared while an export is running.
type vanishingStore struct {
	tracking.RecordStore
	gone model.TrackingKey
}

func (v *vanishingStore) Get(key model.TrackingKey) (*model.TrackedContent, uint64, error) {
	if key == v.gone {
		return nil, 0, tracking.ErrNotFound
	}
	return v.RecordStore.Get(key)
}

func TestExportSkipsRecordDeletedMidExport(t *testing.T) {
	src := store.NewMemoryStore("src")
	svc := newTestService(src)
	sealedRecordWithUploads(t, svc, "build-1", "/a.jar")
	sealedRecordWithUploads(t, svc, "build-2", "/b.jar")

	exportSvc := newTestService(&vanishingStore{RecordStore: src, gone: "build-2"})

	var buf bytes.Buffer
	if err := exportSvc.ExportSealed(&buf); err != nil {
		t.Fatalf("ExportSealed failed: %v", err)
	}

	dst := store.NewMemoryStore("dst")
	dstSvc := newTestService(dst)
	count, err := dstSvc.ImportArchive(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ImportArchive failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 exported record, got %d", count)
	}
	if _, _, err := dst.Get("build-1"); err != nil {
		t.Errorf("surviving record missing from archive: %v", err)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	svc := newTestService(store.NewMemoryStore("test"))

	if _, err := svc.ImportArchive(bytes.NewReader([]byte("not a zip"))); err == nil {
		t.Fatal("expected error for malformed archive")
	}
}
