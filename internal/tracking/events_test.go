package tracking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackd/internal/events"
	"trackd/internal/model"
	"trackd/internal/store"
	"trackd/internal/tracking"
)

// waitForRecord polls the store until the record appears or the deadline
// expires.
func waitForRecord(t *testing.T, st tracking.RecordStore, key model.TrackingKey, check func(*model.TrackedContent) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, _, err := st.Get(key)
		if err == nil && check(record) {
			return
		}
		if err != nil && !errors.Is(err, tracking.ErrNotFound) {
			t.Fatalf("Get failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("record %q did not reach expected state in time", key)
}

func TestConsumerIngestsPublishedEvents(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)
	transport := events.NewMemoryTransport(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := tracking.NewConsumer(transport.FileEvents(), transport.Promotions(), svc, tracking.NewNopLogger())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	if err := transport.PublishFileEvent(ctx, accessEvent("build-1", "maven:remote:central", "/a.jar")); err != nil {
		t.Fatalf("PublishFileEvent failed: %v", err)
	}

	waitForRecord(t, st, "build-1", func(r *model.TrackedContent) bool {
		return len(r.Downloads) == 1
	})

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on context cancellation")
	}
}

func TestConsumerHandlesPromotionEvents(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)
	sealedRecordWithUploads(t, svc, "build-1", "/a.jar")

	transport := events.NewMemoryTransport(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := tracking.NewConsumer(transport.FileEvents(), transport.Promotions(), svc, tracking.NewNopLogger())
	go consumer.Run(ctx)

	err := transport.PublishPromoteComplete(ctx, tracking.PromoteCompleteEvent{
		SourceStore:    "maven:hosted:build-1",
		TargetStore:    "maven:hosted:releases",
		CompletedPaths: []string{"/a.jar"},
	})
	if err != nil {
		t.Fatalf("PublishPromoteComplete failed: %v", err)
	}

	target := model.StoreKey{PackageType: "maven", Type: model.StoreTypeHosted, Name: "releases"}
	waitForRecord(t, st, "build-1", func(r *model.TrackedContent) bool {
		return len(r.Uploads) == 1 && r.Uploads[0].StoreKey == target
	})
}

func TestConsumerSurvivesBadEvents(t *testing.T) {
	st := store.NewMemoryStore("test")
	svc := newTestService(st)
	transport := events.NewMemoryTransport(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := tracking.NewConsumer(transport.FileEvents(), transport.Promotions(), svc, tracking.NewNopLogger())
	go consumer.Run(ctx)

	// An event the ingestor drops, then a good one. The good one must still
	// be processed.
	bad := accessEvent("build-1", "garbage-store-key", "/a.jar")
	if err := transport.PublishFileEvent(ctx, bad); err != nil {
		t.Fatalf("PublishFileEvent failed: %v", err)
	}
	if err := transport.PublishFileEvent(ctx, accessEvent("build-1", "maven:remote:central", "/b.jar")); err != nil {
		t.Fatalf("PublishFileEvent failed: %v", err)
	}

	waitForRecord(t, st, "build-1", func(r *model.TrackedContent) bool {
		return len(r.Downloads) == 1 && r.Downloads[0].Path == "/b.jar"
	})
}
