package events

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"trackd/internal/tracking"
)

func newTestTransport(t *testing.T) *RedisTransport {
	t.Helper()
	mr := miniredis.RunT(t)

	transport, err := NewRedisTransport(context.Background(), RedisOptions{
		Addr:     mr.Addr(),
		Consumer: "test-consumer",
	})
	if err != nil {
		t.Fatalf("NewRedisTransport failed: %v", err)
	}
	t.Cleanup(func() { transport.Close() })
	return transport
}

func TestRedisTransportFileEventRoundTrip(t *testing.T) {
	transport := newTestTransport(t)
	ctx := context.Background()

	want := tracking.FileEvent{
		EventType:  tracking.FileEventStorage,
		SessionID:  "build-1",
		StoreKey:   "maven:hosted:build-1",
		TargetPath: "/org/foo/foo-1.0.jar",
		Size:       2048,
		SHA256:     "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
	if err := transport.PublishFileEvent(ctx, want); err != nil {
		t.Fatalf("PublishFileEvent failed: %v", err)
	}

	got, ack, err := transport.FileEvents().Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got != want {
		t.Errorf("event mangled in transit:\n got %+v\nwant %+v", got, want)
	}
	ack()
}

func TestRedisTransportPromotionRoundTrip(t *testing.T) {
	transport := newTestTransport(t)
	ctx := context.Background()

	want := tracking.PromoteCompleteEvent{
		SourceStore:    "maven:hosted:build-1",
		TargetStore:    "maven:hosted:releases",
		CompletedPaths: []string{"/a.jar", "/b.jar"},
	}
	if err := transport.PublishPromoteComplete(ctx, want); err != nil {
		t.Fatalf("PublishPromoteComplete failed: %v", err)
	}

	got, ack, err := transport.Promotions().Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got.SourceStore != want.SourceStore || len(got.CompletedPaths) != 2 {
		t.Errorf("event mangled in transit: %+v", got)
	}
	ack()
}

func TestRedisTransportDeliversInOrder(t *testing.T) {
	transport := newTestTransport(t)
	ctx := context.Background()

	paths := []string{"/a.jar", "/b.jar", "/c.jar"}
	for _, p := range paths {
		event := tracking.FileEvent{
			EventType:  tracking.FileEventAccess,
			SessionID:  "build-1",
			StoreKey:   "maven:remote:central",
			TargetPath: p,
		}
		if err := transport.PublishFileEvent(ctx, event); err != nil {
			t.Fatalf("PublishFileEvent failed: %v", err)
		}
	}

	source := transport.FileEvents()
	for _, p := range paths {
		got, ack, err := source.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if got.TargetPath != p {
			t.Errorf("out of order: got %s, want %s", got.TargetPath, p)
		}
		ack()
	}
}

func TestRedisTransportRequiresAddr(t *testing.T) {
	if _, err := NewRedisTransport(context.Background(), RedisOptions{}); err == nil {
		t.Fatal("expected error for missing address")
	}
}
