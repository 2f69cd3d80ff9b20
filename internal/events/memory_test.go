package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackd/internal/tracking"
)

func TestMemoryTransportDeliversFileEvents(t *testing.T) {
	transport := NewMemoryTransport(4)
	ctx := context.Background()

	want := tracking.FileEvent{
		EventType:  tracking.FileEventAccess,
		SessionID:  "build-1",
		StoreKey:   "maven:remote:central",
		TargetPath: "/a.jar",
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

func TestMemoryTransportDeliversPromotionEvents(t *testing.T) {
	transport := NewMemoryTransport(4)
	ctx := context.Background()

	want := tracking.PromoteCompleteEvent{
		SourceStore:    "maven:hosted:build-1",
		TargetStore:    "maven:hosted:releases",
		CompletedPaths: []string{"/a.jar"},
	}
	if err := transport.PublishPromoteComplete(ctx, want); err != nil {
		t.Fatalf("PublishPromoteComplete failed: %v", err)
	}

	got, ack, err := transport.Promotions().Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got.SourceStore != want.SourceStore || got.TargetStore != want.TargetStore ||
		len(got.CompletedPaths) != 1 {
		t.Errorf("event mangled in transit: %+v", got)
	}
	ack()
}

func TestMemoryTransportReceiveHonorsContext(t *testing.T) {
	transport := NewMemoryTransport(4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := transport.FileEvents().Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
