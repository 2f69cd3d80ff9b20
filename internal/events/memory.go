package events

import (
	"context"

	"trackd/internal/tracking"
)

// MemoryTransport is an in-process event transport backed by buffered
// channels, useful for tests and single-process development setups where no
// broker is available. Publishing blocks once the buffer fills, applying
// backpressure to the producer.
type MemoryTransport struct {
	files      chan tracking.FileEvent
	promotions chan tracking.PromoteCompleteEvent
}

// NewMemoryTransport creates a memory transport with the given buffer size
// per event kind.
func NewMemoryTransport(buffer int) *MemoryTransport {
	return &MemoryTransport{
		files:      make(chan tracking.FileEvent, buffer),
		promotions: make(chan tracking.PromoteCompleteEvent, buffer),
	}
}

// PublishFileEvent delivers a file event to the transport.
func (t *MemoryTransport) PublishFileEvent(ctx context.Context, event tracking.FileEvent) error {
	select {
	case t.files <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishPromoteComplete delivers a promotion-complete event to the transport.
func (t *MemoryTransport) PublishPromoteComplete(ctx context.Context, event tracking.PromoteCompleteEvent) error {
	select {
	case t.promotions <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FileEvents returns the transport's file event source.
func (t *MemoryTransport) FileEvents() tracking.FileEventSource {
	return &memoryFileSource{ch: t.files}
}

// Promotions returns the transport's promotion event source.
func (t *MemoryTransport) Promotions() tracking.PromotionSource {
	return &memoryPromotionSource{ch: t.promotions}
}

func (t *MemoryTransport) Close() error { return nil }

type memoryFileSource struct {
	ch chan tracking.FileEvent
}

func (s *memoryFileSource) Receive(ctx context.Context) (tracking.FileEvent, tracking.AckFunc, error) {
	select {
	case event := <-s.ch:
		return event, func() {}, nil
	case <-ctx.Done():
		return tracking.FileEvent{}, nil, ctx.Err()
	}
}

type memoryPromotionSource struct {
	ch chan tracking.PromoteCompleteEvent
}

func (s *memoryPromotionSource) Receive(ctx context.Context) (tracking.PromoteCompleteEvent, tracking.AckFunc, error) {
	select {
	case event := <-s.ch:
		return event, func() {}, nil
	case <-ctx.Done():
		return tracking.PromoteCompleteEvent{}, nil, ctx.Err()
	}
}

// Compile-time checks that the memory sources implement the source interfaces
var (
	_ tracking.FileEventSource = (*memoryFileSource)(nil)
	_ tracking.PromotionSource = (*memoryPromotionSource)(nil)
)
