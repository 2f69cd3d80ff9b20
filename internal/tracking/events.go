package tracking

import (
	"context"
	"errors"
)

// FileEventType distinguishes the two kinds of file events.
type FileEventType string

const (
	FileEventAccess  FileEventType = "ACCESS"
	FileEventStorage FileEventType = "STORAGE"
)

// FileEvent is a file-access or file-storage notification from the content
// layer. SessionID carries the client-chosen tracking key; OriginPath is set
// when the content layer retargeted the request internally (e.g. npm
// metadata rewriting) and preserves the logical request path.
type FileEvent struct {
	EventType     FileEventType `json:"eventType"`
	SessionID     string        `json:"sessionId"`
	StoreKey      string        `json:"storeKey"`
	TargetPath    string        `json:"targetPath"`
	OriginPath    string        `json:"originPath,omitempty"`
	AccessChannel string        `json:"accessChannel,omitempty"`
	OriginURL     string        `json:"originUrl,omitempty"`
	Size          int64         `json:"size"`
	MD5           string        `json:"md5,omitempty"`
	SHA1          string        `json:"sha1,omitempty"`
	SHA256        string        `json:"sha256,omitempty"`
}

// PromoteCompleteEvent announces that a batch of paths was promoted from one
// store to another.
type PromoteCompleteEvent struct {
	SourceStore    string   `json:"sourceStore"`
	TargetStore    string   `json:"targetStore"`
	CompletedPaths []string `json:"completedPaths"`
}

// AckFunc acknowledges a delivered event to its transport. Handlers call it
// exactly once regardless of the handling outcome; the consumer never
// negative-acknowledges or requests redelivery.
type AckFunc func()

// FileEventSource delivers file events. Receive blocks until an event is
// available or ctx is done.
type FileEventSource interface {
	Receive(ctx context.Context) (FileEvent, AckFunc, error)
}

// PromotionSource delivers promotion-complete events. Receive blocks until
// an event is available or ctx is done.
type PromotionSource interface {
	Receive(ctx context.Context) (PromoteCompleteEvent, AckFunc, error)
}

// Consumer pumps events from the sources into the service. Event routing is
// an explicit dispatch table keyed by event type; unknown types are logged
// and dropped. Every received event is acknowledged unconditionally: losing
// one record update is recoverable, blocking the event pipeline is not.
type Consumer struct {
	files      FileEventSource
	promotions PromotionSource
	svc        *TrackingService
	logger     Logger

	fileHandlers map[FileEventType]func(FileEvent)
}

// NewConsumer creates a Consumer. Either source may be nil, in which case
// that loop is not run.
func NewConsumer(files FileEventSource, promotions PromotionSource, svc *TrackingService, logger Logger) *Consumer {
	c := &Consumer{
		files:      files,
		promotions: promotions,
		svc:        svc,
		logger:     logger,
	}
	c.fileHandlers = map[FileEventType]func(FileEvent){
		FileEventAccess:  c.handleFileEvent,
		FileEventStorage: c.handleFileEvent,
	}
	return c
}

// Run consumes from both sources until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	done := make(chan struct{}, 2)

	loops := 0
	if c.files != nil {
		loops++
		go func() {
			c.runFileLoop(ctx)
			done <- struct{}{}
		}()
	}
	if c.promotions != nil {
		loops++
		go func() {
			c.runPromotionLoop(ctx)
			done <- struct{}{}
		}()
	}

	for i := 0; i < loops; i++ {
		<-done
	}
	return ctx.Err()
}

func (c *Consumer) runFileLoop(ctx context.Context) {
	for {
		event, ack, err := c.files.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("receiving file event", "error", err)
			continue
		}

		handler, ok := c.fileHandlers[event.EventType]
		if !ok {
			c.logger.Warn("unknown file event type", "type", event.EventType)
		} else {
			handler(event)
		}
		ack()
	}
}

func (c *Consumer) runPromotionLoop(ctx context.Context) {
	for {
		event, ack, err := c.promotions.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("receiving promotion event", "error", err)
			continue
		}

		c.svc.HandlePromoteComplete(ctx, event)
		ack()
	}
}

// handleFileEvent feeds one event to the ingestor. Failures are logged with
// full context and never propagate: a single bad event must not stall the
// pipeline.
func (c *Consumer) handleFileEvent(event FileEvent) {
	if err := c.svc.Ingest(event); err != nil {
		c.logger.Error("failed to record file event",
			"type", event.EventType,
			"session", event.SessionID,
			"store", event.StoreKey,
			"path", event.TargetPath,
			"error", err)
	}
}
