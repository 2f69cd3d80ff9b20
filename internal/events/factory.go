package events

import (
	"context"
	"fmt"

	"trackd/internal/config"
	"trackd/internal/tracking"
)

// Transport bundles the two event sources a running service consumes from,
// plus the publishing side used by tools and tests.
type Transport interface {
	PublishFileEvent(ctx context.Context, event tracking.FileEvent) error
	PublishPromoteComplete(ctx context.Context, event tracking.PromoteCompleteEvent) error
	FileEvents() tracking.FileEventSource
	Promotions() tracking.PromotionSource
	Close() error
}

// NewTransportFromConfig creates a Transport implementation based on the
// events config type.
func NewTransportFromConfig(ctx context.Context, cfg config.EventsConfig) (Transport, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryTransport(128), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis transport requires redis_addr to be set")
		}
		return NewRedisTransport(ctx, RedisOptions{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			DB:            cfg.RedisDB,
			FileStream:    cfg.FileStream,
			PromoteStream: cfg.PromoteStream,
			Group:         cfg.ConsumerGroup,
			Consumer:      cfg.ConsumerName,
		})
	default:
		return nil, fmt.Errorf("unknown events type: %s", cfg.Type)
	}
}

// Compile-time checks that both transports satisfy Transport
var (
	_ Transport = (*MemoryTransport)(nil)
	_ Transport = (*RedisTransport)(nil)
)
