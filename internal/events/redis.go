package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"trackd/internal/tracking"
)

// Default stream and group names for the Redis transport.
const (
	DefaultFileStream    = "trackd:file-events"
	DefaultPromoteStream = "trackd:promote-complete"
	DefaultConsumerGroup = "trackd"
)

// Stream messages carry the event as a JSON document in a single field.
const payloadField = "payload"

const readBlock = 5 * time.Second

// RedisOptions carries the connection settings for the Redis Streams
// transport.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	FileStream    string
	PromoteStream string
	Group         string
	Consumer      string
}

// RedisTransport delivers events over Redis Streams using consumer groups,
// so several service instances can share one stream with each message going
// to exactly one of them.
type RedisTransport struct {
	client *redis.Client
	opts   RedisOptions
}

// NewRedisTransport connects to Redis and ensures the streams and consumer
// group exist.
func NewRedisTransport(ctx context.Context, opts RedisOptions) (*RedisTransport, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis transport requires an address")
	}
	if opts.FileStream == "" {
		opts.FileStream = DefaultFileStream
	}
	if opts.PromoteStream == "" {
		opts.PromoteStream = DefaultPromoteStream
	}
	if opts.Group == "" {
		opts.Group = DefaultConsumerGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = "trackd-consumer"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	for _, stream := range []string{opts.FileStream, opts.PromoteStream} {
		if err := ensureGroup(ctx, client, stream, opts.Group); err != nil {
			client.Close()
			return nil, err
		}
	}

	return &RedisTransport{client: client, opts: opts}, nil
}

// ensureGroup creates the consumer group on the stream, creating the stream
// itself if needed. An already-existing group is fine.
func ensureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %q on stream %q: %w", group, stream, err)
	}
	return nil
}

// PublishFileEvent appends a file event to the file event stream.
func (t *RedisTransport) PublishFileEvent(ctx context.Context, event tracking.FileEvent) error {
	return t.publish(ctx, t.opts.FileStream, event)
}

// PublishPromoteComplete appends a promotion-complete event to the promotion
// stream.
func (t *RedisTransport) PublishPromoteComplete(ctx context.Context, event tracking.PromoteCompleteEvent) error {
	return t.publish(ctx, t.opts.PromoteStream, event)
}

func (t *RedisTransport) publish(ctx context.Context, stream string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	err = t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending event to stream %q: %w", stream, err)
	}
	return nil
}

// FileEvents returns the transport's file event source.
func (t *RedisTransport) FileEvents() tracking.FileEventSource {
	return &redisFileSource{stream: t.newStream(t.opts.FileStream)}
}

// Promotions returns the transport's promotion event source.
func (t *RedisTransport) Promotions() tracking.PromotionSource {
	return &redisPromotionSource{stream: t.newStream(t.opts.PromoteStream)}
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

func (t *RedisTransport) newStream(name string) *redisStream {
	return &redisStream{
		client:   t.client,
		stream:   name,
		group:    t.opts.Group,
		consumer: t.opts.Consumer,
	}
}

// redisStream reads one consumer-group stream, buffering batches so each
// Receive hands out one message.
type redisStream struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	pending  []redis.XMessage
}

// next blocks until a message is available or ctx is done. Sources are not
// safe for concurrent use; the consumer runs one loop per source.
func (s *redisStream) next(ctx context.Context) (redis.XMessage, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return redis.XMessage{}, err
		}
		res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    16,
			Block:    readBlock,
		}).Result()
		if err == redis.Nil {
			continue // block timed out, poll again
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return redis.XMessage{}, ctxErr
			}
			return redis.XMessage{}, fmt.Errorf("reading stream %q: %w", s.stream, err)
		}
		for _, stream := range res {
			s.pending = append(s.pending, stream.Messages...)
		}
	}

	msg := s.pending[0]
	s.pending = s.pending[1:]
	return msg, nil
}

// decode extracts the JSON payload of msg into v. A malformed message is
// acknowledged before the error returns so the broker never redelivers it.
func (s *redisStream) decode(ctx context.Context, msg redis.XMessage, v any) error {
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		s.ack(msg.ID)
		return fmt.Errorf("message %s on stream %q has no %s field", msg.ID, s.stream, payloadField)
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		s.ack(msg.ID)
		return fmt.Errorf("decoding message %s on stream %q: %w", msg.ID, s.stream, err)
	}
	return nil
}

func (s *redisStream) ack(id string) {
	// Acknowledged outside the consumer's ctx so shutdown does not strand
	// a handled message in the pending entries list.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.client.XAck(ctx, s.stream, s.group, id)
}

type redisFileSource struct {
	stream *redisStream
}

func (r *redisFileSource) Receive(ctx context.Context) (tracking.FileEvent, tracking.AckFunc, error) {
	msg, err := r.stream.next(ctx)
	if err != nil {
		return tracking.FileEvent{}, nil, err
	}
	var event tracking.FileEvent
	if err := r.stream.decode(ctx, msg, &event); err != nil {
		return tracking.FileEvent{}, nil, err
	}
	return event, func() { r.stream.ack(msg.ID) }, nil
}

type redisPromotionSource struct {
	stream *redisStream
}

func (r *redisPromotionSource) Receive(ctx context.Context) (tracking.PromoteCompleteEvent, tracking.AckFunc, error) {
	msg, err := r.stream.next(ctx)
	if err != nil {
		return tracking.PromoteCompleteEvent{}, nil, err
	}
	var event tracking.PromoteCompleteEvent
	if err := r.stream.decode(ctx, msg, &event); err != nil {
		return tracking.PromoteCompleteEvent{}, nil, err
	}
	return event, func() { r.stream.ack(msg.ID) }, nil
}

// Compile-time checks that the Redis sources implement the source interfaces
var (
	_ tracking.FileEventSource = (*redisFileSource)(nil)
	_ tracking.PromotionSource = (*redisPromotionSource)(nil)
)
