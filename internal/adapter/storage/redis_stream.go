package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yassinshaher1/CCB/internal/core/domain"
	"github.com/yassinshaher1/CCB/internal/port"
)

const (
	DefaultChangeStream = "orders:changes"
	DefaultChangeGroup  = "settlement"

	streamMaxLen    = 100000
	streamReadCount = 64
	streamBlock     = 5 * time.Second
	eventField      = "event"
)

// RedisStream is a change feed on a Redis Stream. Readers share a consumer
// group; an entry is acknowledged only after the handler returned, and
// unacknowledged entries of this consumer are read again on resubscribe.
//
// Delivery is at-least-once up to the handler, not up to settlement: the
// settlement listener only dispatches a worker before returning, so an entry
// is acked while its order may still be PENDING. If the process dies during
// settlement the entry is gone and the order is picked up by the pending
// sweeper once it is older than its stale threshold.
type RedisStream struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *slog.Logger
}

func NewRedisStream(client *redis.Client, stream, group string, logger *slog.Logger) *RedisStream {
	if stream == "" {
		stream = DefaultChangeStream
	}
	if group == "" {
		group = DefaultChangeGroup
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStream{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: "consumer-" + uuid.NewString(),
		logger:   logger,
	}
}

// WithConsumer pins the consumer name so a restarted process reclaims its own pending entries.
func (s *RedisStream) WithConsumer(name string) *RedisStream {
	if name != "" {
		s.consumer = name
	}
	return s
}

func (s *RedisStream) Publish(ctx context.Context, event domain.ChangeEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			eventField: string(raw),
			"kind":     string(event.Kind),
			"order_id": event.OrderID,
		},
	}).Err()
	if err != nil {
		return storeErr("publish change", err)
	}
	return nil
}

func (s *RedisStream) Subscribe(ctx context.Context, handler port.ChangeHandler) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}

	// "0" replays entries delivered to this consumer but never acknowledged
	if err := s.read(ctx, "0", 0, handler); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.read(ctx, ">", streamBlock, handler); err != nil {
			return err
		}
	}
}

func (s *RedisStream) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return storeErr("create consumer group", err)
	}
	return nil
}

func (s *RedisStream) read(ctx context.Context, start string, block time.Duration, handler port.ChangeHandler) error {
	for {
		args := &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, start},
			Count:    streamReadCount,
			Block:    block,
		}
		if block == 0 {
			// a zero Block would wait forever; pending replay must not block
			args.Block = -1
		}

		streams, err := s.client.XReadGroup(ctx, args).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return storeErr("read change stream", err)
		}

		delivered := 0
		for _, st := range streams {
			for _, msg := range st.Messages {
				delivered++
				s.deliver(ctx, msg, handler)
			}
		}

		// new entries: one batch per call; pending replay: until drained
		if start == ">" || delivered == 0 {
			return nil
		}
	}
}

func (s *RedisStream) deliver(ctx context.Context, msg redis.XMessage, handler port.ChangeHandler) {
	raw, _ := msg.Values[eventField].(string)

	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		s.logger.Warn("dropping malformed change entry", "entry_id", msg.ID, "error", err)
	} else {
		handler(ctx, ev)
	}

	if err := s.client.XAck(ctx, s.stream, s.group, msg.ID).Err(); err != nil {
		s.logger.Warn("failed to ack change entry", "entry_id", msg.ID, "error", err)
	}
}
