package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sante/pkg/platform/sentinel"
)

// RedisBroker implements Broker on Redis Streams. Consumer-group bookkeeping
// (pending entries, delivery counts, idle times) is Redis's own; this type
// only translates between the go-redis API and the Broker contract.
type RedisBroker struct {
	client redis.Cmdable
}

func NewRedisBroker(client redis.Cmdable) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, errors.Join(sentinel.ErrUnavailable, err))
	}
	return id, nil
}

func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (b *RedisBroker) ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error) {
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // block timed out, nothing new
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}

	var msgs []Message
	for _, s := range res {
		for _, m := range s.Messages {
			// Fresh reads are by definition the first delivery.
			msgs = append(msgs, Message{ID: m.ID, Values: stringValues(m.Values), Attempts: 1})
		}
	}
	return msgs, nil
}

func (b *RedisBroker) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Message, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s: %w", stream, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	attempts := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		// XCLAIM below counts as one more delivery.
		attempts[p.ID] = p.RetryCount + 1
	}

	claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}

	msgs := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		msgs = append(msgs, Message{ID: m.ID, Values: stringValues(m.Values), Attempts: attempts[m.ID]})
	}
	return msgs, nil
}

func (b *RedisBroker) Ack(ctx context.Context, stream, group, id string) error {
	if err := b.client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", stream, id, err)
	}
	return nil
}

func stringValues(values map[string]any) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
