// Package stream abstracts the durable event log the pipeline runs on: an
// append-only, consumer-grouped stream with per-message acknowledgment and
// idle-message reclaim. The production implementation is Redis Streams; a
// memory implementation with the same pending-entry semantics backs tests.
package stream

import (
	"context"
	"time"
)

// Message is one stream entry as delivered to a consumer. Attempts is the
// broker-maintained delivery count (1 on first delivery); the stream itself is
// append-only, so attempts advance through redelivery metadata, never by
// rewriting the entry.
type Message struct {
	ID       string
	Values   map[string]string
	Attempts int64
}

// DeadLetter is a message copied to the dead-letter stream after its retry
// budget was exhausted or its payload proved unprocessable.
type DeadLetter struct {
	MessageID string
	Values    map[string]string
	Attempts  int64
	Reason    string
	FailedAt  time.Time
}

// Broker is the persistent stream the gateway appends to and the dispatcher
// consumes from.
type Broker interface {
	// Append adds fields to the stream and returns the broker-assigned id.
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)

	// EnsureGroup creates the consumer group if it does not exist yet.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup blocks up to block for new messages addressed to the group.
	// A nil slice with nil error means the block timed out.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error)

	// Claim reassigns pending messages idle longer than minIdle to consumer
	// and returns them with their accumulated delivery counts.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Message, error)

	// Ack acknowledges a message, removing it from the group's pending list.
	Ack(ctx context.Context, stream, group, id string) error
}
