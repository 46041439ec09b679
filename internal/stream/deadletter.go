package stream

import (
	"context"
	"encoding/json"
	"time"

	dErrors "sante/pkg/domain-errors"
)

// DeadLetterSink receives messages that exhausted their retry budget or were
// unprocessable. The primary sink appends to the dead-letter stream; the store
// below keeps a queryable copy for operators.
type DeadLetterSink interface {
	Dead(ctx context.Context, dl DeadLetter) error
}

// StreamSink writes dead letters back onto a broker stream so they survive
// process restarts alongside the live entries.
type StreamSink struct {
	broker Broker
	stream string
}

func NewStreamSink(broker Broker, stream string) *StreamSink {
	return &StreamSink{broker: broker, stream: stream}
}

func (s *StreamSink) Dead(ctx context.Context, dl DeadLetter) error {
	fields := make(map[string]string, len(dl.Values)+3)
	for k, v := range dl.Values {
		fields[k] = v
	}
	fields["dead_message_id"] = dl.MessageID
	fields["dead_reason"] = dl.Reason
	fields["dead_at"] = dl.FailedAt.UTC().Format(time.RFC3339Nano)

	if _, err := s.broker.Append(ctx, s.stream, fields); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "append dead letter")
	}
	return nil
}

// DeadLetterStore is the operator-facing archive of dead letters.
type DeadLetterStore interface {
	Add(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
}

// FanoutSink forwards a dead letter to every configured sink. A store failure
// does not mask the stream write; the first error wins.
type FanoutSink struct {
	sinks []DeadLetterSink
}

func NewFanoutSink(sinks ...DeadLetterSink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

func (f *FanoutSink) Dead(ctx context.Context, dl DeadLetter) error {
	var firstErr error
	for _, s := range f.sinks {
		if err := s.Dead(ctx, dl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StoreSink adapts a DeadLetterStore to the sink interface.
type StoreSink struct {
	store DeadLetterStore
}

func NewStoreSink(store DeadLetterStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Dead(ctx context.Context, dl DeadLetter) error {
	return s.store.Add(ctx, dl)
}

func encodeValues(values map[string]string) ([]byte, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal dead letter values")
	}
	return raw, nil
}

func decodeValues(raw []byte) (map[string]string, error) {
	var values map[string]string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unmarshal dead letter values")
	}
	return values, nil
}
