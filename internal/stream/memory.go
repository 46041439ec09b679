package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBroker is an in-process Broker with the same consumer-group semantics
// as the Redis implementation: entries stay pending until acknowledged,
// pending entries age, and reclaiming one increments its delivery count.
// Used in tests and in broker-less development mode.
type MemoryBroker struct {
	mu      sync.Mutex
	now     func() time.Time
	nextSeq int64
	streams map[string]*memoryStream
}

type memoryStream struct {
	entries []memoryEntry
	groups  map[string]*memoryGroup
}

type memoryEntry struct {
	id     string
	values map[string]string
}

type memoryGroup struct {
	nextIndex int // position of the next never-delivered entry
	pending   map[string]*pendingEntry
}

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		now:     time.Now,
		streams: make(map[string]*memoryStream),
	}
}

// SetClock replaces the idle clock, letting tests age pending entries.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBroker) Append(_ context.Context, stream string, fields map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(stream)
	b.nextSeq++
	id := fmt.Sprintf("%d-%d", b.now().UnixMilli(), b.nextSeq)

	values := make(map[string]string, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	s.entries = append(s.entries, memoryEntry{id: id, values: values})
	return id, nil
}

func (b *MemoryBroker) EnsureGroup(_ context.Context, stream, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(stream)
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memoryGroup{
			nextIndex: len(s.entries), // mirror "$": only future entries
			pending:   make(map[string]*pendingEntry),
		}
	}
	return nil
}

func (b *MemoryBroker) ReadGroup(_ context.Context, stream, group, consumer string, count int, _ time.Duration) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(stream)
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("consumer group %q does not exist on %q", group, stream)
	}

	var msgs []Message
	for g.nextIndex < len(s.entries) && len(msgs) < count {
		entry := s.entries[g.nextIndex]
		g.nextIndex++
		g.pending[entry.id] = &pendingEntry{
			consumer:    consumer,
			deliveredAt: b.now(),
			deliveries:  1,
		}
		msgs = append(msgs, Message{ID: entry.id, Values: entry.values, Attempts: 1})
	}
	return msgs, nil
}

func (b *MemoryBroker) Claim(_ context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(stream)
	g, ok := s.groups[group]
	if !ok {
		return nil, fmt.Errorf("consumer group %q does not exist on %q", group, stream)
	}

	now := b.now()
	var msgs []Message
	for _, entry := range s.entries {
		if len(msgs) >= count {
			break
		}
		p, ok := g.pending[entry.id]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		msgs = append(msgs, Message{ID: entry.id, Values: entry.values, Attempts: p.deliveries})
	}
	return msgs, nil
}

func (b *MemoryBroker) Ack(_ context.Context, stream, group, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(stream)
	if g, ok := s.groups[group]; ok {
		delete(g.pending, id)
	}
	return nil
}

// PendingCount reports unacknowledged entries for a group. Test helper.
func (b *MemoryBroker) PendingCount(stream, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(stream)
	g, ok := s.groups[group]
	if !ok {
		return 0
	}
	return len(g.pending)
}

// Len reports the total number of entries appended to a stream. Test helper.
func (b *MemoryBroker) Len(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stream(stream).entries)
}

// Entries returns a copy of all entries on a stream. Test helper.
func (b *MemoryBroker) Entries(stream string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(stream)
	out := make([]Message, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Message{ID: e.id, Values: e.values})
	}
	return out
}

func (b *MemoryBroker) stream(name string) *memoryStream {
	s, ok := b.streams[name]
	if !ok {
		s = &memoryStream{groups: make(map[string]*memoryGroup)}
		b.streams[name] = s
	}
	return s
}
