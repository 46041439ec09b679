package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Recorder keeps published notifications in memory. It backs tests and
// broker-less deployments, where notifications are logged instead of shipped.
type Recorder struct {
	mu     sync.Mutex
	logger *slog.Logger
	events []Recorded
}

// Recorded is one captured notification.
type Recorded struct {
	Topic   string
	Payload any
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

func (r *Recorder) Publish(ctx context.Context, topic string, payload any) error {
	r.mu.Lock()
	r.events = append(r.events, Recorded{Topic: topic, Payload: payload})
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.InfoContext(ctx, "notification recorded", "topic", topic)
	}
	return nil
}

// Published returns all captured notifications in publish order.
func (r *Recorder) Published() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded{}, r.events...)
}

// TopicCount returns how many notifications were published on a topic.
func (r *Recorder) TopicCount(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

// Last returns the most recent notification on a topic, if any.
func (r *Recorder) Last(topic string) (Recorded, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Topic == topic {
			return r.events[i], true
		}
	}
	return Recorded{}, false
}
