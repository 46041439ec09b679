// Package notify publishes identity lifecycle notifications to downstream
// collaborators.
package notify

import (
	"context"
	"time"

	"sante/pkg/platform/retry"
)

// Topics emitted by the pipeline.
const (
	TopicCreated       = "identity.created"
	TopicLogin         = "identity.login"
	TopicSoftDeleted   = "identity.soft_deleted"
	TopicRestored      = "identity.restored"
	TopicAnonymized    = "identity.anonymized"
	TopicReturningUser = "identity.returning_user"
)

// Notifier publishes a JSON-serializable payload on a topic.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Retrying wraps a Notifier with bounded retries. Exhaustion propagates the
// last error to the caller, who decides whether the failure is fatal.
type Retrying struct {
	next        Notifier
	maxAttempts int
	minWait     time.Duration
}

func NewRetrying(next Notifier) *Retrying {
	return &Retrying{next: next, maxAttempts: 3, minWait: 200 * time.Millisecond}
}

func (r *Retrying) Publish(ctx context.Context, topic string, payload any) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		return r.next.Publish(ctx, topic, payload)
	}, retry.WithMaxAttempts(r.maxAttempts), retry.WithMinWait(r.minWait))
}
