// Package event defines the identity-provider events flowing through the
// pipeline and their serialized form on the stream.
package event

import (
	"encoding/json"
	"strings"
	"time"

	dErrors "sante/pkg/domain-errors"
)

// Event types emitted by the identity provider.
const (
	TypeRegister      = "REGISTER"
	TypeUpdateProfile = "UPDATE_PROFILE"
	TypeUpdateEmail   = "UPDATE_EMAIL"
	TypeLogin         = "LOGIN"
	TypeDeleteAccount = "DELETE_ACCOUNT"

	// AdminPrefix marks events originating from the provider's admin console.
	// Those edits must not be mirrored back into identity sync.
	AdminPrefix = "ADMIN_"
)

// Admission window for event timestamps.
const (
	maxEventAge   = 30 * 24 * time.Hour
	maxClockAhead = time.Hour
)

// Stream message field names.
const (
	FieldEvent      = "event"
	FieldEnqueuedAt = "enqueued_at"
)

// Snapshot carries the user attributes present on the event. Pointer fields
// distinguish "absent" from "empty": update handlers apply only what is set.
type Snapshot struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	Gender      *string `json:"gender,omitempty"`
	Specialty   *string `json:"specialty,omitempty"`
	SecondaryID *string `json:"secondary_id,omitempty"`
}

// Inbound is a single identity event as received on the webhook.
type Inbound struct {
	Type     string    `json:"event_type"`
	RealmID  string    `json:"realm_id"`
	ClientID string    `json:"client_id,omitempty"`
	UserID   string    `json:"user_id"`
	TimeMS   int64     `json:"event_time"`
	Snapshot *Snapshot `json:"user_snapshot,omitempty"`
	// DeletionStrategy selects soft (default) or hard deletion for
	// DELETE_ACCOUNT events.
	DeletionStrategy string `json:"deletion_strategy,omitempty"`
}

// OccurredAt converts the epoch-millisecond event time.
func (e Inbound) OccurredAt() time.Time {
	return time.UnixMilli(e.TimeMS).UTC()
}

// IsDeletion reports whether the event propagates an account deletion.
func (e Inbound) IsDeletion() bool { return e.Type == TypeDeleteAccount }

// IsAdmin reports whether the event carries the admin-console marker.
func (e Inbound) IsAdmin() bool { return strings.HasPrefix(e.Type, AdminPrefix) }

// Validate enforces the admission invariants before an event may be enqueued:
// identifying fields present and event time inside [now-30d, now+1h].
func (e Inbound) Validate(now time.Time) error {
	if e.Type == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "event_type is required")
	}
	if e.RealmID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "realm_id is required")
	}
	if e.UserID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "user_id is required")
	}
	if e.TimeMS <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "event_time is required")
	}

	occurred := e.OccurredAt()
	if occurred.Before(now.Add(-maxEventAge)) {
		return dErrors.New(dErrors.CodeInvalidInput, "event_time is too far in the past")
	}
	if occurred.After(now.Add(maxClockAhead)) {
		return dErrors.New(dErrors.CodeInvalidInput, "event_time is too far in the future")
	}
	return nil
}

// Fields serializes the event for the stream broker, merging in extra fields
// such as propagated trace context.
func (e Inbound) Fields(enqueuedAt time.Time, extra map[string]string) (map[string]string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal event")
	}
	fields := map[string]string{
		FieldEvent:      string(payload),
		FieldEnqueuedAt: enqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields, nil
}

// FromFields deserializes an event from stream message fields.
func FromFields(fields map[string]string) (Inbound, error) {
	raw, ok := fields[FieldEvent]
	if !ok || raw == "" {
		return Inbound{}, dErrors.New(dErrors.CodeInvalidInput, "message has no event payload")
	}
	var e Inbound
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Inbound{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "unmarshal event payload")
	}
	return e, nil
}
