// Package domain holds the typed identifiers shared across the service.
// Distinct ID types keep a user ID from ever being passed where a record ID
// is expected; the compiler enforces the boundary.
package domain

import (
	"github.com/google/uuid"

	dErrors "sante/pkg/domain-errors"
)

// UserID identifies a subject in the external identity provider.
type UserID uuid.UUID

// RecordID identifies an identity record owned by this service.
type RecordID uuid.UUID

// NewRecordID allocates a fresh record identifier.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

func (u UserID) String() string   { return uuid.UUID(u).String() }
func (u UserID) IsNil() bool      { return uuid.UUID(u) == uuid.Nil }
func (r RecordID) String() string { return uuid.UUID(r).String() }
func (r RecordID) IsNil() bool    { return uuid.UUID(r) == uuid.Nil }

// MarshalText renders the ID as its canonical UUID string in JSON and text
// encodings.
func (u UserID) MarshalText() ([]byte, error)   { return []byte(u.String()), nil }
func (r RecordID) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText applies the same validation as the Parse functions.
func (u *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func (r *RecordID) UnmarshalText(b []byte) error {
	parsed, err := ParseRecordID(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseUserID parses and validates a user ID at a trust boundary. Empty,
// malformed, and nil UUIDs are all rejected.
func ParseUserID(s string) (UserID, error) {
	u, err := parse(s)
	return UserID(u), err
}

// ParseRecordID parses and validates a record ID at a trust boundary.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parse(s)
	return RecordID(u), err
}

func parse(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}
