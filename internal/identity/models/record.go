// Package models defines the identity records mirrored from the identity
// provider and their GDPR lifecycle.
package models

import (
	"time"

	id "sante/pkg/domain"
	dErrors "sante/pkg/domain-errors"
)

// Kind distinguishes the two record populations synced from the provider.
type Kind string

const (
	KindPatient      Kind = "patient"
	KindProfessional Kind = "professional"
)

// DeletionReason records why a record entered the deletion lifecycle.
type DeletionReason string

const (
	ReasonUserRequest DeletionReason = "user_request"
	ReasonAdminAction DeletionReason = "admin_action"
	ReasonCompliance  DeletionReason = "compliance"
)

// Record is one identity record (patient or professional) mirrored from the
// provider.
//
// Lifecycle invariants:
//   - AnonymizedAt set ⇒ SoftDeletedAt set and IsActive false
//   - UnderInvestigation blocks the soft-delete transition
//   - CorrelationHash is computed once, before anonymization, and preserved
//     verbatim through it
//
// Demographic fields belong to the provider sync handlers; lifecycle fields
// are written only through the GDPR engine.
type Record struct {
	ID      id.RecordID `json:"id"`
	UserID  id.UserID   `json:"user_id"`
	RealmID string      `json:"realm_id"`
	Kind    Kind        `json:"kind"`

	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Specialty   string `json:"specialty,omitempty"`
	SecondaryID string `json:"secondary_id,omitempty"`

	CorrelationHash    string         `json:"correlation_hash,omitempty"`
	IsActive           bool           `json:"is_active"`
	SoftDeletedAt      *time.Time     `json:"soft_deleted_at,omitempty"`
	AnonymizedAt       *time.Time     `json:"anonymized_at,omitempty"`
	DeletionReason     DeletionReason `json:"deletion_reason,omitempty"`
	UnderInvestigation bool           `json:"under_investigation"`
	InvestigationNotes string         `json:"investigation_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Record) IsSoftDeleted() bool { return r.SoftDeletedAt != nil }
func (r *Record) IsAnonymized() bool  { return r.AnonymizedAt != nil }

// CanSoftDelete checks whether the record may enter the deletion grace period.
func (r *Record) CanSoftDelete() error {
	if r.UnderInvestigation {
		return dErrors.New(dErrors.CodeBlocked, "record is under investigation")
	}
	if r.IsAnonymized() {
		return dErrors.New(dErrors.CodeConflict, "record is already anonymized")
	}
	return nil
}

// ApplySoftDelete deactivates the record and starts the grace period.
// Call CanSoftDelete first to validate the transition.
func (r *Record) ApplySoftDelete(reason DeletionReason, now time.Time) {
	r.IsActive = false
	r.SoftDeletedAt = &now
	r.DeletionReason = reason
	r.UpdatedAt = now
}

// CanRestore checks whether a soft-deleted record may return to active.
func (r *Record) CanRestore() error {
	if r.IsAnonymized() {
		return dErrors.New(dErrors.CodeConflict, "record is already anonymized")
	}
	if !r.IsSoftDeleted() {
		return dErrors.New(dErrors.CodeConflict, "record is not deleted")
	}
	return nil
}

// ApplyRestore reverses a soft delete within the grace period.
func (r *Record) ApplyRestore(now time.Time) {
	r.IsActive = true
	r.SoftDeletedAt = nil
	r.DeletionReason = ""
	r.UpdatedAt = now
}

// AnonymizeDueBy reports whether the grace period ends at or before cutoff.
func (r *Record) AnonymizeDueBy(cutoff time.Time, grace time.Duration) bool {
	if !r.IsSoftDeleted() || r.IsAnonymized() {
		return false
	}
	return !r.SoftDeletedAt.Add(grace).After(cutoff)
}

// NewRecord constructs an active record for a freshly registered user.
func NewRecord(userID id.UserID, realmID string, kind Kind, now time.Time) *Record {
	return &Record{
		ID:        id.NewRecordID(),
		UserID:    userID,
		RealmID:   realmID,
		Kind:      kind,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
