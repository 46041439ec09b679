package sync

import (
	"context"
	"errors"
	"time"

	"sante/internal/event"
	"sante/internal/identity/models"
	"sante/internal/identity/store"
	id "sante/pkg/domain"
	dErrors "sante/pkg/domain-errors"
	"sante/pkg/platform/sentinel"
	"sante/pkg/platform/tx"
)

// ProfileHandler applies UPDATE_PROFILE snapshots to a user's records. Only
// fields present on the snapshot are touched; an unchanged record is a no-op.
type ProfileHandler struct {
	store  store.Store
	runner tx.Runner
	now    func() time.Time
}

func NewProfileHandler(s store.Store, runner tx.Runner) *ProfileHandler {
	return &ProfileHandler{store: s, runner: runner, now: time.Now}
}

func (h *ProfileHandler) Handle(ctx context.Context, e event.Inbound) (Result, error) {
	return applyUpdate(ctx, h.store, h.runner, h.now, e, func(record *models.Record) bool {
		return applySnapshot(record, e.Snapshot)
	})
}

// EmailHandler applies UPDATE_EMAIL events. The provider sends the full
// snapshot, but only the email address is trusted from this event type.
type EmailHandler struct {
	store  store.Store
	runner tx.Runner
	now    func() time.Time
}

func NewEmailHandler(s store.Store, runner tx.Runner) *EmailHandler {
	return &EmailHandler{store: s, runner: runner, now: time.Now}
}

func (h *EmailHandler) Handle(ctx context.Context, e event.Inbound) (Result, error) {
	return applyUpdate(ctx, h.store, h.runner, h.now, e, func(record *models.Record) bool {
		if e.Snapshot == nil || e.Snapshot.Email == nil || record.Email == *e.Snapshot.Email {
			return false
		}
		record.Email = *e.Snapshot.Email
		return true
	})
}

// applyUpdate is the shared update flow: resolve the user's records, mutate
// through fn, persist only what changed. A user without records is a
// non-retryable failure; no amount of retrying materializes a record that
// does not exist at this instant.
func applyUpdate(
	ctx context.Context,
	s store.Store,
	runner tx.Runner,
	now func() time.Time,
	e event.Inbound,
	fn func(*models.Record) bool,
) (Result, error) {
	userID, err := id.ParseUserID(e.UserID)
	if err != nil {
		return failure(e, "invalid user id: "+e.UserID), nil
	}

	records, err := s.GetByUser(ctx, userID)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "load records for update")
	}
	if len(records) == 0 {
		return failure(e, "no record found for user"), nil
	}

	changed := 0
	err = runner.RunInTx(ctx, func(ctx context.Context) error {
		for _, record := range records {
			if record.IsAnonymized() {
				continue // terminal, no demographic writes
			}
			if !fn(record) {
				continue
			}
			record.UpdatedAt = now().UTC()
			if err := s.Update(ctx, record); err != nil {
				if errors.Is(err, sentinel.ErrNotFound) {
					continue // hard-deleted since the read
				}
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "persist update")
	}

	if changed == 0 {
		return success(e, "", "no changes"), nil
	}
	return success(e, records[0].ID.String(), "record updated"), nil
}
