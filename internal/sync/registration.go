package sync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"sante/internal/event"
	"sante/internal/gdpr"
	"sante/internal/identity/models"
	"sante/internal/identity/store"
	"sante/internal/notify"
	id "sante/pkg/domain"
	dErrors "sante/pkg/domain-errors"
	"sante/pkg/platform/sentinel"
	"sante/pkg/platform/tx"
)

// RegistrationHandler creates the identity record for a REGISTER event.
// Replays are idempotent: an existing record for the same user and kind is
// reported as already synchronized without mutation.
type RegistrationHandler struct {
	store    store.Store
	runner   tx.Runner
	engine   *gdpr.Engine
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewRegistrationHandler(s store.Store, runner tx.Runner, engine *gdpr.Engine, notifier notify.Notifier, logger *slog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		store:    s,
		runner:   runner,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (h *RegistrationHandler) Handle(ctx context.Context, e event.Inbound) (Result, error) {
	userID, err := id.ParseUserID(e.UserID)
	if err != nil {
		return failure(e, "invalid user id: "+e.UserID), nil
	}

	kind := recordKindFor(e.Snapshot)

	if _, err := h.store.GetByUserAndKind(ctx, userID, kind); err == nil {
		return success(e, "", "already synchronized"), nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "idempotence check")
	}

	if missing := missingRequiredFields(e.Snapshot); len(missing) > 0 {
		return failure(e, "missing required fields: "+strings.Join(missing, ", ")), nil
	}

	record := models.NewRecord(userID, e.RealmID, kind, h.now().UTC())
	applySnapshot(record, e.Snapshot)

	err = h.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := h.store.Create(ctx, record); err != nil {
			return err
		}
		// The creation notification is part of the unit of work: a record
		// downstream never hears about is worse than a retried event.
		return h.notifier.Publish(ctx, notify.TopicCreated, map[string]any{
			"record_id": record.ID.String(),
			"user_id":   record.UserID.String(),
			"realm_id":  record.RealmID,
			"kind":      record.Kind,
		})
	})
	if errors.Is(err, sentinel.ErrConflict) {
		// Lost a race with a concurrent replay. Same outcome.
		return success(e, "", "already synchronized"), nil
	}
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "create identity record")
	}

	// Returning-user correlation is audit-only; a failed lookup never undoes
	// the registration.
	if _, err := h.engine.CorrelationLookup(ctx, record.Email, record.SecondaryID); err != nil {
		h.logger.WarnContext(ctx, "returning-user correlation failed",
			"user_id", record.UserID.String(), "error", err)
	}

	return success(e, record.ID.String(), "record created"), nil
}

// recordKindFor infers the record population from the snapshot: the provider
// only sets a specialty for health professionals.
func recordKindFor(snap *event.Snapshot) models.Kind {
	if snap != nil && snap.Specialty != nil && *snap.Specialty != "" {
		return models.KindProfessional
	}
	return models.KindPatient
}

func missingRequiredFields(snap *event.Snapshot) []string {
	var missing []string
	blank := func(p *string) bool { return p == nil || *p == "" }
	if snap == nil {
		return []string{"first_name", "last_name", "date_of_birth", "gender"}
	}
	if blank(snap.FirstName) {
		missing = append(missing, "first_name")
	}
	if blank(snap.LastName) {
		missing = append(missing, "last_name")
	}
	if blank(snap.DateOfBirth) {
		missing = append(missing, "date_of_birth")
	}
	if blank(snap.Gender) {
		missing = append(missing, "gender")
	}
	return missing
}

// applySnapshot copies every present snapshot field onto the record,
// reporting whether anything changed.
func applySnapshot(record *models.Record, snap *event.Snapshot) bool {
	if snap == nil {
		return false
	}
	changed := false
	apply := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	apply(&record.FirstName, snap.FirstName)
	apply(&record.LastName, snap.LastName)
	apply(&record.Email, snap.Email)
	apply(&record.Phone, snap.Phone)
	apply(&record.DateOfBirth, snap.DateOfBirth)
	apply(&record.Gender, snap.Gender)
	apply(&record.Specialty, snap.Specialty)
	apply(&record.SecondaryID, snap.SecondaryID)
	return changed
}
