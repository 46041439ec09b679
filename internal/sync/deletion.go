package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sante/internal/event"
	"sante/internal/gdpr"
	"sante/internal/identity/models"
	"sante/internal/identity/store"
	"sante/internal/roles"
	id "sante/pkg/domain"
	dErrors "sante/pkg/domain-errors"
	"sante/pkg/platform/sentinel"
)

// DeletionHandler propagates DELETE_ACCOUNT events. It resolves the subject's
// provider roles to decide which record kinds the deletion applies to, then
// runs the lifecycle engine once per record. Each record commits on its own
// and an individual failure does not stop the rest.
type DeletionHandler struct {
	roles  roles.Lookup
	store  store.Store
	engine *gdpr.Engine
	logger *slog.Logger
}

func NewDeletionHandler(lookup roles.Lookup, s store.Store, engine *gdpr.Engine, logger *slog.Logger) *DeletionHandler {
	return &DeletionHandler{roles: lookup, store: s, engine: engine, logger: logger}
}

func (h *DeletionHandler) Handle(ctx context.Context, e event.Inbound) (Result, error) {
	userID, err := id.ParseUserID(e.UserID)
	if err != nil {
		return failure(e, "invalid user id: "+e.UserID), nil
	}

	subjectRoles, err := h.roles.GetRoles(ctx, userID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return failure(e, "subject unknown to identity provider"), nil
		}
		return Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "resolve subject roles")
	}

	kinds := recordKinds(subjectRoles)
	if len(kinds) == 0 {
		return success(e, "", "no applicable record kinds for roles"), nil
	}

	strategy := gdpr.StrategySoft
	if e.DeletionStrategy == string(gdpr.StrategyHard) {
		strategy = gdpr.StrategyHard
	}

	var (
		deleted   int
		blocked   int
		transient error
	)
	for _, kind := range kinds {
		record, err := h.store.GetByUserAndKind(ctx, userID, kind)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue // the user never had this kind of record
		}
		if err != nil {
			transient = err
			continue
		}

		err = h.engine.Execute(ctx, gdpr.DeletionRequest{
			RecordID: record.ID,
			Reason:   models.ReasonUserRequest,
			Actor:    "identity-provider",
			Strategy: strategy,
		})
		switch {
		case err == nil:
			deleted++
		case dErrors.HasCode(err, dErrors.CodeBlocked):
			// An investigation hold is a deliberate business outcome, not a
			// fault; retrying cannot lift it.
			blocked++
			h.logger.WarnContext(ctx, "deletion blocked by investigation hold",
				"record_id", record.ID.String(), "user_id", e.UserID)
		default:
			transient = err
			h.logger.ErrorContext(ctx, "record deletion failed",
				"record_id", record.ID.String(), "error", err)
		}
	}

	if transient != nil {
		// Soft delete is idempotent, so retrying the whole event is safe.
		return Result{}, dErrors.Wrap(transient, dErrors.CodeInternal, "delete records")
	}
	if blocked > 0 {
		return failure(e, fmt.Sprintf("deletion blocked for %d record(s) under investigation", blocked)), nil
	}
	return success(e, "", fmt.Sprintf("%d record(s) deleted (%s)", deleted, strategy)), nil
}

func recordKinds(subjectRoles []roles.Role) []models.Kind {
	seen := make(map[models.Kind]bool)
	var kinds []models.Kind
	for _, role := range subjectRoles {
		if kind, ok := role.RecordKind(); ok && !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
