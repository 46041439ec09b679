package gdpr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sante/internal/identity/models"
	"sante/internal/identity/store"
	"sante/internal/notify"
	"sante/internal/platform/metrics"
	id "sante/pkg/domain"
	dErrors "sante/pkg/domain-errors"
	"sante/pkg/platform/sentinel"
	"sante/pkg/platform/tx"
)

// Strategy selects the deletion path.
type Strategy string

const (
	StrategySoft Strategy = "soft"
	StrategyHard Strategy = "hard"
)

// DeletionRequest is the explicit contract every deletion caller fills in,
// whether the trigger was a stream event or an administrative action.
type DeletionRequest struct {
	RecordID id.RecordID
	Reason   models.DeletionReason
	Actor    string
	Strategy Strategy
}

// Engine is the single writer of lifecycle fields. It enforces the state
// machine ACTIVE → SOFT_DELETED → ANONYMIZED, with restore as the only
// backward edge and hard delete as a destructive escape hatch.
type Engine struct {
	store    store.Store
	runner   tx.Runner
	notifier notify.Notifier
	hasher   *Hasher
	grace    time.Duration
	batch    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Engine)

func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.grace = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the engine clock. Tests use it to cross the grace
// period without sleeping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(s store.Store, runner tx.Runner, notifier notify.Notifier, hasher *Hasher, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		runner:   runner,
		notifier: notifier,
		hasher:   hasher,
		grace:    7 * 24 * time.Hour,
		batch:    500,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GracePeriod exposes the configured grace period for callers that report the
// scheduled anonymization instant.
func (e *Engine) GracePeriod() time.Duration { return e.grace }

// Execute dispatches a deletion request to the configured strategy.
func (e *Engine) Execute(ctx context.Context, req DeletionRequest) error {
	switch req.Strategy {
	case StrategyHard:
		return e.HardDelete(ctx, req.RecordID, req.Reason, req.Actor)
	case StrategySoft, "":
		return e.SoftDelete(ctx, req.RecordID, req.Reason, req.Actor)
	default:
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown deletion strategy %q", req.Strategy)
	}
}

// SoftDelete deactivates a record and starts the anonymization grace period.
// Blocked while the record is under investigation; an idempotent no-op when
// the record is already soft-deleted.
func (e *Engine) SoftDelete(ctx context.Context, recordID id.RecordID, reason models.DeletionReason, actor string) error {
	now := e.now().UTC()
	var deleted *models.Record

	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		record, err := e.load(ctx, recordID)
		if err != nil {
			return err
		}
		if record.IsSoftDeleted() && !record.IsAnonymized() {
			deleted = nil // already in grace period, nothing to do
			return nil
		}
		if err := record.CanSoftDelete(); err != nil {
			return err
		}
		if record.CorrelationHash == "" {
			record.CorrelationHash = e.hasher.Correlation(record.Email, record.SecondaryID)
		}
		record.ApplySoftDelete(reason, now)
		if err := e.store.Update(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist soft delete")
		}
		deleted = record
		return nil
	})
	if err != nil {
		return err
	}
	if deleted == nil {
		return nil
	}

	e.logger.InfoContext(ctx, "record soft deleted",
		"record_id", recordID.String(), "reason", reason, "actor", actor)
	e.publish(ctx, notify.TopicSoftDeleted, map[string]any{
		"record_id":       recordID.String(),
		"user_id":         deleted.UserID.String(),
		"reason":          reason,
		"actor":           actor,
		"anonymize_at":    now.Add(e.grace),
		"soft_deleted_at": now,
	})
	return nil
}

// HardDelete physically removes a record, bypassing the grace period. The
// investigation hold applies here too.
func (e *Engine) HardDelete(ctx context.Context, recordID id.RecordID, reason models.DeletionReason, actor string) error {
	var userID id.UserID
	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		record, err := e.load(ctx, recordID)
		if err != nil {
			return err
		}
		if record.UnderInvestigation {
			return dErrors.New(dErrors.CodeBlocked, "record is under investigation")
		}
		userID = record.UserID
		if err := e.store.Delete(ctx, record.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist hard delete")
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Destructive and rare: loud log, no lifecycle notification (there is no
	// record left for downstream consumers to act on).
	e.logger.WarnContext(ctx, "record hard deleted",
		"record_id", recordID.String(), "user_id", userID.String(),
		"reason", reason, "actor", actor)
	return nil
}

// Restore reverses a soft delete within the grace period. Anonymization is
// irreversible, so restoring an anonymized record fails with a conflict.
func (e *Engine) Restore(ctx context.Context, recordID id.RecordID, actor string) error {
	now := e.now().UTC()
	var userID id.UserID

	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		record, err := e.load(ctx, recordID)
		if err != nil {
			return err
		}
		if err := record.CanRestore(); err != nil {
			return err
		}
		userID = record.UserID
		record.ApplyRestore(now)
		if err := e.store.Update(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist restore")
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "record restored", "record_id", recordID.String(), "actor", actor)
	e.publish(ctx, notify.TopicRestored, map[string]any{
		"record_id": recordID.String(),
		"user_id":   userID.String(),
		"actor":     actor,
	})
	return nil
}

// AnonymizeExpired irreversibly anonymizes every record whose grace period
// has elapsed as of now. Each record commits in its own unit of work and an
// individual failure does not stop the sweep. Returns the count anonymized.
func (e *Engine) AnonymizeExpired(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.ListAnonymizeDue(ctx, now.UTC(), e.grace, e.batch)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list records due for anonymization")
	}

	count := 0
	for _, record := range due {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := e.anonymizeOne(ctx, record, now.UTC()); err != nil {
			e.logger.ErrorContext(ctx, "anonymization failed",
				"record_id", record.ID.String(), "error", err)
			continue
		}
		count++
		if e.metrics != nil {
			e.metrics.RecordsAnonymized.Inc()
		}
	}
	return count, nil
}

func (e *Engine) anonymizeOne(ctx context.Context, record *models.Record, now time.Time) error {
	err := e.runner.RunInTx(ctx, func(ctx context.Context) error {
		// Re-read inside the transaction; the record may have been restored
		// since the sweep listed it.
		current, err := e.load(ctx, record.ID)
		if err != nil {
			return err
		}
		if !current.AnonymizeDueBy(now, e.grace) {
			return sentinel.ErrInvalidState
		}
		anonymize(current, now)
		return e.store.Update(ctx, current)
	})
	if errors.Is(err, sentinel.ErrInvalidState) {
		return nil // restored or already anonymized meanwhile, skip quietly
	}
	if err != nil {
		return err
	}

	e.publish(ctx, notify.TopicAnonymized, map[string]any{
		"record_id":     record.ID.String(),
		"anonymized_at": now,
	})
	return nil
}

// anonymize replaces identifying fields with one-way placeholders. The
// correlation hash, gender and specialty (statistics stay meaningful), and
// audit timestamps survive.
func anonymize(record *models.Record, now time.Time) {
	record.FirstName = Placeholder(record.FirstName)
	record.LastName = Placeholder(record.LastName)
	record.Email = Placeholder(record.Email)
	record.Phone = Placeholder(record.Phone)
	record.DateOfBirth = Placeholder(record.DateOfBirth)
	record.SecondaryID = Placeholder(record.SecondaryID)
	record.InvestigationNotes = ""
	record.AnonymizedAt = &now
	record.UpdatedAt = now
}

// MarkInvestigation places a hold that blocks deletion. Unconditional.
func (e *Engine) MarkInvestigation(ctx context.Context, recordID id.RecordID, notes string) error {
	return e.runner.RunInTx(ctx, func(ctx context.Context) error {
		record, err := e.load(ctx, recordID)
		if err != nil {
			return err
		}
		record.UnderInvestigation = true
		record.InvestigationNotes = notes
		record.UpdatedAt = e.now().UTC()
		return e.store.Update(ctx, record)
	})
}

// ClearInvestigation lifts the hold. Unconditional.
func (e *Engine) ClearInvestigation(ctx context.Context, recordID id.RecordID) error {
	return e.runner.RunInTx(ctx, func(ctx context.Context) error {
		record, err := e.load(ctx, recordID)
		if err != nil {
			return err
		}
		record.UnderInvestigation = false
		record.InvestigationNotes = ""
		record.UpdatedAt = e.now().UTC()
		return e.store.Update(ctx, record)
	})
}

// CorrelationLookup searches anonymized records for the hash of the given
// identifiers. A match signals a previously anonymized identity resurfacing;
// it is reported for audit and analytics, never used to reactivate the stale
// record.
func (e *Engine) CorrelationLookup(ctx context.Context, email, secondaryID string) ([]*models.Record, error) {
	hash := e.hasher.Correlation(email, secondaryID)
	matches, err := e.store.FindByCorrelationHash(ctx, hash)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "correlation lookup")
	}

	for _, stale := range matches {
		e.logger.InfoContext(ctx, "returning user detected", "stale_record_id", stale.ID.String())
		e.publish(ctx, notify.TopicReturningUser, map[string]any{
			"stale_record_id": stale.ID.String(),
			"kind":            stale.Kind,
		})
	}
	return matches, nil
}

func (e *Engine) load(ctx context.Context, recordID id.RecordID) (*models.Record, error) {
	record, err := e.store.Get(ctx, recordID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "identity record not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load identity record")
	}
	return record, nil
}

// publish is fire-and-forget for the engine: lifecycle state has already
// committed, so a lost notification is logged, not rolled back.
func (e *Engine) publish(ctx context.Context, topic string, payload any) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx, topic, payload); err != nil {
		if e.metrics != nil {
			e.metrics.NotifyFailures.Inc()
		}
		e.logger.ErrorContext(ctx, "notification publish failed", "topic", topic, "error", err)
	}
}
