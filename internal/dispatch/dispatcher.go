package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"sante/internal/event"
	"sante/internal/platform/config"
	"sante/internal/platform/metrics"
	"sante/internal/stream"
	"sante/internal/sync"
)

const tracerName = "sante/dispatch"

// Dispatcher is the single consumer loop of a process. It reads batches from
// the consumer group, routes each message through the policy and registry,
// and settles it: acknowledge on success, ignore, or non-retryable failure;
// leave pending for reclaim on transient failure; dead-letter once the
// delivery budget is spent.
type Dispatcher struct {
	broker   stream.Broker
	dead     stream.DeadLetterSink
	policy   *Policy
	registry *sync.Registry
	cfg      config.Dispatcher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	// backoff after a loop-level broker error, overridable in tests
	errBackoff time.Duration
}

func New(
	broker stream.Broker,
	dead stream.DeadLetterSink,
	policy *Policy,
	registry *sync.Registry,
	cfg config.Dispatcher,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		broker:     broker,
		dead:       dead,
		policy:     policy,
		registry:   registry,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
		errBackoff: time.Second,
	}
}

// Run is the main poll loop. It blocks until ctx is cancelled; messages
// already read when shutdown starts are still settled before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.broker.EnsureGroup(ctx, d.cfg.Stream, d.cfg.Group); err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "dispatcher started",
		"stream", d.cfg.Stream, "group", d.cfg.Group, "consumer", d.cfg.Consumer)

	for {
		if ctx.Err() != nil {
			d.logger.InfoContext(ctx, "dispatcher stopped")
			return nil
		}

		msgs, err := d.broker.ReadGroup(ctx, d.cfg.Stream, d.cfg.Group, d.cfg.Consumer, d.cfg.BatchSize, d.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.ErrorContext(ctx, "stream read failed", "error", err)
			d.sleep(ctx, d.errBackoff)
			continue
		}
		d.processBatch(ctx, msgs)
	}
}

// RunReclaim periodically adopts pending messages whose consumer stalled or
// died, re-running them through the same settlement path with their
// accumulated delivery count.
func (d *Dispatcher) RunReclaim(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		msgs, err := d.broker.Claim(ctx, d.cfg.Stream, d.cfg.Group, d.cfg.Consumer, d.cfg.ClaimIdleTime, d.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.ErrorContext(ctx, "reclaim failed", "error", err)
			continue
		}
		if len(msgs) > 0 && d.metrics != nil {
			d.metrics.MessagesClaimed.Add(float64(len(msgs)))
		}
		d.processBatch(ctx, msgs)
	}
}

// processBatch settles messages sequentially. Handler invocations never
// overlap within one process, so a single unit of work per message suffices.
// Shutdown must not abandon a message mid-handler, so processing runs on a
// context detached from the loop's cancellation.
func (d *Dispatcher) processBatch(ctx context.Context, msgs []stream.Message) {
	work := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		d.process(work, msg)
	}
}

func (d *Dispatcher) process(ctx context.Context, msg stream.Message) {
	carrier := propagation.MapCarrier(msg.Values)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	ctx, span := d.tracer.Start(ctx, "dispatch.process")
	defer span.End()

	log := d.logger.With("message_id", msg.ID, "attempts", msg.Attempts)

	// Budget check first: a poisoned message must reach the dead-letter
	// stream without invoking any handler, exactly once.
	if msg.Attempts > d.cfg.MaxDeliveryAttempts {
		d.deadLetter(ctx, msg, "delivery attempts exhausted")
		return
	}

	e, err := event.FromFields(msg.Values)
	if err != nil {
		log.ErrorContext(ctx, "malformed stream message", "error", err)
		d.deadLetter(ctx, msg, "malformed payload: "+err.Error())
		return
	}
	log = log.With("event_type", e.Type, "user_id", e.UserID)

	if decision := d.policy.Decide(e); !decision.Process {
		log.InfoContext(ctx, "event ignored", "reason", decision.Reason)
		d.ack(ctx, msg)
		d.count(e.Type, metrics.OutcomeIgnored)
		return
	}

	handler, ok := d.registry.Lookup(e.Type)
	if !ok {
		log.WarnContext(ctx, "no handler registered for event type")
		d.ack(ctx, msg)
		d.count(e.Type, metrics.OutcomeIgnored)
		return
	}

	started := time.Now()
	result, err := handler.Handle(ctx, e)
	if d.metrics != nil {
		d.metrics.HandlerDuration.WithLabelValues(e.Type).Observe(time.Since(started).Seconds())
	}

	switch {
	case err != nil:
		// Transient: leave the message pending; reclaim redelivers it with
		// an incremented attempt count.
		log.WarnContext(ctx, "handler failed, leaving message for retry", "error", err)
		d.count(e.Type, metrics.OutcomeFailed)
	case !result.Success:
		// Non-retryable business failure: acknowledged, observable through
		// metrics and logs only.
		log.WarnContext(ctx, "event rejected", "message", result.Message)
		d.ack(ctx, msg)
		d.count(e.Type, metrics.OutcomeRejected)
	default:
		log.InfoContext(ctx, "event processed", "message", result.Message, "record_id", result.RecordID)
		d.ack(ctx, msg)
		d.count(e.Type, metrics.OutcomeSuccess)
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, msg stream.Message, reason string) {
	dl := stream.DeadLetter{
		MessageID: msg.ID,
		Values:    msg.Values,
		Attempts:  msg.Attempts,
		Reason:    reason,
		FailedAt:  time.Now().UTC(),
	}
	if err := d.dead.Dead(ctx, dl); err != nil {
		// Keep the message pending rather than lose it; the next reclaim
		// will retry the dead-letter move.
		d.logger.ErrorContext(ctx, "dead-letter write failed", "message_id", msg.ID, "error", err)
		return
	}
	d.ack(ctx, msg)
	if d.metrics != nil {
		d.metrics.MessagesDead.Inc()
	}
	d.logger.ErrorContext(ctx, "message dead-lettered", "message_id", msg.ID, "reason", reason)
}

func (d *Dispatcher) ack(ctx context.Context, msg stream.Message) {
	if err := d.broker.Ack(ctx, d.cfg.Stream, d.cfg.Group, msg.ID); err != nil {
		// At-least-once: a lost ack means a redelivery, and every handler
		// is idempotent.
		d.logger.ErrorContext(ctx, "ack failed", "message_id", msg.ID, "error", err)
	}
}

func (d *Dispatcher) count(eventType, outcome string) {
	if d.metrics != nil {
		d.metrics.MessagesHandled.WithLabelValues(eventType, outcome).Inc()
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
