package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"sante/internal/event"
	"sante/internal/platform/config"
	"sante/internal/platform/metrics"
	"sante/internal/platform/middleware"
	"sante/internal/stream"
	dErrors "sante/pkg/domain-errors"
	"sante/pkg/platform/httputil"
)

const (
	headerSignature = "X-Signature"
	headerTimestamp = "X-Timestamp"
)

// Handler is the webhook ingress. It verifies the caller, validates the event
// envelope, appends to the stream, and answers 202 before any processing
// happens downstream.
type Handler struct {
	verifier *Verifier
	broker   stream.Broker
	cfg      config.Webhook
	stream   string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

func New(verifier *Verifier, broker stream.Broker, cfg config.Webhook, streamName string, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		verifier: verifier,
		broker:   broker,
		cfg:      cfg,
		stream:   streamName,
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("sante/webhook"),
		now:      time.Now,
	}
}

// Register mounts the webhook routes.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(10 * time.Second))
	router.Post("/webhooks/identity", h.handleEvent)

	r.Mount("/", router)
}

type acceptedResponse struct {
	Accepted  bool      `json:"accepted"`
	MessageID string    `json:"message_id"`
	EventType string    `json:"event_type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxBodyBytes+1))
	if err != nil {
		h.reject(w, "read_error", dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}
	if int64(len(body)) > h.cfg.MaxBodyBytes {
		h.reject(w, "oversized", dErrors.New(dErrors.CodeBadRequest, "request body too large"))
		return
	}

	signature := r.Header.Get(headerSignature)
	timestamp := r.Header.Get(headerTimestamp)
	if err := h.verifier.Verify(body, signature, timestamp); err != nil {
		switch {
		case errors.Is(err, ErrSignatureMissing):
			h.reject(w, "missing_headers", dErrors.New(dErrors.CodeBadRequest, "signature headers required"))
		case errors.Is(err, ErrTimestampInvalid):
			h.reject(w, "stale_timestamp", dErrors.New(dErrors.CodeUnauthorized, "timestamp outside tolerance"))
		default:
			h.logger.WarnContext(ctx, "webhook signature rejected", "request_id", requestID)
			h.reject(w, "bad_signature", dErrors.New(dErrors.CodeUnauthorized, "invalid signature"))
		}
		return
	}

	var e event.Inbound
	if err := json.Unmarshal(body, &e); err != nil {
		h.reject(w, "malformed", dErrors.New(dErrors.CodeBadRequest, "malformed event payload"))
		return
	}
	now := h.now().UTC()
	if err := e.Validate(now); err != nil {
		h.reject(w, "invalid_event", err)
		return
	}

	ctx, span := h.tracer.Start(ctx, "webhook.enqueue")
	defer span.End()

	// Propagate the trace into the stream message so the dispatcher's spans
	// join this one.
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	fields, err := e.Fields(now, carrier)
	if err != nil {
		h.logger.ErrorContext(ctx, "event serialization failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "event serialization failed"))
		return
	}

	messageID, err := h.broker.Append(ctx, h.stream, fields)
	if err != nil {
		h.logger.ErrorContext(ctx, "stream append failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "event intake unavailable"))
		return
	}

	if h.metrics != nil {
		h.metrics.EventsAccepted.Inc()
	}
	h.logger.InfoContext(ctx, "event accepted",
		"request_id", requestID, "message_id", messageID,
		"event_type", e.Type, "user_id", e.UserID)

	httputil.WriteJSON(w, http.StatusAccepted, acceptedResponse{
		Accepted:  true,
		MessageID: messageID,
		EventType: e.Type,
		UserID:    e.UserID,
		Timestamp: now,
	})
}

func (h *Handler) reject(w http.ResponseWriter, reason string, err error) {
	if h.metrics != nil {
		h.metrics.EventsRejected.WithLabelValues(reason).Inc()
	}
	httputil.WriteError(w, err)
}
