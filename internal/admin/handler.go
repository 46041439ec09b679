package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sante/internal/gdpr"
	"sante/internal/identity/models"
	"sante/internal/identity/store"
	"sante/internal/platform/middleware"
	"sante/internal/stream"
	id "sante/pkg/domain"
	dErrors "sante/pkg/domain-errors"
	"sante/pkg/platform/httputil"
	"sante/pkg/platform/sentinel"
)

const defaultDeadLetterLimit = 100

// Handler exposes lifecycle operations to operators, bypassing the event
// stream. Every route requires a valid admin bearer token.
type Handler struct {
	engine    *gdpr.Engine
	store     store.Store
	dead      stream.DeadLetterStore
	validator middleware.TokenValidator
	logger    *slog.Logger
	now       func() time.Time
}

func New(engine *gdpr.Engine, s store.Store, dead stream.DeadLetterStore, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		engine:    engine,
		store:     s,
		dead:      dead,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// Register mounts the admin routes.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(middleware.RequireAuth(h.validator, h.logger))

	router.Route("/records/{recordID}", func(r chi.Router) {
		r.Get("/", h.handleGetRecord)
		r.Delete("/", h.handleDelete)
		r.Post("/restore", h.handleRestore)
		r.Post("/investigation", h.handleMarkInvestigation)
		r.Delete("/investigation", h.handleClearInvestigation)
	})
	router.Post("/anonymize-sweep", h.handleAnonymizeSweep)
	router.Get("/dead-letters", h.handleDeadLetters)

	r.Mount("/admin", router)
}

func (h *Handler) recordID(w http.ResponseWriter, r *http.Request) (id.RecordID, bool) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.RecordID{}, false
	}
	return recordID, true
}

type recordResponse struct {
	ID                 id.RecordID           `json:"id"`
	UserID             id.UserID             `json:"user_id"`
	RealmID            string                `json:"realm_id"`
	Kind               models.Kind           `json:"kind"`
	IsActive           bool                  `json:"is_active"`
	SoftDeletedAt      *time.Time            `json:"soft_deleted_at,omitempty"`
	AnonymizedAt       *time.Time            `json:"anonymized_at,omitempty"`
	DeletionReason     models.DeletionReason `json:"deletion_reason,omitempty"`
	UnderInvestigation bool                  `json:"under_investigation"`
	InvestigationNotes string                `json:"investigation_notes,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

func toRecordResponse(rec *models.Record) recordResponse {
	return recordResponse{
		ID:                 rec.ID,
		UserID:             rec.UserID,
		RealmID:            rec.RealmID,
		Kind:               rec.Kind,
		IsActive:           rec.IsActive,
		SoftDeletedAt:      rec.SoftDeletedAt,
		AnonymizedAt:       rec.AnonymizedAt,
		DeletionReason:     rec.DeletionReason,
		UnderInvestigation: rec.UnderInvestigation,
		InvestigationNotes: rec.InvestigationNotes,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.store.Get(r.Context(), recordID)
	if errors.Is(err, sentinel.ErrNotFound) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "identity record not found"))
		return
	}
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "load identity record"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

type deleteRequest struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// handleDelete routes to the soft or hard deletion path. A record under
// investigation answers 423 so the operator knows the hold must be lifted
// first.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}

	var req deleteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
			return
		}
	}
	if req.Strategy == "" {
		req.Strategy = r.URL.Query().Get("strategy")
	}

	reason := models.ReasonAdminAction
	if req.Reason != "" {
		reason = models.DeletionReason(req.Reason)
	}

	actor := middleware.GetActorID(ctx)
	err := h.engine.Execute(ctx, gdpr.DeletionRequest{
		RecordID: recordID,
		Reason:   reason,
		Actor:    actor,
		Strategy: gdpr.Strategy(req.Strategy),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "admin deletion executed",
		"request_id", middleware.GetRequestID(ctx),
		"record_id", recordID.String(), "strategy", req.Strategy, "actor", actor)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Restore(ctx, recordID, middleware.GetActorID(ctx)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

type investigationRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) handleMarkInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	var req investigationRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
			return
		}
	}
	if err := h.engine.MarkInvestigation(ctx, recordID, req.Notes); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "investigation hold placed",
		"record_id", recordID.String(), "actor", middleware.GetActorID(ctx))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "investigation_marked"})
}

func (h *Handler) handleClearInvestigation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	if err := h.engine.ClearInvestigation(ctx, recordID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "investigation hold cleared",
		"record_id", recordID.String(), "actor", middleware.GetActorID(ctx))
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "investigation_cleared"})
}

// handleAnonymizeSweep triggers the anonymization pass on demand, in addition
// to the scheduled ticker. Safe to call repeatedly.
func (h *Handler) handleAnonymizeSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := h.engine.AnonymizeExpired(ctx, h.now().UTC())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "anonymization sweep completed",
		"request_id", middleware.GetRequestID(ctx),
		"anonymized", count, "actor", middleware.GetActorID(ctx))
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"anonymized": count})
}

type deadLetterResponse struct {
	MessageID string            `json:"message_id"`
	Values    map[string]string `json:"values"`
	Attempts  int64             `json:"attempts"`
	Reason    string            `json:"reason"`
	FailedAt  time.Time         `json:"failed_at"`
}

func (h *Handler) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.dead == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "dead-letter archive not configured"))
		return
	}
	letters, err := h.dead.List(r.Context(), defaultDeadLetterLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]deadLetterResponse, 0, len(letters))
	for _, dl := range letters {
		out = append(out, deadLetterResponse{
			MessageID: dl.MessageID,
			Values:    dl.Values,
			Attempts:  dl.Attempts,
			Reason:    dl.Reason,
			FailedAt:  dl.FailedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"dead_letters": out})
}
