// Package sync contains the per-event-type handlers that mirror identity
// provider events into the local identity store.
//
// Handler outcome semantics: a returned error marks a transient failure the
// dispatcher retries through the broker; a Result with Success=false is a
// non-retryable business failure that is acknowledged and only observable
// through metrics and logs.
package sync

import (
	"context"

	"sante/internal/event"
)

// Result is the outcome of one handler invocation.
type Result struct {
	Success   bool
	EventType string
	UserID    string
	RecordID  string
	Message   string
}

func success(e event.Inbound, recordID, message string) Result {
	return Result{Success: true, EventType: e.Type, UserID: e.UserID, RecordID: recordID, Message: message}
}

func failure(e event.Inbound, message string) Result {
	return Result{Success: false, EventType: e.Type, UserID: e.UserID, Message: message}
}

// Handler processes one inbound identity event.
type Handler interface {
	Handle(ctx context.Context, e event.Inbound) (Result, error)
}

// Registry is the immutable event-type → handler dispatch table, built once
// at startup.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers map[string]Handler) *Registry {
	copied := make(map[string]Handler, len(handlers))
	for eventType, h := range handlers {
		copied[eventType] = h
	}
	return &Registry{handlers: copied}
}

// Lookup returns the handler registered for an event type.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

// Types lists the registered event types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	return types
}
