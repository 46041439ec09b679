// Package dispatch consumes the event stream and routes messages to the
// registered handlers, with retry, reclaim, and dead-lettering.
package dispatch

import (
	"fmt"

	"sante/internal/event"
)

// Policy decides whether an event should reach a handler at all, before any
// store access. Deletion events always pass: GDPR propagation must not depend
// on which client the request came through.
type Policy struct {
	allowedClients map[string]bool
}

func NewPolicy(allowedClients []string) *Policy {
	allowed := make(map[string]bool, len(allowedClients))
	for _, c := range allowedClients {
		allowed[c] = true
	}
	return &Policy{allowedClients: allowed}
}

// Decision is the routing verdict for one event.
type Decision struct {
	Process bool
	Reason  string
}

// Decide applies the routing rules in order: admin-console events are never
// mirrored back; deletions always process; unknown clients are ignored; an
// absent client id (legacy callers) is allowed.
func (p *Policy) Decide(e event.Inbound) Decision {
	if e.IsAdmin() {
		return Decision{Process: false, Reason: "admin-originated event type " + e.Type}
	}
	if e.IsDeletion() {
		return Decision{Process: true}
	}
	if e.ClientID != "" && !p.allowedClients[e.ClientID] {
		return Decision{Process: false, Reason: fmt.Sprintf("ignored: client %q not in allow-list", e.ClientID)}
	}
	return Decision{Process: true}
}
