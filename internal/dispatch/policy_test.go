package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sante/internal/event"
)

func TestPolicyDecide(t *testing.T) {
	policy := NewPolicy([]string{"mobile-app", "patient-portal"})

	tests := []struct {
		name    string
		event   event.Inbound
		process bool
		reason  string
	}{
		{
			name:    "admin-prefixed event is always ignored",
			event:   event.Inbound{Type: "ADMIN_UPDATE_PROFILE", ClientID: "mobile-app"},
			process: false,
			reason:  "admin-originated",
		},
		{
			name:    "admin prefix wins even for deletions",
			event:   event.Inbound{Type: "ADMIN_DELETE_ACCOUNT", ClientID: "mobile-app"},
			process: false,
		},
		{
			name:    "deletion processes regardless of client",
			event:   event.Inbound{Type: event.TypeDeleteAccount, ClientID: "internal-admin-console"},
			process: true,
		},
		{
			name:    "deletion with empty client processes",
			event:   event.Inbound{Type: event.TypeDeleteAccount},
			process: true,
		},
		{
			name:    "allow-listed client processes",
			event:   event.Inbound{Type: event.TypeLogin, ClientID: "mobile-app"},
			process: true,
		},
		{
			name:    "unknown client is ignored with the client named",
			event:   event.Inbound{Type: event.TypeLogin, ClientID: "internal-admin-console"},
			process: false,
			reason:  "internal-admin-console",
		},
		{
			name:    "empty client id is allowed",
			event:   event.Inbound{Type: event.TypeUpdateProfile},
			process: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := policy.Decide(tt.event)
			assert.Equal(t, tt.process, decision.Process)
			if tt.reason != "" {
				assert.Contains(t, decision.Reason, tt.reason)
			}
		})
	}
}

func TestPolicyEmptyAllowList(t *testing.T) {
	policy := NewPolicy(nil)

	// With no allow-list, any named client is unknown.
	decision := policy.Decide(event.Inbound{Type: event.TypeLogin, ClientID: "anything"})
	assert.False(t, decision.Process)

	decision = policy.Decide(event.Inbound{Type: event.TypeLogin})
	assert.True(t, decision.Process)
}
