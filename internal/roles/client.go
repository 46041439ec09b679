// Package roles resolves a subject's roles from the identity provider's admin
// API. The deletion handler uses them to decide which record kinds a deletion
// event applies to.
package roles

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"sante/internal/identity/models"
	"sante/internal/platform/config"
	"sante/internal/platform/metrics"
	id "sante/pkg/domain"
	dErrors "sante/pkg/domain-errors"
	"sante/pkg/platform/circuit"
	"sante/pkg/platform/retry"
)

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Lookup

// Role is a provider-side role name.
type Role string

const (
	RolePatient      Role = "patient"
	RoleProfessional Role = "professional"
)

// RecordKind maps a provider role onto the record population it governs.
// Unknown roles map to no kind.
func (r Role) RecordKind() (models.Kind, bool) {
	switch r {
	case RolePatient:
		return models.KindPatient, true
	case RoleProfessional:
		return models.KindProfessional, true
	default:
		return "", false
	}
}

// Lookup resolves the provider roles of a subject. Failures surface as typed
// errors, never as an empty role list.
type Lookup interface {
	GetRoles(ctx context.Context, userID id.UserID) ([]Role, error)
}

// Client calls the provider admin API over HTTP, guarded by a circuit breaker
// and bounded retries.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg config.Provider, logger *slog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.ServiceToken,
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.New("provider-roles",
			circuit.WithFailureThreshold(5),
			circuit.WithRecoveryTimeout(30*time.Second),
		),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type roleResponse struct {
	Name string `json:"name"`
}

func (c *Client) GetRoles(ctx context.Context, userID id.UserID) ([]Role, error) {
	var roles []Role
	err := retry.Do(ctx, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			roles, err = c.fetch(ctx, userID)
			return err
		})
	},
		retry.WithMaxAttempts(3),
		retry.WithMinWait(200*time.Millisecond),
		retry.WithRetryable(func(err error) bool {
			return dErrors.HasCode(err, dErrors.CodeUnavailable)
		}),
	)
	c.observeBreaker()
	if err != nil {
		return nil, err
	}
	return roles, nil
}

func (c *Client) observeBreaker() {
	if c.metrics == nil {
		return
	}
	open := 0.0
	if c.breaker.IsOpen() {
		open = 1
	}
	c.metrics.BreakerOpen.WithLabelValues(c.breaker.Name()).Set(open)
}

func (c *Client) fetch(ctx context.Context, userID id.UserID) ([]Role, error) {
	endpoint, err := url.JoinPath(c.baseURL, "users", userID.String(), "roles")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build role lookup URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build role lookup request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "role lookup request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, dErrors.Newf(dErrors.CodeNotFound, "provider has no user %s", userID)
	case resp.StatusCode >= 500:
		return nil, dErrors.Newf(dErrors.CodeUnavailable, "provider returned %d", resp.StatusCode)
	default:
		return nil, dErrors.Newf(dErrors.CodeInternal, "provider returned %d", resp.StatusCode)
	}

	var body []roleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "decode role lookup response")
	}

	roles := make([]Role, 0, len(body))
	for _, r := range body {
		roles = append(roles, Role(r.Name))
	}
	return roles, nil
}
