package tenant

import (
	"context"
	"errors"
	"time"
)

// Validation errors surfaced to the API layer. The HTTP handlers map
// these to status codes, so they are sentinels rather than wrapped text.
var (
	ErrUnknownTenant    = errors.New("unknown tenant")
	ErrInactive         = errors.New("tenant is inactive")
	ErrDomainNotAllowed = errors.New("origin domain not allowed for tenant")
)

// Tenant is one customer organization whose widget may talk to the bot.
// AllowedDomains lists the hostnames the chat widget may be embedded on;
// an empty list or a "*" entry allows any origin.
type Tenant struct {
	ID             string    `json:"tenant_id"`
	Name           string    `json:"name"`
	Active         bool      `json:"active"`
	AllowedDomains []string  `json:"allowed_domains"`
	CreatedAt      time.Time `json:"created_at"`
}

// Registry is the persistence interface for tenants.
type Registry interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}
