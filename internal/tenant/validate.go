package tenant

import (
	"context"
	"net/url"
	"strings"
)

// Validator checks that a request's tenant exists, is active, and that
// the request origin is allowed to embed that tenant's widget.
type Validator struct {
	Registry Registry
}

// Validate returns nil when tenantID may be served for the given Origin
// header value. An empty origin (server-to-server calls, curl) skips the
// domain check but still requires an active tenant.
func (v *Validator) Validate(ctx context.Context, tenantID, origin string) error {
	t, err := v.Registry.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if !t.Active {
		return ErrInactive
	}
	if origin == "" || len(t.AllowedDomains) == 0 {
		return nil
	}

	host := originHost(origin)
	for _, d := range t.AllowedDomains {
		if d == "*" || strings.EqualFold(d, host) {
			return nil
		}
	}
	return ErrDomainNotAllowed
}

// originHost extracts the hostname from an Origin header value. Falls
// back to the raw value when it does not parse as a URL.
func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return strings.ToLower(origin)
	}
	return strings.ToLower(u.Hostname())
}
