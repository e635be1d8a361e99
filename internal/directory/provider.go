// internal/directory/provider.go
package directory

import (
	"context"
	"fmt"
	"time"

	"ipzone.io/internal/config"
)

// Account is an authenticated principal. The allocator consumes only
// the department tag; identity never drives allocation logic.
type Account struct {
	Username   string
	Department string

	// Permanent marks sessions that outlive the temporary lifetime
	Permanent bool
	ExpiresAt time.Time
}

// Department is one organizational unit resolved from the directory
type Department struct {
	Number string
	Name   string
}

// Provider resolves identities and department tags. Variants: "none"
// for anonymous single-operator deployments, "ldap" against a real
// directory.
type Provider interface {
	// Authenticate verifies credentials and returns the account with
	// its session lifetime applied
	Authenticate(ctx context.Context, username, password string) (*Account, error)

	// LookupDepartment resolves a department by its number
	LookupDepartment(ctx context.Context, number string) (*Department, error)

	// Close releases directory connections
	Close() error
}

// NewProvider constructs the provider the config names
func NewProvider(cfg *config.AuthConfig) (Provider, error) {
	switch cfg.Mode {
	case "", "none":
		return NewNoneProvider(cfg), nil
	case "ldap":
		return NewLDAPProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// sessionExpiry applies the configured lifetime for the session kind
func sessionExpiry(cfg *config.AuthConfig, permanent bool) time.Time {
	lifetime := cfg.TemporarySessionLifetime
	if permanent {
		lifetime = cfg.PermanentSessionLifetime
	}
	if lifetime <= 0 {
		return time.Time{}
	}
	return time.Now().Add(lifetime)
}
