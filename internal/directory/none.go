// internal/directory/none.go
package directory

import (
	"context"

	"ipzone.io/internal/config"
)

// NoneProvider is the static-allow identity provider for deployments
// without a directory. Every login yields an anonymous permanent
// account; department lookups resolve to the number itself.
type NoneProvider struct {
	cfg *config.AuthConfig
}

// NewNoneProvider creates the static-allow provider
func NewNoneProvider(cfg *config.AuthConfig) *NoneProvider {
	return &NoneProvider{cfg: cfg}
}

// Authenticate accepts any credentials and returns an anonymous
// permanent account
func (p *NoneProvider) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	if username == "" {
		username = "anonymous"
	}
	return &Account{
		Username:  username,
		Permanent: true,
		ExpiresAt: sessionExpiry(p.cfg, true),
	}, nil
}

// LookupDepartment echoes the requested number as a department
func (p *NoneProvider) LookupDepartment(ctx context.Context, number string) (*Department, error) {
	return &Department{Number: number, Name: number}, nil
}

// Close is a no-op for the static provider
func (p *NoneProvider) Close() error {
	return nil
}
