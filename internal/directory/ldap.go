// internal/directory/ldap.go
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"ipzone.io/internal/config"
	"ipzone.io/internal/iperrors"
)

// LDAPProvider authenticates against a directory server. Each
// operation dials a fresh connection; LDAP binds are cheap and a held
// connection would go stale between logins anyway.
type LDAPProvider struct {
	cfg *config.AuthConfig
}

// NewLDAPProvider creates a directory-backed provider
func NewLDAPProvider(cfg *config.AuthConfig) *LDAPProvider {
	return &LDAPProvider{cfg: cfg}
}

// Authenticate binds as the user and reads the department attribute
// from the user's own entry
func (p *LDAPProvider) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("empty credentials: %w", iperrors.ErrInvalidInput)
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	userDN := fmt.Sprintf(p.cfg.LDAP.UserDNFormat, ldap.EscapeDN(username))
	if err := conn.Bind(userDN, password); err != nil {
		return nil, fmt.Errorf("bind failed for %s: %w", username, err)
	}

	account := &Account{
		Username:  username,
		Permanent: false,
	}
	account.ExpiresAt = sessionExpiry(p.cfg, account.Permanent)

	// Department is optional; a user without the attribute still
	// authenticates.
	attr := p.cfg.LDAP.DepartmentAttr
	if attr != "" {
		request := ldap.NewSearchRequest(
			userDN,
			ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, p.searchTimeout(), false,
			"(objectClass=*)",
			[]string{attr},
			nil,
		)
		result, err := conn.Search(request)
		if err == nil && len(result.Entries) > 0 {
			account.Department = result.Entries[0].GetAttributeValue(attr)
		}
	}

	return account, nil
}

// LookupDepartment searches the department subtree for the entry
// carrying the given number
func (p *LDAPProvider) LookupDepartment(ctx context.Context, number string) (*Department, error) {
	if p.cfg.LDAP.DepartmentBase == "" {
		return nil, fmt.Errorf("no department base configured: %w", iperrors.ErrInvalidInput)
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	attr := p.cfg.LDAP.DepartmentAttr
	if attr == "" {
		attr = "departmentNumber"
	}

	request := ldap.NewSearchRequest(
		p.cfg.LDAP.DepartmentBase,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, p.searchTimeout(), false,
		fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(number)),
		[]string{attr, "ou", "cn"},
		nil,
	)

	result, err := conn.Search(request)
	if err != nil {
		return nil, fmt.Errorf("department search failed for %s: %w", number, err)
	}
	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("department %s: %w", number, iperrors.ErrNotFound)
	}

	entry := result.Entries[0]
	name := entry.GetAttributeValue("ou")
	if name == "" {
		name = entry.GetAttributeValue("cn")
	}

	return &Department{Number: number, Name: name}, nil
}

// Close is a no-op; connections are per-operation
func (p *LDAPProvider) Close() error {
	return nil
}

func (p *LDAPProvider) dial(ctx context.Context) (*ldap.Conn, error) {
	url := p.cfg.LDAP.URL
	if !strings.Contains(url, "://") {
		url = "ldap://" + url
	}

	conn, err := ldap.DialURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to reach directory %s: %w", p.cfg.LDAP.URL, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	} else if p.cfg.LDAP.SearchTimeout > 0 {
		conn.SetTimeout(time.Duration(p.cfg.LDAP.SearchTimeout) * time.Second)
	}

	return conn, nil
}

func (p *LDAPProvider) searchTimeout() int {
	if p.cfg.LDAP.SearchTimeout > 0 {
		return p.cfg.LDAP.SearchTimeout
	}
	return 10
}
