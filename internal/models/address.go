// internal/models/address.go
package models

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// AddressStatus is the lease-like state of a host address
type AddressStatus string

const (
	StatusFree     AddressStatus = "free"
	StatusReserved AddressStatus = "reserved"
	StatusAssigned AddressStatus = "assigned"
)

// IsValid returns true if the status is one of the known states
func (st AddressStatus) IsValid() bool {
	switch st {
	case StatusFree, StatusReserved, StatusAssigned:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status
func (st AddressStatus) String() string {
	return string(st)
}

// Address is a single host allocation inside a subnet. An address belongs
// to at most one subnet's allocation table at a time; releasing clears the
// name and metadata so re-allocation starts fresh.
type Address struct {
	ID             int           `db:"id"`
	SubnetID       int           `db:"subnet_id"`
	Layer3DomainID int           `db:"layer3domain_id"`
	IP             string        `db:"ip"`
	Status         AddressStatus `db:"status"`
	FQDN           string        `db:"fqdn"`
	Department     string        `db:"department"`
	Attributes     Attrs         `db:"attributes"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

// Addr returns the parsed IP address.
func (a *Address) Addr() (netip.Addr, error) {
	addr, err := netip.ParseAddr(a.IP)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q: %w", a.IP, err)
	}
	return addr.Unmap(), nil
}

// Validate checks the address before it is stored
func (a *Address) Validate() error {
	if a.SubnetID == 0 {
		return fmt.Errorf("address must belong to a subnet")
	}
	if _, err := a.Addr(); err != nil {
		return err
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid address status: %s", a.Status)
	}
	if a.FQDN != "" && !isValidFQDN(a.FQDN) {
		return fmt.Errorf("invalid FQDN: %s", a.FQDN)
	}
	return nil
}

// Normalize ensures consistent formatting for storage and comparison
func (a *Address) Normalize() {
	if addr, err := a.Addr(); err == nil {
		a.IP = addr.String()
	}
	a.FQDN = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(a.FQDN), "."))
}

// Clear wipes name and metadata. Used on release so a later allocation
// sees no residue from the previous claim.
func (a *Address) Clear() {
	a.Status = StatusFree
	a.FQDN = ""
	a.Department = ""
	a.Attributes = nil
}

// isValidFQDN performs basic host name validation
func isValidFQDN(name string) bool {
	name = strings.TrimSuffix(name, ".")
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
				(r >= '0' && r <= '9') || r == '-' || r == '_') {
				return false
			}
		}
	}
	return true
}
