// internal/models/subnet.go
package models

import (
	"fmt"
	"net/netip"
	"time"
)

// Subnet is a contiguous address range inside a layer3domain, optionally
// nested under a parent subnet. Parent/child relations are stored as id
// references, never as nested ownership, so sibling-scoped overlap checks
// stay cheap.
type Subnet struct {
	ID             int       `db:"id"`
	Layer3DomainID int       `db:"layer3domain_id"`
	CIDR           string    `db:"cidr"`
	ParentID       *int      `db:"parent_id"`
	VLAN           int       `db:"vlan"`
	Department     string    `db:"department"`
	Attributes     Attrs     `db:"attributes"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`

	// prefix caches the parsed CIDR between calls
	prefix netip.Prefix
}

// Attrs is free-form metadata attached to subnets and addresses,
// persisted as JSON.
type Attrs map[string]string

// Prefix returns the parsed, canonical network prefix for the subnet.
func (s *Subnet) Prefix() (netip.Prefix, error) {
	if s.prefix.IsValid() {
		return s.prefix, nil
	}
	prefix, err := ParsePrefix(s.CIDR)
	if err != nil {
		return netip.Prefix{}, err
	}
	s.prefix = prefix
	return prefix, nil
}

// Range returns the address interval the subnet covers.
func (s *Subnet) Range() (IPRange, error) {
	prefix, err := s.Prefix()
	if err != nil {
		return IPRange{}, err
	}
	return RangeOf(prefix), nil
}

// Contains reports whether this subnet's range fully contains other's.
func (s *Subnet) Contains(other *Subnet) (bool, error) {
	sr, err := s.Range()
	if err != nil {
		return false, err
	}
	or, err := other.Range()
	if err != nil {
		return false, err
	}
	return sr.Contains(or), nil
}

// Overlaps reports whether the two subnets share any address.
func (s *Subnet) Overlaps(other *Subnet) (bool, error) {
	sr, err := s.Range()
	if err != nil {
		return false, err
	}
	or, err := other.Range()
	if err != nil {
		return false, err
	}
	return sr.Overlaps(or), nil
}

// Validate checks the subnet before it is stored
func (s *Subnet) Validate() error {
	if s.Layer3DomainID == 0 {
		return fmt.Errorf("subnet must belong to a layer3domain")
	}
	if _, err := s.Prefix(); err != nil {
		return err
	}
	if s.VLAN < 0 || s.VLAN > 4094 {
		return fmt.Errorf("invalid VLAN id: %d", s.VLAN)
	}
	return nil
}

// Normalize rewrites the CIDR into its canonical spelling.
func (s *Subnet) Normalize() error {
	prefix, err := s.Prefix()
	if err != nil {
		return err
	}
	s.CIDR = prefix.String()
	return nil
}
