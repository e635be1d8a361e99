// internal/models/layer3domain.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// Layer3Domain is an isolated IP address space. Two domains may carry the
// same whitelisted private range; inside one domain subnets never overlap.
type Layer3Domain struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	Comment   string    `db:"comment"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Validate checks a layer3domain before it is stored
func (d *Layer3Domain) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("layer3domain name cannot be empty")
	}
	if len(d.Name) > 128 {
		return fmt.Errorf("layer3domain name too long: %d characters", len(d.Name))
	}
	for _, r := range d.Name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_') {
			return fmt.Errorf("layer3domain name %q contains invalid character %q", d.Name, r)
		}
	}
	return nil
}

// Normalize ensures the domain name has consistent formatting
func (d *Layer3Domain) Normalize() {
	d.Name = strings.ToLower(strings.TrimSpace(d.Name))
}
