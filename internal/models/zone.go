// internal/models/zone.go
//
// Zone naming rules:
// - Names are stored lowercase without the trailing dot.
// - A zone may not sit on a bare public suffix ("com", "co.uk"): we refuse
//   to claim authority over namespace the Public Suffix List says belongs
//   to a registry.
// - Reverse zones use in-addr.arpa / ip6.arpa names derived from subnet
//   prefixes at octet (IPv4) or nibble (IPv6) boundaries.
package models

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/publicsuffix"
)

// Zone is a DNS-authoritative naming scope with derived and explicit
// resource records. SOA timing values come from configured defaults
// unless overridden per zone.
type Zone struct {
	ID         int       `db:"id"`
	Name       string    `db:"name"`
	PrimaryNS  string    `db:"primary_ns"`
	Mbox       string    `db:"mbox"`
	Serial     uint32    `db:"serial"`
	Refresh    uint32    `db:"refresh"`
	Retry      uint32    `db:"retry"`
	Expire     uint32    `db:"expire"`
	Minimum    uint32    `db:"minimum"`
	DefaultTTL uint32    `db:"default_ttl"`
	Profile    string    `db:"profile"`
	RecordHash string    `db:"record_hash"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// NormalizeZoneName lowercases a zone name and strips the trailing dot.
func NormalizeZoneName(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

// IsReverse reports whether the zone carries PTR data.
func (z *Zone) IsReverse() bool {
	return strings.HasSuffix(z.Name, "in-addr.arpa") || strings.HasSuffix(z.Name, "ip6.arpa")
}

// Validate checks the zone before it is stored
func (z *Zone) Validate() error {
	name := NormalizeZoneName(z.Name)
	if name == "" {
		return fmt.Errorf("zone name cannot be empty")
	}
	if len(name) > 253 {
		return fmt.Errorf("zone name too long: %d characters", len(name))
	}
	if !z.IsReverse() {
		if !isValidFQDN(name) {
			return fmt.Errorf("invalid zone name: %s", name)
		}
		// Refuse authority over a bare public suffix
		if suffix, _ := publicsuffix.PublicSuffix(name); suffix == name {
			return fmt.Errorf("zone name %q is a public suffix", name)
		}
	}
	if z.Refresh == 0 || z.Retry == 0 || z.Expire == 0 {
		return fmt.Errorf("zone %s has zero SOA timing values", name)
	}
	if z.Retry >= z.Refresh {
		return fmt.Errorf("zone %s: SOA RETRY (%d) must be less than REFRESH (%d)", name, z.Retry, z.Refresh)
	}
	if z.Expire <= z.Refresh {
		return fmt.Errorf("zone %s: SOA EXPIRE (%d) must be greater than REFRESH (%d)", name, z.Expire, z.Refresh)
	}
	return nil
}

// Normalize ensures consistent formatting for storage and comparison
func (z *Zone) Normalize() {
	z.Name = NormalizeZoneName(z.Name)
	z.PrimaryNS = NormalizeZoneName(z.PrimaryNS)
	z.Mbox = NormalizeZoneName(z.Mbox)
}

// SOAContent renders the SOA RDATA in zone-file field order.
func (z *Zone) SOAContent() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d",
		dns.Fqdn(z.PrimaryNS), dns.Fqdn(z.Mbox),
		z.Serial, z.Refresh, z.Retry, z.Expire, z.Minimum)
}

// ContainsName reports whether an FQDN falls inside this zone's namespace.
func (z *Zone) ContainsName(fqdn string) bool {
	fqdn = NormalizeZoneName(fqdn)
	return fqdn == z.Name || strings.HasSuffix(fqdn, "."+z.Name)
}

// RelativeName converts an FQDN to its owner name relative to the zone
// apex, "@" for the apex itself.
func (z *Zone) RelativeName(fqdn string) string {
	fqdn = NormalizeZoneName(fqdn)
	if fqdn == z.Name {
		return "@"
	}
	return strings.TrimSuffix(fqdn, "."+z.Name)
}

// AbsoluteName converts a relative owner name back to an FQDN.
func (z *Zone) AbsoluteName(relative string) string {
	if relative == "@" || relative == "" {
		return z.Name
	}
	return relative + "." + z.Name
}

// ReverseZoneName derives the in-addr.arpa / ip6.arpa zone name covering a
// prefix. IPv4 prefixes are widened to the containing octet boundary,
// IPv6 prefixes to the containing nibble boundary, matching how reverse
// delegation actually works.
func ReverseZoneName(prefix netip.Prefix) (string, error) {
	addr := prefix.Masked().Addr()
	full, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", fmt.Errorf("cannot derive reverse name for %s: %w", prefix, err)
	}
	full = strings.TrimSuffix(full, ".")
	labels := strings.Split(full, ".")

	if addr.Is4() {
		// labels = [o4 o3 o2 o1 in-addr arpa]; keep one octet per 8 prefix bits
		keep := prefix.Bits() / 8
		return strings.Join(labels[4-keep:], "."), nil
	}
	// labels = 32 nibbles + [ip6 arpa]; keep one nibble per 4 prefix bits
	keep := prefix.Bits() / 4
	return strings.Join(labels[32-keep:], "."), nil
}

// ReverseName returns the full PTR owner name for a single address.
func ReverseName(addr netip.Addr) (string, error) {
	full, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", fmt.Errorf("cannot derive reverse name for %s: %w", addr, err)
	}
	return strings.TrimSuffix(full, "."), nil
}
