// internal/models/iprange.go
package models

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPRange is the closed interval [First, Last] covered by a prefix.
// Overlap and containment checks reduce to address comparisons, so they
// behave identically for IPv4 and IPv6.
type IPRange struct {
	First netip.Addr
	Last  netip.Addr
}

// ParsePrefix parses and normalizes a CIDR string to its canonical network
// prefix. "10.0.0.5/24" is rejected: the host bits must be zero so that two
// spellings of the same subnet cannot coexist.
func ParsePrefix(cidr string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if prefix.Addr() != prefix.Masked().Addr() {
		return netip.Prefix{}, fmt.Errorf("CIDR %q has non-zero host bits (expected %s)", cidr, prefix.Masked())
	}
	return prefix.Masked(), nil
}

// RangeOf returns the address interval covered by a prefix.
func RangeOf(prefix netip.Prefix) IPRange {
	return IPRange{
		First: prefix.Masked().Addr(),
		Last:  lastAddr(prefix),
	}
}

// lastAddr computes the highest address inside a prefix by setting all
// host bits.
func lastAddr(prefix netip.Prefix) netip.Addr {
	raw := prefix.Masked().Addr().As16()
	bits := prefix.Bits()
	if prefix.Addr().Is4() {
		bits += 96 // IPv4 sits in the low 32 bits of the 16-byte form
	}
	for i := bits; i < 128; i++ {
		raw[i/8] |= 1 << (7 - i%8)
	}
	addr := netip.AddrFrom16(raw)
	if prefix.Addr().Is4() {
		return addr.Unmap()
	}
	return addr
}

// Overlaps reports whether two ranges share at least one address.
func (r IPRange) Overlaps(other IPRange) bool {
	return compareAddr(r.First, other.Last) <= 0 && compareAddr(other.First, r.Last) <= 0
}

// Contains reports whether r fully contains other.
func (r IPRange) Contains(other IPRange) bool {
	return compareAddr(r.First, other.First) <= 0 && compareAddr(other.Last, r.Last) <= 0
}

// ContainsAddr reports whether the range contains a single address.
func (r IPRange) ContainsAddr(addr netip.Addr) bool {
	return compareAddr(r.First, addr) <= 0 && compareAddr(addr, r.Last) <= 0
}

// Equal reports whether two ranges cover exactly the same interval.
func (r IPRange) Equal(other IPRange) bool {
	return compareAddr(r.First, other.First) == 0 && compareAddr(r.Last, other.Last) == 0
}

// compareAddr compares addresses in their 16-byte form so mixed v4/v6
// comparisons are well defined.
func compareAddr(a, b netip.Addr) int {
	aa, bb := a.As16(), b.As16()
	for i := 0; i < 16; i++ {
		switch {
		case aa[i] < bb[i]:
			return -1
		case aa[i] > bb[i]:
			return 1
		}
	}
	return 0
}

// NextAddr returns the address immediately after addr, or an invalid
// address when addr is the last in its family.
func NextAddr(addr netip.Addr) netip.Addr {
	return addr.Next()
}

// UsableRange returns the interval of addresses eligible for host
// allocation inside a prefix. For IPv4 prefixes shorter than /31 the
// network and broadcast addresses are excluded; /31, /32 and all IPv6
// prefixes use the full range.
func UsableRange(prefix netip.Prefix) IPRange {
	full := RangeOf(prefix)
	if prefix.Addr().Is4() && prefix.Bits() < 31 {
		return IPRange{First: full.First.Next(), Last: full.Last.Prev()}
	}
	return full
}
