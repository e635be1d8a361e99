// internal/models/iprange_test.go
package models

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefix(t *testing.T) {
	prefix, err := ParsePrefix("10.0.0.0/24")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", prefix.String())

	// Host bits must be zero; two spellings of the same subnet may not coexist
	_, err = ParsePrefix("10.0.0.5/24")
	assert.Error(t, err)

	_, err = ParsePrefix("not-a-cidr")
	assert.Error(t, err)

	prefix, err = ParsePrefix("  2001:db8::/48  ")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::/48", prefix.String())
}

func TestRangeOf(t *testing.T) {
	rng := RangeOf(netip.MustParsePrefix("10.0.0.0/24"))
	assert.Equal(t, "10.0.0.0", rng.First.String())
	assert.Equal(t, "10.0.0.255", rng.Last.String())

	rng = RangeOf(netip.MustParsePrefix("192.168.4.0/30"))
	assert.Equal(t, "192.168.4.0", rng.First.String())
	assert.Equal(t, "192.168.4.3", rng.Last.String())

	rng = RangeOf(netip.MustParsePrefix("2001:db8::/64"))
	assert.Equal(t, "2001:db8::", rng.First.String())
	assert.Equal(t, "2001:db8::ffff:ffff:ffff:ffff", rng.Last.String())
}

func TestRangeOverlaps(t *testing.T) {
	a := RangeOf(netip.MustParsePrefix("10.0.0.0/24"))
	b := RangeOf(netip.MustParsePrefix("10.0.1.0/24"))
	c := RangeOf(netip.MustParsePrefix("10.0.0.128/25"))

	assert.False(t, a.Overlaps(b))
	assert.False(t, b.Overlaps(a))
	assert.True(t, a.Overlaps(c))
	assert.True(t, c.Overlaps(a))
	assert.True(t, a.Overlaps(a))
}

func TestRangeContains(t *testing.T) {
	parent := RangeOf(netip.MustParsePrefix("10.0.0.0/16"))
	child := RangeOf(netip.MustParsePrefix("10.0.42.0/24"))
	outside := RangeOf(netip.MustParsePrefix("10.1.0.0/24"))

	assert.True(t, parent.Contains(child))
	assert.False(t, child.Contains(parent))
	assert.False(t, parent.Contains(outside))
	assert.True(t, parent.Contains(parent))

	assert.True(t, parent.ContainsAddr(netip.MustParseAddr("10.0.255.255")))
	assert.False(t, parent.ContainsAddr(netip.MustParseAddr("10.1.0.0")))
}

func TestRangeMixedFamilies(t *testing.T) {
	v4 := RangeOf(netip.MustParsePrefix("10.0.0.0/8"))
	v6 := RangeOf(netip.MustParsePrefix("2001:db8::/32"))

	// Comparisons across families must be well defined, never a panic
	assert.False(t, v4.Overlaps(v6))
	assert.False(t, v6.Contains(v4))
}

func TestUsableRange(t *testing.T) {
	// /24 excludes network and broadcast
	usable := UsableRange(netip.MustParsePrefix("10.0.0.0/24"))
	assert.Equal(t, "10.0.0.1", usable.First.String())
	assert.Equal(t, "10.0.0.254", usable.Last.String())

	// /31 and /32 use the full range
	usable = UsableRange(netip.MustParsePrefix("10.0.0.0/31"))
	assert.Equal(t, "10.0.0.0", usable.First.String())
	assert.Equal(t, "10.0.0.1", usable.Last.String())

	usable = UsableRange(netip.MustParsePrefix("10.0.0.7/32"))
	assert.Equal(t, "10.0.0.7", usable.First.String())
	assert.Equal(t, "10.0.0.7", usable.Last.String())

	// IPv6 has no broadcast convention
	usable = UsableRange(netip.MustParsePrefix("2001:db8::/64"))
	assert.Equal(t, "2001:db8::", usable.First.String())
}
