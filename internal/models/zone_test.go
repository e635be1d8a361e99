// internal/models/zone_test.go
package models

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validZone() *Zone {
	return &Zone{
		Name:      "example.com",
		PrimaryNS: "ns1.example.com",
		Mbox:      "hostmaster.example.com",
		Serial:    1,
		Refresh:   14400,
		Retry:     3600,
		Expire:    605000,
		Minimum:   86400,
	}
}

func TestZoneValidate(t *testing.T) {
	zone := validZone()
	assert.NoError(t, zone.Validate())

	zone = validZone()
	zone.Name = ""
	assert.Error(t, zone.Validate())

	// A bare public suffix is not a valid zone
	zone = validZone()
	zone.Name = "com"
	assert.Error(t, zone.Validate())

	zone = validZone()
	zone.Name = "co.uk"
	assert.Error(t, zone.Validate())

	// RETRY must be less than REFRESH
	zone = validZone()
	zone.Retry = zone.Refresh
	assert.Error(t, zone.Validate())

	// EXPIRE must be greater than REFRESH
	zone = validZone()
	zone.Expire = zone.Refresh
	assert.Error(t, zone.Validate())

	// Reverse zones skip the public suffix check
	zone = validZone()
	zone.Name = "0.0.10.in-addr.arpa"
	assert.NoError(t, zone.Validate())
}

func TestZoneNormalize(t *testing.T) {
	zone := validZone()
	zone.Name = "Example.COM."
	zone.PrimaryNS = "NS1.Example.com."
	zone.Normalize()
	assert.Equal(t, "example.com", zone.Name)
	assert.Equal(t, "ns1.example.com", zone.PrimaryNS)
}

func TestZoneIsReverse(t *testing.T) {
	zone := &Zone{Name: "0.0.10.in-addr.arpa"}
	assert.True(t, zone.IsReverse())

	zone = &Zone{Name: "8.b.d.0.1.0.0.2.ip6.arpa"}
	assert.True(t, zone.IsReverse())

	zone = &Zone{Name: "example.com"}
	assert.False(t, zone.IsReverse())
}

func TestZoneContainsName(t *testing.T) {
	zone := &Zone{Name: "example.com"}
	assert.True(t, zone.ContainsName("example.com"))
	assert.True(t, zone.ContainsName("www.example.com"))
	assert.True(t, zone.ContainsName("a.b.example.com."))
	assert.False(t, zone.ContainsName("example.org"))
	assert.False(t, zone.ContainsName("notexample.com"))
}

func TestZoneRelativeAbsoluteName(t *testing.T) {
	zone := &Zone{Name: "example.com"}
	assert.Equal(t, "@", zone.RelativeName("example.com"))
	assert.Equal(t, "www", zone.RelativeName("www.example.com"))
	assert.Equal(t, "a.b", zone.RelativeName("a.b.example.com"))

	assert.Equal(t, "example.com", zone.AbsoluteName("@"))
	assert.Equal(t, "www.example.com", zone.AbsoluteName("www"))
}

func TestZoneSOAContent(t *testing.T) {
	zone := validZone()
	zone.Serial = 42
	assert.Equal(t, "ns1.example.com. hostmaster.example.com. 42 14400 3600 605000 86400", zone.SOAContent())
}

func TestReverseZoneName(t *testing.T) {
	name, err := ReverseZoneName(netip.MustParsePrefix("10.0.0.0/24"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.10.in-addr.arpa", name)

	name, err = ReverseZoneName(netip.MustParsePrefix("10.0.0.0/16"))
	require.NoError(t, err)
	assert.Equal(t, "0.10.in-addr.arpa", name)

	name, err = ReverseZoneName(netip.MustParsePrefix("10.0.0.0/8"))
	require.NoError(t, err)
	assert.Equal(t, "10.in-addr.arpa", name)

	// Prefixes off the octet boundary widen to the containing octet
	name, err = ReverseZoneName(netip.MustParsePrefix("10.0.4.0/22"))
	require.NoError(t, err)
	assert.Equal(t, "0.10.in-addr.arpa", name)

	name, err = ReverseZoneName(netip.MustParsePrefix("2001:db8::/48"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa", name)
}

func TestReverseName(t *testing.T) {
	name, err := ReverseName(netip.MustParseAddr("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, "5.0.0.10.in-addr.arpa", name)

	name, err = ReverseName(netip.MustParseAddr("2001:db8::1"))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.ip6.arpa", name)
}
