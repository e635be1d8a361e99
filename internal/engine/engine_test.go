// internal/engine/engine_test.go
package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipzone.io/internal/config"
	"ipzone.io/internal/ipam"
	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/locking"
	"ipzone.io/internal/pdnsbackend"
	"ipzone.io/internal/registry"
	"ipzone.io/internal/storage"
	"ipzone.io/internal/zonemodel"
)

func testEngine(t *testing.T) (*Engine, *pdnsbackend.MemoryBackend) {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)

	backend := pdnsbackend.NewMemoryBackend("test")
	eng, err := NewWithStore(cfg, storage.NewMemoryStore(), locking.NewMemoryLocker(5*time.Second), []pdnsbackend.Backend{backend})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	return eng, backend
}

func findRecord(records []*pdnsbackend.Record, name string, recordType string) *pdnsbackend.Record {
	for _, record := range records {
		if record.Name == name && record.Type == recordType {
			return record
		}
	}
	return nil
}

// Exercises the full path one deployment runs: domain, subnet with its
// reverse zone, forward zone, allocation, rebuild and sync.
func TestEngineEndToEnd(t *testing.T) {
	ctx := context.Background()
	eng, backend := testEngine(t)

	_, err := eng.Registry.Create(ctx, "default", registry.CreateOptions{CreatedBy: "admin"})
	require.NoError(t, err)

	subnet, err := eng.CreateSubnetWithReverse(ctx, "default", "10.0.0.0/24", ipam.SubnetOptions{Author: "admin"}, true)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", subnet.CIDR)

	// The reverse zone was declared alongside the subnet
	reverse, err := eng.Zones.GetZone(ctx, "0.0.10.in-addr.arpa")
	require.NoError(t, err)
	assert.True(t, reverse.IsReverse())

	// Declaring again is a no-op
	_, err = eng.CreateSubnetWithReverse(ctx, "default", "10.0.0.128/25", ipam.SubnetOptions{Author: "admin"}, true)
	require.NoError(t, err)

	_, err = eng.Zones.CreateZone(ctx, "example.com", zonemodel.ZoneOptions{Author: "admin"})
	require.NoError(t, err)

	address, err := eng.Allocator.AllocateAddress(ctx, "default", "10.0.0.0/24", ipam.AllocationRequest{
		Name:   "www.example.com",
		Author: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", address.IP)

	forward, err := eng.Zones.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	_, err = eng.Zones.Rebuild(ctx, "0.0.10.in-addr.arpa")
	require.NoError(t, err)

	require.NoError(t, eng.Syncer.SyncAll(ctx))

	serial, err := backend.FetchSerial(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, forward.Serial, serial)

	records, err := backend.FetchRecords(ctx, "example.com")
	require.NoError(t, err)
	www := findRecord(records, "www.example.com", "A")
	require.NotNil(t, www)
	assert.Equal(t, "10.0.0.1", www.Content)

	records, err = backend.FetchRecords(ctx, "0.0.10.in-addr.arpa")
	require.NoError(t, err)
	ptr := findRecord(records, "1.0.0.10.in-addr.arpa", "PTR")
	require.NotNil(t, ptr)
	assert.Equal(t, "www.example.com", ptr.Content)

	assert.NoError(t, eng.Health(ctx))
}

// Profiles declared in configuration reach the zone builder: the SOA
// overrides apply and the template records land in the synced zone.
func TestZoneProfilesFromConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.ZoneProfiles = map[string]config.ZoneProfile{
		"public": {
			SOA: config.SOAConfig{PrimaryNS: "ns1.dns.example.net"},
			Records: []config.ZoneProfileRecord{
				{Name: "@", Type: "ns", Content: "ns1.dns.example.net"},
				{Name: "@", Type: "NS", Content: "ns2.dns.example.net"},
			},
		},
	}

	backend := pdnsbackend.NewMemoryBackend("test")
	eng, err := NewWithStore(cfg, storage.NewMemoryStore(), locking.NewMemoryLocker(5*time.Second), []pdnsbackend.Backend{backend})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	zone, err := eng.Zones.CreateZone(ctx, "example.com", zonemodel.ZoneOptions{Profile: "public", Author: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "ns1.dns.example.net", zone.PrimaryNS)

	_, err = eng.Zones.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	require.NoError(t, eng.Syncer.Sync(ctx, "example.com"))

	records, err := backend.FetchRecords(ctx, "example.com")
	require.NoError(t, err)
	contents := make(map[string]bool)
	for _, record := range records {
		if record.Name == "example.com" && record.Type == "NS" {
			contents[record.Content] = true
		}
	}
	assert.True(t, contents["ns1.dns.example.net"])
	assert.True(t, contents["ns2.dns.example.net"])

	// An undeclared profile is rejected at creation
	_, err = eng.Zones.CreateZone(ctx, "other.org", zonemodel.ZoneOptions{Profile: "missing"})
	require.Error(t, err)
	assert.True(t, iperrors.IsNotFound(err))
}

// Callers branch on error class, not on sentinel identity; the
// classification helpers must see through the wrapping each layer adds.
func TestEngineErrorClassification(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	_, err := eng.Registry.Create(ctx, "default", registry.CreateOptions{CreatedBy: "admin"})
	require.NoError(t, err)
	_, err = eng.Allocator.CreateSubnet(ctx, "default", "10.0.0.0/24", ipam.SubnetOptions{Author: "admin"})
	require.NoError(t, err)

	_, err = eng.Allocator.AllocateAddress(ctx, "default", "10.0.0.0/24", ipam.AllocationRequest{IP: "10.0.0.5", Author: "admin"})
	require.NoError(t, err)
	_, err = eng.Allocator.AllocateAddress(ctx, "default", "10.0.0.0/24", ipam.AllocationRequest{IP: "10.0.0.5", Author: "admin"})
	require.Error(t, err)
	assert.True(t, iperrors.IsConflict(err))
	assert.False(t, iperrors.IsRetryable(err))

	_, err = eng.Registry.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, iperrors.IsNotFound(err))
	assert.False(t, iperrors.IsConflict(err))
}
