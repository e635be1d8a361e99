// internal/zonemodel/builder_test.go
package zonemodel

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipzone.io/internal/cache"
	"ipzone.io/internal/config"
	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/locking"
	"ipzone.io/internal/models"
	"ipzone.io/internal/storage"
	"ipzone.io/internal/watch"
)

func testSOADefaults() config.SOAConfig {
	return config.SOAConfig{
		PrimaryNS:  "ns1.example.com",
		Mbox:       "hostmaster.example.com",
		Refresh:    14400,
		Retry:      3600,
		Expire:     605000,
		Minimum:    86400,
		DefaultTTL: 86400,
	}
}

func testBuilder(t *testing.T, profiles map[string]Profile) (*Builder, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()
	locker := locking.NewMemoryLocker(5 * time.Second)
	events := watch.NewQueue(64)
	t.Cleanup(events.Close)

	memCache := cache.NewMemoryCache(&cache.Config{MaxEntries: 100})
	t.Cleanup(func() { memCache.Close() })
	snapshots := storage.NewSnapshotCache(store, memCache, nil)

	return NewBuilder(store, locker, events, snapshots, testSOADefaults(), profiles), store
}

// seedAddress plants an assigned, named address row the way the
// allocator would leave it
func seedAddress(t *testing.T, store *storage.MemoryStore, ip, fqdn string) {
	t.Helper()
	err := store.SaveAddress(context.Background(), &models.Address{
		SubnetID:       1,
		Layer3DomainID: 1,
		IP:             ip,
		Status:         models.StatusAssigned,
		FQDN:           fqdn,
	})
	require.NoError(t, err)
}

func TestCreateZoneDefaults(t *testing.T) {
	builder, _ := testBuilder(t, nil)
	ctx := context.Background()

	zone, err := builder.CreateZone(ctx, "Example.COM.", ZoneOptions{Author: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", zone.Name)
	// Zones start at serial 0 so the first rebuild that produces
	// records syncs as serial 1
	assert.Equal(t, uint32(0), zone.Serial)
	assert.NotEmpty(t, zone.RecordHash)
	assert.Equal(t, "ns1.example.com", zone.PrimaryNS)
	assert.Equal(t, uint32(14400), zone.Refresh)
	assert.Equal(t, uint32(86400), zone.DefaultTTL)

	_, err = builder.CreateZone(ctx, "example.com", ZoneOptions{})
	assert.True(t, errors.Is(err, iperrors.ErrAlreadyExists))

	// A bare public suffix is rejected by zone validation
	_, err = builder.CreateZone(ctx, "co.uk", ZoneOptions{})
	assert.Error(t, err)
}

func TestCreateZoneOverrides(t *testing.T) {
	builder, _ := testBuilder(t, nil)

	zone, err := builder.CreateZone(context.Background(), "example.org", ZoneOptions{
		PrimaryNS: "ns9.example.org",
		Refresh:   7200,
		Retry:     1800,
	})
	require.NoError(t, err)
	assert.Equal(t, "ns9.example.org", zone.PrimaryNS)
	assert.Equal(t, uint32(7200), zone.Refresh)
	assert.Equal(t, uint32(1800), zone.Retry)
	// Everything not overridden keeps the defaults
	assert.Equal(t, uint32(605000), zone.Expire)
}

func TestCreateZoneProfile(t *testing.T) {
	profiles := map[string]Profile{
		"internal": {
			SOA: config.SOAConfig{PrimaryNS: "ns-int.example.com", DefaultTTL: 300},
			Records: []ProfileRecord{
				{Name: "@", Type: models.RecordTypeMX, Content: "10 mail.example.com"},
			},
		},
	}
	builder, store := testBuilder(t, profiles)
	ctx := context.Background()

	zone, err := builder.CreateZone(ctx, "corp.example.com", ZoneOptions{Profile: "internal"})
	require.NoError(t, err)
	assert.Equal(t, "ns-int.example.com", zone.PrimaryNS)
	assert.Equal(t, uint32(300), zone.DefaultTTL)

	// Profile records are seeded as explicit overrides
	explicit, err := store.ListExplicitRecords(ctx, zone.ID)
	require.NoError(t, err)
	require.Len(t, explicit, 1)
	assert.Equal(t, models.RecordTypeMX, explicit[0].Type)

	_, err = builder.CreateZone(ctx, "other.example.com", ZoneOptions{Profile: "missing"})
	assert.True(t, errors.Is(err, iperrors.ErrNotFound))
}

func TestRebuildDerivesForwardRecords(t *testing.T) {
	builder, store := testBuilder(t, nil)
	ctx := context.Background()

	_, err := builder.CreateZone(ctx, "example.com", ZoneOptions{})
	require.NoError(t, err)

	seedAddress(t, store, "10.0.0.5", "www.example.com")
	seedAddress(t, store, "2001:db8::5", "www.example.com")
	seedAddress(t, store, "10.0.0.6", "db.example.com")
	seedAddress(t, store, "10.0.0.7", "host.other.org") // not ours

	zone, err := builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)

	records, err := store.ListRecords(ctx, zone.ID)
	require.NoError(t, err)

	byKey := make(map[string]string)
	for _, record := range records {
		byKey[record.Name+"/"+record.Type.String()] = record.Content
	}
	assert.Equal(t, "10.0.0.5", byKey["www/A"])
	assert.Equal(t, "2001:db8::5", byKey["www/AAAA"])
	assert.Equal(t, "10.0.0.6", byKey["db/A"])
	assert.NotContains(t, byKey, "host.other.org/A")

	// Apex NS is never derived; it comes from profiles or overrides
	assert.NotContains(t, byKey, "@/NS")
}

func TestRebuildSerialPolicy(t *testing.T) {
	builder, store := testBuilder(t, nil)
	ctx := context.Background()

	created, err := builder.CreateZone(ctx, "example.com", ZoneOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), created.Serial)
	emptyHash := created.RecordHash
	require.NotEmpty(t, emptyHash)

	// Rebuilding an empty zone derives the same empty set: no change
	zone, err := builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), zone.Serial)
	assert.Equal(t, emptyHash, zone.RecordHash)

	// The first rebuild that produces records lands on serial 1
	seedAddress(t, store, "10.0.0.5", "www.example.com")
	zone, err = builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), zone.Serial)
	assert.NotEqual(t, emptyHash, zone.RecordHash)
	firstHash := zone.RecordHash

	// Identical state: the serial must not move
	zone, err = builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), zone.Serial)
	assert.Equal(t, firstHash, zone.RecordHash)

	// New allocator state: the serial advances exactly once
	seedAddress(t, store, "10.0.0.6", "db.example.com")
	zone, err = builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), zone.Serial)
	assert.NotEqual(t, firstHash, zone.RecordHash)
}

func TestRebuildDeterministic(t *testing.T) {
	builder, store := testBuilder(t, nil)
	ctx := context.Background()

	_, err := builder.CreateZone(ctx, "example.com", ZoneOptions{})
	require.NoError(t, err)

	seedAddress(t, store, "10.0.0.5", "www.example.com")
	seedAddress(t, store, "10.0.0.6", "db.example.com")

	zone, err := builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	first, err := store.ListRecords(ctx, zone.ID)
	require.NoError(t, err)

	// Rebuilding from identical state yields a byte-identical record set
	zone, err = builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	second, err := store.ListRecords(ctx, zone.ID)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Type, second[i].Type)
		assert.Equal(t, first[i].Content, second[i].Content)
	}
}

func TestRebuildReverseZone(t *testing.T) {
	builder, store := testBuilder(t, nil)
	ctx := context.Background()

	zone, err := builder.CreateReverseZone(ctx, netip.MustParsePrefix("10.0.0.0/24"), ZoneOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0.0.10.in-addr.arpa", zone.Name)

	seedAddress(t, store, "10.0.0.5", "www.example.com")
	seedAddress(t, store, "10.1.0.5", "other.example.com") // different /24

	zone, err = builder.Rebuild(ctx, zone.Name)
	require.NoError(t, err)

	records, err := store.ListRecords(ctx, zone.ID)
	require.NoError(t, err)

	var ptrs []*models.ResourceRecord
	for _, record := range records {
		if record.Type == models.RecordTypePTR {
			ptrs = append(ptrs, record)
		}
	}
	require.Len(t, ptrs, 1)
	assert.Equal(t, "5", ptrs[0].Name)
	assert.Equal(t, "www.example.com", ptrs[0].Content)
}

func TestRebuildMostSpecificZoneWins(t *testing.T) {
	builder, store := testBuilder(t, nil)
	ctx := context.Background()

	parent, err := builder.CreateZone(ctx, "example.com", ZoneOptions{})
	require.NoError(t, err)
	child, err := builder.CreateZone(ctx, "sub.example.com", ZoneOptions{})
	require.NoError(t, err)

	seedAddress(t, store, "10.0.0.5", "host.sub.example.com")

	_, err = builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	_, err = builder.Rebuild(ctx, "sub.example.com")
	require.NoError(t, err)

	parentRecords, err := store.ListRecords(ctx, parent.ID)
	require.NoError(t, err)
	for _, record := range parentRecords {
		assert.NotEqual(t, models.RecordTypeA, record.Type, "parent zone must not derive the child's name")
	}

	childRecords, err := store.ListRecords(ctx, child.ID)
	require.NoError(t, err)
	found := false
	for _, record := range childRecords {
		if record.Type == models.RecordTypeA && record.Name == "host" {
			found = true
			assert.Equal(t, "10.0.0.5", record.Content)
		}
	}
	assert.True(t, found)
}

func TestSetRecordOverridesDerived(t *testing.T) {
	builder, store := testBuilder(t, nil)
	ctx := context.Background()

	_, err := builder.CreateZone(ctx, "example.com", ZoneOptions{})
	require.NoError(t, err)
	seedAddress(t, store, "10.0.0.5", "www.example.com")

	zone, err := builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)
	serialBefore := zone.Serial

	// The explicit record shadows the derived one from the next rebuild on
	err = builder.SetRecord(ctx, "example.com", "www", models.RecordTypeA, 300, "203.0.113.9", "alice")
	require.NoError(t, err)

	zone, err = builder.GetZone(ctx, "example.com")
	require.NoError(t, err)
	assert.Greater(t, zone.Serial, serialBefore)

	records, err := store.ListRecords(ctx, zone.ID)
	require.NoError(t, err)
	for _, record := range records {
		if record.Name == "www" && record.Type == models.RecordTypeA {
			assert.Equal(t, "203.0.113.9", record.Content)
			assert.False(t, record.Derived)
		}
	}

	// Deleting the override resurfaces the derived record
	err = builder.DeleteRecord(ctx, "example.com", "www", models.RecordTypeA, "alice")
	require.NoError(t, err)

	records, err = store.ListRecords(ctx, zone.ID)
	require.NoError(t, err)
	found := false
	for _, record := range records {
		if record.Name == "www" && record.Type == models.RecordTypeA {
			found = true
			assert.Equal(t, "10.0.0.5", record.Content)
			assert.True(t, record.Derived)
		}
	}
	assert.True(t, found)
}

func TestDeleteZone(t *testing.T) {
	builder, store := testBuilder(t, nil)
	ctx := context.Background()

	zone, err := builder.CreateZone(ctx, "example.com", ZoneOptions{})
	require.NoError(t, err)
	_, err = builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)

	require.NoError(t, builder.DeleteZone(ctx, "example.com", "alice"))

	_, err = builder.GetZone(ctx, "example.com")
	assert.True(t, errors.Is(err, iperrors.ErrNotFound))

	records, err := store.ListRecords(ctx, zone.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSnapshotCaching(t *testing.T) {
	builder, _ := testBuilder(t, nil)
	ctx := context.Background()

	_, err := builder.CreateZone(ctx, "example.com", ZoneOptions{})
	require.NoError(t, err)
	_, err = builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)

	// First read builds from the store, second hits L1
	result, err := builder.Snapshot(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, storage.SourceDatabase, result.Source)
	assert.Equal(t, "example.com", result.Snapshot.Zone.Name)

	result, err = builder.Snapshot(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, storage.SourceMemory, result.Source)

	// A rebuild that changes nothing keeps the cache; one that does
	// invalidates it
	err = builder.SetRecord(ctx, "example.com", "www", models.RecordTypeA, 0, "203.0.113.9", "alice")
	require.NoError(t, err)

	result, err = builder.Snapshot(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, storage.SourceDatabase, result.Source)

	_, err = builder.Snapshot(ctx, "missing.example.net")
	assert.True(t, errors.Is(err, iperrors.ErrNotFound))
}

func TestOutputUpdateQueue(t *testing.T) {
	builder, store := testBuilder(t, nil)
	ctx := context.Background()

	_, err := builder.CreateZone(ctx, "example.com", ZoneOptions{})
	require.NoError(t, err)
	seedAddress(t, store, "10.0.0.5", "www.example.com")
	_, err = builder.Rebuild(ctx, "example.com")
	require.NoError(t, err)

	updates, err := store.DequeueOutputUpdates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "created", updates[0].Op)
	assert.Equal(t, "changed", updates[1].Op)

	// The queue drains
	updates, err = store.DequeueOutputUpdates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, updates)
}
