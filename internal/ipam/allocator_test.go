// internal/ipam/allocator_test.go
package ipam

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/locking"
	"ipzone.io/internal/models"
	"ipzone.io/internal/registry"
	"ipzone.io/internal/storage"
	"ipzone.io/internal/watch"
)

func testAllocator(t *testing.T) (*Allocator, *storage.MemoryStore) {
	t.Helper()

	store := storage.NewMemoryStore()
	reg := registry.NewRegistry(store, &registry.Config{
		ReuseWhitelist: []netip.Prefix{
			netip.MustParsePrefix("10.0.0.0/8"),
			netip.MustParsePrefix("192.168.0.0/16"),
		},
	})
	locker := locking.NewMemoryLocker(5 * time.Second)
	events := watch.NewQueue(64)
	t.Cleanup(events.Close)

	alloc := NewAllocator(store, reg, locker, events)

	_, err := reg.Create(context.Background(), "default", registry.CreateOptions{})
	require.NoError(t, err)

	return alloc, store
}

func TestCreateSubnet(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	subnet, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{VLAN: 100, Department: "netops"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", subnet.CIDR)
	assert.Nil(t, subnet.ParentID)
	assert.Equal(t, 100, subnet.VLAN)

	// Host bits are rejected, not silently masked
	_, err = alloc.CreateSubnet(ctx, "default", "10.0.1.5/24", SubnetOptions{})
	assert.Error(t, err)

	// Duplicate CIDR in the same domain
	_, err = alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{})
	assert.True(t, errors.Is(err, iperrors.ErrAlreadyExists))

	// Unknown domain
	_, err = alloc.CreateSubnet(ctx, "missing", "10.9.0.0/24", SubnetOptions{})
	assert.True(t, errors.Is(err, iperrors.ErrNotFound))
}

func TestCreateSubnetAutoParent(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	parent, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/16", SubnetOptions{})
	require.NoError(t, err)
	middle, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/20", SubnetOptions{})
	require.NoError(t, err)

	// The smallest containing subnet becomes the parent
	child, err := alloc.CreateSubnet(ctx, "default", "10.0.1.0/24", SubnetOptions{})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, middle.ID, *child.ParentID)

	require.NotNil(t, middle.ParentID)
	assert.Equal(t, parent.ID, *middle.ParentID)
}

func TestCreateSubnetReparentsSiblings(t *testing.T) {
	alloc, store := testAllocator(t)
	ctx := context.Background()

	a, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{})
	require.NoError(t, err)
	b, err := alloc.CreateSubnet(ctx, "default", "10.0.1.0/24", SubnetOptions{})
	require.NoError(t, err)

	// Inserting a covering range adopts the existing roots as children
	covering, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/16", SubnetOptions{})
	require.NoError(t, err)

	for _, id := range []int{a.ID, b.ID} {
		subnets, err := store.ListSubnets(ctx, a.Layer3DomainID)
		require.NoError(t, err)
		for _, subnet := range subnets {
			if subnet.ID == id {
				require.NotNil(t, subnet.ParentID)
				assert.Equal(t, covering.ID, *subnet.ParentID)
			}
		}
	}
}

func TestCreateSubnetSiblingOverlap(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/16", SubnetOptions{})
	require.NoError(t, err)
	_, err = alloc.CreateSubnet(ctx, "default", "10.0.0.0/20", SubnetOptions{})
	require.NoError(t, err)

	// Declaring the grandparent skips the intermediate /20, which then
	// shows up as an overlapping sibling and fails the whole mutation
	_, err = alloc.CreateSubnet(ctx, "default", "10.0.1.0/24", SubnetOptions{Parent: "10.0.0.0/16"})
	assert.True(t, errors.Is(err, iperrors.ErrSubnetOverlap))

	// Auto-parenting picks the /20, so the same range is fine without
	// the declaration
	nested, err := alloc.CreateSubnet(ctx, "default", "10.0.1.0/24", SubnetOptions{})
	require.NoError(t, err)
	require.NotNil(t, nested.ParentID)

	// Two /25 halves of a /24 never overlap each other
	_, err = alloc.CreateSubnet(ctx, "default", "10.0.1.0/25", SubnetOptions{})
	assert.NoError(t, err)
	_, err = alloc.CreateSubnet(ctx, "default", "10.0.1.128/25", SubnetOptions{})
	assert.NoError(t, err)
}

func TestCreateSubnetDeclaredParent(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	parent, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/16", SubnetOptions{})
	require.NoError(t, err)

	child, err := alloc.CreateSubnet(ctx, "default", "10.0.5.0/24", SubnetOptions{Parent: "10.0.0.0/16"})
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)

	// A declared parent that does not contain the range is refused
	_, err = alloc.CreateSubnet(ctx, "default", "192.168.0.0/24", SubnetOptions{Parent: "10.0.0.0/16"})
	assert.True(t, errors.Is(err, iperrors.ErrParentMismatch))

	// A declared parent that does not exist is refused
	_, err = alloc.CreateSubnet(ctx, "default", "10.1.0.0/24", SubnetOptions{Parent: "10.1.0.0/16"})
	assert.True(t, errors.Is(err, iperrors.ErrNotFound))
}

func TestAllocateAddressFirstFree(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{})
	require.NoError(t, err)

	// Network address is skipped; the first usable host is .1
	address, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/24", AllocationRequest{Name: "host1.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", address.IP)
	assert.Equal(t, models.StatusAssigned, address.Status)
	assert.Equal(t, "host1.example.com", address.FQDN)

	address, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/24", AllocationRequest{Name: "host2.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", address.IP)
}

func TestAllocateAddressExplicit(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{})
	require.NoError(t, err)

	address, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/24",
		AllocationRequest{IP: "10.0.0.5", Name: "db1.example.com", Department: "dba"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", address.IP)
	assert.Equal(t, "dba", address.Department)

	// Claiming an occupied address fails
	_, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/24",
		AllocationRequest{IP: "10.0.0.5", Name: "db2.example.com"})
	assert.True(t, errors.Is(err, iperrors.ErrAddressInUse))

	// Network and broadcast addresses are never usable in a /24
	_, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/24", AllocationRequest{IP: "10.0.0.0"})
	assert.True(t, errors.Is(err, iperrors.ErrInvalidInput))
	_, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/24", AllocationRequest{IP: "10.0.0.255"})
	assert.True(t, errors.Is(err, iperrors.ErrInvalidInput))

	// Outside the subnet entirely
	_, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/24", AllocationRequest{IP: "10.0.1.1"})
	assert.True(t, errors.Is(err, iperrors.ErrInvalidInput))
}

func TestAllocateAddressSeesOverlappingClaims(t *testing.T) {
	alloc, store := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{})
	require.NoError(t, err)
	_, err = alloc.CreateSubnet(ctx, "default", "10.0.0.0/25", SubnetOptions{})
	require.NoError(t, err)

	// Claim .1 through the child subnet
	claimed, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/25",
		AllocationRequest{Name: "web1.example.com"})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", claimed.IP)

	// First-free on the parent must skip the child's claim rather
	// than hand it out again
	address, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/24",
		AllocationRequest{Name: "web2.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", address.IP)

	// An explicit claim of the occupied address fails from any subnet
	_, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/24",
		AllocationRequest{IP: "10.0.0.1", Name: "web3.example.com"})
	assert.True(t, errors.Is(err, iperrors.ErrAddressInUse))

	// The child's row is untouched
	row, err := store.GetAddress(ctx, claimed.Layer3DomainID, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "web1.example.com", row.FQDN)
	assert.Equal(t, claimed.SubnetID, row.SubnetID)
}

func TestAllocateAddressExhaustion(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	// A /30 has exactly two usable hosts
	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/30", SubnetOptions{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/30", AllocationRequest{})
		require.NoError(t, err)
	}

	_, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/30", AllocationRequest{})
	assert.True(t, errors.Is(err, iperrors.ErrSubnetExhausted))
}

func TestAllocateAddressRandomFree(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/29", SubnetOptions{})
	require.NoError(t, err)

	usable := models.UsableRange(netip.MustParsePrefix("10.0.0.0/29"))
	seen := make(map[string]bool)
	for i := 0; i < 6; i++ {
		address, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/29",
			AllocationRequest{Strategy: StrategyRandomFree})
		require.NoError(t, err)

		addr := netip.MustParseAddr(address.IP)
		assert.True(t, usable.ContainsAddr(addr))
		assert.False(t, seen[address.IP], "address %s handed out twice", address.IP)
		seen[address.IP] = true
	}

	_, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/29", AllocationRequest{Strategy: StrategyRandomFree})
	assert.True(t, errors.Is(err, iperrors.ErrSubnetExhausted))
}

func TestReleaseAddress(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{})
	require.NoError(t, err)

	_, err = alloc.AllocateAddress(ctx, "default", "10.0.0.0/24",
		AllocationRequest{IP: "10.0.0.5", Name: "old.example.com", Department: "dba",
			Attributes: models.Attrs{"rack": "b12"}})
	require.NoError(t, err)

	require.NoError(t, alloc.ReleaseAddress(ctx, "default", "10.0.0.5", "alice"))

	// Releasing again, or releasing a never-allocated address, is a no-op
	assert.NoError(t, alloc.ReleaseAddress(ctx, "default", "10.0.0.5", "alice"))
	assert.NoError(t, alloc.ReleaseAddress(ctx, "default", "10.0.0.77", "alice"))

	// Re-allocation starts fresh: no residue from the previous claim
	address, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/24",
		AllocationRequest{IP: "10.0.0.5", Name: "new.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "new.example.com", address.FQDN)
	assert.Empty(t, address.Department)
	assert.Empty(t, address.Attributes)
}

func TestMarkReserved(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/29", SubnetOptions{})
	require.NoError(t, err)

	require.NoError(t, alloc.MarkReserved(ctx, "default", "10.0.0.0/29", "10.0.0.1", "alice"))

	// Strategies skip reserved addresses
	address, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/29", AllocationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", address.IP)

	// An assigned address cannot be reserved out from under its owner
	err = alloc.MarkReserved(ctx, "default", "10.0.0.0/29", "10.0.0.2", "alice")
	assert.True(t, errors.Is(err, iperrors.ErrAddressInUse))
}

func TestDeleteSubnet(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{})
	require.NoError(t, err)

	address, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/24", AllocationRequest{Name: "host.example.com"})
	require.NoError(t, err)

	// Active addresses block deletion
	err = alloc.DeleteSubnet(ctx, "default", "10.0.0.0/24", false, "alice")
	assert.True(t, errors.Is(err, iperrors.ErrSubnetNotEmpty))

	require.NoError(t, alloc.ReleaseAddress(ctx, "default", address.IP, "alice"))
	require.NoError(t, alloc.DeleteSubnet(ctx, "default", "10.0.0.0/24", false, "alice"))

	_, err = alloc.GetSubnet(ctx, "default", "10.0.0.0/24")
	assert.True(t, errors.Is(err, iperrors.ErrNotFound))
}

func TestDeleteSubnetWithChildren(t *testing.T) {
	alloc, store := testAllocator(t)
	ctx := context.Background()

	parent, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/16", SubnetOptions{})
	require.NoError(t, err)
	middle, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/20", SubnetOptions{})
	require.NoError(t, err)
	child, err := alloc.CreateSubnet(ctx, "default", "10.0.1.0/24", SubnetOptions{})
	require.NoError(t, err)

	// Children block deletion without force
	err = alloc.DeleteSubnet(ctx, "default", "10.0.0.0/20", false, "alice")
	assert.True(t, errors.Is(err, iperrors.ErrSubnetNotEmpty))

	// With force the children are promoted to the deleted subnet's parent
	require.NoError(t, alloc.DeleteSubnet(ctx, "default", "10.0.0.0/20", true, "alice"))

	subnets, err := store.ListSubnets(ctx, middle.Layer3DomainID)
	require.NoError(t, err)
	for _, subnet := range subnets {
		if subnet.ID == child.ID {
			require.NotNil(t, subnet.ParentID)
			assert.Equal(t, parent.ID, *subnet.ParentID)
		}
	}
}

func TestAllocationScenario(t *testing.T) {
	alloc, _ := testAllocator(t)
	ctx := context.Background()

	_, err := alloc.CreateSubnet(ctx, "default", "10.0.0.0/24", SubnetOptions{VLAN: 42})
	require.NoError(t, err)

	explicit, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/24",
		AllocationRequest{IP: "10.0.0.5", Name: "gw.example.com", Author: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", explicit.IP)

	// first-free walks around the explicit claim
	for _, want := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.6"} {
		address, err := alloc.AllocateAddress(ctx, "default", "10.0.0.0/24", AllocationRequest{})
		require.NoError(t, err)
		assert.Equal(t, want, address.IP)
	}

	addresses, err := alloc.ListAddresses(ctx, "default", "10.0.0.0/24")
	require.NoError(t, err)
	assert.Len(t, addresses, 6)
}
