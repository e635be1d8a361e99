// internal/ipam/allocator.go
package ipam

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"

	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/locking"
	"ipzone.io/internal/logging"
	"ipzone.io/internal/models"
	"ipzone.io/internal/registry"
	"ipzone.io/internal/storage"
	"ipzone.io/internal/watch"
)

// AllocationStrategy selects how a free address is picked when no
// explicit IP is requested
type AllocationStrategy string

const (
	StrategyFirstFree  AllocationStrategy = "first-free"
	StrategyRandomFree AllocationStrategy = "random-free"
)

// IsValid checks if the strategy is supported
func (s AllocationStrategy) IsValid() bool {
	return s == StrategyFirstFree || s == StrategyRandomFree
}

// Allocator manages subnets and addresses inside layer3domains. All
// mutations serialize on the layer3domain's advisory lock and run in
// one store transaction, so concurrent requests against the same
// domain cannot interleave.
type Allocator struct {
	store    storage.Store
	registry *registry.Registry
	locker   locking.Locker
	events   *watch.Queue
}

// NewAllocator creates an allocator over the given store
func NewAllocator(store storage.Store, reg *registry.Registry, locker locking.Locker, events *watch.Queue) *Allocator {
	return &Allocator{
		store:    store,
		registry: reg,
		locker:   locker,
		events:   events,
	}
}

// SubnetOptions carries optional fields for subnet creation
type SubnetOptions struct {
	// Parent declares the containing subnet's CIDR. Empty means
	// auto-parent beneath the smallest existing subnet containing the
	// new range.
	Parent     string
	VLAN       int
	Department string
	Attributes models.Attrs
	Author     string
}

// AllocationRequest describes one address allocation
type AllocationRequest struct {
	// IP claims a specific address. Empty lets Strategy choose.
	IP         string
	Strategy   AllocationStrategy
	Name       string
	Department string
	Attributes models.Attrs
	Author     string
}

// CreateSubnet attaches a new subnet to a layer3domain. The CIDR is
// normalized to its canonical network address; host bits set in the
// input are rejected. Placement in the subnet tree is computed from
// the existing subnets: the smallest containing subnet becomes the
// parent (unless one is declared), siblings that fit inside the new
// range are re-parented beneath it, and a sibling that partially
// overlaps fails the whole mutation.
func (a *Allocator) CreateSubnet(ctx context.Context, domainName, cidr string, opts SubnetOptions) (*models.Subnet, error) {
	prefix, err := models.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}

	var created *models.Subnet
	err = a.locker.WithDomainLock(ctx, domainName, func(ctx context.Context) error {
		domain, err := a.registry.Get(ctx, domainName)
		if err != nil {
			return err
		}

		existing, err := a.store.GetSubnet(ctx, domain.ID, prefix.String())
		if err != nil {
			return fmt.Errorf("failed to check subnet %s: %w", prefix, err)
		}
		if existing != nil {
			return fmt.Errorf("subnet %s in %s: %w", prefix, domainName, iperrors.ErrAlreadyExists)
		}

		if err := a.registry.EnsureRangeAllowed(ctx, domain.ID, prefix); err != nil {
			return err
		}

		subnets, err := a.store.ListSubnets(ctx, domain.ID)
		if err != nil {
			return fmt.Errorf("failed to list subnets in %s: %w", domainName, err)
		}

		parentID, err := a.resolveParent(prefix, subnets, opts.Parent)
		if err != nil {
			return err
		}

		reparent, err := a.placeSubnet(prefix, subnets, parentID)
		if err != nil {
			return err
		}

		subnet := &models.Subnet{
			Layer3DomainID: domain.ID,
			CIDR:           prefix.String(),
			ParentID:       parentID,
			VLAN:           opts.VLAN,
			Department:     opts.Department,
			Attributes:     opts.Attributes,
		}

		if err := a.store.CreateSubnet(ctx, subnet, reparent); err != nil {
			return fmt.Errorf("failed to create subnet %s: %w", prefix, err)
		}

		a.recordHistory(ctx, opts.Author, "create subnet", fmt.Sprintf("%s %s", domainName, prefix), opts.Department)
		a.events.Publish(watch.SubnetCreated{Domain: domainName, CIDR: prefix.String()})

		created = subnet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// resolveParent maps a declared parent CIDR to its subnet row, or
// auto-selects the smallest existing subnet containing the new range.
// A declared parent that does not contain the range fails with
// ErrParentMismatch.
func (a *Allocator) resolveParent(prefix netip.Prefix, subnets []*models.Subnet, declaredParent string) (*int, error) {
	rng := models.RangeOf(prefix)

	if declaredParent != "" {
		parentPrefix, err := models.ParsePrefix(declaredParent)
		if err != nil {
			return nil, fmt.Errorf("invalid parent CIDR %s: %w", declaredParent, err)
		}

		for _, subnet := range subnets {
			if subnet.CIDR != parentPrefix.String() {
				continue
			}
			if !models.RangeOf(parentPrefix).Contains(rng) {
				return nil, fmt.Errorf("parent %s does not contain %s: %w",
					declaredParent, prefix, iperrors.ErrParentMismatch)
			}
			id := subnet.ID
			return &id, nil
		}
		return nil, fmt.Errorf("parent subnet %s: %w", declaredParent, iperrors.ErrNotFound)
	}

	// Auto-parent: the smallest containing subnet wins
	var best *models.Subnet
	var bestBits int
	for _, subnet := range subnets {
		p, err := subnet.Prefix()
		if err != nil {
			continue
		}
		if !models.RangeOf(p).Contains(rng) || p.Bits() >= prefix.Bits() {
			continue
		}
		if best == nil || p.Bits() > bestBits {
			best = subnet
			bestBits = p.Bits()
		}
	}

	if best == nil {
		return nil, nil
	}
	id := best.ID
	return &id, nil
}

// placeSubnet verifies the new range against its future siblings and
// returns the subnet IDs that must be re-parented beneath it. A
// sibling the range neither contains nor avoids is an overlap error.
func (a *Allocator) placeSubnet(prefix netip.Prefix, subnets []*models.Subnet, parentID *int) ([]int, error) {
	rng := models.RangeOf(prefix)

	var reparent []int
	for _, subnet := range subnets {
		if !sameParent(subnet.ParentID, parentID) {
			continue
		}

		other, err := subnet.Range()
		if err != nil {
			continue
		}

		if !rng.Overlaps(other) {
			continue
		}
		if rng.Contains(other) {
			reparent = append(reparent, subnet.ID)
			continue
		}
		return nil, fmt.Errorf("subnet %s overlaps sibling %s: %w",
			prefix, subnet.CIDR, iperrors.ErrSubnetOverlap)
	}

	return reparent, nil
}

func sameParent(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// DeleteSubnet removes a subnet from a layer3domain. Child subnets
// and active addresses block deletion unless force is set, in which
// case only released address rows are swept and children are promoted
// to the deleted subnet's parent.
func (a *Allocator) DeleteSubnet(ctx context.Context, domainName, cidr string, force bool, author string) error {
	prefix, err := models.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}

	return a.locker.WithDomainLock(ctx, domainName, func(ctx context.Context) error {
		domain, err := a.registry.Get(ctx, domainName)
		if err != nil {
			return err
		}

		subnet, err := a.store.GetSubnet(ctx, domain.ID, prefix.String())
		if err != nil {
			return fmt.Errorf("failed to load subnet %s: %w", prefix, err)
		}
		if subnet == nil {
			return fmt.Errorf("subnet %s in %s: %w", prefix, domainName, iperrors.ErrNotFound)
		}

		active, err := a.store.CountActiveAddresses(ctx, subnet.ID)
		if err != nil {
			return fmt.Errorf("failed to count addresses in %s: %w", prefix, err)
		}
		if active > 0 {
			return fmt.Errorf("subnet %s holds %d active addresses: %w", prefix, active, iperrors.ErrSubnetNotEmpty)
		}

		if !force {
			children, err := a.store.CountSubnetChildren(ctx, subnet.ID)
			if err != nil {
				return fmt.Errorf("failed to count children of %s: %w", prefix, err)
			}
			if children > 0 {
				return fmt.Errorf("subnet %s has %d child subnets: %w", prefix, children, iperrors.ErrSubnetNotEmpty)
			}
		}

		if err := a.store.DeleteFreeAddresses(ctx, subnet.ID); err != nil {
			return fmt.Errorf("failed to sweep free addresses in %s: %w", prefix, err)
		}

		if err := a.store.DeleteSubnet(ctx, subnet.ID); err != nil {
			return fmt.Errorf("failed to delete subnet %s: %w", prefix, err)
		}

		a.recordHistory(ctx, author, "delete subnet", fmt.Sprintf("%s %s", domainName, prefix), "")
		a.events.Publish(watch.SubnetDeleted{Domain: domainName, CIDR: prefix.String()})
		return nil
	})
}

// GetSubnet finds a subnet by domain and CIDR
func (a *Allocator) GetSubnet(ctx context.Context, domainName, cidr string) (*models.Subnet, error) {
	prefix, err := models.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}

	domain, err := a.registry.Get(ctx, domainName)
	if err != nil {
		return nil, err
	}

	subnet, err := a.store.GetSubnet(ctx, domain.ID, prefix.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load subnet %s: %w", prefix, err)
	}
	if subnet == nil {
		return nil, fmt.Errorf("subnet %s in %s: %w", prefix, domainName, iperrors.ErrNotFound)
	}
	return subnet, nil
}

// ListSubnets returns all subnets in a layer3domain
func (a *Allocator) ListSubnets(ctx context.Context, domainName string) ([]*models.Subnet, error) {
	domain, err := a.registry.Get(ctx, domainName)
	if err != nil {
		return nil, err
	}
	return a.store.ListSubnets(ctx, domain.ID)
}

// AllocateAddress assigns an address inside a subnet. An explicit IP
// claims exactly that address; otherwise the request's strategy picks
// one from the subnet's usable range. IPv4 network and broadcast
// addresses are never handed out for prefixes shorter than /31.
func (a *Allocator) AllocateAddress(ctx context.Context, domainName, cidr string, req AllocationRequest) (*models.Address, error) {
	prefix, err := models.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}

	if req.Strategy == "" {
		req.Strategy = StrategyFirstFree
	}
	if !req.Strategy.IsValid() {
		return nil, fmt.Errorf("unknown allocation strategy %q: %w", req.Strategy, iperrors.ErrInvalidInput)
	}

	var allocated *models.Address
	err = a.locker.WithDomainLock(ctx, domainName, func(ctx context.Context) error {
		domain, err := a.registry.Get(ctx, domainName)
		if err != nil {
			return err
		}

		subnet, err := a.store.GetSubnet(ctx, domain.ID, prefix.String())
		if err != nil {
			return fmt.Errorf("failed to load subnet %s: %w", prefix, err)
		}
		if subnet == nil {
			return fmt.Errorf("subnet %s in %s: %w", prefix, domainName, iperrors.ErrNotFound)
		}

		var addr netip.Addr
		if req.IP != "" {
			addr, err = a.claimExplicit(ctx, domain.ID, prefix, req.IP)
		} else {
			addr, err = a.pickFree(ctx, domain.ID, prefix, req.Strategy)
		}
		if err != nil {
			return err
		}

		address := &models.Address{
			SubnetID:       subnet.ID,
			Layer3DomainID: domain.ID,
			IP:             addr.String(),
			Status:         models.StatusAssigned,
			FQDN:           req.Name,
			Department:     req.Department,
			Attributes:     req.Attributes,
		}

		if err := a.store.SaveAddress(ctx, address); err != nil {
			return fmt.Errorf("failed to save address %s: %w", addr, err)
		}

		a.recordHistory(ctx, req.Author, "allocate address", fmt.Sprintf("%s %s", domainName, addr), req.Name)
		a.events.Publish(watch.AddressAllocated{Domain: domainName, IP: addr.String(), FQDN: req.Name})

		allocated = address
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocated, nil
}

// claimExplicit validates an explicitly requested IP against the
// subnet range and current occupancy
func (a *Allocator) claimExplicit(ctx context.Context, domainID int, prefix netip.Prefix, ip string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP %s: %w", ip, err)
	}
	addr = addr.Unmap()

	if !models.UsableRange(prefix).ContainsAddr(addr) {
		return netip.Addr{}, fmt.Errorf("IP %s is not usable in %s: %w", addr, prefix, iperrors.ErrInvalidInput)
	}

	existing, err := a.store.GetAddress(ctx, domainID, addr.String())
	if err != nil {
		return netip.Addr{}, fmt.Errorf("failed to check address %s: %w", addr, err)
	}
	if existing != nil && existing.Status != models.StatusFree {
		return netip.Addr{}, fmt.Errorf("address %s is %s: %w", addr, existing.Status, iperrors.ErrAddressInUse)
	}

	return addr, nil
}

// randomPoolLimit caps how many free candidates random-free gathers
// before drawing. Keeps the scan bounded on sparse v6 subnets.
const randomPoolLimit = 1024

// pickFree selects a free address from the subnet's usable range
// using the requested strategy. first-free stops at the first gap, so
// its cost is bounded by the number of occupied addresses.
func (a *Allocator) pickFree(ctx context.Context, domainID int, prefix netip.Prefix, strategy AllocationStrategy) (netip.Addr, error) {
	taken, err := a.takenAddresses(ctx, domainID)
	if err != nil {
		return netip.Addr{}, err
	}

	usable := models.UsableRange(prefix)
	var free []netip.Addr
	for addr := usable.First; ; addr = models.NextAddr(addr) {
		if !taken[addr.String()] {
			if strategy == StrategyFirstFree {
				return addr, nil
			}
			free = append(free, addr)
			if len(free) >= randomPoolLimit {
				break
			}
		}
		if addr == usable.Last {
			break
		}
	}

	if len(free) == 0 {
		return netip.Addr{}, fmt.Errorf("subnet %s: %w", prefix, iperrors.ErrSubnetExhausted)
	}
	return free[rand.Intn(len(free))], nil
}

// takenAddresses maps the IPs a strategy must skip: anything reserved
// or assigned anywhere in the layer3domain. Address rows are keyed by
// (layer3domain, ip), so a claim made through an overlapping child
// subnet occupies the same row a parent-scoped allocation would write.
func (a *Allocator) takenAddresses(ctx context.Context, domainID int) (map[string]bool, error) {
	addresses, err := a.store.ListDomainAddresses(ctx, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}

	taken := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		if address.Status != models.StatusFree {
			taken[address.IP] = true
		}
	}
	return taken, nil
}

// ReleaseAddress frees an address. Releasing an address that is
// already free, or was never allocated, succeeds without effect. Name
// and metadata are cleared so the next allocation starts fresh.
func (a *Allocator) ReleaseAddress(ctx context.Context, domainName, ip, author string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("invalid IP %s: %w", ip, err)
	}
	addr = addr.Unmap()

	return a.locker.WithDomainLock(ctx, domainName, func(ctx context.Context) error {
		domain, err := a.registry.Get(ctx, domainName)
		if err != nil {
			return err
		}

		address, err := a.store.GetAddress(ctx, domain.ID, addr.String())
		if err != nil {
			return fmt.Errorf("failed to load address %s: %w", addr, err)
		}
		if address == nil || address.Status == models.StatusFree {
			return nil
		}

		address.Clear()
		if err := a.store.SaveAddress(ctx, address); err != nil {
			return fmt.Errorf("failed to release address %s: %w", addr, err)
		}

		a.recordHistory(ctx, author, "release address", fmt.Sprintf("%s %s", domainName, addr), "")
		a.events.Publish(watch.AddressReleased{Domain: domainName, IP: addr.String()})
		return nil
	})
}

// MarkReserved marks an address so allocation strategies skip it.
// Reserved addresses carry no name and derive no records.
func (a *Allocator) MarkReserved(ctx context.Context, domainName, cidr, ip, author string) error {
	prefix, err := models.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("invalid IP %s: %w", ip, err)
	}
	addr = addr.Unmap()

	if !models.RangeOf(prefix).ContainsAddr(addr) {
		return fmt.Errorf("IP %s is outside %s: %w", addr, prefix, iperrors.ErrInvalidInput)
	}

	return a.locker.WithDomainLock(ctx, domainName, func(ctx context.Context) error {
		domain, err := a.registry.Get(ctx, domainName)
		if err != nil {
			return err
		}

		subnet, err := a.store.GetSubnet(ctx, domain.ID, prefix.String())
		if err != nil {
			return fmt.Errorf("failed to load subnet %s: %w", prefix, err)
		}
		if subnet == nil {
			return fmt.Errorf("subnet %s in %s: %w", prefix, domainName, iperrors.ErrNotFound)
		}

		existing, err := a.store.GetAddress(ctx, domain.ID, addr.String())
		if err != nil {
			return fmt.Errorf("failed to check address %s: %w", addr, err)
		}
		if existing != nil && existing.Status == models.StatusAssigned {
			return fmt.Errorf("address %s is assigned: %w", addr, iperrors.ErrAddressInUse)
		}

		address := &models.Address{
			SubnetID:       subnet.ID,
			Layer3DomainID: domain.ID,
			IP:             addr.String(),
			Status:         models.StatusReserved,
		}
		if existing != nil {
			address.ID = existing.ID
		}

		if err := a.store.SaveAddress(ctx, address); err != nil {
			return fmt.Errorf("failed to reserve address %s: %w", addr, err)
		}

		a.recordHistory(ctx, author, "mark reserved", fmt.Sprintf("%s %s", domainName, addr), "")
		return nil
	})
}

// GetAddress finds an address row by domain and IP
func (a *Allocator) GetAddress(ctx context.Context, domainName, ip string) (*models.Address, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("invalid IP %s: %w", ip, err)
	}

	domain, err := a.registry.Get(ctx, domainName)
	if err != nil {
		return nil, err
	}

	address, err := a.store.GetAddress(ctx, domain.ID, addr.Unmap().String())
	if err != nil {
		return nil, fmt.Errorf("failed to load address %s: %w", ip, err)
	}
	if address == nil {
		return nil, fmt.Errorf("address %s in %s: %w", ip, domainName, iperrors.ErrNotFound)
	}
	return address, nil
}

// ListAddresses returns all address rows in a subnet
func (a *Allocator) ListAddresses(ctx context.Context, domainName, cidr string) ([]*models.Address, error) {
	subnet, err := a.GetSubnet(ctx, domainName, cidr)
	if err != nil {
		return nil, err
	}
	return a.store.ListAddresses(ctx, subnet.ID)
}

func (a *Allocator) recordHistory(ctx context.Context, author, action, object, detail string) {
	if author == "" {
		author = "system"
	}

	entry := &models.HistoryEntry{
		Author: author,
		Action: action,
		Object: object,
		Detail: detail,
	}
	if err := a.store.AppendHistory(ctx, entry); err != nil {
		logging.Error("ipam", "Failed to record history entry", err, "action", action, "object", object)
		return
	}

	logging.LogMutation(author, action, object, detail)
}
