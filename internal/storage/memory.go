// internal/storage/memory.go
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ipzone.io/internal/models"
)

// MemoryStore implements Store entirely in process. It backs the
// test-target configuration where verification must not touch a real
// database, and it is what the engine's unit tests run against. The
// copy-on-read discipline keeps callers from mutating shared state.
type MemoryStore struct {
	mu sync.RWMutex

	nextID int

	domains    map[int]*models.Layer3Domain
	subnets    map[int]*models.Subnet
	addresses  map[int]*models.Address
	zones      map[int]*models.Zone
	records    map[int]*models.ResourceRecord
	syncStates map[string]*models.SyncState // keyed zoneID|output
	updates    []*models.OutputUpdate
	history    []*models.HistoryEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		domains:    make(map[int]*models.Layer3Domain),
		subnets:    make(map[int]*models.Subnet),
		addresses:  make(map[int]*models.Address),
		zones:      make(map[int]*models.Zone),
		records:    make(map[int]*models.ResourceRecord),
		syncStates: make(map[string]*models.SyncState),
	}
}

// id hands out the next row id. Callers hold the write lock.
func (s *MemoryStore) id() int {
	s.nextID++
	return s.nextID
}

func syncStateKey(zoneID int, output string) string {
	return fmt.Sprintf("%d|%s", zoneID, output)
}

// CreateLayer3Domain inserts a new layer3domain
func (s *MemoryStore) CreateLayer3Domain(ctx context.Context, domain *models.Layer3Domain) error {
	domain.Normalize()
	if err := domain.Validate(); err != nil {
		return fmt.Errorf("invalid layer3domain: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.domains {
		if existing.Name == domain.Name {
			return fmt.Errorf("layer3domain %s already exists", domain.Name)
		}
	}

	domain.ID = s.id()
	domain.CreatedAt = time.Now()
	domain.UpdatedAt = domain.CreatedAt

	stored := *domain
	s.domains[domain.ID] = &stored
	return nil
}

// GetLayer3Domain finds a layer3domain by name
func (s *MemoryStore) GetLayer3Domain(ctx context.Context, name string) (*models.Layer3Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, domain := range s.domains {
		if domain.Name == name {
			copied := *domain
			return &copied, nil
		}
	}
	return nil, nil
}

// ListLayer3Domains returns all layer3domains ordered by name
func (s *MemoryStore) ListLayer3Domains(ctx context.Context) ([]*models.Layer3Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	domains := make([]*models.Layer3Domain, 0, len(s.domains))
	for _, domain := range s.domains {
		copied := *domain
		domains = append(domains, &copied)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i].Name < domains[j].Name })
	return domains, nil
}

// UpdateLayer3Domain updates a layer3domain's name and comment
func (s *MemoryStore) UpdateLayer3Domain(ctx context.Context, domain *models.Layer3Domain) error {
	domain.Normalize()
	if err := domain.Validate(); err != nil {
		return fmt.Errorf("invalid layer3domain: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.domains[domain.ID]
	if !ok {
		return fmt.Errorf("layer3domain with ID %d not found", domain.ID)
	}

	existing.Name = domain.Name
	existing.Comment = domain.Comment
	existing.UpdatedAt = time.Now()
	domain.UpdatedAt = existing.UpdatedAt
	return nil
}

// DeleteLayer3Domain deletes a layer3domain by ID
func (s *MemoryStore) DeleteLayer3Domain(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[id]; !ok {
		return fmt.Errorf("layer3domain with ID %d not found", id)
	}
	delete(s.domains, id)
	return nil
}

// CountSubnets counts subnets belonging to a layer3domain
func (s *MemoryStore) CountSubnets(ctx context.Context, domainID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, subnet := range s.subnets {
		if subnet.Layer3DomainID == domainID {
			count++
		}
	}
	return count, nil
}

// CreateSubnet inserts a subnet and re-parents the given children
func (s *MemoryStore) CreateSubnet(ctx context.Context, subnet *models.Subnet, reparent []int) error {
	if err := subnet.Normalize(); err != nil {
		return err
	}
	if err := subnet.Validate(); err != nil {
		return fmt.Errorf("invalid subnet: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subnets {
		if existing.Layer3DomainID == subnet.Layer3DomainID && existing.CIDR == subnet.CIDR {
			return fmt.Errorf("subnet %s already exists in domain %d", subnet.CIDR, subnet.Layer3DomainID)
		}
	}

	subnet.ID = s.id()
	subnet.CreatedAt = time.Now()
	subnet.UpdatedAt = subnet.CreatedAt

	stored := *subnet
	s.subnets[subnet.ID] = &stored

	for _, childID := range reparent {
		if child, ok := s.subnets[childID]; ok {
			parentID := subnet.ID
			child.ParentID = &parentID
			child.UpdatedAt = time.Now()
		}
	}
	return nil
}

// GetSubnet finds a subnet by domain and canonical CIDR
func (s *MemoryStore) GetSubnet(ctx context.Context, domainID int, cidr string) (*models.Subnet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, subnet := range s.subnets {
		if subnet.Layer3DomainID == domainID && subnet.CIDR == cidr {
			copied := *subnet
			return &copied, nil
		}
	}
	return nil, nil
}

// ListSubnets returns all subnets in a layer3domain ordered by CIDR
func (s *MemoryStore) ListSubnets(ctx context.Context, domainID int) ([]*models.Subnet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subnets []*models.Subnet
	for _, subnet := range s.subnets {
		if subnet.Layer3DomainID == domainID {
			copied := *subnet
			subnets = append(subnets, &copied)
		}
	}
	sort.Slice(subnets, func(i, j int) bool { return subnets[i].CIDR < subnets[j].CIDR })
	return subnets, nil
}

// ListSubnetsByCIDR returns subnets with the given CIDR across all domains
func (s *MemoryStore) ListSubnetsByCIDR(ctx context.Context, cidr string) ([]*models.Subnet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var subnets []*models.Subnet
	for _, subnet := range s.subnets {
		if subnet.CIDR == cidr {
			copied := *subnet
			subnets = append(subnets, &copied)
		}
	}
	sort.Slice(subnets, func(i, j int) bool { return subnets[i].Layer3DomainID < subnets[j].Layer3DomainID })
	return subnets, nil
}

// DeleteSubnet deletes a subnet and promotes its children to its parent
func (s *MemoryStore) DeleteSubnet(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subnet, ok := s.subnets[id]
	if !ok {
		return fmt.Errorf("subnet with ID %d not found", id)
	}

	for _, child := range s.subnets {
		if child.ParentID != nil && *child.ParentID == id {
			child.ParentID = subnet.ParentID
			child.UpdatedAt = time.Now()
		}
	}

	delete(s.subnets, id)
	return nil
}

// CountSubnetChildren counts direct child subnets
func (s *MemoryStore) CountSubnetChildren(ctx context.Context, id int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, subnet := range s.subnets {
		if subnet.ParentID != nil && *subnet.ParentID == id {
			count++
		}
	}
	return count, nil
}

// CountActiveAddresses counts reserved and assigned addresses in a subnet
func (s *MemoryStore) CountActiveAddresses(ctx context.Context, subnetID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, address := range s.addresses {
		if address.SubnetID == subnetID && address.Status != models.StatusFree {
			count++
		}
	}
	return count, nil
}

// GetAddress finds an address row by domain and IP
func (s *MemoryStore) GetAddress(ctx context.Context, domainID int, ip string) (*models.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, address := range s.addresses {
		if address.Layer3DomainID == domainID && address.IP == ip {
			copied := *address
			return &copied, nil
		}
	}
	return nil, nil
}

// ListAddresses returns all address rows in a subnet ordered by IP
func (s *MemoryStore) ListAddresses(ctx context.Context, subnetID int) ([]*models.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var addresses []*models.Address
	for _, address := range s.addresses {
		if address.SubnetID == subnetID {
			copied := *address
			addresses = append(addresses, &copied)
		}
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i].IP < addresses[j].IP })
	return addresses, nil
}

// ListDomainAddresses returns all address rows in a layer3domain
// ordered by IP
func (s *MemoryStore) ListDomainAddresses(ctx context.Context, domainID int) ([]*models.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var addresses []*models.Address
	for _, address := range s.addresses {
		if address.Layer3DomainID == domainID {
			copied := *address
			addresses = append(addresses, &copied)
		}
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i].IP < addresses[j].IP })
	return addresses, nil
}

// ListNamedAddresses returns all assigned addresses carrying an FQDN
func (s *MemoryStore) ListNamedAddresses(ctx context.Context) ([]*models.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var addresses []*models.Address
	for _, address := range s.addresses {
		if address.Status == models.StatusAssigned && address.FQDN != "" {
			copied := *address
			addresses = append(addresses, &copied)
		}
	}
	sort.Slice(addresses, func(i, j int) bool { return addresses[i].IP < addresses[j].IP })
	return addresses, nil
}

// SaveAddress upserts an address row keyed by (layer3domain, ip)
func (s *MemoryStore) SaveAddress(ctx context.Context, address *models.Address) error {
	address.Normalize()
	if err := address.Validate(); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.addresses {
		if existing.Layer3DomainID == address.Layer3DomainID && existing.IP == address.IP {
			existing.SubnetID = address.SubnetID
			existing.Status = address.Status
			existing.FQDN = address.FQDN
			existing.Department = address.Department
			existing.Attributes = address.Attributes
			existing.UpdatedAt = time.Now()
			address.ID = existing.ID
			address.UpdatedAt = existing.UpdatedAt
			return nil
		}
	}

	address.ID = s.id()
	address.CreatedAt = time.Now()
	address.UpdatedAt = address.CreatedAt

	stored := *address
	s.addresses[address.ID] = &stored
	return nil
}

// DeleteFreeAddresses removes released rows from a subnet's table
func (s *MemoryStore) DeleteFreeAddresses(ctx context.Context, subnetID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, address := range s.addresses {
		if address.SubnetID == subnetID && address.Status == models.StatusFree {
			delete(s.addresses, id)
		}
	}
	return nil
}

// CreateZone inserts a new zone
func (s *MemoryStore) CreateZone(ctx context.Context, zone *models.Zone) error {
	zone.Normalize()
	if err := zone.Validate(); err != nil {
		return fmt.Errorf("invalid zone: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.zones {
		if existing.Name == zone.Name {
			return fmt.Errorf("zone %s already exists", zone.Name)
		}
	}

	zone.ID = s.id()
	zone.CreatedAt = time.Now()
	zone.UpdatedAt = zone.CreatedAt

	stored := *zone
	s.zones[zone.ID] = &stored
	return nil
}

// GetZone finds a zone by normalized name
func (s *MemoryStore) GetZone(ctx context.Context, name string) (*models.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name = models.NormalizeZoneName(name)
	for _, zone := range s.zones {
		if zone.Name == name {
			copied := *zone
			return &copied, nil
		}
	}
	return nil, nil
}

// ListZones returns all zones ordered by name
func (s *MemoryStore) ListZones(ctx context.Context) ([]*models.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zones := make([]*models.Zone, 0, len(s.zones))
	for _, zone := range s.zones {
		copied := *zone
		zones = append(zones, &copied)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Name < zones[j].Name })
	return zones, nil
}

// DeleteZone removes a zone, its records and its sync checkpoints
func (s *MemoryStore) DeleteZone(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.zones[id]; !ok {
		return fmt.Errorf("zone with ID %d not found", id)
	}

	for recordID, record := range s.records {
		if record.ZoneID == id {
			delete(s.records, recordID)
		}
	}

	for key, state := range s.syncStates {
		if state.ZoneID == id {
			delete(s.syncStates, key)
		}
	}

	delete(s.zones, id)
	return nil
}

// CommitRecordSet swaps the zone's derived records and persists the new
// serial and record hash
func (s *MemoryStore) CommitRecordSet(ctx context.Context, zone *models.Zone, derived []*models.ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.zones[zone.ID]
	if !ok {
		return fmt.Errorf("zone with ID %d not found", zone.ID)
	}

	for recordID, record := range s.records {
		if record.ZoneID == zone.ID && record.Derived {
			delete(s.records, recordID)
		}
	}

	for _, record := range derived {
		copied := *record
		copied.ID = s.id()
		copied.ZoneID = zone.ID
		copied.Derived = true
		copied.CreatedAt = time.Now()
		copied.UpdatedAt = copied.CreatedAt
		s.records[copied.ID] = &copied
	}

	stored.Serial = zone.Serial
	stored.RecordHash = zone.RecordHash
	stored.UpdatedAt = time.Now()
	return nil
}

// ListRecords returns a zone's full record set, derived and explicit
func (s *MemoryStore) ListRecords(ctx context.Context, zoneID int) ([]*models.ResourceRecord, error) {
	return s.listRecords(zoneID, false)
}

// ListExplicitRecords returns only a zone's operator overrides
func (s *MemoryStore) ListExplicitRecords(ctx context.Context, zoneID int) ([]*models.ResourceRecord, error) {
	return s.listRecords(zoneID, true)
}

func (s *MemoryStore) listRecords(zoneID int, explicitOnly bool) ([]*models.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*models.ResourceRecord
	for _, record := range s.records {
		if record.ZoneID != zoneID {
			continue
		}
		if explicitOnly && record.Derived {
			continue
		}
		copied := *record
		records = append(records, &copied)
	}
	models.SortRecords(records)
	return records, nil
}

// UpsertExplicitRecord stores an operator override
func (s *MemoryStore) UpsertExplicitRecord(ctx context.Context, record *models.ResourceRecord) error {
	record.Normalize()
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.ZoneID == record.ZoneID && existing.Name == record.Name &&
			existing.Type == record.Type && existing.Content == record.Content {
			existing.TTL = record.TTL
			existing.Derived = false
			existing.UpdatedAt = time.Now()
			record.ID = existing.ID
			return nil
		}
	}

	record.ID = s.id()
	record.Derived = false
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	stored := *record
	s.records[record.ID] = &stored
	return nil
}

// DeleteExplicitRecord removes operator overrides matching name and type
func (s *MemoryStore) DeleteExplicitRecord(ctx context.Context, zoneID int, name string, recordType models.RecordType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for id, record := range s.records {
		if record.ZoneID == zoneID && record.Name == name && record.Type == recordType && !record.Derived {
			delete(s.records, id)
			found = true
		}
	}

	if !found {
		return fmt.Errorf("no explicit record found for %s %s", name, recordType)
	}
	return nil
}

// GetSyncState finds the checkpoint for one zone/output pair
func (s *MemoryStore) GetSyncState(ctx context.Context, zoneID int, output string) (*models.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.syncStates[syncStateKey(zoneID, output)]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

// PutSyncState upserts the checkpoint for one zone/output pair
func (s *MemoryStore) PutSyncState(ctx context.Context, state *models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := syncStateKey(state.ZoneID, state.Output)
	if existing, ok := s.syncStates[key]; ok {
		state.ID = existing.ID
	} else {
		state.ID = s.id()
	}
	state.UpdatedAt = time.Now()

	copied := *state
	s.syncStates[key] = &copied
	return nil
}

// EnqueueOutputUpdate appends a pending zone change notice
func (s *MemoryStore) EnqueueOutputUpdate(ctx context.Context, update *models.OutputUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	update.ID = s.id()
	update.CreatedAt = time.Now()

	copied := *update
	s.updates = append(s.updates, &copied)
	return nil
}

// DequeueOutputUpdates removes and returns up to limit pending updates
func (s *MemoryStore) DequeueOutputUpdates(ctx context.Context, limit int) ([]*models.OutputUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit > len(s.updates) {
		limit = len(s.updates)
	}

	drained := make([]*models.OutputUpdate, 0, limit)
	for _, update := range s.updates[:limit] {
		copied := *update
		drained = append(drained, &copied)
	}
	s.updates = s.updates[limit:]
	return drained, nil
}

// AppendHistory writes one row of the mutation journal
func (s *MemoryStore) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.id()
	entry.CreatedAt = time.Now()

	copied := *entry
	s.history = append(s.history, &copied)
	return nil
}

// ListHistory returns the newest journal entries, most recent first
func (s *MemoryStore) ListHistory(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit > len(s.history) {
		limit = len(s.history)
	}

	entries := make([]*models.HistoryEntry, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(entries) < limit; i-- {
		copied := *s.history[i]
		entries = append(entries, &copied)
	}
	return entries, nil
}

// Health always succeeds for the in-memory store
func (s *MemoryStore) Health(ctx context.Context) error {
	return nil
}

// Close releases nothing for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
