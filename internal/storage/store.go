// internal/storage/store.go
package storage

import (
	"context"

	"ipzone.io/internal/models"
)

// Store is the contract for the engine's durable state. Lookups return
// (nil, nil) when the object does not exist; mutations that need
// multi-row atomicity run inside one transaction on the backing store.
// Cross-request serialization is the locking package's job, not the
// store's.
type Store interface {
	// Layer3domain operations
	CreateLayer3Domain(ctx context.Context, domain *models.Layer3Domain) error
	GetLayer3Domain(ctx context.Context, name string) (*models.Layer3Domain, error)
	ListLayer3Domains(ctx context.Context) ([]*models.Layer3Domain, error)
	UpdateLayer3Domain(ctx context.Context, domain *models.Layer3Domain) error
	DeleteLayer3Domain(ctx context.Context, id int) error
	CountSubnets(ctx context.Context, domainID int) (int, error)

	// Subnet operations. CreateSubnet inserts the subnet and re-parents
	// the given child subnets beneath it atomically; DeleteSubnet promotes
	// children to the deleted subnet's parent.
	CreateSubnet(ctx context.Context, subnet *models.Subnet, reparent []int) error
	GetSubnet(ctx context.Context, domainID int, cidr string) (*models.Subnet, error)
	ListSubnets(ctx context.Context, domainID int) ([]*models.Subnet, error)
	ListSubnetsByCIDR(ctx context.Context, cidr string) ([]*models.Subnet, error)
	DeleteSubnet(ctx context.Context, id int) error
	CountSubnetChildren(ctx context.Context, id int) (int, error)
	CountActiveAddresses(ctx context.Context, subnetID int) (int, error)

	// Address operations. SaveAddress upserts by (layer3domain, ip).
	GetAddress(ctx context.Context, domainID int, ip string) (*models.Address, error)
	ListAddresses(ctx context.Context, subnetID int) ([]*models.Address, error)
	ListDomainAddresses(ctx context.Context, domainID int) ([]*models.Address, error)
	ListNamedAddresses(ctx context.Context) ([]*models.Address, error)
	SaveAddress(ctx context.Context, address *models.Address) error
	DeleteFreeAddresses(ctx context.Context, subnetID int) error

	// Zone operations. CommitRecordSet swaps the zone's derived records
	// and advances serial + record hash in one transaction.
	CreateZone(ctx context.Context, zone *models.Zone) error
	GetZone(ctx context.Context, name string) (*models.Zone, error)
	ListZones(ctx context.Context) ([]*models.Zone, error)
	DeleteZone(ctx context.Context, id int) error
	CommitRecordSet(ctx context.Context, zone *models.Zone, derived []*models.ResourceRecord) error

	// Record operations for explicit overrides
	ListRecords(ctx context.Context, zoneID int) ([]*models.ResourceRecord, error)
	ListExplicitRecords(ctx context.Context, zoneID int) ([]*models.ResourceRecord, error)
	UpsertExplicitRecord(ctx context.Context, record *models.ResourceRecord) error
	DeleteExplicitRecord(ctx context.Context, zoneID int, name string, recordType models.RecordType) error

	// Sync checkpoint and update queue operations
	GetSyncState(ctx context.Context, zoneID int, output string) (*models.SyncState, error)
	PutSyncState(ctx context.Context, state *models.SyncState) error
	EnqueueOutputUpdate(ctx context.Context, update *models.OutputUpdate) error
	DequeueOutputUpdates(ctx context.Context, limit int) ([]*models.OutputUpdate, error)

	// History journal
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	ListHistory(ctx context.Context, limit int) ([]*models.HistoryEntry, error)

	// System operations
	Health(ctx context.Context) error
	Close() error
}
