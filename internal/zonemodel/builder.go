// internal/zonemodel/builder.go
package zonemodel

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"ipzone.io/internal/config"
	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/locking"
	"ipzone.io/internal/logging"
	"ipzone.io/internal/models"
	"ipzone.io/internal/storage"
	"ipzone.io/internal/watch"
)

// ProfileRecord is one record a zone profile seeds at creation
type ProfileRecord struct {
	Name    string
	Type    models.RecordType
	TTL     uint32
	Content string
}

// Profile is a named template of SOA defaults and initial records
type Profile struct {
	SOA     config.SOAConfig
	Records []ProfileRecord
}

// Builder derives each zone's record set from allocator state and
// keeps the stored model consistent: explicit overrides win over
// derived records, the output is canonical and deterministic, and
// the SOA serial moves only when the record set actually changes.
type Builder struct {
	store    storage.Store
	locker   locking.Locker
	events   *watch.Queue
	cache    *storage.SnapshotCache
	defaults config.SOAConfig
	profiles map[string]Profile
}

// NewBuilder creates a zone model builder
func NewBuilder(store storage.Store, locker locking.Locker, events *watch.Queue, cache *storage.SnapshotCache, defaults config.SOAConfig, profiles map[string]Profile) *Builder {
	return &Builder{
		store:    store,
		locker:   locker,
		events:   events,
		cache:    cache,
		defaults: defaults,
		profiles: profiles,
	}
}

// ZoneOptions carries optional fields for zone creation. Zero SOA
// values fall back to the profile, then to the configured defaults.
type ZoneOptions struct {
	Profile    string
	PrimaryNS  string
	Mbox       string
	Refresh    uint32
	Retry      uint32
	Expire     uint32
	Minimum    uint32
	DefaultTTL uint32
	Author     string
}

// CreateZone registers a new forward or reverse zone
func (b *Builder) CreateZone(ctx context.Context, name string, opts ZoneOptions) (*models.Zone, error) {
	name = models.NormalizeZoneName(name)

	existing, err := b.store.GetZone(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check zone %s: %w", name, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("zone %s: %w", name, iperrors.ErrAlreadyExists)
	}

	soa := b.defaults
	var seed []ProfileRecord
	if opts.Profile != "" {
		profile, ok := b.profiles[opts.Profile]
		if !ok {
			return nil, fmt.Errorf("zone profile %q: %w", opts.Profile, iperrors.ErrNotFound)
		}
		soa = mergeSOA(soa, profile.SOA)
		seed = profile.Records
	}
	soa = mergeSOA(soa, config.SOAConfig{
		PrimaryNS:  opts.PrimaryNS,
		Mbox:       opts.Mbox,
		Refresh:    opts.Refresh,
		Retry:      opts.Retry,
		Expire:     opts.Expire,
		Minimum:    opts.Minimum,
		DefaultTTL: opts.DefaultTTL,
	})

	// Serial 0 with the empty record-set hash: the first rebuild that
	// actually produces records lands on serial 1, so the first synced
	// serial is 1.
	zone := &models.Zone{
		Name:       name,
		PrimaryNS:  soa.PrimaryNS,
		Mbox:       soa.Mbox,
		Serial:     0,
		RecordHash: models.RecordSetHash(nil),
		Refresh:    soa.Refresh,
		Retry:      soa.Retry,
		Expire:     soa.Expire,
		Minimum:    soa.Minimum,
		DefaultTTL: soa.DefaultTTL,
		Profile:    opts.Profile,
	}

	if err := b.store.CreateZone(ctx, zone); err != nil {
		return nil, fmt.Errorf("failed to create zone %s: %w", name, err)
	}

	for _, rec := range seed {
		record := &models.ResourceRecord{
			ZoneID:  zone.ID,
			Name:    rec.Name,
			Type:    rec.Type,
			TTL:     rec.TTL,
			Content: rec.Content,
		}
		if err := b.store.UpsertExplicitRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to seed record %s %s in %s: %w", rec.Name, rec.Type, name, err)
		}
	}

	b.recordHistory(ctx, opts.Author, "create zone", name, opts.Profile)
	b.enqueueUpdate(ctx, zone.Name, zone.Serial, "created")
	b.events.Publish(watch.ZoneCreated{Zone: name})

	return zone, nil
}

// CreateReverseZone registers the reverse zone covering a prefix,
// widened to the octet or nibble boundary reverse delegation uses
func (b *Builder) CreateReverseZone(ctx context.Context, prefix netip.Prefix, opts ZoneOptions) (*models.Zone, error) {
	name, err := models.ReverseZoneName(prefix)
	if err != nil {
		return nil, err
	}
	return b.CreateZone(ctx, name, opts)
}

// mergeSOA overlays non-zero fields of over onto base
func mergeSOA(base, over config.SOAConfig) config.SOAConfig {
	if over.PrimaryNS != "" {
		base.PrimaryNS = over.PrimaryNS
	}
	if over.Mbox != "" {
		base.Mbox = over.Mbox
	}
	if over.Refresh != 0 {
		base.Refresh = over.Refresh
	}
	if over.Retry != 0 {
		base.Retry = over.Retry
	}
	if over.Expire != 0 {
		base.Expire = over.Expire
	}
	if over.Minimum != 0 {
		base.Minimum = over.Minimum
	}
	if over.DefaultTTL != 0 {
		base.DefaultTTL = over.DefaultTTL
	}
	return base
}

// GetZone finds a zone by name. Returns ErrNotFound when missing.
func (b *Builder) GetZone(ctx context.Context, name string) (*models.Zone, error) {
	zone, err := b.store.GetZone(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load zone %s: %w", name, err)
	}
	if zone == nil {
		return nil, fmt.Errorf("zone %s: %w", name, iperrors.ErrNotFound)
	}
	return zone, nil
}

// ListZones returns all zones ordered by name
func (b *Builder) ListZones(ctx context.Context) ([]*models.Zone, error) {
	return b.store.ListZones(ctx)
}

// DeleteZone removes a zone with its derived and explicit records
func (b *Builder) DeleteZone(ctx context.Context, name, author string) error {
	return b.locker.WithZoneLock(ctx, name, func(ctx context.Context) error {
		zone, err := b.GetZone(ctx, name)
		if err != nil {
			return err
		}

		if err := b.store.DeleteZone(ctx, zone.ID); err != nil {
			return fmt.Errorf("failed to delete zone %s: %w", name, err)
		}

		b.cache.Invalidate(zone.Name)
		b.recordHistory(ctx, author, "delete zone", zone.Name, "")
		b.enqueueUpdate(ctx, zone.Name, zone.Serial, "deleted")
		b.events.Publish(watch.ZoneDeleted{Zone: zone.Name})
		return nil
	})
}

// SetRecord stores an explicit override. Overrides shadow derived
// records of the same owner name and type from the next rebuild on.
func (b *Builder) SetRecord(ctx context.Context, zoneName, name string, recordType models.RecordType, ttl uint32, content, author string) error {
	zone, err := b.GetZone(ctx, zoneName)
	if err != nil {
		return err
	}

	record := &models.ResourceRecord{
		ZoneID:  zone.ID,
		Name:    name,
		Type:    recordType,
		TTL:     ttl,
		Content: content,
	}
	if err := b.store.UpsertExplicitRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to set record %s %s in %s: %w", name, recordType, zoneName, err)
	}

	b.recordHistory(ctx, author, "set record", fmt.Sprintf("%s %s %s", zoneName, name, recordType), content)

	_, err = b.Rebuild(ctx, zone.Name)
	return err
}

// DeleteRecord removes explicit overrides for an owner name and type
func (b *Builder) DeleteRecord(ctx context.Context, zoneName, name string, recordType models.RecordType, author string) error {
	zone, err := b.GetZone(ctx, zoneName)
	if err != nil {
		return err
	}

	if err := b.store.DeleteExplicitRecord(ctx, zone.ID, strings.ToLower(name), recordType); err != nil {
		return fmt.Errorf("failed to delete record %s %s in %s: %w", name, recordType, zoneName, err)
	}

	b.recordHistory(ctx, author, "delete record", fmt.Sprintf("%s %s %s", zoneName, name, recordType), "")

	_, err = b.Rebuild(ctx, zone.Name)
	return err
}

// Rebuild recomputes a zone's record set from allocator state. The
// derived set is deterministic: identical allocator state yields a
// byte-identical record set. The serial advances only when the
// canonical hash changes and never decreases; an unchanged rebuild
// writes nothing.
func (b *Builder) Rebuild(ctx context.Context, zoneName string) (*models.Zone, error) {
	var rebuilt *models.Zone
	err := b.locker.WithZoneLock(ctx, zoneName, func(ctx context.Context) error {
		zone, err := b.GetZone(ctx, zoneName)
		if err != nil {
			return err
		}

		zones, err := b.store.ListZones(ctx)
		if err != nil {
			return fmt.Errorf("failed to list zones: %w", err)
		}

		derived, err := b.deriveRecords(ctx, zone, zones)
		if err != nil {
			return err
		}

		explicit, err := b.store.ListExplicitRecords(ctx, zone.ID)
		if err != nil {
			return fmt.Errorf("failed to load overrides for %s: %w", zoneName, err)
		}

		merged := models.MergeOverrides(derived, explicit)
		models.SortRecords(merged)
		hash := models.RecordSetHash(merged)

		if hash == zone.RecordHash {
			rebuilt = zone
			return nil
		}

		zone.Serial++
		zone.RecordHash = hash

		// CommitRecordSet swaps derived rows only; explicit overrides
		// keep their own rows.
		if err := b.store.CommitRecordSet(ctx, zone, onlyDerived(merged)); err != nil {
			return fmt.Errorf("failed to commit record set for %s: %w", zoneName, err)
		}

		b.cache.Invalidate(zone.Name)
		b.enqueueUpdate(ctx, zone.Name, zone.Serial, "changed")
		b.events.Publish(watch.RecordsChanged{Zone: zone.Name, Serial: zone.Serial})

		logging.Info("zonemodel", "Zone rebuilt", "zone", zone.Name, "serial", zone.Serial, "records", len(merged))

		rebuilt = zone
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rebuilt, nil
}

// RebuildAll rebuilds every zone, continuing past per-zone failures
func (b *Builder) RebuildAll(ctx context.Context) error {
	zones, err := b.store.ListZones(ctx)
	if err != nil {
		return fmt.Errorf("failed to list zones: %w", err)
	}

	var firstErr error
	for _, zone := range zones {
		if _, err := b.Rebuild(ctx, zone.Name); err != nil {
			logging.Error("zonemodel", "Zone rebuild failed", err, "zone", zone.Name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Snapshot returns the zone's cached snapshot, building it on miss
func (b *Builder) Snapshot(ctx context.Context, zoneName string) (*storage.SnapshotResult, error) {
	result, err := b.cache.GetSnapshot(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("zone %s: %w", zoneName, iperrors.ErrNotFound)
	}
	return result, nil
}

// deriveRecords computes the records allocator state implies for one
// zone: apex NS, forward A/AAAA for named addresses whose FQDN falls
// under the zone, PTR for addresses a reverse zone covers. An FQDN
// owned by a more specific zone derives nothing here.
func (b *Builder) deriveRecords(ctx context.Context, zone *models.Zone, zones []*models.Zone) ([]*models.ResourceRecord, error) {
	addresses, err := b.store.ListNamedAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list named addresses: %w", err)
	}

	// Apex NS records come from profiles or explicit overrides, never
	// from derivation, so an address-only zone carries exactly its
	// address records.
	var records []*models.ResourceRecord

	for _, address := range addresses {
		addr, err := address.Addr()
		if err != nil {
			continue
		}

		if zone.IsReverse() {
			owner, err := models.ReverseName(addr)
			if err != nil {
				continue
			}
			if mostSpecificZone(zones, owner) != zone.ID {
				continue
			}
			records = append(records, &models.ResourceRecord{
				ZoneID:  zone.ID,
				Name:    zone.RelativeName(owner),
				Type:    models.RecordTypePTR,
				Content: dns.Fqdn(address.FQDN),
				Derived: true,
			})
			continue
		}

		if mostSpecificZone(zones, address.FQDN) != zone.ID {
			continue
		}

		recordType := models.RecordTypeA
		if addr.Is6() {
			recordType = models.RecordTypeAAAA
		}
		records = append(records, &models.ResourceRecord{
			ZoneID:  zone.ID,
			Name:    zone.RelativeName(address.FQDN),
			Type:    recordType,
			Content: addr.String(),
			Derived: true,
		})
	}

	for _, record := range records {
		record.Normalize()
	}
	return records, nil
}

// mostSpecificZone returns the id of the longest zone name containing
// the FQDN, or 0 when no zone does
func mostSpecificZone(zones []*models.Zone, fqdn string) int {
	bestID := 0
	bestLen := -1
	for _, zone := range zones {
		if zone.ContainsName(fqdn) && len(zone.Name) > bestLen {
			bestID = zone.ID
			bestLen = len(zone.Name)
		}
	}
	return bestID
}

// onlyDerived filters a merged record set down to the derived rows
func onlyDerived(records []*models.ResourceRecord) []*models.ResourceRecord {
	derived := make([]*models.ResourceRecord, 0, len(records))
	for _, record := range records {
		if record.Derived {
			derived = append(derived, record)
		}
	}
	return derived
}

// Run subscribes to allocator change events and rebuilds zones until
// the context is cancelled. Runs as the builder's background loop in
// the daemon; tests call Rebuild directly.
func (b *Builder) Run(ctx context.Context) {
	events, cancel := b.events.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.(type) {
			case watch.AddressAllocated, watch.AddressReleased, watch.SubnetCreated, watch.SubnetDeleted:
				if err := b.RebuildAll(ctx); err != nil {
					logging.Error("zonemodel", "Background rebuild failed", err)
				}
			}
		}
	}
}

func (b *Builder) enqueueUpdate(ctx context.Context, zoneName string, serial uint32, op string) {
	update := &models.OutputUpdate{
		ZoneName: zoneName,
		Serial:   serial,
		Op:       op,
	}
	if err := b.store.EnqueueOutputUpdate(ctx, update); err != nil {
		logging.Error("zonemodel", "Failed to enqueue output update", err, "zone", zoneName, "op", op)
	}
}

func (b *Builder) recordHistory(ctx context.Context, author, action, object, detail string) {
	if author == "" {
		author = "system"
	}

	entry := &models.HistoryEntry{
		Author: author,
		Action: action,
		Object: object,
		Detail: detail,
	}
	if err := b.store.AppendHistory(ctx, entry); err != nil {
		logging.Error("zonemodel", "Failed to record history entry", err, "action", action, "object", object)
		return
	}

	logging.LogMutation(author, action, object, detail)
}
