// internal/models/record.go
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

// RecordType represents supported DNS record types
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeAAAA  RecordType = "AAAA"
	RecordTypeCNAME RecordType = "CNAME"
	RecordTypeTXT   RecordType = "TXT"
	RecordTypeMX    RecordType = "MX"
	RecordTypeNS    RecordType = "NS"
	RecordTypePTR   RecordType = "PTR"
	RecordTypeSOA   RecordType = "SOA"
)

// IsValid returns true if the record type is supported
func (rt RecordType) IsValid() bool {
	switch rt {
	case RecordTypeA, RecordTypeAAAA, RecordTypeCNAME, RecordTypeTXT,
		RecordTypeMX, RecordTypeNS, RecordTypePTR, RecordTypeSOA:
		return true
	default:
		return false
	}
}

// String returns the string representation of the record type
func (rt RecordType) String() string {
	return string(rt)
}

// ResourceRecord is one row of a zone's record set. Derived records are
// recomputed from allocator state on every rebuild; explicit records are
// operator overrides and win over derived records with the same name and
// type.
type ResourceRecord struct {
	ID        int        `db:"id"`
	ZoneID    int        `db:"zone_id"`
	Name      string     `db:"name"` // owner name relative to the zone apex, "@" for the apex
	Type      RecordType `db:"record_type"`
	TTL       uint32     `db:"ttl"` // 0 means "use the zone default"
	Content   string     `db:"content"`
	Derived   bool       `db:"derived"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Key identifies the override scope: an explicit record shadows every
// derived record sharing its key.
func (r *ResourceRecord) Key() string {
	return r.Name + "|" + r.Type.String()
}

// Validate performs validation on a resource record
func (r *ResourceRecord) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("record name cannot be empty")
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("invalid record type: %s", r.Type)
	}
	if r.Content == "" {
		return fmt.Errorf("record content cannot be empty")
	}
	if r.TTL > 2147483647 {
		return fmt.Errorf("TTL too large: %d", r.TTL)
	}

	switch r.Type {
	case RecordTypeA:
		if ip := net.ParseIP(r.Content); ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid IPv4 address: %s", r.Content)
		}
	case RecordTypeAAAA:
		if ip := net.ParseIP(r.Content); ip == nil || ip.To4() != nil {
			return fmt.Errorf("invalid IPv6 address: %s", r.Content)
		}
	case RecordTypeCNAME, RecordTypeNS, RecordTypePTR:
		if !isValidFQDN(r.Content) {
			return fmt.Errorf("invalid domain name target: %s", r.Content)
		}
	case RecordTypeMX:
		// MX content is "preference target"
		fields := strings.Fields(r.Content)
		if len(fields) != 2 || !isValidFQDN(fields[1]) {
			return fmt.Errorf("invalid MX content: %s", r.Content)
		}
	case RecordTypeTXT:
		if len(r.Content) > 255 {
			return fmt.Errorf("TXT record too long: %d characters", len(r.Content))
		}
	case RecordTypeSOA:
		if len(strings.Fields(r.Content)) != 7 {
			return fmt.Errorf("SOA content must have exactly 7 fields")
		}
	}
	return nil
}

// Normalize ensures consistent formatting for deterministic comparison
func (r *ResourceRecord) Normalize() {
	if r.Name != "@" {
		r.Name = strings.ToLower(strings.TrimSuffix(r.Name, "."))
	}
	switch r.Type {
	case RecordTypeCNAME, RecordTypeNS, RecordTypePTR:
		r.Content = strings.ToLower(strings.TrimSuffix(r.Content, "."))
	case RecordTypeA, RecordTypeAAAA:
		if ip := net.ParseIP(r.Content); ip != nil {
			r.Content = ip.String()
		}
	}
}

// SortRecords orders a record set canonically by owner name, type and
// content. Identical allocator state therefore always yields a
// byte-identical record list, which is what makes diffing possible.
func SortRecords(records []*ResourceRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		if records[i].Type != records[j].Type {
			return records[i].Type < records[j].Type
		}
		return records[i].Content < records[j].Content
	})
}

// RecordSetHash computes a content hash over a canonically sorted record
// set. The SOA serial advances only when this hash changes, so the hash
// must never include the serial itself.
func RecordSetHash(records []*ResourceRecord) string {
	sorted := make([]*ResourceRecord, len(records))
	copy(sorted, records)
	SortRecords(sorted)

	h := sha256.New()
	for _, r := range sorted {
		fmt.Fprintf(h, "%s|%s|%d|%s\n", r.Name, r.Type, r.TTL, r.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MergeOverrides combines derived records with explicit overrides.
// An explicit record suppresses all derived records sharing its
// name/type key; everything else passes through.
func MergeOverrides(derived, explicit []*ResourceRecord) []*ResourceRecord {
	shadowed := make(map[string]bool, len(explicit))
	for _, r := range explicit {
		shadowed[r.Key()] = true
	}

	merged := make([]*ResourceRecord, 0, len(derived)+len(explicit))
	for _, r := range derived {
		if !shadowed[r.Key()] {
			merged = append(merged, r)
		}
	}
	merged = append(merged, explicit...)
	SortRecords(merged)
	return merged
}
