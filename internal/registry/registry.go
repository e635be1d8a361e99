// internal/registry/registry.go
package registry

import (
	"context"
	"fmt"
	"net/netip"

	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/logging"
	"ipzone.io/internal/models"
	"ipzone.io/internal/storage"
)

// Registry manages layer3domains, the engine's top-level routing
// contexts. Every subnet and address belongs to exactly one
// layer3domain; the registry also owns the address-space reuse rule
// the allocator consults before attaching a new range.
type Registry struct {
	store     storage.Store
	whitelist []netip.Prefix
}

// Config holds configuration for the registry
type Config struct {
	// ReuseWhitelist lists the ranges that may appear in any number of
	// layer3domains. Everything else must be globally unique.
	ReuseWhitelist []netip.Prefix
}

// NewRegistry creates a registry over the given store
func NewRegistry(store storage.Store, config *Config) *Registry {
	var whitelist []netip.Prefix
	if config != nil {
		whitelist = config.ReuseWhitelist
	}

	return &Registry{
		store:     store,
		whitelist: whitelist,
	}
}

// CreateOptions carries optional fields for domain creation
type CreateOptions struct {
	Comment   string
	CreatedBy string
}

// Create registers a new layer3domain
func (r *Registry) Create(ctx context.Context, name string, opts CreateOptions) (*models.Layer3Domain, error) {
	domain := &models.Layer3Domain{
		Name:      name,
		Comment:   opts.Comment,
		CreatedBy: opts.CreatedBy,
	}
	domain.Normalize()

	existing, err := r.store.GetLayer3Domain(ctx, domain.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check layer3domain %s: %w", domain.Name, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("layer3domain %s: %w", domain.Name, iperrors.ErrAlreadyExists)
	}

	if err := r.store.CreateLayer3Domain(ctx, domain); err != nil {
		return nil, fmt.Errorf("failed to create layer3domain %s: %w", domain.Name, err)
	}

	r.recordHistory(ctx, opts.CreatedBy, "create layer3domain", domain.Name, opts.Comment)
	return domain, nil
}

// Get finds a layer3domain by name. Returns ErrNotFound when missing.
func (r *Registry) Get(ctx context.Context, name string) (*models.Layer3Domain, error) {
	domain, err := r.store.GetLayer3Domain(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load layer3domain %s: %w", name, err)
	}
	if domain == nil {
		return nil, fmt.Errorf("layer3domain %s: %w", name, iperrors.ErrNotFound)
	}
	return domain, nil
}

// List returns all layer3domains ordered by name
func (r *Registry) List(ctx context.Context) ([]*models.Layer3Domain, error) {
	return r.store.ListLayer3Domains(ctx)
}

// Rename changes a layer3domain's name
func (r *Registry) Rename(ctx context.Context, name, newName, author string) (*models.Layer3Domain, error) {
	domain, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	taken, err := r.store.GetLayer3Domain(ctx, newName)
	if err != nil {
		return nil, fmt.Errorf("failed to check layer3domain %s: %w", newName, err)
	}
	if taken != nil {
		return nil, fmt.Errorf("layer3domain %s: %w", newName, iperrors.ErrAlreadyExists)
	}

	domain.Name = newName
	if err := r.store.UpdateLayer3Domain(ctx, domain); err != nil {
		return nil, fmt.Errorf("failed to rename layer3domain %s: %w", name, err)
	}

	r.recordHistory(ctx, author, "rename layer3domain", name, fmt.Sprintf("renamed to %s", domain.Name))
	return domain, nil
}

// Delete removes a layer3domain. Domains still holding subnets cannot
// be deleted.
func (r *Registry) Delete(ctx context.Context, name, author string) error {
	domain, err := r.Get(ctx, name)
	if err != nil {
		return err
	}

	count, err := r.store.CountSubnets(ctx, domain.ID)
	if err != nil {
		return fmt.Errorf("failed to count subnets in %s: %w", name, err)
	}
	if count > 0 {
		return fmt.Errorf("layer3domain %s holds %d subnets: %w", name, count, iperrors.ErrDomainNotEmpty)
	}

	if err := r.store.DeleteLayer3Domain(ctx, domain.ID); err != nil {
		return fmt.Errorf("failed to delete layer3domain %s: %w", name, err)
	}

	r.recordHistory(ctx, author, "delete layer3domain", name, "")
	return nil
}

// EnsureRangeAllowed enforces the address-space reuse rule for a range
// about to be attached to the given layer3domain. Whitelisted ranges
// may appear in any number of domains; any other range must not
// overlap an existing subnet in a different domain.
func (r *Registry) EnsureRangeAllowed(ctx context.Context, domainID int, prefix netip.Prefix) error {
	if r.isWhitelisted(prefix) {
		return nil
	}

	rng := models.RangeOf(prefix)

	domains, err := r.store.ListLayer3Domains(ctx)
	if err != nil {
		return fmt.Errorf("failed to list layer3domains: %w", err)
	}

	for _, domain := range domains {
		if domain.ID == domainID {
			continue
		}

		subnets, err := r.store.ListSubnets(ctx, domain.ID)
		if err != nil {
			return fmt.Errorf("failed to list subnets in %s: %w", domain.Name, err)
		}

		for _, subnet := range subnets {
			other, err := subnet.Range()
			if err != nil {
				continue
			}
			if rng.Overlaps(other) {
				return fmt.Errorf("range %s overlaps %s in layer3domain %s: %w",
					prefix, subnet.CIDR, domain.Name, iperrors.ErrAddressSpaceConflict)
			}
		}
	}

	return nil
}

// isWhitelisted reports whether the range sits entirely inside one of
// the configured reuse ranges
func (r *Registry) isWhitelisted(prefix netip.Prefix) bool {
	rng := models.RangeOf(prefix)
	for _, allowed := range r.whitelist {
		if models.RangeOf(allowed).Contains(rng) {
			return true
		}
	}
	return false
}

func (r *Registry) recordHistory(ctx context.Context, author, action, object, detail string) {
	if author == "" {
		author = "system"
	}

	entry := &models.HistoryEntry{
		Author: author,
		Action: action,
		Object: object,
		Detail: detail,
	}
	if err := r.store.AppendHistory(ctx, entry); err != nil {
		logging.Error("registry", "Failed to record history entry", err, "action", action, "object", object)
		return
	}

	logging.LogMutation(author, action, object, detail)
}
