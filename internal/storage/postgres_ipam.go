// internal/storage/postgres_ipam.go
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ipzone.io/internal/models"
)

// CreateSubnet inserts a subnet and re-parents the given children beneath
// it in one transaction. Used by the allocator's auto-parenting so
// out-of-order creation keeps the most-specific-subnet invariant.
func (s *PostgresStore) CreateSubnet(ctx context.Context, subnet *models.Subnet, reparent []int) error {
	if err := subnet.Normalize(); err != nil {
		return err
	}
	if err := subnet.Validate(); err != nil {
		return fmt.Errorf("invalid subnet: %w", err)
	}

	attrs, err := marshalAttrs(subnet.Attributes)
	if err != nil {
		return err
	}

	return s.pool.Transaction(ctx, s.connectionName, func(tx *sql.Tx) error {
		sqlQuery := `
			INSERT INTO subnets (layer3domain_id, cidr, parent_id, vlan, department, attributes)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`

		row := tx.QueryRowContext(ctx, sqlQuery,
			subnet.Layer3DomainID,
			subnet.CIDR,
			subnet.ParentID,
			subnet.VLAN,
			subnet.Department,
			attrs,
		)

		if err := row.Scan(&subnet.ID, &subnet.CreatedAt, &subnet.UpdatedAt); err != nil {
			return fmt.Errorf("failed to create subnet %s: %w", subnet.CIDR, err)
		}

		for _, childID := range reparent {
			if _, err := tx.ExecContext(ctx,
				`UPDATE subnets SET parent_id = $1, updated_at = NOW() WHERE id = $2`,
				subnet.ID, childID); err != nil {
				return fmt.Errorf("failed to re-parent subnet %d under %s: %w", childID, subnet.CIDR, err)
			}
		}

		return nil
	})
}

// GetSubnet finds a subnet by domain and canonical CIDR
func (s *PostgresStore) GetSubnet(ctx context.Context, domainID int, cidr string) (*models.Subnet, error) {
	sqlQuery := `
		SELECT id, layer3domain_id, cidr, parent_id, vlan, department, attributes, created_at, updated_at
		FROM subnets
		WHERE layer3domain_id = $1 AND cidr = $2
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, domainID, cidr)

	subnet, err := scanSubnet(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No subnet found, not an error
		}
		return nil, fmt.Errorf("failed to scan subnet %s: %w", cidr, err)
	}

	return subnet, nil
}

// ListSubnets returns all subnets in a layer3domain ordered by CIDR
func (s *PostgresStore) ListSubnets(ctx context.Context, domainID int) ([]*models.Subnet, error) {
	sqlQuery := `
		SELECT id, layer3domain_id, cidr, parent_id, vlan, department, attributes, created_at, updated_at
		FROM subnets
		WHERE layer3domain_id = $1
		ORDER BY cidr
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subnets for domain %d: %w", domainID, err)
	}
	defer rows.Close()

	return collectSubnets(rows)
}

// ListSubnetsByCIDR returns subnets with the given CIDR across all
// domains. Used for the whitelist reuse check.
func (s *PostgresStore) ListSubnetsByCIDR(ctx context.Context, cidr string) ([]*models.Subnet, error) {
	sqlQuery := `
		SELECT id, layer3domain_id, cidr, parent_id, vlan, department, attributes, created_at, updated_at
		FROM subnets
		WHERE cidr = $1
		ORDER BY layer3domain_id
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, cidr)
	if err != nil {
		return nil, fmt.Errorf("failed to query subnets for cidr %s: %w", cidr, err)
	}
	defer rows.Close()

	return collectSubnets(rows)
}

// DeleteSubnet deletes a subnet and promotes its children to its parent
// in one transaction. The caller checks emptiness preconditions under the
// domain lock.
func (s *PostgresStore) DeleteSubnet(ctx context.Context, id int) error {
	return s.pool.Transaction(ctx, s.connectionName, func(tx *sql.Tx) error {
		var parentID *int
		row := tx.QueryRowContext(ctx, `SELECT parent_id FROM subnets WHERE id = $1`, id)
		if err := row.Scan(&parentID); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("subnet with ID %d not found", id)
			}
			return fmt.Errorf("failed to load subnet %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE subnets SET parent_id = $1, updated_at = NOW() WHERE parent_id = $2`,
			parentID, id); err != nil {
			return fmt.Errorf("failed to promote children of subnet %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM subnets WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete subnet %d: %w", id, err)
		}

		return nil
	})
}

// CountSubnetChildren counts direct child subnets
func (s *PostgresStore) CountSubnetChildren(ctx context.Context, id int) (int, error) {
	sqlQuery := `SELECT COUNT(*) FROM subnets WHERE parent_id = $1`

	var count int
	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, id)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count children of subnet %d: %w", id, err)
	}

	return count, nil
}

// CountActiveAddresses counts reserved and assigned addresses in a subnet
func (s *PostgresStore) CountActiveAddresses(ctx context.Context, subnetID int) (int, error) {
	sqlQuery := `SELECT COUNT(*) FROM addresses WHERE subnet_id = $1 AND status != 'free'`

	var count int
	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, subnetID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count addresses in subnet %d: %w", subnetID, err)
	}

	return count, nil
}

// GetAddress finds an address row by domain and IP
func (s *PostgresStore) GetAddress(ctx context.Context, domainID int, ip string) (*models.Address, error) {
	sqlQuery := `
		SELECT id, subnet_id, layer3domain_id, ip, status, fqdn, department, attributes, created_at, updated_at
		FROM addresses
		WHERE layer3domain_id = $1 AND ip = $2
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery, domainID, ip)

	address, err := scanAddress(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No address found, not an error
		}
		return nil, fmt.Errorf("failed to scan address %s: %w", ip, err)
	}

	return address, nil
}

// ListAddresses returns all address rows in a subnet ordered by IP
func (s *PostgresStore) ListAddresses(ctx context.Context, subnetID int) ([]*models.Address, error) {
	sqlQuery := `
		SELECT id, subnet_id, layer3domain_id, ip, status, fqdn, department, attributes, created_at, updated_at
		FROM addresses
		WHERE subnet_id = $1
		ORDER BY ip
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, subnetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses for subnet %d: %w", subnetID, err)
	}
	defer rows.Close()

	return collectAddresses(rows)
}

// ListDomainAddresses returns all address rows in a layer3domain
// ordered by IP. Occupancy checks use this rather than a per-subnet
// listing because address rows are keyed by (layer3domain, ip) and a
// claim in one subnet must be visible from every overlapping subnet.
func (s *PostgresStore) ListDomainAddresses(ctx context.Context, domainID int) ([]*models.Address, error) {
	sqlQuery := `
		SELECT id, subnet_id, layer3domain_id, ip, status, fqdn, department, attributes, created_at, updated_at
		FROM addresses
		WHERE layer3domain_id = $1
		ORDER BY ip
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to query addresses for layer3domain %d: %w", domainID, err)
	}
	defer rows.Close()

	return collectAddresses(rows)
}

// ListNamedAddresses returns all assigned addresses carrying an FQDN.
// This is the zone builder's input for deriving forward and reverse
// records.
func (s *PostgresStore) ListNamedAddresses(ctx context.Context) ([]*models.Address, error) {
	sqlQuery := `
		SELECT id, subnet_id, layer3domain_id, ip, status, fqdn, department, attributes, created_at, updated_at
		FROM addresses
		WHERE status = 'assigned' AND fqdn != ''
		ORDER BY ip
	`

	rows, err := s.pool.Query(ctx, s.connectionName, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query named addresses: %w", err)
	}
	defer rows.Close()

	return collectAddresses(rows)
}

// SaveAddress upserts an address row keyed by (layer3domain, ip)
func (s *PostgresStore) SaveAddress(ctx context.Context, address *models.Address) error {
	address.Normalize()
	if err := address.Validate(); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	attrs, err := marshalAttrs(address.Attributes)
	if err != nil {
		return err
	}

	sqlQuery := `
		INSERT INTO addresses (subnet_id, layer3domain_id, ip, status, fqdn, department, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (layer3domain_id, ip) DO UPDATE
		SET subnet_id = EXCLUDED.subnet_id,
		    status = EXCLUDED.status,
		    fqdn = EXCLUDED.fqdn,
		    department = EXCLUDED.department,
		    attributes = EXCLUDED.attributes,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	row := s.pool.QueryRow(ctx, s.connectionName, sqlQuery,
		address.SubnetID,
		address.Layer3DomainID,
		address.IP,
		address.Status.String(),
		address.FQDN,
		address.Department,
		attrs,
	)

	if err := row.Scan(&address.ID, &address.CreatedAt, &address.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save address %s: %w", address.IP, err)
	}

	return nil
}

// DeleteFreeAddresses removes released rows from a subnet's table
func (s *PostgresStore) DeleteFreeAddresses(ctx context.Context, subnetID int) error {
	sqlQuery := `DELETE FROM addresses WHERE subnet_id = $1 AND status = 'free'`

	if _, err := s.pool.Exec(ctx, s.connectionName, sqlQuery, subnetID); err != nil {
		return fmt.Errorf("failed to delete free addresses in subnet %d: %w", subnetID, err)
	}

	return nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSubnet reads one subnet row
func scanSubnet(row scanner) (*models.Subnet, error) {
	var subnet models.Subnet
	var rawAttrs []byte

	err := row.Scan(
		&subnet.ID,
		&subnet.Layer3DomainID,
		&subnet.CIDR,
		&subnet.ParentID,
		&subnet.VLAN,
		&subnet.Department,
		&rawAttrs,
		&subnet.CreatedAt,
		&subnet.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	attrs, err := unmarshalAttrs(rawAttrs)
	if err != nil {
		return nil, err
	}
	subnet.Attributes = attrs

	return &subnet, nil
}

// collectSubnets drains a subnet result set
func collectSubnets(rows *sql.Rows) ([]*models.Subnet, error) {
	var subnets []*models.Subnet
	for rows.Next() {
		subnet, err := scanSubnet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subnet: %w", err)
		}
		subnets = append(subnets, subnet)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subnets: %w", err)
	}

	return subnets, nil
}

// scanAddress reads one address row
func scanAddress(row scanner) (*models.Address, error) {
	var address models.Address
	var status string
	var rawAttrs []byte

	err := row.Scan(
		&address.ID,
		&address.SubnetID,
		&address.Layer3DomainID,
		&address.IP,
		&status,
		&address.FQDN,
		&address.Department,
		&rawAttrs,
		&address.CreatedAt,
		&address.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	address.Status = models.AddressStatus(status)

	attrs, err := unmarshalAttrs(rawAttrs)
	if err != nil {
		return nil, err
	}
	address.Attributes = attrs

	return &address, nil
}

// collectAddresses drains an address result set
func collectAddresses(rows *sql.Rows) ([]*models.Address, error) {
	var addresses []*models.Address
	for rows.Next() {
		address, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, address)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating addresses: %w", err)
	}

	return addresses, nil
}
