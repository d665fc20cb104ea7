package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rangerd/pkg/db"
	"rangerd/pkg/dhcpwire"
)

// Postgres implements LeaseStore on a pgx pool. Lease claims rely on the
// partial unique index on leases(address) WHERE active.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

type subnetRow struct {
	ID         uuid.UUID `db:"id"`
	Network    string    `db:"network"`
	PrefixLen  int16     `db:"prefix_len"`
	Gateway    string    `db:"gateway"`
	DNSServers []byte    `db:"dns_servers"`
	DomainName string    `db:"domain_name"`
	Enabled    bool      `db:"enabled"`
}

type rangeRow struct {
	ID           uuid.UUID `db:"id"`
	SubnetID     uuid.UUID `db:"subnet_id"`
	StartAddress string    `db:"start_address"`
	EndAddress   string    `db:"end_address"`
	Enabled      bool      `db:"enabled"`
}

type staticIPRow struct {
	ID         uuid.UUID `db:"id"`
	SubnetID   uuid.UUID `db:"subnet_id"`
	MACAddress string    `db:"mac_address"`
	Address    string    `db:"address"`
	Hostname   string    `db:"hostname"`
	Enabled    bool      `db:"enabled"`
}

type leaseRow struct {
	ID         uuid.UUID `db:"id"`
	SubnetID   uuid.UUID `db:"subnet_id"`
	MACAddress string    `db:"mac_address"`
	Address    string    `db:"address"`
	LeaseStart time.Time `db:"lease_start"`
	LeaseEnd   time.Time `db:"lease_end"`
	Hostname   string    `db:"hostname"`
	Active     bool      `db:"active"`
}

func parseStoredIP(kind, raw string) (net.IP, error) {
	ip := net.ParseIP(raw)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("stored %s %q is not an IPv4 address", kind, raw)
	}
	return ip.To4(), nil
}

func (r subnetRow) toSubnet() (Subnet, error) {
	network, err := parseStoredIP("network", r.Network)
	if err != nil {
		return Subnet{}, fmt.Errorf("subnet %s: %w", r.ID, err)
	}
	gateway, err := parseStoredIP("gateway", r.Gateway)
	if err != nil {
		return Subnet{}, fmt.Errorf("subnet %s: %w", r.ID, err)
	}
	var names []string
	if len(r.DNSServers) > 0 {
		if err := json.Unmarshal(r.DNSServers, &names); err != nil {
			return Subnet{}, fmt.Errorf("subnet %s: decode dns servers: %w", r.ID, err)
		}
	}
	servers := make([]net.IP, 0, len(names))
	for _, name := range names {
		ip, err := parseStoredIP("dns server", name)
		if err != nil {
			return Subnet{}, fmt.Errorf("subnet %s: %w", r.ID, err)
		}
		servers = append(servers, ip)
	}
	return Subnet{
		ID:         r.ID,
		Network:    network,
		PrefixLen:  uint8(r.PrefixLen),
		Gateway:    gateway,
		DNSServers: servers,
		DomainName: r.DomainName,
		Enabled:    r.Enabled,
	}, nil
}

func (r rangeRow) toRange() (DynamicRange, error) {
	start, err := parseStoredIP("range start", r.StartAddress)
	if err != nil {
		return DynamicRange{}, fmt.Errorf("range %s: %w", r.ID, err)
	}
	end, err := parseStoredIP("range end", r.EndAddress)
	if err != nil {
		return DynamicRange{}, fmt.Errorf("range %s: %w", r.ID, err)
	}
	return DynamicRange{
		ID:           r.ID,
		SubnetID:     r.SubnetID,
		StartAddress: start,
		EndAddress:   end,
		Enabled:      r.Enabled,
	}, nil
}

func (r staticIPRow) toStaticIP() (StaticIP, error) {
	mac, err := dhcpwire.ParseMacAddress(r.MACAddress)
	if err != nil {
		return StaticIP{}, fmt.Errorf("static ip %s: %w", r.ID, err)
	}
	addr, err := parseStoredIP("address", r.Address)
	if err != nil {
		return StaticIP{}, fmt.Errorf("static ip %s: %w", r.ID, err)
	}
	return StaticIP{
		ID:       r.ID,
		SubnetID: r.SubnetID,
		MAC:      mac,
		Address:  addr,
		Hostname: r.Hostname,
		Enabled:  r.Enabled,
	}, nil
}

func (r leaseRow) toLease() (Lease, error) {
	mac, err := dhcpwire.ParseMacAddress(r.MACAddress)
	if err != nil {
		return Lease{}, fmt.Errorf("lease %s: %w", r.ID, err)
	}
	addr, err := parseStoredIP("address", r.Address)
	if err != nil {
		return Lease{}, fmt.Errorf("lease %s: %w", r.ID, err)
	}
	return Lease{
		ID:         r.ID,
		SubnetID:   r.SubnetID,
		MAC:        mac,
		Address:    addr,
		LeaseStart: r.LeaseStart,
		LeaseEnd:   r.LeaseEnd,
		Hostname:   r.Hostname,
		Active:     r.Active,
	}, nil
}

func (s *Postgres) GetStaticByMAC(ctx context.Context, mac dhcpwire.MacAddress) (*StaticIP, error) {
	var row staticIPRow
	err := db.Get(ctx, s.pool, &row, `
		SELECT id, subnet_id, mac_address, address, hostname, enabled
		FROM static_ips
		WHERE mac_address = $1 AND enabled
		LIMIT 1`, mac.String())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get static ip: %w", err)
	}
	static, err := row.toStaticIP()
	if err != nil {
		return nil, err
	}
	return &static, nil
}

func (s *Postgres) GetActiveLease(ctx context.Context, mac dhcpwire.MacAddress) (*Lease, error) {
	var row leaseRow
	err := db.Get(ctx, s.pool, &row, `
		SELECT id, subnet_id, mac_address, address, lease_start, lease_end, hostname, active
		FROM leases
		WHERE mac_address = $1 AND active AND lease_end > $2
		ORDER BY lease_end DESC
		LIMIT 1`, mac.String(), time.Now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active lease: %w", err)
	}
	lease, err := row.toLease()
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (s *Postgres) CreateOrExtendLease(ctx context.Context, mac dhcpwire.MacAddress, subnetID uuid.UUID, addr net.IP, start, end time.Time, hostname string) (*Lease, error) {
	var row leaseRow
	err := db.Get(ctx, s.pool, &row, `
		INSERT INTO leases (id, subnet_id, mac_address, address, lease_start, lease_end, hostname, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
		ON CONFLICT (address) WHERE active DO UPDATE SET
			subnet_id   = EXCLUDED.subnet_id,
			mac_address = EXCLUDED.mac_address,
			lease_start = EXCLUDED.lease_start,
			lease_end   = EXCLUDED.lease_end,
			hostname    = EXCLUDED.hostname,
			updated_at  = EXCLUDED.updated_at
		WHERE leases.mac_address = EXCLUDED.mac_address
		   OR leases.lease_end <= EXCLUDED.lease_start
		RETURNING id, subnet_id, mac_address, address, lease_start, lease_end, hostname, active`,
		uuid.New(), subnetID, mac.String(), addr.String(), start.UTC(), end.UTC(), hostname, time.Now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAddressInUse
	}
	if err != nil {
		return nil, fmt.Errorf("create or extend lease: %w", err)
	}
	lease, err := row.toLease()
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (s *Postgres) ExpireLease(ctx context.Context, leaseID uuid.UUID) error {
	if _, err := db.Exec(ctx, s.pool, `
		UPDATE leases SET active = FALSE, updated_at = $2 WHERE id = $1`,
		leaseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("expire lease: %w", err)
	}
	return nil
}

// ExpireOverdueLeases deactivates every active lease whose window has
// passed and returns the rows it retired. The reaper calls this on a
// cadence; the engine does not depend on it for correctness because active
// lookups also filter on lease_end.
func (s *Postgres) ExpireOverdueLeases(ctx context.Context) ([]Lease, error) {
	var rows []leaseRow
	if err := db.Select(ctx, s.pool, &rows, `
		UPDATE leases SET active = FALSE, updated_at = NOW()
		WHERE active AND lease_end <= NOW()
		RETURNING id, subnet_id, mac_address, address, lease_start, lease_end, hostname, active`); err != nil {
		return nil, fmt.Errorf("expire overdue leases: %w", err)
	}
	out := make([]Lease, 0, len(rows))
	for _, row := range rows {
		lease, err := row.toLease()
		if err != nil {
			return nil, err
		}
		out = append(out, lease)
	}
	return out, nil
}

func (s *Postgres) GetSubnet(ctx context.Context, subnetID uuid.UUID) (*Subnet, error) {
	var row subnetRow
	err := db.Get(ctx, s.pool, &row, `
		SELECT id, network, prefix_len, gateway, dns_servers, domain_name, enabled
		FROM subnets
		WHERE id = $1`, subnetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subnet: %w", err)
	}
	subnet, err := row.toSubnet()
	if err != nil {
		return nil, err
	}
	return &subnet, nil
}

func (s *Postgres) ListEnabledSubnets(ctx context.Context) ([]Subnet, error) {
	var rows []subnetRow
	if err := db.Select(ctx, s.pool, &rows, `
		SELECT id, network, prefix_len, gateway, dns_servers, domain_name, enabled
		FROM subnets
		WHERE enabled
		ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list subnets: %w", err)
	}
	out := make([]Subnet, 0, len(rows))
	for _, row := range rows {
		subnet, err := row.toSubnet()
		if err != nil {
			return nil, err
		}
		out = append(out, subnet)
	}
	return out, nil
}

func (s *Postgres) ListEnabledRanges(ctx context.Context, subnetID uuid.UUID) ([]DynamicRange, error) {
	var rows []rangeRow
	if err := db.Select(ctx, s.pool, &rows, `
		SELECT id, subnet_id, start_address, end_address, enabled
		FROM dynamic_ranges
		WHERE subnet_id = $1 AND enabled
		ORDER BY created_at, id`, subnetID); err != nil {
		return nil, fmt.Errorf("list ranges: %w", err)
	}
	out := make([]DynamicRange, 0, len(rows))
	for _, row := range rows {
		rng, err := row.toRange()
		if err != nil {
			return nil, err
		}
		out = append(out, rng)
	}
	return out, nil
}

func (s *Postgres) ListEnabledStaticIPs(ctx context.Context, subnetID uuid.UUID) ([]StaticIP, error) {
	var rows []staticIPRow
	if err := db.Select(ctx, s.pool, &rows, `
		SELECT id, subnet_id, mac_address, address, hostname, enabled
		FROM static_ips
		WHERE subnet_id = $1 AND enabled
		ORDER BY created_at, id`, subnetID); err != nil {
		return nil, fmt.Errorf("list static ips: %w", err)
	}
	out := make([]StaticIP, 0, len(rows))
	for _, row := range rows {
		static, err := row.toStaticIP()
		if err != nil {
			return nil, err
		}
		out = append(out, static)
	}
	return out, nil
}

func (s *Postgres) ListActiveLeasesForSubnet(ctx context.Context, subnetID uuid.UUID) ([]Lease, error) {
	var rows []leaseRow
	if err := db.Select(ctx, s.pool, &rows, `
		SELECT id, subnet_id, mac_address, address, lease_start, lease_end, hostname, active
		FROM leases
		WHERE subnet_id = $1 AND active AND lease_end > $2
		ORDER BY lease_start, id`, subnetID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("list active leases: %w", err)
	}
	out := make([]Lease, 0, len(rows))
	for _, row := range rows {
		lease, err := row.toLease()
		if err != nil {
			return nil, err
		}
		out = append(out, lease)
	}
	return out, nil
}
