package store

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"rangerd/pkg/dhcpwire"
)

// ErrAddressInUse is returned by CreateOrExtendLease when the address is
// actively held by a different client.
var ErrAddressInUse = errors.New("store: address already leased")

// Subnet is one served network. Network and Gateway are IPv4 addresses;
// DNSServers keeps its configured order.
type Subnet struct {
	ID         uuid.UUID
	Network    net.IP
	PrefixLen  uint8
	Gateway    net.IP
	DNSServers []net.IP
	DomainName string
	Enabled    bool
}

// DynamicRange is an inclusive pool of leasable addresses inside a subnet.
type DynamicRange struct {
	ID           uuid.UUID
	SubnetID     uuid.UUID
	StartAddress net.IP
	EndAddress   net.IP
	Enabled      bool
}

// StaticIP is a permanent MAC to address binding.
type StaticIP struct {
	ID       uuid.UUID
	SubnetID uuid.UUID
	MAC      dhcpwire.MacAddress
	Address  net.IP
	Hostname string
	Enabled  bool
}

// Lease is a time-bounded binding of an address to a MAC. Rows are
// deactivated, never deleted, by the engine.
type Lease struct {
	ID         uuid.UUID
	SubnetID   uuid.UUID
	MAC        dhcpwire.MacAddress
	Address    net.IP
	LeaseStart time.Time
	LeaseEnd   time.Time
	Hostname   string
	Active     bool
}

// LeaseStore is the persistence contract consumed by the allocation engine.
// Single-row lookups return (nil, nil) when nothing matches; an "active"
// lease always additionally satisfies lease_end > now.
type LeaseStore interface {
	GetStaticByMAC(ctx context.Context, mac dhcpwire.MacAddress) (*StaticIP, error)
	GetActiveLease(ctx context.Context, mac dhcpwire.MacAddress) (*Lease, error)

	// CreateOrExtendLease atomically claims addr for mac with the given
	// window. The claim succeeds when the address is unclaimed, expired, or
	// already held by the same MAC; a concurrent holder wins and the loser
	// gets ErrAddressInUse.
	CreateOrExtendLease(ctx context.Context, mac dhcpwire.MacAddress, subnetID uuid.UUID, addr net.IP, start, end time.Time, hostname string) (*Lease, error)

	ExpireLease(ctx context.Context, leaseID uuid.UUID) error

	GetSubnet(ctx context.Context, subnetID uuid.UUID) (*Subnet, error)
	ListEnabledSubnets(ctx context.Context) ([]Subnet, error)
	ListEnabledRanges(ctx context.Context, subnetID uuid.UUID) ([]DynamicRange, error)
	ListEnabledStaticIPs(ctx context.Context, subnetID uuid.UUID) ([]StaticIP, error)
	ListActiveLeasesForSubnet(ctx context.Context, subnetID uuid.UUID) ([]Lease, error)
}
