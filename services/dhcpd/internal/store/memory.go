package store

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rangerd/pkg/dhcpwire"
)

// Memory is an in-memory LeaseStore. It mirrors the Postgres claim
// semantics with a single mutex standing in for the partial unique index.
type Memory struct {
	mu      sync.Mutex
	subnets []Subnet
	ranges  []DynamicRange
	statics []StaticIP
	leases  map[uuid.UUID]*Lease
}

func NewMemory() *Memory {
	return &Memory{leases: make(map[uuid.UUID]*Lease)}
}

// AddSubnet registers a subnet. A zero ID gets a fresh one assigned.
func (m *Memory) AddSubnet(s Subnet) Subnet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.subnets = append(m.subnets, s)
	return s
}

func (m *Memory) AddRange(r DynamicRange) DynamicRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.ranges = append(m.ranges, r)
	return r
}

func (m *Memory) AddStaticIP(s StaticIP) StaticIP {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.statics = append(m.statics, s)
	return s
}

func (m *Memory) GetStaticByMAC(_ context.Context, mac dhcpwire.MacAddress) (*StaticIP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.statics {
		if s.Enabled && s.MAC == mac {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetActiveLease(_ context.Context, mac dhcpwire.MacAddress) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var best *Lease
	for _, l := range m.leases {
		if !l.Active || l.MAC != mac || !l.LeaseEnd.After(now) {
			continue
		}
		if best == nil || l.LeaseEnd.After(best.LeaseEnd) {
			best = l
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (m *Memory) CreateOrExtendLease(_ context.Context, mac dhcpwire.MacAddress, subnetID uuid.UUID, addr net.IP, start, end time.Time, hostname string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var holder *Lease
	for _, l := range m.leases {
		if l.Active && l.Address.Equal(addr) {
			holder = l
			break
		}
	}
	if holder != nil {
		if holder.MAC != mac && holder.LeaseEnd.After(start) {
			return nil, ErrAddressInUse
		}
		holder.SubnetID = subnetID
		holder.MAC = mac
		holder.LeaseStart = start
		holder.LeaseEnd = end
		holder.Hostname = hostname
		out := *holder
		return &out, nil
	}

	lease := &Lease{
		ID:         uuid.New(),
		SubnetID:   subnetID,
		MAC:        mac,
		Address:    append(net.IP(nil), addr.To4()...),
		LeaseStart: start,
		LeaseEnd:   end,
		Hostname:   hostname,
		Active:     true,
	}
	m.leases[lease.ID] = lease
	out := *lease
	return &out, nil
}

func (m *Memory) ExpireLease(_ context.Context, leaseID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[leaseID]; ok {
		l.Active = false
	}
	return nil
}

func (m *Memory) GetSubnet(_ context.Context, subnetID uuid.UUID) (*Subnet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subnets {
		if s.ID == subnetID {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListEnabledSubnets(_ context.Context) ([]Subnet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subnet, 0, len(m.subnets))
	for _, s := range m.subnets {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListEnabledRanges(_ context.Context, subnetID uuid.UUID) ([]DynamicRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DynamicRange, 0, len(m.ranges))
	for _, r := range m.ranges {
		if r.Enabled && r.SubnetID == subnetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ListEnabledStaticIPs(_ context.Context, subnetID uuid.UUID) ([]StaticIP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StaticIP, 0, len(m.statics))
	for _, s := range m.statics {
		if s.Enabled && s.SubnetID == subnetID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListActiveLeasesForSubnet(_ context.Context, subnetID uuid.UUID) ([]Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]Lease, 0, len(m.leases))
	for _, l := range m.leases {
		if l.Active && l.SubnetID == subnetID && l.LeaseEnd.After(now) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LeaseStart.Equal(out[j].LeaseStart) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].LeaseStart.Before(out[j].LeaseStart)
	})
	return out, nil
}
