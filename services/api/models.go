package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type subnetModel struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Network    string         `gorm:"type:text;not null"`
	PrefixLen  int16          `gorm:"column:prefix_len;not null"`
	Gateway    string         `gorm:"type:text;not null"`
	DNSServers datatypes.JSON `gorm:"column:dns_servers;type:jsonb"`
	DomainName string         `gorm:"type:text"`
	Enabled    bool           `gorm:"not null;default:true"`
	CreatedAt  time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (subnetModel) TableName() string { return "subnets" }

func (s subnetModel) toAPI() Subnet {
	return Subnet{
		ID:         s.ID,
		Network:    s.Network,
		PrefixLen:  int(s.PrefixLen),
		Gateway:    s.Gateway,
		DNSServers: stringsFromJSON(s.DNSServers),
		DomainName: s.DomainName,
		Enabled:    s.Enabled,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

type rangeModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubnetID     uuid.UUID `gorm:"type:uuid;not null;index"`
	StartAddress string    `gorm:"type:text;not null"`
	EndAddress   string    `gorm:"type:text;not null"`
	Enabled      bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (rangeModel) TableName() string { return "dynamic_ranges" }

func (r rangeModel) toAPI() DynamicRange {
	return DynamicRange{
		ID:           r.ID,
		SubnetID:     r.SubnetID,
		StartAddress: r.StartAddress,
		EndAddress:   r.EndAddress,
		Enabled:      r.Enabled,
		CreatedAt:    r.CreatedAt,
	}
}

type staticIPModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubnetID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_static_ips_subnet_mac"`
	MACAddress string    `gorm:"column:mac_address;type:text;not null;uniqueIndex:idx_static_ips_subnet_mac"`
	Address    string    `gorm:"type:text;not null"`
	Hostname   string    `gorm:"type:text"`
	Enabled    bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (staticIPModel) TableName() string { return "static_ips" }

func (s staticIPModel) toAPI() StaticIP {
	return StaticIP{
		ID:        s.ID,
		SubnetID:  s.SubnetID,
		MAC:       s.MACAddress,
		Address:   s.Address,
		Hostname:  s.Hostname,
		Enabled:   s.Enabled,
		CreatedAt: s.CreatedAt,
	}
}

type leaseModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubnetID   uuid.UUID `gorm:"type:uuid;not null;index"`
	MACAddress string    `gorm:"column:mac_address;type:text;not null;index"`
	Address    string    `gorm:"type:text;not null"`
	LeaseStart time.Time `gorm:"type:timestamptz;not null"`
	LeaseEnd   time.Time `gorm:"type:timestamptz;not null"`
	Hostname   string    `gorm:"type:text"`
	Active     bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (leaseModel) TableName() string { return "leases" }

func (l leaseModel) toAPI() Lease {
	return Lease{
		ID:         l.ID,
		SubnetID:   l.SubnetID,
		MAC:        l.MACAddress,
		Address:    l.Address,
		LeaseStart: l.LeaseStart,
		LeaseEnd:   l.LeaseEnd,
		Hostname:   l.Hostname,
		Active:     l.Active,
	}
}

func stringsFromJSON(src datatypes.JSON) []string {
	out := []string{}
	if len(src) == 0 {
		return out
	}
	_ = json.Unmarshal(src, &out)
	return out
}

func stringsToJSON(src []string) datatypes.JSON {
	if src == nil {
		src = []string{}
	}
	raw, _ := json.Marshal(src)
	return datatypes.JSON(raw)
}
