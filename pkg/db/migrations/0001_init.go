package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Subnet struct {
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

type DynamicRange struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubnetID     uuid.UUID `gorm:"type:uuid;not null;index"`
	StartAddress string    `gorm:"type:text;not null"`
	EndAddress   string    `gorm:"type:text;not null"`
	Enabled      bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Subnet       Subnet    `gorm:"foreignKey:SubnetID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type StaticIP struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubnetID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_static_ips_subnet_mac"`
	MACAddress string    `gorm:"column:mac_address;type:text;not null;uniqueIndex:idx_static_ips_subnet_mac"`
	Address    string    `gorm:"type:text;not null"`
	Hostname   string    `gorm:"type:text"`
	Enabled    bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Subnet     Subnet    `gorm:"foreignKey:SubnetID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// Lease rows outlive their subnet: they are history, so no FK constraint.
type Lease struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	SubnetID   uuid.UUID `gorm:"type:uuid;not null;index"`
	MACAddress string    `gorm:"column:mac_address;type:text;not null;index:idx_leases_mac_active"`
	Address    string    `gorm:"type:text;not null"`
	LeaseStart time.Time `gorm:"type:timestamptz;not null"`
	LeaseEnd   time.Time `gorm:"type:timestamptz;not null"`
	Hostname   string    `gorm:"type:text"`
	Active     bool      `gorm:"not null;default:true;index:idx_leases_mac_active"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type APIToken struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name       string     `gorm:"type:text;uniqueIndex;not null"`
	TokenHash  string     `gorm:"column:token_hash;type:text;not null"`
	Enabled    bool       `gorm:"not null;default:true"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	LastUsedAt *time.Time `gorm:"type:timestamptz"`
}

type LeaseEvent struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Event      string         `gorm:"type:text;not null"`
	MACAddress string         `gorm:"column:mac_address;type:text;not null;index"`
	Address    string         `gorm:"type:text"`
	SubnetID   uuid.UUID      `gorm:"type:uuid;index"`
	Details    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime;index"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Subnet{},
		&DynamicRange{},
		&StaticIP{},
		&Lease{},
		&APIToken{},
		&LeaseEvent{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&DynamicRange{}, "Subnet"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&StaticIP{}, "Subnet"); err != nil {
		return err
	}

	// One active lease per address. AutoMigrate cannot express a partial
	// index, and CreateOrExtendLease's upsert conflicts on exactly this.
	return gormDB.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_leases_active_address ON leases (address) WHERE active`,
	).Error
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&LeaseEvent{},
		&APIToken{},
		&Lease{},
		&StaticIP{},
		&DynamicRange{},
		&Subnet{},
	); err != nil {
		return err
	}

	return nil
}
