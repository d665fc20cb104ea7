package api

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"rangerd/pkg/bus"
)

const (
	subjectConfigUpdated = "rangerd.config.updated"
	subjectLeaseReleased = "rangerd.leases.released"
)

// Subnet is a served network as exposed by the management API.
type Subnet struct {
	ID         uuid.UUID `json:"id"`
	Network    string    `json:"network"`
	PrefixLen  int       `json:"prefix_len"`
	Gateway    string    `json:"gateway"`
	DNSServers []string  `json:"dns_servers"`
	DomainName string    `json:"domain_name,omitempty"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DynamicRange is an inclusive pool of leasable addresses inside a subnet.
type DynamicRange struct {
	ID           uuid.UUID `json:"id"`
	SubnetID     uuid.UUID `json:"subnet_id"`
	StartAddress string    `json:"start_address"`
	EndAddress   string    `json:"end_address"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// StaticIP is a permanent MAC to address binding.
type StaticIP struct {
	ID        uuid.UUID `json:"id"`
	SubnetID  uuid.UUID `json:"subnet_id"`
	MAC       string    `json:"mac"`
	Address   string    `json:"address"`
	Hostname  string    `json:"hostname,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Lease is one row of lease history; at most one row per address is active.
type Lease struct {
	ID         uuid.UUID `json:"id"`
	SubnetID   uuid.UUID `json:"subnet_id"`
	MAC        string    `json:"mac"`
	Address    string    `json:"address"`
	LeaseStart time.Time `json:"lease_start"`
	LeaseEnd   time.Time `json:"lease_end"`
	Hostname   string    `json:"hostname,omitempty"`
	Active     bool      `json:"active"`
}

// APIToken is a management credential. The secret is returned exactly once,
// at creation; only its hash is stored.
type APIToken struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Store holds external dependencies required by the API layer.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	Bus *bus.Bus
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// BootstrapToken authenticates requests before any token rows exist.
	// Empty disables it.
	BootstrapToken string
}

// API wires dependencies and configuration for the HTTP handlers.
type API struct {
	store  *Store
	config Config
	tokens *tokenStore
}

// New initialises the API layer.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}

	return &API{
		store:  store,
		config: cfg,
		tokens: newTokenStore(store.ORM),
	}, nil
}
