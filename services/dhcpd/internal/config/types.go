package config

import "time"

// Config is the full daemon configuration, loaded from YAML with
// environment overrides.
type Config struct {
	ListenAddresses []string      `yaml:"listen_addresses"`
	DatabaseURL     string        `yaml:"database_url"`
	NATSURL         string        `yaml:"nats_url"`
	API             APIConfig     `yaml:"api"`
	DHCP            DHCPConfig    `yaml:"dhcp"`
	TFTP            TFTPConfig    `yaml:"tftp"`
	Metrics         MetricsConfig `yaml:"metrics"`
}

// APIConfig controls the management HTTP surface. It can listen on TCP, a
// unix socket, or both.
type APIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ListenAddress  string `yaml:"listen_address"`
	Port           int    `yaml:"port"`
	UnixSocketPath string `yaml:"unix_socket_path"`
	BootstrapToken string `yaml:"bootstrap_token"`
}

// DHCPConfig carries the allocation policy. Lease times are in seconds to
// match what goes on the wire.
type DHCPConfig struct {
	DefaultLeaseTime int  `yaml:"default_lease_time"`
	MaxLeaseTime     int  `yaml:"max_lease_time"`
	NakOnUnavailable bool `yaml:"nak_on_unavailable"`
	ServeInform      bool `yaml:"serve_inform"`
}

type TFTPConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	RootDir        string `yaml:"root_dir"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

func (c DHCPConfig) DefaultLease() time.Duration {
	return time.Duration(c.DefaultLeaseTime) * time.Second
}

func (c DHCPConfig) MaxLease() time.Duration {
	return time.Duration(c.MaxLeaseTime) * time.Second
}
