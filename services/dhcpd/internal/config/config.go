package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its config when RANGERD_CONFIG
// and the -config flag are both unset.
const DefaultPath = "/etc/rangerd/config.yaml"

func Default() Config {
	return Config{
		ListenAddresses: []string{"0.0.0.0:67"},
		API: APIConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1",
			Port:          8067,
		},
		DHCP: DHCPConfig{
			DefaultLeaseTime: 86400,
			MaxLeaseTime:     604800,
			NakOnUnavailable: true,
			ServeInform:      true,
		},
		TFTP: TFTPConfig{
			Enabled:        false,
			Address:        ":69",
			RootDir:        "/var/lib/rangerd/boot",
			TimeoutSeconds: 5,
		},
		Metrics: MetricsConfig{Port: 9667},
	}
}

// Load reads the YAML file at path (RANGERD_CONFIG or DefaultPath when
// empty), applies RANGERD_* environment overrides, and validates the
// result. A missing file is fine; defaults plus environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = getEnv("RANGERD_CONFIG", DefaultPath)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RANGERD_LISTEN_ADDRESSES"); v != "" {
		addrs := strings.Split(v, ",")
		cfg.ListenAddresses = cfg.ListenAddresses[:0]
		for _, a := range addrs {
			if trimmed := strings.TrimSpace(a); trimmed != "" {
				cfg.ListenAddresses = append(cfg.ListenAddresses, trimmed)
			}
		}
	}
	cfg.DatabaseURL = getEnv("RANGERD_DATABASE_URL", cfg.DatabaseURL)
	cfg.NATSURL = getEnv("RANGERD_NATS_URL", cfg.NATSURL)
	cfg.API.ListenAddress = getEnv("RANGERD_API_LISTEN", cfg.API.ListenAddress)
	cfg.API.Port = getEnvInt("RANGERD_API_PORT", cfg.API.Port)
	cfg.API.UnixSocketPath = getEnv("RANGERD_API_SOCKET", cfg.API.UnixSocketPath)
	cfg.API.BootstrapToken = getEnv("RANGERD_BOOTSTRAP_TOKEN", cfg.API.BootstrapToken)
	cfg.DHCP.DefaultLeaseTime = getEnvInt("RANGERD_DEFAULT_LEASE_SECS", cfg.DHCP.DefaultLeaseTime)
	cfg.DHCP.MaxLeaseTime = getEnvInt("RANGERD_MAX_LEASE_SECS", cfg.DHCP.MaxLeaseTime)
	cfg.Metrics.Port = getEnvInt("RANGERD_METRICS_PORT", cfg.Metrics.Port)
}

func (c Config) validate() error {
	if len(c.ListenAddresses) == 0 {
		return fmt.Errorf("listen_addresses must name at least one address")
	}
	for _, addr := range c.ListenAddresses {
		if err := validateUDPAddr(addr); err != nil {
			return fmt.Errorf("listen address %q: %w", addr, err)
		}
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (or set RANGERD_DATABASE_URL)")
	}
	if c.DHCP.DefaultLeaseTime <= 0 {
		return fmt.Errorf("dhcp.default_lease_time must be positive, got %d", c.DHCP.DefaultLeaseTime)
	}
	if c.DHCP.MaxLeaseTime < c.DHCP.DefaultLeaseTime {
		return fmt.Errorf("dhcp.max_lease_time %d is below dhcp.default_lease_time %d", c.DHCP.MaxLeaseTime, c.DHCP.DefaultLeaseTime)
	}
	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("api.port %d is outside the valid range 1-65535", c.API.Port)
		}
	}
	if c.TFTP.Enabled {
		if c.TFTP.RootDir == "" {
			return fmt.Errorf("tftp.root_dir is required when TFTP is enabled")
		}
		if c.TFTP.TimeoutSeconds <= 0 {
			return fmt.Errorf("tftp.timeout_seconds must be positive, got %d", c.TFTP.TimeoutSeconds)
		}
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port %d is outside the valid range 1-65535", c.Metrics.Port)
	}
	return nil
}

func validateUDPAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host != "" && net.ParseIP(host) == nil {
		return fmt.Errorf("host %q is not an IP address", host)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port %q is not a number", port)
	}
	if p <= 0 || p > 65535 {
		return fmt.Errorf("port %d is outside the valid range 1-65535", p)
	}
	return nil
}

// TCPAddr is the host:port the management API binds when TCP is enabled.
func (c APIConfig) TCPAddr() string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(c.Port))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
