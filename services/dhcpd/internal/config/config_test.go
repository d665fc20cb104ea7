package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RANGERD_DATABASE_URL", "postgres://localhost/rangerd")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load with missing file: %v", err)
	}

	if len(cfg.ListenAddresses) != 1 || cfg.ListenAddresses[0] != "0.0.0.0:67" {
		t.Fatalf("listen addresses = %v, want [0.0.0.0:67]", cfg.ListenAddresses)
	}
	if cfg.DHCP.DefaultLeaseTime != 86400 || cfg.DHCP.MaxLeaseTime != 604800 {
		t.Fatalf("lease times = %d/%d, want 86400/604800", cfg.DHCP.DefaultLeaseTime, cfg.DHCP.MaxLeaseTime)
	}
	if !cfg.DHCP.NakOnUnavailable || !cfg.DHCP.ServeInform {
		t.Fatalf("dhcp flags = %+v, want both true", cfg.DHCP)
	}
	if !cfg.API.Enabled || cfg.API.Port != 8067 {
		t.Fatalf("api defaults = %+v", cfg.API)
	}
	if cfg.Metrics.Port != 9667 {
		t.Fatalf("metrics port = %d, want 9667", cfg.Metrics.Port)
	}
	if cfg.DHCP.DefaultLease() != 24*time.Hour {
		t.Fatalf("default lease duration = %s, want 24h", cfg.DHCP.DefaultLease())
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("RANGERD_DATABASE_URL", "")
	path := writeConfig(t, `
listen_addresses:
  - 0.0.0.0:67
  - 10.0.0.1:6767
database_url: postgres://rangerd:secret@db/rangerd
nats_url: nats://broker:4222
api:
  listen_address: 0.0.0.0
  port: 7000
  unix_socket_path: /run/rangerd.sock
  bootstrap_token: bootstrap-secret
dhcp:
  default_lease_time: 3600
  max_lease_time: 7200
  nak_on_unavailable: false
tftp:
  enabled: true
  address: ":69"
  root_dir: /srv/tftp
  timeout_seconds: 3
metrics:
  port: 9100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.ListenAddresses) != 2 || cfg.ListenAddresses[1] != "10.0.0.1:6767" {
		t.Fatalf("listen addresses = %v", cfg.ListenAddresses)
	}
	if cfg.DatabaseURL != "postgres://rangerd:secret@db/rangerd" {
		t.Fatalf("database url = %q", cfg.DatabaseURL)
	}
	if cfg.NATSURL != "nats://broker:4222" {
		t.Fatalf("nats url = %q", cfg.NATSURL)
	}
	if cfg.API.TCPAddr() != "0.0.0.0:7000" {
		t.Fatalf("api tcp addr = %q, want 0.0.0.0:7000", cfg.API.TCPAddr())
	}
	if cfg.API.UnixSocketPath != "/run/rangerd.sock" {
		t.Fatalf("api socket = %q", cfg.API.UnixSocketPath)
	}
	if cfg.DHCP.NakOnUnavailable {
		t.Fatalf("nak_on_unavailable not overridden to false")
	}
	// Absent keys keep their defaults even next to explicit overrides.
	if !cfg.DHCP.ServeInform {
		t.Fatalf("serve_inform default lost")
	}
	if !cfg.TFTP.Enabled || cfg.TFTP.RootDir != "/srv/tftp" || cfg.TFTP.TimeoutSeconds != 3 {
		t.Fatalf("tftp = %+v", cfg.TFTP)
	}
	if cfg.Metrics.Port != 9100 {
		t.Fatalf("metrics port = %d, want 9100", cfg.Metrics.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database_url: postgres://file/db
dhcp:
  default_lease_time: 600
  max_lease_time: 1200
`)
	t.Setenv("RANGERD_DATABASE_URL", "postgres://env/db")
	t.Setenv("RANGERD_LISTEN_ADDRESSES", " 192.168.1.1:67 , 10.0.0.1:6767 ")
	t.Setenv("RANGERD_API_PORT", "7500")
	t.Setenv("RANGERD_MAX_LEASE_SECS", "2400")
	t.Setenv("RANGERD_BOOTSTRAP_TOKEN", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DatabaseURL != "postgres://env/db" {
		t.Fatalf("database url = %q, want env override", cfg.DatabaseURL)
	}
	want := []string{"192.168.1.1:67", "10.0.0.1:6767"}
	if len(cfg.ListenAddresses) != 2 || cfg.ListenAddresses[0] != want[0] || cfg.ListenAddresses[1] != want[1] {
		t.Fatalf("listen addresses = %v, want %v", cfg.ListenAddresses, want)
	}
	if cfg.API.Port != 7500 {
		t.Fatalf("api port = %d, want 7500", cfg.API.Port)
	}
	if cfg.DHCP.DefaultLeaseTime != 600 || cfg.DHCP.MaxLeaseTime != 2400 {
		t.Fatalf("lease times = %d/%d, want 600/2400", cfg.DHCP.DefaultLeaseTime, cfg.DHCP.MaxLeaseTime)
	}
	if cfg.API.BootstrapToken != "from-env" {
		t.Fatalf("bootstrap token = %q", cfg.API.BootstrapToken)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing database url",
			body:    "listen_addresses: [\"0.0.0.0:67\"]\n",
			wantErr: "database_url",
		},
		{
			name:    "bad listen address",
			body:    "database_url: postgres://db\nlisten_addresses: [\"nonsense\"]\n",
			wantErr: "listen address",
		},
		{
			name:    "bad listen port",
			body:    "database_url: postgres://db\nlisten_addresses: [\"0.0.0.0:99999\"]\n",
			wantErr: "listen address",
		},
		{
			name:    "zero default lease",
			body:    "database_url: postgres://db\ndhcp:\n  default_lease_time: 0\n",
			wantErr: "default_lease_time",
		},
		{
			name:    "max below default",
			body:    "database_url: postgres://db\ndhcp:\n  default_lease_time: 7200\n  max_lease_time: 3600\n",
			wantErr: "max_lease_time",
		},
		{
			name:    "bad api port",
			body:    "database_url: postgres://db\napi:\n  port: 0\n",
			wantErr: "api.port",
		},
		{
			name:    "tftp without root",
			body:    "database_url: postgres://db\ntftp:\n  enabled: true\n  root_dir: \"\"\n",
			wantErr: "tftp.root_dir",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("RANGERD_DATABASE_URL", "")
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("load accepted invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
