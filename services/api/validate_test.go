package api

import (
	"net"
	"testing"
)

func TestParseIPv4(t *testing.T) {
	ip, err := parseIPv4("gateway", "192.168.1.1")
	if err != nil {
		t.Fatalf("parseIPv4: %v", err)
	}
	if !ip.Equal(net.IPv4(192, 168, 1, 1)) {
		t.Fatalf("parseIPv4 = %s", ip)
	}

	for _, bad := range []string{"", "hostname", "2001:db8::1", "300.1.1.1"} {
		if _, err := parseIPv4("gateway", bad); err == nil {
			t.Fatalf("parseIPv4 accepted %q", bad)
		}
	}
}

func TestNetworkAddress(t *testing.T) {
	tests := []struct {
		ip     string
		prefix int
		want   string
	}{
		{"192.168.1.77", 24, "192.168.1.0"},
		{"10.11.12.13", 16, "10.11.0.0"},
		{"172.16.5.9", 12, "172.16.0.0"},
		{"192.168.1.0", 24, "192.168.1.0"},
	}
	for _, tc := range tests {
		ip, _ := parseIPv4("ip", tc.ip)
		if got := networkAddress(ip, tc.prefix).String(); got != tc.want {
			t.Fatalf("networkAddress(%s, /%d) = %s, want %s", tc.ip, tc.prefix, got, tc.want)
		}
	}
}

func TestInSubnet(t *testing.T) {
	network, _ := parseIPv4("network", "192.168.1.0")

	inside, _ := parseIPv4("ip", "192.168.1.200")
	if !inSubnet(network, 24, inside) {
		t.Fatalf("%s not recognised inside /24", inside)
	}

	outside, _ := parseIPv4("ip", "192.168.2.1")
	if inSubnet(network, 24, outside) {
		t.Fatalf("%s recognised inside /24", outside)
	}
}
