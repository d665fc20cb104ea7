package engine

import (
	"net"
	"testing"

	"rangerd/services/dhcpd/internal/store"
)

func TestMaskFromPrefix(t *testing.T) {
	tests := []struct {
		prefix uint8
		want   net.IP
	}{
		{0, ip4(0, 0, 0, 0)},
		{8, ip4(255, 0, 0, 0)},
		{16, ip4(255, 255, 0, 0)},
		{24, ip4(255, 255, 255, 0)},
		{30, ip4(255, 255, 255, 252)},
		{32, ip4(255, 255, 255, 255)},
	}
	for _, tc := range tests {
		if got := maskIP(tc.prefix); !got.Equal(tc.want) {
			t.Errorf("maskIP(%d) = %s, want %s", tc.prefix, got, tc.want)
		}
	}
}

func TestNetworkAndBroadcast(t *testing.T) {
	sn := &store.Subnet{Network: ip4(192, 168, 1, 0), PrefixLen: 24, Gateway: ip4(192, 168, 1, 1)}

	if got := uint32ToIP(networkOf(sn)); !got.Equal(ip4(192, 168, 1, 0)) {
		t.Fatalf("network = %s, want 192.168.1.0", got)
	}
	if got := uint32ToIP(broadcastOf(sn)); !got.Equal(ip4(192, 168, 1, 255)) {
		t.Fatalf("broadcast = %s, want 192.168.1.255", got)
	}

	// A host address inside the subnet normalizes to the same network.
	sn2 := &store.Subnet{Network: ip4(10, 1, 2, 3), PrefixLen: 16}
	if got := uint32ToIP(networkOf(sn2)); !got.Equal(ip4(10, 1, 0, 0)) {
		t.Fatalf("network = %s, want 10.1.0.0", got)
	}
}

func TestSubnetContains(t *testing.T) {
	sn := &store.Subnet{Network: ip4(192, 168, 1, 0), PrefixLen: 24}

	tests := []struct {
		ip   net.IP
		want bool
	}{
		{ip4(192, 168, 1, 1), true},
		{ip4(192, 168, 1, 255), true},
		{ip4(192, 168, 2, 1), false},
		{ip4(10, 0, 0, 1), false},
		{nil, false},
	}
	for _, tc := range tests {
		if got := subnetContains(sn, tc.ip); got != tc.want {
			t.Errorf("subnetContains(%s) = %v, want %v", tc.ip, got, tc.want)
		}
	}
}

func TestUint32RoundTrip(t *testing.T) {
	for _, ip := range []net.IP{ip4(0, 0, 0, 0), ip4(10, 0, 0, 1), ip4(192, 168, 1, 150), ip4(255, 255, 255, 255)} {
		if got := uint32ToIP(ipToUint32(ip)); !got.Equal(ip) {
			t.Errorf("round trip %s -> %s", ip, got)
		}
	}
	if ipToUint32(ip4(192, 168, 1, 100))+1 != ipToUint32(ip4(192, 168, 1, 101)) {
		t.Fatalf("adjacent addresses are not adjacent integers")
	}
}
