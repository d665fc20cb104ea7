package engine

import (
	"encoding/binary"
	"net"

	"rangerd/services/dhcpd/internal/store"
)

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v4)
}

func uint32ToIP(v uint32) net.IP {
	out := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(out, v)
	return out
}

func maskFromPrefix(prefix uint8) uint32 {
	if prefix == 0 {
		return 0
	}
	if prefix >= 32 {
		return ^uint32(0)
	}
	return ^uint32(0) << (32 - prefix)
}

func maskIP(prefix uint8) net.IP {
	return uint32ToIP(maskFromPrefix(prefix))
}

func networkOf(s *store.Subnet) uint32 {
	return ipToUint32(s.Network) & maskFromPrefix(s.PrefixLen)
}

func broadcastOf(s *store.Subnet) uint32 {
	return networkOf(s) | ^maskFromPrefix(s.PrefixLen)
}

func subnetContains(s *store.Subnet, ip net.IP) bool {
	if ip == nil || ip.To4() == nil {
		return false
	}
	return ipToUint32(ip)&maskFromPrefix(s.PrefixLen) == networkOf(s)
}

func isZeroIP(ip net.IP) bool {
	return ip == nil || ip.To4() == nil || ip.Equal(net.IPv4zero)
}
