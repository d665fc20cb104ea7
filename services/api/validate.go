package api

import (
	"encoding/binary"
	"fmt"
	"net"
)

func parseIPv4(kind, raw string) (net.IP, error) {
	ip := net.ParseIP(raw)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("%s %q is not an IPv4 address", kind, raw)
	}
	return ip.To4(), nil
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func prefixMask(prefix int) uint32 {
	switch {
	case prefix <= 0:
		return 0
	case prefix >= 32:
		return ^uint32(0)
	default:
		return ^uint32(0) << (32 - prefix)
	}
}

// networkAddress masks host bits off, canonicalising whatever the operator
// typed into the true network address.
func networkAddress(ip net.IP, prefix int) net.IP {
	v := ipToUint32(ip) & prefixMask(prefix)
	out := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(out, v)
	return out
}

func inSubnet(network net.IP, prefix int, addr net.IP) bool {
	mask := prefixMask(prefix)
	return ipToUint32(addr)&mask == ipToUint32(network)&mask
}
