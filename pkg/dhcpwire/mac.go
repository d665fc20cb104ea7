package dhcpwire

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// MacAddress is a 6-byte Ethernet hardware address. Equality and map keying
// are byte-wise; the canonical text form is uppercase colon-separated hex.
type MacAddress [6]byte

// ParseMacAddress parses six colon- or dash-separated hex pairs.
func ParseMacAddress(s string) (MacAddress, error) {
	var mac MacAddress
	trimmed := strings.TrimSpace(s)
	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return mac, fmt.Errorf("invalid mac address %q", s)
	}
	for i, part := range parts {
		if len(part) != 2 {
			return mac, fmt.Errorf("invalid mac address %q", s)
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return mac, fmt.Errorf("invalid mac address %q", s)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

func (m MacAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// HardwareAddr converts to the net package representation.
func (m MacAddress) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m[:])
}
