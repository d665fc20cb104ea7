package dhcpwire

import (
	"encoding/binary"
	"net"
)

// Option codes this server interprets (RFC 2132). Every other code is
// carried opaquely and round-trips untouched.
const (
	OptionPad           byte = 0
	OptionSubnetMask    byte = 1
	OptionRouter        byte = 3
	OptionDNSServers    byte = 6
	OptionHostname      byte = 12
	OptionDomainName    byte = 15
	OptionRequestedIP   byte = 50
	OptionLeaseTime     byte = 51
	OptionMessageType   byte = 53
	OptionServerID      byte = 54
	OptionRenewalTime   byte = 58
	OptionRebindingTime byte = 59
	OptionEnd           byte = 255
)

// Option is a single DHCP option: a registry code plus its raw payload.
// Constructors produce the payload shape each code prescribes; accessors
// validate it on read, so malformed payloads surface as "not present" rather
// than as decode failures.
type Option struct {
	Code byte
	Data []byte
}

// OptSubnetMask builds option 1.
func OptSubnetMask(mask net.IP) Option { return ipOption(OptionSubnetMask, mask) }

// OptRouter builds option 3 with one or more router addresses.
func OptRouter(ips ...net.IP) Option { return ipListOption(OptionRouter, ips) }

// OptDNSServers builds option 6.
func OptDNSServers(ips ...net.IP) Option { return ipListOption(OptionDNSServers, ips) }

// OptHostname builds option 12.
func OptHostname(name string) Option {
	return Option{Code: OptionHostname, Data: []byte(name)}
}

// OptDomainName builds option 15.
func OptDomainName(name string) Option {
	return Option{Code: OptionDomainName, Data: []byte(name)}
}

// OptRequestedIP builds option 50.
func OptRequestedIP(ip net.IP) Option { return ipOption(OptionRequestedIP, ip) }

// OptLeaseTime builds option 51 from a duration in seconds.
func OptLeaseTime(secs uint32) Option { return secondsOption(OptionLeaseTime, secs) }

// OptMessageType builds option 53.
func OptMessageType(t MessageType) Option {
	return Option{Code: OptionMessageType, Data: []byte{byte(t)}}
}

// OptServerID builds option 54.
func OptServerID(ip net.IP) Option { return ipOption(OptionServerID, ip) }

// OptRenewalTime builds option 58.
func OptRenewalTime(secs uint32) Option { return secondsOption(OptionRenewalTime, secs) }

// OptRebindingTime builds option 59.
func OptRebindingTime(secs uint32) Option { return secondsOption(OptionRebindingTime, secs) }

func ipOption(code byte, ip net.IP) Option {
	data := make([]byte, 4)
	if v4 := ip.To4(); v4 != nil {
		copy(data, v4)
	}
	return Option{Code: code, Data: data}
}

func ipListOption(code byte, ips []net.IP) Option {
	data := make([]byte, 0, 4*len(ips))
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil {
			continue
		}
		data = append(data, v4...)
	}
	return Option{Code: code, Data: data}
}

func secondsOption(code byte, secs uint32) Option {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, secs)
	return Option{Code: code, Data: data}
}

// IP returns the payload as a single IPv4 address.
func (o Option) IP() (net.IP, bool) {
	if len(o.Data) != 4 {
		return nil, false
	}
	return net.IPv4(o.Data[0], o.Data[1], o.Data[2], o.Data[3]).To4(), true
}

// IPList returns the payload as one or more IPv4 addresses.
func (o Option) IPList() ([]net.IP, bool) {
	if len(o.Data) == 0 || len(o.Data)%4 != 0 {
		return nil, false
	}
	ips := make([]net.IP, 0, len(o.Data)/4)
	for i := 0; i < len(o.Data); i += 4 {
		ips = append(ips, net.IPv4(o.Data[i], o.Data[i+1], o.Data[i+2], o.Data[i+3]).To4())
	}
	return ips, true
}

// Seconds returns the payload as a 32-bit big-endian duration.
func (o Option) Seconds() (uint32, bool) {
	if len(o.Data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(o.Data), true
}

// Text returns the payload as UTF-8 text.
func (o Option) Text() string { return string(o.Data) }

// MessageType returns the payload of option 53.
func (o Option) MessageType() (MessageType, bool) {
	if len(o.Data) != 1 {
		return 0, false
	}
	return MessageTypeFromByte(o.Data[0])
}

// parseOptions scans a TLV region. Pad bytes are skipped, End stops the
// scan, and truncated trailing data ends the scan without failing the
// packet.
func parseOptions(data []byte) []Option {
	var opts []Option
	i := 0
	for i < len(data) {
		code := data[i]
		if code == OptionEnd {
			break
		}
		if code == OptionPad {
			i++
			continue
		}
		if i+1 >= len(data) {
			break
		}
		length := int(data[i+1])
		if i+2+length > len(data) {
			break
		}
		payload := make([]byte, length)
		copy(payload, data[i+2:i+2+length])
		opts = append(opts, Option{Code: code, Data: payload})
		i += 2 + length
	}
	return opts
}

// appendOptions serializes each option as code, length, payload. The length
// field is a single byte, so oversized payloads cannot be represented and
// are dropped.
func appendOptions(dst []byte, opts []Option) []byte {
	for _, o := range opts {
		if o.Code == OptionEnd || len(o.Data) > 255 {
			continue
		}
		dst = append(dst, o.Code, byte(len(o.Data)))
		dst = append(dst, o.Data...)
	}
	return dst
}
