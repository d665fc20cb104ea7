package dhcpwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// BOOTP op codes.
const (
	OpRequest byte = 1
	OpReply   byte = 2
)

// FlagBroadcast is the broadcast bit in the flags field.
const FlagBroadcast uint16 = 0x8000

const (
	headerSize   = 240
	chaddrOffset = 28
	cookieOffset = 236
)

// magicCookie marks the start of the DHCP option region (RFC 2132).
var magicCookie = [4]byte{99, 130, 83, 99}

var (
	// ErrPacketTooSmall reports a datagram shorter than the 240-byte fixed
	// header.
	ErrPacketTooSmall = errors.New("dhcpwire: packet smaller than fixed header")
	// ErrInvalidHardwareAddr reports a chaddr field that cannot be
	// extracted.
	ErrInvalidHardwareAddr = errors.New("dhcpwire: cannot extract hardware address")
)

// Packet is one BOOTP/DHCP message. The address fields hold IPv4 addresses;
// nil serializes as 0.0.0.0. Options keep their wire order.
type Packet struct {
	Op      byte
	HType   byte
	HLen    byte
	Hops    byte
	XID     uint32
	Secs    uint16
	Flags   uint16
	CIAddr  net.IP
	YIAddr  net.IP
	SIAddr  net.IP
	GIAddr  net.IP
	CHAddr  MacAddress
	Options []Option
}

// FromBytes decodes a raw datagram. Anything under 240 bytes fails with
// ErrPacketTooSmall. Options are parsed only when the magic cookie is
// present at offset 236; a missing cookie yields an empty option list
// (legacy BOOTP tolerance), and truncated trailing option data ends the scan
// without failing the packet.
func FromBytes(data []byte) (*Packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrPacketTooSmall, len(data))
	}

	p := &Packet{
		Op:     data[0],
		HType:  data[1],
		HLen:   data[2],
		Hops:   data[3],
		XID:    binary.BigEndian.Uint32(data[4:8]),
		Secs:   binary.BigEndian.Uint16(data[8:10]),
		Flags:  binary.BigEndian.Uint16(data[10:12]),
		CIAddr: ipFromBytes(data[12:16]),
		YIAddr: ipFromBytes(data[16:20]),
		SIAddr: ipFromBytes(data[20:24]),
		GIAddr: ipFromBytes(data[24:28]),
	}

	if len(data) < chaddrOffset+6 {
		return nil, ErrInvalidHardwareAddr
	}
	copy(p.CHAddr[:], data[chaddrOffset:chaddrOffset+6])

	if len(data) > headerSize && bytes.Equal(data[cookieOffset:headerSize], magicCookie[:]) {
		p.Options = parseOptions(data[headerSize:])
	}

	return p, nil
}

// ToBytes serializes the packet: the 240-byte fixed header with the magic
// cookie at offset 236 (sname, file, and the unused tail of chaddr stay
// zero), each option as code/length/payload, and a trailing End marker.
func (p *Packet) ToBytes() []byte {
	out := make([]byte, headerSize, headerSize+16)
	out[0] = p.Op
	out[1] = p.HType
	out[2] = p.HLen
	out[3] = p.Hops
	binary.BigEndian.PutUint32(out[4:8], p.XID)
	binary.BigEndian.PutUint16(out[8:10], p.Secs)
	binary.BigEndian.PutUint16(out[10:12], p.Flags)
	putIP(out[12:16], p.CIAddr)
	putIP(out[16:20], p.YIAddr)
	putIP(out[20:24], p.SIAddr)
	putIP(out[24:28], p.GIAddr)
	copy(out[chaddrOffset:chaddrOffset+6], p.CHAddr[:])
	copy(out[cookieOffset:headerSize], magicCookie[:])

	out = appendOptions(out, p.Options)
	out = append(out, OptionEnd)
	return out
}

// GetOption returns the first option with the given code.
func (p *Packet) GetOption(code byte) (Option, bool) {
	for _, o := range p.Options {
		if o.Code == code {
			return o, true
		}
	}
	return Option{}, false
}

// MessageType returns the DHCP message type, or false when option 53 is
// missing or malformed.
func (p *Packet) MessageType() (MessageType, bool) {
	opt, ok := p.GetOption(OptionMessageType)
	if !ok {
		return 0, false
	}
	return opt.MessageType()
}

// RequestedIP returns option 50's address when present and well formed.
func (p *Packet) RequestedIP() (net.IP, bool) {
	opt, ok := p.GetOption(OptionRequestedIP)
	if !ok {
		return nil, false
	}
	return opt.IP()
}

// Hostname returns option 12's text when present.
func (p *Packet) Hostname() (string, bool) {
	opt, ok := p.GetOption(OptionHostname)
	if !ok {
		return "", false
	}
	return opt.Text(), true
}

func ipFromBytes(b []byte) net.IP {
	return net.IPv4(b[0], b[1], b[2], b[3]).To4()
}

func putIP(dst []byte, ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		copy(dst, v4)
	}
}
