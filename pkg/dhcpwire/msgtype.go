package dhcpwire

import "fmt"

// MessageType is the DHCP message kind carried in option 53.
type MessageType byte

const (
	MessageTypeDiscover MessageType = 1
	MessageTypeOffer    MessageType = 2
	MessageTypeRequest  MessageType = 3
	MessageTypeDecline  MessageType = 4
	MessageTypeAck      MessageType = 5
	MessageTypeNak      MessageType = 6
	MessageTypeRelease  MessageType = 7
	MessageTypeInform   MessageType = 8
)

// MessageTypeFromByte maps an RFC 2132 message-type integer onto a
// MessageType. The second return is false for anything outside 1..8.
func MessageTypeFromByte(b byte) (MessageType, bool) {
	if b < 1 || b > 8 {
		return 0, false
	}
	return MessageType(b), true
}

func (t MessageType) String() string {
	switch t {
	case MessageTypeDiscover:
		return "DISCOVER"
	case MessageTypeOffer:
		return "OFFER"
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeDecline:
		return "DECLINE"
	case MessageTypeAck:
		return "ACK"
	case MessageTypeNak:
		return "NAK"
	case MessageTypeRelease:
		return "RELEASE"
	case MessageTypeInform:
		return "INFORM"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}
