// Package message implements the framed wire format used on the board link
// between a fob and a car.
//
// Every frame is a magic byte identifying the message type, a length byte,
// and then exactly length payload bytes. A magic byte of zero is reserved to
// mean "no message" and terminates a read as an error rather than producing a
// zero-length message.
package message

import (
	"errors"
	"fmt"
)

// Magic values identifying message types on the board link. Zero is reserved.
const (
	MagicNone   byte = 0x00
	MagicAck    byte = 0x54
	MagicPair   byte = 0x55
	MagicUnlock byte = 0x56
	MagicStart  byte = 0x57
)

// ACK payload values.
const (
	AckSuccess byte = 0xA5
	AckFail    byte = 0x5A
)

// MaxPayloadLength is the largest payload a single frame can carry; the
// length field is one byte.
const MaxPayloadLength = 255

var (
	// ErrNoMessage indicates a read saw the reserved zero magic byte. No
	// further bytes were consumed.
	ErrNoMessage = errors.New("message: no message on link")

	// ErrPayloadTooLarge indicates a send was attempted with a payload that
	// does not fit in the one-byte length field.
	ErrPayloadTooLarge = errors.New("message: payload exceeds 255 bytes")

	// ErrTooManySkipped indicates a typed receive discarded more messages
	// than its configured bound. The bound exists for test harnesses; in
	// production the drain is unbounded.
	ErrTooManySkipped = errors.New("message: too many mismatched messages discarded")
)

// Message is one framed unit on the board link.
type Message struct {
	Magic   byte
	Payload []byte
}

// Ack builds an ACK message carrying a single success or failure byte.
func Ack(success bool) Message {
	status := AckFail
	if success {
		status = AckSuccess
	}
	return Message{Magic: MagicAck, Payload: []byte{status}}
}

// Success reports whether m is an ACK carrying the success byte.
func (m Message) Success() bool {
	return m.Magic == MagicAck && len(m.Payload) == 1 && m.Payload[0] == AckSuccess
}

func (m Message) String() string {
	return fmt.Sprintf("message{magic: %#02x, len: %d}", m.Magic, len(m.Payload))
}

// MagicName returns a human-readable label for a magic value, for logging.
func MagicName(magic byte) string {
	switch magic {
	case MagicNone:
		return "NONE"
	case MagicAck:
		return "ACK"
	case MagicPair:
		return "PAIR"
	case MagicUnlock:
		return "UNLOCK"
	case MagicStart:
		return "START"
	}
	return fmt.Sprintf("UNKNOWN(%#02x)", magic)
}
