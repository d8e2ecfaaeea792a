package message

import (
	"github.com/remotekey/fob-command/internal/log"
	"github.com/remotekey/fob-command/pkg/transport"
)

// Framer sends and receives framed messages over a board link.
//
// Framer is not safe for concurrent use; the device core is a single polling
// loop and owns its framer exclusively.
type Framer struct {
	link transport.Link

	// MaxSkipped bounds how many mismatched messages ReceiveByType discards
	// before giving up with ErrTooManySkipped. Zero means unbounded, which is
	// the production behavior: a device waiting for a particular message type
	// blocks until it arrives. Test harnesses set a bound so that a
	// misbehaving peer fails the test instead of hanging it.
	MaxSkipped int
}

// NewFramer returns a Framer that frames messages over link.
func NewFramer(link transport.Link) *Framer {
	return &Framer{link: link}
}

// Available reports whether the underlying link has data to read.
func (f *Framer) Available() bool {
	return f.link.Available()
}

// Send writes magic, length, and payload in order and returns the number of
// payload bytes written.
func (f *Framer) Send(m Message) (int, error) {
	if len(m.Payload) > MaxPayloadLength {
		return 0, ErrPayloadTooLarge
	}
	if err := f.link.WriteByte(m.Magic); err != nil {
		return 0, err
	}
	if err := f.link.WriteByte(byte(len(m.Payload))); err != nil {
		return 0, err
	}
	if len(m.Payload) == 0 {
		return 0, nil
	}
	return f.link.Write(m.Payload)
}

// Receive reads one framed message. If the first byte read is the reserved
// zero magic, Receive returns ErrNoMessage without consuming further bytes.
// Otherwise it blocks until the advertised payload has been read in full.
func (f *Framer) Receive() (Message, error) {
	magic, err := f.link.ReadByte()
	if err != nil {
		return Message{}, err
	}
	if magic == MagicNone {
		return Message{}, ErrNoMessage
	}
	length, err := f.link.ReadByte()
	if err != nil {
		return Message{}, err
	}
	payload := make([]byte, length)
	if err := f.link.ReadFull(payload); err != nil {
		return Message{}, err
	}
	return Message{Magic: magic, Payload: payload}, nil
}

// ReceiveByType reads messages until one arrives whose magic equals expected.
// Messages of any other type are consumed and discarded; they are never
// surfaced to the caller. A zero magic on the wire also counts as a discard.
func (f *Framer) ReceiveByType(expected byte) (Message, error) {
	skipped := 0
	for {
		m, err := f.Receive()
		if err == ErrNoMessage {
			// Spurious zero byte; treat like any other mismatch.
		} else if err != nil {
			return Message{}, err
		} else if m.Magic == expected {
			return m, nil
		} else {
			log.Debug("framer: discarding %s while waiting for %s", MagicName(m.Magic), MagicName(expected))
		}
		skipped++
		if f.MaxSkipped > 0 && skipped >= f.MaxSkipped {
			return Message{}, ErrTooManySkipped
		}
	}
}
