package transport

import (
	"io"
	"sync"

	"github.com/remotekey/fob-command/internal/log"
)

// Hub serves a Link across successive network sessions, the way a serial
// port outlives whatever terminal is attached to it. Bytes from whichever
// session is currently attached flow into a shared inbox; writes go to the
// current session and are dropped when none is attached.
type Hub struct {
	inbox chan byte

	mu  sync.Mutex
	cur io.Writer
}

// NewHub returns a Hub with no session attached.
func NewHub() *Hub {
	return &Hub{inbox: make(chan byte, pipeBufferSize)}
}

// Attach pumps rw's bytes into the hub until rw's reader fails, then
// detaches it. Only one session should be attached at a time; callers
// typically run an accept loop and Attach each connection in turn.
func (h *Hub) Attach(rw io.ReadWriter) {
	h.mu.Lock()
	h.cur = rw
	h.mu.Unlock()

	buf := make([]byte, 256)
	for {
		n, err := rw.Read(buf)
		for _, b := range buf[:n] {
			h.inbox <- b
		}
		if err != nil {
			if err != io.EOF {
				log.Debug("transport: session detached: %s", err)
			}
			break
		}
	}

	h.mu.Lock()
	if h.cur == io.Writer(rw) {
		h.cur = nil
	}
	h.mu.Unlock()
}

// Available reports whether a byte is buffered for reading.
func (h *Hub) Available() bool {
	return len(h.inbox) > 0
}

// ReadByte blocks until a byte arrives from some session.
func (h *Hub) ReadByte() (byte, error) {
	return <-h.inbox, nil
}

// ReadFull blocks until len(buf) bytes have been read.
func (h *Hub) ReadFull(buf []byte) error {
	for i := range buf {
		b, err := h.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// WriteByte writes a single byte to the attached session, if any.
func (h *Hub) WriteByte(b byte) error {
	_, err := h.Write([]byte{b})
	return err
}

// Write writes buf to the attached session. Output with no session attached
// is discarded, like a UART transmitting with nothing on the line.
func (h *Hub) Write(buf []byte) (int, error) {
	h.mu.Lock()
	w := h.cur
	h.mu.Unlock()
	if w == nil {
		return len(buf), nil
	}
	return w.Write(buf)
}
