package transport

import (
	"io"
	"sync"

	"github.com/remotekey/fob-command/internal/log"
)

// Conn adapts an io.ReadWriter (typically a net.Conn) into a Link. A
// background goroutine pumps inbound bytes into a buffer so that Available
// can answer without blocking.
type Conn struct {
	rw io.ReadWriter

	inbox chan byte

	writeLock sync.Mutex

	errLock sync.Mutex
	readErr error
}

// NewConn wraps rw in a Link and starts the inbound pump. The caller remains
// responsible for closing the underlying connection; doing so terminates the
// pump and surfaces ErrClosed to readers once the buffer drains.
func NewConn(rw io.ReadWriter) *Conn {
	c := &Conn{
		rw:    rw,
		inbox: make(chan byte, pipeBufferSize),
	}
	go c.pump()
	return c
}

func (c *Conn) pump() {
	buf := make([]byte, 256)
	for {
		n, err := c.rw.Read(buf)
		for _, b := range buf[:n] {
			c.inbox <- b
		}
		if err != nil {
			if err != io.EOF {
				log.Debug("transport: inbound pump stopped: %s", err)
			}
			c.errLock.Lock()
			c.readErr = ErrClosed
			c.errLock.Unlock()
			close(c.inbox)
			return
		}
	}
}

// Available reports whether a byte is buffered for reading.
func (c *Conn) Available() bool {
	return len(c.inbox) > 0
}

// ReadByte blocks until a byte arrives or the connection fails.
func (c *Conn) ReadByte() (byte, error) {
	b, ok := <-c.inbox
	if !ok {
		return 0, ErrClosed
	}
	return b, nil
}

// ReadFull blocks until len(buf) bytes have been read.
func (c *Conn) ReadFull(buf []byte) error {
	for i := range buf {
		b, err := c.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// WriteByte writes a single byte to the connection.
func (c *Conn) WriteByte(b byte) error {
	_, err := c.Write([]byte{b})
	return err
}

// Write writes buf to the connection.
func (c *Conn) Write(buf []byte) (int, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.rw.Write(buf)
}
