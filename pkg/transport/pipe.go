package transport

import "sync"

const pipeBufferSize = 4096

// Pipe is an in-memory Link for tests and simulations. Pipes come in
// cross-connected pairs: bytes written to one end become readable at the
// other, in order.
type Pipe struct {
	rx *pipeHalf
	tx *pipeHalf
}

type pipeHalf struct {
	ch     chan byte
	mu     sync.Mutex
	dead   bool
	closed chan struct{}
}

func newPipeHalf() *pipeHalf {
	return &pipeHalf{
		ch:     make(chan byte, pipeBufferSize),
		closed: make(chan struct{}),
	}
}

// NewPipe creates a connected pair of in-memory links.
func NewPipe() (*Pipe, *Pipe) {
	a := newPipeHalf()
	b := newPipeHalf()
	return &Pipe{rx: a, tx: b}, &Pipe{rx: b, tx: a}
}

// Available reports whether a byte is buffered for reading.
func (p *Pipe) Available() bool {
	return len(p.rx.ch) > 0
}

// ReadByte blocks until the peer writes a byte or closes its end.
func (p *Pipe) ReadByte() (byte, error) {
	select {
	case b, ok := <-p.rx.ch:
		if !ok {
			return 0, ErrClosed
		}
		return b, nil
	case <-p.rx.closed:
		// Drain bytes written before the close.
		select {
		case b, ok := <-p.rx.ch:
			if ok {
				return b, nil
			}
		default:
		}
		return 0, ErrClosed
	}
}

// ReadFull blocks until len(buf) bytes have been read.
func (p *Pipe) ReadFull(buf []byte) error {
	for i := range buf {
		b, err := p.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// WriteByte delivers a single byte to the peer.
func (p *Pipe) WriteByte(b byte) error {
	p.tx.mu.Lock()
	if p.tx.dead {
		p.tx.mu.Unlock()
		return ErrClosed
	}
	p.tx.mu.Unlock()
	select {
	case p.tx.ch <- b:
		return nil
	case <-p.tx.closed:
		return ErrClosed
	}
}

// Write delivers p to the peer in order.
func (p *Pipe) Write(buf []byte) (int, error) {
	for i, b := range buf {
		if err := p.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(buf), nil
}

// Close detaches this end. The peer's pending reads drain buffered bytes and
// then fail with ErrClosed. Close is idempotent.
func (p *Pipe) Close() error {
	p.tx.mu.Lock()
	if !p.tx.dead {
		p.tx.dead = true
		close(p.tx.closed)
	}
	p.tx.mu.Unlock()
	return nil
}
