package device

import (
	"fmt"

	"github.com/remotekey/fob-command/pkg/transport"
)

// Host line buffer sizes. Lines longer than the buffer are truncated, not
// rejected: excess bytes are dropped until the terminator arrives.
const (
	carLineLimit = 64
	fobLineLimit = 256
)

// lineReader assembles newline- or carriage-return-terminated command lines
// from a host link without blocking.
type lineReader struct {
	link  transport.Link
	buf   []byte
	n     int
	limit int
}

func newLineReader(link transport.Link, limit int) *lineReader {
	return &lineReader{link: link, buf: make([]byte, limit), limit: limit}
}

// Poll consumes available bytes and returns a completed command line, if one
// terminated. Empty lines are swallowed. Poll never blocks.
func (r *lineReader) Poll() (string, bool) {
	for r.link.Available() {
		c, err := r.link.ReadByte()
		if err != nil {
			return "", false
		}
		if c == '\n' || c == '\r' {
			if r.n == 0 {
				continue
			}
			line := string(r.buf[:r.n])
			r.n = 0
			return line, true
		}
		if r.n < r.limit-1 {
			r.buf[r.n] = c
			r.n++
		}
		// Otherwise the byte is dropped; the line is truncated at the
		// buffer boundary.
	}
	return "", false
}

// respondOK writes a bare "OK" success line to the host link.
func respondOK(link transport.Link) {
	link.Write([]byte("OK\n"))
}

// respondValue writes an "OK: <value>" line to the host link.
func respondValue(link transport.Link, value string) {
	fmt.Fprintf(linkWriter{link}, "OK: %s\n", value)
}

// respondError writes an "ERROR: <reason>" line to the host link.
func respondError(link transport.Link, reason string) {
	fmt.Fprintf(linkWriter{link}, "ERROR: %s\n", reason)
}

// linkWriter adapts a Link to io.Writer for formatted host responses.
type linkWriter struct {
	link transport.Link
}

func (w linkWriter) Write(p []byte) (int, error) {
	return w.link.Write(p)
}
