// Package hostlink implements the operator side of the device host-link
// protocol: newline-terminated ASCII commands answered by "OK", "OK: <value>"
// or "ERROR: <reason>" lines.
package hostlink

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/remotekey/fob-command/internal/log"
)

// Banner is the line a device emits when it (re)starts. Devices may emit it
// at any time relative to the operator connecting, so [Client.Do] treats it
// as an asynchronous notification rather than a command response.
const Banner = "OK: started"

// Response is one parsed host-link line.
type Response struct {
	// OK is true for "OK" and "OK: <value>" lines.
	OK bool
	// Value is the text after "OK: " or "ERROR: ", if any.
	Value string
	// Raw is the line as received.
	Raw string
}

// Err returns nil for a success response, or an error carrying the device's
// reason for an error response.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("device error: %s", r.Value)
}

func parseLine(line string) Response {
	switch {
	case line == "OK":
		return Response{OK: true, Raw: line}
	case strings.HasPrefix(line, "OK: "):
		return Response{OK: true, Value: line[len("OK: "):], Raw: line}
	case strings.HasPrefix(line, "ERROR: "):
		return Response{Value: line[len("ERROR: "):], Raw: line}
	}
	// Anything else is off-protocol; surface it as an error response so the
	// operator sees it.
	return Response{Value: line, Raw: line}
}

// Client talks to one device host link.
type Client struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
}

// Dial connects to a device host link over TCP.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("hostlink: dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection to a device host link.
func NewClient(conn io.ReadWriteCloser) *Client {
	return &Client{conn: conn, reader: bufio.NewReader(conn)}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes one command line.
func (c *Client) Send(cmd string) error {
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		return fmt.Errorf("hostlink: send: %w", err)
	}
	log.Debug("hostlink: sent %q", cmd)
	return nil
}

// ReadLine reads the next response line, including startup banners.
func (c *Client) ReadLine() (Response, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return Response{}, fmt.Errorf("hostlink: read: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	log.Debug("hostlink: received %q", line)
	return parseLine(line), nil
}

// Do sends a command and returns its response, skipping any startup banners
// that arrive in between.
func (c *Client) Do(cmd string) (Response, error) {
	if err := c.Send(cmd); err != nil {
		return Response{}, err
	}
	for {
		rsp, err := c.ReadLine()
		if err != nil {
			return Response{}, err
		}
		if rsp.Raw == Banner {
			continue
		}
		return rsp, nil
	}
}

// Monitor copies response lines to w until the connection drops. It is used
// to watch a car's host link for unlock output.
func (c *Client) Monitor(w io.Writer) error {
	for {
		rsp, err := c.ReadLine()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, rsp.Raw)
	}
}
