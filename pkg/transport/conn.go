package transport

import (
	"net"
	"sync"

	"github.com/KeckObservatory/mktl-go/pkg/wire"
)

// Conn wraps a net.Conn with the frame-sequence read/write contract every
// socket role shares, and a write mutex since multiple goroutines on the
// session layer may send on the same connection (a Request session
// pipelines several outstanding requests over one dial).
type Conn struct {
	raw net.Conn
	mu  sync.Mutex
}

// NewConn adopts an already-established net.Conn.
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw}
}

// Dial opens a new outbound connection to address.
func Dial(address string) (*Conn, error) {
	raw, err := net.Dial("tcp", address)
	if err != nil {
		return nil, &connError{address: address, cause: err}
	}
	return NewConn(raw), nil
}

// SendFrames writes one frame sequence, serialized against concurrent
// senders on this connection.
func (c *Conn) SendFrames(frames [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteFrames(c.raw, frames)
}

// RecvFrames blocks for the next frame sequence. Only one goroutine per
// Conn should call RecvFrames; the session layer serializes reads through a
// single dispatch loop per connection.
func (c *Conn) RecvFrames() ([][]byte, error) {
	return wire.ReadFrames(c.raw)
}

// RemoteAddr returns the underlying connection's remote address string.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

type connError struct {
	address string
	cause   error
}

func (e *connError) Error() string {
	return "transport: dial " + e.address + ": " + e.cause.Error()
}

func (e *connError) Unwrap() error { return e.cause }
