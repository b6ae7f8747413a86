package transport

import (
	"net"
	"sync"
)

// ReplySocket is the server side of a request/response exchange (§4.B): it
// listens on an auto-bound port and hands each accepted connection to the
// caller via Connections(). One connection typically corresponds to one
// Request-session client.
//
// Start/Stop follow the teacher's graceful-server idiom (coreengine/grpc
// Server.Start/Stop before that package was retired): a shutdown flag
// guarded by a mutex makes Stop idempotent, and Stop always waits for the
// accept loop to exit before returning.
type ReplySocket struct {
	ln   net.Listener
	port int
	conns chan *Conn

	mu       sync.Mutex
	stopping bool
	done     chan struct{}
}

// NewReplySocket binds an auto-selected port in [low, high] and starts
// accepting connections in the background.
func NewReplySocket(host string, low, high int, avoid map[int]bool) (*ReplySocket, error) {
	ln, port, err := BindAutoPort(host, low, high, avoid, "rep")
	if err != nil {
		return nil, err
	}

	return newReplySocket(ln, port), nil
}

// NewReplySocketFromListener wraps an already-bound listener, for a caller
// (pkg/daemon's port-rebind step) that resolved the port itself via
// BindPreferredOrAuto rather than a fresh scan of [low, high].
func NewReplySocketFromListener(ln net.Listener, port int) *ReplySocket {
	return newReplySocket(ln, port)
}

func newReplySocket(ln net.Listener, port int) *ReplySocket {
	s := &ReplySocket{
		ln:    ln,
		port:  port,
		conns: make(chan *Conn, 16),
		done:  make(chan struct{}),
	}
	go s.acceptLoop()
	return s
}

// Port returns the bound TCP port.
func (s *ReplySocket) Port() int { return s.port }

// Connections returns the channel of newly accepted client connections. It
// is closed once Stop has drained the accept loop.
func (s *ReplySocket) Connections() <-chan *Conn { return s.conns }

func (s *ReplySocket) acceptLoop() {
	defer close(s.conns)
	defer close(s.done)
	for {
		raw, err := s.ln.Accept()
		if err != nil {
			return
		}
		select {
		case s.conns <- NewConn(raw):
		default:
			// A slow consumer would otherwise block the accept loop
			// indefinitely; send in a goroutine instead of dropping.
			go func(c *Conn) { s.conns <- c }(NewConn(raw))
		}
	}
}

// Stop closes the listener and waits for the accept loop to exit. Safe to
// call more than once.
func (s *ReplySocket) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	err := s.ln.Close()
	<-s.done
	return err
}
