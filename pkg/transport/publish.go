package transport

import (
	"net"
	"sync"
)

// PublishSocket is the server side of pub/sub (§4.C): it accepts subscriber
// connections and fans every Publish call out to all of them. Topic
// filtering happens subscriber-side (see session.PublishSession), since raw TCP has
// no kernel-level subscription matching the way a dedicated messaging
// library would provide.
type PublishSocket struct {
	ln   net.Listener
	port int

	mu   sync.Mutex
	subs map[*Conn]struct{}

	stopOnce sync.Once
	done     chan struct{}
}

// NewPublishSocket binds an auto-selected port and begins accepting
// subscriber connections in the background.
func NewPublishSocket(host string, low, high int, avoid map[int]bool) (*PublishSocket, error) {
	ln, port, err := BindAutoPort(host, low, high, avoid, "pub")
	if err != nil {
		return nil, err
	}
	return newPublishSocket(ln, port), nil
}

// NewPublishSocketFromListener wraps an already-bound listener, the publish
// counterpart of NewReplySocketFromListener.
func NewPublishSocketFromListener(ln net.Listener, port int) *PublishSocket {
	return newPublishSocket(ln, port)
}

func newPublishSocket(ln net.Listener, port int) *PublishSocket {
	p := &PublishSocket{
		ln:   ln,
		port: port,
		subs: make(map[*Conn]struct{}),
		done: make(chan struct{}),
	}
	go p.acceptLoop()
	return p
}

// Port returns the bound TCP port.
func (p *PublishSocket) Port() int { return p.port }

func (p *PublishSocket) acceptLoop() {
	defer close(p.done)
	for {
		raw, err := p.ln.Accept()
		if err != nil {
			return
		}
		c := NewConn(raw)
		p.mu.Lock()
		p.subs[c] = struct{}{}
		p.mu.Unlock()
	}
}

// Publish fans frames out to every currently connected subscriber. A
// subscriber whose connection has broken is dropped from the set; the
// caller is not told which subscribers, if any, failed to receive it (§4.C
// gives pub/sub no delivery guarantee).
func (p *PublishSocket) Publish(frames [][]byte) {
	p.mu.Lock()
	targets := make([]*Conn, 0, len(p.subs))
	for c := range p.subs {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	var dead []*Conn
	for _, c := range targets {
		if err := c.SendFrames(frames); err != nil {
			dead = append(dead, c)
		}
	}
	if len(dead) == 0 {
		return
	}
	p.mu.Lock()
	for _, c := range dead {
		delete(p.subs, c)
	}
	p.mu.Unlock()
}

// SubscriberCount reports the number of currently connected subscribers.
func (p *PublishSocket) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Stop closes the listener and all subscriber connections. Safe to call
// more than once.
func (p *PublishSocket) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		err = p.ln.Close()
		<-p.done
		p.mu.Lock()
		for c := range p.subs {
			c.Close()
		}
		p.subs = nil
		p.mu.Unlock()
	})
	return err
}
