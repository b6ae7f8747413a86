// Package session implements the request/response and publish sessions that
// sit on top of pkg/transport and pkg/wire (spec.md §4.D): a client-side
// pending-request map with separate ACK/REP timeouts and late-REP discard,
// and a server-side immediate-ACK-then-bounded-worker-pool dispatcher.
//
// The pending-map/timeout-event shape is grounded on the teacher's
// commbus.InMemoryCommBus.QuerySync, generalized from an in-process bus to a
// wire round trip over a transport.Conn.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
	"github.com/KeckObservatory/mktl-go/pkg/transport"
	"github.com/KeckObservatory/mktl-go/pkg/wire"
)

type pendingRequest struct {
	key    string
	ack    chan struct{}
	reply  chan message.Envelope
	once   sync.Once
}

func (p *pendingRequest) closeAck() {
	p.once.Do(func() { close(p.ack) })
}

// RequestSession is the client side of a request/response exchange: it owns
// one dialed connection to a daemon's Reply socket and multiplexes any
// number of concurrently outstanding requests over it by transaction id.
type RequestSession struct {
	conn     *transport.Conn
	sourceID string
	codec    codec.Codec

	ackTimeout time.Duration
	repTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRequestSession wraps conn and starts the background frame-dispatch
// loop. sourceID identifies this client in outgoing envelopes.
func NewRequestSession(conn *transport.Conn, sourceID string, ackTimeout, repTimeout time.Duration) *RequestSession {
	s := &RequestSession{
		conn:       conn,
		sourceID:   sourceID,
		codec:      codec.Default,
		ackTimeout: ackTimeout,
		repTimeout: repTimeout,
		pending:    make(map[string]*pendingRequest),
		closed:     make(chan struct{}),
	}
	go s.dispatchLoop()
	return s
}

// Send issues req and blocks until a REP arrives, the ACK timeout elapses
// without an ACK, or the REP timeout elapses after a received ACK.
func (s *RequestSession) Send(ctx context.Context, req message.Envelope) (*message.Payload, error) {
	p := &pendingRequest{
		key:   req.Key,
		ack:   make(chan struct{}),
		reply: make(chan message.Envelope, 1),
	}

	s.mu.Lock()
	s.pending[req.TransID] = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, req.TransID)
		s.mu.Unlock()
	}()

	frames, err := wire.EncodeRequest(s.codec, "", req, nil)
	if err != nil {
		return nil, err
	}
	if err := s.conn.SendFrames(frames); err != nil {
		return nil, err
	}

	select {
	case <-p.ack:
	case <-time.After(s.ackTimeout):
		return nil, &mktlerr.TimeoutError{Op: "ack", Key: req.Key, Seconds: s.ackTimeout.Seconds()}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, &mktlerr.ConnectionError{Address: s.conn.RemoteAddr(), Cause: context.Canceled}
	}

	select {
	case rep := <-p.reply:
		if rep.Payload != nil && rep.Payload.Error != nil {
			return nil, &mktlerr.RemoteError{
				Type: rep.Payload.Error.Type,
				Text: rep.Payload.Error.Text,
				Debug: rep.Payload.Error.Debug,
			}
		}
		if rep.Payload == nil {
			return nil, nil
		}
		return rep.Payload, nil
	case <-time.After(s.repTimeout):
		return nil, &mktlerr.TimeoutError{Op: "rep", Key: req.Key, Seconds: s.repTimeout.Seconds()}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, &mktlerr.ConnectionError{Address: s.conn.RemoteAddr(), Cause: context.Canceled}
	}
}

func (s *RequestSession) dispatchLoop() {
	defer s.closeOnce.Do(func() { close(s.closed) })
	for {
		frames, err := s.conn.RecvFrames()
		if err != nil {
			return
		}
		_, env, _, err := wire.DecodeRequest(s.codec, frames, false)
		if err != nil {
			continue
		}

		s.mu.Lock()
		p, ok := s.pending[env.TransID]
		s.mu.Unlock()
		if !ok {
			// No pending entry: either unsolicited, or the REP timeout
			// already fired and Send's deferred cleanup removed it. Either
			// way it is discarded, matching §4.D's late-REP-discard rule.
			continue
		}

		switch env.Type {
		case message.TypeAck:
			p.closeAck()
		case message.TypeRep:
			select {
			case p.reply <- env:
			default:
			}
		}
	}
}

// Close closes the underlying connection and unblocks any in-flight Send
// calls with a connection error.
func (s *RequestSession) Close() error {
	return s.conn.Close()
}
