package session

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
	"github.com/KeckObservatory/mktl-go/pkg/transport"
	"github.com/KeckObservatory/mktl-go/pkg/wire"
)

// Handler processes one request envelope and returns the Payload to carry
// in the REP, or an error to be reported as a REP error payload (§7).
type Handler func(ctx context.Context, req message.Envelope) (*message.Payload, error)

// RequestServer is the daemon side of a request/response exchange: every
// accepted connection gets its own read loop (run under a golang.org/x/sync/
// errgroup, which comes from the pack rather than the teacher; see
// DESIGN.md), and handler dispatch across all connections is bounded by one
// shared semaphore of worker slots.
type RequestServer struct {
	rep      *transport.ReplySocket
	sourceID string
	handler  Handler
	codec    codec.Codec
	sem      chan struct{}
}

// NewRequestServer wires handler behind rep, dispatching at most workers
// concurrent handler calls across all connections.
func NewRequestServer(rep *transport.ReplySocket, sourceID string, handler Handler, workers int) *RequestServer {
	if workers <= 0 {
		workers = 8
	}
	return &RequestServer{
		rep:      rep,
		sourceID: sourceID,
		handler:  handler,
		codec:    codec.Default,
		sem:      make(chan struct{}, workers),
	}
}

// Serve accepts connections until ctx is cancelled or the Reply socket is
// stopped, then waits for every connection loop to exit. It returns nil:
// handler errors are sent back as error REPs, and connection errors end only
// that connection's loop.
func (s *RequestServer) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for {
		select {
		case conn, ok := <-s.rep.Connections():
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				s.serveConn(gctx, conn)
				return nil
			})
		case <-ctx.Done():
			return g.Wait()
		}
	}
}

func (s *RequestServer) serveConn(ctx context.Context, conn *transport.Conn) {
	defer conn.Close()
	for {
		frames, err := conn.RecvFrames()
		if err != nil {
			return
		}
		_, req, _, err := wire.DecodeRequest(s.codec, frames, false)
		if err != nil {
			// A version mismatch still decodes a usable envelope (§4.B), so
			// the client is not left to time out on its own ACK wait: reply
			// with an ACK followed by an error REP instead of dropping the
			// request silently. Any other decode failure (malformed JSON,
			// truncated frames) leaves no TransID to correlate a reply to,
			// so it is dropped.
			var mismatch *mktlerr.ProtocolVersionMismatchError
			if errors.As(err, &mismatch) && req.TransID != "" {
				s.replyError(conn, req, mismatch)
			}
			continue
		}

		ack := message.NewAck(req, s.sourceID)
		ackFrames, encErr := wire.EncodeRequest(s.codec, "", ack, nil)
		if encErr != nil {
			continue
		}
		if err := conn.SendFrames(ackFrames); err != nil {
			return
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(req message.Envelope) {
			defer func() { <-s.sem }()
			s.dispatch(ctx, conn, req)
		}(req)
	}
}

func (s *RequestServer) dispatch(ctx context.Context, conn *transport.Conn, req message.Envelope) {
	payload, err := s.handler(ctx, req)

	var rep message.Envelope
	if err != nil {
		rep = message.NewErrorReply(req, s.sourceID, errorKind(err), err.Error(), "")
	} else {
		rep = message.NewReply(req, s.sourceID, payload)
	}

	frames, encErr := wire.EncodeRequest(s.codec, "", rep, nil)
	if encErr != nil {
		return
	}
	conn.SendFrames(frames)
}

// replyError sends an ACK immediately followed by an error REP for req,
// reporting cause. It is used for requests that fail decoding in a way that
// still leaves req correlatable (§4.B) — dispatch's own handler-error path
// builds its error REP directly since it already has a live ACK sent.
func (s *RequestServer) replyError(conn *transport.Conn, req message.Envelope, cause error) {
	ack := message.NewAck(req, s.sourceID)
	ackFrames, err := wire.EncodeRequest(s.codec, "", ack, nil)
	if err != nil {
		return
	}
	if err := conn.SendFrames(ackFrames); err != nil {
		return
	}

	rep := message.NewErrorReply(req, s.sourceID, errorKind(cause), cause.Error(), "")
	repFrames, err := wire.EncodeRequest(s.codec, "", rep, nil)
	if err != nil {
		return
	}
	conn.SendFrames(repFrames)
}

// errorKind reports a Go type name for err, mirroring the reference
// implementation's practice of sending the exception class name across the
// wire alongside its message (§7).
func errorKind(err error) string {
	return fmt.Sprintf("%T", err)
}
