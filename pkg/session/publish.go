package session

import (
	"sync"

	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/transport"
	"github.com/KeckObservatory/mktl-go/pkg/wire"
)

// Update is one delivered publish event: an envelope and, if the payload
// declared bulk data, the accompanying binary blob. PublishSession expects
// the bulk frame in the same frame sequence as its envelope (as
// wire.EncodePublish produces it); it does not pair envelopes and bulk data
// that arrive in separate sequences. An envelope that declares bulk but
// arrives without a bulk frame is held in pending and never delivered.
type Update struct {
	Envelope message.Envelope
	Bulk     []byte
}

// PublishSession is the client side of pub/sub: it owns a dialed
// SubscribeSocket, applies the subscription's topic-prefix filter, and
// republishes matching updates on a channel.
type PublishSession struct {
	sub    *transport.SubscribeSocket
	codec  codec.Codec
	prefix string

	updates chan Update

	mu      sync.Mutex
	pending map[string]message.Envelope // transid -> envelope awaiting its bulk frame
}

// NewPublishSession dials address and begins filtering for topics with the
// given prefix (pass "" to receive everything the publisher sends).
func NewPublishSession(address, prefix string) (*PublishSession, error) {
	sub, err := transport.DialSubscribe(address)
	if err != nil {
		return nil, err
	}
	s := &PublishSession{
		sub:     sub,
		codec:   codec.Default,
		prefix:  prefix,
		updates: make(chan Update, 64),
		pending: make(map[string]message.Envelope),
	}
	go s.recvLoop()
	return s, nil
}

// Updates returns the channel of delivered updates. It is closed once the
// underlying connection fails or Close is called.
func (s *PublishSession) Updates() <-chan Update { return s.updates }

func (s *PublishSession) recvLoop() {
	defer close(s.updates)
	for {
		frames, err := s.sub.Recv()
		if err != nil {
			return
		}
		topic, env, bulk, err := wire.DecodePublish(s.codec, frames)
		if err != nil {
			continue
		}
		if !wire.TopicMatches(s.prefix, topic) {
			continue
		}

		if env.Payload != nil && env.Payload.Bulk && bulk == nil {
			// Envelope declares bulk but carries no bulk frame; it is kept
			// under its transaction id and no later frame is matched to it.
			s.mu.Lock()
			s.pending[env.TransID] = env
			s.mu.Unlock()
			continue
		}

		s.updates <- Update{Envelope: env, Bulk: bulk}
	}
}

// Close closes the underlying subscriber connection.
func (s *PublishSession) Close() error {
	return s.sub.Close()
}
