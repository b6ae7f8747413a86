// Package wire implements the two multi-frame encodings the fabric puts on
// a raw TCP byte stream (spec.md §4.B/§4.C): request/response frames
// (with an optional routing-identity prefix, the Reply socket's demux key)
// and publish frames (with a leading dot-terminated topic for subscription
// matching). Every frame sequence carries the protocol version byte ('a')
// in the frame just before the envelope, after the routing-identity or
// topic frame when there is one; a receiver decoding a mismatched version
// raises
// ProtocolVersionMismatchError rather than the bytes being misinterpreted.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
)

// Version is the single protocol version byte carried in every frame
// sequence, in the frame that precedes the envelope.
const Version byte = 'a'

// WriteFrames writes a length-prefixed multipart frame sequence: a 4-byte
// frame count, then for each frame a 4-byte length followed by its bytes.
// TCP is a byte stream, not a message transport, so framing is explicit
// rather than relying on a messaging library's own frame boundaries.
func WriteFrames(w io.Writer, frames [][]byte) error {
	bw := bufio.NewWriter(w)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frames)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	for _, f := range frames {
		binary.BigEndian.PutUint32(hdr[:], uint32(len(f)))
		if _, err := bw.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := bw.Write(f); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadFrames reads one multipart frame sequence written by WriteFrames.
func ReadFrames(r io.Reader) ([][]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(hdr[:])
	frames := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(hdr[:])
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, err
			}
		}
		frames = append(frames, buf)
	}
	return frames, nil
}

// EncodeRequest builds the frame sequence for a request/response message
// (GET/SET/HASH/CONFIG/ACK/REP). routingID, when non-empty, is prepended as
// a routing-identity frame so a Reply socket (ROUTER-like) can demux replies
// back to the originating connection; it is empty on the wire between a
// Request socket and the Reply socket it dialed directly.
func EncodeRequest(c codec.Codec, routingID string, env message.Envelope, bulk []byte) ([][]byte, error) {
	body, err := c.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}

	frames := make([][]byte, 0, 4)
	if routingID != "" {
		frames = append(frames, []byte(routingID))
	}
	frames = append(frames, []byte{Version}, body)
	if bulk != nil {
		frames = append(frames, bulk)
	}
	return frames, nil
}

// DecodeRequest reverses EncodeRequest. hasRoutingID tells the decoder
// whether to expect and strip a leading routing-identity frame.
func DecodeRequest(c codec.Codec, frames [][]byte, hasRoutingID bool) (routingID string, env message.Envelope, bulk []byte, err error) {
	if hasRoutingID {
		if len(frames) == 0 {
			return "", message.Envelope{}, nil, fmt.Errorf("wire: missing routing-identity frame")
		}
		routingID = string(frames[0])
		frames = frames[1:]
	}

	if len(frames) < 2 {
		return "", message.Envelope{}, nil, fmt.Errorf("wire: expected at least version+envelope frames, got %d", len(frames))
	}
	if len(frames[0]) == 0 {
		return "", message.Envelope{}, nil, fmt.Errorf("wire: empty version frame")
	}

	// Unmarshal the envelope before checking the version byte: a
	// version-mismatched request still carries a valid TransID/SourceID, and
	// the caller needs those to correlate an ACK/error REP back to the
	// sender rather than leaving it to time out on its own ACK wait.
	if err := c.Unmarshal(frames[1], &env); err != nil {
		return "", message.Envelope{}, nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}

	if frames[0][0] != Version {
		return routingID, env, nil, &mktlerr.ProtocolVersionMismatchError{Got: frames[0][0], Want: Version}
	}

	if len(frames) > 2 {
		bulk = frames[2]
	}
	return routingID, env, bulk, nil
}

// EncodePublish builds the frame sequence for a PUB message: a
// subscription-matchable topic frame (the key with a trailing dot, per §4.C
// so that "dcs." matches "dcs.ra" but not "dcsx.ra"), the version byte, the
// envelope, and an optional bulk frame.
func EncodePublish(c codec.Codec, env message.Envelope, bulk []byte) ([][]byte, error) {
	body, err := c.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal envelope: %w", err)
	}

	topic := []byte(env.Key + ".")
	frames := [][]byte{topic, {Version}, body}
	if bulk != nil {
		frames = append(frames, bulk)
	}
	return frames, nil
}

// DecodePublish reverses EncodePublish.
func DecodePublish(c codec.Codec, frames [][]byte) (topic string, env message.Envelope, bulk []byte, err error) {
	if len(frames) < 3 {
		return "", message.Envelope{}, nil, fmt.Errorf("wire: expected at least topic+version+envelope frames, got %d", len(frames))
	}
	topic = string(frames[0])
	if len(frames[1]) == 0 || frames[1][0] != Version {
		return "", message.Envelope{}, nil, &mktlerr.ProtocolVersionMismatchError{Got: frameVersionByte(frames[1]), Want: Version}
	}
	if err := c.Unmarshal(frames[2], &env); err != nil {
		return "", message.Envelope{}, nil, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	if len(frames) > 3 {
		bulk = frames[3]
	}
	return topic, env, bulk, nil
}

// TopicMatches reports whether a received topic frame (dot-terminated key
// prefix) matches a subscription prefix (also dot-terminated, or empty for
// "subscribe to everything").
func TopicMatches(subscriptionPrefix, topic string) bool {
	if subscriptionPrefix == "" {
		return true
	}
	if len(topic) < len(subscriptionPrefix) {
		return false
	}
	return topic[:len(subscriptionPrefix)] == subscriptionPrefix
}

func frameVersionByte(frame []byte) byte {
	if len(frame) == 0 {
		return 0
	}
	return frame[0]
}
