package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
	"github.com/KeckObservatory/mktl-go/pkg/transport"
	"github.com/KeckObservatory/mktl-go/pkg/wire"
)

func startServer(t *testing.T, handler Handler) (*RequestServer, *transport.ReplySocket) {
	t.Helper()
	rep, err := transport.NewReplySocket("127.0.0.1", 21100, 21200, nil)
	require.NoError(t, err)

	srv := NewRequestServer(rep, "daemon-1", handler, 4)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		rep.Stop()
	})
	return srv, rep
}

func dialSession(t *testing.T, rep *transport.ReplySocket) *RequestSession {
	t.Helper()
	conn, err := transport.Dial(fmt.Sprintf("127.0.0.1:%d", rep.Port()))
	require.NoError(t, err)
	s := NewRequestSession(conn, "client-1", 200*time.Millisecond, 2*time.Second)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRequestSessionGetRoundTrip(t *testing.T) {
	_, rep := startServer(t, func(ctx context.Context, req message.Envelope) (*message.Payload, error) {
		return &message.Payload{Value: 42.0}, nil
	})
	sess := dialSession(t, rep)

	req, err := message.NewRequest(message.TypeGet, "client-1", "dcs.ra", nil)
	require.NoError(t, err)

	payload, err := sess.Send(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, 42.0, payload.Value)
}

func TestRequestSessionHandlerErrorBecomesRemoteError(t *testing.T) {
	_, rep := startServer(t, func(ctx context.Context, req message.Envelope) (*message.Payload, error) {
		return nil, errors.New("value out of range")
	})
	sess := dialSession(t, rep)

	req, err := message.NewRequest(message.TypeSet, "client-1", "dcs.ra", &message.Payload{Value: 1.0})
	require.NoError(t, err)

	_, err = sess.Send(context.Background(), req)
	require.Error(t, err)
	var remote *mktlerr.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Text, "out of range")
}

func TestRequestSessionRepTimeoutWhenHandlerHangs(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	_, rep := startServer(t, func(ctx context.Context, req message.Envelope) (*message.Payload, error) {
		<-release
		return &message.Payload{Value: 1.0}, nil
	})
	conn, err := transport.Dial(fmt.Sprintf("127.0.0.1:%d", rep.Port()))
	require.NoError(t, err)
	sess := NewRequestSession(conn, "client-1", 200*time.Millisecond, 50*time.Millisecond)
	t.Cleanup(func() { sess.Close() })

	req, err := message.NewRequest(message.TypeGet, "client-1", "dcs.ra", nil)
	require.NoError(t, err)

	_, err = sess.Send(context.Background(), req)
	var timeout *mktlerr.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "rep", timeout.Op)
}

func TestRequestSessionConcurrentRequestsDoNotCrossTalk(t *testing.T) {
	_, rep := startServer(t, func(ctx context.Context, req message.Envelope) (*message.Payload, error) {
		return &message.Payload{Value: req.Key}, nil
	})
	sess := dialSession(t, rep)

	keys := []string{"dcs.ra", "dcs.dec", "dcs.az", "dcs.el"}
	results := make(chan string, len(keys))
	for _, k := range keys {
		k := k
		go func() {
			req, err := message.NewRequest(message.TypeGet, "client-1", k, nil)
			require.NoError(t, err)
			payload, err := sess.Send(context.Background(), req)
			require.NoError(t, err)
			results <- payload.Value.(string)
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < len(keys); i++ {
		select {
		case v := <-results:
			seen[v] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent replies")
		}
	}
	for _, k := range keys {
		assert.True(t, seen[k])
	}
}

func TestPublishSessionFiltersByPrefix(t *testing.T) {
	pub, err := transport.NewPublishSocket("127.0.0.1", 21300, 21400, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pub.Stop() })

	sess, err := NewPublishSession(fmt.Sprintf("127.0.0.1:%d", pub.Port()), "dcs.")
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	require.Eventually(t, func() bool { return pub.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Non-matching topic must be filtered out client-side.
	other := message.NewPublish("daemon-1", "expmeter.counts", &message.Payload{Value: 1.0})
	otherFrames, err := wire.EncodePublish(codec.Default, other, nil)
	require.NoError(t, err)
	pub.Publish(otherFrames)

	match := message.NewPublish("daemon-1", "dcs.ra", &message.Payload{Value: 12.5})
	matchFrames, err := wire.EncodePublish(codec.Default, match, nil)
	require.NoError(t, err)
	pub.Publish(matchFrames)

	select {
	case update := <-sess.Updates():
		assert.Equal(t, "dcs.ra", update.Envelope.Key)
		assert.Equal(t, 12.5, update.Envelope.Payload.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for filtered update")
	}
}

func TestPublishSessionDeliversBulkFrame(t *testing.T) {
	pub, err := transport.NewPublishSocket("127.0.0.1", 21420, 21500, nil)
	require.NoError(t, err)
	t.Cleanup(func() { pub.Stop() })

	sess, err := NewPublishSession(fmt.Sprintf("127.0.0.1:%d", pub.Port()), "dcs.")
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	require.Eventually(t, func() bool { return pub.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	payload, bulk := message.ToPayload([]float64{1, 2, 3, 4}, 0)
	env := message.NewPublish("daemon-1", "dcs.spectrum", payload)
	frames, err := wire.EncodePublish(codec.Default, env, bulk)
	require.NoError(t, err)
	pub.Publish(frames)

	select {
	case update := <-sess.Updates():
		assert.Equal(t, "dcs.spectrum", update.Envelope.Key)
		require.NotNil(t, update.Bulk)
		value, err := message.RecreateValue(update.Envelope.Payload, update.Bulk)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3, 4}, value)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bulk update")
	}
}

func TestServeConnRepliesErrorOnProtocolVersionMismatch(t *testing.T) {
	_, rep := startServer(t, func(ctx context.Context, req message.Envelope) (*message.Payload, error) {
		return &message.Payload{Value: 1.0}, nil
	})
	conn, err := transport.Dial(fmt.Sprintf("127.0.0.1:%d", rep.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	req, err := message.NewRequest(message.TypeGet, "client-1", "dcs.ra", nil)
	require.NoError(t, err)
	frames, err := wire.EncodeRequest(codec.Default, "", req, nil)
	require.NoError(t, err)
	frames[0] = []byte{'z'} // corrupt the version byte only

	require.NoError(t, conn.SendFrames(frames))

	ackFrames, err := conn.RecvFrames()
	require.NoError(t, err)
	_, ack, _, err := wire.DecodeRequest(codec.Default, ackFrames, false)
	require.NoError(t, err) // ack itself carries the correct version byte
	assert.Equal(t, message.TypeAck, ack.Type)
	assert.Equal(t, req.TransID, ack.TransID)

	repFrames, err := conn.RecvFrames()
	require.NoError(t, err)
	_, repEnv, _, err := wire.DecodeRequest(codec.Default, repFrames, false)
	require.NoError(t, err)
	assert.Equal(t, message.TypeRep, repEnv.Type)
	assert.Equal(t, req.TransID, repEnv.TransID)
	require.NotNil(t, repEnv.Payload.Error)
	assert.Contains(t, repEnv.Payload.Error.Text, "mKTL protocol")
}
