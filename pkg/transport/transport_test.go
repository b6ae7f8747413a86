package transport

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
)

func TestBindAutoPortSkipsAvoided(t *testing.T) {
	blocker, blockedPort, err := BindAutoPort("127.0.0.1", 20100, 20110, nil, "rep")
	require.NoError(t, err)
	defer blocker.Close()

	avoid := map[int]bool{blockedPort: true}
	ln, port, err := BindAutoPort("127.0.0.1", 20100, 20110, avoid, "rep")
	require.NoError(t, err)
	defer ln.Close()

	assert.NotEqual(t, blockedPort, port)
}

func TestBindAutoPortExhaustion(t *testing.T) {
	_, _, err := BindAutoPort("127.0.0.1", 1, 1, map[int]bool{1: true}, "rep")
	var portErr *mktlerr.PortError
	require.ErrorAs(t, err, &portErr)
	assert.Equal(t, "rep", portErr.Role)
}

func TestReplySocketAcceptsAndEchoes(t *testing.T) {
	srv, err := NewReplySocket("127.0.0.1", 20200, 20250, nil)
	require.NoError(t, err)
	defer srv.Stop()

	client, err := Dial(fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SendFrames([][]byte{[]byte("hello")}))

	select {
	case serverSide := <-srv.Connections():
		frames, err := serverSide.RecvFrames()
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("hello")}, frames)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}

func TestReplySocketStopIsIdempotent(t *testing.T) {
	srv, err := NewReplySocket("127.0.0.1", 20300, 20350, nil)
	require.NoError(t, err)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
}

func TestPublishSocketFanOut(t *testing.T) {
	pub, err := NewPublishSocket("127.0.0.1", 20400, 20450, nil)
	require.NoError(t, err)
	defer pub.Stop()

	sub1, err := DialSubscribe(fmt.Sprintf("127.0.0.1:%d", pub.Port()))
	require.NoError(t, err)
	defer sub1.Close()

	sub2, err := DialSubscribe(fmt.Sprintf("127.0.0.1:%d", pub.Port()))
	require.NoError(t, err)
	defer sub2.Close()

	require.Eventually(t, func() bool {
		return pub.SubscriberCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	pub.Publish([][]byte{[]byte("dcs.ra."), []byte("payload")})

	for _, sub := range []*SubscribeSocket{sub1, sub2} {
		frames, err := sub.Recv()
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("dcs.ra."), []byte("payload")}, frames)
	}
}
