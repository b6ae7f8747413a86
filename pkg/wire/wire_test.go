package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeckObservatory/mktl-go/pkg/codec"
	"github.com/KeckObservatory/mktl-go/pkg/message"
	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
)

func TestWriteReadFramesRoundtrip(t *testing.T) {
	frames := [][]byte{[]byte("a"), []byte(""), []byte("ccc")}

	var buf bytes.Buffer
	require.NoError(t, WriteFrames(&buf, frames))

	got, err := ReadFrames(&buf)
	require.NoError(t, err)
	assert.Equal(t, frames, got)
}

func TestEncodeDecodeRequestWithoutRoutingID(t *testing.T) {
	env, err := message.NewRequest(message.TypeGet, "client-1", "dcs.ra", nil)
	require.NoError(t, err)

	frames, err := EncodeRequest(codec.Default, "", env, nil)
	require.NoError(t, err)

	routingID, decoded, bulk, err := DecodeRequest(codec.Default, frames, false)
	require.NoError(t, err)
	assert.Empty(t, routingID)
	assert.Nil(t, bulk)
	assert.Equal(t, env.TransID, decoded.TransID)
	assert.Equal(t, env.Key, decoded.Key)
}

func TestEncodeDecodeRequestWithRoutingIDAndBulk(t *testing.T) {
	env, err := message.NewRequest(message.TypeSet, "client-1", "dcs.image", &message.Payload{Bulk: true})
	require.NoError(t, err)

	frames, err := EncodeRequest(codec.Default, "conn-42", env, []byte{1, 2, 3})
	require.NoError(t, err)

	routingID, decoded, bulk, err := DecodeRequest(codec.Default, frames, true)
	require.NoError(t, err)
	assert.Equal(t, "conn-42", routingID)
	assert.Equal(t, []byte{1, 2, 3}, bulk)
	assert.Equal(t, env.Key, decoded.Key)
}

func TestDecodeRequestVersionMismatch(t *testing.T) {
	env, err := message.NewRequest(message.TypeGet, "client-1", "dcs.ra", nil)
	require.NoError(t, err)
	frames, err := EncodeRequest(codec.Default, "", env, nil)
	require.NoError(t, err)

	frames[0][0] = 'z'

	_, _, _, err = DecodeRequest(codec.Default, frames, false)
	var mismatch *mktlerr.ProtocolVersionMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, byte('z'), mismatch.Got)
}

func TestEncodeDecodePublish(t *testing.T) {
	env := message.NewPublish("daemon-1", "dcs.ra", &message.Payload{Value: 1.5})

	frames, err := EncodePublish(codec.Default, env, nil)
	require.NoError(t, err)

	topic, decoded, bulk, err := DecodePublish(codec.Default, frames)
	require.NoError(t, err)
	assert.Equal(t, "dcs.ra.", topic)
	assert.Nil(t, bulk)
	assert.Equal(t, env.Key, decoded.Key)
}

func TestTopicMatches(t *testing.T) {
	assert.True(t, TopicMatches("dcs.", "dcs.ra."))
	assert.False(t, TopicMatches("dcs.", "dcsx.ra."))
	assert.True(t, TopicMatches("", "anything."))
}
