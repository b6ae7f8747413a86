package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStringValidatesKnownTypes(t *testing.T) {
	typ, err := FromString("GET")
	require.NoError(t, err)
	assert.Equal(t, TypeGet, typ)

	_, err = FromString("BOGUS")
	assert.Error(t, err)
}

func TestIsRequest(t *testing.T) {
	assert.True(t, TypeGet.IsRequest())
	assert.True(t, TypeSet.IsRequest())
	assert.False(t, TypeAck.IsRequest())
	assert.False(t, TypePub.IsRequest())
}

func TestNewRequestRejectsNonRequestType(t *testing.T) {
	_, err := NewRequest(TypeAck, "client-1", "dcs.ra", nil)
	assert.Error(t, err)
}

func TestRequestAckReplyCorrelation(t *testing.T) {
	req, err := NewRequest(TypeGet, "client-1", "dcs.ra", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, req.TransID)

	ack := NewAck(req, "daemon-1")
	assert.Equal(t, req.TransID, ack.TransID)
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, req.SourceID, ack.DestID)

	rep := NewReply(req, "daemon-1", &Payload{Value: 42.0})
	assert.Equal(t, req.TransID, rep.TransID)
	assert.Equal(t, TypeRep, rep.Type)
	assert.Equal(t, 42.0, rep.Payload.Value)
}

func TestNewErrorReply(t *testing.T) {
	req, err := NewRequest(TypeSet, "client-1", "dcs.ra", &Payload{Value: 1.0})
	require.NoError(t, err)

	rep := NewErrorReply(req, "daemon-1", "ValidationError", "out of range", "")
	require.NotNil(t, rep.Payload.Error)
	assert.Equal(t, "ValidationError", rep.Payload.Error.Type)
}

func TestNewPublish(t *testing.T) {
	pub := NewPublish("daemon-1", "dcs.ra", &Payload{Value: 1.5})
	assert.Equal(t, TypePub, pub.Type)
	assert.Equal(t, "dcs.ra", pub.Key)
	assert.NotEmpty(t, pub.TransID)
}
