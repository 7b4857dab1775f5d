package control

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMsg_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := EncodeU32Payload(1, 2, 3)
	require.NoError(t, WriteMsg(&buf, Msg{ID: SetSystemVolume, Payload: payload}))

	got, err := ReadMsg(&buf, 64)
	require.NoError(t, err)
	assert.Equal(t, SetSystemVolume, got.ID)

	vals, err := DecodeU32Payload(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, vals)
}

func TestReadMsg_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMsg(&buf, Msg{ID: ConnectStream, Payload: make([]byte, 100)}))

	_, err := ReadMsg(&buf, 16)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestReadMsg_TruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMsg(&buf, Msg{ID: ConnectStream, Payload: make([]byte, 32)}))
	truncated := bytes.NewReader(buf.Bytes()[:len(buf.Bytes())-10])

	_, err := ReadMsg(truncated, 64)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeU32Payload_RejectsUnalignedLength(t *testing.T) {
	_, err := DecodeU32Payload([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestMsgID_String(t *testing.T) {
	assert.Equal(t, "CONNECT_STREAM", ConnectStream.String())
	assert.Equal(t, "UNKNOWN", MsgID(9999).String())
}
